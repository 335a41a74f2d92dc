package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hookrelay/internal/pkg/keylock"
	"hookrelay/internal/platform/models"
)

const relayColumns = `id, project_id, description, webhook_uuid, webhook_url, relay_to_url,
	capture_only, enabled, polling_enabled, last_checked, last_relayed, pending_since,
	last_error, relay_count, error_count, created_at, updated_at`

// RelayRepository is the settings store for relay metadata.
type RelayRepository struct {
	db    *sql.DB
	locks *keylock.Locker
}

func NewRelayRepository(db *sql.DB) *RelayRepository {
	return &RelayRepository{db: db, locks: keylock.New()}
}

func (r *RelayRepository) Create(ctx context.Context, relay *models.Relay) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO relays (`+relayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, relay.ID, relay.ProjectID, relay.Description, relay.WebhookUUID, relay.WebhookURL, relay.RelayToURL,
		relay.CaptureOnly, relay.Enabled, relay.PollingEnabled, relay.LastChecked, relay.LastRelayed, relay.PendingSince,
		relay.LastError, relay.RelayCount, relay.ErrorCount, relay.CreatedAt, relay.UpdatedAt)
	return err
}

// GetByID returns nil, nil when the relay does not exist.
func (r *RelayRepository) GetByID(ctx context.Context, id string) (*models.Relay, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+relayColumns+` FROM relays WHERE id = ?`, id)
	relay, err := scanRelay(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return relay, nil
}

func (r *RelayRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Relay, error) {
	return r.list(ctx, `SELECT `+relayColumns+` FROM relays WHERE project_id = ? ORDER BY created_at ASC`, projectID)
}

func (r *RelayRepository) ListAll(ctx context.Context) ([]*models.Relay, error) {
	return r.list(ctx, `SELECT `+relayColumns+` FROM relays ORDER BY created_at ASC`)
}

func (r *RelayRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Relay, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relays []*models.Relay
	for rows.Next() {
		relay, err := scanRelay(rows)
		if err != nil {
			return nil, err
		}
		relays = append(relays, relay)
	}
	return relays, rows.Err()
}

// Update writes the user-editable fields.
func (r *RelayRepository) Update(ctx context.Context, relay *models.Relay) error {
	unlock := r.locks.Lock(relay.ID)
	defer unlock()

	relay.UpdatedAt = time.Now().UnixMilli()
	res, err := r.db.ExecContext(ctx, `
		UPDATE relays SET
			description = ?, relay_to_url = ?, capture_only = ?,
			enabled = ?, polling_enabled = ?, updated_at = ?
		WHERE id = ?
	`, relay.Description, relay.RelayToURL, relay.CaptureOnly, relay.Enabled, relay.PollingEnabled, relay.UpdatedAt, relay.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, relay.ID)
}

// UpdateCounters re-reads the relay, applies mutate and writes back the
// poller-owned fields, all inside one transaction under the relay's writer
// lock. mutate should apply deltas so overlapping cycles never lose an
// increment. It returns the stored relay.
func (r *RelayRepository) UpdateCounters(ctx context.Context, id string, mutate func(*models.Relay)) (*models.Relay, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	relay, err := scanRelay(tx.QueryRowContext(ctx, `SELECT `+relayColumns+` FROM relays WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("relay %s: %w", id, ErrNotFound)
		}
		return nil, err
	}

	mutate(relay)

	_, err = tx.ExecContext(ctx, `
		UPDATE relays SET
			last_checked = ?, last_relayed = ?, pending_since = ?, last_error = ?,
			relay_count = ?, error_count = ?, enabled = ?, polling_enabled = ?
		WHERE id = ?
	`, relay.LastChecked, relay.LastRelayed, relay.PendingSince, relay.LastError,
		relay.RelayCount, relay.ErrorCount, relay.Enabled, relay.PollingEnabled, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return relay, nil
}

// AcquirePollLease claims the relay's poll lease for owner until the given
// unix-ms time. It returns false when another owner holds a lease that has
// not expired at now, or when the relay does not exist. The conditional
// update is atomic across processes sharing the database file.
func (r *RelayRepository) AcquirePollLease(ctx context.Context, id, owner string, now, until int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE relays SET poll_lease_owner = ?, poll_lease_until = ?
		WHERE id = ? AND (poll_lease_until IS NULL OR poll_lease_until < ? OR poll_lease_owner = ?)
	`, owner, until, id, now, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RenewPollLease extends a lease owner still holds. It returns false once the
// lease has passed to someone else.
func (r *RelayRepository) RenewPollLease(ctx context.Context, id, owner string, until int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE relays SET poll_lease_until = ? WHERE id = ? AND poll_lease_owner = ?`,
		until, id, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *RelayRepository) ReleasePollLease(ctx context.Context, id, owner string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE relays SET poll_lease_owner = NULL, poll_lease_until = NULL WHERE id = ? AND poll_lease_owner = ?`,
		id, owner)
	return err
}

func (r *RelayRepository) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM relays WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

var ErrNotFound = errors.New("not found")

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("relay %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanRelay(s interface {
	Scan(dest ...interface{}) error
}) (*models.Relay, error) {
	var relay models.Relay
	var lastChecked, lastRelayed, pendingSince sql.NullInt64

	err := s.Scan(
		&relay.ID,
		&relay.ProjectID,
		&relay.Description,
		&relay.WebhookUUID,
		&relay.WebhookURL,
		&relay.RelayToURL,
		&relay.CaptureOnly,
		&relay.Enabled,
		&relay.PollingEnabled,
		&lastChecked,
		&lastRelayed,
		&pendingSince,
		&relay.LastError,
		&relay.RelayCount,
		&relay.ErrorCount,
		&relay.CreatedAt,
		&relay.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastChecked.Valid {
		val := lastChecked.Int64
		relay.LastChecked = &val
	}
	if lastRelayed.Valid {
		val := lastRelayed.Int64
		relay.LastRelayed = &val
	}
	if pendingSince.Valid {
		val := pendingSince.Int64
		relay.PendingSince = &val
	}
	return &relay, nil
}
