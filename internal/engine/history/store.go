package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"hookrelay/internal/pkg/keylock"
)

// DefaultRetention is the number of records Evict keeps when given keep <= 0.
const DefaultRetention = 50

const defaultPageSize = 25

func RelayScope(relayID string) string {
	return "relay:" + relayID
}

func ProjectScope(projectID string) string {
	return "project:" + projectID
}

// Store persists history records in SQLite, one collection per scope.
// Writers to a scope (Append, UpdateField, Evict, DeleteScope) hold the
// scope's exclusive lock for the whole operation and write inside a single
// transaction, so readers only ever see complete records.
type Store struct {
	db       *sql.DB
	locks    *keylock.Locker
	pageSize int

	mu       sync.Mutex
	lastNano int64
}

type Option func(*Store)

// WithPageSize sets how many records List fetches per query.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		locks:    keylock.New(),
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextKey returns a record id that sorts after every id this store handed out
// before: zero-padded unix nanos, bumped when the clock does not advance,
// plus a random suffix.
func (s *Store) nextKey() (string, time.Time) {
	s.mu.Lock()
	n := time.Now().UnixNano()
	if n <= s.lastNano {
		n = s.lastNano + 1
	}
	s.lastNano = n
	s.mu.Unlock()

	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%019d-%s", n, suffix), time.Unix(0, n)
}

// Append stores entry as a new record and sets its ID (and Timestamp when
// unset).
func (s *Store) Append(ctx context.Context, scope string, entry *Entry) error {
	unlock := s.locks.Lock(scope)
	defer unlock()

	id, created := s.nextKey()
	entry.ID = id
	if entry.Timestamp == 0 {
		entry.Timestamp = created.UnixMilli()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return &StorageError{Op: "append", Scope: scope, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "append", Scope: scope, Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO history_records (scope, record_id, call_ref, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, scope, id, entry.WebhookCallUUID, string(payload), created.UnixMilli())
	if err != nil {
		return &StorageError{Op: "append", Scope: scope, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "append", Scope: scope, Err: err}
	}
	return nil
}

// List yields up to limit records of scope, newest first. limit <= 0 yields
// every record. Records are fetched page by page as the caller ranges, and
// ranging again starts a fresh query. A record that cannot be decoded is
// yielded as a StorageError; iteration continues unless the caller stops.
func (s *Store) List(ctx context.Context, scope string, limit int) iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		remaining := limit
		cursor := ""

		for {
			size := s.pageSize
			if limit > 0 {
				if remaining <= 0 {
					return
				}
				if remaining < size {
					size = remaining
				}
			}

			ids, payloads, err := s.page(ctx, scope, cursor, size)
			if err != nil {
				yield(nil, &StorageError{Op: "list", Scope: scope, Err: err})
				return
			}

			for i := range ids {
				entry, err := decode(ids[i], payloads[i])
				if err != nil {
					if !yield(nil, &StorageError{Op: "list", Scope: scope, Err: err}) {
						return
					}
					continue
				}
				if !yield(entry, nil) {
					return
				}
			}

			if len(ids) < size {
				return
			}
			cursor = ids[len(ids)-1]
			remaining -= len(ids)
		}
	}
}

// page reads one page fully before returning so no rows stay open while the
// caller's loop body runs.
func (s *Store) page(ctx context.Context, scope, before string, size int) ([]string, []string, error) {
	query := `SELECT record_id, payload FROM history_records WHERE scope = ? ORDER BY record_id DESC LIMIT ?`
	args := []interface{}{scope, size}
	if before != "" {
		query = `SELECT record_id, payload FROM history_records WHERE scope = ? AND record_id < ? ORDER BY record_id DESC LIMIT ?`
		args = []interface{}{scope, before, size}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids, payloads []string
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		payloads = append(payloads, payload)
	}
	return ids, payloads, rows.Err()
}

// Collect drains a List sequence, stopping at the first error.
func Collect(seq iter.Seq2[*Entry, error]) ([]*Entry, error) {
	var entries []*Entry
	for entry, err := range seq {
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) Get(ctx context.Context, scope, recordID string) (*Entry, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM history_records WHERE scope = ? AND record_id = ?`,
		scope, recordID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", scope, recordID, ErrNotFound)
		}
		return nil, &StorageError{Op: "get", Scope: scope, Err: err}
	}

	entry, err := decode(recordID, payload)
	if err != nil {
		return nil, &StorageError{Op: "get", Scope: scope, Err: err}
	}
	return entry, nil
}

// LatestForCall returns the newest record for a broker call, or nil when the
// scope holds none.
func (s *Store) LatestForCall(ctx context.Context, scope, callUUID string) (*Entry, error) {
	var id, payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, payload FROM history_records
		WHERE scope = ? AND call_ref = ?
		ORDER BY record_id DESC LIMIT 1
	`, scope, callUUID).Scan(&id, &payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StorageError{Op: "lookup", Scope: scope, Err: err}
	}

	entry, err := decode(id, payload)
	if err != nil {
		return nil, &StorageError{Op: "lookup", Scope: scope, Err: err}
	}
	return entry, nil
}

// UpdateField applies mutate to a record as one read-modify-write under the
// scope lock. If mutate fails, or the result cannot be encoded, nothing is
// written. A mutator returning ErrNoChange skips the write without error.
func (s *Store) UpdateField(ctx context.Context, scope, recordID string, mutate func(*Entry) error) (*Entry, error) {
	unlock := s.locks.Lock(scope)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "update", Scope: scope, Err: err}
	}
	defer tx.Rollback()

	var payload string
	err = tx.QueryRowContext(ctx,
		`SELECT payload FROM history_records WHERE scope = ? AND record_id = ?`,
		scope, recordID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", scope, recordID, ErrNotFound)
		}
		return nil, &StorageError{Op: "update", Scope: scope, Err: err}
	}

	entry, err := decode(recordID, payload)
	if err != nil {
		return nil, &StorageError{Op: "update", Scope: scope, Err: err}
	}

	if err := mutate(entry); err != nil {
		if errors.Is(err, ErrNoChange) {
			return entry, nil
		}
		return nil, err
	}
	entry.ID = recordID

	updated, err := json.Marshal(entry)
	if err != nil {
		return nil, &StorageError{Op: "update", Scope: scope, Err: err}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE history_records SET payload = ? WHERE scope = ? AND record_id = ?`,
		string(updated), scope, recordID)
	if err != nil {
		return nil, &StorageError{Op: "update", Scope: scope, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return nil, &StorageError{Op: "update", Scope: scope, Err: err}
	}
	return entry, nil
}

// Evict deletes all but the keep newest records of scope and returns how many
// were removed.
func (s *Store) Evict(ctx context.Context, scope string, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultRetention
	}

	unlock := s.locks.Lock(scope)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM history_records
		WHERE scope = ? AND record_id NOT IN (
			SELECT record_id FROM history_records
			WHERE scope = ?
			ORDER BY record_id DESC
			LIMIT ?
		)
	`, scope, scope, keep)
	if err != nil {
		return 0, &StorageError{Op: "evict", Scope: scope, Err: err}
	}

	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) Count(ctx context.Context, scope string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_records WHERE scope = ?`, scope).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "count", Scope: scope, Err: err}
	}
	return n, nil
}

// DeleteScope removes every record of scope.
func (s *Store) DeleteScope(ctx context.Context, scope string) error {
	unlock := s.locks.Lock(scope)
	defer unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM history_records WHERE scope = ?`, scope); err != nil {
		return &StorageError{Op: "delete", Scope: scope, Err: err}
	}
	return nil
}

func decode(id, payload string) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	entry.ID = id
	return &entry, nil
}
