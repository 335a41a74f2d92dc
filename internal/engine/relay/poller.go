package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"hookrelay/internal/engine/broker"
	"hookrelay/internal/engine/history"
	"hookrelay/internal/pkg/keylock"
	"hookrelay/internal/platform/config"
	"hookrelay/internal/platform/models"
)

const (
	defaultBatchLimit = 50
	defaultPollLease  = 10 * time.Minute
)

type RelayStore interface {
	GetByID(ctx context.Context, id string) (*models.Relay, error)
	ListAll(ctx context.Context) ([]*models.Relay, error)
	UpdateCounters(ctx context.Context, id string, mutate func(*models.Relay)) (*models.Relay, error)
	AcquirePollLease(ctx context.Context, id, owner string, now, until int64) (bool, error)
	RenewPollLease(ctx context.Context, id, owner string, until int64) (bool, error)
	ReleasePollLease(ctx context.Context, id, owner string) error
}

type Broker interface {
	ListPendingCalls(ctx context.Context, webhookUUID string, since *time.Time, limit int) ([]broker.CapturedCall, error)
	MarkConsumed(ctx context.Context, webhookUUID, callUUID string) error
}

type HistoryStore interface {
	Append(ctx context.Context, scope string, entry *history.Entry) error
	Evict(ctx context.Context, scope string, keep int) (int64, error)
	Get(ctx context.Context, scope, recordID string) (*history.Entry, error)
	LatestForCall(ctx context.Context, scope, callUUID string) (*history.Entry, error)
}

// PollResult summarizes one cycle. TotalCount is the number of calls the
// broker returned; Errors carries per-call and remote failures as warnings.
type PollResult struct {
	RelayID      string   `json:"relay_id"`
	RelayedCount int      `json:"relayed_count"`
	TotalCount   int      `json:"total_count"`
	Errors       []string `json:"errors"`
}

func (r *PollResult) warn(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Poller runs poll cycles: fetch pending calls from the broker, forward or
// capture each one, record history and update relay counters. Cycles for one
// relay are serialized in-process by a lock and across processes by a poll
// lease stored on the relay row.
type Poller struct {
	relays    RelayStore
	broker    Broker
	forwarder Forwarder
	history   HistoryStore

	retention       int
	batchLimit      int
	interRelayDelay time.Duration

	cycles *keylock.Locker
	owner  string
	lease  time.Duration
	now    func() time.Time
}

func NewPoller(relays RelayStore, b Broker, f Forwarder, h HistoryStore, cfg config.RelayConfig) *Poller {
	p := &Poller{
		relays:          relays,
		broker:          b,
		forwarder:       f,
		history:         h,
		retention:       cfg.Retention,
		batchLimit:      cfg.BatchLimit,
		interRelayDelay: cfg.InterRelayDelay,
		cycles:          keylock.New(),
		owner:           uuid.NewString(),
		lease:           cfg.PollLease,
		now:             time.Now,
	}
	if p.lease <= 0 {
		p.lease = defaultPollLease
	}
	if p.retention <= 0 {
		p.retention = history.DefaultRetention
	}
	if p.batchLimit <= 0 {
		p.batchLimit = defaultBatchLimit
	}
	return p
}

// cycleDelta accumulates what a cycle changes on the relay so it can be
// applied on top of the freshest stored row.
type cycleDelta struct {
	checkedAt    *int64
	relayed      int
	failed       int
	lastRelayed  *int64
	lastError    *string
	pendingSince *int64
	trackPending bool
}

func (d *cycleDelta) setError(msg string) {
	d.lastError = &msg
}

func (d *cycleDelta) clearError() {
	empty := ""
	d.lastError = &empty
}

func (d *cycleDelta) leftPending(call *broker.CapturedCall, since *time.Time) {
	d.holdAt(call.CreatedAt.Time, since)
}

// fullBatch keeps the cursor at the newest call of a batch that hit the
// limit: the broker may hold more calls created before this cycle started,
// and they must not fall behind last_checked. One millisecond is taken off
// so a broker comparing with "after" still returns calls sharing that time.
func (d *cycleDelta) fullBatch(calls []broker.CapturedCall, since *time.Time) {
	var newest time.Time
	for i := range calls {
		if calls[i].CreatedAt.After(newest) {
			newest = calls[i].CreatedAt.Time
		}
	}
	if !newest.IsZero() {
		newest = newest.Add(-time.Millisecond)
	}
	d.holdAt(newest, since)
}

// holdAt lowers the pending cursor to at, or to since when at is unknown.
func (d *cycleDelta) holdAt(at time.Time, since *time.Time) {
	var ms int64
	switch {
	case !at.IsZero():
		ms = at.UnixMilli()
	case since != nil:
		ms = since.UnixMilli()
	}
	if d.pendingSince == nil || ms < *d.pendingSince {
		d.pendingSince = &ms
	}
}

func (d *cycleDelta) apply(r *models.Relay) {
	if d.checkedAt != nil {
		r.LastChecked = d.checkedAt
	}
	r.RelayCount += d.relayed
	r.ErrorCount += d.failed
	if d.lastRelayed != nil {
		r.LastRelayed = d.lastRelayed
	}
	if d.lastError != nil {
		r.LastError = *d.lastError
	}
	if d.trackPending {
		r.PendingSince = d.pendingSince
	}
}

// Poll runs one cycle for a relay on demand. Unlike scheduled polling it
// ignores polling_enabled, but a disabled relay is rejected.
func (p *Poller) Poll(ctx context.Context, relayID string) (*PollResult, error) {
	return p.poll(ctx, relayID, false)
}

func (p *Poller) poll(ctx context.Context, relayID string, scheduled bool) (*PollResult, error) {
	unlock := p.cycles.Lock(relayID)
	defer unlock()

	now := p.now()
	held, err := p.relays.AcquirePollLease(ctx, relayID, p.owner, now.UnixMilli(), now.Add(p.lease).UnixMilli())
	if err != nil {
		return nil, err
	}
	if !held {
		relay, err := p.relays.GetByID(ctx, relayID)
		if err != nil {
			return nil, err
		}
		if relay == nil {
			return nil, relayNotFound(relayID)
		}
		log.Info().Str("relay_id", relayID).Msg("Relay is being polled elsewhere; skipping")
		return &PollResult{RelayID: relayID, Errors: []string{ErrPollInProgress.Error()}}, nil
	}
	defer func() {
		if err := p.relays.ReleasePollLease(context.WithoutCancel(ctx), relayID, p.owner); err != nil {
			log.Warn().Err(err).Str("relay_id", relayID).Msg("Failed to release poll lease")
		}
	}()

	// Read after taking the lease so since reflects the previous cycle.
	relay, err := p.relays.GetByID(ctx, relayID)
	if err != nil {
		return nil, err
	}
	if relay == nil {
		return nil, relayNotFound(relayID)
	}
	if !relay.Enabled {
		return nil, configError("relay %s is disabled", relayID)
	}
	if scheduled && !relay.PollingEnabled {
		return &PollResult{RelayID: relayID, Errors: []string{}}, nil
	}
	if relay.WebhookUUID == "" {
		return nil, configError("relay %s has no webhook endpoint", relayID)
	}
	if !relay.CaptureOnly && relay.RelayToURL == "" {
		return nil, configError("relay %s has no relay_to_url", relayID)
	}

	return p.cycle(ctx, relay), nil
}

func (p *Poller) cycle(ctx context.Context, relay *models.Relay) *PollResult {
	logger := log.With().Str("relay_id", relay.ID).Logger()
	result := &PollResult{RelayID: relay.ID, Errors: []string{}}

	checkedAt := p.now().UnixMilli()
	delta := &cycleDelta{checkedAt: &checkedAt}

	since := pollSince(relay)
	calls, err := p.broker.ListPendingCalls(ctx, relay.WebhookUUID, since, p.batchLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list pending calls")
		result.warn("%v", err)
		delta.setError(err.Error())
		p.persist(ctx, relay.ID, delta, result)
		return result
	}

	result.TotalCount = len(calls)
	delta.trackPending = true

	if len(calls) >= p.batchLimit {
		delta.fullBatch(calls, since)
	}

	for i := range calls {
		call := &calls[i]
		if call.Relayed() {
			continue
		}

		if !p.renewLease(ctx, relay.ID, result) {
			for j := i; j < len(calls); j++ {
				if !calls[j].Relayed() {
					delta.leftPending(&calls[j], since)
				}
			}
			break
		}

		if p.reconcile(ctx, relay, call, since, delta, result) {
			continue
		}

		if relay.CaptureOnly {
			p.capture(ctx, relay, call, since, delta, result)
			continue
		}
		p.forwardAndRecord(ctx, relay, call, false, since, delta, result)
	}

	p.persist(ctx, relay.ID, delta, result)

	logger.Info().
		Int("total", result.TotalCount).
		Int("relayed", result.RelayedCount).
		Int("errors", len(result.Errors)).
		Msg("Poll cycle finished")
	return result
}

// renewLease extends the poll lease before a call is handled. A lease that
// expired and passed to another process stops the cycle.
func (p *Poller) renewLease(ctx context.Context, relayID string, result *PollResult) bool {
	held, err := p.relays.RenewPollLease(ctx, relayID, p.owner, p.now().Add(p.lease).UnixMilli())
	if err != nil {
		log.Warn().Err(err).Str("relay_id", relayID).Msg("Failed to renew poll lease")
		result.warn("renew poll lease: %v", err)
		return false
	}
	if !held {
		log.Warn().Str("relay_id", relayID).Msg("Poll lease lost")
		result.warn("%v", ErrPollInProgress)
		return false
	}
	return true
}

// pollSince resumes from the oldest call a previous cycle left pending, else
// from the last check. nil means fetch everything.
func pollSince(relay *models.Relay) *time.Time {
	from := relay.LastChecked
	if relay.PendingSince != nil && (from == nil || *relay.PendingSince < *from) {
		from = relay.PendingSince
	}
	if from == nil {
		return nil
	}
	t := time.UnixMilli(*from)
	return &t
}

// reconcile handles a call the broker still reports pending although local
// history already delivered it: only the consume is retried.
func (p *Poller) reconcile(ctx context.Context, relay *models.Relay, call *broker.CapturedCall, since *time.Time, delta *cycleDelta, result *PollResult) bool {
	prior, err := p.history.LatestForCall(ctx, history.RelayScope(relay.ID), call.WebhookCallUUID)
	if err != nil {
		log.Warn().Err(err).Str("relay_id", relay.ID).Str("call", call.WebhookCallUUID).Msg("History lookup failed")
		return false
	}
	if prior == nil || !prior.Status.Delivered() {
		return false
	}

	if err := p.broker.MarkConsumed(ctx, relay.WebhookUUID, call.WebhookCallUUID); err != nil {
		log.Warn().Err(err).Str("relay_id", relay.ID).Str("call", call.WebhookCallUUID).Msg("Failed to mark delivered call consumed")
		result.warn("call %s: mark consumed: %v", call.WebhookCallUUID, err)
		delta.setError(err.Error())
		delta.leftPending(call, since)
	}
	return true
}

func (p *Poller) capture(ctx context.Context, relay *models.Relay, call *broker.CapturedCall, since *time.Time, delta *cycleDelta, result *PollResult) {
	if err := p.broker.MarkConsumed(ctx, relay.WebhookUUID, call.WebhookCallUUID); err != nil {
		log.Warn().Err(err).Str("relay_id", relay.ID).Str("call", call.WebhookCallUUID).Msg("Failed to consume captured call")
		result.warn("call %s: mark consumed: %v", call.WebhookCallUUID, err)
		delta.setError(err.Error())
		delta.leftPending(call, since)
		return
	}

	now := p.now().UnixMilli()
	delta.relayed++
	delta.lastRelayed = &now
	delta.clearError()
	result.RelayedCount++

	entry := newEntry(relay, call, history.StatusCaptured, false)
	p.append(ctx, relay.ID, entry, result)
}

// forwardAndRecord delivers a call to the relay target, appends the outcome
// and, on success, consumes the call at the broker. Manual replays share this
// path but never move the pending cursor.
func (p *Poller) forwardAndRecord(ctx context.Context, relay *models.Relay, call *broker.CapturedCall, manual bool, since *time.Time, delta *cycleDelta, result *PollResult) (*history.Entry, error) {
	logger := log.With().Str("relay_id", relay.ID).Str("call", call.WebhookCallUUID).Logger()

	res := p.forwarder.Forward(ctx, call, relay.RelayToURL)

	status := history.StatusFailed
	if res.Success {
		status = history.StatusSuccess
	}
	entry := newEntry(relay, call, status, manual)
	duration := res.DurationMs
	entry.DurationMs = &duration
	if res.StatusCode > 0 {
		entry.Response = &history.Response{StatusCode: res.StatusCode, Body: res.ResponseBody}
	}

	if !res.Success {
		entry.Error = res.Error
		logger.Warn().Str("status", string(status)).Str("error", res.Error).Msg("Forward failed")
		delta.failed++
		delta.setError(res.Error)
		if !manual {
			delta.leftPending(call, since)
		}
		result.warn("call %s: %s", call.WebhookCallUUID, res.Error)
		return entry, p.append(ctx, relay.ID, entry, result)
	}

	now := p.now().UnixMilli()
	delta.relayed++
	delta.lastRelayed = &now
	delta.clearError()
	result.RelayedCount++
	logger.Debug().Int("status_code", res.StatusCode).Int64("duration_ms", res.DurationMs).Msg("Forwarded call")

	// Recorded before consuming so a failed consume is reconciled next cycle
	// instead of forwarding again.
	appendErr := p.append(ctx, relay.ID, entry, result)

	if err := p.broker.MarkConsumed(ctx, relay.WebhookUUID, call.WebhookCallUUID); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark forwarded call consumed")
		result.warn("call %s: mark consumed: %v", call.WebhookCallUUID, err)
		delta.setError(err.Error())
		if !manual {
			delta.leftPending(call, since)
		}
	}
	return entry, appendErr
}

// append records an entry and trims the scope back to the retention limit.
// A failed append is logged and reported as a warning; the cycle goes on with
// the remaining calls.
func (p *Poller) append(ctx context.Context, relayID string, entry *history.Entry, result *PollResult) error {
	scope := history.RelayScope(relayID)
	err := p.history.Append(ctx, scope, entry)
	if err != nil {
		log.Error().Err(err).Str("relay_id", relayID).Str("call", entry.WebhookCallUUID).Msg("Failed to append history")
		result.warn("call %s: %v", entry.WebhookCallUUID, err)
		return err
	}

	if _, err := p.history.Evict(ctx, scope, p.retention); err != nil {
		log.Warn().Err(err).Str("relay_id", relayID).Msg("Failed to evict history")
		result.warn("%v", err)
	}
	return nil
}

func (p *Poller) persist(ctx context.Context, relayID string, delta *cycleDelta, result *PollResult) {
	if _, err := p.relays.UpdateCounters(ctx, relayID, delta.apply); err != nil {
		log.Error().Err(err).Str("relay_id", relayID).Msg("Failed to update relay counters")
		result.warn("update relay: %v", err)
	}
}

func newEntry(relay *models.Relay, call *broker.CapturedCall, status history.Status, manual bool) *history.Entry {
	headers := make(map[string]string, len(call.Headers))
	for name, value := range call.Headers {
		headers[name] = value
	}
	return &history.Entry{
		WebhookCallUUID: call.WebhookCallUUID,
		RelayID:         relay.ID,
		RelayToURL:      relay.RelayToURL,
		CaptureOnly:     relay.CaptureOnly,
		Status:          status,
		Manual:          manual,
		Request: history.Request{
			Method:    call.Method,
			Headers:   headers,
			Body:      string(call.Body),
			IP:        call.IP,
			UserAgent: call.UserAgent,
		},
	}
}

// callFromEntry rebuilds the broker call a history entry was recorded from.
func callFromEntry(e *history.Entry) *broker.CapturedCall {
	headers := make(broker.Headers, len(e.Request.Headers))
	for name, value := range e.Request.Headers {
		headers[name] = value
	}
	return &broker.CapturedCall{
		WebhookCallUUID: e.WebhookCallUUID,
		Method:          e.Request.Method,
		Headers:         headers,
		Body:            broker.Body(e.Request.Body),
		IP:              e.Request.IP,
		UserAgent:       e.Request.UserAgent,
		Status:          broker.CallRelayed,
	}
}

// RelayAgain forwards the call behind a recorded history entry once more and
// records the attempt as a new manual entry.
func (p *Poller) RelayAgain(ctx context.Context, relayID, recordID string) (*history.Entry, error) {
	unlock := p.cycles.Lock(relayID)
	defer unlock()

	relay, err := p.relays.GetByID(ctx, relayID)
	if err != nil {
		return nil, err
	}
	if relay == nil {
		return nil, relayNotFound(relayID)
	}
	if relay.CaptureOnly {
		return nil, configError("relay %s is capture-only; nothing to relay", relayID)
	}
	if relay.RelayToURL == "" {
		return nil, configError("relay %s has no relay_to_url", relayID)
	}

	prior, err := p.history.Get(ctx, history.RelayScope(relayID), recordID)
	if err != nil {
		return nil, err
	}

	result := &PollResult{RelayID: relayID}
	delta := &cycleDelta{}
	entry, appendErr := p.forwardAndRecord(ctx, relay, callFromEntry(prior), true, nil, delta, result)
	p.persist(ctx, relayID, delta, result)

	if appendErr != nil {
		return entry, appendErr
	}
	return entry, nil
}

// PollAll runs a cycle for every pollable relay. Cycles run concurrently,
// started inter_relay_delay apart. Results come back in relay order; relays
// that could not be polled carry the reason in Errors.
func (p *Poller) PollAll(ctx context.Context) ([]*PollResult, error) {
	relays, err := p.relays.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var pollable []*models.Relay
	for _, r := range relays {
		if r.Pollable() {
			pollable = append(pollable, r)
		}
	}

	results := make([]*PollResult, len(pollable))
	var g errgroup.Group

	for i, r := range pollable {
		if i > 0 && p.interRelayDelay > 0 {
			select {
			case <-ctx.Done():
				g.Wait()
				return compact(results), ctx.Err()
			case <-time.After(p.interRelayDelay):
			}
		}

		g.Go(func() error {
			res, err := p.poll(ctx, r.ID, true)
			if err != nil {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					log.Error().Err(err).Str("relay_id", r.ID).Msg("Poll cycle failed")
				}
				res = &PollResult{RelayID: r.ID, Errors: []string{err.Error()}}
			}
			results[i] = res
			return nil
		})
	}

	g.Wait()
	return results, nil
}

func compact(results []*PollResult) []*PollResult {
	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
