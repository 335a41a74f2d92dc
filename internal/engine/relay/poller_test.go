package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hookrelay/internal/engine/broker"
	"hookrelay/internal/engine/history"
	"hookrelay/internal/platform/config"
	"hookrelay/internal/platform/database"
	"hookrelay/internal/platform/models"
	"hookrelay/internal/platform/repositories"
)

type fakeBroker struct {
	mu        sync.Mutex
	calls     []broker.CapturedCall
	listErr   error
	createErr error
	markErr   map[string]error
	consumed  []string
	sinceSeen []*time.Time
	created   int
	deleted   []string
}

func (b *fakeBroker) ListPendingCalls(ctx context.Context, webhookUUID string, since *time.Time, limit int) ([]broker.CapturedCall, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinceSeen = append(b.sinceSeen, since)
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]broker.CapturedCall, len(b.calls))
	copy(out, b.calls)
	return out, nil
}

func (b *fakeBroker) MarkConsumed(ctx context.Context, webhookUUID, callUUID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.markErr[callUUID]; err != nil {
		return err
	}
	for i := range b.calls {
		if b.calls[i].WebhookCallUUID == callUUID {
			b.calls[i].Status = broker.CallRelayed
		}
	}
	b.consumed = append(b.consumed, callUUID)
	return nil
}

func (b *fakeBroker) CreateRelayEndpoint(ctx context.Context) (*broker.Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	b.created++
	return &broker.Endpoint{WebhookUUID: "wh-new", WebhookURL: "https://broker.test/h/wh-new"}, nil
}

func (b *fakeBroker) DeleteRelayEndpoint(ctx context.Context, webhookUUID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, webhookUUID)
	return nil
}

func (b *fakeBroker) consumedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumed)
}

type panicForwarder struct{ t *testing.T }

func (f panicForwarder) Forward(ctx context.Context, call *broker.CapturedCall, targetURL string) *ForwardResult {
	f.t.Errorf("Forward called for %s", call.WebhookCallUUID)
	return &ForwardResult{}
}

type fixture struct {
	relays *repositories.RelayRepository
	store  *history.Store
	broker *fakeBroker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return openFixture(t, filepath.Join(t.TempDir(), "relay.db"))
}

// openFixture opens its own handle on path, the way a second hookrelay
// process sharing the database would.
func openFixture(t *testing.T, path string) *fixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:           path,
		MaxConnections: 4,
	})
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	if _, err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return &fixture{
		relays: repositories.NewRelayRepository(db),
		store:  history.NewStore(db),
		broker: &fakeBroker{},
	}
}

func (f *fixture) addRelay(t *testing.T, targetURL string, mutate func(*models.Relay)) *models.Relay {
	t.Helper()
	now := time.Now().UnixMilli()
	r := &models.Relay{
		ID:             "rly-" + t.Name(),
		ProjectID:      "proj-1",
		WebhookUUID:    "wh-1",
		WebhookURL:     "https://broker.test/h/wh-1",
		RelayToURL:     targetURL,
		Enabled:        true,
		PollingEnabled: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if mutate != nil {
		mutate(r)
	}
	if err := f.relays.Create(context.Background(), r); err != nil {
		t.Fatalf("Failed to create relay: %v", err)
	}
	return r
}

func (f *fixture) poller(fw Forwarder) *Poller {
	return NewPoller(f.relays, f.broker, fw, f.store, config.RelayConfig{
		Retention:  50,
		BatchLimit: 50,
	})
}

func (f *fixture) entries(t *testing.T, relayID string) []*history.Entry {
	t.Helper()
	entries, err := history.Collect(f.store.List(context.Background(), history.RelayScope(relayID), 0))
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	return entries
}

func (f *fixture) reload(t *testing.T, id string) *models.Relay {
	t.Helper()
	r, err := f.relays.GetByID(context.Background(), id)
	if err != nil || r == nil {
		t.Fatalf("GetByID() = %v, %v", r, err)
	}
	return r
}

func pendingCall(id string) broker.CapturedCall {
	return broker.CapturedCall{
		WebhookCallUUID: id,
		Method:          "POST",
		Headers:         broker.Headers{"Content-Type": "application/json", "X-Call": id},
		Body:            broker.Body(`{"id":"` + id + `"}`),
		Status:          broker.CallPending,
		CreatedAt:       broker.Timestamp{Time: time.Now().Add(-time.Minute)},
	}
}

type countingTarget struct {
	*httptest.Server
	hits atomic.Int32
}

func newTarget(t *testing.T, status int) *countingTarget {
	t.Helper()
	ct := &countingTarget{}
	ct.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ct.hits.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
		w.Write([]byte("ack"))
	}))
	t.Cleanup(ct.Close)
	return ct
}

func testForwarder() *HTTPForwarder {
	return NewHTTPForwarder(config.RelayConfig{ForwardTimeout: 2 * time.Second})
}

func TestPoller_SkipsAlreadyRelayedCalls(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	relay := f.addRelay(t, target.URL, nil)

	done := pendingCall("c3")
	done.Status = broker.CallRelayed
	f.broker.calls = []broker.CapturedCall{pendingCall("c1"), pendingCall("c2"), done}

	result, err := f.poller(testForwarder()).Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if result.TotalCount != 3 || result.RelayedCount != 2 || len(result.Errors) != 0 {
		t.Errorf("Unexpected result %+v", result)
	}
	if got := target.hits.Load(); got != 2 {
		t.Errorf("Expected 2 forwards, got %d", got)
	}

	entries := f.entries(t, relay.ID)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Status != history.StatusSuccess || e.Response == nil || e.Response.StatusCode != 200 {
			t.Errorf("Unexpected entry %+v", e)
		}
		if e.WebhookCallUUID == "c3" {
			t.Error("Relayed call was forwarded again")
		}
	}

	stored := f.reload(t, relay.ID)
	if stored.LastChecked == nil || stored.LastRelayed == nil {
		t.Error("Expected last_checked and last_relayed to be set")
	}
	if stored.RelayCount != 2 || stored.ErrorCount != 0 || stored.PendingSince != nil {
		t.Errorf("Unexpected counters %+v", stored)
	}
	if f.broker.consumedCount() != 2 {
		t.Errorf("Expected 2 consumed calls, got %d", f.broker.consumedCount())
	}
}

func TestPoller_CaptureOnlyNeverForwards(t *testing.T) {
	f := newFixture(t)
	relay := f.addRelay(t, "", func(r *models.Relay) { r.CaptureOnly = true })
	f.broker.calls = []broker.CapturedCall{pendingCall("c1"), pendingCall("c2")}

	result, err := f.poller(panicForwarder{t}).Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.RelayedCount != 2 {
		t.Errorf("Expected 2 captured calls, got %d", result.RelayedCount)
	}

	for _, e := range f.entries(t, relay.ID) {
		if e.Status != history.StatusCaptured || !e.CaptureOnly || e.Response != nil {
			t.Errorf("Unexpected entry %+v", e)
		}
	}
}

func TestPoller_CaptureOnlyConsumeFailureAppendsNothing(t *testing.T) {
	f := newFixture(t)
	relay := f.addRelay(t, "", func(r *models.Relay) { r.CaptureOnly = true })
	f.broker.calls = []broker.CapturedCall{pendingCall("c1")}
	f.broker.markErr = map[string]error{"c1": &broker.RemoteError{Status: 500, Message: "busy"}}

	result, err := f.poller(panicForwarder{t}).Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.RelayedCount != 0 || len(result.Errors) != 1 {
		t.Errorf("Unexpected result %+v", result)
	}
	if n := len(f.entries(t, relay.ID)); n != 0 {
		t.Errorf("Expected no entries, got %d", n)
	}
	if stored := f.reload(t, relay.ID); stored.LastError != "busy" || stored.PendingSince == nil {
		t.Errorf("Unexpected relay state %+v", stored)
	}
}

func TestPoller_UnreachableTarget(t *testing.T) {
	f := newFixture(t)
	closed := httptest.NewServer(http.NotFoundHandler())
	targetURL := closed.URL
	closed.Close()

	relay := f.addRelay(t, targetURL, nil)
	call := pendingCall("c1")
	f.broker.calls = []broker.CapturedCall{call}
	p := f.poller(testForwarder())

	result, err := p.Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.RelayedCount != 0 || len(result.Errors) != 1 {
		t.Errorf("Unexpected result %+v", result)
	}

	entries := f.entries(t, relay.ID)
	if len(entries) != 1 || entries[0].Status != history.StatusFailed || entries[0].Error == "" {
		t.Fatalf("Expected one failed entry with error, got %+v", entries)
	}
	if entries[0].Response != nil {
		t.Error("Expected no response for transport failure")
	}
	if f.broker.consumedCount() != 0 {
		t.Error("Failed call must stay pending at the broker")
	}

	stored := f.reload(t, relay.ID)
	if stored.ErrorCount != 1 || stored.LastError == "" || stored.PendingSince == nil {
		t.Errorf("Unexpected relay state %+v", stored)
	}

	// The next cycle asks for calls from the pending one on, not from last_checked.
	if _, err := p.Poll(context.Background(), relay.ID); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	since := f.broker.sinceSeen[len(f.broker.sinceSeen)-1]
	if since == nil || since.UnixMilli() != call.CreatedAt.UnixMilli() {
		t.Errorf("Expected since = %v, got %v", call.CreatedAt.Time, since)
	}
	if n := len(f.entries(t, relay.ID)); n != 2 {
		t.Errorf("Expected the call to be retried, got %d entries", n)
	}
}

func TestPoller_NonSuccessStatusIsFailure(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusInternalServerError)
	relay := f.addRelay(t, target.URL, nil)
	f.broker.calls = []broker.CapturedCall{pendingCall("c1")}

	if _, err := f.poller(testForwarder()).Poll(context.Background(), relay.ID); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	entries := f.entries(t, relay.ID)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Status != history.StatusFailed || e.Error != "HTTP 500" || e.Response == nil || e.Response.Body != "ack" {
		t.Errorf("Unexpected entry %+v", e)
	}
}

func TestPoller_RemoteErrorRecordsLastError(t *testing.T) {
	f := newFixture(t)
	relay := f.addRelay(t, "http://localhost:1/hook", nil)
	f.broker.listErr = &broker.RemoteError{Status: 503, Message: "maintenance"}

	result, err := f.poller(panicForwarder{t}).Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0] != "maintenance" {
		t.Errorf("Unexpected errors %v", result.Errors)
	}

	stored := f.reload(t, relay.ID)
	if stored.LastError != "maintenance" || stored.LastChecked == nil {
		t.Errorf("Unexpected relay state %+v", stored)
	}
	if n := len(f.entries(t, relay.ID)); n != 0 {
		t.Errorf("Expected no entries, got %d", n)
	}
}

func TestPoller_ReconcilesFailedConsume(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	relay := f.addRelay(t, target.URL, nil)
	f.broker.calls = []broker.CapturedCall{pendingCall("c1")}
	f.broker.markErr = map[string]error{"c1": &broker.RemoteError{Message: "timeout"}}
	p := f.poller(testForwarder())

	result, err := p.Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if result.RelayedCount != 1 || len(result.Errors) != 1 {
		t.Errorf("Unexpected result %+v", result)
	}
	stored := f.reload(t, relay.ID)
	if stored.RelayCount != 1 || stored.LastError != "timeout" {
		t.Errorf("Unexpected relay state %+v", stored)
	}

	f.broker.markErr = nil
	if _, err := p.Poll(context.Background(), relay.ID); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if got := target.hits.Load(); got != 1 {
		t.Errorf("Expected exactly one forward, got %d", got)
	}
	if f.broker.consumedCount() != 1 {
		t.Errorf("Expected the call to be consumed on reconcile")
	}
	if n := len(f.entries(t, relay.ID)); n != 1 {
		t.Errorf("Expected no new entry on reconcile, got %d entries", n)
	}
	if stored := f.reload(t, relay.ID); stored.RelayCount != 1 {
		t.Errorf("Reconcile must not count again, got %d", stored.RelayCount)
	}
}

func TestPoller_Rejections(t *testing.T) {
	f := newFixture(t)
	p := f.poller(panicForwarder{t})

	t.Run("Missing Relay", func(t *testing.T) {
		_, err := p.Poll(context.Background(), "nope")
		if !errors.Is(err, ErrRelayNotFound) {
			t.Errorf("Expected ErrRelayNotFound, got %v", err)
		}
	})

	t.Run("Disabled Relay", func(t *testing.T) {
		relay := f.addRelay(t, "http://localhost:1", func(r *models.Relay) { r.Enabled = false })
		_, err := p.Poll(context.Background(), relay.ID)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Expected ConfigError, got %v", err)
		}
	})

	t.Run("Polling Disabled Still Polls On Demand", func(t *testing.T) {
		relay := f.addRelay(t, "", func(r *models.Relay) {
			r.CaptureOnly = true
			r.PollingEnabled = false
		})
		result, err := p.Poll(context.Background(), relay.ID)
		if err != nil {
			t.Fatalf("Poll() error = %v", err)
		}
		if result.RelayID != relay.ID {
			t.Errorf("Unexpected result %+v", result)
		}
	})
}

func TestPoller_RelayAgain(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	relay := f.addRelay(t, target.URL, nil)
	f.broker.calls = []broker.CapturedCall{pendingCall("c1")}
	p := f.poller(testForwarder())

	if _, err := p.Poll(context.Background(), relay.ID); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	original := f.entries(t, relay.ID)[0]

	entry, err := p.RelayAgain(context.Background(), relay.ID, original.ID)
	if err != nil {
		t.Fatalf("RelayAgain() error = %v", err)
	}
	if !entry.Manual || entry.Status != history.StatusSuccess || entry.ID == original.ID {
		t.Errorf("Unexpected entry %+v", entry)
	}
	if entry.Request.Body != original.Request.Body || entry.Request.Headers["X-Call"] != "c1" {
		t.Errorf("Replayed request differs: %+v", entry.Request)
	}
	if got := target.hits.Load(); got != 2 {
		t.Errorf("Expected 2 forwards, got %d", got)
	}
	if stored := f.reload(t, relay.ID); stored.RelayCount != 2 {
		t.Errorf("Expected relay_count 2, got %d", stored.RelayCount)
	}

	t.Run("Missing Record", func(t *testing.T) {
		_, err := p.RelayAgain(context.Background(), relay.ID, "missing")
		if !errors.Is(err, history.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Capture Only Rejected", func(t *testing.T) {
		captureOnly := f.addRelay(t, "", func(r *models.Relay) { r.CaptureOnly = true })
		_, err := p.RelayAgain(context.Background(), captureOnly.ID, original.ID)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Errorf("Expected ConfigError, got %v", err)
		}
	})
}

func TestPoller_PollAllSkipsNonPollable(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	f.addRelay(t, target.URL, func(r *models.Relay) { r.ID = "rly-a" })
	f.addRelay(t, target.URL, func(r *models.Relay) { r.ID = "rly-b"; r.PollingEnabled = false })
	f.addRelay(t, target.URL, func(r *models.Relay) { r.ID = "rly-c"; r.Enabled = false })
	f.broker.calls = []broker.CapturedCall{pendingCall("c1")}

	results, err := f.poller(testForwarder()).PollAll(context.Background())
	if err != nil {
		t.Fatalf("PollAll() error = %v", err)
	}
	if len(results) != 1 || results[0].RelayID != "rly-a" {
		t.Fatalf("Expected only rly-a to be polled, got %+v", results)
	}
	if results[0].RelayedCount != 1 {
		t.Errorf("Unexpected result %+v", results[0])
	}
}

func TestPoller_ConcurrentPollsOnSameRelay(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	relay := f.addRelay(t, target.URL, nil)
	f.broker.calls = []broker.CapturedCall{pendingCall("c1"), pendingCall("c2"), pendingCall("c3")}
	p := f.poller(testForwarder())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Poll(context.Background(), relay.ID); err != nil {
				t.Errorf("Poll() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := target.hits.Load(); got != 3 {
		t.Errorf("Expected each call forwarded once, got %d forwards", got)
	}
	if stored := f.reload(t, relay.ID); stored.RelayCount != 3 {
		t.Errorf("Expected relay_count 3, got %d", stored.RelayCount)
	}
}

// cursorBroker honours since and limit the way the broker API does: pending
// calls created at or after since, oldest first.
type cursorBroker struct {
	fakeBroker
}

func (b *cursorBroker) ListPendingCalls(ctx context.Context, webhookUUID string, since *time.Time, limit int) ([]broker.CapturedCall, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinceSeen = append(b.sinceSeen, since)
	out := []broker.CapturedCall{}
	for _, c := range b.calls {
		if c.Relayed() {
			continue
		}
		if since != nil && c.CreatedAt.UnixMilli() < since.UnixMilli() {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestPoller_FullBatchResumesFromNewestCall(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	relay := f.addRelay(t, target.URL, nil)

	b := &cursorBroker{}
	now := time.Now()
	for i, id := range []string{"c1", "c2", "c3"} {
		c := pendingCall(id)
		c.CreatedAt = broker.Timestamp{Time: now.Add(time.Duration(i-3) * time.Minute)}
		b.calls = append(b.calls, c)
	}
	p := NewPoller(f.relays, b, testForwarder(), f.store, config.RelayConfig{Retention: 50, BatchLimit: 2})

	first, err := p.Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if first.RelayedCount != 2 {
		t.Fatalf("Expected 2 relayed in the first cycle, got %+v", first)
	}
	stored := f.reload(t, relay.ID)
	if stored.PendingSince == nil || *stored.PendingSince >= b.calls[2].CreatedAt.UnixMilli() {
		t.Fatalf("Expected cursor held before c3, got %v", stored.PendingSince)
	}

	second, err := p.Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if second.RelayedCount != 1 {
		t.Errorf("Expected c3 relayed in the second cycle, got %+v", second)
	}

	third, err := p.Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if third.TotalCount != 0 {
		t.Errorf("Expected nothing left, got %+v", third)
	}

	if got := target.hits.Load(); got != 3 {
		t.Errorf("Expected 3 forwards, got %d", got)
	}
	if stored := f.reload(t, relay.ID); stored.PendingSince != nil || stored.RelayCount != 3 {
		t.Errorf("Unexpected relay state pending_since=%v relay_count=%d", stored.PendingSince, stored.RelayCount)
	}
}

func TestPoller_SeparateDatabaseHandlesForwardOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")
	a := openFixture(t, path)
	b := openFixture(t, path)
	b.broker = a.broker

	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	relay := a.addRelay(t, target.URL, nil)
	a.broker.calls = []broker.CapturedCall{pendingCall("c1")}

	pollers := []*Poller{a.poller(testForwarder()), b.poller(testForwarder())}
	var wg sync.WaitGroup
	for _, p := range pollers {
		wg.Add(1)
		go func(p *Poller) {
			defer wg.Done()
			if _, err := p.Poll(context.Background(), relay.ID); err != nil {
				t.Errorf("Poll() error = %v", err)
			}
		}(p)
	}
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("Expected one forward across both processes, got %d", got)
	}
	if entries := a.entries(t, relay.ID); len(entries) != 1 {
		t.Errorf("Expected 1 history entry, got %d", len(entries))
	}
	if stored := a.reload(t, relay.ID); stored.RelayCount != 1 {
		t.Errorf("Expected relay_count 1, got %d", stored.RelayCount)
	}
}

func TestPoller_SkipsWhileLeaseHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	relay := f.addRelay(t, "http://unused.test", nil)
	f.broker.calls = []broker.CapturedCall{pendingCall("c1")}

	now := time.Now()
	held, err := f.relays.AcquirePollLease(context.Background(), relay.ID, "other-process", now.UnixMilli(), now.Add(time.Minute).UnixMilli())
	if err != nil || !held {
		t.Fatalf("AcquirePollLease() = %v, %v", held, err)
	}

	result, err := f.poller(panicForwarder{t}).Poll(context.Background(), relay.ID)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0] != ErrPollInProgress.Error() {
		t.Errorf("Unexpected result %+v", result)
	}
	if len(f.broker.sinceSeen) != 0 {
		t.Error("Expected the broker not to be listed")
	}
}

// countingStore checks the retention limit after every append.
type countingStore struct {
	*history.Store
	t    *testing.T
	keep int
}

func (s *countingStore) Append(ctx context.Context, scope string, entry *history.Entry) error {
	if n, _ := s.Count(ctx, scope); n > s.keep {
		s.t.Errorf("Scope held %d entries before append, limit %d", n, s.keep)
	}
	return s.Store.Append(ctx, scope, entry)
}

func TestPoller_EvictsAfterEveryAppend(t *testing.T) {
	f := newFixture(t)
	target := newTarget(t, http.StatusOK)
	relay := f.addRelay(t, target.URL, nil)
	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		f.broker.calls = append(f.broker.calls, pendingCall(id))
	}

	store := &countingStore{Store: f.store, t: t, keep: 2}
	p := NewPoller(f.relays, f.broker, testForwarder(), store, config.RelayConfig{Retention: 2, BatchLimit: 50})
	if _, err := p.Poll(context.Background(), relay.ID); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	entries := f.entries(t, relay.ID)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries kept, got %d", len(entries))
	}
	if entries[0].WebhookCallUUID != "c5" || entries[1].WebhookCallUUID != "c4" {
		t.Errorf("Expected the newest entries kept, got %s, %s", entries[0].WebhookCallUUID, entries[1].WebhookCallUUID)
	}
}
