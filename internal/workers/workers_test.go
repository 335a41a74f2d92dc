package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"hookrelay/internal/engine/relay"
)

type countingPoller struct {
	rounds atomic.Int32
	err    error
}

func (p *countingPoller) PollAll(ctx context.Context) ([]*relay.PollResult, error) {
	p.rounds.Add(1)
	if p.err != nil {
		return nil, p.err
	}
	return []*relay.PollResult{
		{RelayID: "rly_1", RelayedCount: 2, TotalCount: 3, Errors: []string{"call c3: HTTP 500"}},
	}, nil
}

func TestPollScheduler_RunOnce(t *testing.T) {
	p := &countingPoller{}
	if err := NewPollScheduler(p, time.Second).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	failing := &countingPoller{err: errors.New("db closed")}
	if err := NewPollScheduler(failing, time.Second).RunOnce(context.Background()); err == nil {
		t.Error("Expected error from failing poller")
	}
}

func TestPollScheduler_RunStopsOnCancel(t *testing.T) {
	p := &countingPoller{}
	s := NewPollScheduler(p, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if n := p.rounds.Load(); n < 2 {
		t.Errorf("Expected several rounds, got %d", n)
	}
}
