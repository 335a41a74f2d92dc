package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hookrelay/internal/engine/relay"
	"hookrelay/internal/pkg/logger"
)

type Poller interface {
	PollAll(ctx context.Context) ([]*relay.PollResult, error)
}

// PollScheduler triggers a poll of every pollable relay on a fixed interval.
type PollScheduler struct {
	poller   Poller
	interval time.Duration
	log      zerolog.Logger
}

func NewPollScheduler(poller Poller, interval time.Duration) *PollScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PollScheduler{
		poller:   poller,
		interval: interval,
		log:      logger.Component("scheduler"),
	}
}

// RunOnce polls all relays and logs a summary of the round.
func (s *PollScheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	results, err := s.poller.PollAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Scheduled poll failed")
		return err
	}

	var relayed, total, warnings int
	for _, res := range results {
		relayed += res.RelayedCount
		total += res.TotalCount
		warnings += len(res.Errors)
		for _, msg := range res.Errors {
			s.log.Warn().Str("relay_id", res.RelayID).Str("error", msg).Msg("Poll warning")
		}
	}

	s.log.Info().
		Int("relays", len(results)).
		Int("fetched", total).
		Int("relayed", relayed).
		Int("warnings", warnings).
		Dur("duration", time.Since(start)).
		Msg("Scheduled poll finished")
	return nil
}

// Run polls immediately and then once per interval until ctx is done. A
// round that overruns the interval delays the next tick instead of stacking.
func (s *PollScheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Poll scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Poll scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
