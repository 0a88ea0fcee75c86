package supervisor

import (
	"context"
	"log/slog"
	"time"

	"example.com/pulsetrack/internal/analytics"
)

// RollupScheduler periodically recomputes the rollups of the current and
// previous UTC day, so a day is finalized by the first run after midnight.
type RollupScheduler struct {
	orchestrator analytics.RollupOrchestrator
	interval     time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

func NewRollupScheduler(orchestrator analytics.RollupOrchestrator, interval time.Duration, logger *slog.Logger) *RollupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RollupScheduler{
		orchestrator: orchestrator,
		interval:     interval,
		logger:       logger.With("component", "rollup.scheduler"),
		now:          time.Now,
	}
}

// Serve dispatches one run immediately and then every interval.
func (s *RollupScheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *RollupScheduler) dispatch(ctx context.Context) {
	input := analytics.RollupWorkflowInput{
		Days:   analytics.RollupDays(s.now(), 2),
		Reason: "scheduled",
	}
	id, err := s.orchestrator.RunRollupAsync(ctx, input)
	if err != nil {
		// Retried on the next tick.
		s.logger.Warn("dispatch rollup failed", "days", input.Days, "error", err)
		return
	}
	s.logger.Debug("rollup dispatched", "run_id", id, "days", input.Days)
}

func (s *RollupScheduler) String() string { return "rollup-scheduler" }
