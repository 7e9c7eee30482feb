package reconcile

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// DefaultSchedulerDelay spaces the stale-price pass away from startup so it
// never competes with the host's own boot work.
const DefaultSchedulerDelay = 2 * time.Second

// Scheduler fires one stale-only reconciliation pass shortly after start.
// It is fire-and-forget: failures are logged and swallowed, and there is no
// periodic re-arming — the pass runs again only when the host restarts.
type Scheduler struct {
	svc       *Service
	delay     time.Duration
	threshold time.Duration
}

// NewScheduler builds a Scheduler. Non-positive delay and threshold fall
// back to defaults.
func NewScheduler(svc *Service, delay, threshold time.Duration) *Scheduler {
	if delay <= 0 {
		delay = DefaultSchedulerDelay
	}
	return &Scheduler{svc: svc, delay: delay, threshold: threshold}
}

// Start launches the delayed pass in the background and returns immediately.
// The pass is abandoned when ctx is cancelled before the delay elapses.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		lg := zctx.From(ctx)
		lg.Info("Checking for stale imported product prices",
			zap.Duration("threshold", s.threshold))

		outcome, err := s.svc.ReconcileStale(ctx, s.threshold)
		if err != nil {
			lg.Warn("Stale price sync failed", zap.Error(err))
			return
		}

		lg.Info("Stale price sync complete",
			zap.Int("updated", outcome.Updated),
			zap.Int("skipped", outcome.Skipped),
			zap.Int("failed", outcome.Failed))
		for _, ie := range outcome.Errors {
			lg.Warn("Price sync item failed",
				zap.String("product_id", ie.ProductID),
				zap.String("error", ie.Error))
		}
	}()
}
