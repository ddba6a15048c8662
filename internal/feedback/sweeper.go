// File path: internal/feedback/sweeper.go
package feedback

import (
	"context"
	"log/slog"
	"time"

	"github.com/caseforge/caseforge/internal/common"
)

const defaultSweepBatch = 100

// Sweeper periodically runs the batch feedback contract and the mirror
// reconciliation pass.
type Sweeper struct {
	loop     *Loop
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewSweeper(loop *Loop, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		loop:     loop,
		interval: interval,
		batch:    defaultSweepBatch,
		logger:   common.Logger(),
	}
}

// Run blocks until the context is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("feedback: sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("feedback: sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.loop.BatchConfirmedCases(ctx, s.batch); err != nil {
		s.logger.Warn("feedback: batch sweep failed", "error", err)
	}
	if _, err := s.loop.ReconcileMirrors(ctx, s.batch); err != nil {
		s.logger.Warn("feedback: reconcile sweep failed", "error", err)
	}
}
