// Package sweep runs the periodic sweeper that auto-exits occupants whose
// session deadline has passed, so capacity is reclaimed even when nobody
// scans out. It is a thin ticker wrapper around admission.Controller's
// SweepExpired, the same shape as the teacher's periodic worker goroutines
// started from facade.Run under an errgroup.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/occuplex/occuplex/internal/clock"
)

// Admitter is the narrow admission interface the sweeper needs.
type Admitter interface {
	SweepExpired(now time.Time) ([]string, error)
}

// Sweeper periodically evicts expired sessions.
type Sweeper struct {
	admitter Admitter
	clk      clock.Clock
	interval time.Duration
	log      *zap.Logger
}

// New constructs a Sweeper.
func New(admitter Admitter, clk clock.Clock, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{admitter: admitter, clk: clk, interval: interval, log: log}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			swept, err := s.admitter.SweepExpired(s.clk.Now())
			if err != nil {
				s.log.Warn("sweep pass failed", zap.Error(err))
				continue
			}
			if len(swept) > 0 {
				s.log.Info("swept expired sessions", zap.Strings("occupants", swept))
			}
		}
	}
}
