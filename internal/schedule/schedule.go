// Package schedule implements the periodic status scheduler: when
// auto-scheduling is enabled, it watches for wall-clock crossings of the
// configured auto-open/auto-close times and flips the space status
// accordingly, broadcasting status_update on every transition.
package schedule

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/occerr"
)

// StatusSetter is the narrow admission interface the scheduler needs.
type StatusSetter interface {
	SetStatus(status, message, updatedBy string, now time.Time) error
}

// Window holds the auto-open/auto-close configuration for one status
// scheduler instance.
type Window struct {
	Enabled   bool
	AutoOpen  string // "HH:MM"
	AutoClose string // "HH:MM"
}

// ParseClock parses an "HH:MM" string into hour and minute. Returns
// occerr.ErrInvalidTimeFormat on malformed input.
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, occerr.ErrInvalidTimeFormat
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &hour, &minute); err != nil {
		return 0, 0, occerr.ErrInvalidTimeFormat
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, occerr.ErrInvalidTimeFormat
	}
	return hour, minute, nil
}

// Scheduler is the periodic status-scheduler worker.
type Scheduler struct {
	setter   StatusSetter
	clk      clock.Clock
	interval time.Duration
	log      *zap.Logger

	window Window

	lastAppliedMinute int // -1 if none yet this process lifetime
	lastStatus        string
}

// New constructs a Scheduler with the given auto-open/close window.
func New(setter StatusSetter, clk clock.Clock, interval time.Duration, window Window, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{setter: setter, clk: clk, interval: interval, window: window, log: log, lastAppliedMinute: -1}
}

// Run blocks, ticking every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(s.clk.Now())
		}
	}
}

// tick checks whether now crosses the auto-open or auto-close boundary and
// applies the corresponding status transition at most once per crossing.
// Auto-scheduling only applies on weekdays; weekends are left untouched.
func (s *Scheduler) tick(now time.Time) {
	if !s.window.Enabled {
		return
	}
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return
	}

	nowMinuteOfDay := now.Hour()*60 + now.Minute()
	if nowMinuteOfDay == s.lastAppliedMinute {
		return
	}

	if s.window.AutoOpen != "" {
		if h, m, err := ParseClock(s.window.AutoOpen); err == nil && h*60+m == nowMinuteOfDay {
			s.apply("OPEN", now, nowMinuteOfDay)
			return
		}
	}
	if s.window.AutoClose != "" {
		if h, m, err := ParseClock(s.window.AutoClose); err == nil && h*60+m == nowMinuteOfDay {
			s.apply("CLOSED", now, nowMinuteOfDay)
			return
		}
	}
}

func (s *Scheduler) apply(status string, now time.Time, minuteOfDay int) {
	if err := s.setter.SetStatus(status, "auto schedule", "scheduler", now); err != nil {
		s.log.Warn("auto status transition failed", zap.String("status", status), zap.Error(err))
		return
	}
	s.lastAppliedMinute = minuteOfDay
	s.lastStatus = status
	s.log.Info("auto status transition applied", zap.String("status", status))
}
