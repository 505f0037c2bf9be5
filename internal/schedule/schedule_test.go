package schedule

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/occerr"
)

type fakeSetter struct {
	calls []string
}

func (f *fakeSetter) SetStatus(status, message, updatedBy string, now time.Time) error {
	f.calls = append(f.calls, status)
	return nil
}

func TestParseClockRejectsMalformed(t *testing.T) {
	if _, _, err := ParseClock("9:00"); !errors.Is(err, occerr.ErrInvalidTimeFormat) {
		t.Fatalf("expected ErrInvalidTimeFormat, got %v", err)
	}
	if _, _, err := ParseClock("25:00"); !errors.Is(err, occerr.ErrInvalidTimeFormat) {
		t.Fatalf("expected ErrInvalidTimeFormat for out-of-range hour, got %v", err)
	}
}

func TestParseClockValid(t *testing.T) {
	h, m, err := ParseClock("09:30")
	if err != nil {
		t.Fatalf("ParseClock: %v", err)
	}
	if h != 9 || m != 30 {
		t.Fatalf("got %d:%d, want 9:30", h, m)
	}
}

func TestTickAppliesAutoOpenAtBoundary(t *testing.T) {
	setter := &fakeSetter{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	s := New(setter, clk, time.Minute, Window{Enabled: true, AutoOpen: "09:00", AutoClose: "21:00"}, zap.NewNop())

	s.tick(clk.Now())
	if len(setter.calls) != 1 || setter.calls[0] != "OPEN" {
		t.Fatalf("expected one OPEN transition, got %v", setter.calls)
	}

	// Ticking again at the same minute must not re-apply.
	s.tick(clk.Now())
	if len(setter.calls) != 1 {
		t.Fatalf("expected no duplicate transition, got %v", setter.calls)
	}
}

func TestTickSkipsAutoScheduleOnWeekend(t *testing.T) {
	setter := &fakeSetter{}
	// 2026-01-03 is a Saturday.
	clk := clock.NewFake(time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC))
	s := New(setter, clk, time.Minute, Window{Enabled: true, AutoOpen: "09:00", AutoClose: "21:00"}, zap.NewNop())

	s.tick(clk.Now())
	if len(setter.calls) != 0 {
		t.Fatalf("expected no weekend transitions, got %v", setter.calls)
	}
}

func TestTickDoesNothingWhenDisabled(t *testing.T) {
	setter := &fakeSetter{}
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	s := New(setter, clk, time.Minute, Window{Enabled: false, AutoOpen: "09:00"}, zap.NewNop())

	s.tick(clk.Now())
	if len(setter.calls) != 0 {
		t.Fatalf("expected no transitions while disabled, got %v", setter.calls)
	}
}
