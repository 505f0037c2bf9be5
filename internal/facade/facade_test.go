package facade

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/occuplex/occuplex/internal/adminsock"
	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/config"
	"github.com/occuplex/occuplex/internal/observability"
	"github.com/occuplex/occuplex/internal/storage"
	"github.com/occuplex/occuplex/internal/tracing"
)

func newTestFacade(t *testing.T) (*Facade, *clock.Fake) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "occuplex.db")
	db, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.Admission.MaxCapacity = 2
	clk := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	f, err := New(&cfg, db, clk, zap.NewNop(), observability.NewMetrics(), tracing.NoopTracer())
	if err != nil {
		t.Fatalf("facade.New: %v", err)
	}
	return f, clk
}

func TestScanAdmitsThenExits(t *testing.T) {
	f, _ := newTestFacade(t)

	result, err := f.Scan("alice")
	if err != nil {
		t.Fatalf("Scan entry: %v", err)
	}
	if result.Outcome.String() != "ADMITTED" {
		t.Fatalf("expected ADMITTED, got %s", result.Outcome.String())
	}

	current, _, _ := f.GetState()
	if current != 1 {
		t.Fatalf("expected occupancy 1, got %d", current)
	}

	result, err = f.Scan("alice")
	if err != nil {
		t.Fatalf("Scan exit: %v", err)
	}
	if result.Outcome.String() != "EXITED" {
		t.Fatalf("expected EXITED, got %s", result.Outcome.String())
	}
}

func TestScanRejectsWhenClosed(t *testing.T) {
	f, _ := newTestFacade(t)
	if err := f.SetStatus("CLOSED", "test"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	_, err := f.Scan("alice")
	if err == nil {
		t.Fatal("expected rejection while closed")
	}
}

func TestForceRemoveTopEvictsOccupant(t *testing.T) {
	f, _ := newTestFacade(t)
	if _, err := f.Scan("alice"); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	removed, err := f.ForceRemoveTop(1)
	if err != nil {
		t.Fatalf("ForceRemoveTop: %v", err)
	}
	if len(removed) != 1 || removed[0] != "alice" {
		t.Fatalf("expected [alice] removed, got %v", removed)
	}

	current, _, _ := f.GetState()
	if current != 0 {
		t.Fatalf("expected occupancy 0 after eviction, got %d", current)
	}
}

func TestListScoredReflectsOpenSessions(t *testing.T) {
	f, _ := newTestFacade(t)
	if _, err := f.Scan("alice"); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if _, err := f.Scan("bob"); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	scored := f.ListScored()
	if len(scored) != 2 {
		t.Fatalf("expected 2 scored sessions, got %d", len(scored))
	}
}

func TestIngestHistoryFeedsForecaster(t *testing.T) {
	f, clk := newTestFacade(t)

	base := clk.Now().Add(-24 * time.Hour)
	history := make([]adminsock.Observation, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, adminsock.Observation{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Value:     float64(i % 5),
		})
	}

	n, err := f.IngestHistory(history)
	if err != nil {
		t.Fatalf("IngestHistory: %v", err)
	}
	if n != len(history) {
		t.Fatalf("expected %d ingested, got %d", len(history), n)
	}

	result := f.Forecast(5)
	if len(result.Forecasts) != 5 {
		t.Fatalf("expected 5 forecast points, got %d", len(result.Forecasts))
	}
	if result.CrowdStatus == "" {
		t.Fatalf("expected a non-empty crowd status")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	f, _ := newTestFacade(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop within timeout")
	}
}
