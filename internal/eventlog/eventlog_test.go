package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/occuplex/occuplex/internal/storage"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "occuplex.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestAppendAdjustsCounter(t *testing.T) {
	l := newTestLog(t)
	now := time.Now()

	if err := l.Append(VisitEvent{OccupantID: "alice", Kind: Entry, Timestamp: now}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := l.Current(); got != 1 {
		t.Fatalf("expected counter 1, got %d", got)
	}

	if err := l.Append(VisitEvent{OccupantID: "alice", Kind: Exit, Timestamp: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := l.Current(); got != 0 {
		t.Fatalf("expected counter 0, got %d", got)
	}
}

func TestCounterNeverGoesNegative(t *testing.T) {
	l := newTestLog(t)
	now := time.Now()
	if err := l.Append(VisitEvent{OccupantID: "bob", Kind: Exit, Timestamp: now}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := l.Current(); got != 0 {
		t.Fatalf("expected counter floored at 0, got %d", got)
	}
}

func TestRebuildCounterMatchesLiveCounter(t *testing.T) {
	l := newTestLog(t)
	now := time.Now()

	events := []VisitEvent{
		{OccupantID: "a", Kind: Entry, Timestamp: now},
		{OccupantID: "b", Kind: Entry, Timestamp: now.Add(time.Minute)},
		{OccupantID: "a", Kind: Exit, Timestamp: now.Add(2 * time.Minute)},
		{OccupantID: "c", Kind: Entry, Timestamp: now.Add(3 * time.Minute)},
	}
	for _, ev := range events {
		if err := l.Append(ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	live := l.Current()

	l2 := New(l.db)
	if err := l2.RebuildCounter(); err != nil {
		t.Fatalf("RebuildCounter: %v", err)
	}
	if rebuilt := l2.Current(); rebuilt != live {
		t.Fatalf("rebuilt counter %d does not match live counter %d", rebuilt, live)
	}
	if live != 2 {
		t.Fatalf("expected live counter 2 (a exited, b and c remain), got %d", live)
	}
}

func TestRateSinceResetsAfterEachCall(t *testing.T) {
	l := newTestLog(t)
	now := time.Now()

	if err := l.Append(VisitEvent{OccupantID: "a", Kind: Entry, Timestamp: now}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(VisitEvent{OccupantID: "b", Kind: Entry, Timestamp: now}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(VisitEvent{OccupantID: "a", Kind: Exit, Timestamp: now}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, exits := l.RateSince()
	if entries != 2 || exits != 1 {
		t.Fatalf("expected (2, 1), got (%d, %d)", entries, exits)
	}

	entries, exits = l.RateSince()
	if entries != 0 || exits != 0 {
		t.Fatalf("expected counters reset to (0, 0), got (%d, %d)", entries, exits)
	}
}

func TestReadAllReturnsChronologicalOrder(t *testing.T) {
	l := newTestLog(t)
	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Append(VisitEvent{OccupantID: "x", Kind: Entry, Timestamp: now.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	all, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("events out of order at index %d", i)
		}
	}
}
