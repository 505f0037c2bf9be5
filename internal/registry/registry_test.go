package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/occuplex/occuplex/internal/occerr"
)

func TestOpenThenCloseRoundTrip(t *testing.T) {
	r := New()
	now := time.Now()
	s, err := r.Open("alice", now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.OccupantID != "alice" {
		t.Fatalf("unexpected session: %+v", s)
	}

	closed, err := r.Close("alice")
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.OccupantID != "alice" {
		t.Fatalf("unexpected closed session: %+v", closed)
	}
	if r.Count() != 0 {
		t.Fatalf("expected 0 open sessions, got %d", r.Count())
	}
}

func TestOpenRejectsDuplicate(t *testing.T) {
	r := New()
	now := time.Now()
	if _, err := r.Open("alice", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err := r.Open("alice", now, now.Add(time.Hour))
	if !errors.Is(err, occerr.ErrAlreadyInside) {
		t.Fatalf("expected ErrAlreadyInside, got %v", err)
	}
}

func TestCloseRejectsUnknown(t *testing.T) {
	r := New()
	_, err := r.Close("ghost")
	if !errors.Is(err, occerr.ErrNotInside) {
		t.Fatalf("expected ErrNotInside, got %v", err)
	}
}

func TestListOrderedByEntryThenSequence(t *testing.T) {
	r := New()
	base := time.Now()

	if _, err := r.Open("second", base, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open("first", base.Add(-time.Minute), base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open("third", base.Add(time.Minute), base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	want := []string{"first", "second", "third"}
	for i, s := range list {
		if s.OccupantID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, s.OccupantID, want[i])
		}
	}
}

func TestExpiredAsOfAscendingDeadline(t *testing.T) {
	r := New()
	now := time.Now()

	if _, err := r.Open("late", now, now.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open("early", now, now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Open("future", now, now.Add(24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	expired := r.ExpiredAsOf(now.Add(150 * time.Minute))
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired sessions, got %d", len(expired))
	}
	if expired[0].OccupantID != "early" || expired[1].OccupantID != "late" {
		t.Fatalf("unexpected order: %+v", expired)
	}
}
