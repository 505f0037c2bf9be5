package plugin

import (
	"testing"
	"time"
)

func TestNeutralScorerRegisteredByDefault(t *testing.T) {
	s, err := Get("neutral")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Name() != "neutral" {
		t.Fatalf("unexpected name: %s", s.Name())
	}
}

func TestNeutralScorerScalesWithElapsedTime(t *testing.T) {
	s, _ := Get("neutral")
	now := time.Now()

	short, err := s.Score(ScoreRequest{EntryTime: now.Add(-10 * time.Minute), Now: now})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	long, err := s.Score(ScoreRequest{EntryTime: now.Add(-200 * time.Minute), Now: now})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if long <= short {
		t.Fatalf("expected longer stay to score higher: short=%f long=%f", short, long)
	}
	if long != 1 {
		t.Fatalf("expected long stay to clamp at 1.0, got %f", long)
	}
}

func TestRegisterPanicsOnDuplicateName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register(&NeutralScorer{})
}

func TestGetUnknownScorerErrors(t *testing.T) {
	if _, err := Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown scorer name")
	}
}
