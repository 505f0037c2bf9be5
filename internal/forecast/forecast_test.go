package forecast

import (
	"math"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Alpha:                      0.3,
		Gamma:                      0.1,
		Delta:                      0.3,
		Eta:                        0.01,
		SeasonLength:               60,
		OutlierWindow:              500,
		MinObservationsForClipping: 10,
		SampleInterval:             time.Minute,
		MaxCapacity:                50,
	}
}

func TestColdStartThenForecastStaysInRange(t *testing.T) {
	e := New(testConfig())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var history []Observation
	for i := 0; i < 120; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		history = append(history, Observation{Timestamp: ts, Value: 20 + float64(i%10)})
	}
	e.ColdStart(history)

	points := e.Forecast(history[len(history)-1].Timestamp, 60)
	if len(points) != 60 {
		t.Fatalf("expected 60 forecast points, got %d", len(points))
	}
	for _, p := range points {
		if p.Value < 0 || p.Value > 50 {
			t.Fatalf("forecast value out of range: %d", p.Value)
		}
		if p.Confidence < 0.1 || p.Confidence > 1.0 {
			t.Fatalf("confidence out of range: %f", p.Confidence)
		}
	}
}

func TestConfidenceDecaysWithHorizon(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	points := e.Forecast(now, 30)
	if points[0].Confidence <= points[29].Confidence {
		t.Fatalf("expected confidence to decay: first=%f last=%f", points[0].Confidence, points[29].Confidence)
	}
}

func TestObserveUpdatesLevelTowardNewValues(t *testing.T) {
	e := New(testConfig())
	now := time.Now()

	e.Observe(Observation{Timestamp: now, Value: 10})
	before := e.CurrentState().Level

	for i := 1; i <= 20; i++ {
		e.Observe(Observation{Timestamp: now.Add(time.Duration(i) * time.Minute), Value: 40})
	}
	after := e.CurrentState().Level

	if after <= before {
		t.Fatalf("expected level to climb toward new observations: before=%f after=%f", before, after)
	}
}

func TestOutlierClippingBoundsExtremeSpike(t *testing.T) {
	e := New(testConfig())
	now := time.Now()

	for i := 0; i < 20; i++ {
		e.Observe(Observation{Timestamp: now.Add(time.Duration(i) * time.Minute), Value: 20})
	}
	// A wild spike should be clipped before entering the update, so the
	// level should not jump all the way to 10000.
	e.Observe(Observation{Timestamp: now.Add(21 * time.Minute), Value: 10000})
	level := e.CurrentState().Level
	if level > 200 {
		t.Fatalf("expected spike to be clipped, level jumped to %f", level)
	}
}

func TestObserveCollapsesSubMinuteSamplesToLatest(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	warm := func(e *Engine) {
		for i := 0; i < 3; i++ {
			e.Observe(Observation{Timestamp: base.Add(time.Duration(i) * time.Minute), Value: 20})
		}
	}

	collapsed := New(testConfig())
	warm(collapsed)
	bucketStart := base.Add(3 * time.Minute)
	collapsed.Observe(Observation{Timestamp: bucketStart, Value: 20})
	collapsed.Observe(Observation{Timestamp: bucketStart.Add(30 * time.Second), Value: 99})

	reference := New(testConfig())
	warm(reference)
	reference.Observe(Observation{Timestamp: bucketStart, Value: 99})

	got := collapsed.CurrentState()
	want := reference.CurrentState()
	if math.Abs(got.Level-want.Level) > 1e-9 {
		t.Fatalf("expected collapsed level to match single-sample replay: got=%f want=%f", got.Level, want.Level)
	}
	if math.Abs(got.Trend-want.Trend) > 1e-9 {
		t.Fatalf("expected collapsed trend to match single-sample replay: got=%f want=%f", got.Trend, want.Trend)
	}
	if len(collapsed.retained) != len(reference.retained) {
		t.Fatalf("expected the first same-bucket sample to leave no trace in retained history: collapsed=%d reference=%d",
			len(collapsed.retained), len(reference.retained))
	}
}

func TestBetaStaysClampedToUnitRange(t *testing.T) {
	e := New(testConfig())
	now := time.Now()
	for i := 0; i < 50; i++ {
		e.Observe(Observation{Timestamp: now.Add(time.Duration(i) * time.Minute), Value: 30, Exogenous: 1})
	}
	beta := e.CurrentState().Beta
	if beta < 0 || beta > 1 || math.IsNaN(beta) {
		t.Fatalf("beta out of range: %f", beta)
	}
}
