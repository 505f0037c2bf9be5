package tracing

import (
	"context"
	"testing"
)

func TestNewWithNilConfigYieldsNoopTracer(t *testing.T) {
	tr, err := New(context.Background(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Enabled() {
		t.Fatal("expected disabled tracer by default")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestStartScanSpanDoesNotPanicOnNoop(t *testing.T) {
	tr := NoopTracer()
	_, span := tr.StartScanSpan(context.Background(), ScanSpanOptions{OccupantID: "alice", Outcome: "ADMITTED"})
	defer span.End()
	RecordError(span, nil)
}

func TestStdoutExporterConstructsEnabledTracer(t *testing.T) {
	tr, err := New(context.Background(), &Config{
		Enabled:      true,
		ServiceName:  "occuplex-test",
		ExporterType: ExporterStdout,
		SampleRate:   1.0,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !tr.Enabled() {
		t.Fatal("expected enabled tracer")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
