package config

import (
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults must validate cleanly: %v", err)
	}
}

func TestValidateRejectsBadSchemaVersion(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for schema_version")
	}
}

func TestValidateRejectsWeightsNotSummingToOne(t *testing.T) {
	cfg := Defaults()
	cfg.Ranker.WeightTime += 0.5
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error for ranker weights")
	}
	if !strings.Contains(err.Error(), "sum to 1.0") {
		t.Fatalf("expected weight-sum error, got: %v", err)
	}
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = ""
	cfg.NodeID = ""
	cfg.Admission.MaxCapacity = -1
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"schema_version", "node_id", "max_capacity"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected combined error to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateRejectsOutOfRangeForecastConstants(t *testing.T) {
	cfg := Defaults()
	cfg.Forecast.Alpha = 1.5
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected validation error for forecast.alpha")
	}
}
