// Package config provides configuration loading, validation, and hot-reload
// for the occuplex occupancy control engine.
//
// Configuration file: /etc/occuplex/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Daemon listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml and log the result.
//   - The reloaded values are not applied to the running engine; every
//     setting (weights, thresholds, log level, paths) takes effect on restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The daemon does NOT crash on invalid hot-reload config.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g., weights sum to 1.0, smoothing constants
//     in [0,1]).
//   - File paths must be non-empty.
//   - Invalid config on startup: daemon refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for occuplex.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID is a unique identifier for this occuplex instance.
	// Used in audit decision hashes. Default: hostname.
	NodeID string `yaml:"node_id"`

	Admission     AdmissionConfig     `yaml:"admission"`
	Ranker        RankerConfig        `yaml:"ranker"`
	Forecast      ForecastConfig      `yaml:"forecast"`
	Breaker       BreakerConfig       `yaml:"breaker"`
	Sweep         SweepConfig         `yaml:"sweep"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Admin         AdminConfig         `yaml:"admin"`
}

// AdmissionConfig holds admission-controller operational parameters.
type AdmissionConfig struct {
	// MaxCapacity is the initial space-wide capacity. Default: 50.
	MaxCapacity int `yaml:"max_capacity"`

	// SessionLength is the default session duration. Default: 1h.
	SessionLength time.Duration `yaml:"session_length"`

	// FrequencyWindow is the lookback window for recomputing an occupant's
	// monthly visit frequency on entry. Default: 720h (30 days).
	FrequencyWindow time.Duration `yaml:"frequency_window"`
}

// RankerConfig holds the removal-score weights.
// Weights must sum to 1.0; Validate enforces this.
type RankerConfig struct {
	WeightTime            float64 `yaml:"weight_time"`
	WeightRemaining       float64 `yaml:"weight_remaining"`
	WeightOrder           float64 `yaml:"weight_order"`
	WeightRecency         float64 `yaml:"weight_recency"`
	WeightFrequency       float64 `yaml:"weight_frequency"`
	WeightPrivilege       float64 `yaml:"weight_privilege"`
	WeightAge             float64 `yaml:"weight_age"`
	WeightDemographic     float64 `yaml:"weight_demographic"`
	WeightCooperativeness float64 `yaml:"weight_cooperativeness"`
	WeightDemand          float64 `yaml:"weight_demand"`

	// TimeMaxMinutes is T_max in the time-spent normalization. Default: 120.
	TimeMaxMinutes float64 `yaml:"time_max_minutes"`
	// RemainingMaxMinutes is R_max. Default: 120.
	RemainingMaxMinutes float64 `yaml:"remaining_max_minutes"`
	// RecencyWindowDays caps the recency-of-last-visit decay. Default: 30.
	RecencyWindowDays float64 `yaml:"recency_window_days"`
	// FrequencyCap is the visits/month at which F bottoms out at 0. Default: 10.
	FrequencyCap float64 `yaml:"frequency_cap"`
	// AgeMax is A_max in the age-based factor. Default: 70.
	AgeMax float64 `yaml:"age_max"`
}

// ForecastConfig holds Holt-Winters smoothing constants.
type ForecastConfig struct {
	// Alpha is the level smoothing constant α. Default: 0.3.
	Alpha float64 `yaml:"alpha"`
	// Gamma is the trend smoothing constant γ. Default: 0.1.
	Gamma float64 `yaml:"gamma"`
	// Delta is the seasonal smoothing constant δ. Default: 0.3.
	Delta float64 `yaml:"delta"`
	// Eta is the exogenous-weight learning rate η. Default: 0.01.
	Eta float64 `yaml:"eta"`
	// SeasonLength s is the number of season buckets (minute-of-hour). Default: 60.
	SeasonLength int `yaml:"season_length"`
	// OutlierWindow is how many retained observations feed the rolling
	// mean/σ used for outlier clipping. Default: 500.
	OutlierWindow int `yaml:"outlier_window"`
	// MinObservationsForClipping is the number of observations required
	// before 3σ clipping kicks in (otherwise clip to [0, max]). Default: 10.
	MinObservationsForClipping int `yaml:"min_observations_for_clipping"`
	// SampleInterval is the minimum spacing between ingested observations.
	// Default: 1m (spec §9: "samples at most once per minute").
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// BreakerConfig holds persistence circuit breaker parameters.
type BreakerConfig struct {
	// FailureThreshold is how long persistence must continuously fail
	// before the breaker trips. Default: 30s.
	FailureThreshold time.Duration `yaml:"failure_threshold"`
}

// SweepConfig holds auto-exit sweeper parameters.
type SweepConfig struct {
	// Interval is the sweep tick period. Default: 60s.
	Interval time.Duration `yaml:"interval"`
}

// ScheduleConfig holds status-scheduler parameters.
type ScheduleConfig struct {
	// Interval is the scheduler tick period. Default: 60s.
	Interval time.Duration `yaml:"interval"`

	// AutoScheduleEnabled turns on the auto-open/auto-close wall-clock
	// scheduler. Default: false (status is operator-controlled only).
	AutoScheduleEnabled bool `yaml:"auto_schedule_enabled"`
	// AutoOpen is the "HH:MM" time at which status flips to OPEN.
	AutoOpen string `yaml:"auto_open"`
	// AutoClose is the "HH:MM" time at which status flips to CLOSED.
	AutoClose string `yaml:"auto_close"`
}

// StorageConfig holds BoltDB parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	// Default: /var/lib/occuplex/occuplex.db.
	DBPath string `yaml:"db_path"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`

	// LogRotation configures on-disk log rotation via lumberjack. If
	// FilePath is empty, logs go to stderr and rotation is disabled.
	LogRotation LogRotationConfig `yaml:"log_rotation"`
}

// LogRotationConfig mirrors natefinch/lumberjack's knobs.
type LogRotationConfig struct {
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TracingConfig holds OpenTelemetry tracing parameters.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // none | stdout | otlp-grpc
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	OTLPInsecure bool    `yaml:"otlp_insecure"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// AdminConfig holds the admin override Unix socket parameters.
type AdminConfig struct {
	// SocketPath is the Unix domain socket path for operator tooling.
	// Permissions: 0600, owned by root. Default: /run/occuplex/admin.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the admin socket is active. Default: true.
	Enabled bool `yaml:"enabled"`
}

// DefaultDBPath mirrors the storage package constant for use in config defaults.
const DefaultDBPath = "/var/lib/occuplex/occuplex.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Admission: AdmissionConfig{
			MaxCapacity:     50,
			SessionLength:   time.Hour,
			FrequencyWindow: 30 * 24 * time.Hour,
		},
		Ranker: RankerConfig{
			WeightTime:            0.20,
			WeightRemaining:       0.10,
			WeightOrder:           0.10,
			WeightRecency:         0.08,
			WeightFrequency:       0.08,
			WeightPrivilege:       0.08,
			WeightAge:             0.05,
			WeightDemographic:     0.04,
			WeightCooperativeness: 0.12,
			WeightDemand:          0.15,
			TimeMaxMinutes:        120,
			RemainingMaxMinutes:   120,
			RecencyWindowDays:     30,
			FrequencyCap:          10,
			AgeMax:                70,
		},
		Forecast: ForecastConfig{
			Alpha:                      0.3,
			Gamma:                      0.1,
			Delta:                      0.3,
			Eta:                        0.01,
			SeasonLength:               60,
			OutlierWindow:              500,
			MinObservationsForClipping: 10,
			SampleInterval:             time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 30 * time.Second,
		},
		Sweep: SweepConfig{
			Interval: 60 * time.Second,
		},
		Schedule: ScheduleConfig{
			Interval:            60 * time.Second,
			AutoScheduleEnabled: false,
			AutoOpen:            "08:00",
			AutoClose:           "22:00",
		},
		Storage: StorageConfig{
			DBPath: DefaultDBPath,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ExporterType: "none",
			SampleRate:   1.0,
		},
		Admin: AdminConfig{
			Enabled:    true,
			SocketPath: "/run/occuplex/admin.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Admission.MaxCapacity < 0 || cfg.Admission.MaxCapacity > 10000 {
		errs = append(errs, fmt.Sprintf("admission.max_capacity must be in [0, 10000], got %d", cfg.Admission.MaxCapacity))
	}
	if cfg.Admission.SessionLength <= 0 {
		errs = append(errs, "admission.session_length must be > 0")
	}

	weightSum := cfg.Ranker.WeightTime + cfg.Ranker.WeightRemaining + cfg.Ranker.WeightOrder +
		cfg.Ranker.WeightRecency + cfg.Ranker.WeightFrequency + cfg.Ranker.WeightPrivilege +
		cfg.Ranker.WeightAge + cfg.Ranker.WeightDemographic + cfg.Ranker.WeightCooperativeness +
		cfg.Ranker.WeightDemand
	if math.Abs(weightSum-1.0) > 1e-9 {
		errs = append(errs, fmt.Sprintf("ranker weights must sum to 1.0, got %f", weightSum))
	}
	for name, w := range map[string]float64{
		"weight_time": cfg.Ranker.WeightTime, "weight_remaining": cfg.Ranker.WeightRemaining,
		"weight_order": cfg.Ranker.WeightOrder, "weight_recency": cfg.Ranker.WeightRecency,
		"weight_frequency": cfg.Ranker.WeightFrequency, "weight_privilege": cfg.Ranker.WeightPrivilege,
		"weight_age": cfg.Ranker.WeightAge, "weight_demographic": cfg.Ranker.WeightDemographic,
		"weight_cooperativeness": cfg.Ranker.WeightCooperativeness, "weight_demand": cfg.Ranker.WeightDemand,
	} {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("ranker.%s must be >= 0, got %f", name, w))
		}
	}

	for name, v := range map[string]float64{
		"alpha": cfg.Forecast.Alpha, "gamma": cfg.Forecast.Gamma,
		"delta": cfg.Forecast.Delta, "eta": cfg.Forecast.Eta,
	} {
		if v < 0.0 || v > 1.0 {
			errs = append(errs, fmt.Sprintf("forecast.%s must be in [0.0, 1.0], got %f", name, v))
		}
	}
	if cfg.Forecast.SeasonLength < 1 {
		errs = append(errs, fmt.Sprintf("forecast.season_length must be >= 1, got %d", cfg.Forecast.SeasonLength))
	}
	if cfg.Forecast.SampleInterval <= 0 {
		errs = append(errs, "forecast.sample_interval must be > 0")
	}

	if cfg.Breaker.FailureThreshold <= 0 {
		errs = append(errs, "breaker.failure_threshold must be > 0")
	}
	if cfg.Sweep.Interval <= 0 {
		errs = append(errs, "sweep.interval must be > 0")
	}
	if cfg.Schedule.Interval <= 0 {
		errs = append(errs, "schedule.interval must be > 0")
	}
	if cfg.Schedule.AutoScheduleEnabled {
		if !isValidClockString(cfg.Schedule.AutoOpen) {
			errs = append(errs, fmt.Sprintf("schedule.auto_open must be \"HH:MM\", got %q", cfg.Schedule.AutoOpen))
		}
		if !isValidClockString(cfg.Schedule.AutoClose) {
			errs = append(errs, fmt.Sprintf("schedule.auto_close must be \"HH:MM\", got %q", cfg.Schedule.AutoClose))
		}
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}

	switch cfg.Tracing.ExporterType {
	case "none", "stdout", "otlp-grpc":
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter_type must be one of none|stdout|otlp-grpc, got %q", cfg.Tracing.ExporterType))
	}
	if cfg.Tracing.SampleRate < 0.0 || cfg.Tracing.SampleRate > 1.0 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be in [0.0, 1.0], got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// isValidClockString reports whether s is a well-formed "HH:MM" time.
func isValidClockString(s string) bool {
	var h, m int
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &m); err != nil {
		return false
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
