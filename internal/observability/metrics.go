// Package observability — metrics.go
//
// Prometheus metrics for occuplex.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: occuplex_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - occupant_id is NEVER used as a label (unbounded cardinality); per-
//     occupant outcomes are aggregated before recording.
//   - Scan outcome uses the small, fixed Outcome enum as a label.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for occuplex.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Admission ────────────────────────────────────────────────────────

	// ScansTotal counts processed scans, by outcome (ADMITTED, EXITED,
	// REJECTED_CLOSED, REJECTED_FULL_AND_UNREMOVABLE).
	ScansTotal *prometheus.CounterVec

	// ScanLatency records end-to-end HandleScan latency.
	ScanLatency prometheus.Histogram

	// OccupancyCurrent is the live occupancy counter.
	OccupancyCurrent prometheus.Gauge

	// OccupancyMax is the current max_capacity.
	OccupancyMax prometheus.Gauge

	// EvictionsTotal counts forced evictions, by trigger (capacity, admin).
	EvictionsTotal *prometheus.CounterVec

	// ─── Ranker ───────────────────────────────────────────────────────────

	// RemovalScoreHistogram records the distribution of computed removal scores.
	RemovalScoreHistogram prometheus.Histogram

	// ─── Forecaster ───────────────────────────────────────────────────────

	// ForecastObservationsTotal counts ingested occupancy observations.
	ForecastObservationsTotal prometheus.Counter

	// ForecastLevel is the current Holt-Winters level estimate.
	ForecastLevel prometheus.Gauge

	// ForecastTrend is the current Holt-Winters trend estimate.
	ForecastTrend prometheus.Gauge

	// ─── Sweeper ──────────────────────────────────────────────────────────

	// SweepRunsTotal counts sweep pass executions.
	SweepRunsTotal prometheus.Counter

	// SweptSessionsTotal counts sessions auto-expired by the sweeper.
	SweptSessionsTotal prometheus.Counter

	// ─── Notification hub ─────────────────────────────────────────────────

	// NotifySubscribers is the current subscriber count.
	NotifySubscribers prometheus.Gauge

	// NotifyDroppedTotal counts events dropped due to a full subscriber buffer.
	NotifyDroppedTotal prometheus.Counter

	// ─── Persistence ──────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// BreakerOpen is 1 when the persistence circuit breaker is tripped, else 0.
	BreakerOpen prometheus.Gauge

	// BreakerTripsTotal counts breaker trip events.
	BreakerTripsTotal prometheus.Counter

	// ─── Process ──────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the daemon started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all occuplex Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "admission",
			Name:      "scans_total",
			Help:      "Total scans processed, by outcome.",
		}, []string{"outcome"}),

		ScanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "occuplex",
			Subsystem: "admission",
			Name:      "scan_latency_seconds",
			Help:      "End-to-end HandleScan latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		OccupancyCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "admission",
			Name:      "occupancy_current",
			Help:      "Current number of occupants inside the space.",
		}),

		OccupancyMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "admission",
			Name:      "occupancy_max",
			Help:      "Current configured max capacity.",
		}),

		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "admission",
			Name:      "evictions_total",
			Help:      "Total forced evictions, by trigger.",
		}, []string{"trigger"}),

		RemovalScoreHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "occuplex",
			Subsystem: "ranker",
			Name:      "removal_score",
			Help:      "Distribution of computed removal-priority scores.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		ForecastObservationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "forecast",
			Name:      "observations_total",
			Help:      "Total occupancy observations ingested by the forecaster.",
		}),

		ForecastLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "forecast",
			Name:      "level",
			Help:      "Current Holt-Winters level estimate.",
		}),

		ForecastTrend: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "forecast",
			Name:      "trend",
			Help:      "Current Holt-Winters trend estimate.",
		}),

		SweepRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total sweep passes executed.",
		}),

		SweptSessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "sweeper",
			Name:      "swept_sessions_total",
			Help:      "Total sessions auto-expired by the sweeper.",
		}),

		NotifySubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "notify",
			Name:      "subscribers",
			Help:      "Current number of notification subscribers.",
		}),

		NotifyDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total notification events dropped due to a full subscriber buffer.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "occuplex",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "storage",
			Name:      "breaker_open",
			Help:      "1 if the persistence circuit breaker is tripped, else 0.",
		}),

		BreakerTripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "occuplex",
			Subsystem: "storage",
			Name:      "breaker_trips_total",
			Help:      "Total number of times the persistence circuit breaker has tripped.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "occuplex",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the daemon started.",
		}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanLatency,
		m.OccupancyCurrent,
		m.OccupancyMax,
		m.EvictionsTotal,
		m.RemovalScoreHistogram,
		m.ForecastObservationsTotal,
		m.ForecastLevel,
		m.ForecastTrend,
		m.SweepRunsTotal,
		m.SweptSessionsTotal,
		m.NotifySubscribers,
		m.NotifyDroppedTotal,
		m.StorageWriteLatency,
		m.BreakerOpen,
		m.BreakerTripsTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
