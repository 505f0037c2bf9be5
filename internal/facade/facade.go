// Package facade wires the occuplex subsystems (admission, event log,
// forecaster, notification hub, persistence circuit breaker, invariant
// kernel, scheduler, sweeper) into a single entry point and owns the
// goroutines that keep the background workers running for the lifetime
// of the process, pulled up one level so both cmd/occuplex and the admin
// socket share one object.
package facade

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/occuplex/occuplex/internal/adminsock"
	"github.com/occuplex/occuplex/internal/admission"
	"github.com/occuplex/occuplex/internal/audit"
	"github.com/occuplex/occuplex/internal/breaker"
	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/config"
	"github.com/occuplex/occuplex/internal/eventlog"
	"github.com/occuplex/occuplex/internal/forecast"
	"github.com/occuplex/occuplex/internal/notify"
	"github.com/occuplex/occuplex/internal/observability"
	"github.com/occuplex/occuplex/internal/ranker"
	"github.com/occuplex/occuplex/internal/registry"
	"github.com/occuplex/occuplex/internal/schedule"
	"github.com/occuplex/occuplex/internal/storage"
	"github.com/occuplex/occuplex/internal/sweep"
	"github.com/occuplex/occuplex/internal/tracing"
)

// Facade is the application core. It satisfies adminsock.Facade so the
// admin Unix socket server can be bound directly to it.
type Facade struct {
	cfg *config.Config
	log *zap.Logger
	clk clock.Clock

	db       *storage.DB
	eventLog *eventlog.Log
	registry *registry.Registry

	admission *admission.Controller
	forecast  *forecast.Engine
	hub       *notify.Hub
	breaker   *breaker.Breaker
	kernel    *audit.Kernel

	metrics *observability.Metrics
	tracer  *tracing.Tracer

	sweeper   *sweep.Sweeper
	scheduler *schedule.Scheduler

	lastDropped int64
}

// New constructs a Facade from an opened storage.DB and loaded config. It
// seeds the admission controller from the last persisted capacity/status
// records and replays the last 24 hours of the event log into the
// forecaster's cold start.
func New(cfg *config.Config, db *storage.DB, clk clock.Clock, log *zap.Logger, metrics *observability.Metrics, tracer *tracing.Tracer) (*Facade, error) {
	reg := registry.New()
	evLog := eventlog.New(db)
	if err := evLog.RebuildCounter(); err != nil {
		return nil, fmt.Errorf("facade: rebuild event counter: %w", err)
	}

	initialMax := cfg.Admission.MaxCapacity
	if capRec, err := db.GetCapacity(); err == nil && capRec != nil {
		initialMax = capRec.Max
	}

	initialStatus := "CLOSED"
	if statusRec, err := db.LatestStatus(); err == nil && statusRec != nil {
		initialStatus = statusRec.Status
	}

	weights := ranker.NewWeights(cfg.Ranker)

	ctrl := admission.New(reg, evLog, db, clk, weights, cfg.Admission, initialMax, initialStatus)

	hub := notify.NewHub()
	ctrl.SetNotifier(hub)

	brk := breaker.New(cfg.Breaker.FailureThreshold)
	ctrl.SetBreaker(brk)

	fc := forecast.New(forecast.Config{
		Alpha:                      cfg.Forecast.Alpha,
		Gamma:                      cfg.Forecast.Gamma,
		Delta:                      cfg.Forecast.Delta,
		Eta:                        cfg.Forecast.Eta,
		SeasonLength:               cfg.Forecast.SeasonLength,
		OutlierWindow:              cfg.Forecast.OutlierWindow,
		MinObservationsForClipping: cfg.Forecast.MinObservationsForClipping,
		SampleInterval:             cfg.Forecast.SampleInterval,
		MaxCapacity:                initialMax,
	})

	kernel := audit.NewKernel(log, false)

	f := &Facade{
		cfg:       cfg,
		log:       log,
		clk:       clk,
		db:        db,
		eventLog:  evLog,
		registry:  reg,
		admission: ctrl,
		forecast:  fc,
		hub:       hub,
		breaker:   brk,
		kernel:    kernel,
		metrics:   metrics,
		tracer:    tracer,
	}

	if err := f.coldStartForecast(); err != nil {
		log.Warn("forecast cold start failed", zap.Error(err))
	}

	f.sweeper = sweep.New(ctrl, clk, cfg.Sweep.Interval, log)
	f.scheduler = schedule.New(ctrl, clk, cfg.Schedule.Interval, schedule.Window{
		Enabled:   cfg.Schedule.AutoScheduleEnabled,
		AutoOpen:  cfg.Schedule.AutoOpen,
		AutoClose: cfg.Schedule.AutoClose,
	}, log)

	return f, nil
}

// coldStartForecast replays the persisted event log into occupancy samples
// and feeds the samples from the last 24 hours to the forecaster's cold
// start, so a restarted daemon does not start forecasting from a blank slate.
func (f *Facade) coldStartForecast() error {
	events, err := f.eventLog.ReadAll()
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	cutoff := f.clk.Now().Add(-24 * time.Hour)
	running := 0
	obs := make([]forecast.Observation, 0, len(events))
	for _, e := range events {
		if e.Kind == eventlog.Entry {
			running++
		} else if running > 0 {
			running--
		}
		if e.Timestamp.Before(cutoff) {
			continue
		}
		obs = append(obs, forecast.Observation{Timestamp: e.Timestamp, Value: float64(running)})
	}
	if len(obs) == 0 {
		return nil
	}
	f.forecast.ColdStart(obs)
	return nil
}

// Scan processes one badge scan and records it through the invariant
// kernel. Outcome.String() is suitable for metrics labels and log fields.
func (f *Facade) Scan(occupantID string) (admission.ScanResult, error) {
	start := f.clk.Now()
	ctx, span := f.tracer.StartScanSpan(context.Background(), tracing.ScanSpanOptions{OccupantID: occupantID})
	defer span.End()

	result, err := f.admission.HandleScan(occupantID, start)
	latency := f.clk.Now().Sub(start)

	outcome := result.Outcome.String()
	if f.metrics != nil {
		f.metrics.ScansTotal.WithLabelValues(outcome).Inc()
		f.metrics.ScanLatency.Observe(latency.Seconds())
		for range result.Removed {
			f.metrics.EvictionsTotal.WithLabelValues("capacity").Inc()
		}
	}

	snap := f.admission.GetState()
	if f.metrics != nil {
		f.metrics.OccupancyCurrent.Set(float64(snap.Current))
		f.metrics.OccupancyMax.Set(float64(snap.Max))
		f.metrics.NotifySubscribers.Set(float64(f.hub.SubscriberCount()))
		if f.breaker.IsOpen() {
			f.metrics.BreakerOpen.Set(1)
		} else {
			f.metrics.BreakerOpen.Set(0)
		}
	}

	if err != nil {
		tracing.RecordError(span, err)
	}
	_ = ctx

	decision := &audit.ScanDecision{
		OccupantID:       occupantID,
		Outcome:          outcome,
		Status:           snap.Status,
		CurrentOccupancy: snap.Current,
		MaxCapacity:      snap.Max,
		Timestamp:        start,
		NodeID:           f.cfg.NodeID,
		Inputs:           map[string]interface{}{"latency_seconds": latency.Seconds()},
	}
	if verr := f.kernel.Validate(decision); verr != nil {
		f.log.Warn("scan decision failed invariant validation", zap.Error(verr))
	}

	return result, err
}

// SetMaxCapacity updates the space-wide capacity limit.
func (f *Facade) SetMaxCapacity(max int) error {
	return f.admission.SetMaxCapacity(max, f.clk.Now())
}

// SetStatus transitions the space status.
func (f *Facade) SetStatus(status, message string) error {
	return f.admission.SetStatus(status, message, "admin", f.clk.Now())
}

// ForceRemoveTop evicts the top n ranked occupants.
func (f *Facade) ForceRemoveTop(n int) ([]string, error) {
	removed, err := f.admission.ForceRemoveTop(n, f.clk.Now())
	if f.metrics != nil {
		for range removed {
			f.metrics.EvictionsTotal.WithLabelValues("admin").Inc()
		}
	}
	return removed, err
}

// ListScored returns every open session ranked by removal eligibility.
func (f *Facade) ListScored() []adminsock.ScoredEntry {
	scored := f.admission.ListScored(f.clk.Now())
	out := make([]adminsock.ScoredEntry, 0, len(scored))
	for _, s := range scored {
		out = append(out, adminsock.ScoredEntry{OccupantID: s.Candidate.OccupantID, Score: s.Score})
		if f.metrics != nil {
			f.metrics.RemovalScoreHistogram.Observe(s.Score)
		}
	}
	return out
}

// GetState returns the current occupancy snapshot.
func (f *Facade) GetState() (current, max int, status string) {
	snap := f.admission.GetState()
	return snap.Current, snap.Max, snap.Status
}

// IngestHistory feeds historical occupancy samples to the forecaster.
// EntryRate/ExitRate become the exogenous net_rate signal for each sample.
func (f *Facade) IngestHistory(obs []adminsock.Observation) (int, error) {
	converted := make([]forecast.Observation, 0, len(obs))
	for _, o := range obs {
		converted = append(converted, forecast.Observation{
			Timestamp: o.Timestamp,
			Value:     o.Value,
			Exogenous: o.EntryRate - o.ExitRate,
		})
	}
	f.forecast.ColdStart(converted)
	return len(converted), nil
}

// Forecast returns the next k occupancy forecast points along with the
// current net_rate, crowd status and model state.
func (f *Facade) Forecast(k int) adminsock.ForecastResult {
	points := f.forecast.Forecast(f.clk.Now(), k)
	forecasts := make([]adminsock.ForecastPoint, 0, len(points))
	for _, p := range points {
		forecasts = append(forecasts, adminsock.ForecastPoint{Timestamp: p.Timestamp, Value: p.Value, Confidence: p.Confidence})
	}

	snap := f.admission.GetState()
	state := f.forecast.CurrentState()

	return adminsock.ForecastResult{
		Current:     snap.Current,
		NetRate:     state.NetRate,
		Forecasts:   forecasts,
		CrowdStatus: admission.ClassifyCrowdState(snap.Current, snap.Max),
		ModelState:  adminsock.ModelState{Level: state.Level, Trend: state.Trend, Beta: state.Beta},
	}
}

// Hub exposes the notification hub for subscribers (e.g. a websocket/SSE
// frontend adapter run outside this package).
func (f *Facade) Hub() *notify.Hub { return f.hub }

// Run starts every background worker (sampler, sweeper, scheduler) and
// blocks until ctx is cancelled or one worker fails.
func (f *Facade) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return f.sweeper.Run(ctx)
	})

	g.Go(func() error {
		return f.scheduler.Run(ctx)
	})

	g.Go(func() error {
		return f.runForecastSampler(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runForecastSampler periodically observes current occupancy into the
// forecaster. It always calls f.admission.GetState() (which takes and
// releases the space lock internally) before touching the forecaster's own
// mutex, so the two locks are never held at once.
func (f *Facade) runForecastSampler(ctx context.Context) error {
	interval := f.cfg.Forecast.SampleInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := f.admission.GetState()
			entries, exits := f.eventLog.RateSince()
			netRate := float64(entries - exits)
			f.forecast.Observe(forecast.Observation{Timestamp: f.clk.Now(), Value: float64(snap.Current), Exogenous: netRate})
			if f.metrics != nil {
				f.metrics.ForecastObservationsTotal.Inc()
				state := f.forecast.CurrentState()
				f.metrics.ForecastLevel.Set(state.Level)
				f.metrics.ForecastTrend.Set(state.Trend)

				dropped := f.hub.TotalDropped()
				if delta := dropped - f.lastDropped; delta > 0 {
					f.metrics.NotifyDroppedTotal.Add(float64(delta))
				}
				f.lastDropped = dropped
			}
		}
	}
}

// AdminSocketServer constructs the admin Unix socket server bound to this
// facade. It does not consult cfg.Admin.Enabled; the caller decides whether
// to start it.
func (f *Facade) AdminSocketServer() *adminsock.Server {
	return adminsock.NewServer(f.cfg.Admin.SocketPath, f, f.log)
}
