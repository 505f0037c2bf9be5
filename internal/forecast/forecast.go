// Package forecast implements an online Holt-Winters exponential smoothing
// model with an exogenous regressor, used to project occupancy forward by
// up to 60 minutes.
//
// The model keeps level, trend and a 60-bucket (minute-of-hour) seasonal
// profile, plus a learned weight on an exogenous signal (the facade feeds
// net_rate = entries - exits per sample interval). Observations are ingested at most once per minute;
// sub-minute updates collapse to the latest sample in that minute's bucket.
//
// Mirrors the teacher's mutex-guarded Engine/Score() shape (internal
// anomaly scoring engine): a single Engine type owns all smoothing state
// behind its own mutex, never taken while the admission space lock is
// held, and exposes a stateless-looking Observe/Forecast API to callers.
package forecast

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Config mirrors config.ForecastConfig's numeric knobs without importing
// the config package, so this model can be unit tested and used by the
// forecastsim backtest tool without a full Config value.
type Config struct {
	Alpha                      float64
	Gamma                      float64
	Delta                      float64
	Eta                        float64
	SeasonLength               int
	OutlierWindow              int
	MinObservationsForClipping int
	SampleInterval             time.Duration
	MaxCapacity                int
}

// Observation is one occupancy sample fed to the model.
type Observation struct {
	Timestamp time.Time
	Value     float64 // occupancy count at Timestamp
	Exogenous float64 // x_t, the net_rate (entries - exits) for the interval
}

// Point is one step of a multi-step forecast.
type Point struct {
	Timestamp  time.Time
	Value      int
	Confidence float64
}

// Engine holds the online Holt-Winters state.
type Engine struct {
	mu sync.Mutex

	cfg Config

	level    float64
	trend    float64
	seasonal []float64
	beta     float64

	initialized   bool
	lastBucket    time.Time
	lastExogenous float64

	// preBucket* snapshots the state as it stood before the first sample in
	// the current minute bucket was applied, so a later sample landing in
	// the same bucket can collapse cleanly: revert to the snapshot, then
	// apply only the newest value, rather than compounding both samples.
	havePreBucket      bool
	preBucketLevel     float64
	preBucketTrend     float64
	preBucketBeta      float64
	preBucketSeasonIdx int
	preBucketSeasonVal float64

	retained []float64 // last cfg.OutlierWindow retained (post-clip) values, for outlier stats
}

// New constructs an Engine. cfg.SeasonLength defaults to 60 if <= 0.
func New(cfg Config) *Engine {
	if cfg.SeasonLength <= 0 {
		cfg.SeasonLength = 60
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = time.Minute
	}
	return &Engine{
		cfg:      cfg,
		seasonal: make([]float64, cfg.SeasonLength),
	}
}

// seasonIndex maps a timestamp to its season bucket: minute-of-hour modulo
// SeasonLength.
func (e *Engine) seasonIndex(t time.Time) int {
	return t.Minute() % e.cfg.SeasonLength
}

// minuteBucket truncates t to the minute, enforcing the at-most-once-per-
// minute sampling rule.
func minuteBucket(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// ColdStart initialises level, trend and the seasonal profile from a batch
// of historical observations (must be chronologically sorted; ColdStart
// sorts defensively), then replays them through the online update rule so
// the model enters steady state before serving forecasts.
func (e *Engine) ColdStart(history []Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(history) == 0 {
		return
	}
	sorted := make([]Observation, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	n := len(sorted)
	firstN := sorted
	if n > 10 {
		firstN = sorted[:10]
	}
	var sum float64
	for _, o := range firstN {
		sum += o.Value
	}
	e.level = sum / float64(len(firstN))
	e.trend = (sorted[n-1].Value - sorted[0].Value) / float64(n)

	seasonSum := make([]float64, e.cfg.SeasonLength)
	seasonCount := make([]int, e.cfg.SeasonLength)
	for _, o := range sorted {
		idx := e.seasonIndex(o.Timestamp)
		seasonSum[idx] += o.Value - e.level
		seasonCount[idx]++
	}
	for i := range e.seasonal {
		if seasonCount[i] > 0 {
			e.seasonal[i] = seasonSum[i] / float64(seasonCount[i])
		}
	}

	e.initialized = true
	e.lastBucket = time.Time{}
	e.havePreBucket = false
	for _, o := range sorted {
		e.observeLocked(o)
	}
}

// Observe ingests one observation, updating level, trend, seasonal and
// exogenous weight. Observations within the same minute bucket as the last
// one collapse: only the latest value in a bucket is applied.
func (e *Engine) Observe(o Observation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeLocked(o)
}

func (e *Engine) observeLocked(o Observation) {
	bucket := minuteBucket(o.Timestamp)
	idx := e.seasonIndex(o.Timestamp)

	if e.initialized && e.havePreBucket && bucket.Equal(e.lastBucket) {
		// Same minute bucket as the last applied sample: collapse by
		// reverting to the pre-bucket snapshot before re-applying, so only
		// the latest value in the bucket affects the model.
		e.level = e.preBucketLevel
		e.trend = e.preBucketTrend
		e.beta = e.preBucketBeta
		e.seasonal[e.preBucketSeasonIdx] = e.preBucketSeasonVal
		if len(e.retained) > 0 {
			e.retained = e.retained[:len(e.retained)-1]
		}
	} else {
		e.preBucketLevel = e.level
		e.preBucketTrend = e.trend
		e.preBucketBeta = e.beta
		e.preBucketSeasonIdx = idx
		e.preBucketSeasonVal = e.seasonal[idx]
		e.havePreBucket = true
	}
	e.lastBucket = bucket

	yt := e.clipOutlier(o.Value)

	if !e.initialized {
		e.level = yt
		e.initialized = true
	}

	si := e.seasonal[idx]

	prevLevel := e.level
	prevTrend := e.trend

	predicted := prevLevel + prevTrend + si + e.beta*o.Exogenous
	errVal := yt - predicted

	e.level = e.cfg.Alpha*(yt-si-e.beta*o.Exogenous) + (1-e.cfg.Alpha)*(prevLevel+prevTrend)
	e.trend = e.cfg.Gamma*(e.level-prevLevel) + (1-e.cfg.Gamma)*prevTrend
	e.seasonal[idx] = e.cfg.Delta*(yt-e.level-e.beta*o.Exogenous) + (1-e.cfg.Delta)*si
	e.beta = clamp01(e.beta + e.cfg.Eta*errVal*o.Exogenous)
	e.lastExogenous = o.Exogenous

	e.retained = append(e.retained, yt)
	if len(e.retained) > maxInt(e.cfg.OutlierWindow, 1) {
		e.retained = e.retained[len(e.retained)-e.cfg.OutlierWindow:]
	}
}

// clipOutlier bounds a raw observation before it enters the smoothing
// update: once enough retained observations exist, clip to
// [mean-3sigma, mean+3sigma] (computed over the last OutlierWindow
// retained values); before that, simply clip to [0, MaxCapacity].
func (e *Engine) clipOutlier(y float64) float64 {
	maxCap := float64(e.cfg.MaxCapacity)
	if maxCap <= 0 {
		maxCap = math.MaxFloat64
	}
	if len(e.retained) < e.cfg.MinObservationsForClipping {
		return clampRange(y, 0, maxCap)
	}
	mean, sigma := meanStd(e.retained)
	lo := math.Max(0, mean-3*sigma)
	hi := math.Min(maxCap, mean+3*sigma)
	if hi < lo {
		hi = lo
	}
	return clampRange(y, lo, hi)
}

// Forecast produces k-step-ahead predictions starting one sample interval
// after the last observed timestamp (now), for horizons 1..steps.
func (e *Engine) Forecast(now time.Time, steps int) []Point {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Point, 0, steps)
	lastExo := e.lastExogenous
	for j := 1; j <= steps; j++ {
		ts := now.Add(time.Duration(j) * e.cfg.SampleInterval)
		idx := e.seasonIndex(ts)
		raw := e.level + float64(j)*e.trend + e.seasonal[idx] + e.beta*lastExo

		maxCap := float64(e.cfg.MaxCapacity)
		if maxCap <= 0 {
			maxCap = math.MaxFloat64
		}
		val := clampRange(raw, 0, maxCap)

		confidence := math.Max(0.1, math.Exp(-float64(j)/30.0))

		out = append(out, Point{
			Timestamp:  ts,
			Value:      int(math.Round(val)),
			Confidence: round3(confidence),
		})
	}
	return out
}

// State exposes the engine's current level/trend/beta for diagnostics
// (admin list_scored-style introspection, metrics).
type State struct {
	Level   float64
	Trend   float64
	Beta    float64
	NetRate float64 // last exogenous input (entry_rate - exit_rate) applied
}

// CurrentState returns a snapshot of the model's internal state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{Level: e.level, Trend: e.trend, Beta: e.beta, NetRate: e.lastExogenous}
}

func clamp01(v float64) float64 { return clampRange(v, 0, 1) }

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sqSum float64
	for _, x := range xs {
		d := x - mean
		sqSum += d * d
	}
	std = math.Sqrt(sqSum / float64(len(xs)))
	return mean, std
}
