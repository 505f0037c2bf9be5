// Package main — cmd/occuplex-forecastsim/main.go
//
// Forecast backtest harness.
//
// Generates a synthetic occupancy trace (a diurnal base load with morning
// and evening Gaussian peaks, plus Gaussian noise), walks it through
// internal/forecast.Engine one observation at a time, and at each step
// holds out the engine's h-step-ahead forecast to compare against the
// actual future value once it arrives.
//
// Output: per-step CSV to stdout (step, horizon, predicted, actual, abs_error).
// Summary: mean absolute error per horizon step, to stderr.
//
// Usage:
//
//	occuplex-forecastsim -steps 2880 -horizon 10 -capacity 200
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/occuplex/occuplex/internal/forecast"
)

func main() {
	steps := flag.Int("steps", 2880, "Number of one-minute simulation steps (2880 = 2 days)")
	horizon := flag.Int("horizon", 10, "Forecast horizon in steps to backtest")
	capacity := flag.Int("capacity", 200, "Simulated space max capacity")
	noise := flag.Float64("noise", 5.0, "Standard deviation of occupancy noise")
	seed := flag.Int64("seed", 42, "Random seed")
	maeThreshold := flag.Float64("mae-threshold", 25.0, "Fail if the MAE at the -horizon step exceeds this")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	trace := make([]float64, *steps+*horizon)
	for i := range trace {
		trace[i] = syntheticOccupancy(i, *capacity, rng, *noise)
	}

	engine := forecast.New(forecast.Config{
		Alpha:                      0.3,
		Gamma:                      0.1,
		Delta:                      0.1,
		Eta:                        0.05,
		SeasonLength:               60,
		OutlierWindow:              30,
		MinObservationsForClipping: 10,
		SampleInterval:             time.Minute,
		MaxCapacity:                *capacity,
	})

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()
	_ = w.Write([]string{"step", "horizon", "predicted", "actual", "abs_error"})

	sumAbsErr := make([]float64, *horizon+1)
	countAbsErr := make([]int, *horizon+1)

	for i := 0; i < *steps; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		engine.Observe(forecast.Observation{Timestamp: ts, Value: trace[i]})

		points := engine.Forecast(ts, *horizon)
		for h, p := range points {
			actualIdx := i + h + 1
			if actualIdx >= len(trace) {
				continue
			}
			actual := trace[actualIdx]
			absErr := math.Abs(float64(p.Value) - actual)

			_ = w.Write([]string{
				strconv.Itoa(i),
				strconv.Itoa(h + 1),
				strconv.Itoa(p.Value),
				strconv.FormatFloat(actual, 'f', 2, 64),
				strconv.FormatFloat(absErr, 'f', 2, 64),
			})

			sumAbsErr[h+1] += absErr
			countAbsErr[h+1]++
		}
	}

	fmt.Fprintf(os.Stderr, "\n=== FORECAST BACKTEST RESULTS ===\n")
	fmt.Fprintf(os.Stderr, "Steps: %d  Horizon: %d  Capacity: %d  Seed: %d\n", *steps, *horizon, *capacity, *seed)
	var maeAtHorizon float64
	for h := 1; h <= *horizon; h++ {
		if countAbsErr[h] == 0 {
			continue
		}
		mae := sumAbsErr[h] / float64(countAbsErr[h])
		fmt.Fprintf(os.Stderr, "  MAE at horizon %2d: %.3f\n", h, mae)
		if h == *horizon {
			maeAtHorizon = mae
		}
	}

	if maeAtHorizon > *maeThreshold {
		fmt.Fprintf(os.Stderr, "FAIL: MAE at horizon %d (%.3f) exceeds threshold %.3f\n", *horizon, maeAtHorizon, *maeThreshold)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "PASS: MAE at horizon %d (%.3f) within threshold %.3f\n", *horizon, maeAtHorizon, *maeThreshold)
}

// syntheticOccupancy generates a diurnal base load (two daily peaks, at
// roughly 9am and 6pm) clamped to [0, capacity], plus Gaussian noise.
func syntheticOccupancy(stepMinutes int, capacity int, rng *rand.Rand, noiseStddev float64) float64 {
	minuteOfDay := float64(stepMinutes % 1440)
	hourOfDay := minuteOfDay / 60.0

	morningPeak := math.Exp(-math.Pow(hourOfDay-9, 2) / (2 * 2.5 * 2.5))
	eveningPeak := math.Exp(-math.Pow(hourOfDay-18, 2) / (2 * 3.0 * 3.0))

	base := float64(capacity) * 0.8 * (0.5*morningPeak + 0.5*eveningPeak)
	value := base + rng.NormFloat64()*noiseStddev

	if value < 0 {
		value = 0
	}
	if value > float64(capacity) {
		value = float64(capacity)
	}
	return value
}
