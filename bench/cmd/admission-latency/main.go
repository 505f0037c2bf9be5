// Package bench — admission-latency/main.go
//
// Admission scan latency benchmark.
//
// Measures the time from a scan arriving at admission.Controller.HandleScan
// to its outcome being returned, under steady entry/exit churn against a
// fixed-capacity space.
//
// Method:
//  1. Opens a throwaway BoltDB in a temp file.
//  2. Builds an admission.Controller at the configured capacity.
//  3. Runs N scans: occupant IDs cycle through a fixed pool, so roughly
//     half the scans are entries and half are exits once the pool has
//     cycled once.
//  4. Each call is timed with time.Now() immediately before and after.
//  5. Results are written to a CSV file.
//
// Output CSV columns:
//
//	iteration, occupant, latency_us, outcome
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/occuplex/occuplex/internal/admission"
	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/config"
	"github.com/occuplex/occuplex/internal/eventlog"
	"github.com/occuplex/occuplex/internal/ranker"
	"github.com/occuplex/occuplex/internal/registry"
	"github.com/occuplex/occuplex/internal/storage"
)

func main() {
	iterations := flag.Int("iterations", 20000, "Number of scans to measure")
	capacityN := flag.Int("capacity", 150, "Simulated space max capacity")
	poolSize := flag.Int("pool", 200, "Number of distinct occupant IDs cycled through")
	outputFile := flag.String("output", "admission_latency_raw.csv", "Output CSV file path")
	p99Target := flag.Int("p99-target-us", 500, "Fail if p99 latency exceeds this many microseconds")
	flag.Parse()

	dbPath := filepath.Join(os.TempDir(), fmt.Sprintf("occuplex-bench-%d.db", time.Now().UnixNano()))
	db, err := storage.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage.Open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	defer os.Remove(dbPath)

	cfg := config.Defaults()
	cfg.Admission.MaxCapacity = *capacityN
	weights := ranker.NewWeights(cfg.Ranker)

	ctrl := admission.New(registry.New(), eventlog.New(db), db, clock.New(), weights, cfg.Admission, *capacityN, "OPEN")

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "occupant", "latency_us", "outcome"})

	latenciesUs := make([]int, 0, *iterations)

	for i := 0; i < *iterations; i++ {
		occupant := fmt.Sprintf("bench-occupant-%d", i%(*poolSize))

		start := time.Now()
		result, err := ctrl.HandleScan(occupant, time.Now())
		latency := time.Since(start)
		latencyUs := int(latency.Microseconds())
		latenciesUs = append(latenciesUs, latencyUs)

		outcome := "ERROR"
		if err == nil {
			outcome = result.Outcome.String()
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			occupant,
			strconv.Itoa(latencyUs),
			outcome,
		})
	}

	p50, p95, p99 := computePercentiles(latenciesUs)

	fmt.Printf("Admission Scan Latency Results (%d iterations, capacity=%d, pool=%d)\n", *iterations, *capacityN, *poolSize)
	fmt.Printf("  p50: %dµs\n", p50)
	fmt.Printf("  p95: %dµs\n", p95)
	fmt.Printf("  p99: %dµs\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	if p99 > *p99Target {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dµs exceeds %dµs target\n", p99, *p99Target)
		os.Exit(1)
	}
}

func computePercentiles(samples []int) (p50, p95, p99 int) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := append([]int(nil), samples...)
	sort.Ints(sorted)

	idx := func(pct float64) int {
		i := int(pct * float64(len(sorted)))
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return i
	}
	return sorted[idx(0.50)], sorted[idx(0.95)], sorted[idx(0.99)]
}
