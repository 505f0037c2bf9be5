// Package plugin defines an interface for custom removal-priority scorers
// and a name-keyed registry for them. The admission controller and facade
// rank with internal/ranker directly and do not consult this registry, and
// no config key selects a scorer; a registered scorer is reachable only
// through Get.
//
// Plugin contract:
//   - Score must be goroutine-safe, fast and non-blocking (no disk, no
//     network).
//   - Name must return a stable, unique string used as the registry key.
//
// Registered in this package: "neutral" (NeutralScorer). Additional scorers
// register themselves from an init() function, mirroring the teacher's
// contrib registration pattern.
package plugin

import (
	"fmt"
	"sync"
	"time"
)

// ScoreRequest is the input to a Scorer's Score method: everything the
// built-in ranker would need, passed generically so third-party scorers
// are not coupled to internal/ranker's Candidate type.
type ScoreRequest struct {
	OccupantID string

	EntryTime time.Time
	Deadline  time.Time
	Now       time.Time

	RankOrder   int
	TotalInside int

	DaysSinceLastVisit float64 // -1 if unknown
	VisitsInWindow     float64
	Privileged         bool
	AgeYears           *int
	VoluntaryExitScore float64
}

// Scorer is the interface a custom removal-priority scorer must implement.
type Scorer interface {
	// Name returns the unique identifier for this scorer, used as its
	// registry key.
	Name() string

	// Score computes a removal-priority score in [0, 1]; higher means more
	// eligible for eviction.
	Score(req ScoreRequest) (float64, error)
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Scorer)
)

// Register adds a Scorer to the registry. Panics if the name is already
// taken, so a misconfigured build fails loudly at init time rather than
// silently shadowing a scorer.
func Register(s Scorer) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[s.Name()]; exists {
		panic(fmt.Sprintf("plugin: scorer %q already registered", s.Name()))
	}
	registry[s.Name()] = s
}

// Get returns the registered Scorer with the given name.
func Get(name string) (Scorer, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("plugin: scorer %q not registered (available: %v)", name, names())
	}
	return s, nil
}

// Names returns the names of all registered scorers.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	return names()
}

func names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	return out
}

// NeutralScorer is a reference implementation shipped in this package: it
// ignores every signal except elapsed time, useful as a baseline to
// sanity-check a custom scorer against or for tiny deployments that don't
// want the full ten-factor model. Registered as "neutral".
type NeutralScorer struct{}

func init() {
	Register(&NeutralScorer{})
}

func (NeutralScorer) Name() string { return "neutral" }

func (NeutralScorer) Score(req ScoreRequest) (float64, error) {
	elapsed := req.Now.Sub(req.EntryTime).Minutes()
	const maxMinutes = 120.0
	if elapsed < 0 {
		return 0, nil
	}
	if elapsed > maxMinutes {
		return 1, nil
	}
	return elapsed / maxMinutes, nil
}
