// Package ranker computes the removal-priority score used to decide which
// occupant is evicted when the space is full and a new entry is admitted.
//
// The score is a weighted sum of ten factors, each normalized to [0, 1],
// where a higher score means "more eligible for removal". Weights are
// loaded from config.RankerConfig and must sum to 1.0 (enforced by
// config.Validate and re-asserted in NewWeights as a defensive invariant
// check, mirroring the severity weight bookkeeping in the teacher's scoring
// code).
package ranker

import (
	"math"
	"sort"
	"time"

	"github.com/occuplex/occuplex/internal/config"
)

// Weights mirrors config.RankerConfig but is validated once at construction
// so the hot path never re-checks it.
type Weights struct {
	Time            float64
	Remaining       float64
	Order           float64
	Recency         float64
	Frequency       float64
	Privilege       float64
	Age             float64
	Demographic     float64
	Cooperativeness float64
	Demand          float64

	TimeMaxMinutes      float64
	RemainingMaxMinutes float64
	RecencyWindowDays   float64
	FrequencyCap        float64
	AgeMax              float64
}

// NewWeights builds a Weights from a validated config.RankerConfig.
// Panics if the weights do not sum to 1.0 within tolerance: config.Validate
// is expected to have already rejected any config that would trigger this,
// so reaching here with bad weights indicates a programming error, not a
// runtime condition callers should handle.
func NewWeights(c config.RankerConfig) Weights {
	w := Weights{
		Time:                c.WeightTime,
		Remaining:           c.WeightRemaining,
		Order:               c.WeightOrder,
		Recency:             c.WeightRecency,
		Frequency:           c.WeightFrequency,
		Privilege:           c.WeightPrivilege,
		Age:                 c.WeightAge,
		Demographic:         c.WeightDemographic,
		Cooperativeness:     c.WeightCooperativeness,
		Demand:              c.WeightDemand,
		TimeMaxMinutes:      c.TimeMaxMinutes,
		RemainingMaxMinutes: c.RemainingMaxMinutes,
		RecencyWindowDays:   c.RecencyWindowDays,
		FrequencyCap:        c.FrequencyCap,
		AgeMax:              c.AgeMax,
	}
	sum := w.Time + w.Remaining + w.Order + w.Recency + w.Frequency +
		w.Privilege + w.Age + w.Demographic + w.Cooperativeness + w.Demand
	if math.Abs(sum-1.0) > 1e-6 {
		panic("ranker: weights do not sum to 1.0; config.Validate should have rejected this")
	}
	return w
}

// DemandLevel classifies the current time-of-day demand band.
type DemandLevel int

const (
	DemandOffPeak DemandLevel = iota
	DemandSemiPeak
	DemandPeak
)

// Candidate is the full set of inputs the ranker needs about one occupant's
// open session in order to score it for removal.
type Candidate struct {
	OccupantID string

	EntryTime time.Time
	Deadline  time.Time
	RankOrder int // 1-based position by entry time, earliest = 1
	TotalInside int

	// DaysSinceLastVisit is -1 if unknown.
	DaysSinceLastVisit float64
	// VisitsInWindow is the occupant's visit count in the frequency window.
	VisitsInWindow float64
	Privileged     bool
	// AgeYears is nil if unknown.
	AgeYears *int
	// VoluntaryExitScore in [0,1]; higher means more likely to leave
	// voluntarily. Absent data should be passed as 0.5 (neutral).
	VoluntaryExitScore float64
}

// Scored pairs a Candidate with its computed removal score and factor
// breakdown, used both for eviction decisions and the list_scored admin
// command.
type Scored struct {
	Candidate Candidate
	Score     float64
	Factors   map[string]float64
}

// Score computes the removal score for one candidate at time now, given the
// current demand level.
func Score(w Weights, c Candidate, now time.Time, demand DemandLevel) Scored {
	factors := make(map[string]float64, 10)

	elapsedMinutes := now.Sub(c.EntryTime).Minutes()
	factors["time"] = clamp01(elapsedMinutes / nonZero(w.TimeMaxMinutes))

	remainingMinutes := c.Deadline.Sub(now).Minutes()
	factors["remaining"] = clamp01(remainingMinutes / nonZero(w.RemainingMaxMinutes))

	total := c.TotalInside
	if total < 1 {
		total = 1
	}
	factors["order"] = float64(c.RankOrder) / float64(total)

	if c.DaysSinceLastVisit < 0 {
		factors["recency"] = 0
	} else {
		factors["recency"] = math.Max(0, 1-c.DaysSinceLastVisit/nonZero(w.RecencyWindowDays))
	}

	factors["frequency"] = 1 - clamp01(c.VisitsInWindow/nonZero(w.FrequencyCap))

	if c.Privileged {
		factors["privilege"] = 0
	} else {
		factors["privilege"] = 1
	}

	if c.AgeYears == nil {
		factors["age"] = 0.5
	} else {
		factors["age"] = clamp01((w.AgeMax - float64(*c.AgeYears)) / nonZero(w.AgeMax))
	}

	factors["demographic"] = 0.5

	factors["cooperativeness"] = clamp01(1 - clamp01(c.VoluntaryExitScore))

	switch demand {
	case DemandPeak:
		factors["demand"] = 1.0
	case DemandSemiPeak:
		factors["demand"] = 0.5
	default:
		factors["demand"] = 0.2
	}

	total0 := w.Time*factors["time"] +
		w.Remaining*factors["remaining"] +
		w.Order*factors["order"] +
		w.Recency*factors["recency"] +
		w.Frequency*factors["frequency"] +
		w.Privilege*factors["privilege"] +
		w.Age*factors["age"] +
		w.Demographic*factors["demographic"] +
		w.Cooperativeness*factors["cooperativeness"] +
		w.Demand*factors["demand"]

	score := clamp01(round3(total0))

	return Scored{Candidate: c, Score: score, Factors: factors}
}

// ClassifyDemand maps a time of day to a DemandLevel per the schedule:
// peak 09:00-12:00 and 17:00-20:00, semi-peak 08:00-09:00 and 20:00-21:00,
// off-peak otherwise.
func ClassifyDemand(now time.Time) DemandLevel {
	h := now.Hour()
	switch {
	case h >= 9 && h < 12, h >= 17 && h < 20:
		return DemandPeak
	case h >= 8 && h < 9, h >= 20 && h < 21:
		return DemandSemiPeak
	default:
		return DemandOffPeak
	}
}

// RankForEviction scores every candidate and returns them sorted with the
// top removal candidate first. Tie-break order: score descending, then
// non-privileged before privileged, then earliest entry time, then lowest
// sequence number.
func RankForEviction(w Weights, candidates []Candidate, now time.Time, seqOf map[string]uint64) []Scored {
	demand := ClassifyDemand(now)
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, Score(w, c, now, demand))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.Privileged != b.Candidate.Privileged {
			return !a.Candidate.Privileged
		}
		if !a.Candidate.EntryTime.Equal(b.Candidate.EntryTime) {
			return a.Candidate.EntryTime.Before(b.Candidate.EntryTime)
		}
		return seqOf[a.Candidate.OccupantID] < seqOf[b.Candidate.OccupantID]
	})
	return scored
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
