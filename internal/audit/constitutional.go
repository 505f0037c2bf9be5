// Package audit enforces occuplex's core invariants on every occupancy
// decision before it is allowed to take effect, and maintains a
// tamper-evident hash chain over the decision history.
//
// INVARIANTS ENFORCED (spec §3):
//  1. Occupancy bounds — current occupancy is never negative and never
//     exceeds max_capacity at the moment a decision is accepted.
//  2. Event log append-only — every decision carries the evidence (Inputs)
//     used to reach it; a decision with no recorded evidence is rejected.
//  3. Monotonic time — decision timestamps never move backwards relative
//     to the last validated decision; a forward jump larger than the
//     clock-skew tolerance is logged as a warning but accepted.
//  4. Bounded status — status transitions are restricted to the known
//     status enum (OPEN, CLOSED, MAINTENANCE).
//  5. No NaN/Inf — computed scores feeding a decision are always finite.
//  6. Reproducibility — every decision is chained to its predecessor by
//     a SHA256 hash of its canonical inputs, so the full history can be
//     replayed and verified.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViolationType identifies which invariant a decision failed.
type ViolationType string

const (
	ViolationOccupancyOutOfBounds ViolationType = "occupancy_out_of_bounds"
	ViolationNonMonotonicTime     ViolationType = "non_monotonic_time"
	ViolationMissingEvidence      ViolationType = "missing_evidence"
	ViolationNaNInf               ViolationType = "nan_inf_detected"
	ViolationInvalidStatus        ViolationType = "invalid_status"
	ViolationHashMismatch         ViolationType = "hash_mismatch"
)

// Violation represents a failed invariant check.
type Violation struct {
	Type      ViolationType          `json:"type"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", v.Type, v.Message)
}

// ScanDecision is an occupancy-affecting decision submitted for validation:
// an admission outcome, a forced eviction, or a status transition.
type ScanDecision struct {
	OccupantID       string                 `json:"occupant_id"`
	Outcome          string                 `json:"outcome"`
	Status           string                 `json:"status"`
	CurrentOccupancy int                    `json:"current_occupancy"`
	MaxCapacity      int                    `json:"max_capacity"`
	Timestamp        time.Time              `json:"timestamp"`
	NodeID           string                 `json:"node_id"`
	Inputs           map[string]interface{} `json:"inputs"`
	DecisionHash     string                 `json:"decision_hash"`
	ParentHash       string                 `json:"parent_hash"`
	InvariantsOK     bool                   `json:"invariants_ok"`
}

// Bounds defines the allowed ranges checked on every decision.
type Bounds struct {
	TimestampSkewTolerance time.Duration
	ValidStatuses          map[string]bool
}

// DefaultBounds returns the production invariant bounds.
func DefaultBounds() Bounds {
	return Bounds{
		TimestampSkewTolerance: 5 * time.Second,
		ValidStatuses: map[string]bool{
			"OPEN":        true,
			"CLOSED":      true,
			"MAINTENANCE": true,
		},
	}
}

// Kernel validates occupancy decisions against occuplex's invariants and
// chains each validated decision to its predecessor by hash.
type Kernel struct {
	mu               sync.RWMutex
	bounds           Bounds
	lastTimestamp    time.Time
	lastDecisionHash string
	violationCount   int64
	verifiedCount    int64
	logger           *zap.Logger
	strict           bool // true: violations panic (test/fuzz mode only)
}

// NewKernel creates an invariant kernel with default bounds.
func NewKernel(logger *zap.Logger, strict bool) *Kernel {
	k := &Kernel{
		bounds:        DefaultBounds(),
		lastTimestamp: time.Now(),
		logger:        logger,
		strict:        strict,
	}

	logger.Info("invariant kernel initialized",
		zap.Bool("strict_mode", strict),
		zap.Duration("time_skew_tolerance", k.bounds.TimestampSkewTolerance),
	)

	return k
}

// Validate enforces all invariants on decision. On success it fills in
// DecisionHash, ParentHash, and InvariantsOK, and advances the chain.
func (k *Kernel) Validate(decision *ScanDecision) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.checkTimeMonotonicity(decision.Timestamp); err != nil {
		return k.handleViolation(err)
	}

	if err := k.checkOccupancyBounds(decision); err != nil {
		return k.handleViolation(err)
	}

	if err := k.checkStatus(decision); err != nil {
		return k.handleViolation(err)
	}

	if err := k.checkFinite(decision); err != nil {
		return k.handleViolation(err)
	}

	if decision.Inputs == nil || len(decision.Inputs) == 0 {
		err := &Violation{
			Type:      ViolationMissingEvidence,
			Message:   "decision has no recorded evidence",
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"occupant_id": decision.OccupantID},
		}
		return k.handleViolation(err)
	}

	hash, err := k.computeDecisionHash(decision)
	if err != nil {
		return fmt.Errorf("audit: compute decision hash: %w", err)
	}
	decision.DecisionHash = hash
	decision.ParentHash = k.lastDecisionHash
	k.lastDecisionHash = hash

	k.lastTimestamp = decision.Timestamp
	k.verifiedCount++
	decision.InvariantsOK = true

	k.logger.Debug("decision validated",
		zap.String("occupant_id", decision.OccupantID),
		zap.String("outcome", decision.Outcome),
		zap.String("hash", hash[:16]),
		zap.Int64("verified_count", k.verifiedCount),
	)

	return nil
}

func (k *Kernel) checkTimeMonotonicity(ts time.Time) error {
	if ts.Before(k.lastTimestamp) {
		return &Violation{
			Type:      ViolationNonMonotonicTime,
			Message:   fmt.Sprintf("time went backwards: %v < %v", ts, k.lastTimestamp),
			Timestamp: time.Now(),
			Context: map[string]interface{}{
				"current":  ts.Format(time.RFC3339Nano),
				"previous": k.lastTimestamp.Format(time.RFC3339Nano),
			},
		}
	}

	skew := ts.Sub(k.lastTimestamp)
	if skew > k.bounds.TimestampSkewTolerance {
		k.logger.Warn("large timestamp skew detected",
			zap.Duration("skew", skew),
			zap.Duration("tolerance", k.bounds.TimestampSkewTolerance),
		)
	}

	return nil
}

// checkOccupancyBounds enforces I1: 0 <= current_occupancy <= max_capacity.
func (k *Kernel) checkOccupancyBounds(decision *ScanDecision) error {
	if decision.CurrentOccupancy < 0 {
		return &Violation{
			Type:      ViolationOccupancyOutOfBounds,
			Message:   fmt.Sprintf("current_occupancy %d is negative", decision.CurrentOccupancy),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"occupant_id": decision.OccupantID},
		}
	}
	if decision.MaxCapacity > 0 && decision.CurrentOccupancy > decision.MaxCapacity {
		return &Violation{
			Type:    ViolationOccupancyOutOfBounds,
			Message: fmt.Sprintf("current_occupancy %d exceeds max_capacity %d", decision.CurrentOccupancy, decision.MaxCapacity),
			Timestamp: time.Now(),
			Context: map[string]interface{}{
				"occupant_id": decision.OccupantID,
				"current":     decision.CurrentOccupancy,
				"max":         decision.MaxCapacity,
			},
		}
	}
	return nil
}

// checkStatus enforces I4: status stays within the known enum whenever
// a status transition is part of the decision.
func (k *Kernel) checkStatus(decision *ScanDecision) error {
	if decision.Status == "" {
		return nil
	}
	if !k.bounds.ValidStatuses[decision.Status] {
		return &Violation{
			Type:      ViolationInvalidStatus,
			Message:   fmt.Sprintf("status %q is not a recognized status", decision.Status),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"status": decision.Status},
		}
	}
	return nil
}

// checkFinite enforces I5: any numeric evidence attached to the decision
// (e.g. a removal score) must be finite.
func (k *Kernel) checkFinite(decision *ScanDecision) error {
	for key, v := range decision.Inputs {
		f, ok := v.(float64)
		if !ok {
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &Violation{
				Type:      ViolationNaNInf,
				Message:   fmt.Sprintf("input %q is NaN or Inf: %f", key, f),
				Timestamp: time.Now(),
				Context:   map[string]interface{}{"occupant_id": decision.OccupantID, "field": key},
			}
		}
	}
	return nil
}

// computeDecisionHash creates a canonical SHA256 hash of the decision's
// inputs, chaining it to the decision history (I6).
func (k *Kernel) computeDecisionHash(decision *ScanDecision) (string, error) {
	canonical := map[string]interface{}{
		"occupant_id":       decision.OccupantID,
		"outcome":           decision.Outcome,
		"status":            decision.Status,
		"current_occupancy": decision.CurrentOccupancy,
		"max_capacity":      decision.MaxCapacity,
		"timestamp":         decision.Timestamp.UnixNano(),
		"node_id":           decision.NodeID,
		"inputs":            decision.Inputs,
	}

	jsonBytes, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}

	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:]), nil
}

// handleViolation records a violation. In strict mode it panics
// (for fuzzing and integration tests); in production it logs and returns
// the violation as an error so the caller can refuse the decision.
func (k *Kernel) handleViolation(err error) error {
	k.violationCount++

	violation, ok := err.(*Violation)
	if !ok {
		violation = &Violation{
			Type:      ViolationType("unknown"),
			Message:   err.Error(),
			Timestamp: time.Now(),
		}
	}

	k.logger.Error("invariant violation",
		zap.String("type", string(violation.Type)),
		zap.String("message", violation.Message),
		zap.Any("context", violation.Context),
		zap.Int64("total_violations", k.violationCount),
	)

	if k.strict {
		panic(fmt.Sprintf("invariant violation in strict mode: %v", violation))
	}

	return violation
}

// Stats summarizes kernel activity.
type Stats struct {
	DecisionsVerified int64  `json:"decisions_verified"`
	ViolationCount    int64  `json:"violation_count"`
	LastDecisionHash  string `json:"last_decision_hash"`
}

// GetStats returns current kernel statistics.
func (k *Kernel) GetStats() Stats {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return Stats{
		DecisionsVerified: k.verifiedCount,
		ViolationCount:    k.violationCount,
		LastDecisionHash:  k.lastDecisionHash,
	}
}
