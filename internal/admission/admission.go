// Package admission implements the core scan-handling state machine: given
// an occupant token, decide whether this is an entry or an exit, enforce
// capacity by evicting the highest-ranked occupant when full, and keep the
// event log, session registry and occupant profiles consistent.
//
// All mutation happens under a single space-wide mutex (Controller.mu), the
// same "one lock protects the whole state machine" shape as the teacher's
// state_machine.go ProcessState. The sweeper (internal/sweep) calls back
// into the same eviction primitive this package exposes so that the forced
// side of an eviction is defined in exactly one place, per the design note
// that scan-triggered and sweep-triggered exits must not diverge.
package admission

import (
	"fmt"
	"time"

	"github.com/occuplex/occuplex/internal/clock"
	"github.com/occuplex/occuplex/internal/config"
	"github.com/occuplex/occuplex/internal/eventlog"
	"github.com/occuplex/occuplex/internal/occerr"
	"github.com/occuplex/occuplex/internal/ranker"
	"github.com/occuplex/occuplex/internal/registry"
	"github.com/occuplex/occuplex/internal/storage"
)

// Outcome classifies the result of a scan.
type Outcome int

const (
	OutcomeAdmitted Outcome = iota
	OutcomeExited
	OutcomeRejectedClosed
	OutcomeRejectedFullAndUnremovable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdmitted:
		return "ADMITTED"
	case OutcomeExited:
		return "EXITED"
	case OutcomeRejectedClosed:
		return "REJECTED_CLOSED"
	case OutcomeRejectedFullAndUnremovable:
		return "REJECTED_FULL_AND_UNREMOVABLE"
	default:
		return "UNKNOWN"
	}
}

// Notifier is the narrow interface admission needs to publish events.
// internal/notify.Hub satisfies it.
type Notifier interface {
	Publish(topic string, payload any)
}

// Breaker is the narrow interface admission needs from the persistence
// circuit breaker. internal/breaker.Breaker satisfies it.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// noopNotifier and noopBreaker let Controller be used without wiring a real
// notification hub or breaker (handy for tests and the admission-latency
// benchmark).
type noopNotifier struct{}

func (noopNotifier) Publish(string, any) {}

type noopBreaker struct{}

func (noopBreaker) Allow() bool       { return true }
func (noopBreaker) RecordSuccess()    {}
func (noopBreaker) RecordFailure()    {}

// Controller is the admission state machine.
type Controller struct {
	reg *registry.Registry
	log *eventlog.Log
	db  *storage.DB
	clk clock.Clock

	notifier Notifier
	breaker  Breaker

	weights ranker.Weights

	admissionCfg config.AdmissionConfig

	// mu serialises all admission decisions. Never held simultaneously with
	// the forecaster's own mutex (internal/forecast).
	mu          chan struct{} // binary semaphore, see lock()/unlock()
	maxCapacity int
	status      string // OPEN | CLOSED | MAINTENANCE

	// crowdState is the last crowd level observed (NORMAL, NEAR, FULL), used
	// to emit occupancy_alert only on the transition into NEAR or FULL, not
	// on every commit while the space remains there.
	crowdState string
}

// New constructs a Controller. status should be seeded from the last
// persisted StatusRecord (or "CLOSED" if none exists).
func New(reg *registry.Registry, log *eventlog.Log, db *storage.DB, clk clock.Clock, weights ranker.Weights, admissionCfg config.AdmissionConfig, initialMaxCapacity int, initialStatus string) *Controller {
	c := &Controller{
		reg:          reg,
		log:          log,
		db:           db,
		clk:          clk,
		notifier:     noopNotifier{},
		breaker:      noopBreaker{},
		weights:      weights,
		admissionCfg: admissionCfg,
		mu:           make(chan struct{}, 1),
		maxCapacity:  initialMaxCapacity,
		status:       initialStatus,
	}
	c.crowdState = ClassifyCrowdState(reg.Count(), initialMaxCapacity)
	c.mu <- struct{}{}
	return c
}

// ClassifyCrowdState derives the crowd level from current occupancy and
// capacity: FULL at or above capacity, NEAR at or above 90% of capacity,
// NORMAL otherwise. Exported so the facade can assemble the same
// classification into a forecast result without duplicating the thresholds.
func ClassifyCrowdState(current, max int) string {
	if max <= 0 {
		return "NORMAL"
	}
	if current >= max {
		return "FULL"
	}
	if float64(current)/float64(max) >= 0.9 {
		return "NEAR"
	}
	return "NORMAL"
}

// SetNotifier wires a real notification hub.
func (c *Controller) SetNotifier(n Notifier) { c.notifier = n }

// SetBreaker wires a real persistence circuit breaker.
func (c *Controller) SetBreaker(b Breaker) { c.breaker = b }

func (c *Controller) lock()   { <-c.mu }
func (c *Controller) unlock() { c.mu <- struct{}{} }

// ScanResult is returned from HandleScan.
type ScanResult struct {
	Outcome    Outcome
	OccupantID string
	Removed    []string // occupants evicted to make room, if any
}

// pendingNotification is a notify.Hub publish deferred until after the
// space lock is released, per the ordering rule that the notification
// hub's own lock is acquired only once the space lock has been let go.
type pendingNotification struct {
	topic   string
	payload any
}

func (c *Controller) flush(pending []pendingNotification) {
	for _, p := range pending {
		c.notifier.Publish(p.topic, p.payload)
	}
}

// occupancyAlertLocked re-evaluates the crowd level against the current
// occupancy snapshot and, if this commit transitions the space into NEAR or
// FULL from a different state, returns a pending occupancy_alert
// notification. Returns nil if the crowd level is unchanged or the
// transition is out of NEAR/FULL rather than into it. Must be called with
// c.mu already held, after the occupancy-changing mutation that triggered
// it.
func (c *Controller) occupancyAlertLocked(now time.Time) *pendingNotification {
	snap := c.snapshotLocked()
	newState := ClassifyCrowdState(snap.Current, snap.Max)
	oldState := c.crowdState
	c.crowdState = newState

	if newState == oldState || (newState != "NEAR" && newState != "FULL") {
		return nil
	}
	return &pendingNotification{"occupancy_alert", map[string]any{
		"state":   newState,
		"current": snap.Current,
		"max":     snap.Max,
		"at":      now,
	}}
}

// HandleScan processes one badge scan for occupantID at time now.
func (c *Controller) HandleScan(occupantID string, now time.Time) (ScanResult, error) {
	c.lock()

	var pending []pendingNotification

	if _, ok := c.reg.Lookup(occupantID); ok {
		if err := c.closeSessionLocked(occupantID, now, true); err != nil {
			c.unlock()
			return ScanResult{}, fmt.Errorf("admission: exit: %w", err)
		}
		pending = append(pending, pendingNotification{"user_action", map[string]any{"occupant_id": occupantID, "action": "EXIT", "at": now}})
		if alert := c.occupancyAlertLocked(now); alert != nil {
			pending = append(pending, *alert)
		}
		pending = append(pending, pendingNotification{"occupancy_update", c.snapshotLocked()})
		c.unlock()
		c.flush(pending)
		return ScanResult{Outcome: OutcomeExited, OccupantID: occupantID}, nil
	}

	if c.status != "OPEN" {
		c.unlock()
		return ScanResult{Outcome: OutcomeRejectedClosed, OccupantID: occupantID}, occerr.ErrRejectedClosed
	}

	// Occupancy above capacity (after a capacity reduction): refuse without
	// evicting until exits bring occupancy back down to capacity.
	if c.reg.Count() > c.maxCapacity {
		c.unlock()
		return ScanResult{Outcome: OutcomeRejectedFullAndUnremovable, OccupantID: occupantID}, occerr.ErrRejectedFullAndUnremovable
	}

	var removed []string
	if c.reg.Count() >= c.maxCapacity {
		top, ok := c.topEvictionCandidateLocked(now)
		if !ok {
			c.unlock()
			return ScanResult{Outcome: OutcomeRejectedFullAndUnremovable, OccupantID: occupantID}, occerr.ErrRejectedFullAndUnremovable
		}
		if err := c.closeSessionLocked(top, now, false); err != nil {
			c.unlock()
			return ScanResult{}, fmt.Errorf("admission: forced eviction: %w", err)
		}
		removed = append(removed, top)
		pending = append(pending, pendingNotification{"user_removed", map[string]any{"occupant_id": top, "reason": "capacity", "at": now}})

		if c.reg.Count() >= c.maxCapacity {
			if alert := c.occupancyAlertLocked(now); alert != nil {
				pending = append(pending, *alert)
			}
			c.unlock()
			c.flush(pending)
			return ScanResult{Outcome: OutcomeRejectedFullAndUnremovable, OccupantID: occupantID}, occerr.ErrRejectedFullAndUnremovable
		}
	}

	deadline := now.Add(c.admissionCfg.SessionLength)
	if _, err := c.reg.Open(occupantID, now, deadline); err != nil {
		c.unlock()
		return ScanResult{}, fmt.Errorf("admission: open session: %w", err)
	}

	if !c.breaker.Allow() {
		_, _ = c.reg.Close(occupantID)
		c.unlock()
		return ScanResult{}, occerr.ErrPersistenceUnavailable
	}
	d := deadline
	if err := c.log.Append(eventlog.VisitEvent{OccupantID: occupantID, Kind: eventlog.Entry, Timestamp: now, Deadline: &d}); err != nil {
		c.breaker.RecordFailure()
		_, _ = c.reg.Close(occupantID)
		c.unlock()
		return ScanResult{}, fmt.Errorf("admission: append entry: %w", err)
	}
	c.breaker.RecordSuccess()

	c.recomputeFrequencyLocked(occupantID, now)

	pending = append(pending, pendingNotification{"user_action", map[string]any{"occupant_id": occupantID, "action": "ENTRY", "at": now}})
	if alert := c.occupancyAlertLocked(now); alert != nil {
		pending = append(pending, *alert)
	}
	pending = append(pending, pendingNotification{"occupancy_update", c.snapshotLocked()})

	c.unlock()
	c.flush(pending)

	return ScanResult{Outcome: OutcomeAdmitted, OccupantID: occupantID, Removed: removed}, nil
}

// closeSessionLocked is the single shared primitive for ending a session,
// whether the occupant scanned out voluntarily or is being force-evicted
// (by admission on a full-capacity entry, or by the sweeper on expiry).
// Must be called with c.mu already held.
func (c *Controller) closeSessionLocked(occupantID string, now time.Time, voluntary bool) error {
	session, err := c.reg.Close(occupantID)
	if err != nil {
		return err
	}

	exitTime := now
	if !voluntary && now.After(session.Deadline) {
		exitTime = session.Deadline
	}

	if !c.breaker.Allow() {
		_, _ = c.reg.Open(occupantID, session.EntryTime, session.Deadline)
		return occerr.ErrPersistenceUnavailable
	}

	if err := c.log.Append(eventlog.VisitEvent{OccupantID: occupantID, Kind: eventlog.Exit, Timestamp: exitTime}); err != nil {
		c.breaker.RecordFailure()
		_, _ = c.reg.Open(occupantID, session.EntryTime, session.Deadline)
		return fmt.Errorf("append exit: %w", err)
	}
	c.breaker.RecordSuccess()

	c.updateCooperativenessLocked(occupantID, now, session.Deadline, voluntary)
	return nil
}

// updateCooperativenessLocked applies the asymmetric EWMA update to the
// occupant's cooperativeness score: a voluntary exit at or before the
// deadline moves it 20% of the way toward 1.0; any other exit (expiry or
// forced eviction) moves it 5% of the way toward 0.3.
func (c *Controller) updateCooperativenessLocked(occupantID string, now, deadline time.Time, voluntary bool) {
	prof, err := c.db.GetOccupant(occupantID)
	if err != nil || prof == nil {
		prof = &storage.OccupantRecord{ID: occupantID, CooperativenessScore: 0.5}
	}

	onTime := voluntary && !now.After(deadline)
	var updated float64
	if onTime {
		updated = clamp01(0.8*prof.CooperativenessScore + 0.2*1.0)
	} else {
		updated = clamp01(0.95*prof.CooperativenessScore + 0.05*0.3)
	}
	prof.CooperativenessScore = updated
	t := now
	prof.LastVisit = &t

	_ = c.db.PutOccupant(*prof) // best-effort; profile drift does not block the exit
}

// recomputeFrequencyLocked recounts ENTRY events for occupantID within the
// configured frequency window and persists it on the occupant profile.
func (c *Controller) recomputeFrequencyLocked(occupantID string, now time.Time) {
	prof, err := c.db.GetOccupant(occupantID)
	if err != nil || prof == nil {
		prof = &storage.OccupantRecord{ID: occupantID}
	}

	events, err := c.log.ReadAll()
	if err != nil {
		return
	}
	windowStart := now.Add(-c.admissionCfg.FrequencyWindow)
	count := 0
	for _, e := range events {
		if e.OccupantID == occupantID && e.Kind == eventlog.Entry &&
			!e.Timestamp.Before(windowStart) && e.Timestamp.Before(now) {
			count++
		}
	}
	prof.FrequencyUsed = count
	_ = c.db.PutOccupant(*prof)
}

// topEvictionCandidateLocked scores every open session and returns the
// occupant id most eligible for removal, or false if the registry is empty.
func (c *Controller) topEvictionCandidateLocked(now time.Time) (string, bool) {
	sessions := c.reg.List()
	if len(sessions) == 0 {
		return "", false
	}

	seqOf := make(map[string]uint64, len(sessions))
	candidates := make([]ranker.Candidate, 0, len(sessions))
	for i, s := range sessions {
		seqOf[s.OccupantID] = s.SequenceNo
		prof, _ := c.db.GetOccupant(s.OccupantID)

		cand := ranker.Candidate{
			OccupantID:         s.OccupantID,
			EntryTime:          s.EntryTime,
			Deadline:           s.Deadline,
			RankOrder:          i + 1,
			TotalInside:        len(sessions),
			DaysSinceLastVisit: -1,
			VoluntaryExitScore: 0.5,
		}
		if prof != nil {
			cand.VisitsInWindow = float64(prof.FrequencyUsed)
			cand.Privileged = prof.Privileged
			cand.AgeYears = prof.Age
			cand.VoluntaryExitScore = prof.CooperativenessScore
			if prof.LastVisit != nil {
				cand.DaysSinceLastVisit = now.Sub(*prof.LastVisit).Hours() / 24
			}
		}
		candidates = append(candidates, cand)
	}

	ranked := ranker.RankForEviction(c.weights, candidates, now, seqOf)
	return ranked[0].Candidate.OccupantID, true
}

// SetMaxCapacity updates the space-wide capacity limit.
func (c *Controller) SetMaxCapacity(max int, now time.Time) error {
	if max < 0 || max > 10000 {
		return occerr.ErrOutOfRange
	}
	c.lock()
	defer c.unlock()
	c.maxCapacity = max
	return c.db.PutCapacity(storage.CapacityRecord{Max: max, Current: c.reg.Count(), UpdatedAt: now})
}

// SetStatus updates the space status (OPEN, CLOSED, MAINTENANCE).
func (c *Controller) SetStatus(status, message, updatedBy string, now time.Time) error {
	switch status {
	case "OPEN", "CLOSED", "MAINTENANCE":
	default:
		return occerr.ErrInvalidStatus
	}
	c.lock()
	c.status = status
	err := c.db.AppendStatus(storage.StatusRecord{Status: status, Message: message, UpdatedBy: updatedBy, UpdatedAt: now})
	if err != nil {
		c.unlock()
		return err
	}
	snap := c.snapshotLocked()
	c.unlock()
	c.notifier.Publish("status_update", map[string]any{
		"status": status, "message": message, "updated_by": updatedBy, "at": now,
		"current": snap.Current, "max": snap.Max,
	})
	return nil
}

// Snapshot describes the current occupancy state.
type Snapshot struct {
	Current int
	Max     int
	Status  string
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Current: c.reg.Count(), Max: c.maxCapacity, Status: c.status}
}

// GetState returns the current occupancy snapshot.
func (c *Controller) GetState() Snapshot {
	c.lock()
	defer c.unlock()
	return c.snapshotLocked()
}

// ListScored returns every open session ranked by removal eligibility,
// highest first, for the admin list_scored command.
func (c *Controller) ListScored(now time.Time) []ranker.Scored {
	c.lock()
	defer c.unlock()

	sessions := c.reg.List()
	seqOf := make(map[string]uint64, len(sessions))
	candidates := make([]ranker.Candidate, 0, len(sessions))
	for i, s := range sessions {
		seqOf[s.OccupantID] = s.SequenceNo
		prof, _ := c.db.GetOccupant(s.OccupantID)
		cand := ranker.Candidate{
			OccupantID:         s.OccupantID,
			EntryTime:          s.EntryTime,
			Deadline:           s.Deadline,
			RankOrder:          i + 1,
			TotalInside:        len(sessions),
			DaysSinceLastVisit: -1,
			VoluntaryExitScore: 0.5,
		}
		if prof != nil {
			cand.VisitsInWindow = float64(prof.FrequencyUsed)
			cand.Privileged = prof.Privileged
			cand.AgeYears = prof.Age
			cand.VoluntaryExitScore = prof.CooperativenessScore
			if prof.LastVisit != nil {
				cand.DaysSinceLastVisit = now.Sub(*prof.LastVisit).Hours() / 24
			}
		}
		candidates = append(candidates, cand)
	}
	return ranker.RankForEviction(c.weights, candidates, now, seqOf)
}

// ForceRemoveTop evicts the top n ranked occupants (capped at the number of
// open sessions), for the admin force_remove_top command. Each eviction
// follows the same closeSessionLocked primitive as a capacity-triggered
// eviction and emits user_removed. Returns the occupant ids evicted, in
// eviction order.
func (c *Controller) ForceRemoveTop(n int, now time.Time) ([]string, error) {
	c.lock()

	var pending []pendingNotification
	removed := make([]string, 0, n)
	for i := 0; i < n; i++ {
		top, ok := c.topEvictionCandidateLocked(now)
		if !ok {
			break
		}
		if err := c.closeSessionLocked(top, now, false); err != nil {
			c.unlock()
			c.flush(pending)
			return removed, fmt.Errorf("admission: force_remove_top: %w", err)
		}
		removed = append(removed, top)
		pending = append(pending, pendingNotification{"user_removed", map[string]any{"occupant_id": top, "reason": "admin_force", "at": now}})
	}
	if len(removed) > 0 {
		if alert := c.occupancyAlertLocked(now); alert != nil {
			pending = append(pending, *alert)
		}
		pending = append(pending, pendingNotification{"occupancy_update", c.snapshotLocked()})
	}
	c.unlock()
	c.flush(pending)

	if len(removed) == 0 {
		return removed, occerr.ErrRejectedFullAndUnremovable
	}
	return removed, nil
}

// SweepExpired is invoked by internal/sweep to close every session whose
// deadline has passed as of now, in ascending deadline order. It reuses
// closeSessionLocked so the expiry path and the scan-triggered eviction
// path never diverge.
func (c *Controller) SweepExpired(now time.Time) ([]string, error) {
	c.lock()

	var pending []pendingNotification
	expired := c.reg.ExpiredAsOf(now)
	var swept []string
	for _, s := range expired {
		if _, ok := c.reg.Lookup(s.OccupantID); !ok {
			continue
		}
		if err := c.closeSessionLocked(s.OccupantID, now, false); err != nil {
			c.unlock()
			c.flush(pending)
			return swept, fmt.Errorf("admission: sweep %s: %w", s.OccupantID, err)
		}
		swept = append(swept, s.OccupantID)
		pending = append(pending, pendingNotification{"session_expired", map[string]any{"occupant_id": s.OccupantID, "at": now}})
	}
	if len(swept) > 0 {
		if alert := c.occupancyAlertLocked(now); alert != nil {
			pending = append(pending, *alert)
		}
		pending = append(pending, pendingNotification{"occupancy_update", c.snapshotLocked()})
	}
	c.unlock()
	c.flush(pending)
	return swept, nil
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
