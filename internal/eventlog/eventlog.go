// Package eventlog maintains the append-only audit trail of ENTRY/EXIT
// events and derives the live occupancy counter from it.
//
// The counter is kept in memory for the hot path (O(1) reads under the
// admission lock) but is always reconstructible from the persisted log via
// RebuildCounter, which is the authority invariant I2 depends on:
// current_occupancy must always equal ENTRY_count - EXIT_count over the
// full history.
package eventlog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/occuplex/occuplex/internal/storage"
)

// Kind identifies the type of visit event.
type Kind string

const (
	Entry Kind = "ENTRY"
	Exit  Kind = "EXIT"
)

// VisitEvent is the in-memory representation of a single logged visit.
type VisitEvent struct {
	OccupantID string
	Kind       Kind
	Timestamp  time.Time
	Deadline   *time.Time
	Sequence   uint64
}

// Snapshot is a point-in-time view of the counter state.
type Snapshot struct {
	Current        int
	Max            int
	LastUpdateTime time.Time
}

// Log is a durable, monotonically-growing record of visit events backed by
// storage.DB, with an in-memory occupancy counter kept consistent under a
// dedicated mutex.
type Log struct {
	db *storage.DB

	mu             sync.Mutex
	counter        int64
	lastUpdateTime time.Time

	seq uint64

	// entrySinceMark/exitSinceMark count ENTRY/EXIT events appended since the
	// last RateSince call, for the forecaster's net_rate exogenous signal.
	entrySinceMark int64
	exitSinceMark  int64
}

// New constructs a Log over db. It does not rebuild the counter; call
// RebuildCounter once at startup before serving traffic.
func New(db *storage.DB) *Log {
	return &Log{db: db}
}

// Append persists a visit event and adjusts the in-memory counter.
// Kind Entry increments the counter, Kind Exit decrements it (floored at
// zero to tolerate any historical inconsistency rather than going negative).
func (l *Log) Append(ev VisitEvent) error {
	l.mu.Lock()
	ev.Sequence = l.seq
	l.seq++
	l.mu.Unlock()

	rec := storage.VisitEventRecord{
		OccupantID: ev.OccupantID,
		Kind:       string(ev.Kind),
		Timestamp:  ev.Timestamp,
		Deadline:   ev.Deadline,
		Sequence:   ev.Sequence,
	}
	if err := l.db.AppendEvent(rec); err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}

	l.mu.Lock()
	switch ev.Kind {
	case Entry:
		atomic.AddInt64(&l.counter, 1)
		atomic.AddInt64(&l.entrySinceMark, 1)
	case Exit:
		if atomic.AddInt64(&l.counter, -1) < 0 {
			atomic.StoreInt64(&l.counter, 0)
		}
		atomic.AddInt64(&l.exitSinceMark, 1)
	}
	l.lastUpdateTime = ev.Timestamp
	l.mu.Unlock()
	return nil
}

// RateSince returns the ENTRY and EXIT counts appended since the previous
// RateSince call (or since New, for the first call), then resets both
// counters to zero. Used by the forecast sampler to derive net_rate =
// entry_rate - exit_rate per sample interval without rescanning the log.
func (l *Log) RateSince() (entries, exits int64) {
	return atomic.SwapInt64(&l.entrySinceMark, 0), atomic.SwapInt64(&l.exitSinceMark, 0)
}

// SnapshotWithMax returns the current counter, max capacity and last update time.
// max is supplied by the caller (internal/admission owns capacity state);
// eventlog only tracks the counter itself.
func (l *Log) SnapshotWithMax(max int) Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Current:        int(atomic.LoadInt64(&l.counter)),
		Max:            max,
		LastUpdateTime: l.lastUpdateTime,
	}
}

// Current returns the live occupancy counter.
func (l *Log) Current() int {
	return int(atomic.LoadInt64(&l.counter))
}

// RebuildCounter recomputes the occupancy counter from the full persisted
// event log, per invariant I2. Called once at startup by internal/facade.
func (l *Log) RebuildCounter() error {
	records, err := l.db.ReadEvents()
	if err != nil {
		return fmt.Errorf("eventlog: rebuild: %w", err)
	}

	var count int64
	var maxSeq uint64
	var lastTS time.Time
	haveSeq := false

	for _, r := range records {
		switch Kind(r.Kind) {
		case Entry:
			count++
		case Exit:
			count--
		}
		if r.Timestamp.After(lastTS) {
			lastTS = r.Timestamp
		}
		if !haveSeq || r.Sequence >= maxSeq {
			maxSeq = r.Sequence
			haveSeq = true
		}
	}
	if count < 0 {
		count = 0
	}

	l.mu.Lock()
	atomic.StoreInt64(&l.counter, count)
	l.lastUpdateTime = lastTS
	if haveSeq {
		l.seq = maxSeq + 1
	}
	l.mu.Unlock()
	return nil
}

// ReadAll returns the full persisted event history in chronological order.
// Used by the facade's forecaster cold-start replay and by admission's
// visit-frequency recount on entry.
func (l *Log) ReadAll() ([]VisitEvent, error) {
	records, err := l.db.ReadEvents()
	if err != nil {
		return nil, fmt.Errorf("eventlog: read all: %w", err)
	}
	out := make([]VisitEvent, 0, len(records))
	for _, r := range records {
		out = append(out, VisitEvent{
			OccupantID: r.OccupantID,
			Kind:       Kind(r.Kind),
			Timestamp:  r.Timestamp,
			Deadline:   r.Deadline,
			Sequence:   r.Sequence,
		})
	}
	return out, nil
}
