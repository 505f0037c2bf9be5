// Package registry tracks open occupancy sessions in memory: who is
// currently inside, when they entered, and when their session expires.
//
// It is a mutex-guarded map keyed by occupant id, with ordering operations layered on top for the
// ranker and sweeper to consume.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/occuplex/occuplex/internal/occerr"
)

// Session represents one occupant's open visit.
type Session struct {
	OccupantID string
	EntryTime  time.Time
	Deadline   time.Time
	SequenceNo uint64
}

// Registry is a mutex-guarded table of open sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	seq      uint64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Open records a new session for occupant. Returns occerr.ErrAlreadyInside
// if the occupant already has an open session.
func (r *Registry) Open(occupantID string, entryTime, deadline time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[occupantID]; ok {
		return Session{}, occerr.ErrAlreadyInside
	}
	s := Session{
		OccupantID: occupantID,
		EntryTime:  entryTime,
		Deadline:   deadline,
		SequenceNo: r.seq,
	}
	r.seq++
	r.sessions[occupantID] = s
	return s, nil
}

// Close removes and returns the occupant's session. Returns
// occerr.ErrNotInside if the occupant has no open session.
func (r *Registry) Close(occupantID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[occupantID]
	if !ok {
		return Session{}, occerr.ErrNotInside
	}
	delete(r.sessions, occupantID)
	return s, nil
}

// Lookup returns the occupant's current session, if any.
func (r *Registry) Lookup(occupantID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[occupantID]
	return s, ok
}

// Count returns the number of open sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns all open sessions ordered by entry time ascending, with
// sequence number as tie-breaker. This is the order the ranker's "order of
// arrival" factor (O) is computed over.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].SequenceNo < out[j].SequenceNo
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// ExpiredAsOf returns all sessions whose deadline is at or before t, in
// ascending deadline order. Used by the sweeper.
func (r *Registry) ExpiredAsOf(t time.Time) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0)
	for _, s := range r.sessions {
		if !s.Deadline.After(t) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].SequenceNo < out[j].SequenceNo
		}
		return out[i].Deadline.Before(out[j].Deadline)
	})
	return out
}
