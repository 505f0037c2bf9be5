// Package occerr holds the sentinel errors shared across the occupancy
// engine's packages. Callers should compare with errors.Is, never string
// matching.
package occerr

import "errors"

var (
	// ErrInvalidToken reports a scan token that resolves to no known
	// occupant. HandleScan accepts every occupant id as known and does not
	// return it.
	ErrInvalidToken = errors.New("occuplex: invalid token")

	// ErrRejectedClosed is returned when a scan arrives while the space is
	// CLOSED or in MAINTENANCE.
	ErrRejectedClosed = errors.New("occuplex: space is not open")

	// ErrRejectedFullAndUnremovable is returned when the space is at capacity
	// and the ranker has no session to evict (e.g. max_capacity is zero, or
	// the registry is empty), and for entries while occupancy is above
	// max_capacity after a capacity reduction.
	ErrRejectedFullAndUnremovable = errors.New("occuplex: full and nothing to evict")

	// ErrAlreadyInside is a registry invariant error: Open was called for an
	// occupant with an existing open session. The admission controller
	// avoids ever triggering this by resolving ENTRY vs EXIT in the same
	// critical section as the mutation.
	ErrAlreadyInside = errors.New("occuplex: occupant already has an open session")

	// ErrNotInside is a registry invariant error: Close was called for an
	// occupant with no open session.
	ErrNotInside = errors.New("occuplex: occupant has no open session")

	// ErrOutOfRange is returned when a configuration value is outside its
	// documented bounds (e.g. max_capacity > 10000).
	ErrOutOfRange = errors.New("occuplex: value out of range")

	// ErrPersistenceUnavailable is returned when the persistence breaker has
	// tripped; the caller must fail fast rather than retry.
	ErrPersistenceUnavailable = errors.New("occuplex: persistence unavailable")

	// ErrInvalidStatus is returned when SetStatus receives an unrecognised
	// status value.
	ErrInvalidStatus = errors.New("occuplex: invalid status")

	// ErrInvalidTimeFormat is returned when an auto-open/auto-close time
	// string does not parse as HH:MM.
	ErrInvalidTimeFormat = errors.New("occuplex: invalid time format, expected HH:MM")
)
