// Package storage — bolt.go
//
// BoltDB-backed persistent storage for occuplex.
//
// Schema (BoltDB bucket layout):
//
//	/events
//	    key:   UTC timestamp (RFC3339, fixed nine-digit fraction) + "_" +
//	           monotonic sequence number [sortable, chronological]
//	    value: JSON-encoded VisitEventRecord
//
//	/capacity
//	    key:   "singleton"
//	    value: JSON-encoded CapacityRecord
//
//	/status
//	    key:   UTC timestamp (RFC3339, fixed nine-digit fraction)
//	           [sortable, chronological]
//	    value: JSON-encoded StatusRecord
//
//	/occupants
//	    key:   occupant id
//	    value: JSON-encoded OccupantRecord
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - The events bucket is never pruned: invariant I2 (current_occupancy ==
//     ENTRY_count - EXIT_count) requires rebuild_counter to recompute the
//     counter from the full log at any time, which a retention policy would
//     silently break. Capacity/status/occupant records are singleton or
//     small and likewise never pruned.
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The daemon logs a fatal event and refuses to start.
//   - Disk full: bbolt.Update() returns an error. Callers surface this as
//     occerr.ErrPersistenceUnavailable once the breaker trips (internal/breaker).
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/occuplex/occuplex.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	bucketEvents    = "events"
	bucketCapacity  = "capacity"
	bucketStatus    = "status"
	bucketOccupants = "occupants"
	bucketMeta      = "meta"

	capacityKey = "singleton"
)

// VisitEventRecord is the persisted form of a VisitEvent.
type VisitEventRecord struct {
	OccupantID string     `json:"occupant_id"`
	Kind       string     `json:"kind"` // ENTRY | EXIT
	Timestamp  time.Time  `json:"timestamp"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	Sequence   uint64     `json:"sequence"`
}

// CapacityRecord is the persisted singleton Capacity Configuration.
type CapacityRecord struct {
	Max       int       `json:"max"`
	Current   int       `json:"current"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusRecord is a persisted Space Status transition.
type StatusRecord struct {
	Status         string    `json:"status"` // OPEN | CLOSED | MAINTENANCE
	Message        string    `json:"message"`
	AutoOpen       string    `json:"auto_open,omitempty"`  // HH:MM
	AutoClose      string    `json:"auto_close,omitempty"` // HH:MM
	AutoEnabled    bool      `json:"auto_enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
	UpdatedBy      string    `json:"updated_by,omitempty"`
}

// OccupantRecord is the core-owned subset of an occupant profile.
type OccupantRecord struct {
	ID                  string     `json:"id"`
	CooperativenessScore float64   `json:"cooperativeness_score"`
	FrequencyUsed       int        `json:"frequency_used"`
	LastVisit           *time.Time `json:"last_visit,omitempty"`
	Privileged          bool       `json:"privileged"`
	Age                 *int       `json:"age,omitempty"`
	Demographic         string     `json:"demographic,omitempty"`
}

// DB wraps a BoltDB instance with typed accessors for occuplex data.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketEvents, bucketCapacity, bucketStatus, bucketOccupants, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, daemon requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Event log operations ──────────────────────────────────────────────────

// keyTimeFormat is RFC3339 with a fixed nine-digit fraction, so that
// lexicographic key order matches chronological order (RFC3339Nano trims
// trailing zeros and would not).
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// eventKey constructs a sortable BoltDB key for an event record.
// Format: UTC keyTimeFormat + "_" + sequence (zero-padded to 20 digits).
// Lexicographic sort = chronological sort.
func eventKey(t time.Time, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s_%020d", t.UTC().Format(keyTimeFormat), seq))
}

// AppendEvent writes a new VisitEventRecord. Uses a single ACID write
// transaction; the event bucket is never pruned.
func (d *DB) AppendEvent(rec VisitEventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("AppendEvent marshal: %w", err)
	}
	key := eventKey(rec.Timestamp, rec.Sequence)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendEvent bolt.Put: %w", err)
		}
		return nil
	})
}

// ReadEvents returns all event records in chronological order.
// Used by rebuild_counter and forecaster cold-start; not on the hot path.
func (d *DB) ReadEvents() ([]VisitEventRecord, error) {
	var records []VisitEventRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketEvents))
		return b.ForEach(func(_, v []byte) error {
			var rec VisitEventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// ─── Capacity operations ───────────────────────────────────────────────────

// PutCapacity writes the singleton capacity record.
func (d *DB) PutCapacity(rec CapacityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutCapacity marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCapacity))
		return b.Put([]byte(capacityKey), data)
	})
}

// GetCapacity reads the singleton capacity record. Returns (nil, nil) if
// none has ever been written.
func (d *DB) GetCapacity() (*CapacityRecord, error) {
	var rec CapacityRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketCapacity))
		data := b.Get([]byte(capacityKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetCapacity: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ─── Status operations ─────────────────────────────────────────────────────

// AppendStatus appends a Space Status transition record.
func (d *DB) AppendStatus(rec StatusRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("AppendStatus marshal: %w", err)
	}
	key := []byte(rec.UpdatedAt.UTC().Format(keyTimeFormat))
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketStatus))
		return b.Put(key, data)
	})
}

// LatestStatus returns the most recently written status record, or
// (nil, nil) if none exists.
func (d *DB) LatestStatus() (*StatusRecord, error) {
	var rec StatusRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketStatus))
		c := b.Cursor()
		_, v := c.Last()
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("LatestStatus: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ─── Occupant operations ───────────────────────────────────────────────────

// PutOccupant writes or updates an occupant profile.
func (d *DB) PutOccupant(rec OccupantRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutOccupant marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketOccupants))
		return b.Put([]byte(rec.ID), data)
	})
}

// GetOccupant retrieves an occupant profile. Returns (nil, nil) if unknown.
func (d *DB) GetOccupant(id string) (*OccupantRecord, error) {
	var rec OccupantRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketOccupants))
		data := b.Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetOccupant(%q): %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}
