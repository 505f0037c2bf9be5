package storage

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "occuplex.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenInitialisesBuckets(t *testing.T) {
	db := openTestDB(t)
	cap, err := db.GetCapacity()
	if err != nil {
		t.Fatalf("GetCapacity: %v", err)
	}
	if cap != nil {
		t.Fatalf("expected nil capacity on fresh db, got %+v", cap)
	}
}

func TestAppendAndReadEvents(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := uint64(0); i < 3; i++ {
		rec := VisitEventRecord{
			OccupantID: "alice",
			Kind:       "ENTRY",
			Timestamp:  now.Add(time.Duration(i) * time.Second),
			Sequence:   i,
		}
		if err := db.AppendEvent(rec); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	events, err := db.ReadEvents()
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Sequence != uint64(i) {
			t.Errorf("event %d out of order: sequence=%d", i, e.Sequence)
		}
	}
}

func TestCapacityRoundTrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Now()
	want := CapacityRecord{Max: 50, Current: 12, UpdatedAt: now}
	if err := db.PutCapacity(want); err != nil {
		t.Fatalf("PutCapacity: %v", err)
	}
	got, err := db.GetCapacity()
	if err != nil {
		t.Fatalf("GetCapacity: %v", err)
	}
	if got == nil || got.Max != want.Max || got.Current != want.Current {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLatestStatusReturnsMostRecent(t *testing.T) {
	db := openTestDB(t)
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

	if err := db.AppendStatus(StatusRecord{Status: "CLOSED", UpdatedAt: base}); err != nil {
		t.Fatalf("AppendStatus: %v", err)
	}
	if err := db.AppendStatus(StatusRecord{Status: "OPEN", UpdatedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("AppendStatus: %v", err)
	}

	latest, err := db.LatestStatus()
	if err != nil {
		t.Fatalf("LatestStatus: %v", err)
	}
	if latest == nil || latest.Status != "OPEN" {
		t.Fatalf("expected latest status OPEN, got %+v", latest)
	}
}

func TestOccupantRoundTrip(t *testing.T) {
	db := openTestDB(t)
	rec := OccupantRecord{ID: "bob", CooperativenessScore: 0.9, FrequencyUsed: 4}
	if err := db.PutOccupant(rec); err != nil {
		t.Fatalf("PutOccupant: %v", err)
	}
	got, err := db.GetOccupant("bob")
	if err != nil {
		t.Fatalf("GetOccupant: %v", err)
	}
	if got == nil || got.CooperativenessScore != 0.9 {
		t.Fatalf("got %+v", got)
	}
	missing, err := db.GetOccupant("nobody")
	if err != nil {
		t.Fatalf("GetOccupant: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown occupant, got %+v", missing)
	}
}

func TestSchemaVersionMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "occuplex.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Close()

	// Reopen is expected to succeed since the version written matches.
	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with matching schema should succeed: %v", err)
	}
	if err := db2.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("schema_version"), []byte("2"))
	}); err != nil {
		t.Fatalf("write mismatched schema_version: %v", err)
	}
	_ = db2.Close()

	if db3, err := Open(path); err == nil {
		_ = db3.Close()
		t.Fatal("reopen with mismatched schema version should fail")
	}
}
