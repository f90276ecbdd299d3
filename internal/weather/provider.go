package weather

import (
	"context"
	"time"
)

// Provider abstracts the external source of current-weather readings.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, city string) (Snapshot, error)
}

// CacheStore is the contract the in-process snapshot cache must satisfy.
// Keys are raw city strings; the store normalizes them itself, so callers
// may pass the city as given.
type CacheStore interface {
	// Get returns the snapshot and its age if a fresh entry exists.
	Get(key string) (Snapshot, time.Duration, bool)
	// Has reports raw presence regardless of freshness, letting the
	// service tell a miss from an expired entry.
	Has(key string) bool
	// Put overwrites any existing entry for key.
	Put(key string, snap Snapshot, recordedAt time.Time)
	// InvalidateExpired removes every entry older than the TTL and
	// returns the number removed.
	InvalidateExpired() int
	Stats() CacheStats
}

// Backend persists snapshot blobs and the append-only event log. Two
// implementations exist (local filesystem+SQLite and S3+DynamoDB); the
// service holds this interface only and is oblivious to which is active.
type Backend interface {
	// StoreSnapshot durably writes the snapshot payload and returns the
	// blob path/key it was written under.
	StoreSnapshot(ctx context.Context, city string, snap Snapshot) (string, error)
	// AppendEvent durably appends one event record. Its success is
	// independent of StoreSnapshot.
	AppendEvent(ctx context.Context, rec EventRecord) error
	// QueryEvents returns matching events, most recent first.
	QueryEvents(ctx context.Context, f EventFilter) ([]EventRecord, error)
	// CountByCity returns per-city request counts since the given time,
	// highest count first.
	CountByCity(ctx context.Context, since time.Time) ([]CityCount, error)
	// PurgeEvents deletes events older than before and returns the count.
	PurgeEvents(ctx context.Context, before time.Time) (int64, error)
	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}
