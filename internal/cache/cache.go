// Package cache holds the in-process snapshot cache. One Store instance is
// constructed at startup and handed to the weather service; its lifecycle is
// tied to the process.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/skycache/weather-api/internal/weather"
)

type entry struct {
	snapshot   weather.Snapshot
	recordedAt time.Time
}

// Store is a concurrency-safe TTL cache of weather snapshots keyed by
// normalized city name. Freshness is judged with the read-time clock, so
// entries age out precisely at the TTL boundary without a timer; the
// optional background sweep is pure housekeeping.
type Store struct {
	mu   sync.RWMutex
	data map[string]entry

	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time // overridden in tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]entry),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns the cached snapshot and its age if a fresh entry exists for
// key. A stale or absent entry counts as a miss; callers use Has to tell
// the two apart.
func (s *Store) Get(key string) (weather.Snapshot, time.Duration, bool) {
	key = weather.NormalizeCity(key)

	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return weather.Snapshot{}, 0, false
	}

	age := s.now().Sub(e.recordedAt)
	if age >= s.ttl {
		s.misses.Add(1)
		return weather.Snapshot{}, 0, false
	}

	s.hits.Add(1)
	return e.snapshot, age, true
}

// Has reports whether any entry exists for key, fresh or not.
func (s *Store) Has(key string) bool {
	key = weather.NormalizeCity(key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Put unconditionally overwrites the entry for key. Entries are replaced
// wholesale; there are no partial updates.
func (s *Store) Put(key string, snap weather.Snapshot, recordedAt time.Time) {
	key = weather.NormalizeCity(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = entry{snapshot: snap, recordedAt: recordedAt}
}

// InvalidateExpired removes every entry whose age is at least the TTL and
// returns the number removed. Never required for Get correctness.
func (s *Store) InvalidateExpired() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.data {
		if now.Sub(e.recordedAt) >= s.ttl {
			delete(s.data, key)
			removed++
		}
	}
	return removed
}

// Stats returns cumulative counters since process start.
func (s *Store) Stats() weather.CacheStats {
	s.mu.RLock()
	count := len(s.data)
	s.mu.RUnlock()

	return weather.CacheStats{
		EntryCount: count,
		HitCount:   s.hits.Load(),
		MissCount:  s.misses.Load(),
		TTLSeconds: int(s.ttl.Seconds()),
	}
}

var _ weather.CacheStore = (*Store)(nil)
