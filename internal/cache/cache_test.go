package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/skycache/weather-api/internal/weather"
)

func snapshotFor(city string) weather.Snapshot {
	return weather.Snapshot{
		City:        city,
		Temperature: 21.5,
		Description: "clear sky",
		Humidity:    40,
		Pressure:    1013,
		WindSpeed:   3.2,
		Timestamp:   time.Now().UTC(),
		Source:      weather.SourceOpenWeatherMap,
	}
}

// TestKeyNormalization verifies that raw city strings differing only in
// case and whitespace share one cache entry.
func TestKeyNormalization(t *testing.T) {
	s := New(5 * time.Minute)
	s.Put("  MADRID ", snapshotFor("Madrid"), time.Now())

	snap, _, ok := s.Get("madrid")
	if !ok {
		t.Fatal("expected hit for normalized key")
	}
	if snap.City != "Madrid" {
		t.Fatalf("expected snapshot for Madrid, got %q", snap.City)
	}

	if _, _, ok := s.Get("  new   york  "); ok {
		t.Fatal("unexpected hit for unrelated city")
	}
	s.Put("New   York", snapshotFor("New York"), time.Now())
	if !s.Has("new york") {
		t.Fatal("expected presence after collapsing internal whitespace")
	}
}

// TestFreshnessUsesReadTimeClock verifies that an entry ages out exactly at
// the TTL boundary without any sweep running.
func TestFreshnessUsesReadTimeClock(t *testing.T) {
	base := time.Now()
	s := New(5 * time.Minute)
	s.now = func() time.Time { return base }

	s.Put("london", snapshotFor("London"), base)

	s.now = func() time.Time { return base.Add(4 * time.Minute) }
	if _, age, ok := s.Get("london"); !ok {
		t.Fatal("expected hit before TTL")
	} else if age != 4*time.Minute {
		t.Fatalf("expected age 4m, got %s", age)
	}

	s.now = func() time.Time { return base.Add(5 * time.Minute) }
	if _, _, ok := s.Get("london"); ok {
		t.Fatal("expected miss at TTL boundary")
	}
	if !s.Has("london") {
		t.Fatal("expired entry should still be present until swept")
	}
}

// TestInvalidateExpired verifies the sweep removes exactly the aged-out
// entries and reports the count, observable through a stats delta.
func TestInvalidateExpired(t *testing.T) {
	base := time.Now()
	s := New(5 * time.Minute)
	s.now = func() time.Time { return base }

	s.Put("paris", snapshotFor("Paris"), base.Add(-10*time.Minute))
	s.Put("rome", snapshotFor("Rome"), base.Add(-6*time.Minute))
	s.Put("oslo", snapshotFor("Oslo"), base.Add(-1*time.Minute))

	if got := s.Stats().EntryCount; got != 3 {
		t.Fatalf("expected 3 entries before sweep, got %d", got)
	}

	removed := s.InvalidateExpired()
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if got := s.Stats().EntryCount; got != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", got)
	}
	if _, _, ok := s.Get("oslo"); !ok {
		t.Fatal("fresh entry must survive the sweep")
	}

	// Idempotent: nothing left to remove.
	if removed := s.InvalidateExpired(); removed != 0 {
		t.Fatalf("expected 0 removed on second sweep, got %d", removed)
	}
}

// TestStatsCounters verifies the cumulative hit/miss counters.
func TestStatsCounters(t *testing.T) {
	s := New(300 * time.Second)

	s.Get("nowhere")
	s.Put("berlin", snapshotFor("Berlin"), time.Now())
	s.Get("berlin")
	s.Get("berlin")

	stats := s.Stats()
	if stats.HitCount != 2 {
		t.Fatalf("expected 2 hits, got %d", stats.HitCount)
	}
	if stats.MissCount != 1 {
		t.Fatalf("expected 1 miss, got %d", stats.MissCount)
	}
	if stats.TTLSeconds != 300 {
		t.Fatalf("expected ttl 300s, got %d", stats.TTLSeconds)
	}
}

// TestPutOverwrites verifies wholesale replacement of an existing entry.
func TestPutOverwrites(t *testing.T) {
	s := New(5 * time.Minute)

	first := snapshotFor("Kyiv")
	first.Temperature = 10
	s.Put("kyiv", first, time.Now())

	second := snapshotFor("Kyiv")
	second.Temperature = 12
	s.Put("kyiv", second, time.Now())

	snap, _, ok := s.Get("kyiv")
	if !ok {
		t.Fatal("expected hit")
	}
	if snap.Temperature != 12 {
		t.Fatalf("expected overwritten temperature 12, got %v", snap.Temperature)
	}
	if s.Stats().EntryCount != 1 {
		t.Fatalf("expected a single entry after overwrite, got %d", s.Stats().EntryCount)
	}
}

// TestConcurrentAccess exercises racing readers and writers on one key.
func TestConcurrentAccess(t *testing.T) {
	s := New(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Put("tokyo", snapshotFor("Tokyo"), time.Now())
		}()
		go func() {
			defer wg.Done()
			s.Get("tokyo")
		}()
	}
	wg.Wait()

	if !s.Has("tokyo") {
		t.Fatal("expected entry after concurrent writes")
	}
}
