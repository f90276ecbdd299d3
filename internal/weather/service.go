package weather

import (
	"context"
	"errors"
	"log"
	"time"
)

const eventAppendTimeout = 5 * time.Second

// Service orchestrates one lookup: cache check, provider fetch on miss,
// best-effort snapshot persistence, cache write, and an unconditional event
// append. It is the sole writer of cache entries and event records.
//
// Two concurrent misses for the same city may both reach the provider; both
// writers then race on the cache put and the last write wins. Snapshots for
// the same city inside that window are equivalent up to provider jitter, so
// no single-flight collapsing is applied.
type Service struct {
	cache    CacheStore
	provider Provider
	backend  Backend
	recorder Recorder
}

// NewService creates a Service. The cache is an explicitly constructed
// instance owned by the process, never a package global.
func NewService(cache CacheStore, provider Provider, backend Backend) *Service {
	return &Service{
		cache:    cache,
		provider: provider,
		backend:  backend,
	}
}

// Lookup resolves current weather for the requested city. The returned
// error wraps one of the exported error kinds; on provider failure the
// event trail still receives exactly one record.
func (s *Service) Lookup(ctx context.Context, city string) (LookupResult, error) {
	normalized := NormalizeCity(city)
	if normalized == "" {
		rec := s.recorder.NewRecord(city, "", StatusInvalidInput, OutcomeMiss)
		rec.ErrorMessage = "city name cannot be empty"
		s.appendEvent(ctx, rec)
		return LookupResult{}, ErrInvalidCity
	}

	// Step 1: cache check. Freshness is judged by the cache itself; presence
	// of a stale entry distinguishes expired from never-cached.
	if snap, age, ok := s.cache.Get(normalized); ok {
		rec := s.recorder.NewRecord(city, snap.City, StatusSuccess, OutcomeHit)
		s.appendEvent(ctx, rec)

		log.Printf("weather: cache hit for %q (age %s)", normalized, age.Round(time.Second))
		return LookupResult{
			Data: snap,
			Metadata: LookupMetadata{
				CacheHit:        true,
				CacheAgeSeconds: int(age.Seconds()),
				EventID:         rec.EventID,
			},
		}, nil
	}

	outcome := OutcomeMiss
	if s.cache.Has(normalized) {
		outcome = OutcomeExpired
	}

	// Step 2: fetch from the provider. No retries; a failed fetch fails the
	// whole lookup with the provider's error kind.
	fetchStart := time.Now()
	snap, err := s.provider.Fetch(ctx, city)
	latency := time.Since(fetchStart).Milliseconds()
	if err != nil {
		rec := s.recorder.NewRecord(city, normalized, StatusForError(err), outcome)
		rec.ErrorMessage = err.Error()
		rec.LatencyMS = latency
		s.appendEvent(ctx, rec)

		log.Printf("weather: fetch failed for %q: %v", normalized, err)
		return LookupResult{}, err
	}

	// Step 3: persist the snapshot blob. Best effort: the snapshot is still
	// usable and cached when the write fails, only the event status records it.
	status := StatusSuccess
	storagePath, persistErr := s.backend.StoreSnapshot(ctx, normalized, snap)
	if persistErr != nil {
		status = StatusStorageError
		storagePath = ""
		log.Printf("weather: snapshot persist failed for %q: %v", normalized, persistErr)
	}

	// Step 4: cache write, wholesale replacement.
	s.cache.Put(normalized, snap, snap.Timestamp)

	rec := s.recorder.NewRecord(city, snap.City, status, outcome)
	rec.StoragePath = storagePath
	rec.LatencyMS = latency
	if persistErr != nil {
		rec.ErrorMessage = persistErr.Error()
	}
	s.appendEvent(ctx, rec)

	return LookupResult{
		Data: snap,
		Metadata: LookupMetadata{
			CacheHit:        false,
			CacheAgeSeconds: 0,
			StoragePath:     storagePath,
			EventID:         rec.EventID,
		},
	}, nil
}

// appendEvent writes the record under a context decoupled from request
// cancellation, so a client disconnect cannot leave the trail short. An
// append failure is reported to the log and never propagates into the
// lookup result already computed.
func (s *Service) appendEvent(ctx context.Context, rec EventRecord) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventAppendTimeout)
	defer cancel()

	if err := s.backend.AppendEvent(appendCtx, rec); err != nil {
		log.Printf("weather: event append failed (event_id=%s): %v", rec.EventID, err)
	}
}

// CacheStats delegates to the cache store.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// InvalidateCache removes expired cache entries and returns the count.
// Idempotent; fresh entries are untouched.
func (s *Service) InvalidateCache() int {
	return s.cache.InvalidateExpired()
}

// RecentEvents returns events from the trail, most recent first.
func (s *Service) RecentEvents(ctx context.Context, city string, since time.Time, limit int) ([]EventRecord, error) {
	return s.backend.QueryEvents(ctx, EventFilter{
		City:  NormalizeCity(city),
		Since: since,
		Limit: limit,
	})
}

// EventStats returns per-city request counts since the given time.
func (s *Service) EventStats(ctx context.Context, since time.Time) ([]CityCount, error) {
	return s.backend.CountByCity(ctx, since)
}

// PurgeEvents removes events older than before from the trail.
func (s *Service) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	return s.backend.PurgeEvents(ctx, before)
}

// Health reports component reachability for the health endpoints.
type Health struct {
	Cache     bool      `json:"cache"`
	Storage   bool      `json:"storage"`
	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheck probes the cache store and the storage backend and reports a
// composite status. The in-process cache is reachable as long as it answers
// a stats call; the backend is pinged with a bounded timeout.
func (s *Service) HealthCheck(ctx context.Context) Health {
	h := Health{Timestamp: time.Now().UTC()}

	_ = s.cache.Stats()
	h.Cache = true

	pingCtx, cancel := context.WithTimeout(ctx, eventAppendTimeout)
	defer cancel()
	if err := s.backend.Ping(pingCtx); err != nil {
		log.Printf("weather: storage ping failed: %v", err)
	} else {
		h.Storage = true
	}

	h.Healthy = h.Cache && h.Storage
	return h
}

// IsNotFound reports whether err means the requested city does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCityNotFound)
}
