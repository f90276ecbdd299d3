package weather

import (
	"strings"
	"time"
)

// SourceOpenWeatherMap tags snapshots captured from the OpenWeatherMap API.
const SourceOpenWeatherMap = "openweathermap"

// Snapshot is one immutable captured reading of current weather for a city.
// It is created by the provider client and never mutated afterwards; a newer
// snapshot supersedes it when the cache entry expires.
type Snapshot struct {
	City          string    `json:"city"`
	Temperature   float64   `json:"temperature"`          // Celsius
	Description   string    `json:"description"`
	Humidity      int       `json:"humidity"`             // percent
	Pressure      float64   `json:"pressure"`             // hPa
	WindSpeed     float64   `json:"wind_speed"`           // m/s
	WindDirection int       `json:"wind_direction"`       // degrees
	Visibility    float64   `json:"visibility,omitempty"` // km
	Timestamp     time.Time `json:"timestamp"`            // capture time, always UTC
	Source        string    `json:"source"`
}

// EventStatus classifies how a lookup resolved.
type EventStatus string

const (
	StatusSuccess       EventStatus = "success"
	StatusProviderError EventStatus = "provider_error"
	StatusStorageError  EventStatus = "storage_error"
	StatusInvalidInput  EventStatus = "invalid_input"
)

// CacheOutcome classifies how the cache check of a lookup resolved.
type CacheOutcome string

const (
	OutcomeHit     CacheOutcome = "hit"
	OutcomeMiss    CacheOutcome = "miss"
	OutcomeExpired CacheOutcome = "expired"
)

// EventRecord is one append-only audit entry for a lookup request.
// Exactly one record is produced per lookup, whatever the outcome.
type EventRecord struct {
	EventID        string       `json:"event_id"`
	City           string       `json:"city"`         // requested city, as given
	CityDisplay    string       `json:"city_display"` // canonical city, as resolved
	Status         EventStatus  `json:"status"`
	CacheOutcome   CacheOutcome `json:"cache_outcome"`
	Timestamp      time.Time    `json:"timestamp"`
	TimestampEpoch int64        `json:"timestamp_epoch"`
	StoragePath    string       `json:"storage_path,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	LatencyMS      int64        `json:"latency_ms,omitempty"` // external call latency, 0 if no call
}

// EventFilter narrows QueryEvents. Zero values mean "no constraint".
type EventFilter struct {
	City  string    // matched against the normalized city
	Since time.Time // lower bound on the event timestamp
	Limit int       // defaults to 100 when <= 0
}

// CityCount is one row of the group-by-city event statistics.
type CityCount struct {
	City  string `json:"city"`
	Count int64  `json:"count"`
}

// CacheStats reports cumulative cache counters since process start.
type CacheStats struct {
	EntryCount int   `json:"entry_count"`
	HitCount   int64 `json:"hit_count"`
	MissCount  int64 `json:"miss_count"`
	TTLSeconds int   `json:"ttl_seconds"`
}

// LookupMetadata accompanies every successful lookup response.
type LookupMetadata struct {
	CacheHit        bool   `json:"cache_hit"`
	CacheAgeSeconds int    `json:"cache_age_seconds"`
	StoragePath     string `json:"storage_path,omitempty"`
	EventID         string `json:"event_id"`
}

// LookupResult bundles the snapshot with its lookup metadata.
type LookupResult struct {
	Data     Snapshot       `json:"weather_data"`
	Metadata LookupMetadata `json:"metadata"`
}

// NormalizeCity converts a raw city string into its cache/storage key form:
// surrounding whitespace trimmed, lower-cased, internal runs of whitespace
// collapsed to single spaces. Two raw strings that normalize identically
// share one cache entry.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}
