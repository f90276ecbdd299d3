package weather

import (
	"time"

	"github.com/google/uuid"
)

// Recorder assembles event records from the pieces a lookup accumulates.
// It is stateless; one instance serves all requests.
type Recorder struct{}

// NewRecord builds an EventRecord with a fresh event id and the current
// wall-clock timestamp. LatencyMS stays zero when no external call occurred.
func (Recorder) NewRecord(requested, canonical string, status EventStatus, outcome CacheOutcome) EventRecord {
	now := time.Now().UTC()
	return EventRecord{
		EventID:        uuid.NewString(),
		City:           requested,
		CityDisplay:    canonical,
		Status:         status,
		CacheOutcome:   outcome,
		Timestamp:      now,
		TimestampEpoch: now.Unix(),
	}
}
