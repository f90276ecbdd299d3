package weather

import "errors"

var (
	// ErrInvalidCity is returned for empty or malformed city input, before
	// the cache or the provider are consulted.
	ErrInvalidCity = errors.New("invalid city name")

	// ErrCityNotFound is returned when the provider reports no match.
	ErrCityNotFound = errors.New("city not found")

	// ErrProviderUnavailable covers network failures, timeouts, upstream 5xx
	// responses and an open circuit breaker.
	ErrProviderUnavailable = errors.New("weather provider unavailable")

	// ErrProviderProtocol is returned when the provider response cannot be parsed.
	ErrProviderProtocol = errors.New("malformed provider response")

	// ErrStorageConflict is returned when a snapshot blob already exists under
	// the derived name. Non-fatal to a lookup.
	ErrStorageConflict = errors.New("storage path conflict")

	// ErrStorageUnavailable covers storage backends that cannot be reached.
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)

// StatusForError maps a lookup error to its event status.
func StatusForError(err error) EventStatus {
	switch {
	case errors.Is(err, ErrInvalidCity):
		return StatusInvalidInput
	case errors.Is(err, ErrStorageConflict), errors.Is(err, ErrStorageUnavailable):
		return StatusStorageError
	default:
		return StatusProviderError
	}
}
