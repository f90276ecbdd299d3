package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

const defaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// OpenWeatherClient implements the Provider interface for OpenWeatherMap.
// It enforces a bounded request timeout and classifies failures; it never
// retries, so a single failed fetch surfaces as a single failed lookup.
type OpenWeatherClient struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient creates an OpenWeatherMap client. The shared
// http.Client carries the provider call timeout; baseURL may be empty to
// use the public API endpoint.
func NewOpenWeatherClient(client *http.Client, apiKey, baseURL string) *OpenWeatherClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	if baseURL == "" {
		baseURL = defaultOpenWeatherURL
	}

	return &OpenWeatherClient{
		name:    SourceOpenWeatherMap,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		circuit: cb,
	}
}

func (p *OpenWeatherClient) Name() string {
	return p.name
}

// Fetch retrieves the current weather for one city and maps it into a
// Snapshot. The returned error wraps one of ErrCityNotFound,
// ErrProviderUnavailable or ErrProviderProtocol.
func (p *OpenWeatherClient) Fetch(ctx context.Context, city string) (Snapshot, error) {
	values := url.Values{}
	values.Set("q", city)
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")

	u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	result, err := p.circuit.Execute(func() (interface{}, error) {
		resp, execErr := p.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}

		// Rate limiting and server errors count as breaker failures. A 404
		// is an answer about the city, not an upstream fault, so it passes
		// through without charging the breaker.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: upstream status %d", ErrProviderUnavailable, resp.StatusCode)
		}

		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Snapshot{}, fmt.Errorf("%w: circuit breaker open", ErrProviderUnavailable)
		}
		if errors.Is(err, ErrProviderUnavailable) {
			return Snapshot{}, err
		}
		return Snapshot{}, classifyTransportError(err)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusNotFound:
		return Snapshot{}, fmt.Errorf("%w: %q", ErrCityNotFound, city)
	default:
		return Snapshot{}, fmt.Errorf("%w: unexpected status %d", ErrProviderProtocol, resp.StatusCode)
	}

	var payload struct {
		Name string `json:"name"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity int     `json:"humidity"`
			Pressure float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   int     `json:"deg"`
		} `json:"wind"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Visibility float64 `json:"visibility"` // meters
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrProviderProtocol, err)
	}

	display := payload.Name
	if display == "" {
		display = city
	}

	description := ""
	if len(payload.Weather) > 0 {
		description = payload.Weather[0].Description
	}

	return Snapshot{
		City:          display,
		Temperature:   payload.Main.Temp,
		Description:   description,
		Humidity:      payload.Main.Humidity,
		Pressure:      payload.Main.Pressure,
		WindSpeed:     payload.Wind.Speed,
		WindDirection: payload.Wind.Deg,
		Visibility:    payload.Visibility / 1000, // meters to km
		Timestamp:     time.Now().UTC(),
		Source:        p.name,
	}, nil
}

// classifyTransportError folds timeouts and connection failures into
// ErrProviderUnavailable so the caller never sees raw transport errors.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out", ErrProviderUnavailable)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request timed out", ErrProviderUnavailable)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
