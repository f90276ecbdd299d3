package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/skycache/weather-api/internal/cache"
	"github.com/skycache/weather-api/internal/weather"
)

type fakeProvider struct {
	snap weather.Snapshot
	err  error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(ctx context.Context, city string) (weather.Snapshot, error) {
	if p.err != nil {
		return weather.Snapshot{}, p.err
	}
	return p.snap, nil
}

type fakeBackend struct {
	mu     sync.Mutex
	events []weather.EventRecord
}

func (b *fakeBackend) StoreSnapshot(ctx context.Context, city string, snap weather.Snapshot) (string, error) {
	return "/data/" + weather.NormalizeCity(city) + ".json", nil
}

func (b *fakeBackend) AppendEvent(ctx context.Context, rec weather.EventRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, rec)
	return nil
}

func (b *fakeBackend) QueryEvents(ctx context.Context, f weather.EventFilter) ([]weather.EventRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]weather.EventRecord(nil), b.events...), nil
}

func (b *fakeBackend) CountByCity(ctx context.Context, since time.Time) ([]weather.CityCount, error) {
	return []weather.CityCount{{City: "London", Count: 2}}, nil
}

func (b *fakeBackend) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	return 7, nil
}

func (b *fakeBackend) Ping(ctx context.Context) error { return nil }

func newTestApp(provider *fakeProvider) (*fiber.App, *fakeBackend) {
	backend := &fakeBackend{}
	service := weather.NewService(cache.New(5*time.Minute), provider, backend)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, service)
	return app, backend
}

func performRequest(t *testing.T, app *fiber.App, method, target string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("%s %s: decode body: %v", method, target, err)
	}
	return resp, body
}

func TestGetWeather(t *testing.T) {
	provider := &fakeProvider{snap: weather.Snapshot{
		City:        "London",
		Temperature: 15.3,
		Description: "overcast clouds",
		Humidity:    70,
		Pressure:    1011,
		WindSpeed:   6.2,
		Timestamp:   time.Now().UTC(),
		Source:      weather.SourceOpenWeatherMap,
	}}
	app, _ := newTestApp(provider)

	resp, body := performRequest(t, app, http.MethodGet, "/api/v1/weather?city=London")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	data, ok := body["weather_data"].(map[string]any)
	if !ok {
		t.Fatalf("missing weather_data in %v", body)
	}
	if data["city"] != "London" {
		t.Errorf("city: got %v", data["city"])
	}
	if data["temperature"] != 15.3 {
		t.Errorf("temperature: got %v", data["temperature"])
	}

	meta, ok := body["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("missing metadata in %v", body)
	}
	if meta["cache_hit"] != false {
		t.Errorf("cache_hit: got %v", meta["cache_hit"])
	}
	if meta["event_id"] == "" {
		t.Error("expected a non-empty event_id")
	}
}

func TestGetWeatherSecondCallIsHit(t *testing.T) {
	provider := &fakeProvider{snap: weather.Snapshot{
		City:      "Madrid",
		Timestamp: time.Now().UTC(),
		Source:    weather.SourceOpenWeatherMap,
	}}
	app, _ := newTestApp(provider)

	if resp, _ := performRequest(t, app, http.MethodGet, "/api/v1/weather?city=Madrid"); resp.StatusCode != http.StatusOK {
		t.Fatalf("first call: got %d", resp.StatusCode)
	}
	_, body := performRequest(t, app, http.MethodGet, "/api/v1/weather?city=madrid")

	meta := body["metadata"].(map[string]any)
	if meta["cache_hit"] != true {
		t.Fatalf("expected a cache hit, metadata %v", meta)
	}
}

func TestGetWeatherMissingCity(t *testing.T) {
	app, _ := newTestApp(&fakeProvider{})

	resp, _ := performRequest(t, app, http.MethodGet, "/api/v1/weather")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetWeatherErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", weather.ErrCityNotFound, http.StatusNotFound},
		{"unavailable", weather.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{"protocol", weather.ErrProviderProtocol, http.StatusBadGateway},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app, _ := newTestApp(&fakeProvider{err: tc.err})
			resp, _ := performRequest(t, app, http.MethodGet, "/api/v1/weather?city=Nowhere")
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestCacheStatsAndInvalidate(t *testing.T) {
	provider := &fakeProvider{snap: weather.Snapshot{
		City:      "Rome",
		Timestamp: time.Now().UTC(),
		Source:    weather.SourceOpenWeatherMap,
	}}
	app, _ := newTestApp(provider)

	performRequest(t, app, http.MethodGet, "/api/v1/weather?city=Rome")
	performRequest(t, app, http.MethodGet, "/api/v1/weather?city=Rome")

	resp, stats := performRequest(t, app, http.MethodGet, "/api/v1/cache/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: got %d", resp.StatusCode)
	}
	if stats["entry_count"] != float64(1) {
		t.Errorf("entry_count: got %v", stats["entry_count"])
	}
	if stats["hit_count"] != float64(1) || stats["miss_count"] != float64(1) {
		t.Errorf("counters: got hit=%v miss=%v", stats["hit_count"], stats["miss_count"])
	}

	resp, body := performRequest(t, app, http.MethodPost, "/api/v1/cache/invalidate")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("invalidate: got %d", resp.StatusCode)
	}
	if body["deleted_entries"] != float64(1) {
		t.Errorf("deleted_entries: got %v", body["deleted_entries"])
	}
}

func TestRecentEvents(t *testing.T) {
	provider := &fakeProvider{snap: weather.Snapshot{
		City:      "Kyoto",
		Timestamp: time.Now().UTC(),
		Source:    weather.SourceOpenWeatherMap,
	}}
	app, backend := newTestApp(provider)

	performRequest(t, app, http.MethodGet, "/api/v1/weather?city=Kyoto")
	if len(backend.events) != 1 {
		t.Fatalf("expected 1 recorded event, got %d", len(backend.events))
	}

	resp, body := performRequest(t, app, http.MethodGet, "/api/v1/events/recent")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recent events: got %d", resp.StatusCode)
	}
	if body["count"] != float64(1) {
		t.Fatalf("count: got %v", body["count"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/api/v1/events/recent?hours=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("hours=0: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/api/v1/events/recent?limit=5000")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("limit=5000: expected 400, got %d", resp.StatusCode)
	}
}

func TestEventStatsAndPurge(t *testing.T) {
	app, _ := newTestApp(&fakeProvider{})

	resp, body := performRequest(t, app, http.MethodGet, "/api/v1/events/stats?hours=48")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("event stats: got %d", resp.StatusCode)
	}
	if body["period_hours"] != float64(48) {
		t.Errorf("period_hours: got %v", body["period_hours"])
	}

	resp, body = performRequest(t, app, http.MethodDelete, "/api/v1/events?days=14")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("purge: got %d", resp.StatusCode)
	}
	if body["purged_events"] != float64(7) {
		t.Errorf("purged_events: got %v", body["purged_events"])
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/api/v1/events?days=-1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("days=-1: expected 400, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(&fakeProvider{})

	resp, body := performRequest(t, app, http.MethodGet, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: got %d", resp.StatusCode)
	}
	if body["healthy"] != true {
		t.Fatalf("expected healthy=true, got %v", body["healthy"])
	}

	resp, body = performRequest(t, app, http.MethodGet, "/health/ready")
	if resp.StatusCode != http.StatusOK || body["status"] != "ready" {
		t.Fatalf("ready: got %d %v", resp.StatusCode, body)
	}
}
