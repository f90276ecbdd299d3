package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/skycache/weather-api/internal/weather"
)

var validate = validator.New()

// ErrorHandler renders every handler error as a JSON body with the
// matching HTTP status.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	app.Get("/health", func(c *fiber.Ctx) error {
		h := service.HealthCheck(c.Context())
		status := fiber.StatusOK
		if !h.Healthy {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(h)
	})

	app.Get("/health/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ready"})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/weather", func(c *fiber.Ctx) error {
		city, err := parseCityQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		result, err := service.Lookup(c.Context(), city)
		if err != nil {
			return lookupError(city, err)
		}

		return c.JSON(result)
	})

	v1.Get("/cache/stats", func(c *fiber.Ctx) error {
		return c.JSON(service.CacheStats())
	})

	v1.Post("/cache/invalidate", func(c *fiber.Ctx) error {
		removed := service.InvalidateCache()
		return c.JSON(fiber.Map{
			"deleted_entries": removed,
			"timestamp":       time.Now().UTC(),
		})
	})

	v1.Get("/events/recent", func(c *fiber.Ctx) error {
		var req eventsQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		since := time.Now().UTC().Add(-time.Duration(req.Hours) * time.Hour)
		events, err := service.RecentEvents(c.Context(), req.City, since, req.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query events")
		}

		return c.JSON(fiber.Map{
			"events": events,
			"count":  len(events),
		})
	})

	v1.Get("/events/stats", func(c *fiber.Ctx) error {
		hours := c.QueryInt("hours", 24)
		if hours <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "hours must be positive")
		}

		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		counts, err := service.EventStats(c.Context(), since)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query event stats")
		}

		return c.JSON(fiber.Map{
			"period_hours": hours,
			"cities":       counts,
		})
	})

	v1.Delete("/events", func(c *fiber.Ctx) error {
		days := c.QueryInt("days", 30)
		if days <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "days must be positive")
		}

		before := time.Now().UTC().AddDate(0, 0, -days)
		purged, err := service.PurgeEvents(c.Context(), before)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to purge events")
		}

		return c.JSON(fiber.Map{
			"purged_events": purged,
			"before":        before,
		})
	})
}

// lookupError maps service error kinds onto HTTP statuses.
func lookupError(city string, err error) error {
	switch {
	case errors.Is(err, weather.ErrInvalidCity):
		return fiber.NewError(fiber.StatusBadRequest, "invalid city name")
	case errors.Is(err, weather.ErrCityNotFound):
		return fiber.NewError(fiber.StatusNotFound, "city '"+city+"' not found")
	case errors.Is(err, weather.ErrProviderUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, "weather service temporarily unavailable")
	case errors.Is(err, weather.ErrProviderProtocol):
		return fiber.NewError(fiber.StatusBadGateway, "unexpected response from weather provider")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
	}
}

// cityQuery holds the query parameter identifying a city.
type cityQuery struct {
	City string `validate:"required,max=100"`
}

func parseCityQuery(c *fiber.Ctx) (string, error) {
	q := cityQuery{City: c.Query("city")}
	if err := validate.Struct(q); err != nil {
		return "", err
	}
	return q.City, nil
}

// eventsQuery holds query parameters for the recent-events endpoint.
type eventsQuery struct {
	City  string
	Hours int `validate:"gte=1,lte=720"`
	Limit int `validate:"gte=1,lte=1000"`
}

func (q *eventsQuery) bind(c *fiber.Ctx) error {
	q.City = c.Query("city")
	q.Hours = c.QueryInt("hours", 24)
	q.Limit = c.QueryInt("limit", 100)
	return validate.Struct(q)
}
