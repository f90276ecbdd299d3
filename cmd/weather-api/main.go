package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/skycache/weather-api/internal/api/http"
	"github.com/skycache/weather-api/internal/cache"
	"github.com/skycache/weather-api/internal/config"
	"github.com/skycache/weather-api/internal/scheduler"
	"github.com/skycache/weather-api/internal/storage"
	"github.com/skycache/weather-api/internal/weather"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound provider calls; its timeout bounds
	// every external fetch.
	httpClient := &http.Client{
		Timeout: cfg.WeatherAPITimeout,
	}

	provider := weather.NewOpenWeatherClient(httpClient, cfg.WeatherAPIKey, cfg.WeatherAPIURL)

	// One cache for the process, constructed here and passed down.
	cacheStore := cache.New(cfg.CacheTTL)

	// Storage backend selected by deployment profile.
	backend, closeBackend, err := buildBackend(cfg)
	if err != nil {
		log.Fatalf("failed to build %s storage backend: %v", cfg.StorageProfile, err)
	}
	defer closeBackend()

	service := weather.NewService(cacheStore, provider, backend)

	// Periodic cache sweep and event retention purge.
	sched := scheduler.New(service, cfg.SweepInterval, cfg.EventRetentionDays)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-api",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}

// buildBackend constructs the storage backend for the configured profile.
// The returned func releases whatever the backend holds open.
func buildBackend(cfg *config.AppConfig) (weather.Backend, func(), error) {
	switch cfg.StorageProfile {
	case config.ProfileCloud:
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.AWSRegion),
		)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewCloud(awsCfg, cfg.S3Bucket, cfg.S3Prefix, cfg.DynamoDBTable), func() {}, nil

	default:
		local, err := storage.NewLocal(cfg.LocalStoragePath, cfg.LocalDBPath)
		if err != nil {
			return nil, nil, err
		}
		return local, func() {
			if err := local.Close(); err != nil {
				log.Printf("error closing local backend: %v", err)
			}
		}, nil
	}
}
