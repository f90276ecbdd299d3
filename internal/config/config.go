package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// StorageProfile selects which Backend implementation the process runs with.
type StorageProfile string

const (
	ProfileLocal StorageProfile = "local"
	ProfileCloud StorageProfile = "cloud"
)

type AppConfig struct {
	// External weather provider.
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	// Cache.
	CacheTTL time.Duration

	// Storage profile and per-profile settings.
	StorageProfile StorageProfile

	LocalStoragePath string
	LocalDBPath      string

	S3Bucket      string
	S3Prefix      string
	DynamoDBTable string
	AWSRegion     string

	// Maintenance scheduler.
	SweepInterval      time.Duration
	EventRetentionDays int

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY is required")
	}
	cfg.WeatherAPIURL = os.Getenv("WEATHER_API_URL")

	timeoutStr := getenvDefault("WEATHER_API_TIMEOUT", "10s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid WEATHER_API_TIMEOUT: %w", err)
	}
	cfg.WeatherAPITimeout = timeout

	// Cache TTL: default 300 seconds.
	cfg.CacheTTL = time.Duration(getenvInt("CACHE_TTL_SECONDS", 300)) * time.Second

	profile := StorageProfile(getenvDefault("STORAGE_PROFILE", string(ProfileLocal)))
	switch profile {
	case ProfileLocal, ProfileCloud:
		cfg.StorageProfile = profile
	default:
		return nil, fmt.Errorf("unsupported STORAGE_PROFILE %q: must be %q or %q", profile, ProfileLocal, ProfileCloud)
	}

	cfg.LocalStoragePath = getenvDefault("LOCAL_STORAGE_PATH", "./data/weather_files")
	cfg.LocalDBPath = getenvDefault("LOCAL_DB_PATH", "./data/weather_events.db")

	cfg.S3Bucket = getenvDefault("S3_BUCKET", "weather-api-bucket")
	cfg.S3Prefix = getenvDefault("S3_PREFIX", "weather-data/")
	cfg.DynamoDBTable = getenvDefault("DYNAMODB_TABLE", "weather-events")
	cfg.AWSRegion = getenvDefault("AWS_REGION", "us-east-1")

	sweepStr := getenvDefault("SWEEP_INTERVAL", "5m")
	sweep, err := time.ParseDuration(sweepStr)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	cfg.SweepInterval = sweep
	cfg.EventRetentionDays = getenvInt("EVENT_RETENTION_DAYS", 30)

	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
