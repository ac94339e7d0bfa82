package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for the sync layer client.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ClientConfig struct {
	APIBaseURL  string
	RealtimeURL string
	AuthToken   string

	RequestTimeout time.Duration

	SearchDebounce time.Duration
	SearchTimeout  time.Duration
	PlacesEndpoint string
	PlacesAPIKey   string

	GeoReadingTimeout time.Duration

	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	MetricsAddr string
	LogLevel    string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIBaseURL:        "http://localhost:8080",
		RealtimeURL:       "ws://localhost:8080/ws",
		RequestTimeout:    10 * time.Second,
		SearchDebounce:    500 * time.Millisecond,
		SearchTimeout:     5 * time.Second,
		PlacesEndpoint:    "https://maps.googleapis.com/maps/api",
		GeoReadingTimeout: 10 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      30 * time.Second,
		MetricsAddr:       ":2112",
		LogLevel:          "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.RealtimeURL, "REALTIME_URL")
	cfg.AuthToken = strings.TrimSpace(os.Getenv("RIDE_AUTH_TOKEN"))

	setDurationFromEnv(&cfg.RequestTimeout, "REQUEST_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.SearchDebounce, "SEARCH_DEBOUNCE", &errs)
	setDurationFromEnv(&cfg.SearchTimeout, "SEARCH_TIMEOUT", &errs)
	setStringFromEnv(&cfg.PlacesEndpoint, "PLACES_ENDPOINT")
	cfg.PlacesAPIKey = os.Getenv("PLACES_API_KEY")

	setDurationFromEnv(&cfg.GeoReadingTimeout, "GEO_READING_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ReconnectBase, "RECONNECT_BASE", &errs)
	setDurationFromEnv(&cfg.ReconnectMax, "RECONNECT_MAX", &errs)

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.AuthToken == "" {
		errs = append(errs, fmt.Errorf("RIDE_AUTH_TOKEN must be set"))
	}
	if cfg.SearchDebounce <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_DEBOUNCE must be > 0"))
	}
	if cfg.ReconnectBase <= 0 || cfg.ReconnectMax < cfg.ReconnectBase {
		errs = append(errs, fmt.Errorf("RECONNECT_BASE/RECONNECT_MAX must be positive and ordered"))
	}

	return cfg, errors.Join(errs...)
}

// SimulatorConfig covers the dev backend stand-in.
type SimulatorConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool

	NearbyLimit int
	LogLevel    string
}

func defaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		NearbyLimit:     8,
		LogLevel:        "info",
	}
}

func LoadSimulatorConfig() (SimulatorConfig, error) {
	cfg := defaultSimulatorConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	setIntFromEnv(&cfg.NearbyLimit, "NEARBY_LIMIT", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.NearbyLimit <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_LIMIT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
