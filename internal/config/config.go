// Package config loads process configuration from environment variables
// with defaults that let the binaries run locally without setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers   []string
	LocationTopic  string
	RideEventTopic string

	PGDSN string

	OSRMEndpoint  string
	RouteCacheTTL time.Duration
	RequireRoute  bool

	PushEndpoint string
	FCMEndpoint  string
	FCMServerKey string

	// PromoCodes are CODE:CURRENCY:DISCOUNT entries, discount in minor units.
	PromoCodes []string

	OfferTTL       time.Duration
	MaxSweeps      int
	SweepBackoff   time.Duration
	BackoffJitter  float64
	InitialRadiusM float64
	MaxRadiusM     float64
	RadiusStepM    float64
	RideLockTTL    time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		LocationTopic:  "driver-locations",
		RideEventTopic: "ride-events",

		RouteCacheTTL: 2 * time.Minute,

		OfferTTL:       15 * time.Second,
		MaxSweeps:      3,
		SweepBackoff:   5 * time.Second,
		BackoffJitter:  0.5,
		InitialRadiusM: 5000,
		MaxRadiusM:     15000,
		RadiusStepM:    5000,
		RideLockTTL:    2 * time.Hour,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.LocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.RideEventTopic, "KAFKA_RIDE_EVENT_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.RouteCacheTTL, "ROUTE_CACHE_TTL", &errs)
	cfg.RequireRoute = strings.EqualFold(os.Getenv("DISPATCH_REQUIRE_ROUTE"), "true")

	cfg.PushEndpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMServerKey = os.Getenv("FCM_SERVER_KEY")
	if promos := os.Getenv("PROMO_CODES"); promos != "" {
		cfg.PromoCodes = splitAndTrim(promos)
	}

	setDurationFromEnv(&cfg.OfferTTL, "DISPATCH_OFFER_TTL", &errs)
	setIntFromEnv(&cfg.MaxSweeps, "DISPATCH_MAX_SWEEPS", &errs)
	setDurationFromEnv(&cfg.SweepBackoff, "DISPATCH_SWEEP_BACKOFF", &errs)
	setFloatFromEnv(&cfg.BackoffJitter, "DISPATCH_BACKOFF_JITTER", &errs)
	setFloatFromEnv(&cfg.InitialRadiusM, "DISPATCH_INITIAL_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.MaxRadiusM, "DISPATCH_MAX_RADIUS_M", &errs)
	setFloatFromEnv(&cfg.RadiusStepM, "DISPATCH_RADIUS_STEP_M", &errs)
	setDurationFromEnv(&cfg.RideLockTTL, "DISPATCH_RIDE_LOCK_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_OFFER_TTL must be > 0"))
	}
	if cfg.MaxSweeps < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_SWEEPS must be >= 0"))
	}
	if cfg.InitialRadiusM <= 0 || cfg.MaxRadiusM < cfg.InitialRadiusM {
		errs = append(errs, fmt.Errorf("dispatch radius bounds invalid: initial=%v max=%v", cfg.InitialRadiusM, cfg.MaxRadiusM))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig holds the location consumer's tunables.
type ConsumerConfig struct {
	MetricsAddr string

	KafkaBrokers  []string
	LocationTopic string
	KafkaGroup    string

	RedisAddr     string
	RedisPassword string

	LogLevel string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:   ":2112",
		KafkaBrokers:  []string{"localhost:9092"},
		LocationTopic: "driver-locations",
		KafkaGroup:    "ride-dispatch-consumer",
		RedisAddr:     "localhost:6379",
		LogLevel:      "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.LocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
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

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
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
