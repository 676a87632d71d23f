package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch backend.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
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

	PGDSN string

	OSRMURL     string
	EtaCacheTTL time.Duration

	WSToken         string
	DefaultSpeedMps float64
	OfferTopN       int

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "riders_geo",
		KafkaTopic:      "rider-locations",
		EtaCacheTTL:     30 * time.Second,
		DefaultSpeedMps: 8,
		OfferTopN:       5,
		LogLevel:        "info",
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
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	setDurationFromEnv(&cfg.EtaCacheTTL, "ETA_CACHE_TTL", &errs)

	cfg.WSToken = os.Getenv("RIDER_WS_TOKEN")
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)
	setIntFromEnv(&cfg.OfferTopN, "OFFER_TOP_N", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferTopN <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TOP_N must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// RiderConfig captures all tunable parameters for the rider-side agent.
type RiderConfig struct {
	SocketURL string
	APIBase   string
	RiderID   string
	Token     string

	MetricsAddr string

	DialTimeout       time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int

	OfferTTL      time.Duration
	CountdownTick time.Duration

	LocationInterval time.Duration
	AvgSpeedMps      float64

	LogLevel string
}

func defaultRiderConfig() RiderConfig {
	return RiderConfig{
		SocketURL:         "ws://localhost:8080/ws/rider",
		APIBase:           "http://localhost:8080",
		MetricsAddr:       ":2112",
		DialTimeout:       10 * time.Second,
		ReconnectBase:     time.Second,
		ReconnectMax:      30 * time.Second,
		ReconnectAttempts: 10,
		OfferTTL:          30 * time.Second,
		CountdownTick:     time.Second,
		LocationInterval:  5 * time.Second,
		AvgSpeedMps:       8,
		LogLevel:          "info",
	}
}

func LoadRiderConfig() (RiderConfig, error) {
	cfg := defaultRiderConfig()
	var errs []error

	setStringFromEnv(&cfg.SocketURL, "SOCKET_URL")
	setStringFromEnv(&cfg.APIBase, "API_BASE")
	setStringFromEnv(&cfg.RiderID, "RIDER_ID")
	setStringFromEnv(&cfg.Token, "RIDER_TOKEN")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	setDurationFromEnv(&cfg.DialTimeout, "SOCKET_DIAL_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ReconnectBase, "SOCKET_RECONNECT_BASE", &errs)
	setDurationFromEnv(&cfg.ReconnectMax, "SOCKET_RECONNECT_MAX", &errs)
	setIntFromEnv(&cfg.ReconnectAttempts, "SOCKET_RECONNECT_ATTEMPTS", &errs)

	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setDurationFromEnv(&cfg.CountdownTick, "OFFER_COUNTDOWN_TICK", &errs)

	setDurationFromEnv(&cfg.LocationInterval, "LOCATION_INTERVAL", &errs)
	setFloatFromEnv(&cfg.AvgSpeedMps, "AVG_SPEED_MPS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.RiderID == "" {
		errs = append(errs, fmt.Errorf("RIDER_ID is required"))
	}
	if cfg.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TTL must be > 0"))
	}
	if cfg.ReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("SOCKET_RECONNECT_ATTEMPTS must be > 0"))
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
