package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	GRPC      GRPCConfig
	Worker    WorkerConfig
	Feed      FeedConfig
	Forecast  ForecastConfig
	Geocoder  GeocoderConfig
	DB        DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Kafka     KafkaConfig
	ReadModel ReadModelConfig
	Logging   LoggingConfig
}

type GRPCConfig struct {
	Port int
}

type ServerConfig struct {
	Host string
	Port int
}

type WorkerConfig struct {
	Count      int
	BufferSize int
}

type FeedConfig struct {
	Enabled      bool
	URL          string
	PollInterval time.Duration
	Timeout      time.Duration
	Lookback     time.Duration
}

type ForecastConfig struct {
	Enabled          bool
	Interval         time.Duration
	Window           int
	Horizon          int
	ModelPath        string
	ScalersPath      string
	InferenceTimeout time.Duration
	GeocodeTimeout   time.Duration
	LockBackend      string // "local" or "redis"
	LockTTL          time.Duration
}

type GeocoderConfig struct {
	CitiesPath    string
	MapboxToken   string
	MapboxTimeout time.Duration
	CacheSize     int
}

type DatabaseConfig struct {
	Path string
}

type RedisConfig struct {
	URL string // empty disables Redis
}

type NATSConfig struct {
	URL     string // empty disables NATS
	Subject string
}

type KafkaConfig struct {
	Brokers []string // empty disables Kafka
	Topic   string
}

type ReadModelConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		GRPC: GRPCConfig{
			Port: getEnvInt("GRPC_PORT", 50051),
		},
		Worker: WorkerConfig{
			Count:      getEnvInt("WORKER_COUNT", 2),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		Feed: FeedConfig{
			Enabled:      getEnvBool("FEED_ENABLED", true),
			URL:          getEnv("FEED_URL", "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson"),
			PollInterval: getEnvDuration("FEED_POLL_INTERVAL", 5*time.Minute),
			Timeout:      getEnvDuration("FEED_TIMEOUT", 10*time.Second),
			Lookback:     getEnvDuration("FEED_LOOKBACK", 24*time.Hour),
		},
		Forecast: ForecastConfig{
			Enabled:          getEnvBool("FORECAST_ENABLED", true),
			Interval:         getEnvDuration("FORECAST_INTERVAL", 24*time.Hour),
			Window:           getEnvInt("FORECAST_WINDOW", 30),
			Horizon:          getEnvInt("FORECAST_HORIZON", 30),
			ModelPath:        getEnv("FORECAST_MODEL_PATH", "./data/earthquake_lstm_model.json"),
			ScalersPath:      getEnv("FORECAST_SCALERS_PATH", "./data/scalers.json"),
			InferenceTimeout: getEnvDuration("FORECAST_INFERENCE_TIMEOUT", 30*time.Second),
			GeocodeTimeout:   getEnvDuration("FORECAST_GEOCODE_TIMEOUT", 5*time.Second),
			LockBackend:      getEnv("FORECAST_LOCK_BACKEND", "local"),
			LockTTL:          getEnvDuration("FORECAST_LOCK_TTL", 10*time.Minute),
		},
		Geocoder: GeocoderConfig{
			CitiesPath:    getEnv("GEOCODER_CITIES_PATH", "./data/cities1000.csv"),
			MapboxToken:   getEnv("MAPBOX_TOKEN", ""),
			MapboxTimeout: getEnvDuration("MAPBOX_TIMEOUT", 5*time.Second),
			CacheSize:     getEnvInt("GEOCODER_CACHE_SIZE", 1000),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/quakecast.db"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "earthquake_updates"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "earthquake_updates"),
		},
		ReadModel: ReadModelConfig{
			CacheTTL:  getEnvDuration("READMODEL_CACHE_TTL", 30*time.Second),
			CacheSize: getEnvInt("READMODEL_CACHE_SIZE", 64),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Feed.PollInterval < time.Minute {
		return fmt.Errorf("feed poll interval must be at least 1 minute")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed timeout must be positive")
	}
	if c.Feed.Lookback <= 0 {
		return fmt.Errorf("feed lookback must be positive")
	}

	if c.Forecast.Interval < time.Minute {
		return fmt.Errorf("forecast interval must be at least 1 minute")
	}
	if c.Forecast.Window < 1 {
		return fmt.Errorf("forecast window must be at least 1, got %d", c.Forecast.Window)
	}
	if c.Forecast.Horizon < 1 {
		return fmt.Errorf("forecast horizon must be at least 1, got %d", c.Forecast.Horizon)
	}
	if c.Forecast.InferenceTimeout <= 0 || c.Forecast.GeocodeTimeout <= 0 {
		return fmt.Errorf("forecast timeouts must be positive")
	}
	switch c.Forecast.LockBackend {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("forecast lock backend redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid forecast lock backend: %s", c.Forecast.LockBackend)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
