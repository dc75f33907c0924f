package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Forecast.Window != 30 || cfg.Forecast.Horizon != 30 {
		t.Errorf("expected window/horizon 30/30, got %d/%d", cfg.Forecast.Window, cfg.Forecast.Horizon)
	}
	if cfg.Feed.Lookback != 24*time.Hour {
		t.Errorf("expected 24h lookback, got %v", cfg.Feed.Lookback)
	}
	if cfg.NATS.Subject != "earthquake_updates" {
		t.Errorf("unexpected NATS subject %s", cfg.NATS.Subject)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected Kafka disabled by default, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("FORECAST_WINDOW", "10")
	t.Setenv("FEED_POLL_INTERVAL", "2m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("FEED_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Forecast.Window != 10 {
		t.Errorf("expected window 10, got %d", cfg.Forecast.Window)
	}
	if cfg.Feed.PollInterval != 2*time.Minute {
		t.Errorf("expected 2m poll interval, got %v", cfg.Feed.PollInterval)
	}
	if cfg.Feed.Enabled {
		t.Error("expected feed disabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad port", "SERVER_PORT", "70000"},
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"short poll interval", "FEED_POLL_INTERVAL", "10s"},
		{"short forecast interval", "FORECAST_INTERVAL", "5s"},
		{"zero window", "FORECAST_WINDOW", "0"},
		{"zero horizon", "FORECAST_HORIZON", "0"},
		{"unknown lock backend", "FORECAST_LOCK_BACKEND", "zookeeper"},
		{"redis lock without url", "FORECAST_LOCK_BACKEND", "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected validation error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
