// Package app builds the service components from configuration. Both the
// quakecast server and the quakectl CLI wire themselves through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/go-quake-forecast/internal/config"
	"github.com/mr1hm/go-quake-forecast/internal/forecast"
	"github.com/mr1hm/go-quake-forecast/internal/geocode"
	"github.com/mr1hm/go-quake-forecast/internal/ingestion"
	"github.com/mr1hm/go-quake-forecast/internal/notify"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
	"github.com/mr1hm/go-quake-forecast/internal/readmodel"
	"github.com/mr1hm/go-quake-forecast/internal/repository"
)

// App holds the long-lived dependencies. Close releases them in reverse order.
type App struct {
	Config  *config.Config
	Metrics *observability.Metrics
	DB      *repository.SQLiteDB
	Redis   *redis.Client // nil when REDIS_URL is unset
	Clock   clockwork.Clock

	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics,
		Clock:   clockwork.NewRealClock(),
	}

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
	}

	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Notifier fans new events out to the given in-process sinks plus NATS and
// Kafka when they are configured.
func (a *App) Notifier(sinks ...notify.Sink) (*notify.Multi, error) {
	multi, err := notify.NewMulti(a.Metrics, sinks...)
	if err != nil {
		return nil, err
	}

	if url := a.Config.NATS.URL; url != "" {
		n, err := notify.ConnectNATS(url, a.Config.NATS.Subject)
		if err != nil {
			return nil, err
		}
		multi.Add(notify.Sink{Name: "nats", Notifier: n})
		a.closers = append(a.closers, n.Close)
		slog.Info("publishing new events to NATS", "subject", a.Config.NATS.Subject)
	}

	if brokers := a.Config.Kafka.Brokers; len(brokers) > 0 {
		k := notify.NewKafka(brokers, a.Config.Kafka.Topic)
		multi.Add(notify.Sink{Name: "kafka", Notifier: k})
		a.closers = append(a.closers, k.Close)
		slog.Info("publishing new events to Kafka", "topic", a.Config.Kafka.Topic)
	}

	return multi, nil
}

func (a *App) Ingestor(notifier notify.Notifier) (*ingestion.Ingestor, error) {
	cfg := a.Config
	feed := ingestion.NewUSGSClient(cfg.Feed.URL, cfg.Feed.Timeout)
	return ingestion.NewIngestor(feed, a.DB, notifier, cfg.Worker.Count, cfg.Worker.BufferSize, cfg.Feed.Lookback, a.Clock, a.Metrics)
}

// Geocoder resolves forecast coordinates: Mapbox first when a token is set,
// then the offline city table, both behind an LRU cache.
func (a *App) Geocoder() (geocode.Geocoder, error) {
	cfg := a.Config.Geocoder

	var chain geocode.Chain
	if cfg.MapboxToken != "" {
		chain = append(chain, geocode.NewMapbox(cfg.MapboxToken, cfg.MapboxTimeout, a.Metrics, slog.Default()))
	}
	if cfg.CitiesPath != "" {
		offline, err := geocode.LoadOffline(cfg.CitiesPath)
		if err != nil {
			if len(chain) == 0 {
				return nil, err
			}
			slog.Warn("offline geocoder unavailable", "path", cfg.CitiesPath, "error", err)
		} else {
			chain = append(chain, offline)
			slog.Info("loaded offline geocoder", "cities", offline.Len())
		}
	}
	if len(chain) == 0 {
		return nil, errors.New("no geocoder configured")
	}

	return geocode.NewCached(chain, cfg.CacheSize, a.Metrics)
}

// Engine loads the model artifacts and builds the forecast engine.
func (a *App) Engine(opts ...forecast.Option) (*forecast.Engine, error) {
	cfg := a.Config.Forecast

	model, err := forecast.LoadLSTM(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence model: %w", err)
	}
	if w := model.Window(); w > 0 && w != cfg.Window {
		return nil, fmt.Errorf("model window %d does not match FORECAST_WINDOW %d", w, cfg.Window)
	}
	scalers, err := forecast.LoadScalers(cfg.ScalersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scalers: %w", err)
	}

	geocoder, err := a.Geocoder()
	if err != nil {
		// Forecasts still publish, labelled Unknown Location.
		slog.Warn("forecasts will not be geocoded", "error", err)
		geocoder = nil
	}

	if cfg.LockBackend == "redis" {
		if a.Redis == nil {
			return nil, errors.New("redis lock backend requires a redis connection")
		}
		opts = append(opts, forecast.WithLocker(forecast.NewRedisLocker(a.Redis, cfg.LockTTL)))
	}

	shape := model.OutputShape()
	slog.Info("loaded forecast model", "window", model.Window(), "outputs", shape.Features())
	if !shape.Predicts(forecast.Depth) {
		slog.Info("model does not predict depth; forecasts carry the last observed depth")
	}
	return forecast.NewEngine(forecast.Config{
		Window:           cfg.Window,
		Horizon:          cfg.Horizon,
		InferenceTimeout: cfg.InferenceTimeout,
		GeocodeTimeout:   cfg.GeocodeTimeout,
	}, a.DB, model, scalers, geocoder, a.Metrics, opts...)
}

// Views builds the read façade, sharing its cache through Redis when available.
func (a *App) Views() (*readmodel.Service, error) {
	cfg := a.Config.ReadModel
	var cache readmodel.Cache = readmodel.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL)
	if a.Redis != nil {
		cache = readmodel.NewRedisCache(a.Redis)
	}
	return readmodel.NewService(a.DB, cache, cfg.CacheTTL, cfg.CacheSize, a.Clock, a.Metrics)
}
