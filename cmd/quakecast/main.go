package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-quake-forecast/internal/api"
	"github.com/mr1hm/go-quake-forecast/internal/app"
	"github.com/mr1hm/go-quake-forecast/internal/config"
	"github.com/mr1hm/go-quake-forecast/internal/forecast"
	internalgrpc "github.com/mr1hm/go-quake-forecast/internal/grpc"
	"github.com/mr1hm/go-quake-forecast/internal/ingestion"
	"github.com/mr1hm/go-quake-forecast/internal/logging"
	"github.com/mr1hm/go-quake-forecast/internal/notify"
	"github.com/mr1hm/go-quake-forecast/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, observability.NewMetrics())
	if err != nil {
		logging.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	// Broadcaster feeds the gRPC and websocket streams
	broadcaster := internalgrpc.NewBroadcaster(0, internalgrpc.WithDroppedCounter(a.Metrics.BroadcastDropped))

	notifier, err := a.Notifier(notify.Sink{Name: "broadcast", Notifier: broadcaster})
	if err != nil {
		logging.Fatalf("Failed to set up notifications: %v", err)
	}

	views, err := a.Views()
	if err != nil {
		logging.Fatalf("Failed to initialize read model: %v", err)
	}

	var mgr *ingestion.Manager
	if cfg.Feed.Enabled {
		ing, err := a.Ingestor(notifier)
		if err != nil {
			logging.Fatalf("Failed to initialize ingestion: %v", err)
		}
		mgr = ingestion.NewManager(ing, cfg.Feed.PollInterval)
		mgr.Start(ctx)
	}

	var (
		engine    *forecast.Engine
		scheduler *forecast.Scheduler
	)
	if cfg.Forecast.Enabled {
		engine, err = a.Engine(forecast.OnPublish(func(ctx context.Context, _ forecast.RunResult) {
			views.InvalidatePredictions(ctx)
		}))
		if err != nil {
			logging.Fatalf("Failed to initialize forecast engine: %v", err)
		}
		scheduler = forecast.NewScheduler(engine, cfg.Forecast.Interval)
		scheduler.Start(ctx)
	}

	grpcServer := internalgrpc.NewServer(a.DB, broadcaster)
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.RateLimitMiddleware(5, 10))

	var runner forecast.Runner
	if engine != nil {
		runner = engine
	}
	handler := api.NewHandler(views, broadcaster, runner)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	if mgr != nil {
		mgr.Stop()
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	broadcaster.Close() // ends gRPC and websocket streams
	grpcServer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
