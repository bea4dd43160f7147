package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/faceid/internal/api"
	"github.com/your-org/faceid/internal/api/handlers"
	"github.com/your-org/faceid/internal/api/ws"
	"github.com/your-org/faceid/internal/app"
	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/internal/queue"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file (empty for env and defaults only)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting faceid API service", "port", cfg.Server.Port, "store", cfg.Store.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	a, err := app.New(ctx, cfg, app.Options{
		LoadModels:     true,
		FallbackEvents: hub,
	})
	if err != nil {
		slog.Error("initialise service", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	checks := map[string]handlers.Pinger{"store": a.Store}
	if a.Snapshots != nil {
		checks["minio"] = a.Snapshots
	}

	// With NATS configured, websocket clients are fed from the event stream
	// so that every API replica sees every event.
	if a.Producer != nil {
		checks["nats"] = handlers.PingFunc(func(context.Context) error { return a.Producer.Ping() })

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create event consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		consumerName := "api-ws"
		if host, err := os.Hostname(); err == nil {
			consumerName += "-" + host
		}
		if err := consumer.ConsumeIdentityEvents(ctx, consumerName, hub.PublishIdentityEvent); err != nil {
			slog.Warn("start event consumer", "error", err)
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		Faces:          a.Engine,
		Checks:         checks,
		Ready:          a.Engine.Ready,
		Hub:            hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
