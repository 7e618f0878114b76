package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/cartsync/api/routes"
	"github.com/angelmondragon/cartsync/internal/cart"
	"github.com/angelmondragon/cartsync/pkg/cartapi"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/instance"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/angelmondragon/cartsync/pkg/metrics"
	"github.com/angelmondragon/cartsync/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartsync-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cartsync-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	var (
		redisClient *redis.Client
		redisPinger redis.Pinger
		snapshots   *cart.SnapshotStore
	)
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		redisPinger = redisClient
		snapshots, err = cart.NewSnapshotStore(redisClient, cfg.Cart.SnapshotTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create snapshot store", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "redis not configured, cart snapshots disabled")
	}

	apiClient, err := cartapi.NewClient(cfg.Remote.BaseURL, cartapi.WithTimeout(cfg.Remote.Timeout))
	if err != nil {
		logg.Error(context.Background(), "failed to create cart api client", err)
		os.Exit(1)
	}

	sessions, err := cart.NewRegistry(cart.RegistryParams{
		Factory:         cart.NewServiceFactory(apiClient, cfg.Cart.ComboRootPrefix),
		Snapshots:       snapshots,
		ComboRootPrefix: cfg.Cart.ComboRootPrefix,
		Logger:          logg,
		Metrics:         metrics.NewCartMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create session registry", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"remote":   cfg.Remote.BaseURL,
		"instance": instance.ID(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, redisPinger, sessions, prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions close first so open event streams end before the server drains.
	shutdownErr := sessions.CloseAll(shutdownCtx)
	shutdownErr = multierr.Append(shutdownErr, server.Shutdown(shutdownCtx))
	if redisClient != nil {
		shutdownErr = multierr.Append(shutdownErr, redisClient.Close())
	}
	if shutdownErr != nil {
		logg.Error(ctx, "shutdown incomplete", shutdownErr)
		exitCode = 1
	}
	logg.Info(ctx, "api server stopped")
	os.Exit(exitCode)
}
