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

	"github.com/angelmondragon/activity-fanout/api/routes"
	"github.com/angelmondragon/activity-fanout/internal/activities"
	"github.com/angelmondragon/activity-fanout/internal/directory"
	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/internal/fanout/plugins"
	"github.com/angelmondragon/activity-fanout/internal/frequency"
	"github.com/angelmondragon/activity-fanout/pkg/config"
	"github.com/angelmondragon/activity-fanout/pkg/db"
	"github.com/angelmondragon/activity-fanout/pkg/instance"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
	"github.com/angelmondragon/activity-fanout/pkg/migrate"
	"github.com/angelmondragon/activity-fanout/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := plugins.Build(plugins.Params{
		Directory:   directory.NewRepository(dbClient.DB()),
		Alterations: fanout.NewAlterations(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build plugin registry", err)
		os.Exit(1)
	}
	fanoutMetrics := metrics.NewFanoutMetrics(prometheus.DefaultRegisterer)
	failures, err := fanout.NewFailureRepository(dbClient.DB(), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create plugin failure repository", err)
		os.Exit(1)
	}
	router, err := fanout.NewRouter(fanout.RouterParams{Registry: registry, Logger: logg, Metrics: fanoutMetrics, Reporter: failures})
	if err != nil {
		logg.Error(context.Background(), "failed to create activity router", err)
		os.Exit(1)
	}
	activitiesService, err := activities.NewService(activities.ServiceParams{
		Repo:   activities.NewRepository(dbClient.DB()),
		Router: router,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activities service", err)
		os.Exit(1)
	}

	frequencies, err := frequency.NewRegistry(cfg.Digest.DefaultFrequency)
	if err != nil {
		logg.Error(context.Background(), "invalid default email frequency", err)
		os.Exit(1)
	}
	frequencyService, err := frequency.NewService(frequency.NewRepository(dbClient.DB()), frequencies, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create frequency service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"instance": instance.ID(),
		"env":      cfg.App.Env,
		"addr":     addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:     cfg,
			Logger:     logg,
			DB:         dbClient,
			Redis:      redisClient,
			Activities: activitiesService,
			Frequency:  frequencyService,
			Gatherer:   prometheus.DefaultGatherer,
			Metrics:    metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
