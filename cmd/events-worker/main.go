package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/activity-fanout/internal/activities"
	"github.com/angelmondragon/activity-fanout/internal/configentity"
	"github.com/angelmondragon/activity-fanout/internal/directory"
	"github.com/angelmondragon/activity-fanout/internal/events"
	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/internal/fanout/plugins"
	"github.com/angelmondragon/activity-fanout/pkg/config"
	"github.com/angelmondragon/activity-fanout/pkg/db"
	"github.com/angelmondragon/activity-fanout/pkg/idempotency"
	"github.com/angelmondragon/activity-fanout/pkg/instance"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
	"github.com/angelmondragon/activity-fanout/pkg/migrate"
	"github.com/angelmondragon/activity-fanout/pkg/pubsub"
	"github.com/angelmondragon/activity-fanout/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "events-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "events-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"instance":     instance.ID(),
		"env":          cfg.App.Env,
		"subscription": cfg.PubSub.EntityEventsSubscription,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	configRepo, err := configentity.NewRepository(configentity.RepositoryParams{DB: dbClient.DB(), Logger: logg})
	if err != nil {
		logg.Error(ctx, "failed to create config entity repository", err)
		os.Exit(1)
	}
	catalog, err := configentity.NewTemplateCatalog(dbClient.DB(), configRepo, logg)
	if err != nil {
		logg.Error(ctx, "failed to create template catalog", err)
		os.Exit(1)
	}
	if _, err := catalog.Seed(ctx, configentity.DefaultTemplates()); err != nil {
		logg.Error(ctx, "failed to seed message templates", err)
		os.Exit(1)
	}

	alterations := fanout.NewAlterations()
	registry, err := plugins.Build(plugins.Params{
		Directory:   directory.NewRepository(dbClient.DB()),
		Alterations: alterations,
	})
	if err != nil {
		logg.Error(ctx, "failed to build plugin registry", err)
		os.Exit(1)
	}
	fanoutMetrics := metrics.NewFanoutMetrics(prometheus.DefaultRegisterer)
	failures, err := fanout.NewFailureRepository(dbClient.DB(), logg)
	if err != nil {
		logg.Error(ctx, "failed to create plugin failure repository", err)
		os.Exit(1)
	}
	router, err := fanout.NewRouter(fanout.RouterParams{Registry: registry, Logger: logg, Metrics: fanoutMetrics, Reporter: failures})
	if err != nil {
		logg.Error(ctx, "failed to create activity router", err)
		os.Exit(1)
	}

	activitiesRepo := activities.NewRepository(dbClient.DB())
	factory, err := fanout.NewFactory(fanout.FactoryParams{
		Registry:  registry,
		Router:    router,
		Dedup:     fanout.NewDeduplicationPolicy(cfg.Fanout.DedupExemptTemplates, alterations),
		Store:     activitiesRepo,
		Templates: catalog,
		Logger:    logg,
		Metrics:   fanoutMetrics,
		Reporter:  failures,
		PageSize:  cfg.Fanout.ResolverPageSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create activity factory", err)
		os.Exit(1)
	}
	activitiesService, err := activities.NewService(activities.ServiceParams{
		Repo:   activitiesRepo,
		Router: router,
		Logger: logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create activities service", err)
		os.Exit(1)
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}
	consumer, err := events.NewConsumer(factory, activitiesService, pubsubClient.EntityEventsSubscription(), manager, logg)
	if err != nil {
		logg.Error(ctx, "failed to create entity events consumer", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting events worker")
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "events worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "events worker shutting down gracefully")
}
