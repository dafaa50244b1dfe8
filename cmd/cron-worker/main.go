package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/activity-fanout/internal/activities"
	"github.com/angelmondragon/activity-fanout/internal/configentity"
	"github.com/angelmondragon/activity-fanout/internal/cron"
	"github.com/angelmondragon/activity-fanout/internal/digest"
	"github.com/angelmondragon/activity-fanout/internal/directory"
	"github.com/angelmondragon/activity-fanout/internal/fanout"
	"github.com/angelmondragon/activity-fanout/internal/fanout/plugins"
	"github.com/angelmondragon/activity-fanout/internal/frequency"
	"github.com/angelmondragon/activity-fanout/pkg/config"
	"github.com/angelmondragon/activity-fanout/pkg/db"
	"github.com/angelmondragon/activity-fanout/pkg/instance"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/mailqueue"
	"github.com/angelmondragon/activity-fanout/pkg/metrics"
	"github.com/angelmondragon/activity-fanout/pkg/migrate"
	"github.com/angelmondragon/activity-fanout/pkg/redis"
)

const retentionSchedule = "@daily"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	mailClient, err := mailqueue.NewClient(redisClient.Options(), cfg.MailQueue)
	if err != nil {
		logg.Error(context.Background(), "failed to create mail queue client", err)
		os.Exit(1)
	}
	defer func() {
		if err := mailClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing mail queue client", err)
		}
	}()

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

	configRepo, err := configentity.NewRepository(configentity.RepositoryParams{DB: dbClient.DB(), Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create config entity repository", err)
		os.Exit(1)
	}
	catalog, err := configentity.NewTemplateCatalog(dbClient.DB(), configRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create template catalog", err)
		os.Exit(1)
	}

	activitiesRepo := activities.NewRepository(dbClient.DB())
	sweeper, err := digest.NewSweeper(digest.SweeperParams{
		Store:            activitiesRepo,
		Frequencies:      frequencyService,
		Templates:        catalog,
		Queue:            mailClient,
		Logs:             digest.NewLogRepository(dbClient.DB()),
		Claims:           redisClient,
		Logger:           logg,
		Metrics:          metrics.NewDigestMetrics(prometheus.DefaultRegisterer),
		Concurrency:      cfg.Digest.Concurrency,
		RecipientTimeout: cfg.Digest.RecipientTimeout,
		ClaimTTL:         cfg.Digest.ClaimTTL,
		MaxAttempts:      cfg.Digest.MaxAttempts,
		BatchSize:        cfg.Digest.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create digest sweeper", err)
		os.Exit(1)
	}

	registry, err := plugins.Build(plugins.Params{
		Directory:   directory.NewRepository(dbClient.DB()),
		Alterations: fanout.NewAlterations(),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build plugin registry", err)
		os.Exit(1)
	}
	router, err := fanout.NewRouter(fanout.RouterParams{Registry: registry, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create activity router", err)
		os.Exit(1)
	}
	activitiesService, err := activities.NewService(activities.ServiceParams{
		Repo:   activitiesRepo,
		Router: router,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activities service", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewActivityRetentionJob(cron.ActivityRetentionJobParams{
		Logger:    logg,
		Purger:    activitiesService,
		Retention: cfg.Retention.ActivityDays,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	digestService := newCronService(logg, redisClient, cronMetrics, "digest", cfg.Digest.Schedule, sweeper)
	retentionService := newCronService(logg, redisClient, cronMetrics, "retention", retentionSchedule, retentionJob)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"instance":        instance.ID(),
		"env":             cfg.App.Env,
		"digest_schedule": cfg.Digest.Schedule,
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return digestService.Run(groupCtx) })
	group.Go(func() error { return retentionService.Run(groupCtx) })
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func newCronService(logg *logger.Logger, redisClient *redis.Client, m *metrics.CronJobMetrics, name, schedule string, job cron.Job) *cron.Service {
	lock, err := redis.NewRedisLock(redisClient, redisClient.LockKey("cron:"+name), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Name:     name,
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  m,
		Schedule: schedule,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}
	return service
}
