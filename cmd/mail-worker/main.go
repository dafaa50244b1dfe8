package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/activity-fanout/internal/digest"
	"github.com/angelmondragon/activity-fanout/pkg/config"
	"github.com/angelmondragon/activity-fanout/pkg/instance"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
	"github.com/angelmondragon/activity-fanout/pkg/mailqueue"
	"github.com/angelmondragon/activity-fanout/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "mail-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "mail-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	opts, err := redis.OptionsFromConfig(cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "invalid redis config", err)
		os.Exit(1)
	}

	server, err := mailqueue.NewServer(opts, cfg.MailQueue, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mail queue server", err)
		os.Exit(1)
	}
	consumer, err := digest.NewConsumer(digest.NewLogSender(logg), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create digest consumer", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"instance": instance.ID(),
		"env":      cfg.App.Env,
		"queue":    cfg.MailQueue.Queue,
	})
	logg.Info(ctx, "starting mail worker")

	if err := server.Run(ctx, consumer.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "mail worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "mail worker shutting down gracefully")
}
