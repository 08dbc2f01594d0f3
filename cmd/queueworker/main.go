package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/app"
	"github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	lg := container.Logger.Named("queueworker")
	if container.Kafka == nil {
		lg.Fatal("queue worker requires kafka.enabled")
	}

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "queueworker")
	if err != nil {
		lg.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	if err := container.EnsureTopics(ctx); err != nil {
		lg.Fatal("failed to ensure kafka topics", zap.Error(err))
	}

	cfg := container.Config.Kafka
	consumer := queue.NewRunRequestConsumer(container.Kafka, cfg.RunTopic, cfg.ConsumerGroupID, cfg.ConsumerWorkers, func(err error) {
		lg.Error("run request", zap.Error(err))
	})
	proc := container.Processing().Processor

	lg.Info("queue worker started", zap.String("topic", cfg.RunTopic), zap.String("group", cfg.ConsumerGroupID), zap.Int("workers", cfg.ConsumerWorkers))
	err = consumer.Run(ctx, func(ctx context.Context, req queue.RunRequest) error {
		res, err := proc.RunForOwner(ctx, req.OwnerID)
		if err != nil {
			return err
		}
		lg.Info("run request handled",
			zap.String("owner_id", req.OwnerID),
			zap.String("reason", string(req.Reason)),
			zap.Bool("skipped", res.Skipped),
			zap.Int("processed", res.Processed),
		)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		lg.Error("queue worker terminated", zap.Error(err))
	}

	if err := consumer.Close(); err != nil {
		lg.Warn("close consumer", zap.Error(err))
	}
	if err := container.Close(context.Background()); err != nil {
		lg.Warn("shutdown", zap.Error(err))
	}
	_ = shutdown(context.Background())
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
