package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/outbound-call-queue/internal/api"
	"github.com/acme/outbound-call-queue/internal/api/handlers"
	"github.com/acme/outbound-call-queue/internal/app"
	"github.com/acme/outbound-call-queue/internal/scheduler"
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
	lg := container.Logger.Named("api")

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "api")
	if err != nil {
		lg.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	if err := container.EnsureTopics(ctx); err != nil {
		lg.Fatal("failed to ensure kafka topics", zap.Error(err))
	}

	sweeperDone := make(chan struct{})
	if schedule := container.Config.Processor.SweepSchedule; schedule != "" {
		sweeper, err := scheduler.New(
			container.Repositories().CallQueue,
			container.Processing().Trigger,
			schedule,
			container.Config.Processor.SweepLimit,
			container.Logger.Named("scheduler"),
		)
		if err != nil {
			lg.Fatal("failed to create sweeper", zap.Error(err))
		}
		go func() {
			defer close(sweeperDone)
			_ = sweeper.Run(ctx)
		}()
	} else {
		close(sweeperDone)
	}

	server := api.NewServer(container, handlers.NewHandlerSet(container))

	lg.Info("starting server",
		zap.String("config", *configPath),
		zap.Int("port", container.Config.HTTP.Port),
		zap.String("trigger", container.Config.Processor.Trigger),
		zap.String("exclusion", container.Config.Processor.Exclusion),
	)
	if err := server.Start(ctx); err != nil {
		lg.Error("server terminated", zap.Error(err))
	}

	cancel()
	<-sweeperDone
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
