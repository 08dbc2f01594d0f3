package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acme/outbound-call-queue/internal/config"
	"github.com/acme/outbound-call-queue/internal/infra/db"
	"github.com/acme/outbound-call-queue/internal/infra/redis"
	"github.com/acme/outbound-call-queue/internal/processor"
	"github.com/acme/outbound-call-queue/internal/queue"
	"github.com/acme/outbound-call-queue/internal/repository"
	"github.com/acme/outbound-call-queue/internal/repository/memory"
	pgrepo "github.com/acme/outbound-call-queue/internal/repository/postgres"
	scyllarepo "github.com/acme/outbound-call-queue/internal/repository/scylla"
	"github.com/acme/outbound-call-queue/internal/service/callqueue"
	"github.com/acme/outbound-call-queue/internal/service/concurrency"
	"github.com/acme/outbound-call-queue/internal/telephony"
	telephonyMock "github.com/acme/outbound-call-queue/internal/telephony/mock"
	"github.com/acme/outbound-call-queue/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Optional
// backends are nil when disabled in config.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// base bounds background runs started by the local trigger.
	base context.Context

	// lazily initialised components
	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		processing   *processing
		providers    *providers
	}
}

type repositories struct {
	CallQueue repository.CallQueueStore
	Attempts  repository.AttemptLog
}

type services struct {
	CallQueue *callqueue.Service
}

type processing struct {
	Guard           concurrency.OwnerGuard
	Processor       *processor.Processor
	Trigger         processor.Trigger
	Async           *processor.AsyncTrigger
	RunRequests     *queue.RunRequestPublisher
	StatusPublisher *queue.StatusPublisher
}

type providers struct {
	Telephony telephony.Dispatcher
}

// Build constructs a container for the given configuration path. ctx bounds
// the lifetime of background queue runs.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	container := &Container{Config: cfg, Logger: lg, base: ctx}

	if cfg.Postgres.Enabled {
		pg, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("bootstrap postgres: %w", err)
		}
		container.Postgres = pg
	} else {
		lg.Warn("postgres disabled, using in-memory call queue store")
	}

	if cfg.Scylla.Enabled {
		scylla, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("bootstrap scylla: %w", err)
		}
		container.Scylla = scylla
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		container.Redis = redisClient
	}

	if cfg.Kafka.Enabled {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			_ = container.Close(ctx)
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
		container.Kafka = kafka
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{}
		if c.Postgres != nil {
			repos.CallQueue = pgrepo.NewCallQueueRepository(c.Postgres.DB())
		} else {
			repos.CallQueue = memory.NewCallQueueStore()
		}
		if c.Scylla != nil {
			repos.Attempts = scyllarepo.NewAttemptLog(c.Scylla.Session())
		} else {
			repos.Attempts = memory.NewAttemptLog()
		}

		provs := &providers{}
		switch c.Config.Provider.Name {
		case "mock":
			provs.Telephony = telephonyMock.NewProvider(c.Config.Provider)
		default:
			provs.Telephony = telephony.NewHTTPProvider(c.Config.Provider)
		}

		proc := &processing{}
		if c.Config.Processor.Exclusion == "redis" && c.Redis != nil {
			proc.Guard = concurrency.NewOwnerLease(c.Redis.Inner(), c.Config.Processor.LeaseTTL, c.Config.Processor.LeaseKeyPrefix)
		} else {
			proc.Guard = concurrency.NewOwnerSet()
		}

		deps := processor.Dependencies{
			Store:      repos.CallQueue,
			Dispatcher: provs.Telephony,
			Guard:      proc.Guard,
			Attempts:   repos.Attempts,
			Logger:     c.Logger.Named("processor"),
		}
		if c.Kafka != nil {
			proc.StatusPublisher = queue.NewStatusPublisher(c.Kafka, c.Config.Kafka.StatusTopic)
			deps.Events = proc.StatusPublisher
		}
		proc.Processor = processor.New(deps, processor.Options{
			BatchSize:   c.Config.Processor.BatchSize,
			CallDelay:   c.Config.Processor.CallDelay,
			BatchPause:  c.Config.Processor.BatchPause,
			CountryCode: c.Config.Provider.DefaultCountryCode,
		})

		if c.Config.Processor.Trigger == "kafka" && c.Kafka != nil {
			proc.RunRequests = queue.NewRunRequestPublisher(c.Kafka, c.Config.Kafka.RunTopic)
			proc.Trigger = proc.RunRequests
		} else {
			base := c.base
			if base == nil {
				base = context.Background()
			}
			proc.Async = processor.NewAsyncTrigger(base, proc.Processor, c.Logger.Named("trigger"))
			proc.Trigger = proc.Async
		}

		svcs := &services{
			CallQueue: callqueue.NewService(
				repos.CallQueue,
				repos.Attempts,
				provs.Telephony,
				proc.Trigger,
				c.Config.Upload,
				c.Logger.Named("callqueue"),
			),
		}

		c.components.repositories = repos
		c.components.providers = provs
		c.components.processing = proc
		c.components.services = svcs
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// Processing exposes the queue processor and its trigger.
func (c *Container) Processing() *processing {
	c.initComponents()
	return c.components.processing
}

// Providers exposes external providers.
func (c *Container) Providers() *providers {
	c.initComponents()
	return c.components.providers
}

// HealthChecks returns a probe per enabled backend.
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if c.Postgres != nil {
		checks["postgres"] = c.Postgres.Ping
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla.Ping
	}
	return checks
}

// Close waits for in-flight local runs and releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if p := c.components.processing; p != nil {
		if p.Async != nil {
			p.Async.Wait()
		}
		if p.RunRequests != nil {
			if err := p.RunRequests.Close(); err != nil {
				errs = append(errs, fmt.Errorf("run request publisher close: %w", err))
			}
		}
		if p.StatusPublisher != nil {
			if err := p.StatusPublisher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("status publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}

// EnsureTopics ensures required Kafka topics exist. It is a no-op when Kafka is disabled.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	topics := []string{c.Config.Kafka.RunTopic, c.Config.Kafka.StatusTopic}
	partitions := c.Config.Kafka.Partitions
	if partitions <= 0 {
		partitions = 12
	}
	return c.Kafka.EnsureTopics(ctx, topics, partitions, 1)
}
