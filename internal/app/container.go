// Package app wires configuration, infrastructure and components into a
// single container shared by the CLI subcommands.
package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/outbound-survey/internal/bus"
	buskafka "github.com/acme/outbound-survey/internal/bus/kafka"
	bussqs "github.com/acme/outbound-survey/internal/bus/sqs"
	"github.com/acme/outbound-survey/internal/callflow"
	"github.com/acme/outbound-survey/internal/config"
	"github.com/acme/outbound-survey/internal/dialogue"
	"github.com/acme/outbound-survey/internal/email"
	emailmock "github.com/acme/outbound-survey/internal/email/mock"
	emailses "github.com/acme/outbound-survey/internal/email/ses"
	"github.com/acme/outbound-survey/internal/events"
	"github.com/acme/outbound-survey/internal/infra/db"
	"github.com/acme/outbound-survey/internal/infra/redis"
	"github.com/acme/outbound-survey/internal/llm"
	llmmock "github.com/acme/outbound-survey/internal/llm/mock"
	llmopenai "github.com/acme/outbound-survey/internal/llm/openai"
	"github.com/acme/outbound-survey/internal/repository"
	pgrepo "github.com/acme/outbound-survey/internal/repository/postgres"
	"github.com/acme/outbound-survey/internal/service/concurrency"
	scyllarepo "github.com/acme/outbound-survey/internal/repository/scylla"
	"github.com/acme/outbound-survey/internal/telephony"
	telephonymock "github.com/acme/outbound-survey/internal/telephony/mock"
	telephonyrest "github.com/acme/outbound-survey/internal/telephony/rest"
	"github.com/acme/outbound-survey/pkg/logger"
)

// busDriver is the union of publish and consume over one queue.
type busDriver interface {
	bus.Publisher
	bus.Consumer
}

// Container holds shared infrastructure and lazily wired components.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client

	busDriver busDriver
	telephony telephony.Provider
	llmClient llm.Client
	sender    email.Sender

	components struct {
		once         sync.Once
		store        *pgrepo.Store
		transcripts  repository.TranscriptStore
		leaderLock   repository.LeaderLock
		sessions     dialogue.SessionStore
		orchestrator *dialogue.Orchestrator
		publisher    *events.Publisher
		ingestor     *callflow.Ingestor
		limiter      *concurrency.Limiter
	}
}

// Build constructs the container for the given configuration path. Provider
// construction validates configuration so misconfigured processes fail fast.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	c := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
	}

	if c.busDriver, err = buildBus(ctx, cfg.Bus); err != nil {
		return nil, fmt.Errorf("bootstrap bus: %w", err)
	}
	if c.telephony, err = buildTelephony(cfg.Telephony); err != nil {
		return nil, fmt.Errorf("bootstrap telephony: %w", err)
	}
	if c.llmClient, err = buildLLM(cfg.LLM); err != nil {
		return nil, fmt.Errorf("bootstrap llm: %w", err)
	}
	if c.sender, err = buildSender(ctx, cfg.Email); err != nil {
		return nil, fmt.Errorf("bootstrap email sender: %w", err)
	}

	return c, nil
}

func buildBus(ctx context.Context, cfg config.BusConfig) (busDriver, error) {
	switch cfg.Driver {
	case "kafka":
		return buskafka.New(cfg)
	default:
		return bussqs.New(ctx, cfg)
	}
}

func buildTelephony(cfg config.TelephonyConfig) (telephony.Provider, error) {
	if cfg.Provider == "mock" {
		return telephonymock.NewProvider(), nil
	}
	return telephonyrest.NewProvider(cfg)
}

func buildLLM(cfg config.LLMConfig) (llm.Client, error) {
	if cfg.Provider == "mock" {
		return llmmock.NewClient(), nil
	}
	return llmopenai.NewClient(cfg)
}

func buildSender(ctx context.Context, cfg config.EmailConfig) (email.Sender, error) {
	if cfg.Driver == "mock" {
		return emailmock.NewSender(), nil
	}
	return emailses.NewSender(ctx, cfg)
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		store := pgrepo.NewStore(c.Postgres.DB())
		publisher := events.NewPublisher(store.Events(), c.busDriver, c.Config.Bus, c.Logger)

		c.components.store = store
		c.components.transcripts = scyllarepo.NewTranscriptStore(c.Scylla.Session())
		c.components.leaderLock = pgrepo.NewAdvisoryLock(c.Postgres.DB(), c.Config.Scheduler.LockKey)
		c.components.sessions = dialogue.NewRedisSessionStore(c.Redis.Inner(), c.Config.Telephony.CallTimeout)
		c.components.orchestrator = dialogue.NewOrchestrator(
			c.llmClient,
			c.components.sessions,
			c.components.transcripts,
			store.CallAttempts(),
			c.Config.Telephony.CallTimeout,
			c.Logger,
		)
		// Slot TTL doubles the call timeout so a crashed process cannot
		// starve a campaign for long.
		limiter := concurrency.NewLimiter(
			c.Redis.Inner(),
			c.Config.Telephony.MaxConcurrentCalls,
			2*c.Config.Telephony.CallTimeout,
		)

		c.components.publisher = publisher
		c.components.limiter = limiter
		c.components.ingestor = callflow.NewIngestor(store, publisher, limiter, c.Logger)
	})
}

// Store exposes the relational repositories.
func (c *Container) Store() *pgrepo.Store {
	c.initComponents()
	return c.components.store
}

// TranscriptStore exposes the dialogue transcript store.
func (c *Container) TranscriptStore() repository.TranscriptStore {
	c.initComponents()
	return c.components.transcripts
}

// LeaderLock exposes the scheduler leadership lock.
func (c *Container) LeaderLock() repository.LeaderLock {
	c.initComponents()
	return c.components.leaderLock
}

// Orchestrator exposes the dialogue orchestrator.
func (c *Container) Orchestrator() *dialogue.Orchestrator {
	c.initComponents()
	return c.components.orchestrator
}

// Publisher exposes the survey event publisher.
func (c *Container) Publisher() *events.Publisher {
	c.initComponents()
	return c.components.publisher
}

// Ingestor exposes the webhook ingestor.
func (c *Container) Ingestor() *callflow.Ingestor {
	c.initComponents()
	return c.components.ingestor
}

// Limiter exposes the per-campaign concurrency limiter.
func (c *Container) Limiter() *concurrency.Limiter {
	c.initComponents()
	return c.components.limiter
}

// Telephony exposes the call provider.
func (c *Container) Telephony() telephony.Provider {
	return c.telephony
}

// LLM exposes the chat-completions client.
func (c *Container) LLM() llm.Client {
	return c.llmClient
}

// Sender exposes the email provider.
func (c *Container) Sender() email.Sender {
	return c.sender
}

// BusPublisher exposes the event bus for publishing.
func (c *Container) BusPublisher() bus.Publisher {
	return c.busDriver
}

// BusConsumer exposes the event bus for consuming.
func (c *Container) BusConsumer() bus.Consumer {
	return c.busDriver
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.busDriver != nil {
		if err := c.busDriver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus close: %w", err))
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
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
