package lexmesh

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lexmesh/lexmesh/config"
	"github.com/lexmesh/lexmesh/core"
	"github.com/lexmesh/lexmesh/escalation"
	"github.com/lexmesh/lexmesh/logging"
	"github.com/lexmesh/lexmesh/model"
	"github.com/lexmesh/lexmesh/model/anthropic"
	"github.com/lexmesh/lexmesh/model/openai"
	"github.com/lexmesh/lexmesh/scheduler"
	"github.com/lexmesh/lexmesh/store/memory"
	"github.com/lexmesh/lexmesh/store/postgres"
	"github.com/lexmesh/lexmesh/store/sqlite"
	"github.com/lexmesh/lexmesh/workflow"
)

// Open builds a Mesh from configuration: the configured store driver,
// provider clients with rate limits and fallbacks, Redis failure counters
// when an address is set, plus workflow and job files. Call Close when done.
// optFns run after the configuration is applied.
func Open(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*Mesh, error) {
	var closers []func() error

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	store, closeStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	closers = append(closers, closeStore)

	var counters escalation.CounterStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			cleanup()

			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}

		closers = append(closers, rdb.Close)
		counters = escalation.NewRedisCounters(rdb, func(o *escalation.RedisOptions) { o.TTL = cfg.Escalation.CounterTTL })
	}

	var workflows []workflow.Workflow
	if cfg.Workflow.File != "" {
		if workflows, err = workflow.LoadFile(cfg.Workflow.File); err != nil {
			cleanup()
			return nil, err
		}
	}

	var jobs []scheduler.Job
	if cfg.Scheduler.JobsFile != "" {
		if jobs, err = scheduler.LoadJobsFile(cfg.Scheduler.JobsFile); err != nil {
			cleanup()
			return nil, err
		}
	}

	logger := cfg.Logger()

	m, err := New(append([]func(o *Options){func(o *Options) {
		o.EngineConfig = cfg.Engine()
		o.Store = store
		o.Models = NewModelClient(cfg.Providers, logger)
		o.Counters = counters
		o.Threshold = cfg.Escalation.Threshold
		o.DefaultApprover = cfg.Escalation.DefaultApprover
		o.Workflows = workflows
		o.Jobs = jobs
		o.Logger = logger
	}}, optFns...)...)
	if err != nil {
		cleanup()
		return nil, err
	}

	m.closers = closers

	return m, nil
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (core.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return memory.New(), func() error { return nil }, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}

		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}

		if err := s.CreateSchema(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}

		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// NewModelClient routes "provider:model" identifiers to the providers with
// credentials, each behind its rate limiter, and retries rate limited or
// overloaded calls once on the configured fallback model.
func NewModelClient(cfg config.ProvidersConfig, logger logging.Logger) model.Client {
	router := model.NewRouter(cfg.Default)

	if p := cfg.Anthropic; p.Enabled() {
		c := anthropic.New(func(o *anthropic.Options) {
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			if p.Model != "" {
				o.DefaultModel = p.Model
			}
		})

		router.Register("anthropic", model.NewRateLimitedClient(c, "anthropic", p.RPS, p.Burst))
	}

	if p := cfg.OpenAI; p.Enabled() {
		c := openai.New(func(o *openai.Options) {
			o.APIKey = p.APIKey
			o.BaseURL = p.BaseURL
			if p.Model != "" {
				o.DefaultModel = p.Model
			}
		})

		router.Register("openai", model.NewRateLimitedClient(c, "openai", p.RPS, p.Burst))
	}

	return model.NewFallbackClient(router, func(o *model.FallbackOptions) {
		o.Fallbacks = cfg.Fallbacks
		o.Logger = logger
	})
}
