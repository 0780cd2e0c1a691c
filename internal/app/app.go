// Package app initializes and holds the long-lived application
// services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jstrand/bookmark-sync/internal/api"
	"github.com/jstrand/bookmark-sync/internal/cache"
	"github.com/jstrand/bookmark-sync/internal/clock/system"
	"github.com/jstrand/bookmark-sync/internal/config"
	"github.com/jstrand/bookmark-sync/internal/id/uuid"
	"github.com/jstrand/bookmark-sync/internal/instapaper"
	"github.com/jstrand/bookmark-sync/internal/logging"
	"github.com/jstrand/bookmark-sync/internal/metadata"
	"github.com/jstrand/bookmark-sync/internal/metrics"
	"github.com/jstrand/bookmark-sync/internal/publisher"
	pubsubpub "github.com/jstrand/bookmark-sync/internal/publisher/pubsub"
	"github.com/jstrand/bookmark-sync/internal/retry"
	"github.com/jstrand/bookmark-sync/internal/scheduler"
	"github.com/jstrand/bookmark-sync/internal/store"
	memorystore "github.com/jstrand/bookmark-sync/internal/store/memory"
	"github.com/jstrand/bookmark-sync/internal/store/postgres"
	syncsvc "github.com/jstrand/bookmark-sync/internal/sync"
)

// App holds every shared service. It is built once at startup and
// passed to the commands that need it; nothing in here is a global.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     store.Store
	client    *instapaper.Client
	sync      *syncsvc.Service
	scheduler *scheduler.Scheduler
	server    *api.Server
	publisher publisher.Publisher

	closers []func()
}

// New builds the full service graph from cfg, failing fast when any
// critical dependency cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initClient(); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initSync(); err != nil {
		return nil, err
	}

	a.scheduler = scheduler.New(a.sync, scheduler.Config{
		Interval:        cfg.Sync.Interval,
		RefreshInterval: cfg.Sync.RefreshInterval,
		Limit:           cfg.Sync.ScheduleLimit,
		EnrichMetadata:  cfg.Sync.EnrichMetadata,
	}, logger)

	a.server = api.NewServer(a.sync, a.client, api.Config{
		SchedulerSecret: cfg.Sync.ScheduleSecret,
		ScheduleLimit:   cfg.Sync.ScheduleLimit,
		RequestTimeout:  cfg.Server.RequestTimeout,
	}, logger)
	a.server.SetSyncTrigger(a.scheduler)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Provider),
		zap.Bool("pubsub", cfg.PubSub.Enabled),
	)
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres")
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("initialize postgres store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.store = pg
	case "memory":
		a.logger.Info("using in-memory bookmark store")
		a.store = memorystore.New()
	default:
		return fmt.Errorf("unknown store provider %q", a.cfg.Store.Provider)
	}
	return nil
}

func (a *App) initClient() error {
	client, err := instapaper.New(instapaper.Config{
		BaseURL:        a.cfg.Instapaper.BaseURL,
		ConsumerKey:    a.cfg.Instapaper.ConsumerKey,
		ConsumerSecret: a.cfg.Instapaper.ConsumerSecret,
		Retry: retry.Options{
			Attempts: a.cfg.HTTP.MaxRetries,
			Delay:    a.cfg.BackoffInitial(),
			Backoff:  retry.BackoffExponential,
		},
	}, a.logger)
	if err != nil {
		return fmt.Errorf("initialize instapaper client: %w", err)
	}
	if a.cfg.Instapaper.Token != "" {
		client.SetTokens(instapaper.Tokens{
			Token:       a.cfg.Instapaper.Token,
			TokenSecret: a.cfg.Instapaper.TokenSecret,
		})
	}
	a.client = client
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		return nil
	}
	a.logger.Info("connecting to pub/sub", zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsubpub.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("initialize pubsub publisher: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := pub.Close(); err != nil {
			a.logger.Warn("error closing pubsub client", zap.Error(err))
		}
	})
	a.publisher = pub
	return nil
}

func (a *App) initSync() error {
	var enricher syncsvc.Enricher
	if a.cfg.Sync.EnrichMetadata {
		fetcher := metadata.NewFetcher(metadata.FetcherConfig{
			UserAgent: a.cfg.Metadata.UserAgent,
			Timeout:   a.cfg.MetadataTimeout(),
		})
		enricher = metadata.NewService(
			fetcher,
			cache.New(a.cfg.Metadata.CacheSize),
			metadata.Config{
				Timeout:  a.cfg.MetadataTimeout(),
				CacheTTL: a.cfg.Metadata.CacheTTL,
			},
			a.logger,
		)
	}

	svc, err := syncsvc.NewService(a.store, a.client, enricher, system.New(), uuid.New(), a.logger)
	if err != nil {
		return fmt.Errorf("initialize sync service: %w", err)
	}
	if a.publisher != nil {
		svc.SetEventPublisher(a.publisher, a.cfg.PubSub.TopicName)
	}
	a.sync = svc
	return nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Sync returns the reconciliation service.
func (a *App) Sync() *syncsvc.Service { return a.sync }

// Scheduler returns the periodic sync driver.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Server returns the HTTP API server.
func (a *App) Server() *api.Server { return a.server }

// Close shuts down all services and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
