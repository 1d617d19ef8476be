package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libredis "psws/backend/libs/redis"
	"psws/backend/services/ingest-watcher/internal/clients"
	"psws/backend/services/ingest-watcher/internal/config"
	"psws/backend/services/ingest-watcher/internal/db"
	"psws/backend/services/ingest-watcher/internal/drf"
	"psws/backend/services/ingest-watcher/internal/handlers"
	httpserver "psws/backend/services/ingest-watcher/internal/http"
	httphandlers "psws/backend/services/ingest-watcher/internal/http/handlers"
	"psws/backend/services/ingest-watcher/internal/http/middleware"
	"psws/backend/services/ingest-watcher/internal/password"
	"psws/backend/services/ingest-watcher/internal/repository"
	"psws/backend/services/ingest-watcher/internal/service"
	"psws/backend/services/ingest-watcher/internal/trigger"
	"psws/backend/services/ingest-watcher/internal/watcher"
	"psws/backend/services/ingest-watcher/internal/ws"
)

// App wires dependencies for the ingest watcher.
type App struct {
	watcher    *watcher.Watcher
	server     *httpserver.Server
	hub        *ws.Hub
	dispatcher *clients.Dispatcher
	db         *sql.DB
	logger     *zap.Logger
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{db: sqlDB, logger: logger}

	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.RunMigrations(ctx, sqlDB, cfg.Database.Driver, logger)
		cancel()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	queue, err := newJobQueue(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = clients.NewDispatcher(queue, cfg.Jobs.Timeout, logger)

	catalog := repository.NewCatalogRepository(sqlDB, repository.DialectFor(cfg.Database.Driver), logger)
	registry := handlers.NewRegistry(
		drf.NewCommandSource(cfg.Metadata.Helper, cfg.Metadata.Timeout),
		handlers.Options{Channel: cfg.Metadata.Channel},
		logger,
	)
	classifier := trigger.Classifier{Channel: cfg.Metadata.Channel, TestMarker: cfg.Watch.TestMarker}

	var events service.EventSink
	if cfg.HTTPEnabled() {
		a.hub = ws.NewHub(10*time.Second, logger)
		events = service.EventSinkFunc(func(e service.Event) { a.hub.Broadcast(e) })
	}
	ingest := service.NewIngestService(classifier, registry, catalog, a.dispatcher, events, logger)

	a.watcher = watcher.New(watcher.Options{
		Root:              cfg.Watch.Root,
		NestedDir:         cfg.Watch.NestedDir,
		Prefixes:          cfg.Watch.StationPrefixes,
		Ignore:            cfg.Watch.Ignore,
		PollInterval:      cfg.Watch.PollInterval,
		DiscoveryInterval: cfg.Watch.DiscoveryInterval,
		RetryBase:         cfg.Watch.RetryBase,
		RetryMax:          cfg.Watch.RetryMax,
	}, ingest, logger)

	if cfg.HTTPEnabled() {
		routes := httpserver.Routes{
			Health: httphandlers.NewHealthHandler(),
			Status: httphandlers.NewStatusHandler(cfg.Watch.Root, time.Now(), a.watcher, ingest),
			Events: a.hub.HandleWS,
		}
		if cfg.HTTP.OperatorHash != "" {
			routes.Protect = middleware.OperatorAuth(cfg.HTTP.OperatorUser, cfg.HTTP.OperatorHash, password.NewBcryptHasher(0))
		} else {
			logger.Warn("status endpoints are not protected; set an operator hash to require credentials")
		}
		a.server = httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(routes), logger)
	}

	return a, nil
}

func newJobQueue(cfg *config.Config, logger *zap.Logger) (clients.JobQueue, error) {
	switch strings.ToLower(cfg.Jobs.Backend) {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Jobs.Redis.Addr,
			Password: cfg.Jobs.Redis.Password,
			DB:       cfg.Jobs.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return clients.NewRedisQueue(client, cfg.Jobs.Redis.List), nil
	case "kafka":
		return clients.NewKafkaQueue(cfg.Jobs.Kafka.Brokers, cfg.Jobs.Kafka.Topic), nil
	case "http":
		return clients.NewHTTPQueue(cfg.Jobs.HTTP.URL, cfg.Jobs.HTTP.Secret, cfg.Jobs.HTTP.TokenTTL,
			clients.NewDefaultHTTPClient(cfg.Jobs.Timeout)), nil
	case "log":
		return clients.NewLogQueue(logger), nil
	default:
		return nil, fmt.Errorf("app: unsupported jobs backend %q", cfg.Jobs.Backend)
	}
}

// Run watches until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.watcher.Run(ctx)
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Run(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			a.hub.Close()
			return nil
		})
	}
	return g.Wait()
}

// Close releases acquired resources.
func (a *App) Close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.logger.Warn("failed to close job queue", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
