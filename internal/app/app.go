// Package app wires configuration, storage, services and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"pos_sales/api"
	"pos_sales/internal/config"
	"pos_sales/internal/directory"
	"pos_sales/internal/inventory"
	"pos_sales/internal/logging"
	"pos_sales/internal/observability"
	"pos_sales/internal/sales"
	"pos_sales/internal/shutdown"
	"pos_sales/internal/storage/memory"
	"pos_sales/internal/storage/postgres"
)

const serviceName = "pos-sales"

// App is a fully wired service ready to Run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	server   *http.Server
	shutdown *shutdown.Manager
}

// backend is the storage both services run on.
type backend interface {
	sales.Storage
	inventory.Catalog
}

// Build creates every dependency described by cfg. Resources acquired before a
// failure are released through the shutdown manager.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		ServiceName: serviceName,
		Env:         cfg.AppEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("starting service", cfg.Fields()...)

	sm := shutdown.New(cfg.ShutdownTimeout, logger)
	sm.Add("logger", func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	otelShutdown, err := observability.Init(ctx, observability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           serviceName,
		DeploymentEnvironment: cfg.AppEnv,
	})
	if err != nil {
		sm.Shutdown()
		return nil, fmt.Errorf("init observability: %w", err)
	}
	sm.Add("otel", otelShutdown)

	store, ready, err := openStorage(ctx, cfg, sm, logger)
	if err != nil {
		sm.Shutdown()
		return nil, err
	}

	var dir sales.Directory
	if cfg.DirectoryBaseURL != "" {
		client := directory.New(cfg.DirectoryBaseURL, cfg.DirectoryTimeout, logger.Named("directory"))
		sm.Add("directory", func(context.Context) error { return client.Close() })
		dir = client
	}

	salesService := sales.NewService(store, logger.Named("sales"),
		sales.WithRetryPolicy(sales.RetryPolicy{
			MaxRetries:      cfg.TxMaxRetries,
			InitialInterval: cfg.TxInitialBackoff,
			MaxInterval:     cfg.TxMaxBackoff,
		}),
	)
	catalog := inventory.NewService(store, logger.Named("inventory"))

	if cfg.AppEnv != config.EnvLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), observability.GinMiddleware(serviceName, logger.Named("http")))
	api.InitRoutes(engine, api.Dependencies{
		Sales:     salesService,
		Catalog:   catalog,
		Directory: dir,
		Logger:    logger.Named("api"),
		Ready:     ready,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	sm.Add("http", shutdown.ShutdownHTTPServer(server))

	return &App{
		cfg:      cfg,
		logger:   logger,
		server:   server,
		shutdown: sm,
	}, nil
}

func openStorage(ctx context.Context, cfg config.Config, sm *shutdown.Manager, logger *zap.Logger) (backend, func(context.Context) error, error) {
	if cfg.StorageDriver != config.StoragePostgres {
		logger.Info("using in-memory storage")
		return memory.NewLocalStorage(memory.WithLockWait(cfg.LockWaitTimeout)), nil, nil
	}

	if cfg.PostgresMigrate {
		if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	sm.Add("postgres", shutdown.ClosePool(pool))
	logger.Info("connected to postgres")

	return postgres.NewStorage(pool, cfg.LockWaitTimeout), pool.Ping, nil
}

// Run serves HTTP until SIGINT or SIGTERM and then shuts everything down.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	done := make(chan struct{})
	go func() {
		a.shutdown.Wait()
		close(done)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			a.logger.Error("http server failed", zap.Error(err))
			a.shutdown.Shutdown()
			return fmt.Errorf("serve http: %w", err)
		}
		<-done
	case <-done:
	}
	return nil
}
