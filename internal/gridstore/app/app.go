package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/docdb"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/adapter/outbound/guard"
	"github.com/anthanhphan/go-gridstore/internal/gridstore/config"
	"github.com/anthanhphan/gosdk/logger"
)

const shutdownTimeout = 15 * time.Second

// runner is the HTTP server bound to one id type.
type runner interface {
	Start() error
	Stop(ctx context.Context) error
}

type App struct {
	cfg    *config.Config
	server runner
	engine *docdb.Engine
	db     *guard.Guard

	// closeStore stops the store's chunk writer pool.
	closeStore    func()
	ensureIndexes func(ctx context.Context) (bool, error)
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	return newApp(cfg)
}

func newApp(cfg *config.Config) (*App, error) {
	// 3. Backend and database engine
	backend, redisClient, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	engine := docdb.New(backend)

	// 4. Dispatch guard
	db := guard.New(engine, guard.Config{
		Name:             cfg.Backend.Kind,
		MaxRetries:       cfg.Dispatch.MaxRetries,
		AttemptTimeout:   time.Duration(cfg.Dispatch.AttemptTimeoutMS) * time.Millisecond,
		RetryBackoff:     time.Duration(cfg.Dispatch.RetryBackoffMS) * time.Millisecond,
		FailureThreshold: cfg.Dispatch.FailureThreshold,
		OpenTimeout:      time.Duration(cfg.Dispatch.OpenTimeoutMS) * time.Millisecond,
	})

	// 5. Store and HTTP server for the configured id type
	opts, err := storeOptions(cfg)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	var wired *wiring
	switch cfg.App.IDType {
	case config.IDUUID:
		wired, err = wireUUID(cfg, db, opts)
	case config.IDSnowflake, "":
		wired, err = wireSnowflake(cfg, db, opts, redisClient)
	default:
		err = fmt.Errorf("unknown id type %q", cfg.App.IDType)
	}
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	return &App{
		cfg:           cfg,
		server:        wired.server,
		engine:        engine,
		db:            db,
		closeStore:    wired.closeStore,
		ensureIndexes: wired.ensureIndexes,
	}, nil
}

func (a *App) Run() error {
	// Bootstrap collections and indexes before accepting traffic.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	created, err := a.ensureIndexes(ctx)
	cancel()
	if err != nil {
		_ = a.shutdown()
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	logger.Infow("Store ready", "prefix", a.cfg.Store.Prefix, "indexes_created", created, "backend", a.cfg.Backend.Kind)

	// Start HTTP
	logger.Infow("Gridstore server starting", "addr", a.cfg.Server.Addr)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErrCh:
		runErr = fmt.Errorf("http server failed: %w", err)
		logger.Errorw("Gridstore server exited unexpectedly", "error", err.Error())
	}

	logger.Infow("Shutting down gridstore services", "circuit_state", string(a.db.State()))
	ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Stop(ctx); err != nil {
		logger.Errorw("Gridstore shutdown error", "error", err.Error())
		if runErr == nil {
			runErr = err
		}
	}
	if err := a.shutdown(); err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

// shutdown drains in-flight uploads, then closes the backend.
func (a *App) shutdown() error {
	a.closeStore()
	if err := a.engine.Close(); err != nil {
		logger.Errorw("Backend close error", "backend", a.cfg.Backend.Kind, "error", err.Error())
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}
