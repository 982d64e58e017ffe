package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus/api"
	"argus/audit"
	"argus/config"
	"argus/detect"
	"argus/storage"

	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown of the API server and the final
// buffer drain.
const shutdownTimeout = 15 * time.Second

// App represents the Argus service with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite       *storage.SQLite
	EventStorage *storage.SQLiteEventStorage
	RuleStorage  *storage.SQLiteRuleStorage

	Recorder  *audit.Recorder
	Evaluator *detect.Evaluator
	APIServer *api.API

	apiErrCh chan error
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		apiErrCh: make(chan error, 1),
	}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Argus starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	sqlite, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	app.SQLite = sqlite

	app.EventStorage = storage.NewSQLiteEventStorage(sqlite, sugar)
	app.RuleStorage = storage.NewSQLiteRuleStorage(sqlite, sugar)

	if err := app.EventStorage.EnsureIndexes(); err != nil {
		return nil, fmt.Errorf("failed to create event indexes: %w", err)
	}
	if err := app.RuleStorage.EnsureIndexes(); err != nil {
		return nil, fmt.Errorf("failed to create rule indexes: %w", err)
	}

	if err := SeedRules(ctx, cfg.DataPaths.RuleSeedFile, app.RuleStorage, sugar); err != nil {
		// A bad seed file should not keep the service down.
		sugar.Errorw("Rule seeding failed", "error", err)
	}

	app.Recorder = audit.NewRecorder(app.EventStorage, audit.RecorderConfig{
		FlushInterval:      cfg.Buffer.FlushInterval,
		BatchSize:          cfg.Buffer.BatchSize,
		QueueCapacity:      cfg.Buffer.QueueCapacity,
		ImmediateThreshold: cfg.Buffer.ImmediateThreshold,
		WriteTimeout:       cfg.Buffer.WriteTimeout,
	}, sugar)

	evaluator, err := detect.NewEvaluator(app.RuleStorage, app.EventStorage, detect.EvaluatorConfig{
		RuleRefreshInterval: cfg.Detect.RuleRefreshInterval,
		RegexTimeout:        cfg.Detect.RegexTimeout,
		QueryTimeout:        cfg.Detect.QueryTimeout,
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize evaluator: %w", err)
	}
	app.Evaluator = evaluator

	app.APIServer = api.NewAPI(app.Recorder, app.Evaluator, app.EventStorage, app.RuleStorage, cfg, sugar)

	return app, nil
}

// Start launches the API server.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.apiErrCh <- err
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received or the API
// server fails.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-c:
		a.Sugar.Info("Shutdown signal received")
	case err := <-a.apiErrCh:
		a.Sugar.Errorw("API server failed", "error", err)
	}
}

// Shutdown gracefully stops all components. The recorder drains its buffer
// before storage closes so queued events are not lost.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.APIServer != nil {
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("API server shutdown failed", "error", err)
		}
	}

	if a.Evaluator != nil {
		a.Evaluator.Stop()
	}

	if a.Recorder != nil {
		a.Recorder.Stop()
	}

	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorw("SQLite close failed", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}
