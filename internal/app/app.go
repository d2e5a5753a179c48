package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/quickentry-backend/internal/data/aggregates"
	"github.com/yungbote/quickentry-backend/internal/data/db"
	"github.com/yungbote/quickentry-backend/internal/data/repos"
	apphttp "github.com/yungbote/quickentry-backend/internal/http"
	"github.com/yungbote/quickentry-backend/internal/jobs/worker"
	"github.com/yungbote/quickentry-backend/internal/modules/quickentry/policy"
	"github.com/yungbote/quickentry-backend/internal/observability"
	"github.com/yungbote/quickentry-backend/internal/platform/envutil"
	"github.com/yungbote/quickentry-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *apphttp.Server
	Cfg      Config
	Repos    repos.Set
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics

	dbs          *db.Service
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// NewLogger builds the process logger from LOG_MODE.
func NewLogger() (*logger.Logger, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	cfg := LoadConfig(log)
	metrics := observability.Init()
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	dbs, err := openDB(log)
	if err != nil {
		return nil, err
	}
	a := &App{
		Log:          log,
		DB:           dbs.DB(),
		Cfg:          cfg,
		Metrics:      metrics,
		dbs:          dbs,
		otelShutdown: otelShutdown,
	}
	a.Repos = wireRepos(a.DB, log)

	a.Clients, err = wireClients(ctx, log, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Services, err = wireServices(ctx, log, cfg, dbs, a.Repos, a.Clients, metrics)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Server = wireServer(log, cfg, wireHandlers(log, a.DB, a.Services), metrics)
	return a, nil
}

// Start launches background workers.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	if a.Services.Sweeper != nil {
		a.Services.Sweeper.Start(ctx)
	}
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Serving HTTP", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run()
}

// Close stops the server, drains running pipelines within ctx and releases
// clients. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("http shutdown failed", "error", err)
		}
	}
	if a.Services.Coordinator != nil {
		if err := a.Services.Coordinator.Close(ctx); err != nil {
			a.Log.Warn("pipelines still running at shutdown", "error", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.Clients.Close()
	if a.dbs != nil {
		if err := a.dbs.Close(); err != nil {
			a.Log.Warn("db close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}

func openDB(log *logger.Logger) (*db.Service, error) {
	dbs, err := db.NewService(db.ConfigFromEnv(), log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := dbs.AutoMigrateAll(); err != nil {
		_ = dbs.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return dbs, nil
}

// Migrate applies the schema and exits.
func Migrate(log *logger.Logger) error {
	dbs, err := openDB(log)
	if err != nil {
		return err
	}
	log.Info("Schema migrated", "driver", dbs.Driver())
	return dbs.Close()
}

// SweepOnce fails one batch of stale entries without starting the server.
func SweepOnce(ctx context.Context, log *logger.Logger) (int, error) {
	pol, err := policy.Load()
	if err != nil {
		return 0, fmt.Errorf("load policy: %w", err)
	}
	dbs, err := openDB(log)
	if err != nil {
		return 0, err
	}
	defer dbs.Close()
	s, err := worker.NewSweeper(log, aggregates.NewGormTxRunner(dbs.DB()), wireRepos(dbs.DB(), log), pol.Pipeline, observability.Current())
	if err != nil {
		return 0, err
	}
	return s.SweepOnce(ctx)
}
