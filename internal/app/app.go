package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/stagehand-app/stagehand-backend/internal/data/db"
	"github.com/stagehand-app/stagehand-backend/internal/http"
	"github.com/stagehand-app/stagehand-backend/internal/observability"
	"github.com/stagehand-app/stagehand-backend/internal/platform/envutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	PG       *db.PostgresService
	DB       *gorm.DB
	Hub      *realtime.SSEHub
	Repos    Repos
	Services Services
	Server   *http.Server

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "stagehand",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	gdb := pg.DB()
	if err := db.AutoMigrateAll(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	if err := db.EnsureForeignKeys(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres foreign keys: %w", err)
	}
	if err := db.EnsureLedgerIndexes(gdb); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres ledger indexes: %w", err)
	}

	hub := realtime.NewSSEHub(log)
	reposet := wireRepos(gdb, log)

	serviceset, err := wireServices(gdb, log, cfg, reposet)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, pg, serviceset, hub)
	middleware := wireMiddleware(log, serviceset)
	server := wireServer(log, handlerset, middleware)

	return &App{
		Log:          log,
		Cfg:          cfg,
		PG:           pg,
		DB:           gdb,
		Hub:          hub,
		Repos:        reposet,
		Services:     serviceset,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background loops: the bus forwarder feeding the SSE
// hub, the pipeline worker when this node runs one, and the ledger depth
// sampler. Idempotent.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())

	if err := a.Services.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		cancel()
		return fmt.Errorf("start sse forwarder: %w", err)
	}
	if a.Cfg.WorkerEnabled {
		a.Services.Worker.Start(ctx)
	} else {
		a.Log.Info("pipeline worker disabled on this node")
	}
	observability.StartLedgerDepthSampler(ctx, a.Log, a.Repos.PhaseRuns)

	a.cancel = cancel
	return nil
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

// Shutdown drains the HTTP server. Close still handles everything else.
func (a *App) Shutdown(ctx context.Context) error {
	if a == nil {
		return nil
	}
	return a.Server.Shutdown(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Bus != nil {
		if err := a.Services.Bus.Close(); err != nil {
			a.Log.Warn("closing sse bus", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
