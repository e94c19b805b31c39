package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/stagehand-app/stagehand-backend/internal/pipeline"
	"github.com/stagehand-app/stagehand-backend/internal/platform/envutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
	"github.com/stagehand-app/stagehand-backend/internal/platform/places"
	"github.com/stagehand-app/stagehand-backend/internal/providers"
	"github.com/stagehand-app/stagehand-backend/internal/realtime/bus"
	"github.com/stagehand-app/stagehand-backend/internal/services"
)

type Services struct {
	Auth     services.AuthService
	Snapshot services.SnapshotService
	Pipeline services.PipelineService

	Spec   *pipeline.Spec
	Engine *pipeline.Engine
	Worker *pipeline.Worker
	Bus    bus.Bus
}

func wireServices(gdb *gorm.DB, log *logger.Logger, cfg Config, reposet Repos) (Services, error) {
	log.Info("Wiring services...")

	var sseBus bus.Bus
	if envutil.String("REDIS_ADDR", "") != "" {
		b, err := bus.NewRedisBus(log)
		if err != nil {
			return Services{}, fmt.Errorf("init redis bus: %w", err)
		}
		sseBus = b
	} else {
		log.Info("REDIS_ADDR not set; sse bus is process-local")
		sseBus = bus.NewLocalBus()
	}
	notifier := services.NewPipelineNotifier(log, sseBus)

	ai, err := openai.NewClient(log)
	if err != nil {
		return Services{}, fmt.Errorf("init openai client: %w", err)
	}

	registry := providers.NewRegistry()
	adapters := []providers.Adapter{
		providers.NewStrategistAdapter(phaseClient(ai, "OPENAI_MODEL_STRATEGIST")),
		providers.NewBrieferAdapter(phaseClient(ai, "OPENAI_MODEL_BRIEFER")),
		providers.NewConsolidatorAdapter(phaseClient(ai, "OPENAI_MODEL_CONSOLIDATOR")),
		providers.NewPlannerAdapter(phaseClient(ai, "OPENAI_MODEL_PLANNER")),
	}
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return Services{}, fmt.Errorf("register adapter: %w", err)
		}
	}

	var placesClient places.Client
	if pc, err := places.NewClient(log); err != nil {
		log.Warn("places client unavailable; rankings ship without enrichment", "error", err)
	} else {
		placesClient = pc
	}
	aggregator := services.NewRankingAggregator(log, placesClient, cfg.Scoring)

	spec := pipeline.LoadSpec(log)
	policy := pipeline.GatePolicy{BriefingRequired: cfg.BriefingRequired}

	engine, err := pipeline.NewEngine(pipeline.EngineDeps{
		DB:        gdb,
		Log:       log,
		Spec:      spec,
		Policy:    policy,
		Registry:  registry,
		Snapshots: reposet.Snapshots,
		Runs:      reposet.PhaseRuns,
		Results:   reposet.PhaseResults,
		Rankings:  reposet.Rankings,
		Builder:   aggregator,
		Notifier:  notifier,
		KickLimit: cfg.KickLimit,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init pipeline engine: %w", err)
	}

	worker := pipeline.NewWorker(log, engine, reposet.PhaseRuns, pipeline.WorkerConfig{
		Concurrency: cfg.WorkerConcurrency,
		PollEvery:   cfg.WorkerPollEvery,
		SweepEvery:  cfg.WorkerSweepEvery,
		StaleAfter:  cfg.WorkerStaleAfter,
	})

	authService, err := services.NewAuthService(log, reposet.Devices, cfg.PairingCode, cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}
	snapshotService := services.NewSnapshotService(log, reposet.Snapshots)
	pipelineService := services.NewPipelineService(log, spec, policy, engine, reposet.Snapshots, reposet.PhaseRuns, reposet.Rankings)

	return Services{
		Auth:     authService,
		Snapshot: snapshotService,
		Pipeline: pipelineService,
		Spec:     spec,
		Engine:   engine,
		Worker:   worker,
		Bus:      sseBus,
	}, nil
}

// phaseClient returns the shared client rebound to a per-phase model when the
// named env var is set.
func phaseClient(base openai.Client, envName string) openai.Client {
	if model := envutil.String(envName, ""); model != "" {
		return openai.WithModel(base, model)
	}
	return base
}
