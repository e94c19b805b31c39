package pipeline

import (
	"context"
	"time"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type WorkerConfig struct {
	Concurrency int
	PollEvery   time.Duration
	SweepEvery  time.Duration
	StaleAfter  time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 2 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 2 * time.Minute
	}
	return c
}

// Worker polls the ledger for runnable rows and keeps it healthy: failed runs
// whose backoff elapsed go back to pending, and claims whose worker died are
// reclaimed. Kicks from the engine make the happy path fast; the worker makes
// every path eventually complete.
type Worker struct {
	log    *logger.Logger
	engine *Engine
	runs   repos.PhaseRunRepo
	cfg    WorkerConfig
}

func NewWorker(baseLog *logger.Logger, engine *Engine, runs repos.PhaseRunRepo, cfg WorkerConfig) *Worker {
	return &Worker{
		log:    baseLog.With("component", "PipelineWorker"),
		engine: engine,
		runs:   runs,
		cfg:    cfg.withDefaults(),
	}
}

func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.pollLoop(ctx, i)
	}
	go w.sweepLoop(ctx)
	w.log.Info("pipeline worker started",
		"concurrency", w.cfg.Concurrency,
		"poll_every", w.cfg.PollEvery.String(),
		"sweep_every", w.cfg.SweepEvery.String())
}

func (w *Worker) pollLoop(ctx context.Context, slot int) {
	log := w.log.With("slot", slot)
	ticker := time.NewTicker(w.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain while there is work so a burst does not pay one poll
			// interval per run.
			for {
				claimed := w.runOnce(ctx, log)
				if !claimed || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// runOnce claims and executes at most one run. A panic anywhere outside the
// adapter (the engine shields that call itself) is logged and the loop lives
// on; the stale-claim sweep returns the orphaned row to the queue.
func (w *Worker) runOnce(ctx context.Context, log *logger.Logger) (claimed bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("phase execution panic", "panic", r)
			claimed = false
		}
	}()
	claimed, err := w.engine.RunNext(ctx)
	if err != nil {
		log.Warn("phase execution failed", "error", err)
	}
	return claimed
}

func (w *Worker) sweepLoop(ctx context.Context) {
	maxAttempts := w.engine.spec.MaxAttemptsCeiling()
	ticker := time.NewTicker(w.cfg.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dbc := dbctx.New(ctx)
			if n, err := w.runs.ReclaimStale(dbc, w.cfg.StaleAfter); err != nil {
				w.log.Warn("stale reclaim failed", "error", err)
			} else if n > 0 {
				w.log.Info("reclaimed stale claims", "count", n)
			}
			if n, err := w.runs.RequeueRetryable(dbc, maxAttempts); err != nil {
				w.log.Warn("retry requeue failed", "error", err)
			} else if n > 0 {
				w.log.Debug("requeued retryable runs", "count", n)
			}
		}
	}
}
