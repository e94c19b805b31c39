package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/stagehand-app/stagehand-backend/internal/data/pgerr"
	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/observability"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
	"github.com/stagehand-app/stagehand-backend/internal/providers"
)

// Ledger error kinds the engine records beyond the provider taxonomy.
const (
	ErrKindGating      = "gating_not_satisfied"
	ErrKindPersistence = "persistence_failure"
	ErrKindInternal    = "internal"
)

// errClaimLost aborts a result transaction whose MarkOk found the claim gone.
var errClaimLost = errors.New("phase claim lost")

// Notifier announces ledger transitions. Implementations are fire-and-forget;
// listeners re-read the ledger rather than trusting the payload.
type Notifier interface {
	PhaseReady(ctx context.Context, snapshotID uuid.UUID, phase string)
	PhaseFailed(ctx context.Context, snapshotID uuid.UUID, phase string, terminal bool)
	ResultReady(ctx context.Context, snapshotID uuid.UUID, rankingID uuid.UUID)
}

// nopNotifier stands in when no notifier is wired.
type nopNotifier struct{}

func (nopNotifier) PhaseReady(context.Context, uuid.UUID, string)        {}
func (nopNotifier) PhaseFailed(context.Context, uuid.UUID, string, bool) {}
func (nopNotifier) ResultReady(context.Context, uuid.UUID, uuid.UUID)    {}

// RankingBuilder turns a planner output into the rows the final transaction
// persists. Build runs outside any transaction; enrichment calls live here.
type RankingBuilder interface {
	Build(ctx context.Context, snap *types.ContextSnapshot, plan *providers.PlannerOutput) (*types.Ranking, []*types.RankingCandidate, error)
}

type EngineDeps struct {
	DB        *gorm.DB
	Log       *logger.Logger
	Spec      *Spec
	Policy    GatePolicy
	Registry  *providers.Registry
	Snapshots repos.SnapshotRepo
	Runs      repos.PhaseRunRepo
	Results   repos.PhaseResultRepo
	Rankings  repos.RankingRepo
	Builder   RankingBuilder
	Notifier  Notifier

	// HeartbeatEvery defaults to 10s, YieldDelay to 2s, KickLimit to 8.
	// KickLimit < 0 disables in-process kicks entirely; runs then start
	// only from the worker pollers. That is the right mode for API nodes
	// that should never execute phases inline.
	HeartbeatEvery time.Duration
	YieldDelay     time.Duration
	KickLimit      int
}

// Engine is the orchestrator: it claims ledger rows, runs the phase adapter
// under its deadline, persists the outcome, and cascades eligibility. All
// coordination state lives in the ledger; the engine itself is stateless
// between calls and safe to run in many processes at once.
type Engine struct {
	db        *gorm.DB
	log       *logger.Logger
	spec      *Spec
	policy    GatePolicy
	registry  *providers.Registry
	snapshots repos.SnapshotRepo
	runs      repos.PhaseRunRepo
	results   repos.PhaseResultRepo
	rankings  repos.RankingRepo
	builder   RankingBuilder
	notifier  Notifier

	heartbeatEvery time.Duration
	yieldDelay     time.Duration
	sem            chan struct{}
}

func NewEngine(deps EngineDeps) (*Engine, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("engine: db required")
	case deps.Log == nil:
		return nil, fmt.Errorf("engine: logger required")
	case deps.Spec == nil:
		return nil, fmt.Errorf("engine: phase spec required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("engine: adapter registry required")
	case deps.Snapshots == nil || deps.Runs == nil || deps.Results == nil || deps.Rankings == nil:
		return nil, fmt.Errorf("engine: repos required")
	case deps.Builder == nil:
		return nil, fmt.Errorf("engine: ranking builder required")
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	hb := deps.HeartbeatEvery
	if hb <= 0 {
		hb = 10 * time.Second
	}
	yd := deps.YieldDelay
	if yd <= 0 {
		yd = 2 * time.Second
	}
	kl := deps.KickLimit
	if kl == 0 {
		kl = 8
	}
	// A send on the nil channel never proceeds, so a negative limit makes
	// every kick fall through to the select default.
	var sem chan struct{}
	if kl > 0 {
		sem = make(chan struct{}, kl)
	}
	return &Engine{
		db:             deps.DB,
		log:            deps.Log.With("component", "PipelineEngine"),
		spec:           deps.Spec,
		policy:         deps.Policy,
		registry:       deps.Registry,
		snapshots:      deps.Snapshots,
		runs:           deps.Runs,
		results:        deps.Results,
		rankings:       deps.Rankings,
		builder:        deps.Builder,
		notifier:       deps.Notifier,
		heartbeatEvery: hb,
		yieldDelay:     yd,
		sem:            sem,
	}, nil
}

// Advance reconciles one snapshot against the gates: creates downstream rows
// that just became eligible and kicks every claimable pending run. Safe to
// call from anywhere, any number of times; the claim protocol absorbs
// duplicates.
func (e *Engine) Advance(ctx context.Context, snapshotID uuid.UUID) error {
	dbc := dbctx.New(ctx)
	runs, err := e.runs.GetBySnapshot(dbc, snapshotID)
	if err != nil {
		return fmt.Errorf("advance: load ledger: %w", err)
	}
	by := runsByPhase(runs)

	for _, name := range e.spec.Order {
		if by[name] != nil || len(e.spec.Deps(name)) == 0 {
			continue
		}
		if !Eligible(e.spec, e.policy, name, by) {
			continue
		}
		if _, err := e.runs.EnsurePending(dbc, snapshotID, []string{name}); err != nil {
			return fmt.Errorf("advance: schedule %s: %w", name, err)
		}
		row, err := e.runs.GetBySnapshotAndPhase(dbc, snapshotID, name)
		if err != nil {
			return fmt.Errorf("advance: reload %s: %w", name, err)
		}
		by[name] = row
	}

	now := time.Now()
	for _, name := range e.spec.Order {
		run := by[name]
		if run == nil || run.Status != types.PhaseStatusPending {
			continue
		}
		if run.NextRetryAt != nil && run.NextRetryAt.After(now) {
			continue
		}
		if !Eligible(e.spec, e.policy, name, by) {
			continue
		}
		e.kick(ctx, run.ID)
	}
	return nil
}

// kick runs a claim attempt on its own goroutine, bounded by the semaphore.
// At capacity the kick is dropped; the poll worker finds the row later. Kicks
// are latency, the ledger is correctness.
func (e *Engine) kick(ctx context.Context, runID uuid.UUID) {
	select {
	case e.sem <- struct{}{}:
	default:
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("phase kick panic", "run_id", runID, "panic", r)
			}
		}()
		if _, err := e.RunByID(bg, runID); err != nil {
			e.log.Warn("kicked run errored", "run_id", runID, "error", err)
		}
	}()
}

// RunByID claims one specific run and executes it. A nil claim is a lost race
// or a not-yet-eligible row and reports (false, nil).
func (e *Engine) RunByID(ctx context.Context, runID uuid.UUID) (bool, error) {
	run, err := e.runs.ClaimByID(dbctx.New(ctx), runID)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}
	return true, e.Execute(ctx, run)
}

// RunNext claims the oldest runnable row, if any, and executes it.
func (e *Engine) RunNext(ctx context.Context) (bool, error) {
	run, err := e.runs.ClaimNextRunnable(dbctx.New(ctx))
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}
	return true, e.Execute(ctx, run)
}

// Execute drives one claimed run to a recorded outcome. The claim transaction
// has already committed; no lock is held across the provider call.
func (e *Engine) Execute(ctx context.Context, run *types.PhaseRun) error {
	log := e.log.With("snapshot_id", run.SnapshotID, "phase", run.Phase, "attempt", run.Attempts)

	spec, ok := e.spec.Phase(run.Phase)
	if !ok {
		log.Error("claimed run has no phase spec")
		return e.failTerminal(ctx, run, ErrKindInternal, fmt.Sprintf("unknown phase %q", run.Phase))
	}

	dbc := dbctx.New(ctx)
	snap, err := e.snapshots.GetByID(dbc, run.SnapshotID)
	if err != nil {
		return e.recordFailure(ctx, run, spec, fmt.Errorf("load snapshot: %w", err))
	}
	if snap == nil {
		log.Warn("snapshot gone under claimed run")
		return e.failTerminal(ctx, run, ErrKindInternal, "snapshot no longer exists")
	}

	siblings, err := e.runs.GetBySnapshot(dbc, run.SnapshotID)
	if err != nil {
		return e.recordFailure(ctx, run, spec, fmt.Errorf("load ledger: %w", err))
	}
	by := runsByPhase(siblings)
	by[run.Phase] = run

	if !Eligible(e.spec, e.policy, run.Phase, by) {
		if Unsatisfiable(e.spec, e.policy, run.Phase, by) {
			log.Error("prerequisite terminally failed; phase can never start")
			return e.failTerminal(ctx, run, ErrKindGating, "prerequisite phase terminally failed")
		}
		// Prerequisites are still in flight (an operator reopened them, or a
		// worker claimed ahead of its gate). Hand the claim back untouched.
		yieldAt := time.Now().Add(e.yieldDelay)
		if _, err := e.runs.YieldToQueue(dbc, run.ID, &yieldAt); err != nil {
			return fmt.Errorf("yield %s: %w", run.Phase, err)
		}
		observability.RecordPhaseOutcome(run.Phase, observability.OutcomeYielded)
		log.Debug("yielded claim; prerequisites in flight")
		return nil
	}

	upstream, err := e.loadUpstream(dbc, run.SnapshotID, spec.DependsOn, by)
	if err != nil {
		return e.recordFailure(ctx, run, spec, err)
	}

	adapter, ok := e.registry.Get(run.Phase)
	if !ok {
		log.Error("no adapter registered for phase")
		return e.failTerminal(ctx, run, ErrKindInternal, "no adapter registered")
	}

	log.Info("phase starting", "deadline", spec.Deadline.String())
	stopHeartbeat := e.startHeartbeat(ctx, run.ID)
	invokeCtx, cancel := context.WithTimeout(ctx, spec.Deadline)
	res, invokeErr := invokeSafely(invokeCtx, adapter, &providers.Request{
		SnapshotID: run.SnapshotID,
		Phase:      run.Phase,
		Snapshot:   snap,
		Upstream:   upstream,
	})
	cancel()
	stopHeartbeat()

	if invokeErr != nil {
		return e.recordFailure(ctx, run, spec, invokeErr)
	}
	return e.complete(ctx, run, spec, snap, res)
}

// invokeSafely turns an adapter panic into an error so one bad response
// cannot take the worker down.
func invokeSafely(ctx context.Context, adapter providers.Adapter, req *providers.Request) (res *providers.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.Invoke(ctx, req)
}

// loadUpstream collects the outputs of the ok dependencies, keyed by phase.
// A soft-failed briefer simply contributes nothing.
func (e *Engine) loadUpstream(dbc dbctx.Context, snapshotID uuid.UUID, deps []string, by map[string]*types.PhaseRun) (map[string]json.RawMessage, error) {
	if len(deps) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(deps))
	for _, dep := range deps {
		run := by[dep]
		if run == nil || run.Status != types.PhaseStatusOk {
			continue
		}
		result, err := e.results.GetBySnapshotAndPhase(dbc, snapshotID, dep)
		if err != nil {
			return nil, fmt.Errorf("load %s result: %w", dep, err)
		}
		if result == nil {
			return nil, fmt.Errorf("%s is ok but has no result payload", dep)
		}
		out[dep] = json.RawMessage(result.Output)
	}
	return out, nil
}

// startHeartbeat keeps the claim visibly alive while the provider call runs,
// so the stale-reclaim sweep leaves it alone. The returned stop must be
// called exactly once.
func (e *Engine) startHeartbeat(ctx context.Context, runID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := e.runs.Heartbeat(dbctx.New(ctx), runID); err != nil {
					e.log.Warn("heartbeat failed", "run_id", runID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}

// complete persists a successful invocation: result row, ok transition, and
// for the planner the final ranking, all in one transaction.
func (e *Engine) complete(ctx context.Context, run *types.PhaseRun, spec PhaseSpec, snap *types.ContextSnapshot, res *providers.Result) error {
	log := e.log.With("snapshot_id", run.SnapshotID, "phase", run.Phase, "attempt", run.Attempts)

	var ranking *types.Ranking
	var candidates []*types.RankingCandidate
	if run.Phase == types.PhasePlanner {
		var plan providers.PlannerOutput
		if err := json.Unmarshal(res.Output, &plan); err != nil {
			return e.recordFailure(ctx, run, spec, fmt.Errorf("decode planner output: %w", err))
		}
		var err error
		ranking, candidates, err = e.builder.Build(ctx, snap, &plan)
		if err != nil {
			return e.recordFailure(ctx, run, spec, fmt.Errorf("build ranking: %w", err))
		}
	}

	resultRow := &types.PhaseResult{
		SnapshotID: run.SnapshotID,
		Phase:      run.Phase,
		Provider:   res.Provider,
		Model:      res.Model,
		DurationMS: res.Duration.Milliseconds(),
		Output:     datatypes.JSON(res.Output),
	}

	txErr := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txc := dbctx.WithTx(ctx, tx)
		if _, err := e.results.Create(txc, resultRow); err != nil {
			return err
		}
		won, err := e.runs.MarkOk(txc, run.ID, resultRow.ID)
		if err != nil {
			return err
		}
		if !won {
			return errClaimLost
		}
		if ranking != nil {
			if err := e.rankings.CreateWithCandidates(txc, ranking, candidates); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, errClaimLost) {
			log.Info("claim lost before completion; discarding result")
			return nil
		}
		if pgerr.IsUniqueViolation(txErr) {
			// Another worker already wrote this snapshot's ranking; ours rolls
			// back whole. Resolve the run against the ledger, not the error.
			return e.resolveRankingConflict(ctx, run, log)
		}
		log.Error("result transaction failed", "error", txErr)
		if _, mfErr := e.runs.MarkFailed(dbctx.New(ctx), run.ID, ErrKindPersistence, txErr.Error(), nil); mfErr != nil {
			log.Error("recording persistence failure failed", "error", mfErr)
		}
		observability.RecordPhaseOutcome(run.Phase, observability.OutcomeFailedTerminal)
		e.notifier.PhaseFailed(ctx, run.SnapshotID, run.Phase, true)
		return txErr
	}

	log.Info("phase ok", "model", res.Model, "duration_ms", res.Duration.Milliseconds())
	observability.RecordPhaseOutcome(run.Phase, observability.OutcomeOK)
	observability.ObservePhaseDuration(run.Phase, res.Duration)
	e.notifier.PhaseReady(ctx, run.SnapshotID, run.Phase)
	if ranking != nil {
		e.notifier.ResultReady(ctx, run.SnapshotID, ranking.ID)
	}
	if err := e.Advance(ctx, run.SnapshotID); err != nil {
		log.Warn("advance after completion failed", "error", err)
	}
	return nil
}

// resolveRankingConflict handles the duplicate-final-write case: if the run
// is already ok another worker finished first and this was a plain lost race;
// anything else is surfaced as a failed phase for an operator to look at.
func (e *Engine) resolveRankingConflict(ctx context.Context, run *types.PhaseRun, log *logger.Logger) error {
	dbc := dbctx.New(ctx)
	current, err := e.runs.GetByID(dbc, run.ID)
	if err != nil {
		return fmt.Errorf("resolve ranking conflict: %w", err)
	}
	if current != nil && current.Status == types.PhaseStatusOk {
		log.Info("ranking already persisted by another worker; discarding duplicate")
		return nil
	}
	log.Error("ranking exists but planner run is not ok; failing run for inspection")
	if _, err := e.runs.MarkFailed(dbc, run.ID, ErrKindPersistence, "ranking already exists for snapshot", nil); err != nil {
		log.Error("recording ranking conflict failed", "error", err)
	}
	observability.RecordPhaseOutcome(run.Phase, observability.OutcomeFailedTerminal)
	e.notifier.PhaseFailed(ctx, run.SnapshotID, run.Phase, true)
	return nil
}

// recordFailure classifies the cause, records it on the run, and schedules a
// retry when policy allows. Terminal briefer failures still advance the
// snapshot: under an optional-briefing gate the consolidator may now start.
func (e *Engine) recordFailure(ctx context.Context, run *types.PhaseRun, spec PhaseSpec, cause error) error {
	log := e.log.With("snapshot_id", run.SnapshotID, "phase", run.Phase, "attempt", run.Attempts)

	kind := string(providers.KindOf(cause))
	retryable := true
	var pe *providers.Error
	if errors.As(cause, &pe) {
		retryable = pe.Retryable()
	}
	if kind == "" {
		kind = ErrKindInternal
	}

	terminal := !retryable || run.Attempts >= spec.Retry.MaxAttempts
	var nextRetryAt *time.Time
	if !terminal {
		at := time.Now().Add(spec.Retry.NextDelay(run.Attempts))
		nextRetryAt = &at
	}

	won, err := e.runs.MarkFailed(dbctx.New(ctx), run.ID, kind, cause.Error(), nextRetryAt)
	if err != nil {
		log.Error("recording failure failed", "kind", kind, "cause", cause, "error", err)
		return err
	}
	if !won {
		log.Info("claim lost before failure could be recorded", "kind", kind)
		return nil
	}

	if terminal {
		log.Error("phase failed terminally", "kind", kind, "error", cause)
		observability.RecordPhaseOutcome(run.Phase, observability.OutcomeFailedTerminal)
	} else {
		log.Warn("phase failed; retry scheduled", "kind", kind, "error", cause, "next_retry_at", nextRetryAt)
		observability.RecordPhaseOutcome(run.Phase, observability.OutcomeFailedRetryable)
	}
	e.notifier.PhaseFailed(ctx, run.SnapshotID, run.Phase, terminal)
	if terminal {
		if err := e.Advance(ctx, run.SnapshotID); err != nil {
			log.Warn("advance after terminal failure failed", "error", err)
		}
	}
	return nil
}

// failTerminal records a non-retryable failure with no provider involved.
func (e *Engine) failTerminal(ctx context.Context, run *types.PhaseRun, kind, msg string) error {
	won, err := e.runs.MarkFailed(dbctx.New(ctx), run.ID, kind, msg, nil)
	if err != nil {
		return err
	}
	if won {
		observability.RecordPhaseOutcome(run.Phase, observability.OutcomeFailedTerminal)
		e.notifier.PhaseFailed(ctx, run.SnapshotID, run.Phase, true)
		if err := e.Advance(ctx, run.SnapshotID); err != nil {
			e.log.Warn("advance after terminal failure failed", "snapshot_id", run.SnapshotID, "error", err)
		}
	}
	return nil
}
