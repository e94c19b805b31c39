package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/pipeline"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

var ErrRankingNotReady = errors.New("ranking not ready")

// Pipeline states reported by Status. "failed" means the ranking can no
// longer be produced without operator intervention; transient failures in
// backoff still count as in_progress.
const (
	PipelineStateNotStarted = "not_started"
	PipelineStateInProgress = "in_progress"
	PipelineStateComplete   = "complete"
	PipelineStateFailed     = "failed"
)

// PhaseStatusView is the API shape of one ledger row. Phases whose row has
// not been created yet report status "waiting".
type PhaseStatusView struct {
	Phase       string     `json:"phase"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	Error       string     `json:"error,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}

type RankingView struct {
	types.Ranking
	Candidates []*types.RankingCandidate `json:"candidates"`
}

type PipelineStatus struct {
	SnapshotID uuid.UUID          `json:"snapshot_id"`
	State      string             `json:"state"`
	Phases     []*PhaseStatusView `json:"phases"`
	Ranking    *RankingView       `json:"ranking,omitempty"`
}

type PipelineService interface {
	// Trigger seeds the root phase rows for a snapshot and kicks the engine.
	// Triggering an already-running or finished snapshot is a no-op that
	// returns the current status.
	Trigger(ctx context.Context, snapshotID uuid.UUID) (*PipelineStatus, error)
	Status(ctx context.Context, snapshotID uuid.UUID) (*PipelineStatus, error)
	// Retry reopens every failed phase for another attempt cycle and kicks
	// the engine. Returns the number of reopened phases.
	Retry(ctx context.Context, snapshotID uuid.UUID) (int, *PipelineStatus, error)
	Ranking(ctx context.Context, snapshotID uuid.UUID) (*RankingView, error)
}

type pipelineService struct {
	log      *logger.Logger
	spec     *pipeline.Spec
	policy   pipeline.GatePolicy
	engine   *pipeline.Engine
	snaps    repos.SnapshotRepo
	runs     repos.PhaseRunRepo
	rankings repos.RankingRepo
}

func NewPipelineService(
	baseLog *logger.Logger,
	spec *pipeline.Spec,
	policy pipeline.GatePolicy,
	engine *pipeline.Engine,
	snaps repos.SnapshotRepo,
	runs repos.PhaseRunRepo,
	rankings repos.RankingRepo,
) PipelineService {
	return &pipelineService{
		log:      baseLog.With("service", "PipelineService"),
		spec:     spec,
		policy:   policy,
		engine:   engine,
		snaps:    snaps,
		runs:     runs,
		rankings: rankings,
	}
}

func (s *pipelineService) Trigger(ctx context.Context, snapshotID uuid.UUID) (*PipelineStatus, error) {
	if err := s.ensureSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	created, err := s.runs.EnsurePending(dbctx.New(ctx), snapshotID, s.spec.Roots())
	if err != nil {
		return nil, fmt.Errorf("seed root phases: %w", err)
	}
	if created > 0 {
		s.log.Info("pipeline triggered", "snapshot_id", snapshotID, "phases_created", created)
	}
	if err := s.engine.Advance(ctx, snapshotID); err != nil {
		s.log.Warn("advance after trigger failed", "snapshot_id", snapshotID, "error", err)
	}
	return s.Status(ctx, snapshotID)
}

func (s *pipelineService) Status(ctx context.Context, snapshotID uuid.UUID) (*PipelineStatus, error) {
	if err := s.ensureSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	dbc := dbctx.New(ctx)
	runs, err := s.runs.GetBySnapshot(dbc, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load phase runs: %w", err)
	}
	byPhase := make(map[string]*types.PhaseRun, len(runs))
	for _, run := range runs {
		byPhase[run.Phase] = run
	}

	status := &PipelineStatus{
		SnapshotID: snapshotID,
		Phases:     make([]*PhaseStatusView, 0, len(s.spec.Order)),
	}
	for _, phase := range s.spec.Order {
		status.Phases = append(status.Phases, phaseView(phase, byPhase[phase]))
	}

	ranking, candidates, err := s.rankings.GetBySnapshot(dbc, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load ranking: %w", err)
	}
	if ranking != nil {
		status.Ranking = &RankingView{Ranking: *ranking, Candidates: candidates}
	}

	status.State = s.deriveState(byPhase, len(runs), ranking != nil)
	return status, nil
}

func (s *pipelineService) Retry(ctx context.Context, snapshotID uuid.UUID) (int, *PipelineStatus, error) {
	if err := s.ensureSnapshot(ctx, snapshotID); err != nil {
		return 0, nil, err
	}
	reopened, err := s.runs.ReopenFailed(dbctx.New(ctx), snapshotID)
	if err != nil {
		return 0, nil, fmt.Errorf("reopen failed phases: %w", err)
	}
	if reopened > 0 {
		s.log.Info("failed phases reopened", "snapshot_id", snapshotID, "count", reopened)
		if err := s.engine.Advance(ctx, snapshotID); err != nil {
			s.log.Warn("advance after retry failed", "snapshot_id", snapshotID, "error", err)
		}
	}
	status, err := s.Status(ctx, snapshotID)
	if err != nil {
		return int(reopened), nil, err
	}
	return int(reopened), status, nil
}

func (s *pipelineService) Ranking(ctx context.Context, snapshotID uuid.UUID) (*RankingView, error) {
	if err := s.ensureSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	ranking, candidates, err := s.rankings.GetBySnapshot(dbctx.New(ctx), snapshotID)
	if err != nil {
		return nil, fmt.Errorf("load ranking: %w", err)
	}
	if ranking == nil {
		return nil, ErrRankingNotReady
	}
	return &RankingView{Ranking: *ranking, Candidates: candidates}, nil
}

func (s *pipelineService) ensureSnapshot(ctx context.Context, snapshotID uuid.UUID) error {
	snap, err := s.snaps.GetByID(dbctx.New(ctx), snapshotID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return ErrSnapshotNotFound
	}
	return nil
}

// deriveState folds the ledger into one word. A phase is blocked when it has
// terminally failed itself or when a dependency it still needs is blocked;
// the briefer edge into the consolidator stops propagating when briefing is
// optional. The pipeline as a whole has failed exactly when the planner can
// never run.
func (s *pipelineService) deriveState(byPhase map[string]*types.PhaseRun, rowCount int, hasRanking bool) string {
	if hasRanking {
		return PipelineStateComplete
	}
	if rowCount == 0 {
		return PipelineStateNotStarted
	}

	blocked := make(map[string]bool, len(s.spec.Order))
	for _, phase := range s.spec.Order {
		if pipeline.TerminalFailure(byPhase[phase]) {
			blocked[phase] = true
			continue
		}
		for _, dep := range s.spec.Deps(phase) {
			if !blocked[dep] {
				continue
			}
			if dep == types.PhaseBriefer && phase == types.PhaseConsolidator && !s.policy.BriefingRequired {
				continue
			}
			blocked[phase] = true
			break
		}
	}
	if blocked[types.PhasePlanner] {
		return PipelineStateFailed
	}
	return PipelineStateInProgress
}

func phaseView(phase string, run *types.PhaseRun) *PhaseStatusView {
	if run == nil {
		return &PhaseStatusView{Phase: phase, Status: "waiting"}
	}
	return &PhaseStatusView{
		Phase:       phase,
		Status:      run.Status,
		Attempts:    run.Attempts,
		ErrorKind:   run.ErrorKind,
		Error:       run.Error,
		NextRetryAt: run.NextRetryAt,
	}
}
