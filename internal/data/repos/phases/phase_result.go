package phases

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type PhaseResultRepo interface {
	Create(dbc dbctx.Context, result *types.PhaseResult) (*types.PhaseResult, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PhaseResult, error)
	GetBySnapshot(dbc dbctx.Context, snapshotID uuid.UUID) ([]*types.PhaseResult, error)
	GetBySnapshotAndPhase(dbc dbctx.Context, snapshotID uuid.UUID, phase string) (*types.PhaseResult, error)
}

type phaseResultRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPhaseResultRepo(db *gorm.DB, baseLog *logger.Logger) PhaseResultRepo {
	return &phaseResultRepo{
		db:  db,
		log: baseLog.With("repo", "PhaseResultRepo"),
	}
}

func (r *phaseResultRepo) Create(dbc dbctx.Context, result *types.PhaseResult) (*types.PhaseResult, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if result == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *phaseResultRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PhaseResult, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var result types.PhaseResult
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	if result.ID == uuid.Nil {
		return nil, nil
	}
	return &result, nil
}

func (r *phaseResultRepo) GetBySnapshot(dbc dbctx.Context, snapshotID uuid.UUID) ([]*types.PhaseResult, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PhaseResult
	if snapshotID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("snapshot_id = ?", snapshotID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetBySnapshotAndPhase returns the newest result for the phase. Reopened
// runs can produce more than one; the latest is the one downstream phases
// consume.
func (r *phaseResultRepo) GetBySnapshotAndPhase(dbc dbctx.Context, snapshotID uuid.UUID, phase string) (*types.PhaseResult, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snapshotID == uuid.Nil || phase == "" {
		return nil, nil
	}
	var result types.PhaseResult
	err := transaction.WithContext(dbc.Ctx).
		Where("snapshot_id = ? AND phase = ?", snapshotID, phase).
		Order("created_at DESC").
		Limit(1).
		Find(&result).Error
	if err != nil {
		return nil, err
	}
	if result.ID == uuid.Nil {
		return nil, nil
	}
	return &result, nil
}
