package snapshots

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

// SnapshotRepo persists context snapshots. Snapshots are insert-only; there
// is deliberately no update method here.
type SnapshotRepo interface {
	Create(dbc dbctx.Context, snap *types.ContextSnapshot) (*types.ContextSnapshot, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContextSnapshot, error)
	ListByDevice(dbc dbctx.Context, deviceID uuid.UUID, limit int) ([]*types.ContextSnapshot, error)
}

type snapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) SnapshotRepo {
	return &snapshotRepo{
		db:  db,
		log: baseLog.With("repo", "SnapshotRepo"),
	}
}

func (r *snapshotRepo) Create(dbc dbctx.Context, snap *types.ContextSnapshot) (*types.ContextSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snap == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(snap).Error; err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *snapshotRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ContextSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var snap types.ContextSnapshot
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&snap).Error
	if err != nil {
		return nil, err
	}
	if snap.ID == uuid.Nil {
		return nil, nil
	}
	return &snap, nil
}

func (r *snapshotRepo) ListByDevice(dbc dbctx.Context, deviceID uuid.UUID, limit int) ([]*types.ContextSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ContextSnapshot
	if deviceID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("device_id = ?", deviceID).
		Order("captured_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
