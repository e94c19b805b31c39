package devices

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type DeviceRepo interface {
	Create(dbc dbctx.Context, device *types.Device) (*types.Device, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Device, error)
	TouchLastSeen(dbc dbctx.Context, id uuid.UUID) error
}

type deviceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeviceRepo(db *gorm.DB, baseLog *logger.Logger) DeviceRepo {
	return &deviceRepo{
		db:  db,
		log: baseLog.With("repo", "DeviceRepo"),
	}
}

func (r *deviceRepo) Create(dbc dbctx.Context, device *types.Device) (*types.Device, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if device == nil {
		return nil, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(device).Error; err != nil {
		return nil, err
	}
	return device, nil
}

func (r *deviceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Device, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var device types.Device
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&device).Error
	if err != nil {
		return nil, err
	}
	if device.ID == uuid.Nil {
		return nil, nil
	}
	return &device, nil
}

func (r *deviceRepo) TouchLastSeen(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Device{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_seen_at": now,
			"updated_at":   now,
		}).Error
}
