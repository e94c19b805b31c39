package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotInput is everything the device observed. Place and Environment are
// stored as the client sent them; the pipeline treats them as opaque facts.
type SnapshotInput struct {
	CapturedAt  time.Time       `json:"captured_at"`
	Lat         float64         `json:"lat"`
	Lng         float64         `json:"lng"`
	TimeZone    string          `json:"time_zone"`
	Place       json.RawMessage `json:"place"`
	Environment json.RawMessage `json:"environment"`
}

type SnapshotService interface {
	Ingest(ctx context.Context, deviceID uuid.UUID, in *SnapshotInput) (*types.ContextSnapshot, error)
	Get(ctx context.Context, id uuid.UUID) (*types.ContextSnapshot, error)
	ListForDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*types.ContextSnapshot, error)
}

type snapshotService struct {
	log   *logger.Logger
	snaps repos.SnapshotRepo
}

func NewSnapshotService(baseLog *logger.Logger, snaps repos.SnapshotRepo) SnapshotService {
	return &snapshotService{
		log:   baseLog.With("service", "SnapshotService"),
		snaps: snaps,
	}
}

func (s *snapshotService) Ingest(ctx context.Context, deviceID uuid.UUID, in *SnapshotInput) (*types.ContextSnapshot, error) {
	if deviceID == uuid.Nil {
		return nil, fmt.Errorf("device id required")
	}
	if in == nil {
		return nil, fmt.Errorf("snapshot body required")
	}
	if in.Lat < -90 || in.Lat > 90 || in.Lng < -180 || in.Lng > 180 {
		return nil, fmt.Errorf("coordinates out of range")
	}
	if in.Lat == 0 && in.Lng == 0 {
		return nil, fmt.Errorf("coordinates missing")
	}
	capturedAt := in.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	snap := &types.ContextSnapshot{
		DeviceID:    deviceID,
		CapturedAt:  capturedAt,
		Lat:         in.Lat,
		Lng:         in.Lng,
		TimeZone:    in.TimeZone,
		Place:       datatypes.JSON(in.Place),
		Environment: datatypes.JSON(in.Environment),
	}
	snap, err := s.snaps.Create(dbctx.New(ctx), snap)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	s.log.Info("snapshot ingested", "snapshot_id", snap.ID, "device_id", deviceID, "captured_at", capturedAt)
	return snap, nil
}

func (s *snapshotService) Get(ctx context.Context, id uuid.UUID) (*types.ContextSnapshot, error) {
	snap, err := s.snaps.GetByID(dbctx.New(ctx), id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *snapshotService) ListForDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*types.ContextSnapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.snaps.ListByDevice(dbctx.New(ctx), deviceID, limit)
}
