package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
)

func SeedDevice(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *types.Device {
	tb.Helper()
	d := &types.Device{
		ID:         uuid.New(),
		Name:       name,
		SecretHash: "x",
	}
	if err := tx.WithContext(ctx).Create(d).Error; err != nil {
		tb.Fatalf("seed device: %v", err)
	}
	return d
}

func SeedSnapshot(tb testing.TB, ctx context.Context, tx *gorm.DB, deviceID uuid.UUID) *types.ContextSnapshot {
	tb.Helper()
	s := &types.ContextSnapshot{
		ID:          uuid.New(),
		DeviceID:    deviceID,
		CapturedAt:  time.Now().UTC(),
		Lat:         37.7749,
		Lng:         -122.4194,
		TimeZone:    "America/Los_Angeles",
		Place:       datatypes.JSON([]byte(`{"name":"Mission District","locality":"San Francisco"}`)),
		Environment: datatypes.JSON([]byte(`{"temp_f":61,"conditions":"clear"}`)),
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed snapshot: %v", err)
	}
	return s
}

func SeedPhaseRun(tb testing.TB, ctx context.Context, tx *gorm.DB, snapshotID uuid.UUID, phase, status string) *types.PhaseRun {
	tb.Helper()
	run := &types.PhaseRun{
		ID:         uuid.New(),
		SnapshotID: snapshotID,
		Phase:      phase,
		Status:     status,
	}
	if err := tx.WithContext(ctx).Create(run).Error; err != nil {
		tb.Fatalf("seed phase run %s/%s: %v", phase, status, err)
	}
	return run
}

func SeedPhaseResult(tb testing.TB, ctx context.Context, tx *gorm.DB, snapshotID uuid.UUID, phase string, output string) *types.PhaseResult {
	tb.Helper()
	res := &types.PhaseResult{
		ID:         uuid.New(),
		SnapshotID: snapshotID,
		Phase:      phase,
		Provider:   "openai",
		Model:      "gpt-5-mini",
		Output:     datatypes.JSON([]byte(output)),
	}
	if err := tx.WithContext(ctx).Create(res).Error; err != nil {
		tb.Fatalf("seed phase result %s: %v", phase, err)
	}
	return res
}
