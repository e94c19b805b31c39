package repos

import (
	"gorm.io/gorm"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos/devices"
	"github.com/stagehand-app/stagehand-backend/internal/data/repos/phases"
	"github.com/stagehand-app/stagehand-backend/internal/data/repos/rankings"
	"github.com/stagehand-app/stagehand-backend/internal/data/repos/snapshots"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type DeviceRepo = devices.DeviceRepo
type SnapshotRepo = snapshots.SnapshotRepo
type PhaseRunRepo = phases.PhaseRunRepo
type PhaseResultRepo = phases.PhaseResultRepo
type RankingRepo = rankings.RankingRepo

func NewDeviceRepo(db *gorm.DB, baseLog *logger.Logger) DeviceRepo {
	return devices.NewDeviceRepo(db, baseLog)
}

func NewSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) SnapshotRepo {
	return snapshots.NewSnapshotRepo(db, baseLog)
}

func NewPhaseRunRepo(db *gorm.DB, baseLog *logger.Logger) PhaseRunRepo {
	return phases.NewPhaseRunRepo(db, baseLog)
}

func NewPhaseResultRepo(db *gorm.DB, baseLog *logger.Logger) PhaseResultRepo {
	return phases.NewPhaseResultRepo(db, baseLog)
}

func NewRankingRepo(db *gorm.DB, baseLog *logger.Logger) RankingRepo {
	return rankings.NewRankingRepo(db, baseLog)
}
