package app

import (
	"gorm.io/gorm"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type Repos struct {
	Devices      repos.DeviceRepo
	Snapshots    repos.SnapshotRepo
	PhaseRuns    repos.PhaseRunRepo
	PhaseResults repos.PhaseResultRepo
	Rankings     repos.RankingRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Devices:      repos.NewDeviceRepo(db, log),
		Snapshots:    repos.NewSnapshotRepo(db, log),
		PhaseRuns:    repos.NewPhaseRunRepo(db, log),
		PhaseResults: repos.NewPhaseResultRepo(db, log),
		Rankings:     repos.NewRankingRepo(db, log),
	}
}
