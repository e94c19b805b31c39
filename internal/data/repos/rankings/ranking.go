package rankings

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type RankingRepo interface {
	CreateWithCandidates(dbc dbctx.Context, ranking *types.Ranking, candidates []*types.RankingCandidate) error
	GetBySnapshot(dbc dbctx.Context, snapshotID uuid.UUID) (*types.Ranking, []*types.RankingCandidate, error)
}

type rankingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRankingRepo(db *gorm.DB, baseLog *logger.Logger) RankingRepo {
	return &rankingRepo{
		db:  db,
		log: baseLog.With("repo", "RankingRepo"),
	}
}

// CreateWithCandidates writes the ranking and every candidate in one
// transaction. The unique index on snapshot_id turns a duplicate final
// write into a unique violation instead of a second ranking.
func (r *rankingRepo) CreateWithCandidates(dbc dbctx.Context, ranking *types.Ranking, candidates []*types.RankingCandidate) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if ranking == nil {
		return fmt.Errorf("ranking is nil")
	}
	return transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(ranking).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		for _, c := range candidates {
			c.RankingID = ranking.ID
		}
		return txx.Create(&candidates).Error
	})
}

func (r *rankingRepo) GetBySnapshot(dbc dbctx.Context, snapshotID uuid.UUID) (*types.Ranking, []*types.RankingCandidate, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snapshotID == uuid.Nil {
		return nil, nil, nil
	}
	var ranking types.Ranking
	err := transaction.WithContext(dbc.Ctx).
		Where("snapshot_id = ?", snapshotID).
		Limit(1).
		Find(&ranking).Error
	if err != nil {
		return nil, nil, err
	}
	if ranking.ID == uuid.Nil {
		return nil, nil, nil
	}
	var candidates []*types.RankingCandidate
	if err := transaction.WithContext(dbc.Ctx).
		Where("ranking_id = ?", ranking.ID).
		Order("rank ASC").
		Find(&candidates).Error; err != nil {
		return nil, nil, err
	}
	return &ranking, candidates, nil
}
