package phases

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

// PhaseRunRepo owns the pipeline ledger. Every status transition is a
// conditional update that reports whether it won, so callers can lose a race
// and treat it as a no-op. The ledger is the source of truth; notifications
// are only hints.
type PhaseRunRepo interface {
	EnsurePending(dbc dbctx.Context, snapshotID uuid.UUID, phases []string) (int64, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PhaseRun, error)
	GetBySnapshot(dbc dbctx.Context, snapshotID uuid.UUID) ([]*types.PhaseRun, error)
	GetBySnapshotAndPhase(dbc dbctx.Context, snapshotID uuid.UUID, phase string) (*types.PhaseRun, error)
	ClaimByID(dbc dbctx.Context, id uuid.UUID) (*types.PhaseRun, error)
	ClaimNextRunnable(dbc dbctx.Context) (*types.PhaseRun, error)
	YieldToQueue(dbc dbctx.Context, id uuid.UUID, retryAt *time.Time) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	MarkOk(dbc dbctx.Context, id uuid.UUID, resultID uuid.UUID) (bool, error)
	MarkFailed(dbc dbctx.Context, id uuid.UUID, errorKind, errorMsg string, nextRetryAt *time.Time) (bool, error)
	RequeueRetryable(dbc dbctx.Context, maxAttempts int) (int64, error)
	ReclaimStale(dbc dbctx.Context, staleAfter time.Duration) (int64, error)
	ReopenFailed(dbc dbctx.Context, snapshotID uuid.UUID) (int64, error)
	CountByStatus(dbc dbctx.Context) (map[string]int64, error)
}

type phaseRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPhaseRunRepo(db *gorm.DB, baseLog *logger.Logger) PhaseRunRepo {
	return &phaseRunRepo{
		db:  db,
		log: baseLog.With("repo", "PhaseRunRepo"),
	}
}

// EnsurePending inserts pending runs for the given phases, skipping any
// (snapshot_id, phase) pair that already exists. The unique index makes this
// safe under concurrent triggers; the return value is how many rows this
// caller actually created.
func (r *phaseRunRepo) EnsurePending(dbc dbctx.Context, snapshotID uuid.UUID, phaseNames []string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snapshotID == uuid.Nil || len(phaseNames) == 0 {
		return 0, nil
	}
	runs := make([]*types.PhaseRun, 0, len(phaseNames))
	for _, name := range phaseNames {
		runs = append(runs, &types.PhaseRun{
			SnapshotID: snapshotID,
			Phase:      name,
			Status:     types.PhaseStatusPending,
		})
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "snapshot_id"}, {Name: "phase"}},
			DoNothing: true,
		}).
		Create(&runs)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *phaseRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.PhaseRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.PhaseRun
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *phaseRunRepo) GetBySnapshot(dbc dbctx.Context, snapshotID uuid.UUID) ([]*types.PhaseRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PhaseRun
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

func (r *phaseRunRepo) GetBySnapshotAndPhase(dbc dbctx.Context, snapshotID uuid.UUID, phase string) (*types.PhaseRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snapshotID == uuid.Nil || phase == "" {
		return nil, nil
	}
	var run types.PhaseRun
	err := transaction.WithContext(dbc.Ctx).
		Where("snapshot_id = ? AND phase = ?", snapshotID, phase).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

// ClaimByID is the claim protocol: one conditional update from pending to
// running. RowsAffected zero means another worker got there first (or the
// run is not eligible yet) and the caller must walk away.
func (r *phaseRunRepo) ClaimByID(dbc dbctx.Context, id uuid.UUID) (*types.PhaseRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("id = ? AND status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			id, types.PhaseStatusPending, now).
		Updates(map[string]interface{}{
			"status":       types.PhaseStatusRunning,
			"attempts":     gorm.Expr("attempts + 1"),
			"claimed_at":   now,
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(dbc, id)
}

// ClaimNextRunnable picks the oldest eligible pending run under
// FOR UPDATE SKIP LOCKED and claims it. This is the poll-loop entry used by
// the worker for recovery; directed execution goes through ClaimByID.
func (r *phaseRunRepo) ClaimNextRunnable(dbc dbctx.Context) (*types.PhaseRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	var claimed *types.PhaseRun
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var run types.PhaseRun
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
				types.PhaseStatusPending, now).
			Order("created_at ASC").
			First(&run).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.PhaseRun{}).
			Where("id = ?", run.ID).
			Updates(map[string]interface{}{
				"status":       types.PhaseStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"claimed_at":   now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		run.Status = types.PhaseStatusRunning
		run.Attempts++
		run.ClaimedAt = &now
		run.HeartbeatAt = &now
		claimed = &run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// YieldToQueue releases a claim without burning the attempt: the run goes
// back to pending and the claim increment is refunded. Used when a worker
// claims a run whose prerequisites are still in flight.
func (r *phaseRunRepo) YieldToQueue(dbc dbctx.Context, id uuid.UUID, retryAt *time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("id = ? AND status = ?", id, types.PhaseStatusRunning).
		Updates(map[string]interface{}{
			"status":        types.PhaseStatusPending,
			"attempts":      gorm.Expr("GREATEST(attempts - 1, 0)"),
			"next_retry_at": retryAt,
			"claimed_at":    nil,
			"heartbeat_at":  nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *phaseRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("id = ? AND status = ?", id, types.PhaseStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// MarkOk completes a run. Only the holder of a running claim can do this;
// anyone else reports false and must discard their work.
func (r *phaseRunRepo) MarkOk(dbc dbctx.Context, id uuid.UUID, resultID uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("id = ? AND status = ?", id, types.PhaseStatusRunning).
		Updates(map[string]interface{}{
			"status":        types.PhaseStatusOk,
			"result_id":     resultID,
			"error":         "",
			"error_kind":    "",
			"next_retry_at": nil,
			"heartbeat_at":  nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed records a failure. A nil nextRetryAt means the failure is
// terminal; otherwise RequeueRetryable flips the run back to pending once
// the retry time passes.
func (r *phaseRunRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, errorKind, errorMsg string, nextRetryAt *time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("id = ? AND status = ?", id, types.PhaseStatusRunning).
		Updates(map[string]interface{}{
			"status":        types.PhaseStatusFailed,
			"error":         errorMsg,
			"error_kind":    errorKind,
			"last_error_at": now,
			"next_retry_at": nextRetryAt,
			"heartbeat_at":  nil,
			"claimed_at":    nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// RequeueRetryable is the recorded failed-to-pending transition for runs
// whose backoff has elapsed and whose attempt budget is not spent.
func (r *phaseRunRepo) RequeueRetryable(dbc dbctx.Context, maxAttempts int) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("status = ? AND attempts < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			types.PhaseStatusFailed, maxAttempts, now).
		Updates(map[string]interface{}{
			"status":     types.PhaseStatusPending,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ReclaimStale returns crashed claims to the queue. A running run whose
// heartbeat is older than staleAfter has no live owner; its claim is void.
func (r *phaseRunRepo) ReclaimStale(dbc dbctx.Context, staleAfter time.Duration) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	cutoff := now.Add(-staleAfter)
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
			types.PhaseStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":       types.PhaseStatusPending,
			"heartbeat_at": nil,
			"claimed_at":   nil,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ReopenFailed resets terminally failed runs for a snapshot so an operator
// can rerun them with a fresh attempt budget.
func (r *phaseRunRepo) ReopenFailed(dbc dbctx.Context, snapshotID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if snapshotID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Where("snapshot_id = ? AND status = ?", snapshotID, types.PhaseStatusFailed).
		Updates(map[string]interface{}{
			"status":        types.PhaseStatusPending,
			"attempts":      0,
			"error":         "",
			"error_kind":    "",
			"next_retry_at": nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *phaseRunRepo) CountByStatus(dbc dbctx.Context) (map[string]int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var rows []struct {
		Status string
		N      int64
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.PhaseRun{}).
		Select("status, count(*) AS n").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
