package phases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos/testutil"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
)

func TestPhaseRunRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewPhaseRunRepo(db, testutil.Logger(t))
	resultRepo := NewPhaseResultRepo(db, testutil.Logger(t))

	dev := testutil.SeedDevice(t, ctx, tx, "lifecycle")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	created, err := repo.EnsurePending(dbc, snap.ID, []string{types.PhaseStrategist, types.PhaseBriefer})
	if err != nil {
		t.Fatalf("EnsurePending: %v", err)
	}
	if created != 2 {
		t.Fatalf("EnsurePending: expected 2 created, got %d", created)
	}

	// Second trigger must not duplicate rows.
	again, err := repo.EnsurePending(dbc, snap.ID, []string{types.PhaseStrategist, types.PhaseBriefer})
	if err != nil {
		t.Fatalf("EnsurePending again: %v", err)
	}
	if again != 0 {
		t.Fatalf("EnsurePending again: expected 0 created, got %d", again)
	}

	runs, err := repo.GetBySnapshot(dbc, snap.ID)
	if err != nil {
		t.Fatalf("GetBySnapshot: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("GetBySnapshot: expected 2 runs, got %d", len(runs))
	}

	strat, err := repo.GetBySnapshotAndPhase(dbc, snap.ID, types.PhaseStrategist)
	if err != nil || strat == nil {
		t.Fatalf("GetBySnapshotAndPhase: run=%v err=%v", strat, err)
	}
	if strat.Status != types.PhaseStatusPending {
		t.Fatalf("expected pending, got %s", strat.Status)
	}

	claimed, err := repo.ClaimByID(dbc, strat.ID)
	if err != nil {
		t.Fatalf("ClaimByID: %v", err)
	}
	if claimed == nil {
		t.Fatal("ClaimByID: expected claim to succeed")
	}
	if claimed.Status != types.PhaseStatusRunning || claimed.Attempts != 1 {
		t.Fatalf("ClaimByID: status=%s attempts=%d", claimed.Status, claimed.Attempts)
	}
	if claimed.ClaimedAt == nil || claimed.HeartbeatAt == nil {
		t.Fatal("ClaimByID: claim timestamps not set")
	}

	// A second claim on the same run must lose.
	second, err := repo.ClaimByID(dbc, strat.ID)
	if err != nil {
		t.Fatalf("ClaimByID second: %v", err)
	}
	if second != nil {
		t.Fatalf("ClaimByID second: expected nil, got %+v", second)
	}

	if err := repo.Heartbeat(dbc, strat.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	res, err := resultRepo.Create(dbc, &types.PhaseResult{
		SnapshotID: snap.ID,
		Phase:      types.PhaseStrategist,
		Provider:   "openai",
		Model:      "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("result Create: %v", err)
	}

	won, err := repo.MarkOk(dbc, strat.ID, res.ID)
	if err != nil {
		t.Fatalf("MarkOk: %v", err)
	}
	if !won {
		t.Fatal("MarkOk: expected to win")
	}
	wonAgain, err := repo.MarkOk(dbc, strat.ID, res.ID)
	if err != nil {
		t.Fatalf("MarkOk again: %v", err)
	}
	if wonAgain {
		t.Fatal("MarkOk again: completed run must reject further transitions")
	}

	final, err := repo.GetByID(dbc, strat.ID)
	if err != nil || final == nil {
		t.Fatalf("GetByID: run=%v err=%v", final, err)
	}
	if final.Status != types.PhaseStatusOk {
		t.Fatalf("expected ok, got %s", final.Status)
	}
	if final.ResultID == nil || *final.ResultID != res.ID {
		t.Fatalf("result_id not recorded: %v", final.ResultID)
	}
	if final.NextRetryAt != nil || final.HeartbeatAt != nil {
		t.Fatal("MarkOk must clear retry and heartbeat timestamps")
	}
}

func TestPhaseRunRepoFailureAndRetry(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewPhaseRunRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "retry")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	if _, err := repo.EnsurePending(dbc, snap.ID, []string{types.PhaseBriefer}); err != nil {
		t.Fatalf("EnsurePending: %v", err)
	}
	run, err := repo.GetBySnapshotAndPhase(dbc, snap.ID, types.PhaseBriefer)
	if err != nil || run == nil {
		t.Fatalf("GetBySnapshotAndPhase: run=%v err=%v", run, err)
	}

	claimed, err := repo.ClaimByID(dbc, run.ID)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimByID: run=%v err=%v", claimed, err)
	}

	retryAt := time.Now().Add(30 * time.Second)
	won, err := repo.MarkFailed(dbc, run.ID, "timeout", "provider deadline exceeded", &retryAt)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if !won {
		t.Fatal("MarkFailed: expected to win")
	}

	failed, err := repo.GetByID(dbc, run.ID)
	if err != nil || failed == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.Status != types.PhaseStatusFailed || failed.ErrorKind != "timeout" {
		t.Fatalf("status=%s kind=%s", failed.Status, failed.ErrorKind)
	}
	if failed.NextRetryAt == nil || failed.LastErrorAt == nil {
		t.Fatal("failure timestamps not recorded")
	}

	// Backoff has not elapsed, so the run must stay failed and unclaimable.
	n, err := repo.RequeueRetryable(dbc, 5)
	if err != nil {
		t.Fatalf("RequeueRetryable: %v", err)
	}
	if n != 0 {
		t.Fatalf("RequeueRetryable: expected 0 before backoff elapses, got %d", n)
	}
	if c, err := repo.ClaimByID(dbc, run.ID); err != nil || c != nil {
		t.Fatalf("failed run must not be claimable: claim=%v err=%v", c, err)
	}

	past := time.Now().Add(-1 * time.Second)
	if err := tx.Model(&types.PhaseRun{}).Where("id = ?", run.ID).
		Update("next_retry_at", past).Error; err != nil {
		t.Fatalf("age next_retry_at: %v", err)
	}

	n, err = repo.RequeueRetryable(dbc, 5)
	if err != nil {
		t.Fatalf("RequeueRetryable elapsed: %v", err)
	}
	if n != 1 {
		t.Fatalf("RequeueRetryable elapsed: expected 1, got %d", n)
	}

	reclaimed, err := repo.ClaimByID(dbc, run.ID)
	if err != nil || reclaimed == nil {
		t.Fatalf("ClaimByID after requeue: run=%v err=%v", reclaimed, err)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("attempts should accumulate across retries, got %d", reclaimed.Attempts)
	}

	// Spent attempt budget keeps the run failed even after the backoff.
	exhaustedAt := time.Now().Add(-1 * time.Second)
	if _, err := repo.MarkFailed(dbc, run.ID, "rate_limited", "429", &exhaustedAt); err != nil {
		t.Fatalf("MarkFailed exhausted: %v", err)
	}
	n, err = repo.RequeueRetryable(dbc, 2)
	if err != nil {
		t.Fatalf("RequeueRetryable exhausted: %v", err)
	}
	if n != 0 {
		t.Fatalf("RequeueRetryable exhausted: expected 0, got %d", n)
	}

	// Operator reset clears the budget and reopens the run.
	reopened, err := repo.ReopenFailed(dbc, snap.ID)
	if err != nil {
		t.Fatalf("ReopenFailed: %v", err)
	}
	if reopened != 1 {
		t.Fatalf("ReopenFailed: expected 1, got %d", reopened)
	}
	fresh, err := repo.GetByID(dbc, run.ID)
	if err != nil || fresh == nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if fresh.Status != types.PhaseStatusPending || fresh.Attempts != 0 || fresh.Error != "" {
		t.Fatalf("reopen did not reset run: %+v", fresh)
	}
}

func TestPhaseRunRepoReclaimStale(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewPhaseRunRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "stale")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	if _, err := repo.EnsurePending(dbc, snap.ID, []string{types.PhaseStrategist}); err != nil {
		t.Fatalf("EnsurePending: %v", err)
	}
	run, err := repo.GetBySnapshotAndPhase(dbc, snap.ID, types.PhaseStrategist)
	if err != nil || run == nil {
		t.Fatalf("GetBySnapshotAndPhase: %v", err)
	}
	if _, err := repo.ClaimByID(dbc, run.ID); err != nil {
		t.Fatalf("ClaimByID: %v", err)
	}

	// Live heartbeat: nothing to reclaim.
	n, err := repo.ReclaimStale(dbc, 30*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale: %v", err)
	}
	if n != 0 {
		t.Fatalf("ReclaimStale live: expected 0, got %d", n)
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := tx.Model(&types.PhaseRun{}).Where("id = ?", run.ID).
		Update("heartbeat_at", old).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	n, err = repo.ReclaimStale(dbc, 30*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReclaimStale stale: expected 1, got %d", n)
	}
	back, err := repo.GetByID(dbc, run.ID)
	if err != nil || back == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if back.Status != types.PhaseStatusPending || back.HeartbeatAt != nil {
		t.Fatalf("stale claim not voided: %+v", back)
	}
	// The interrupted attempt stays spent.
	if back.Attempts != 1 {
		t.Fatalf("attempts should survive reclaim, got %d", back.Attempts)
	}
}

func TestPhaseRunRepoYieldToQueue(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewPhaseRunRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "yield")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	if _, err := repo.EnsurePending(dbc, snap.ID, []string{types.PhaseConsolidator}); err != nil {
		t.Fatalf("EnsurePending: %v", err)
	}
	run, err := repo.GetBySnapshotAndPhase(dbc, snap.ID, types.PhaseConsolidator)
	if err != nil || run == nil {
		t.Fatalf("GetBySnapshotAndPhase: %v", err)
	}
	claimed, err := repo.ClaimByID(dbc, run.ID)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimByID: run=%v err=%v", claimed, err)
	}

	retryAt := time.Now().Add(5 * time.Second)
	won, err := repo.YieldToQueue(dbc, run.ID, &retryAt)
	if err != nil {
		t.Fatalf("YieldToQueue: %v", err)
	}
	if !won {
		t.Fatal("YieldToQueue: expected to win")
	}

	back, err := repo.GetByID(dbc, run.ID)
	if err != nil || back == nil {
		t.Fatalf("GetByID: %v", err)
	}
	if back.Status != types.PhaseStatusPending {
		t.Fatalf("expected pending after yield, got %s", back.Status)
	}
	if back.Attempts != 0 {
		t.Fatalf("yield must refund the claim attempt, got %d", back.Attempts)
	}
	if back.NextRetryAt == nil {
		t.Fatal("yield should defer the next pickup")
	}
	if back.ClaimedAt != nil || back.HeartbeatAt != nil {
		t.Fatal("yield must clear claim timestamps")
	}

	// Yield on a run nobody holds is a no-op.
	won, err = repo.YieldToQueue(dbc, run.ID, nil)
	if err != nil {
		t.Fatalf("YieldToQueue idle: %v", err)
	}
	if won {
		t.Fatal("YieldToQueue idle: expected no-op")
	}
}

func TestPhaseRunRepoClaimNextRunnableOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewPhaseRunRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "order")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	now := time.Now().UTC()
	oldRun := testutil.SeedPhaseRun(t, ctx, tx, snap.ID, types.PhaseStrategist, types.PhaseStatusPending)
	newRun := testutil.SeedPhaseRun(t, ctx, tx, snap.ID, types.PhaseBriefer, types.PhaseStatusPending)
	deferred := testutil.SeedPhaseRun(t, ctx, tx, snap.ID, types.PhaseConsolidator, types.PhaseStatusPending)

	if err := tx.Model(&types.PhaseRun{}).Where("id = ?", oldRun.ID).
		Update("created_at", now.Add(-2*time.Hour)).Error; err != nil {
		t.Fatalf("age old run: %v", err)
	}
	if err := tx.Model(&types.PhaseRun{}).Where("id = ?", newRun.ID).
		Update("created_at", now.Add(-1*time.Hour)).Error; err != nil {
		t.Fatalf("age new run: %v", err)
	}
	if err := tx.Model(&types.PhaseRun{}).Where("id = ?", deferred.ID).
		Update("next_retry_at", now.Add(1*time.Hour)).Error; err != nil {
		t.Fatalf("defer run: %v", err)
	}

	first, err := repo.ClaimNextRunnable(dbc)
	if err != nil || first == nil {
		t.Fatalf("ClaimNextRunnable #1: run=%v err=%v", first, err)
	}
	if first.ID != oldRun.ID {
		t.Fatalf("ClaimNextRunnable #1: expected oldest, got %v", first.Phase)
	}
	if first.Status != types.PhaseStatusRunning || first.Attempts != 1 {
		t.Fatalf("claimed run not updated in memory: %+v", first)
	}

	secondClaim, err := repo.ClaimNextRunnable(dbc)
	if err != nil || secondClaim == nil {
		t.Fatalf("ClaimNextRunnable #2: run=%v err=%v", secondClaim, err)
	}
	if secondClaim.ID != newRun.ID {
		t.Fatalf("ClaimNextRunnable #2: expected %v, got %v", newRun.ID, secondClaim.ID)
	}

	// The deferred run is not yet eligible.
	third, err := repo.ClaimNextRunnable(dbc)
	if err != nil {
		t.Fatalf("ClaimNextRunnable #3: %v", err)
	}
	if third != nil {
		t.Fatalf("ClaimNextRunnable #3: expected nil, got %+v", third)
	}
}

// TestPhaseRunRepoClaimRace exercises the claim against the shared pool
// rather than the per-test transaction so claims land on separate
// connections.
func TestPhaseRunRepoClaimRace(t *testing.T) {
	db := testutil.DB(t)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx}

	repo := NewPhaseRunRepo(db, testutil.Logger(t))

	dev := &types.Device{ID: uuid.New(), Name: "race", SecretHash: "x"}
	if err := db.WithContext(ctx).Create(dev).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}
	snap := &types.ContextSnapshot{
		ID:         uuid.New(),
		DeviceID:   dev.ID,
		CapturedAt: time.Now().UTC(),
		Lat:        37.7749,
		Lng:        -122.4194,
	}
	if err := db.WithContext(ctx).Create(snap).Error; err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	t.Cleanup(func() {
		db.Where("snapshot_id = ?", snap.ID).Delete(&types.PhaseRun{})
		db.Where("id = ?", snap.ID).Delete(&types.ContextSnapshot{})
		db.Where("id = ?", dev.ID).Delete(&types.Device{})
	})

	if _, err := repo.EnsurePending(dbc, snap.ID, []string{types.PhaseStrategist}); err != nil {
		t.Fatalf("EnsurePending: %v", err)
	}
	run, err := repo.GetBySnapshotAndPhase(dbc, snap.ID, types.PhaseStrategist)
	if err != nil || run == nil {
		t.Fatalf("GetBySnapshotAndPhase: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan uuid.UUID, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimByID(dbc, run.ID)
			if err != nil {
				t.Errorf("ClaimByID: %v", err)
				return
			}
			if claimed != nil {
				wins <- claimed.ID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", winners)
	}
}
