package rankings

import (
	"context"
	"testing"

	"github.com/stagehand-app/stagehand-backend/internal/data/pgerr"
	"github.com/stagehand-app/stagehand-backend/internal/data/repos/testutil"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
)

func TestRankingRepoCreateAndRead(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewRankingRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "ranking")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	ranking := &types.Ranking{
		SnapshotID:         snap.ID,
		Summary:            "airport queue strong, downtown soft",
		AssumedRate:        24,
		AssumedTripMinutes: 20,
		MinValuePerMinute:  0.5,
	}
	candidates := []*types.RankingCandidate{
		{Rank: 1, Name: "SFO Cell Lot", Lat: 37.62, Lng: -122.39, DriveMinutes: 14, WaitMinutes: 9, TripMinutes: 22, ValuePerMinute: 0.82},
		{Rank: 2, Name: "Mission Bars", Lat: 37.76, Lng: -122.42, DriveMinutes: 6, WaitMinutes: 18, TripMinutes: 12, ValuePerMinute: 0.61},
		{Rank: 3, Name: "Outer Sunset", Lat: 37.75, Lng: -122.49, DriveMinutes: 19, WaitMinutes: 25, TripMinutes: 15, ValuePerMinute: 0.31, NotWorth: true},
	}
	if err := repo.CreateWithCandidates(dbc, ranking, candidates); err != nil {
		t.Fatalf("CreateWithCandidates: %v", err)
	}

	got, gotCands, err := repo.GetBySnapshot(dbc, snap.ID)
	if err != nil {
		t.Fatalf("GetBySnapshot: %v", err)
	}
	if got == nil || got.ID != ranking.ID {
		t.Fatalf("GetBySnapshot: got %+v", got)
	}
	if len(gotCands) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(gotCands))
	}
	for i, c := range gotCands {
		if c.Rank != i+1 {
			t.Fatalf("candidates out of order: index %d has rank %d", i, c.Rank)
		}
		if c.RankingID != ranking.ID {
			t.Fatalf("candidate %d not linked to ranking", i)
		}
	}
	if !gotCands[2].NotWorth {
		t.Fatal("below-floor candidate must keep its not_worth flag")
	}
}

func TestRankingRepoSecondWriteConflicts(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewRankingRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "conflict")
	snap := testutil.SeedSnapshot(t, ctx, tx, dev.ID)

	first := &types.Ranking{SnapshotID: snap.ID, AssumedRate: 24, AssumedTripMinutes: 20, MinValuePerMinute: 0.5}
	if err := repo.CreateWithCandidates(dbc, first, []*types.RankingCandidate{
		{Rank: 1, Name: "Winner", ValuePerMinute: 0.9},
	}); err != nil {
		t.Fatalf("first CreateWithCandidates: %v", err)
	}

	dupe := &types.Ranking{SnapshotID: snap.ID, AssumedRate: 24, AssumedTripMinutes: 20, MinValuePerMinute: 0.5}
	err := repo.CreateWithCandidates(dbc, dupe, []*types.RankingCandidate{
		{Rank: 1, Name: "Loser", ValuePerMinute: 0.1},
	})
	if err == nil {
		t.Fatal("second ranking for the same snapshot must fail")
	}
	if !pgerr.IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	// The losing write must leave no trace.
	got, cands, err := repo.GetBySnapshot(dbc, snap.ID)
	if err != nil {
		t.Fatalf("GetBySnapshot: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("surviving ranking changed: %v", got.ID)
	}
	if len(cands) != 1 || cands[0].Name != "Winner" {
		t.Fatalf("candidates polluted by losing write: %+v", cands)
	}
}
