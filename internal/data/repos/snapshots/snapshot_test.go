package snapshots

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos/testutil"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
)

func TestSnapshotRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewSnapshotRepo(db, testutil.Logger(t))
	dev := testutil.SeedDevice(t, ctx, tx, "snap-repo")

	now := time.Now().UTC()
	first, err := repo.Create(dbc, &types.ContextSnapshot{
		DeviceID:   dev.ID,
		CapturedAt: now.Add(-2 * time.Hour),
		Lat:        37.77,
		Lng:        -122.41,
		TimeZone:   "America/Los_Angeles",
	})
	if err != nil {
		t.Fatalf("Create first: %v", err)
	}
	second, err := repo.Create(dbc, &types.ContextSnapshot{
		DeviceID:   dev.ID,
		CapturedAt: now.Add(-1 * time.Hour),
		Lat:        37.78,
		Lng:        -122.42,
	})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}

	got, err := repo.GetByID(dbc, first.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.ID != first.ID || got.Lat != 37.77 {
		t.Fatalf("GetByID: got %+v", got)
	}

	missing, err := repo.GetByID(dbc, uuid.New())
	if err != nil {
		t.Fatalf("GetByID missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("GetByID missing: expected nil, got %+v", missing)
	}

	list, err := repo.ListByDevice(dbc, dev.ID, 10)
	if err != nil {
		t.Fatalf("ListByDevice: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListByDevice: expected 2, got %d", len(list))
	}
	if list[0].ID != second.ID {
		t.Fatal("ListByDevice: newest snapshot should come first")
	}

	limited, err := repo.ListByDevice(dbc, dev.ID, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("ListByDevice limit: len=%d err=%v", len(limited), err)
	}
}
