package devices

import (
	"context"
	"testing"

	"github.com/stagehand-app/stagehand-backend/internal/data/repos/testutil"
	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
)

func TestDeviceRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}

	repo := NewDeviceRepo(db, testutil.Logger(t))

	created, err := repo.Create(dbc, &types.Device{
		Name:       "pixel-night-shift",
		SecretHash: "$2a$10$abcdefghijklmnopqrstuv",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(dbc, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Name != "pixel-night-shift" {
		t.Fatalf("GetByID: got %+v", got)
	}
	if got.LastSeenAt != nil {
		t.Fatal("fresh device should have no last_seen_at")
	}

	if err := repo.TouchLastSeen(dbc, created.ID); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	touched, err := repo.GetByID(dbc, created.ID)
	if err != nil || touched == nil {
		t.Fatalf("GetByID after touch: %v", err)
	}
	if touched.LastSeenAt == nil {
		t.Fatal("TouchLastSeen did not record a timestamp")
	}
}
