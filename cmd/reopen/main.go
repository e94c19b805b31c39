package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/stagehand-app/stagehand-backend/internal/data/db"
	"github.com/stagehand-app/stagehand-backend/internal/data/repos"
	"github.com/stagehand-app/stagehand-backend/internal/pipeline"
	"github.com/stagehand-app/stagehand-backend/internal/platform/dbctx"
	"github.com/stagehand-app/stagehand-backend/internal/platform/envutil"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

type idList []string

func (l *idList) String() string { return strings.Join(*l, ",") }
func (l *idList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

// Reopens terminally failed phases so the workers pick them up again. Talks
// straight to the ledger; no provider credentials needed.
func main() {
	var snapshots idList
	var dryRun bool
	flag.Var(&snapshots, "snapshot", "snapshot id to reopen (repeatable)")
	flag.BoolVar(&dryRun, "dry-run", false, "list terminal phases without reopening them")
	flag.Parse()

	if len(snapshots) == 0 {
		fmt.Println("usage: reopen -snapshot <uuid> [-snapshot <uuid>] [-dry-run]")
		os.Exit(2)
	}

	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		fmt.Printf("init postgres: %v\n", err)
		os.Exit(1)
	}
	runs := repos.NewPhaseRunRepo(pg.DB(), log)
	dbc := dbctx.New(context.Background())

	for _, raw := range snapshots {
		snapshotID, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil || snapshotID == uuid.Nil {
			fmt.Printf("skipping invalid snapshot id %q\n", raw)
			continue
		}

		if dryRun {
			rows, err := runs.GetBySnapshot(dbc, snapshotID)
			if err != nil {
				fmt.Printf("%s: list phases: %v\n", snapshotID, err)
				continue
			}
			terminal := 0
			for _, run := range rows {
				if pipeline.TerminalFailure(run) {
					terminal++
					fmt.Printf("%s: %s terminal (%s: %s)\n", snapshotID, run.Phase, run.ErrorKind, run.Error)
				}
			}
			if terminal == 0 {
				fmt.Printf("%s: no terminal phases\n", snapshotID)
			}
			continue
		}

		reopened, err := runs.ReopenFailed(dbc, snapshotID)
		if err != nil {
			fmt.Printf("%s: reopen: %v\n", snapshotID, err)
			continue
		}
		fmt.Printf("%s: reopened %d phase(s)\n", snapshotID, reopened)
	}
}
