package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Pairing / auth
		&types.Device{},

		// Immutable input
		&types.ContextSnapshot{},

		// Pipeline ledger
		&types.PhaseRun{},
		&types.PhaseResult{},

		// Final product
		&types.Ranking{},
		&types.RankingCandidate{},
	)
}

// EnsureForeignKeys wires the cascade chain by hand since gorm migration
// runs with FK generation disabled. Deleting a snapshot takes its phase
// runs, results, ranking, and candidates with it.
func EnsureForeignKeys(db *gorm.DB) error {
	type fk struct {
		table, name, column, refTable, refColumn string
	}
	fks := []fk{
		{"context_snapshot", "fk_context_snapshot_device", "device_id", "device", "id"},
		{"phase_run", "fk_phase_run_snapshot", "snapshot_id", "context_snapshot", "id"},
		{"phase_result", "fk_phase_result_snapshot", "snapshot_id", "context_snapshot", "id"},
		{"ranking", "fk_ranking_snapshot", "snapshot_id", "context_snapshot", "id"},
		{"ranking_candidate", "fk_ranking_candidate_ranking", "ranking_id", "ranking", "id"},
	}
	for _, f := range fks {
		drop := fmt.Sprintf(`ALTER TABLE %q DROP CONSTRAINT IF EXISTS %q;`, f.table, f.name)
		if err := db.Exec(drop).Error; err != nil {
			return fmt.Errorf("drop %s: %w", f.name, err)
		}
		add := fmt.Sprintf(
			`ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY (%q) REFERENCES %q(%q) ON DELETE CASCADE;`,
			f.table, f.name, f.column, f.refTable, f.refColumn,
		)
		if err := db.Exec(add).Error; err != nil {
			return fmt.Errorf("add %s: %w", f.name, err)
		}
	}
	return nil
}

// EnsureLedgerIndexes adds the partial indexes the claim query leans on.
func EnsureLedgerIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_phase_run_claimable
		 ON phase_run(next_retry_at)
		 WHERE status IN ('pending', 'failed');`,
		`CREATE INDEX IF NOT EXISTS idx_phase_run_running_heartbeat
		 ON phase_run(heartbeat_at)
		 WHERE status = 'running';`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure ledger index: %w", err)
		}
	}
	return nil
}
