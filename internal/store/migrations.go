package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one schema step. Statements run in a single transaction, in
// order; versions are applied ascending and never re-run.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "run_journal",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS runs (
				id           TEXT PRIMARY KEY,
				source       TEXT NOT NULL DEFAULT '',
				status       TEXT NOT NULL,
				graph        TEXT,
				node_count   INTEGER NOT NULL DEFAULT 0,
				results      TEXT,
				error        TEXT,
				created_at   TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				duration_ms  INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
			`CREATE TABLE IF NOT EXISTS run_events (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				node_id    TEXT,
				event_type TEXT NOT NULL,
				payload    TEXT,
				timestamp  TIMESTAMP NOT NULL,
				sequence   INTEGER NOT NULL,
				UNIQUE (run_id, sequence)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_run_events_node ON run_events(run_id, node_id)`,
		},
	},
	{
		version: 2,
		name:    "runs_source_index",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source, created_at)`,
		},
	},
}

const journalVersionTable = `CREATE TABLE IF NOT EXISTS journal_version (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, journalVersionTable); err != nil {
		return 0, fmt.Errorf("create journal_version: %w", err)
	}
	var v int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM journal_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read journal_version: %w", err)
	}
	return v, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	applied, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version > applied {
			if err := m.apply(ctx, db); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
	}
	return nil
}

func (m migration) apply(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal_version (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
