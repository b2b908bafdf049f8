package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// connPragmas tune the embedded database for a single writer journaling
// many small rows. Some of them return a row, so they go through QueryRow.
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// LibSQLStore is the run journal backed by an embedded libSQL file.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens the journal at dsn, a libSQL URL such as
// "file:/home/me/.nodeflow/nodeflow.db". Call Migrate before first use.
func NewLibSQLStore(dsn string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dsn, err)
	}
	// Sequence numbers are allocated inside a transaction; one connection
	// keeps appends for the same run strictly ordered.
	db.SetMaxOpenConns(1)
	for _, p := range connPragmas {
		var ignored string
		_ = db.QueryRow(p).Scan(&ignored)
	}
	return &LibSQLStore{db: db}, nil
}

func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate brings the journal schema up to date.
func (s *LibSQLStore) Migrate(ctx context.Context) error { return migrate(ctx, s.db) }

func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return journalErr("vacuum", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *LibSQLStore) inTx(ctx context.Context, what string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return journalErr(what, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return journalErr(what, err)
	}
	return nil
}

func missing(kind, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", kind, id)
}

func journalErr(what string, err error) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", what, err).WithCause(err)
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// Nullable column helpers. Empty strings and empty JSON are stored as NULL.

func optText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func optJSON(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func fromOptJSON(ns sql.NullString) json.RawMessage {
	if ns.Valid && ns.String != "" {
		return json.RawMessage(ns.String)
	}
	return nil
}
