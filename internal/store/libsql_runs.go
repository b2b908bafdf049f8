package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

const selectRun = `SELECT id, source, status, graph, node_count, results, error,
	created_at, completed_at, duration_ms FROM runs`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is empty")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.CreatedAt = nowIfZero(run.CreatedAt)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, status, graph, node_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, string(run.Status), optJSON(run.Graph), run.NodeCount, run.CreatedAt)
	if err != nil {
		return journalErr("create run "+run.ID, err)
	}
	return nil
}

// FinishRun records the terminal state of a run. The duration is measured
// from the stored creation time, not from the caller's clock.
func (s *LibSQLStore) FinishRun(ctx context.Context, id string, outcome RunOutcome) error {
	return s.inTx(ctx, "finish run "+id, func(tx *sql.Tx) error {
		var created time.Time
		switch err := tx.QueryRowContext(ctx, `SELECT created_at FROM runs WHERE id = ?`, id).Scan(&created); {
		case errors.Is(err, sql.ErrNoRows):
			return missing("run", id)
		case err != nil:
			return journalErr("finish run "+id, err)
		}

		done := nowIfZero(outcome.CompletedAt)
		if _, err := tx.ExecContext(ctx,
			`UPDATE runs SET status = ?, results = ?, error = ?, completed_at = ?, duration_ms = ? WHERE id = ?`,
			string(outcome.Status), optJSON(outcome.Results), optJSON(outcome.Error), done,
			done.Sub(created).Milliseconds(), id); err != nil {
			return journalErr("finish run "+id, err)
		}
		return nil
	})
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, missing("run", id)
	case err != nil:
		return nil, journalErr("get run "+id, err)
	}
	return run, nil
}

// runQuery renders a RunFilter as a WHERE clause plus paging.
func runQuery(f RunFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.Since)
	}

	var b strings.Builder
	b.WriteString(selectRun)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, f.Limit, max(f.Offset, 0))
	}
	return b.String(), args
}

// ListRuns returns matching runs, newest first.
func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query, args := runQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, journalErr("list runs", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, journalErr("list runs", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, journalErr("list runs", err)
	}
	return out, nil
}

// DeleteRunsBefore prunes runs created before cutoff together with their
// journaled events, returning how many runs were removed.
func (s *LibSQLStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	err := s.inTx(ctx, "prune runs", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM run_events WHERE run_id IN (SELECT id FROM runs WHERE created_at < ?)`, cutoff); err != nil {
			return journalErr("prune run events", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff)
		if err != nil {
			return journalErr("prune runs", err)
		}
		pruned, err = res.RowsAffected()
		if err != nil {
			return journalErr("prune runs", err)
		}
		return nil
	})
	return pruned, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r                      Run
		status                 string
		graph, results, errCol sql.NullString
		completed              sql.NullTime
	)
	err := sc.Scan(&r.ID, &r.Source, &status, &graph, &r.NodeCount, &results, &errCol,
		&r.CreatedAt, &completed, &r.DurationMs)
	if err != nil {
		return nil, err
	}
	r.Status = RunStatus(status)
	r.Graph = fromOptJSON(graph)
	r.Results = fromOptJSON(results)
	r.Error = fromOptJSON(errCol)
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	return &r, nil
}
