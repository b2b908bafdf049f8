package store

import (
	"context"
	"database/sql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// AppendEvent journals event under the next sequence number of its run and
// fills in Sequence, ID and a missing Timestamp.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	return s.inTx(ctx, "append event", func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
		).Scan(&next); err != nil {
			return journalErr("next sequence for "+event.RunID, err)
		}

		ts := nowIfZero(event.Timestamp)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO run_events (run_id, node_id, event_type, payload, timestamp, sequence) VALUES (?, ?, ?, ?, ?, ?)`,
			event.RunID, optText(event.NodeID), string(event.Type), optJSON(event.Payload), ts, next)
		if err != nil {
			return journalErr("append event", err)
		}

		event.Sequence = next
		event.Timestamp = ts
		if id, err := res.LastInsertId(); err == nil {
			event.ID = id
		}
		return nil
	})
}

// GetEvents returns a run's events after sequence since, oldest first.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since)
	if err != nil {
		return nil, journalErr("events of "+runID, err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, journalErr("events of "+runID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, journalErr("events of "+runID, err)
	}
	return out, nil
}

func scanEvent(sc scanner) (*Event, error) {
	var (
		e             Event
		node, payload sql.NullString
		kind          string
	)
	if err := sc.Scan(&e.ID, &e.RunID, &node, &kind, &payload, &e.Timestamp, &e.Sequence); err != nil {
		return nil, err
	}
	e.NodeID = node.String
	e.Type = schema.EventType(kind)
	e.Payload = fromOptJSON(payload)
	return &e, nil
}
