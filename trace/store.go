package trace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS frame_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run       TEXT    NOT NULL,
	seq       INTEGER NOT NULL,
	stack     TEXT    NOT NULL,
	kind      TEXT    NOT NULL,
	frame_kind TEXT   NOT NULL,
	capacity  INTEGER NOT NULL,
	bump_off  INTEGER NOT NULL,
	depth     INTEGER NOT NULL,
	at_unixns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS frame_events_run ON frame_events(run, seq);
`

// Store persists events in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the trace database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	// SQLite allows one writer; keep a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: create schema in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Write stores events under the given run name in one transaction.
func (s *Store) Write(ctx context.Context, run string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("trace: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO frame_events
		(run, seq, stack, kind, frame_kind, capacity, bump_off, depth, at_unixns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("trace: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, run, e.Seq, e.Stack, string(e.Kind), e.Frame,
			e.Capacity, e.Offset, e.Depth, e.At.UnixNano()); err != nil {
			return fmt.Errorf("trace: insert event %d: %w", e.Seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("trace: commit: %w", err)
	}
	return nil
}

// Flush drains r and writes its events under run.
func (s *Store) Flush(ctx context.Context, run string, r *Recorder) (int, error) {
	events := r.Drain()
	if err := s.Write(ctx, run, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Summary aggregates one run.
type Summary struct {
	Run       string
	Events    int
	Frames    int // enter events
	Overflows int
	MaxDepth  int
	MaxOffset int
}

// Runs lists the stored run names, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run FROM frame_events GROUP BY run ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("trace: list runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var run string
		if err := rows.Scan(&run); err != nil {
			return nil, fmt.Errorf("trace: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Summarize aggregates the events of run.
func (s *Store) Summarize(ctx context.Context, run string) (*Summary, error) {
	sum := &Summary{Run: run}
	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(kind = 'enter'), 0),
			COALESCE(SUM(kind = 'overflow'), 0),
			COALESCE(MAX(depth), 0),
			COALESCE(MAX(bump_off), 0)
		FROM frame_events WHERE run = ?`, run).
		Scan(&sum.Events, &sum.Frames, &sum.Overflows, &sum.MaxDepth, &sum.MaxOffset)
	if err != nil {
		return nil, fmt.Errorf("trace: summarize %s: %w", run, err)
	}
	return sum, nil
}

// Load returns the events of run in sequence order.
func (s *Store) Load(ctx context.Context, run string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, stack, kind, frame_kind, capacity, bump_off, depth, at_unixns
		FROM frame_events WHERE run = ? ORDER BY seq`, run)
	if err != nil {
		return nil, fmt.Errorf("trace: load %s: %w", run, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var kind string
		var at int64
		if err := rows.Scan(&e.Seq, &e.Stack, &kind, &e.Frame, &e.Capacity, &e.Offset, &e.Depth, &at); err != nil {
			return nil, fmt.Errorf("trace: scan event: %w", err)
		}
		e.Kind = Kind(kind)
		e.At = time.Unix(0, at)
		events = append(events, e)
	}
	return events, rows.Err()
}
