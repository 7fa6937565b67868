package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"housesim/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sim_runs (
	run_id     TEXT PRIMARY KEY,
	scenario   TEXT NOT NULL,
	seed       INTEGER NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sim_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	tick        INTEGER NOT NULL,
	sim_time    REAL NOT NULL,
	kind        TEXT NOT NULL,
	room        TEXT NOT NULL DEFAULT '',
	device_id   TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	data        TEXT,
	FOREIGN KEY (run_id) REFERENCES sim_runs(run_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sim_events_run_id ON sim_events(run_id, id);
`

// SQLiteStore is the file-backed event log used by replays and single-node
// servers without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, scenario string, seed uint32) (Run, error) {
	run := Run{ID: NewRunID(), Scenario: scenario, Seed: seed, StartedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sim_runs (run_id, scenario, seed, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, scenario, int64(seed), run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, scenario, seed, started_at FROM sim_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, scenario, seed, started_at FROM sim_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var seed int64
	var started string
	if err := row.Scan(&run.ID, &run.Scenario, &seed, &started); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	run.Seed = uint32(seed)
	run.StartedAt = t
	return run, nil
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, runID string, events []domain.WorldEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sim_events (run_id, tick, sim_time, kind, room, device_id, description, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		data, err := encodeData(e.Data)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, runID, int64(e.Tick), e.Time, e.Kind, e.Room, e.DeviceID, e.Description, data); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, runID string, limit int) ([]domain.WorldEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tick, sim_time, kind, room, device_id, description, data
		FROM (
			SELECT id, tick, sim_time, kind, room, device_id, description, data
			FROM sim_events
			WHERE run_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.WorldEvent
	for rows.Next() {
		var e domain.WorldEvent
		var tick int64
		var raw sql.NullString
		if err := rows.Scan(&tick, &e.Time, &e.Kind, &e.Room, &e.DeviceID, &e.Description, &raw); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		if raw.Valid {
			if e.Data, err = decodeData([]byte(raw.String)); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
