package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"housesim/internal/domain"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one simulation session. Events are always stored under a run.
type Run struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Seed      uint32    `json:"seed"`
	StartedAt time.Time `json:"started_at"`
}

// EventLog is implemented by both the Postgres and the SQLite store.
type EventLog interface {
	CreateRun(ctx context.Context, scenario string, seed uint32) (Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	AppendEvents(ctx context.Context, runID string, events []domain.WorldEvent) error
	RecentEvents(ctx context.Context, runID string, limit int) ([]domain.WorldEvent, error)
}

func NewRunID() string {
	return "run_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Recorder writes every published tick batch to one run.
type Recorder struct {
	Log   EventLog
	RunID string
}

func (r Recorder) PublishEvents(ctx context.Context, events []domain.WorldEvent) error {
	return r.Log.AppendEvents(ctx, r.RunID, events)
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sim_runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			seed BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS sim_events (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES sim_runs(run_id) ON DELETE CASCADE,
			tick BIGINT NOT NULL,
			sim_time DOUBLE PRECISION NOT NULL,
			kind TEXT NOT NULL,
			room TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sim_events_run_id ON sim_events(run_id, id);`,
		`CREATE INDEX IF NOT EXISTS idx_sim_events_run_kind ON sim_events(run_id, kind);`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, scenario string, seed uint32) (Run, error) {
	run := Run{ID: NewRunID(), Scenario: scenario, Seed: seed}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sim_runs(run_id, scenario, seed)
		VALUES ($1, $2, $3)
		RETURNING started_at
	`, run.ID, scenario, int64(seed)).Scan(&run.StartedAt)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = run.StartedAt.UTC()
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	var run Run
	var seed int64
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, scenario, seed, started_at
		FROM sim_runs
		WHERE run_id=$1
	`, runID).Scan(&run.ID, &run.Scenario, &seed, &run.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, err
	}
	run.Seed = uint32(seed)
	run.StartedAt = run.StartedAt.UTC()
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, scenario, seed, started_at
		FROM sim_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var seed int64
		if err := rows.Scan(&run.ID, &run.Scenario, &seed, &run.StartedAt); err != nil {
			return nil, err
		}
		run.Seed = uint32(seed)
		run.StartedAt = run.StartedAt.UTC()
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendEvents writes one tick's batch in a single round trip.
func (s *Store) AppendEvents(ctx context.Context, runID string, events []domain.WorldEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		data, err := encodeData(e.Data)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO sim_events(run_id, tick, sim_time, kind, room, device_id, description, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		`, runID, int64(e.Tick), e.Time, e.Kind, e.Room, e.DeviceID, e.Description, data)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("append events: %w", err)
		}
	}
	return nil
}

// RecentEvents returns the newest limit events of a run, oldest first.
func (s *Store) RecentEvents(ctx context.Context, runID string, limit int) ([]domain.WorldEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tick, sim_time, kind, room, device_id, description, data
		FROM (
			SELECT id, tick, sim_time, kind, room, device_id, description, data
			FROM sim_events
			WHERE run_id=$1
			ORDER BY id DESC
			LIMIT $2
		) t
		ORDER BY id ASC
	`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorldEvent
	for rows.Next() {
		var e domain.WorldEvent
		var tick int64
		var raw []byte
		if err := rows.Scan(&tick, &e.Time, &e.Kind, &e.Room, &e.DeviceID, &e.Description, &raw); err != nil {
			return nil, err
		}
		e.Tick = uint64(tick)
		if e.Data, err = decodeData(raw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeData(data map[string]any) (*string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	s := string(raw)
	return &s, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal event data: %w", err)
	}
	return data, nil
}
