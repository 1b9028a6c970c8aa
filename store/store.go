// Package store persists training runs and parameter checkpoints in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// ErrNonFinite is returned when a checkpoint holds NaN or ±Inf. Such a
// snapshot cannot be resumed from, so it is never written.
var ErrNonFinite = errors.New("non-finite checkpoint")

// Run is one training session. Config is whatever JSON the caller used to
// build the network.
type Run struct {
	ID        string          `json:"id"`
	Config    json.RawMessage `json:"config"`
	CreatedAt time.Time       `json:"created_at"`
}

// Checkpoint is a snapshot of all parameter values after Step updates.
type Checkpoint struct {
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Loss      float64   `json:"loss"`
	Weights   []float64 `json:"weights,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and makes sure the schema exists.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		config TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		loss REAL NOT NULL,
		weights TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, step),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun stores config as JSON under a fresh run ID.
func (s *Store) CreateRun(config any) (*Run, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, errors.Wrap(err, "encode run config")
	}
	run := &Run{
		ID:        uuid.NewString(),
		Config:    raw,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	_, err = s.db.Exec(`INSERT INTO runs (id, config, created_at) VALUES (?, ?, ?)`,
		run.ID, string(raw), run.CreatedAt.Unix())
	if err != nil {
		return nil, errors.Wrap(err, "insert run")
	}
	return run, nil
}

// GetRun loads one run.
func (s *Store) GetRun(id string) (*Run, error) {
	var (
		r         Run
		config    string
		createdAt int64
	)
	err := s.db.QueryRow(`SELECT id, config, created_at FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &config, &createdAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, err
	}
	r.Config = json.RawMessage(config)
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &r, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT id, config, created_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var (
			r         Run
			config    string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &config, &createdAt); err != nil {
			return nil, err
		}
		r.Config = json.RawMessage(config)
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// SaveCheckpoint writes c, replacing an earlier checkpoint at the same step.
func (s *Store) SaveCheckpoint(c *Checkpoint) error {
	if !finite(c.Loss) {
		return errors.Wrapf(ErrNonFinite, "loss %v at step %d", c.Loss, c.Step)
	}
	for i, w := range c.Weights {
		if !finite(w) {
			return errors.Wrapf(ErrNonFinite, "weight %d is %v at step %d", i, w, c.Step)
		}
	}
	if _, err := s.GetRun(c.RunID); err != nil {
		return err
	}
	weights, err := json.Marshal(c.Weights)
	if err != nil {
		return errors.Wrap(err, "encode weights")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO checkpoints (run_id, step, loss, weights, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.RunID, c.Step, c.Loss, string(weights), c.CreatedAt.Unix())
	return errors.Wrap(err, "insert checkpoint")
}

// LatestCheckpoint returns the checkpoint with the highest step of a run.
func (s *Store) LatestCheckpoint(runID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT run_id, step, loss, weights, created_at FROM checkpoints
		WHERE run_id = ? ORDER BY step DESC LIMIT 1`, runID)
	c, err := scanCheckpoint(row.Scan, true)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "checkpoint for run %s", runID)
	}
	return c, err
}

// History returns every checkpoint of a run ordered by step, without weights.
func (s *Store) History(runID string) ([]*Checkpoint, error) {
	rows, err := s.db.Query(`
		SELECT run_id, step, loss, '', created_at FROM checkpoints
		WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows.Scan, false)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func scanCheckpoint(scan func(...any) error, withWeights bool) (*Checkpoint, error) {
	var (
		c         Checkpoint
		weights   string
		createdAt int64
	)
	if err := scan(&c.RunID, &c.Step, &c.Loss, &weights, &createdAt); err != nil {
		return nil, err
	}
	if withWeights {
		if err := json.Unmarshal([]byte(weights), &c.Weights); err != nil {
			return nil, errors.Wrap(err, "decode weights")
		}
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &c, nil
}
