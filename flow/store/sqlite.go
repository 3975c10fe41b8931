package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// Workflow graphs and runs live in a single-file database, which makes it
// the default backend for development and single-process deployments: zero
// setup, real durability. WAL mode keeps readers from blocking behind the
// single writer.
//
// Schema:
//   - graphs: immutable definition documents keyed by graph id
//   - workflow_runs: one row per run, updated in place at each checkpoint,
//     with a version column for optimistic concurrency
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store.
//
// The path can be a file ("./duraflow.db"), an absolute path, or ":memory:"
// for an in-memory database that vanishes on close. The store enables WAL
// mode, foreign keys and a 5 second busy timeout, and migrates the schema
// on first use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	graphsTable := `
		CREATE TABLE IF NOT EXISTS graphs (
			graph_id TEXT NOT NULL PRIMARY KEY,
			definition TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, graphsTable); err != nil {
		return fmt.Errorf("failed to create graphs table: %w", err)
	}

	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT NOT NULL PRIMARY KEY,
			graph_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_node_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			logs TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_status: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_graph_id ON workflow_runs(graph_id)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_graph_id: %w", err)
	}

	return nil
}

// PutGraph persists a graph definition (implements Store).
func (s *SQLiteStore) PutGraph(ctx context.Context, rec GraphRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `INSERT INTO graphs (graph_id, definition, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.GraphID, string(rec.Definition), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

// GetGraph retrieves a graph by id (implements Store).
func (s *SQLiteStore) GetGraph(ctx context.Context, graphID string) (GraphRecord, error) {
	if err := s.checkOpen(); err != nil {
		return GraphRecord{}, err
	}

	query := `SELECT graph_id, definition, created_at FROM graphs WHERE graph_id = ?`

	var rec GraphRecord
	var definition, createdAt string
	err := s.db.QueryRowContext(ctx, query, graphID).Scan(&rec.GraphID, &definition, &createdAt)
	if err == sql.ErrNoRows {
		return GraphRecord{}, ErrNotFound
	}
	if err != nil {
		return GraphRecord{}, fmt.Errorf("failed to load graph: %w", err)
	}

	rec.Definition = []byte(definition)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return rec, nil
}

// CreateRun persists the initial run record (implements Store).
func (s *SQLiteStore) CreateRun(ctx context.Context, rec RunRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	logsJSON, err := json.Marshal(rec.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	query := `
		INSERT INTO workflow_runs
			(run_id, graph_id, status, current_node_id, state, logs, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.RunID, rec.GraphID, rec.Status, rec.CurrentNodeID,
		string(rec.State), string(logsJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun replaces the stored record under an optimistic version check
// (implements Store).
func (s *SQLiteStore) UpdateRun(ctx context.Context, rec RunRecord) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	logsJSON, err := json.Marshal(rec.Logs)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal logs: %w", err)
	}

	query := `
		UPDATE workflow_runs
		SET status = ?, current_node_id = ?, state = ?, logs = ?,
			version = version + 1, updated_at = ?
		WHERE run_id = ? AND version = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.Status, rec.CurrentNodeID, string(rec.State), string(logsJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
		rec.RunID, rec.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		// Either the run is missing or another writer bumped the version.
		var exists int
		if scanErr := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM workflow_runs WHERE run_id = ?", rec.RunID).Scan(&exists); scanErr == nil && exists == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrVersionConflict
	}

	return rec.Version + 1, nil
}

// GetRun retrieves a run by id (implements Store).
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}

	query := `
		SELECT run_id, graph_id, status, current_node_id, state, logs, version, created_at, updated_at
		FROM workflow_runs
		WHERE run_id = ?
	`

	var rec RunRecord
	var state, logsJSON, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&rec.RunID, &rec.GraphID, &rec.Status, &rec.CurrentNodeID,
		&state, &logsJSON, &rec.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load run: %w", err)
	}

	rec.State = []byte(state)
	if err := json.Unmarshal([]byte(logsJSON), &rec.Logs); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close closes the database connection. Double-close is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}
