package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for production deployments where runs must survive process
// restarts and several service instances share one database. The version
// column plus a conditional UPDATE gives the per-run write serialization
// the engine requires without explicit row locks.
//
// The DSN must include parseTime=true so DATETIME columns scan into
// time.Time:
//
//	user:password@tcp(localhost:3306)/duraflow?parseTime=true
//
// Never hardcode credentials; read the DSN from the environment or config.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store, verifying connectivity and
// migrating the schema on first use.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	graphsTable := `
		CREATE TABLE IF NOT EXISTS graphs (
			graph_id VARCHAR(64) NOT NULL PRIMARY KEY,
			definition JSON NOT NULL,
			created_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, graphsTable); err != nil {
		return fmt.Errorf("failed to create graphs table: %w", err)
	}

	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(64) NOT NULL PRIMARY KEY,
			graph_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			current_node_id VARCHAR(255) NOT NULL DEFAULT '',
			state JSON NOT NULL,
			logs JSON NOT NULL,
			version BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_runs_status (status),
			INDEX idx_runs_graph_id (graph_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	return nil
}

// PutGraph persists a graph definition (implements Store).
func (s *MySQLStore) PutGraph(ctx context.Context, rec GraphRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := `INSERT INTO graphs (graph_id, definition, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, rec.GraphID, string(rec.Definition), rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save graph: %w", err)
	}
	return nil
}

// GetGraph retrieves a graph by id (implements Store).
func (s *MySQLStore) GetGraph(ctx context.Context, graphID string) (GraphRecord, error) {
	if err := s.checkOpen(); err != nil {
		return GraphRecord{}, err
	}

	query := `SELECT graph_id, definition, created_at FROM graphs WHERE graph_id = ?`

	var rec GraphRecord
	var definition string
	err := s.db.QueryRowContext(ctx, query, graphID).Scan(&rec.GraphID, &definition, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return GraphRecord{}, ErrNotFound
	}
	if err != nil {
		return GraphRecord{}, fmt.Errorf("failed to load graph: %w", err)
	}

	rec.Definition = []byte(definition)
	return rec, nil
}

// CreateRun persists the initial run record (implements Store).
func (s *MySQLStore) CreateRun(ctx context.Context, rec RunRecord) error {
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
		string(rec.State), string(logsJSON), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// UpdateRun replaces the stored record under an optimistic version check
// (implements Store).
func (s *MySQLStore) UpdateRun(ctx context.Context, rec RunRecord) (int64, error) {
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
		time.Now().UTC(), rec.RunID, rec.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
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
func (s *MySQLStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}

	query := `
		SELECT run_id, graph_id, status, current_node_id, state, logs, version, created_at, updated_at
		FROM workflow_runs
		WHERE run_id = ?
	`

	var rec RunRecord
	var state, logsJSON string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&rec.RunID, &rec.GraphID, &rec.Status, &rec.CurrentNodeID,
		&state, &logsJSON, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
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
	return rec, nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close closes the database connection. Double-close is a no-op.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
