// Package store provides durable keyed persistence for workflow graphs and
// run records.
//
// The engine treats a Store as a generic transactional record store: graphs
// are write-once documents, runs are versioned records updated at every
// checkpoint. Implementations exist for memory (testing), SQLite (default
// single-file durability), MySQL and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested graph or run id does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by UpdateRun when the record's version no
// longer matches the stored one, meaning another writer advanced the run
// concurrently. The engine surfaces this instead of letting two resume
// calls both advance past the same suspension point.
var ErrVersionConflict = errors.New("run version conflict")

// GraphRecord is a persisted workflow graph definition. The definition is
// stored as an opaque JSON document; the store never inspects it.
type GraphRecord struct {
	GraphID    string
	Definition []byte
	CreatedAt  time.Time
}

// RunRecord is the persisted form of a workflow run.
//
// State is an opaque JSON document. Logs are an ordered list of strings.
// Version starts at zero on creation and is incremented by the store on
// every successful UpdateRun.
type RunRecord struct {
	RunID         string
	GraphID       string
	Status        string
	CurrentNodeID string
	State         []byte
	Logs          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
}

// Store persists workflow graphs and run records.
//
// Implementations must serialize run mutation per run id: UpdateRun performs
// an optimistic version check so concurrent writers cannot interleave. All
// writes must be durable before the call returns; the engine's crash-safety
// guarantees reduce to this property.
type Store interface {
	// PutGraph persists a graph definition. Graphs are immutable after
	// creation; a duplicate id is an error.
	PutGraph(ctx context.Context, rec GraphRecord) error

	// GetGraph retrieves a graph by id, or ErrNotFound.
	GetGraph(ctx context.Context, graphID string) (GraphRecord, error)

	// CreateRun persists the initial record for a new run with Version 0.
	CreateRun(ctx context.Context, rec RunRecord) error

	// UpdateRun replaces the stored record if and only if its version
	// still equals rec.Version, then increments it. Returns the new
	// version, ErrVersionConflict on a stale version, or ErrNotFound.
	UpdateRun(ctx context.Context, rec RunRecord) (int64, error)

	// GetRun retrieves a run by id, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (RunRecord, error)
}
