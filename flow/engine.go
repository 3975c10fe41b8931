package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/duraflow/flow/emit"
	"github.com/dshills/duraflow/flow/store"
)

// DefaultMaxSteps is the per-loop step budget when Options.MaxSteps is
// unset. It bounds cyclic graphs that never hit a terminating condition.
const DefaultMaxSteps = 50

// Options configures engine execution behavior. Zero values are valid.
type Options struct {
	// MaxSteps limits node executions per loop invocation. Defaults to
	// DefaultMaxSteps when zero or negative.
	MaxSteps int

	// Logger receives engine diagnostics. Nil disables logging.
	Logger *zerolog.Logger

	// Metrics receives Prometheus observations. Nil disables metrics.
	Metrics *Metrics
}

// Engine owns graph creation, the checkpointed step loop and the
// suspend/resume state machine.
//
// An Engine drives one run's step loop on a single goroutine; any number of
// runs may execute concurrently against the same immutable graphs. All
// collaborators are injected, so isolated engines with private registries
// and stores can coexist in one process.
//
// Example:
//
//	reg := flow.NewRegistry()
//	reg.Register("double", flow.TransformerFunc(doubleFn))
//
//	st := store.NewMemStore()
//	engine := flow.New(st, reg, emit.NewNullEmitter(), flow.Options{})
//
//	graphID, _ := engine.CreateGraph(ctx, def)
//	snap, err := engine.Run(ctx, graphID, flow.State{"x": 1})
type Engine struct {
	store    store.Store
	registry *Registry
	emitter  emit.Emitter
	log      zerolog.Logger
	metrics  *Metrics
	maxSteps int
}

// New creates an Engine.
//
// The store and registry are required; emitter may be nil to discard
// events. See Options for the rest.
func New(st store.Store, reg *Registry, emitter emit.Emitter, opts Options) *Engine {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Engine{
		store:    st,
		registry: reg,
		emitter:  emitter,
		log:      logger,
		metrics:  opts.Metrics,
		maxSteps: maxSteps,
	}
}

// CreateGraph validates and persists a workflow definition, returning its
// generated id. Validation failures abort before persistence; no partial
// graph is ever stored. The definition is immutable thereafter.
func (e *Engine) CreateGraph(ctx context.Context, def Definition) (string, error) {
	g, err := NewGraph(def)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(def)
	if err != nil {
		return "", &EngineError{Code: CodeInvalidGraph, Message: "definition is not serializable", Cause: err}
	}

	rec := store.GraphRecord{
		GraphID:    g.ID(),
		Definition: data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.PutGraph(ctx, rec); err != nil {
		return "", &EngineError{Code: CodeStoreFailure, Message: "failed to persist graph", Cause: err}
	}

	e.log.Info().Str("graph_id", g.ID()).Int("nodes", len(def.Nodes)).Msg("graph created")
	return g.ID(), nil
}

// Run starts a new workflow run against the identified graph and drives the
// step loop until it completes, fails, suspends or exhausts its budget.
//
// The returned snapshot reflects whichever of those the run reached. On
// failure the snapshot is returned alongside the error so the run log can
// be inspected without a separate read.
func (e *Engine) Run(ctx context.Context, graphID string, initial State) (*Snapshot, error) {
	g, err := e.loadGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}

	// Copy the initial state so later caller mutations can't reach into
	// the run.
	state, err := initial.Clone()
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	run := &Run{
		RunID:         runID,
		GraphID:       graphID,
		Status:        StatusRunning,
		CurrentNodeID: g.StartNode(),
		State:         state,
		Logs:          []string{fmt.Sprintf("Starting run %s with graph %s", runID, graphID)},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	rec, err := runToRecord(run)
	if err != nil {
		return nil, &EngineError{Code: CodeStoreFailure, Message: "failed to encode run", Cause: err}
	}
	if err := e.store.CreateRun(ctx, rec); err != nil {
		return nil, &EngineError{Code: CodeStoreFailure, Message: "failed to persist run", Cause: err}
	}

	e.emitter.Emit(emit.Event{RunID: runID, Msg: "run_started", Meta: map[string]any{"graph_id": graphID}})
	return e.loop(ctx, g, run)
}

// Resume continues a previously suspended run.
//
// Behavior by status:
//   - completed: idempotent no-op, the snapshot is returned unchanged.
//   - failed: CodeRunTerminated; a failed run is never resumable.
//   - awaiting_approval: the approval is a pure unblock signal with no
//     payload. The next node is computed exactly as the loop would on a
//     normal transition from the current cursor and state, the cursor
//     advances, status returns to running, and this resume checkpoint is
//     persisted before the loop continues.
//   - running: crash recovery. The loop re-enters at the current cursor;
//     at most the in-flight step re-executes.
//   - exhausted: the loop re-enters with a fresh step budget.
//
// The store's version check guarantees two concurrent resumes cannot both
// advance past the same suspension; the loser gets CodeVersionConflict.
func (e *Engine) Resume(ctx context.Context, runID string) (*Snapshot, error) {
	run, err := e.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case StatusCompleted:
		return run.snapshot(), nil
	case StatusFailed:
		return run.snapshot(), &EngineError{
			Code:    CodeRunTerminated,
			Message: "run " + runID + " failed and cannot be resumed",
		}
	}

	g, err := e.loadGraph(ctx, run.GraphID)
	if err != nil {
		return run.snapshot(), err
	}

	switch run.Status {
	case StatusAwaitingApproval:
		next, err := g.NextNode(run.CurrentNodeID, run.State)
		if err != nil {
			return e.failRun(ctx, run, err)
		}
		run.Logs = append(run.Logs, fmt.Sprintf("Approval received for node %s. Resuming.", run.CurrentNodeID))
		e.advanceCursor(run, run.CurrentNodeID, next)
		run.Status = StatusRunning
		if err := e.saveRun(ctx, run); err != nil {
			return run.snapshot(), err
		}
		e.emitter.Emit(emit.Event{RunID: runID, Msg: "run_resumed"})

	case StatusExhausted:
		run.Status = StatusRunning
		run.Logs = append(run.Logs, "Step budget renewed. Resuming run.")
		if err := e.saveRun(ctx, run); err != nil {
			return run.snapshot(), err
		}
		e.emitter.Emit(emit.Event{RunID: runID, Msg: "run_resumed"})

	case StatusRunning:
		// The run was left mid-loop, most likely by a crash after a
		// checkpoint. Re-entering at the cursor redoes at most the
		// in-flight step; completed steps are never re-executed.
		e.log.Info().Str("run_id", runID).Str("node_id", run.CurrentNodeID).Msg("recovering in-flight run")
		e.emitter.Emit(emit.Event{RunID: runID, Msg: "run_recovered"})
	}

	return e.loop(ctx, g, run)
}

// GetState is a pure read of the persisted run snapshot. Repeated calls
// never change status, state or logs.
func (e *Engine) GetState(ctx context.Context, runID string) (*Snapshot, error) {
	run, err := e.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.snapshot(), nil
}

// Functions returns the registered node function names. Diagnostic only.
func (e *Engine) Functions() []string {
	return e.registry.Names()
}

// loop drives the checkpointed step machine shared by Run and Resume.
//
// Checkpoints:
//   - A, after a node executes: the node's output is durable before any
//     transition logic, so a crash never re-executes a finished node and
//     never loses its output.
//   - B, on suspension: the suspend marker is stripped and status parks at
//     awaiting_approval with the cursor still on the triggering node.
//   - C, after cursor advance.
//
// Every error inside the loop funnels through failRun exactly once: it is
// appended to the run's own log, the run is persisted as failed, and the
// error is re-raised to the caller together with the failed snapshot.
func (e *Engine) loop(ctx context.Context, g *Graph, run *Run) (*Snapshot, error) {
	e.metrics.loopEntered()
	defer func() { e.metrics.loopExited(run.Status) }()

	steps := 0
	for run.CurrentNodeID != "" && steps < e.maxSteps {
		// Defensive: something outside the loop flipped the status.
		if run.Status != StatusRunning {
			return run.snapshot(), nil
		}
		steps++
		nodeID := run.CurrentNodeID

		run.Logs = append(run.Logs, "Executing node: "+nodeID)
		e.log.Debug().Str("run_id", run.RunID).Str("node_id", nodeID).Int("step", steps).Msg("executing node")

		fn, err := g.Function(nodeID, e.registry)
		if err != nil {
			return e.failRun(ctx, run, err)
		}

		// The function gets an isolated copy; a failed or misbehaving
		// node can't corrupt the checkpointed state.
		working, err := run.State.Clone()
		if err != nil {
			return e.failRun(ctx, run, &EngineError{Code: CodeNodeExecution, Message: "state is not serializable", Cause: err})
		}

		start := time.Now()
		out, err := fn.Transform(ctx, working)
		if err != nil {
			e.metrics.observeStep(nodeID, time.Since(start), "error")
			run.Logs = append(run.Logs, fmt.Sprintf("Error executing node %s: %v", nodeID, err))
			return e.failRun(ctx, run, &EngineError{
				Code:    CodeNodeExecution,
				Message: fmt.Sprintf("node %s: %v", nodeID, err),
				Cause:   err,
			})
		}
		e.metrics.observeStep(nodeID, time.Since(start), "success")

		// Full replacement, no implicit merge. nil signals "unchanged"
		// and the prior state is retained.
		if out != nil {
			run.State = out
		}

		// Checkpoint A.
		if err := e.saveRun(ctx, run); err != nil {
			return e.failRun(ctx, run, err)
		}
		e.emitter.Emit(emit.Event{
			RunID: run.RunID, Step: steps, NodeID: nodeID, Msg: "node_executed",
			Meta: map[string]any{"duration_ms": time.Since(start).Milliseconds()},
		})

		if run.State.Suspended() {
			run.State.clearSuspend()
			run.Status = StatusAwaitingApproval
			run.Logs = append(run.Logs, fmt.Sprintf("Execution paused at node %s. Awaiting approval.", nodeID))
			// Checkpoint B. Cursor stays on the suspending node.
			if err := e.saveRun(ctx, run); err != nil {
				return e.failRun(ctx, run, err)
			}
			e.metrics.suspended()
			e.emitter.Emit(emit.Event{RunID: run.RunID, Step: steps, NodeID: nodeID, Msg: "run_suspended"})
			return run.snapshot(), nil
		}

		next, err := g.NextNode(nodeID, run.State)
		if err != nil {
			return e.failRun(ctx, run, err)
		}
		e.advanceCursor(run, nodeID, next)

		// Checkpoint C.
		if err := e.saveRun(ctx, run); err != nil {
			return e.failRun(ctx, run, err)
		}
	}

	if run.Status != StatusRunning {
		return run.snapshot(), nil
	}

	if run.CurrentNodeID != "" {
		// Budget exhausted with work still pending. Deliberately a
		// distinct status: this is not a naturally finished graph.
		run.Status = StatusExhausted
		run.Logs = append(run.Logs, fmt.Sprintf("Max steps (%d) reached. Terminating.", e.maxSteps))
		if err := e.saveRun(ctx, run); err != nil {
			return e.failRun(ctx, run, err)
		}
		e.emitter.Emit(emit.Event{RunID: run.RunID, Msg: "run_exhausted"})
		return run.snapshot(), nil
	}

	run.Status = StatusCompleted
	if err := e.saveRun(ctx, run); err != nil {
		return e.failRun(ctx, run, err)
	}
	e.log.Info().Str("run_id", run.RunID).Msg("run completed")
	e.emitter.Emit(emit.Event{RunID: run.RunID, Msg: "run_completed"})
	return run.snapshot(), nil
}

// advanceCursor applies a resolved transition to the run, logging it the
// same way whether it came from the loop or from a resume.
func (e *Engine) advanceCursor(run *Run, from, next string) {
	if next != "" {
		run.Logs = append(run.Logs, fmt.Sprintf("Transition: %s -> %s", from, next))
		run.CurrentNodeID = next
	} else {
		run.Logs = append(run.Logs, fmt.Sprintf("No transitions found from %s. Ending.", from))
		run.CurrentNodeID = ""
	}
}

// failRun is the single catch site for step-loop errors. The cursor is left
// pointing at the failing node for post-mortem inspection. Failed is
// permanently terminal.
func (e *Engine) failRun(ctx context.Context, run *Run, cause error) (*Snapshot, error) {
	run.Logs = append(run.Logs, fmt.Sprintf("Run failed: %v", cause))
	run.Status = StatusFailed

	if err := e.saveRun(ctx, run); err != nil {
		// Nothing more we can do durably; the caller still gets the
		// failed snapshot and the original error.
		e.log.Error().Err(err).Str("run_id", run.RunID).Msg("failed to persist terminal run state")
	}

	e.log.Warn().Err(cause).Str("run_id", run.RunID).Str("node_id", run.CurrentNodeID).Msg("run failed")
	e.emitter.Emit(emit.Event{RunID: run.RunID, NodeID: run.CurrentNodeID, Msg: "run_failed", Meta: map[string]any{"error": cause.Error()}})
	return run.snapshot(), cause
}

// saveRun checkpoints the run through the store's optimistic version check.
func (e *Engine) saveRun(ctx context.Context, run *Run) error {
	rec, err := runToRecord(run)
	if err != nil {
		return &EngineError{Code: CodeStoreFailure, Message: "failed to encode run", Cause: err}
	}

	newVersion, err := e.store.UpdateRun(ctx, rec)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return &EngineError{
				Code:    CodeVersionConflict,
				Message: "run " + run.RunID + " was modified concurrently",
				Cause:   err,
			}
		}
		return &EngineError{Code: CodeStoreFailure, Message: "failed to persist run " + run.RunID, Cause: err}
	}

	run.version = newVersion
	e.metrics.checkpointWritten()
	return nil
}

func (e *Engine) loadGraph(ctx context.Context, graphID string) (*Graph, error) {
	rec, err := e.store.GetGraph(ctx, graphID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &EngineError{Code: CodeGraphNotFound, Message: "graph " + graphID + " not found"}
		}
		return nil, &EngineError{Code: CodeStoreFailure, Message: "failed to load graph " + graphID, Cause: err}
	}

	var def Definition
	if err := json.Unmarshal(rec.Definition, &def); err != nil {
		return nil, &EngineError{Code: CodeStoreFailure, Message: "failed to decode graph " + graphID, Cause: err}
	}
	return newGraph(rec.GraphID, def), nil
}

func (e *Engine) loadRun(ctx context.Context, runID string) (*Run, error) {
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &EngineError{Code: CodeRunNotFound, Message: "run " + runID + " not found"}
		}
		return nil, &EngineError{Code: CodeStoreFailure, Message: "failed to load run " + runID, Cause: err}
	}
	return runFromRecord(rec)
}

func runToRecord(run *Run) (store.RunRecord, error) {
	state := run.State
	if state == nil {
		state = State{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("failed to marshal state: %w", err)
	}

	return store.RunRecord{
		RunID:         run.RunID,
		GraphID:       run.GraphID,
		Status:        string(run.Status),
		CurrentNodeID: run.CurrentNodeID,
		State:         stateJSON,
		Logs:          run.Logs,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		Version:       run.version,
	}, nil
}

func runFromRecord(rec store.RunRecord) (*Run, error) {
	var state State
	if err := json.Unmarshal(rec.State, &state); err != nil {
		return nil, &EngineError{Code: CodeStoreFailure, Message: "failed to decode run " + rec.RunID, Cause: err}
	}
	if state == nil {
		state = State{}
	}

	return &Run{
		RunID:         rec.RunID,
		GraphID:       rec.GraphID,
		Status:        Status(rec.Status),
		CurrentNodeID: rec.CurrentNodeID,
		State:         state,
		Logs:          rec.Logs,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		version:       rec.Version,
	}, nil
}
