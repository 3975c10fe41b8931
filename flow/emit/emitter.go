// Package emit defines observability events for workflow execution and a
// set of pluggable emitters to receive them.
package emit

// Event is an observability event emitted by the engine at checkpoint and
// lifecycle boundaries: run start, node execution, suspension, resume,
// completion, failure.
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	RunID string

	// Step is the sequential node execution count within the current loop
	// invocation (1-indexed). Zero for run-level events.
	Step int

	// NodeID identifies the node involved. Empty for run-level events.
	NodeID string

	// Msg names the event, e.g. "node_executed", "run_suspended".
	Msg string

	// Meta carries additional structured data, e.g. "duration_ms",
	// "error", "status", "next_node".
	Meta map[string]any
}

// Emitter receives events from workflow execution.
//
// Implementations must be safe for concurrent use (multiple runs share one
// emitter), must never panic, and should not block the step loop; a slow
// backend belongs behind a buffer.
type Emitter interface {
	Emit(event Event)
}
