package flow

import "time"

// Status is the lifecycle state of a workflow run.
type Status string

// Run statuses.
//
// StatusCompleted and StatusFailed are permanently terminal: no further
// transition is permitted on a run that has reached either. A failed run is
// never resumable, in contrast to StatusAwaitingApproval which exists to be
// resumed. StatusExhausted marks a run that hit its step budget with work
// still pending; it is deliberately distinct from StatusCompleted so budget
// exhaustion is never mislabeled as a naturally finished graph, and a
// resume grants the run a fresh budget.
const (
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusExhausted        Status = "exhausted"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is the engine's working representation of a workflow run, the only
// mutable entity in the system. It is checkpointed to the store after every
// observable change.
type Run struct {
	RunID         string
	GraphID       string
	Status        Status
	CurrentNodeID string
	State         State
	Logs          []string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// version is the optimistic concurrency token from the store. Two
	// concurrent resumes of the same run race on it; the loser gets a
	// version conflict instead of advancing past the same suspension twice.
	version int64
}

// Snapshot is the caller-facing view of a run, returned by every engine
// operation whether the run succeeded, suspended or failed. Even a failed
// run yields a snapshot so callers can inspect the log post-mortem without
// a separate error channel.
type Snapshot struct {
	RunID         string `json:"run_id"`
	GraphID       string `json:"graph_id"`
	Status        Status `json:"status"`
	CurrentNodeID string `json:"current_node_id,omitempty"`
	State         State  `json:"state"`
	Logs          []string `json:"logs"`
}

// snapshot copies the run into a caller-facing Snapshot. Logs are copied so
// callers cannot alias the engine's slice.
func (r *Run) snapshot() *Snapshot {
	logs := make([]string, len(r.Logs))
	copy(logs, r.Logs)

	return &Snapshot{
		RunID:         r.RunID,
		GraphID:       r.GraphID,
		Status:        r.Status,
		CurrentNodeID: r.CurrentNodeID,
		State:         r.State,
		Logs:          logs,
	}
}
