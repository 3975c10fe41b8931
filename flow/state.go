package flow

import (
	"encoding/json"
	"fmt"
)

// SuspendKey is the reserved state key a node function sets to request
// suspension. When the engine sees it after a node executes, it strips the
// key from the state, parks the run in StatusAwaitingApproval and returns.
// The key never survives into persisted state.
const SuspendKey = "__suspend__"

// State is the mutable workflow state passed through node functions.
//
// It is a schema-less JSON-like document: values are nil, bool, float64,
// string, []any or map[string]any once they have been through persistence.
// The engine itself only interprets SuspendKey and the keys named by edge
// conditions; everything else is opaque payload owned by node functions.
type State map[string]any

// Clone creates a deep copy of the state using a JSON round trip.
//
// Node functions receive a clone, never the engine's own copy, so a function
// that mutates its argument and then fails cannot corrupt the checkpointed
// state. Values that do not survive JSON (channels, funcs) return an error.
func (s State) Clone() (State, error) {
	if s == nil {
		return State{}, nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied State
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if copied == nil {
		copied = State{}
	}

	return copied, nil
}

// Suspended reports whether the state carries the suspend marker.
//
// Any value other than nil or false counts as a request to suspend, matching
// the loose truthiness node functions tend to use when setting flags.
func (s State) Suspended() bool {
	v, ok := s[SuspendKey]
	if !ok {
		return false
	}
	if b, isBool := v.(bool); isBool {
		return b
	}
	return v != nil
}

// clearSuspend removes the suspend marker before the state is persisted.
func (s State) clearSuspend() {
	delete(s, SuspendKey)
}
