// Package fn provides the builtin node functions shipped with the engine:
// a simulated data-quality cleaning pipeline and the human-in-the-loop
// approval gate. RegisterBuiltins wires them into a Registry under the names
// graph definitions reference.
package fn

import (
	"context"

	"github.com/dshills/duraflow/flow"
)

// State keys used by the data-quality pipeline.
const (
	KeyDatasetSize    = "dataset_size"
	KeyAnomalyCount   = "anomaly_count"
	KeyRulesGenerated = "rules_generated"
)

// RegisterBuiltins adds every builtin function to the registry. It fails on
// name collisions, so call it before any custom registrations that might
// reuse a builtin name.
func RegisterBuiltins(reg *flow.Registry) error {
	builtins := map[string]flow.TransformerFunc{
		"profile_data":       ProfileData,
		"identify_anomalies": IdentifyAnomalies,
		"generate_rules":     GenerateRules,
		"apply_rules":        ApplyRules,
		"finish_pipeline":    FinishPipeline,
		"wait_for_approval":  WaitForApproval,
	}
	for name, fn := range builtins {
		if err := reg.Register(name, fn); err != nil {
			return err
		}
	}
	return nil
}

// ProfileData seeds the simulated dataset on first execution. A state that
// already carries an anomaly count passes through untouched, so re-entering
// the profiling node mid-pipeline never resets progress.
func ProfileData(_ context.Context, state flow.State) (flow.State, error) {
	if _, ok := state[KeyAnomalyCount]; !ok {
		state[KeyDatasetSize] = 1000
		state[KeyAnomalyCount] = 50
	}
	return state, nil
}

// IdentifyAnomalies inspects the anomaly count without changing state.
// Returning nil tells the engine the state is unchanged.
func IdentifyAnomalies(_ context.Context, _ flow.State) (flow.State, error) {
	return nil, nil
}

// GenerateRules marks that cleaning rules exist for the current anomalies.
func GenerateRules(_ context.Context, state flow.State) (flow.State, error) {
	state[KeyRulesGenerated] = true
	return state, nil
}

// ApplyRules simulates a cleaning pass, halving the anomaly count. Repeated
// application converges to zero, which is what lets a conditional edge back
// to the identify node terminate the pipeline loop.
func ApplyRules(_ context.Context, state flow.State) (flow.State, error) {
	state[KeyAnomalyCount] = float64(int(anomalyCount(state) / 2))
	return state, nil
}

// FinishPipeline is a terminal no-op node.
func FinishPipeline(_ context.Context, _ flow.State) (flow.State, error) {
	return nil, nil
}

// WaitForApproval requests suspension by setting the reserved marker. The
// engine strips the marker, parks the run awaiting approval and leaves the
// cursor on this node; a later resume re-evaluates this node's outgoing
// edges against the persisted state.
func WaitForApproval(_ context.Context, state flow.State) (flow.State, error) {
	state[flow.SuspendKey] = true
	return state, nil
}

// anomalyCount reads the count tolerating both the int a caller might seed
// and the float64 the JSON round trip produces.
func anomalyCount(state flow.State) float64 {
	switch v := state[KeyAnomalyCount].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
