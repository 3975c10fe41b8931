// Package flow provides the core execution engine for Duraflow workflows.
package flow

import "errors"

// Machine-readable error codes attached to EngineError values.
//
// Callers should match on codes via HasCode rather than error strings; the
// HTTP layer uses them to choose response status codes.
const (
	CodeInvalidGraph          = "INVALID_GRAPH"
	CodeGraphNotFound         = "GRAPH_NOT_FOUND"
	CodeRunNotFound           = "RUN_NOT_FOUND"
	CodeRunTerminated         = "RUN_TERMINATED"
	CodeNodeNotFound          = "NODE_NOT_FOUND"
	CodeFunctionNotRegistered = "FUNCTION_NOT_REGISTERED"
	CodeConditionTypeMismatch = "CONDITION_TYPE_MISMATCH"
	CodeNodeExecution         = "NODE_EXECUTION_ERROR"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeStoreFailure          = "STORE_FAILURE"
)

// EngineError represents a structured error from engine operations.
//
// Code identifies the failure kind for programmatic handling, Message is the
// human-readable description, and Cause (when set) preserves the underlying
// error for errors.Is / errors.As chains.
type EngineError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause for error wrapping support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// HasCode reports whether err or any error in its chain is an EngineError
// carrying the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		var ee *EngineError
		if errors.As(err, &ee) {
			if ee.Code == code {
				return true
			}
			err = ee.Cause
			continue
		}
		return false
	}
	return false
}
