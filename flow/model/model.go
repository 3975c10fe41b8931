// Package model adapts LLM provider SDKs to a single prompt-in, text-out
// interface so node functions can call a model without knowing which vendor
// backs it.
package model

import (
	"context"
	"errors"
	"sync"
)

// Model generates a text completion for a prompt.
//
// Implementations wrap a provider SDK and are safe for concurrent use after
// creation. Generate should respect context cancellation; provider SDKs
// already do.
type Model interface {
	// Name identifies the provider and model, e.g. "anthropic/claude-sonnet-4-5".
	Name() string

	// Generate returns the model's completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Mock is a scripted Model for tests. Each Generate call returns the next
// queued response; when the queue is empty it returns Fallback, or an error
// when Fallback is also empty.
type Mock struct {
	ModelName string
	Fallback  string

	mu        sync.Mutex
	responses []string
	prompts   []string
}

// NewMock creates a Mock returning the given responses in order.
func NewMock(responses ...string) *Mock {
	return &Mock{ModelName: "mock", responses: responses}
}

// Name implements Model.
func (m *Mock) Name() string { return m.ModelName }

// Generate implements Model, recording the prompt for later inspection.
func (m *Mock) Generate(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if len(m.responses) > 0 {
		out := m.responses[0]
		m.responses = m.responses[1:]
		return out, nil
	}
	if m.Fallback != "" {
		return m.Fallback, nil
	}
	return "", errors.New("mock model has no responses queued")
}

// Prompts returns the prompts seen so far, in call order.
func (m *Mock) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
