package flow

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeSpec names a unit of work and the registered function that performs it.
type NodeSpec struct {
	ID       string `json:"id" yaml:"id"`
	Function string `json:"function" yaml:"function"`
}

// EdgeSpec is a directed, optionally guarded transition between two nodes.
//
// A nil Condition makes the edge unconditional. Multiple edges may share a
// source; they are evaluated in definition order and the first edge whose
// condition is absent or true wins. An unconditional edge placed before a
// conditional one therefore silently shadows it. That is a documented hazard
// of graph authoring, not a validation error: the unconditional "else" edge
// belongs last.
type EdgeSpec struct {
	Source    string     `json:"source" yaml:"source"`
	Target    string     `json:"target" yaml:"target"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Definition is the caller-supplied description of a workflow graph.
// It is immutable once a Graph has been created from it.
type Definition struct {
	Nodes     []NodeSpec `json:"nodes" yaml:"nodes"`
	Edges     []EdgeSpec `json:"edges" yaml:"edges"`
	StartNode string     `json:"start_node" yaml:"start_node"`
}

// Validate checks the structural invariants of a definition: non-empty
// unique node ids, a start node that names an existing node, edge endpoints
// that name existing nodes, and known condition operators.
//
// Returns an EngineError with CodeInvalidGraph describing the first problem
// found, or nil when the definition is well-formed.
func (d Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return invalidGraph("definition has no nodes")
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return invalidGraph("node id cannot be empty")
		}
		if n.Function == "" {
			return invalidGraph("node " + n.ID + " has no function name")
		}
		if seen[n.ID] {
			return invalidGraph("duplicate node id: " + n.ID)
		}
		seen[n.ID] = true
	}

	if d.StartNode == "" {
		return invalidGraph("start_node is required")
	}
	if !seen[d.StartNode] {
		return invalidGraph("start_node names unknown node: " + d.StartNode)
	}

	for i, e := range d.Edges {
		if !seen[e.Source] {
			return invalidGraph(fmt.Sprintf("edge %d: source names unknown node: %s", i, e.Source))
		}
		if !seen[e.Target] {
			return invalidGraph(fmt.Sprintf("edge %d: target names unknown node: %s", i, e.Target))
		}
		if e.Condition != nil && !e.Condition.Operator.valid() {
			return invalidGraph(fmt.Sprintf("edge %d: unknown condition operator: %s", i, e.Condition.Operator))
		}
	}

	return nil
}

func invalidGraph(msg string) error {
	return &EngineError{Code: CodeInvalidGraph, Message: msg}
}

// Graph is an immutable, validated workflow definition with lookup and
// transition resolution. A single Graph is safely shared by any number of
// concurrently executing runs.
type Graph struct {
	id    string
	def   Definition
	nodes map[string]NodeSpec
}

// NewGraph validates the definition and wraps it in a Graph with a freshly
// generated id. Validation failures abort before anything is persisted, so
// no partial graph ever reaches the store.
func NewGraph(def Definition) (*Graph, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return newGraph(uuid.NewString(), def), nil
}

// newGraph builds a Graph around an already-validated definition, used when
// rehydrating a stored graph under its original id.
func newGraph(id string, def Definition) *Graph {
	nodes := make(map[string]NodeSpec, len(def.Nodes))
	for _, n := range def.Nodes {
		nodes[n.ID] = n
	}
	return &Graph{id: id, def: def, nodes: nodes}
}

// ID returns the generated graph identifier.
func (g *Graph) ID() string { return g.id }

// StartNode returns the entry node id.
func (g *Graph) StartNode() string { return g.def.StartNode }

// Definition returns the underlying definition.
func (g *Graph) Definition() Definition { return g.def }

// Function resolves the node's registered function.
//
// Fails with CodeNodeNotFound when the id is absent from the graph and
// CodeFunctionNotRegistered when the node names a function the registry
// does not know. Both are first-class errors, never a panic.
func (g *Graph) Function(nodeID string, reg *Registry) (Transformer, error) {
	node, ok := g.nodes[nodeID]
	if !ok {
		return nil, &EngineError{
			Code:    CodeNodeNotFound,
			Message: "node " + nodeID + " not found in graph",
		}
	}
	fn, ok := reg.Get(node.Function)
	if !ok {
		return nil, &EngineError{
			Code:    CodeFunctionNotRegistered,
			Message: "function " + node.Function + " not found in registry",
		}
	}
	return fn, nil
}

// NextNode resolves the transition out of currentID for the given state.
//
// Edges are filtered by source and evaluated in definition order; the first
// edge with no condition or a true condition wins. Returns the empty string
// when no edge matches, which marks currentID as a terminal node. Condition
// evaluation errors propagate so a type-mismatched guard fails the run
// instead of silently routing elsewhere.
func (g *Graph) NextNode(currentID string, state State) (string, error) {
	for _, e := range g.def.Edges {
		if e.Source != currentID {
			continue
		}
		if e.Condition == nil {
			return e.Target, nil
		}
		match, err := e.Condition.Evaluate(state)
		if err != nil {
			return "", err
		}
		if match {
			return e.Target, nil
		}
	}
	return "", nil
}
