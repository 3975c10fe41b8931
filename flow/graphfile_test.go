package flow

import "testing"

func TestParseDefinition_YAML(t *testing.T) {
	data := []byte(`
start_node: profile
nodes:
  - id: profile
    function: profile_data
  - id: clean
    function: apply_rules
edges:
  - source: profile
    target: clean
    condition:
      key: anomaly_count
      operator: gt
      value: 0
`)
	def, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}
	if def.StartNode != "profile" {
		t.Errorf("start_node = %q, want profile", def.StartNode)
	}
	if len(def.Nodes) != 2 || len(def.Edges) != 1 {
		t.Fatalf("got %d nodes, %d edges; want 2, 1", len(def.Nodes), len(def.Edges))
	}

	cond := def.Edges[0].Condition
	if cond == nil {
		t.Fatal("condition not parsed")
	}
	if cond.Key != "anomaly_count" || cond.Operator != OpGt {
		t.Errorf("condition = %+v, want anomaly_count gt", cond)
	}
}

func TestParseDefinition_JSON(t *testing.T) {
	// YAML is a superset of JSON, so API bodies parse through the same path.
	data := []byte(`{
		"start_node": "a",
		"nodes": [{"id": "a", "function": "noop"}],
		"edges": []
	}`)
	def, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}
	if def.StartNode != "a" {
		t.Errorf("start_node = %q, want a", def.StartNode)
	}
}

func TestParseDefinition_Errors(t *testing.T) {
	t.Run("malformed input", func(t *testing.T) {
		if _, err := ParseDefinition([]byte("{{not yaml")); !HasCode(err, CodeInvalidGraph) {
			t.Errorf("expected INVALID_GRAPH, got %v", err)
		}
	})

	t.Run("parses but fails validation", func(t *testing.T) {
		data := []byte(`
start_node: ghost
nodes:
  - id: a
    function: noop
`)
		if _, err := ParseDefinition(data); !HasCode(err, CodeInvalidGraph) {
			t.Errorf("expected INVALID_GRAPH, got %v", err)
		}
	})
}
