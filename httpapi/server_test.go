package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dshills/duraflow/flow"
	"github.com/dshills/duraflow/flow/fn"
	"github.com/dshills/duraflow/flow/store"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := flow.NewRegistry()
	if err := fn.RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins failed: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	engine := flow.New(store.NewMemStore(), reg, nil, flow.Options{
		Metrics: flow.NewMetrics(promRegistry),
	})
	return New(engine, zerolog.Nop(), promRegistry).Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 && strings.Contains(w.Header().Get("Content-Type"), "json") {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
		}
	}
	return w, parsed
}

func pipelineDef() map[string]any {
	return map[string]any{
		"start_node": "apply",
		"nodes": []map[string]any{
			{"id": "apply", "function": "apply_rules"},
			{"id": "gate", "function": "wait_for_approval"},
			{"id": "finish", "function": "finish_pipeline"},
		},
		"edges": []map[string]any{
			{"source": "apply", "target": "gate"},
			{"source": "gate", "target": "finish"},
		},
	}
}

func TestAPI_CreateGraph(t *testing.T) {
	router := newTestServer(t)

	t.Run("valid graph", func(t *testing.T) {
		w, body := doJSON(t, router, http.MethodPost, "/graph/create", pipelineDef())
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		if body["graph_id"] == "" || body["graph_id"] == nil {
			t.Error("response missing graph_id")
		}
	})

	t.Run("invalid graph gets 400", func(t *testing.T) {
		def := pipelineDef()
		def["start_node"] = "ghost"
		w, body := doJSON(t, router, http.MethodPost, "/graph/create", def)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if msg, _ := body["error"].(string); !strings.Contains(msg, "INVALID_GRAPH") {
			t.Errorf("error = %q, want INVALID_GRAPH code", msg)
		}
	})

	t.Run("malformed body gets 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/graph/create", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}

func TestAPI_RunAndResume(t *testing.T) {
	router := newTestServer(t)

	_, created := doJSON(t, router, http.MethodPost, "/graph/create", pipelineDef())
	graphID, _ := created["graph_id"].(string)
	if graphID == "" {
		t.Fatal("graph creation failed")
	}

	w, body := doJSON(t, router, http.MethodPost, "/graph/run", map[string]any{
		"graph_id":      graphID,
		"initial_state": map[string]any{"anomaly_count": 10},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["status"] != "awaiting_approval" {
		t.Fatalf("status = %v, want awaiting_approval", body["status"])
	}
	runID, _ := body["run_id"].(string)
	if runID == "" {
		t.Fatal("response missing run_id")
	}
	final, _ := body["final_state"].(map[string]any)
	if final["anomaly_count"] != float64(5) {
		t.Errorf("final_state.anomaly_count = %v, want 5", final["anomaly_count"])
	}

	// Read endpoint uses the "state" key.
	w, body = doJSON(t, router, http.MethodGet, "/graph/state/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state status = %d", w.Code)
	}
	if _, ok := body["state"].(map[string]any); !ok {
		t.Errorf("state response = %v, want a state object", body)
	}

	w, body = doJSON(t, router, http.MethodPost, "/graph/resume/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body = %s", w.Code, w.Body.String())
	}
	if body["status"] != "completed" {
		t.Errorf("status after resume = %v, want completed", body["status"])
	}

	// Resuming a completed run is an idempotent 200.
	w, body = doJSON(t, router, http.MethodPost, "/graph/resume/"+runID, nil)
	if w.Code != http.StatusOK || body["status"] != "completed" {
		t.Errorf("second resume = %d / %v, want 200 / completed", w.Code, body["status"])
	}
}

func TestAPI_ErrorMapping(t *testing.T) {
	router := newTestServer(t)

	t.Run("run on unknown graph is 404", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodPost, "/graph/run", map[string]any{"graph_id": "ghost"})
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("state of unknown run is 404", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodGet, "/graph/state/ghost", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("resume of unknown run is 404", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodPost, "/graph/resume/ghost", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", w.Code)
		}
	})

	t.Run("run missing graph_id is 400", func(t *testing.T) {
		w, _ := doJSON(t, router, http.MethodPost, "/graph/run", map[string]any{})
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})

	t.Run("resume of failed run is 409 with logs", func(t *testing.T) {
		// A graph guarded by a relational condition on a missing key
		// fails its run.
		def := map[string]any{
			"start_node": "a",
			"nodes": []map[string]any{
				{"id": "a", "function": "finish_pipeline"},
				{"id": "b", "function": "finish_pipeline"},
			},
			"edges": []map[string]any{
				{"source": "a", "target": "b", "condition": map[string]any{
					"key": "missing", "operator": "gt", "value": 1,
				}},
			},
		}
		_, created := doJSON(t, router, http.MethodPost, "/graph/create", def)
		graphID, _ := created["graph_id"].(string)

		w, body := doJSON(t, router, http.MethodPost, "/graph/run", map[string]any{"graph_id": graphID})
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("failed run status = %d, want 500", w.Code)
		}
		runID, _ := body["run_id"].(string)
		if runID == "" {
			t.Fatal("failure response must still carry the run_id")
		}

		w, body = doJSON(t, router, http.MethodPost, "/graph/resume/"+runID, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("resume of failed run = %d, want 409", w.Code)
		}
		if body["logs"] == nil {
			t.Error("conflict response should carry the run log for post-mortem")
		}
	})
}

func TestAPI_Tools(t *testing.T) {
	router := newTestServer(t)

	w, body := doJSON(t, router, http.MethodGet, "/tools", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	tools, _ := body["tools"].([]any)
	found := false
	for _, tool := range tools {
		if tool == "wait_for_approval" {
			found = true
		}
	}
	if !found {
		t.Errorf("tools = %v, want wait_for_approval listed", tools)
	}
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	router := newTestServer(t)

	w, body := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d / %v", w.Code, body)
	}

	// Drive a run so execution metrics exist.
	_, created := doJSON(t, router, http.MethodPost, "/graph/create", map[string]any{
		"start_node": "a",
		"nodes":      []map[string]any{{"id": "a", "function": "finish_pipeline"}},
	})
	graphID, _ := created["graph_id"].(string)
	doJSON(t, router, http.MethodPost, "/graph/run", map[string]any{"graph_id": graphID})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "duraflow_runs_total") {
		t.Error("metrics output missing duraflow_runs_total")
	}
	if !strings.Contains(rec.Body.String(), "duraflow_checkpoint_writes_total") {
		t.Error("metrics output missing duraflow_checkpoint_writes_total")
	}
}

// Guards against the engine blocking on a cancelled request context during
// pure reads.
func TestAPI_GetStateWithCancelledContext(t *testing.T) {
	router := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/graph/state/ghost", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 even with cancelled context", w.Code)
	}
}
