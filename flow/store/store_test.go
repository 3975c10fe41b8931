package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testStore runs the Store contract against any implementation. Every
// backend must pass the same suite.
func testStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("graph round trip", func(t *testing.T) {
		rec := GraphRecord{
			GraphID:    "g1",
			Definition: []byte(`{"start_node":"a"}`),
			CreatedAt:  now,
		}
		if err := st.PutGraph(ctx, rec); err != nil {
			t.Fatalf("PutGraph failed: %v", err)
		}

		got, err := st.GetGraph(ctx, "g1")
		if err != nil {
			t.Fatalf("GetGraph failed: %v", err)
		}
		if got.GraphID != "g1" || string(got.Definition) != `{"start_node":"a"}` {
			t.Errorf("got %+v, want stored graph back", got)
		}
	})

	t.Run("graph not found", func(t *testing.T) {
		if _, err := st.GetGraph(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("run round trip", func(t *testing.T) {
		rec := RunRecord{
			RunID:         "r1",
			GraphID:       "g1",
			Status:        "running",
			CurrentNodeID: "a",
			State:         []byte(`{"x":1}`),
			Logs:          []string{"Starting run r1 with graph g1"},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := st.CreateRun(ctx, rec); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}

		got, err := st.GetRun(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != "running" || got.CurrentNodeID != "a" || got.Version != 0 {
			t.Errorf("got %+v, want fresh run at version 0", got)
		}
		if len(got.Logs) != 1 || got.Logs[0] != rec.Logs[0] {
			t.Errorf("logs = %v, want %v", got.Logs, rec.Logs)
		}
	})

	t.Run("run not found", func(t *testing.T) {
		if _, err := st.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("update increments version", func(t *testing.T) {
		got, err := st.GetRun(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}

		got.Status = "completed"
		got.CurrentNodeID = ""
		got.Logs = append(got.Logs, "No transitions found from a. Ending.")
		v, err := st.UpdateRun(ctx, got)
		if err != nil {
			t.Fatalf("UpdateRun failed: %v", err)
		}
		if v != got.Version+1 {
			t.Errorf("new version = %d, want %d", v, got.Version+1)
		}

		reloaded, err := st.GetRun(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if reloaded.Status != "completed" || reloaded.Version != v {
			t.Errorf("reloaded = %+v, want completed at version %d", reloaded, v)
		}
		if len(reloaded.Logs) != 2 {
			t.Errorf("logs = %v, want both entries", reloaded.Logs)
		}
	})

	t.Run("stale version rejected", func(t *testing.T) {
		got, err := st.GetRun(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}

		stale := got
		stale.Version = got.Version - 1
		if _, err := st.UpdateRun(ctx, stale); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("update of missing run", func(t *testing.T) {
		rec := RunRecord{RunID: "ghost", State: []byte("{}"), Logs: []string{}}
		if _, err := st.UpdateRun(ctx, rec); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
