package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStore_Contract(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer st.Close()

	testStore(t, st)
}

func TestSQLiteStore_Durability(t *testing.T) {
	// Records written before close are readable after reopening the file.
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "durable.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	now := time.Now().UTC()
	if err := st.PutGraph(ctx, GraphRecord{GraphID: "g1", Definition: []byte("{}"), CreatedAt: now}); err != nil {
		t.Fatalf("PutGraph failed: %v", err)
	}
	rec := RunRecord{
		RunID:         "r1",
		GraphID:       "g1",
		Status:        "awaiting_approval",
		CurrentNodeID: "gate",
		State:         []byte(`{"x":4}`),
		Logs:          []string{"Execution paused at node gate. Awaiting approval."},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := st.CreateRun(ctx, rec); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun after reopen failed: %v", err)
	}
	if got.Status != "awaiting_approval" || got.CurrentNodeID != "gate" {
		t.Errorf("got %+v, want the suspended run back intact", got)
	}
	if string(got.State) != `{"x":4}` {
		t.Errorf("state = %s, want persisted state", got.State)
	}
}

func TestSQLiteStore_Close(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Errorf("double close should be a no-op, got %v", err)
	}
	if _, err := st.GetRun(context.Background(), "r1"); err == nil {
		t.Error("reads after close must fail")
	}
}
