package flow

import (
	"context"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Register("f", TransformerFunc(noopFn)); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if _, ok := reg.Get("f"); !ok {
			t.Error("registered function not found")
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Register("", TransformerFunc(noopFn)); err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("nil function rejected", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Register("f", nil); err == nil {
			t.Error("expected error for nil function")
		}
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Register("f", TransformerFunc(noopFn)); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if err := reg.Register("f", TransformerFunc(noopFn)); err == nil {
			t.Error("expected error for duplicate registration")
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		reg := NewRegistry()
		if _, ok := reg.Get("ghost"); ok {
			t.Error("Get of unknown name must report absence")
		}
	})
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zebra", "apple", "mango"} {
		if err := reg.Register(name, TransformerFunc(noopFn)); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	names := reg.Names()
	want := []string{"apple", "mango", "zebra"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q (sorted)", i, names[i], want[i])
		}
	}
}

func TestTransformerFunc(t *testing.T) {
	fn := TransformerFunc(func(_ context.Context, s State) (State, error) {
		s["touched"] = true
		return s, nil
	})
	out, err := fn.Transform(context.Background(), State{})
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if out["touched"] != true {
		t.Error("adapter did not invoke the wrapped function")
	}
}
