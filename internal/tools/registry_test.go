package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func noopHandler(ctx context.Context, tc *Context, args json.RawMessage) (any, error) {
	return "ok", nil
}

func TestRegistryRegister(t *testing.T) {
	t.Run("rejects empty name", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(Tool{Handler: noopHandler}); err == nil {
			t.Error("expected error for empty name")
		}
	})

	t.Run("rejects nil handler", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(Tool{Name: "x"}); err == nil {
			t.Error("expected error for nil handler")
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(Tool{Name: "dup", Handler: noopHandler}); err != nil {
			t.Fatalf("first register: %v", err)
		}
		err := r.Register(Tool{Name: "dup", Handler: noopHandler})
		if err == nil || !strings.Contains(err.Error(), "already registered") {
			t.Errorf("err = %v, want duplicate error", err)
		}
	})

	t.Run("rejects registration after freeze", func(t *testing.T) {
		r := NewRegistry()
		r.Freeze()
		if err := r.Register(Tool{Name: "late", Handler: noopHandler}); err == nil {
			t.Error("expected error after freeze")
		}
	})

	t.Run("defaults to empty object schema", func(t *testing.T) {
		r := NewRegistry()
		if err := r.Register(Tool{Name: "bare", Handler: noopHandler}); err != nil {
			t.Fatalf("register: %v", err)
		}
		tool, ok := r.Get("bare")
		if !ok {
			t.Fatal("tool not found after register")
		}
		if tool.InputSchema.Type != "object" {
			t.Errorf("schema type = %q, want object", tool.InputSchema.Type)
		}
		if tool.InputSchema.Properties == nil || tool.InputSchema.Required == nil {
			t.Error("default schema has nil properties or required")
		}
	})
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(Tool{Name: name, Handler: noopHandler}); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, tool := range list {
		if tool.Name != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, tool.Name, want[i])
		}
	}
}
