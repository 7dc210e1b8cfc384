package async

import (
	"context"
	"testing"

	"github.com/teranos/datacat/errors"
)

// mockHandler implements JobHandler for testing
type mockHandler struct {
	name string
}

func (m *mockHandler) Execute(ctx context.Context, job *Job) error {
	return nil
}

func (m *mockHandler) Name() string {
	return m.name
}

func TestHandlerRegistry(t *testing.T) {
	t.Run("NewHandlerRegistry creates empty registry", func(t *testing.T) {
		r := NewHandlerRegistry()
		if len(r.Names()) != 0 {
			t.Errorf("Expected empty registry, got %d handlers", len(r.Names()))
		}
	})

	t.Run("Register and Get", func(t *testing.T) {
		r := NewHandlerRegistry()
		handler := &mockHandler{name: "catalog.add"}

		r.Register(handler)

		if got := r.Get("catalog.add"); got != handler {
			t.Errorf("Expected registered handler, got %v", got)
		}
		if !r.Has("catalog.add") {
			t.Error("Expected Has() to return true for registered name")
		}
	})

	t.Run("Get returns nil for unregistered name", func(t *testing.T) {
		r := NewHandlerRegistry()

		if got := r.Get("catalog.unknown"); got != nil {
			t.Errorf("Expected nil for unregistered name, got %v", got)
		}
		if r.Has("catalog.unknown") {
			t.Error("Expected Has() to return false for unregistered name")
		}
	})

	t.Run("Names are sorted", func(t *testing.T) {
		r := NewHandlerRegistry()
		r.Register(&mockHandler{name: "catalog.update"})
		r.Register(&mockHandler{name: "catalog.add"})
		r.Register(&mockHandler{name: "catalog.delete"})

		names := r.Names()
		want := []string{"catalog.add", "catalog.delete", "catalog.update"}
		if len(names) != len(want) {
			t.Fatalf("Expected %d names, got %v", len(want), names)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
			}
		}
	})

	t.Run("Register panics on duplicate", func(t *testing.T) {
		r := NewHandlerRegistry()
		r.Register(&mockHandler{name: "catalog.add"})

		defer func() {
			if recover() == nil {
				t.Error("Expected panic on duplicate registration")
			}
		}()

		r.Register(&mockHandler{name: "catalog.add"})
	})
}

func TestRegistryExecutor(t *testing.T) {
	t.Run("Execute dispatches to registered handler by name", func(t *testing.T) {
		r := NewHandlerRegistry()
		r.Register(&mockHandler{name: "catalog.add"})

		exec := NewRegistryExecutor(r)
		if err := exec.Execute(context.Background(), &Job{HandlerName: "catalog.add"}); err != nil {
			t.Errorf("Expected nil error, got %v", err)
		}
	})

	t.Run("Execute returns ErrNoHandler for unregistered handler", func(t *testing.T) {
		exec := NewRegistryExecutor(NewHandlerRegistry())

		err := exec.Execute(context.Background(), &Job{HandlerName: "catalog.unknown"})
		if !errors.Is(err, ErrNoHandler) {
			t.Errorf("Expected ErrNoHandler, got %v", err)
		}
	})

	t.Run("Execute rejects jobs without a handler name", func(t *testing.T) {
		exec := NewRegistryExecutor(NewHandlerRegistry())

		if err := exec.Execute(context.Background(), &Job{}); err == nil {
			t.Error("Expected error for job without handler name")
		}
	})
}
