// Package tools defines the registry of campus tools the dispatcher invokes.
//
// Registration happens once at startup; after Freeze the mapping is
// immutable. The dispatcher alone enforces each tool's auth requirement
// before invoking it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sjtools/jaccount-mcp-go/internal/mcp"
)

// Handler executes a tool invocation. It returns either a plain string
// (passed through verbatim) or any JSON-serializable value, which the
// dispatcher canonicalizes to JSON text.
type Handler func(ctx context.Context, tc *Context, args json.RawMessage) (any, error)

// Tool is a named operation with its discovery metadata.
type Tool struct {
	Name        string
	Description string
	// RequiresAuth gates invocation on a live jAccount session. The
	// dispatcher performs the check; the handler does not re-check.
	RequiresAuth bool
	InputSchema  mcp.ToolInputSchema
	Handler      Handler
}

// Registry maps tool names to descriptors. It is mutable only until Freeze.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	byName map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names and post-freeze registration are
// programming errors surfaced as errors rather than panics so startup can
// report them cleanly.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q has no handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen; cannot register tool %q", t.Name)
	}
	if _, exists := r.byName[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	if t.InputSchema.Type == "" {
		t.InputSchema = emptyInputSchema()
	}
	r.byName[t.Name] = t
	return nil
}

// MustRegister is Register for startup-time manifests where a failure is
// unrecoverable.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns the tool descriptor for name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// List returns every tool's discovery descriptor, ordered by name.
func (r *Registry) List() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mcp.Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func emptyInputSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]mcp.SchemaProperty{},
		Required:   []string{},
	}
}
