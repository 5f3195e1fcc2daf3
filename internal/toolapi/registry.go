package toolapi

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Manifest is the name-to-executor entry the registry exposes to the tool
// loop's planner, bundling the compiled JSON-Schema validator alongside the
// executor so step 8 of planning ("JSON-Schema validation of args") never
// recompiles a schema per call.
type Manifest struct {
	Tool   Tool
	schema *jsonschema.Schema
}

// ValidateArgs runs step 8 of planning: JSON-Schema validation of args.
func (m *Manifest) ValidateArgs(args []byte) *Error {
	if m.schema == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return Newf(ErrBadArgs, "arguments are not valid JSON: %v", err)
	}
	if err := m.schema.Validate(v); err != nil {
		return Newf(ErrBadArgs, "%v", err)
	}
	return nil
}

// Registry is the name-to-executor map with manifest described in spec.md
// §2's "Tool Registry" row, grounded on the teacher's LocalToolRegistry
// (registry.go) generalised from a fixed built-in tool set to whatever is
// registered at startup.
type Registry struct {
	mu        sync.RWMutex
	manifests map[string]*Manifest
}

func NewRegistry() *Registry {
	return &Registry{manifests: make(map[string]*Manifest)}
}

// Register compiles the tool's schema once and adds it to the registry.
// Registering a name twice is a DuplicateTool error, per spec.md §3's Tool
// call data model.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.manifests[t.Name()]; exists {
		return Newf(ErrDuplicateTool, "tool %q already registered", t.Name())
	}

	compiled, err := compileSchema(t.Name(), t.Schema())
	if err != nil {
		return fmt.Errorf("toolapi: compile schema for %q: %w", t.Name(), err)
	}
	r.manifests[t.Name()] = &Manifest{Tool: t, schema: compiled}
	return nil
}

func (r *Registry) Get(name string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[name]
	return m, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.manifests))
	for n := range r.manifests {
		out = append(out, n)
	}
	return out
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	url := "mem://tools/" + name + ".json"
	if err := c.AddResource(url, toAny(schema)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

func toAny(m map[string]any) any {
	return map[string]any(m)
}
