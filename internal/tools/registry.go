package tools

import (
	"os/exec"
	"sync"

	"github.com/ashureev/agentdeck/internal/domain"
)

// Definition describes a registered tool.
type Definition struct {
	ID             string
	Name           string
	Binary         string // executable probed on PATH
	PanelType      domain.PanelType
	SupportsResume bool
	SupportsInput  bool
}

// Factory builds a Manager for a definition.
type Factory func(def Definition, deps Deps) Manager

type entry struct {
	def      Definition
	factory  Factory
	instance Manager
}

// Registry maps tool ids to managers. Managers are created lazily, once per
// tool id. Binary availability is probed once and cached until invalidated,
// so installing a tool mid-run requires an explicit invalidation.
type Registry struct {
	deps Deps

	mu      sync.Mutex
	entries map[string]*entry
	avail   map[string]error // binary -> probe result
}

// NewRegistry creates an empty registry.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:    deps,
		entries: make(map[string]*entry),
		avail:   make(map[string]error),
	}
}

// NewDefaultRegistry creates a registry with the built-in agent tools.
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry(deps)
	r.Register(Definition{
		ID:             "claude",
		Name:           "Claude Code",
		Binary:         "claude",
		PanelType:      domain.PanelTypeClaude,
		SupportsResume: true,
		SupportsInput:  true,
	}, newClaudeManager)
	r.Register(Definition{
		ID:             "codex",
		Name:           "Codex CLI",
		Binary:         "codex",
		PanelType:      domain.PanelTypeCodex,
		SupportsResume: true,
	}, newCodexManager)
	return r
}

// Register adds a tool. Re-registering an id replaces its definition and
// drops any cached instance.
func (r *Registry) Register(def Definition, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.ID] = &entry{def: def, factory: f}
}

// Definition returns the definition for a tool id.
func (r *Registry) Definition(id string) (Definition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// Definitions lists all registered tools.
func (r *Registry) Definitions() []Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	return out
}

// Manager returns the cached manager for a tool id, creating it on first use.
// The tool's binary must resolve on PATH.
func (r *Registry) Manager(id string) (Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "tool", ID: id}
	}
	if err := r.probeLocked(e.def); err != nil {
		return nil, err
	}
	if e.instance == nil {
		e.instance = e.factory(e.def, r.deps)
	}
	return e.instance, nil
}

// Available reports whether the tool's binary resolves on PATH, using the
// cached probe result.
func (r *Registry) Available(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return &domain.NotFoundError{Resource: "tool", ID: id}
	}
	return r.probeLocked(e.def)
}

// InvalidateAvailability clears the probe cache so the next check hits PATH
// again.
func (r *Registry) InvalidateAvailability() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.avail = make(map[string]error)
}

func (r *Registry) probeLocked(def Definition) error {
	if err, ok := r.avail[def.Binary]; ok {
		return err
	}
	_, err := exec.LookPath(def.Binary)
	if err != nil {
		err = &domain.ToolUnavailableError{Tool: def.ID, Err: err}
	}
	r.avail[def.Binary] = err
	return err
}
