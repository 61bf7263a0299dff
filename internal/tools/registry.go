package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry resolves tool names to executors in three tiers: builtins
// registered at startup, dynamic tools (skills, generated agents), and
// MCP tools routed by their mcp__ name prefix.
type Registry struct {
	mu      sync.RWMutex
	static  map[string]Executor
	dynamic map[string]Executor
	mcp     map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{
		static:  make(map[string]Executor),
		dynamic: make(map[string]Executor),
		mcp:     make(map[string]Executor),
	}
}

// RegisterBuiltin installs a process-lifetime tool. Duplicates are a
// wiring bug and rejected.
func (r *Registry) RegisterBuiltin(tool Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition().Name
	if r.lookupLocked(name) != nil {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.static[name] = tool
	return nil
}

// Register adds a dynamic tool. Names with the mcp__ prefix land in the
// MCP tier so a disconnecting server can drop them wholesale.
func (r *Registry) Register(tool Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition().Name
	if r.lookupLocked(name) != nil {
		return fmt.Errorf("tool already registered: %s", name)
	}
	if strings.HasPrefix(name, "mcp__") {
		r.mcp[name] = tool
	} else {
		r.dynamic[name] = tool
	}
	return nil
}

// Unregister removes a dynamic or MCP tool. Builtins stay for the life of
// the process.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dynamic[name]; ok {
		delete(r.dynamic, name)
		return nil
	}
	if _, ok := r.mcp[name]; ok {
		delete(r.mcp, name)
		return nil
	}
	if _, ok := r.static[name]; ok {
		return fmt.Errorf("cannot unregister builtin tool: %s", name)
	}
	return fmt.Errorf("tool not found: %s", name)
}

func (r *Registry) Get(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool := r.lookupLocked(name); tool != nil {
		return tool, nil
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

func (r *Registry) lookupLocked(name string) Executor {
	if tool, ok := r.static[name]; ok {
		return tool
	}
	if tool, ok := r.dynamic[name]; ok {
		return tool
	}
	if tool, ok := r.mcp[name]; ok {
		return tool
	}
	return nil
}

// List returns every definition, sorted by name so prompts are stable.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.static)+len(r.dynamic)+len(r.mcp))
	for _, tier := range []map[string]Executor{r.static, r.dynamic, r.mcp} {
		for _, tool := range tier {
			defs = append(defs, tool.Definition())
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// View restricts the registry to an agent's allowed tool names. A nil or
// empty allow list means the agent sees everything.
func (r *Registry) View(allowed []string) Lookup {
	if len(allowed) == 0 {
		return r
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	return &filteredView{parent: r, allowed: set}
}

type filteredView struct {
	parent  *Registry
	allowed map[string]bool
}

func (v *filteredView) Get(name string) (Executor, error) {
	if !v.allowed[name] {
		return nil, fmt.Errorf("tool not available to this agent: %s", name)
	}
	return v.parent.Get(name)
}

func (v *filteredView) List() []Definition {
	all := v.parent.List()
	defs := make([]Definition, 0, len(all))
	for _, def := range all {
		if v.allowed[def.Name] {
			defs = append(defs, def)
		}
	}
	return defs
}
