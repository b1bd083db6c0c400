package tool

import (
	"sort"

	"github.com/convoloop/convoloop/model"
)

// Registry holds the tool capability set of one conversation. It is built
// once before a run and treated as read-only during it; Without produces a
// restricted copy for capability-scoped subagents, leaving the parent set
// untouched.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry constructs a registry from the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

// Add registers a tool, replacing any existing tool of the same name.
func (r *Registry) Add(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Without returns a copy of the registry with the named tools removed. Used
// by the subagent spawner to bound recursion: the spawn tool itself is never
// part of a child capability set.
func (r *Registry) Without(names ...string) *Registry {
	excluded := make(map[string]struct{}, len(names))
	for _, n := range names {
		excluded[n] = struct{}{}
	}
	out := &Registry{tools: make(map[string]Tool, len(r.tools))}
	for name, t := range r.tools {
		if _, skip := excluded[name]; skip {
			continue
		}
		out.tools[name] = t
	}
	return out
}

// Definitions returns the wire schemas for every registered tool, sorted by
// name for deterministic requests.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}
