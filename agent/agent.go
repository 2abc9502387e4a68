// Package agent defines agent configurations (instructions, model, toolset,
// step budget) and the process-scoped registry the loop and handoff handler
// resolve agents from. The registry is injected explicitly; there is no
// ambient global state.
package agent

import (
	"sync"

	"github.com/scribeflow/scribeflow/model"
	"github.com/scribeflow/scribeflow/tool"
)

// DefaultSteps bounds the number of reasoning/tool-call steps one external
// call may drive when tool calls chain.
const DefaultSteps = 8

// PlanAgentName is the agent driving the planning phase. A handoff may only
// originate from it.
const PlanAgentName = "plan"

// Definition configures one named agent.
type Definition struct {
	Name         string
	Description  string
	Instructions string
	Steps        int // step budget per external call; DefaultSteps when <= 0
	Model        model.Model
	Tools        []tool.Tool
}

// StepBudget returns the configured step budget, defaulting to DefaultSteps.
func (d *Definition) StepBudget() int {
	if d.Steps <= 0 {
		return DefaultSteps
	}
	return d.Steps
}

// Tool returns the named tool from the agent's toolset.
func (d *Definition) Tool(name string) (tool.Tool, bool) {
	for _, t := range d.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// ToolDefinitions exposes the toolset in the declarative form model adapters
// consume.
func (d *Definition) ToolDefinitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(d.Tools))
	for _, t := range d.Tools {
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Registry is a thread-safe collection of agent definitions keyed by name.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: map[string]*Definition{}}
}

// Register adds (or replaces) an agent definition.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Get returns the named definition and whether it exists.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Has reports whether the named agent is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered agent names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}
