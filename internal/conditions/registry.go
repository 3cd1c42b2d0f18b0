package conditions

import (
	"sync"

	"github.com/voidexforge/gamification-engine/internal/model"
)

// Plugin evaluates a condition type the builtin switch doesn't handle.
type Plugin func(scope *Scope, cond *model.Condition) (bool, string)

// Registry maps condition types to externally provided evaluators (Design
// Notes §9: "unknown tags fail closed" when nothing is registered).
type Registry struct {
	mu      sync.RWMutex
	plugins map[model.ConditionType]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[model.ConditionType]Plugin)}
}

// Register installs plugin for typ, overwriting any previous registration.
func (r *Registry) Register(typ model.ConditionType, plugin Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[typ] = plugin
}

func (r *Registry) Lookup(typ model.ConditionType) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[typ]
	return p, ok
}
