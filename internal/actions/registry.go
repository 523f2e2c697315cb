package actions

import (
	"context"
	"sync"

	"github.com/KevinKickass/OpenPanelCore/internal/metrics"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

// Func fires a triggerable component.
type Func func(ctx context.Context) error

// ValueFunc sets the value of a number component.
type ValueFunc func(ctx context.Context, value float64) error

// Binding is the callable registered for one component. Number components
// register Set; every other triggerable kind registers Trigger.
type Binding struct {
	Kind    types.ComponentType
	Trigger Func
	Set     ValueFunc
}

// Registry maps component ids to their current binding. Bindings are
// replaced as a whole, never mutated.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		logger:   logger,
	}
}

func (r *Registry) Register(id string, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[id] = b
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, id)
}

func (r *Registry) Lookup(id string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[id]
	return b, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// IDs returns the ids with a registered binding.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	return ids
}

// Trigger invokes the binding of id. A missing binding is a no-op that
// reports ErrMissingTriggerBinding so callers can log or skip.
func (r *Registry) Trigger(ctx context.Context, id string) error {
	b, ok := r.Lookup(id)
	if !ok || b.Trigger == nil {
		r.logger.Debug("No trigger binding", zap.String("component_id", id))
		metrics.RecordTrigger(string(b.Kind), "missing")
		return types.ErrMissingTriggerBinding
	}

	err := b.Trigger(ctx)
	metrics.RecordTrigger(string(b.Kind), outcome(err))
	return err
}

// Set invokes the value binding of id.
func (r *Registry) Set(ctx context.Context, id string, value float64) error {
	b, ok := r.Lookup(id)
	if !ok || b.Set == nil {
		r.logger.Debug("No value binding", zap.String("component_id", id))
		metrics.RecordTrigger(string(b.Kind), "missing")
		return types.ErrMissingTriggerBinding
	}

	err := b.Set(ctx, value)
	metrics.RecordTrigger(string(b.Kind), outcome(err))
	return err
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
