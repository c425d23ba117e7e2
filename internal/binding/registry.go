package binding

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded bindings.
type Registry struct {
	sync.RWMutex
	bindings map[string]*Binding // name -> binding
	logger   *zap.Logger
}

// NewRegistry creates a new binding registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		bindings: make(map[string]*Binding),
		logger:   logger.With(zap.String("component", "binding-registry")),
	}
}

// Register adds a binding to the registry.
func (r *Registry) Register(binding *Binding) error {
	r.Lock()
	defer r.Unlock()

	name := binding.Manifest.Name

	// Check for duplicates
	if _, exists := r.bindings[name]; exists {
		return &BindingAlreadyRegisteredError{BindingName: name}
	}

	r.bindings[name] = binding

	r.logger.Info("Binding registered",
		zap.String("name", name),
		zap.String("version", binding.Manifest.Version),
	)

	return nil
}

// Get retrieves a binding by name.
func (r *Registry) Get(name string) (*Binding, bool) {
	r.RLock()
	defer r.RUnlock()

	binding, ok := r.bindings[name]
	return binding, ok
}

// List returns all registered bindings ordered by name.
func (r *Registry) List() []*Binding {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Binding, 0, len(r.bindings))
	for _, binding := range r.bindings {
		result = append(result, binding)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Unregister removes a binding from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	if _, ok := r.bindings[name]; !ok {
		return
	}

	delete(r.bindings, name)

	r.logger.Info("Binding unregistered", zap.String("name", name))
}

// Count returns the number of registered bindings.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.bindings)
}
