package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
	"github.com/woxQAQ/wasm-abi-bridge/internal/config"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
)

// Manager manages binding lifecycle.
type Manager struct {
	cfg         *config.BridgeConfig
	runtime     *wasm.Runtime
	loader      *Loader
	registry    *Registry
	instanceMgr *wasm.InstanceManager
	logger      *zap.Logger
	baseLogger  *zap.Logger

	mu     sync.RWMutex
	loaded bool
}

// NewManager creates a new binding manager.
func NewManager(
	cfg *config.BridgeConfig,
	runtime *wasm.Runtime,
	hostFuncs *wasm.HostFunctions,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		runtime:     runtime,
		loader:      NewLoader(runtime, logger),
		registry:    NewRegistry(logger),
		instanceMgr: wasm.NewInstanceManager(runtime, hostFuncs, logger),
		logger:      logger.With(zap.String("component", "binding-manager")),
		baseLogger:  logger,
	}
}

// LoadAll discovers and loads all bindings from configured paths.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		return fmt.Errorf("bindings already loaded")
	}

	m.logger.Info("Loading bindings",
		zap.Strings("paths", m.cfg.BindingPaths),
	)

	// Discover bindings
	bindings, err := m.loader.DiscoverBindings(ctx, m.cfg.BindingPaths)
	if err != nil {
		// No bindings is not fatal; they can still be loaded one by one.
		var noBindings *NoBindingsFoundError
		if errors.As(err, &noBindings) {
			m.logger.Warn("No bindings found in configured paths",
				zap.Strings("paths", m.cfg.BindingPaths),
			)
			m.loaded = true
			return nil
		}
		return err
	}

	// Register all bindings
	for _, binding := range bindings {
		if err := m.registry.Register(binding); err != nil {
			m.logger.Error("Failed to register binding",
				zap.String("name", binding.Manifest.Name),
				zap.Error(err),
			)
			continue
		}
	}

	m.loaded = true

	m.logger.Info("Bindings loaded successfully",
		zap.Int("count", len(bindings)),
	)

	return nil
}

// Load loads and registers the binding in dir.
func (m *Manager) Load(ctx context.Context, dir string) (*Binding, error) {
	binding, err := m.loader.LoadBinding(ctx, dir)
	if err != nil {
		return nil, err
	}

	if err := m.registry.Register(binding); err != nil {
		return nil, err
	}

	return binding, nil
}

// GetBinding retrieves a binding by name.
func (m *Manager) GetBinding(name string) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	binding, ok := m.registry.Get(name)
	if !ok {
		return nil, &BindingNotFoundError{BindingName: name}
	}

	return binding, nil
}

// Open instantiates a binding and wraps the instance in a call adapter with
// every manifest symbol declared.
func (m *Manager) Open(ctx context.Context, bindingName string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	binding, ok := m.registry.Get(bindingName)
	if !ok {
		return nil, &BindingNotFoundError{BindingName: bindingName}
	}

	// InstanceID will be auto-generated
	instance, err := m.instanceMgr.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: binding.Compiled.Name,
	})
	if err != nil {
		return nil, err
	}

	arena := m.cfg.ArenaDefaults()
	if binding.Manifest.Arena != nil {
		arena = binding.Manifest.Arena.Config()
	}

	adapter, err := bridge.NewAdapter(instance, binding.Types, &bridge.AdapterConfig{Arena: arena}, m.baseLogger)
	if err == nil {
		for _, sym := range binding.Symbols {
			if err = adapter.Declare(sym); err != nil {
				break
			}
		}
	}
	if err != nil {
		if closeErr := instance.Close(ctx); closeErr != nil {
			m.logger.Warn("Failed to close instance", zap.String("instance_id", instance.ID), zap.Error(closeErr))
		}
		return nil, &SessionError{BindingName: bindingName, Err: err}
	}

	m.logger.Info("Session opened",
		zap.String("binding", bindingName),
		zap.String("instance_id", instance.ID),
	)

	return &Session{Binding: binding, Instance: instance, Adapter: adapter}, nil
}

// Shutdown gracefully shuts down all bindings.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down binding manager")

	// Runtime close handles instance cleanup
	if err := m.runtime.Close(ctx); err != nil {
		m.logger.Error("Failed to shutdown runtime", zap.Error(err))
		return err
	}

	m.logger.Info("Binding manager shutdown complete")
	return nil
}

// Registry returns the binding registry (for testing/inspection).
func (m *Manager) Registry() *Registry {
	return m.registry
}

// IsLoaded returns whether bindings have been loaded.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}
