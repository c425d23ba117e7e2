package wasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostModuleName is the import module guests use for host functions.
const HostModuleName = "host"

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctions

	// The host module is instantiated once per runtime.
	hostOnce sync.Once
	hostErr  error

	seq atomic.Uint64
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctions, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, one is generated).
	InstanceID string
}

// Instance represents an instantiated Wasm module.
// It satisfies bridge.Guest.
type Instance struct {
	module  api.Module
	manager *InstanceManager

	// Instance metadata.
	ID         string
	ModuleName string
	CreatedAt  int64
}

// Instantiate creates a new instance from a compiled module.
// Host functions are exported to the Wasm module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	if limit := m.runtime.config.MaxInstances; limit > 0 && m.runtime.InstanceCount() >= limit {
		return nil, &InstanceLimitError{Limit: limit}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = m.generateID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	if err := m.ensureHostModule(ctx); err != nil {
		return nil, err
	}

	// Start functions are not run; the bridge drives every call.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	instance := &Instance{
		module:     module,
		manager:    m,
		ID:         instanceID,
		ModuleName: config.ModuleName,
		CreatedAt:  time.Now().Unix(),
	}

	m.runtime.StoreInstance(instance)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(module.ExportedFunctionDefinitions())),
		zap.Bool("has_memory", module.Memory() != nil),
	)

	return instance, nil
}

// ensureHostModule instantiates the host import module on first use.
func (m *InstanceManager) ensureHostModule(ctx context.Context) error {
	m.hostOnce.Do(func() {
		builder := m.runtime.runtime.NewHostModuleBuilder(HostModuleName)
		m.exportHostFunctions(builder)

		if _, err := builder.Instantiate(ctx); err != nil {
			m.hostErr = fmt.Errorf("failed to instantiate host module: %w", err)
		}
	})
	return m.hostErr
}

// exportHostFunctions registers Go functions for import by Wasm modules.
func (m *InstanceManager) exportHostFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(m.hostFuncs.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export("log_message")
}

func (m *InstanceManager) generateID() string {
	return fmt.Sprintf("inst-%d-%d", time.Now().UnixNano(), m.seq.Add(1))
}

// Name returns the instance name the runtime knows the module by.
func (i *Instance) Name() string {
	return i.ID
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// Memory returns the instance's linear memory, or nil when it has none.
func (i *Instance) Memory() api.Memory {
	return i.module.Memory()
}

// ExportedFunction looks up an exported function by name.
func (i *Instance) ExportedFunction(name string) api.Function {
	return i.module.ExportedFunction(name)
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	i.manager.runtime.DeleteInstance(i.ID)
	return i.module.Close(ctx)
}
