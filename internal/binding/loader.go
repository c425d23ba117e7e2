package binding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
)

// Loader handles loading bindings from disk.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	logger       *zap.Logger
	baseLogger   *zap.Logger
}

// NewLoader creates a new binding loader.
func NewLoader(runtime *wasm.Runtime, logger *zap.Logger) *Loader {
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		logger:       logger.With(zap.String("component", "binding-loader")),
		baseLogger:   logger,
	}
}

// LoadBinding loads a single binding from a directory.
func (l *Loader) LoadBinding(ctx context.Context, dir string) (*Binding, error) {
	l.logger.Debug("Loading binding", zap.String("dir", dir))

	// Parse manifest
	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loading binding",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
		zap.Int("types", len(manifest.Types)),
		zap.Int("symbols", len(manifest.Symbols)),
	)

	types, symbols, err := resolve(manifest, l.baseLogger)
	if err != nil {
		return nil, err
	}

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &BindingLoadError{
			BindingName: manifest.Name,
			Err:         err,
		}
	}

	binding := &Binding{
		Manifest: manifest,
		Compiled: compiled,
		Types:    types,
		Symbols:  symbols,
		LoadedAt: time.Now(),
	}

	l.logger.Info("Binding loaded successfully",
		zap.String("name", manifest.Name),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return binding, nil
}

// DiscoverBindings scans directories for bindings. Each subdirectory holding
// a binding.yaml is loaded; failures are logged and skipped.
func (l *Loader) DiscoverBindings(ctx context.Context, paths []string) ([]*Binding, error) {
	var bindings []*Binding
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning binding directory", zap.String("path", basePath))

		// Read subdirectories
		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Binding path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		// Try to load each subdirectory as a binding
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}

			bindingDir := filepath.Join(basePath, entry.Name())

			binding, err := l.LoadBinding(ctx, bindingDir)
			if err != nil {
				l.logger.Error("Failed to load binding",
					zap.String("dir", bindingDir),
					zap.Error(err),
				)
				errs = append(errs, err)
				continue
			}

			bindings = append(bindings, binding)
		}
	}

	// If we found some bindings but had errors, log warning but continue
	if len(bindings) > 0 && len(errs) > 0 {
		l.logger.Warn("Some bindings failed to load",
			zap.Int("loaded", len(bindings)),
			zap.Int("failed", len(errs)),
		)
	}

	// If no bindings loaded, return error
	if len(bindings) == 0 {
		return nil, &NoBindingsFoundError{Paths: paths}
	}

	return bindings, nil
}
