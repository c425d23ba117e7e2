package binding

import (
	"fmt"
)

// ManifestNotFoundError occurs when binding.yaml is not found in a directory.
type ManifestNotFoundError struct {
	Path string
	Err  error
}

func (e *ManifestNotFoundError) Error() string {
	return fmt.Sprintf("manifest not found at '%s': %v", e.Path, e.Err)
}

func (e *ManifestNotFoundError) Unwrap() error {
	return e.Err
}

// ManifestParseError occurs when binding.yaml cannot be parsed as valid YAML.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest at '%s': %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// ManifestValidationError occurs when binding.yaml fails validation. Err is
// set when a type or symbol declaration was rejected by the bridge.
type ManifestValidationError struct {
	Path    string
	Field   string
	Message string
	Err     error
}

func (e *ManifestValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("manifest validation failed at '%s': %s (field: %s)",
			e.Path, e.Message, e.Field)
	}
	return fmt.Sprintf("manifest validation failed at '%s': %s", e.Path, e.Message)
}

func (e *ManifestValidationError) Unwrap() error {
	return e.Err
}

// WasmNotFoundError occurs when the Wasm file referenced in manifest doesn't exist.
type WasmNotFoundError struct {
	ManifestPath string
	WasmFile     string
}

func (e *WasmNotFoundError) Error() string {
	return fmt.Sprintf("Wasm file '%s' not found (referenced in manifest '%s')",
		e.WasmFile, e.ManifestPath)
}

// BindingLoadError occurs when binding loading fails.
type BindingLoadError struct {
	BindingName string
	Err         error
}

func (e *BindingLoadError) Error() string {
	return fmt.Sprintf("failed to load binding '%s': %v", e.BindingName, e.Err)
}

func (e *BindingLoadError) Unwrap() error {
	return e.Err
}

// BindingNotFoundError occurs when a binding is not found in the registry.
type BindingNotFoundError struct {
	BindingName string
}

func (e *BindingNotFoundError) Error() string {
	return fmt.Sprintf("binding '%s' not found", e.BindingName)
}

// BindingAlreadyRegisteredError occurs when attempting to register a duplicate binding.
type BindingAlreadyRegisteredError struct {
	BindingName string
}

func (e *BindingAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("binding '%s' is already registered", e.BindingName)
}

// NoBindingsFoundError occurs when no bindings are found in the configured paths.
type NoBindingsFoundError struct {
	Paths []string
}

func (e *NoBindingsFoundError) Error() string {
	return fmt.Sprintf("no bindings found in paths: %v", e.Paths)
}

// SessionError occurs when a binding instance cannot be wired to its adapter.
type SessionError struct {
	BindingName string
	Err         error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("failed to open session for binding '%s': %v", e.BindingName, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
