package binding

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
)

// ManifestFile is the manifest name looked up in a binding directory.
const ManifestFile = "binding.yaml"

// Manifest represents the binding.yaml structure.
type Manifest struct {
	Name        string       `yaml:"name"`
	Version     string       `yaml:"version"`
	Description string       `yaml:"description"`
	Wasm        WasmConfig   `yaml:"wasm"`
	Types       []TypeSpec   `yaml:"types"`
	Symbols     []SymbolSpec `yaml:"symbols"`
	Arena       *ArenaSpec   `yaml:"arena"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
}

// TypeSpec declares a record type. Fields are laid out in declaration order.
type TypeSpec struct {
	Name   string      `yaml:"name"`
	Fields []FieldSpec `yaml:"fields"`
}

// FieldSpec is a field name and a type expression such as "i32", "string[16]"
// or "*Point".
type FieldSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// SymbolSpec declares the high-level signature of a guest export.
type SymbolSpec struct {
	Name       string   `yaml:"name"`
	Params     []string `yaml:"params"`
	Result     string   `yaml:"result"`
	ResultMode string   `yaml:"result_mode"`
}

// ArenaSpec overrides the process-wide arena defaults for one binding.
type ArenaSpec struct {
	AllocExport    string `yaml:"alloc_export"`
	FreeExport     string `yaml:"free_export"`
	ReservedOffset uint32 `yaml:"reserved_offset"`
	ReservedSize   uint32 `yaml:"reserved_size"`
}

// Config converts the arena settings for bridge.NewArena.
func (a *ArenaSpec) Config() bridge.ArenaConfig {
	return bridge.ArenaConfig{
		AllocExport:    a.AllocExport,
		FreeExport:     a.FreeExport,
		ReservedOffset: a.ReservedOffset,
		ReservedSize:   a.ReservedSize,
	}
}

// ParseManifest reads and parses binding.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	// Validate manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields. Type expressions are resolved later, when
// the binding's layouts are registered.
func (m *Manifest) Validate() error {
	// Check required fields
	if m.Name == "" {
		return m.invalid("name", "name is required")
	}

	if m.Version == "" {
		return m.invalid("version", "version is required")
	}

	if m.Wasm.File == "" {
		return m.invalid("wasm.file", "wasm.file is required")
	}

	types := make(map[string]bool, len(m.Types))
	for i, t := range m.Types {
		field := fmt.Sprintf("types[%d]", i)
		if t.Name == "" {
			return m.invalid(field+".name", "type name is required")
		}
		if types[t.Name] {
			return m.invalid(field+".name", fmt.Sprintf("duplicate type: %s", t.Name))
		}
		types[t.Name] = true

		for j, f := range t.Fields {
			if f.Name == "" || f.Type == "" {
				return m.invalid(fmt.Sprintf("%s.fields[%d]", field, j), "field name and type are required")
			}
		}
	}

	symbols := make(map[string]bool, len(m.Symbols))
	for i, s := range m.Symbols {
		field := fmt.Sprintf("symbols[%d]", i)
		if s.Name == "" {
			return m.invalid(field+".name", "symbol name is required")
		}
		if symbols[s.Name] {
			return m.invalid(field+".name", fmt.Sprintf("duplicate symbol: %s", s.Name))
		}
		symbols[s.Name] = true

		switch bridge.ResultMode(s.ResultMode) {
		case "", bridge.ResultDirect, bridge.ResultOutParam, bridge.ResultOffset:
		default:
			return m.invalid(field+".result_mode",
				fmt.Sprintf("unknown result mode: %s (must be one of: direct, out_param, offset)", s.ResultMode))
		}
	}

	// Validate Wasm file exists
	wasmPath := m.WasmPath()
	if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

func (m *Manifest) invalid(field, message string) error {
	return &ManifestValidationError{
		Path:    m.Path(),
		Field:   field,
		Message: message,
	}
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
