package binding

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
)

// Binding is a loaded binding: its manifest, compiled Wasm module and the
// resolved struct layouts and symbol signatures.
type Binding struct {
	// Manifest is the parsed binding metadata
	Manifest *Manifest

	// Compiled is the compiled Wasm module
	Compiled *wasm.CompiledModule

	// Types holds the layouts declared by the manifest. Every session of the
	// binding shares it.
	Types *bridge.Registry

	// Symbols are the declared signatures in manifest order.
	Symbols []bridge.Symbol

	// LoadedAt is the timestamp when the binding was loaded
	LoadedAt time.Time
}

// Name returns the binding name.
func (b *Binding) Name() string {
	return b.Manifest.Name
}

// Version returns the binding version.
func (b *Binding) Version() string {
	return b.Manifest.Version
}

// Symbol returns the declared signature of name.
func (b *Binding) Symbol(name string) (bridge.Symbol, bool) {
	for _, s := range b.Symbols {
		if s.Name == name {
			return s, true
		}
	}
	return bridge.Symbol{}, false
}

// resolve registers the manifest's types in declaration order and parses its
// symbol signatures. A type may only reference types declared before it.
func resolve(m *Manifest, logger *zap.Logger) (*bridge.Registry, []bridge.Symbol, error) {
	types := bridge.NewRegistry(logger)

	for i, t := range m.Types {
		fields := make([]bridge.FieldSpec, len(t.Fields))
		for j, f := range t.Fields {
			ft, err := types.ParseType(f.Type)
			if err != nil {
				return nil, nil, rejected(m, fmt.Sprintf("types[%d].fields[%d].type", i, j), err)
			}
			fields[j] = bridge.FieldSpec{Name: f.Name, Type: ft}
		}

		if _, err := types.Register(t.Name, fields); err != nil {
			return nil, nil, rejected(m, fmt.Sprintf("types[%d]", i), err)
		}
	}

	symbols := make([]bridge.Symbol, 0, len(m.Symbols))
	for i, s := range m.Symbols {
		sym := bridge.Symbol{
			Name:       s.Name,
			Params:     make([]bridge.Type, len(s.Params)),
			ResultMode: bridge.ResultMode(s.ResultMode),
		}

		for j, p := range s.Params {
			pt, err := types.ParseType(p)
			if err != nil {
				return nil, nil, rejected(m, fmt.Sprintf("symbols[%d].params[%d]", i, j), err)
			}
			sym.Params[j] = pt
		}

		if s.Result != "" {
			rt, err := types.ParseType(s.Result)
			if err != nil {
				return nil, nil, rejected(m, fmt.Sprintf("symbols[%d].result", i), err)
			}
			sym.Result = &rt
		}

		symbols = append(symbols, sym)
	}

	return types, symbols, nil
}

func rejected(m *Manifest, field string, err error) error {
	return &ManifestValidationError{
		Path:    m.Path(),
		Field:   field,
		Message: err.Error(),
		Err:     err,
	}
}
