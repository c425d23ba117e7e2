package main

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
)

// parseArgs decodes each literal as YAML. A leading '&' wraps the value in a
// cell so the guest's view of it is reported after the call.
func parseArgs(literals []string) ([]any, error) {
	args := make([]any, len(literals))
	for i, lit := range literals {
		rest, inout := strings.CutPrefix(lit, "&")

		var v any
		if err := yaml.Unmarshal([]byte(rest), &v); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}

		if inout {
			args[i] = bridge.InOut(v)
		} else {
			args[i] = v
		}
	}
	return args, nil
}

// coerce adapts YAML-decoded values to the declared parameter types: integer
// literals become floats for float parameters, scalar literals become text for
// strings and mappings become records.
func coerce(v any, t bridge.Type) any {
	if c, ok := v.(*bridge.Cell); ok {
		c.Value = coerce(c.Value, t)
		return c
	}

	switch t.Kind {
	case bridge.KindFloat32, bridge.KindFloat64:
		switch n := v.(type) {
		case int:
			return float64(n)
		case int64:
			return float64(n)
		case uint64:
			return float64(n)
		}

	case bridge.KindString:
		switch v.(type) {
		case int, int64, uint64, float64, bool:
			return fmt.Sprint(v)
		}

	case bridge.KindStruct:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		rec := make(bridge.Record, len(m))
		for name, fv := range m {
			if f, ok := t.Layout.Field(name); ok {
				rec[name] = coerce(fv, f.Type)
			} else {
				rec[name] = fv
			}
		}
		return rec

	case bridge.KindPointer:
		if v == nil {
			return nil
		}
		return coerce(v, *t.Elem)
	}
	return v
}
