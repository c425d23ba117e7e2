package main

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/woxQAQ/wasm-abi-bridge/internal/binding"
	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
	"github.com/woxQAQ/wasm-abi-bridge/pkg/protocol"
)

func invoke(ctx context.Context, session *binding.Session, symbol string, args []any) *protocol.CallReport {
	report := &protocol.CallReport{
		Binding:  session.Binding.Name(),
		Instance: session.Instance.ID,
		Symbol:   symbol,
		Args:     make([]any, len(args)),
	}

	for _, sym := range session.Adapter.Symbols() {
		if sym.Name != symbol {
			continue
		}
		report.Signature = sym.String()
		for i := range args {
			if i < len(sym.Params) {
				args[i] = coerce(args[i], sym.Params[i])
			}
		}
	}

	for i, arg := range args {
		if c, ok := arg.(*bridge.Cell); ok {
			report.Args[i] = jsonValue(c.Value)
		} else {
			report.Args[i] = jsonValue(arg)
		}
	}

	start := time.Now()
	result, err := session.Invoke(ctx, symbol, args...)
	report.DurationMicros = time.Since(start).Microseconds()

	if err != nil {
		report.Error = errorReport(err)
		return report
	}

	report.Result = jsonValue(result)
	for i, arg := range args {
		if c, ok := arg.(*bridge.Cell); ok {
			report.Cells = append(report.Cells, protocol.CellReport{Index: i, Value: jsonValue(c.Value)})
		}
	}
	return report
}

func errorReport(err error) *protocol.ErrorReport {
	report := &protocol.ErrorReport{Message: err.Error()}

	var be *bridge.Error
	if errors.As(err, &be) {
		report.Code = string(be.Code)
		report.Step = string(be.Step)
		report.Symbol = be.Symbol
		report.Path = strings.Join(be.Path, ".")
		report.Detail = be.Detail
	}
	return report
}

// jsonValue makes v encodable: non-finite floats become their text form.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float32:
		return jsonValue(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'g', -1, 64)
		}
		return x
	case bridge.Record:
		out := make(map[string]any, len(x))
		for k, fv := range x {
			out[k] = jsonValue(fv)
		}
		return out
	case map[string]any:
		return jsonValue(bridge.Record(x))
	}
	return v
}

func bindingReport(b *binding.Binding, session *binding.Session) protocol.BindingReport {
	report := protocol.BindingReport{
		Name:        b.Name(),
		Version:     b.Version(),
		Description: b.Manifest.Description,
		Wasm:        b.Manifest.WasmPath(),
		Exports:     b.Compiled.ExportNames(),
		Imports:     b.Compiled.Imports(),
	}

	for _, layout := range b.Types.List() {
		tr := protocol.TypeReport{
			Name:        layout.Name,
			Size:        layout.Size,
			Align:       layout.Align,
			Fingerprint: layout.Fingerprint(),
		}
		for _, f := range layout.Fields {
			tr.Fields = append(tr.Fields, protocol.FieldReport{
				Name:   f.Name,
				Type:   f.Type.String(),
				Offset: f.Offset,
				Size:   f.Size,
			})
		}
		report.Types = append(report.Types, tr)
	}

	for _, sym := range session.Adapter.Symbols() {
		report.Symbols = append(report.Symbols, protocol.SymbolReport{
			Name:       sym.Name,
			Signature:  sym.String(),
			ResultMode: string(sym.ResultMode),
			Lowered:    sym.Lowered(),
		})
	}

	return report
}
