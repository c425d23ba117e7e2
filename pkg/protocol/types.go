package protocol

// Report types printed by the abibridge CLI.
// This package defines shared JSON shapes and carries no bridge logic.

// CallReport describes one bridged call.
type CallReport struct {
	Binding   string       `json:"binding"`
	Instance  string       `json:"instance"`
	Symbol    string       `json:"symbol"`
	Signature string       `json:"signature,omitempty"`
	Args      []any        `json:"args"`
	Result    any          `json:"result,omitempty"`
	Cells     []CellReport `json:"cells,omitempty"`
	Error     *ErrorReport `json:"error,omitempty"`
	// Wall time of the call in microseconds.
	DurationMicros int64 `json:"durationMicros"`
}

// CellReport is the value of an in/out argument after the call.
type CellReport struct {
	Index int `json:"index"`
	Value any `json:"value"`
}

// ErrorReport is the structured form of a failed call.
type ErrorReport struct {
	Code    string `json:"code,omitempty"`
	Step    string `json:"step,omitempty"`
	Symbol  string `json:"symbol,omitempty"`
	Path    string `json:"path,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message"`
}

// BindingReport lists what a binding declares.
type BindingReport struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description,omitempty"`
	Wasm        string         `json:"wasm"`
	Exports     []string       `json:"exports"`
	Imports     []string       `json:"imports,omitempty"`
	Types       []TypeReport   `json:"types"`
	Symbols     []SymbolReport `json:"symbols"`
}

// TypeReport is a computed struct layout.
type TypeReport struct {
	Name        string        `json:"name"`
	Size        uint32        `json:"size"`
	Align       uint32        `json:"align"`
	Fingerprint string        `json:"fingerprint"`
	Fields      []FieldReport `json:"fields"`
}

// FieldReport is one field of a layout.
type FieldReport struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset uint32 `json:"offset"`
	Size   uint32 `json:"size"`
}

// SymbolReport is a declared signature and its lowered core form.
type SymbolReport struct {
	Name       string `json:"name"`
	Signature  string `json:"signature"`
	ResultMode string `json:"resultMode"`
	Lowered    string `json:"lowered,omitempty"`
}
