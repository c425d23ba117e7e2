// Package wasmtest assembles small WebAssembly binaries for tests.
//
// Modules are built programmatically and encoded to the core binary format,
// so tests run real guests through wazero without a compiler toolchain.
// Imports must be declared before functions: function indices count imports
// first.
package wasmtest

import "bytes"

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	externFunc   = 0x00
	externMemory = 0x02
	externGlobal = 0x03
)

type funcType struct {
	params, results []byte
}

type importFunc struct {
	module, name string
	typ          uint32
}

type function struct {
	typ    uint32
	locals []byte
	body   []byte
}

type global struct {
	typ     byte
	mutable bool
	init    []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type dataSegment struct {
	offset uint32
	data   []byte
}

// Module is a module under construction.
type Module struct {
	types   []funcType
	imports []importFunc
	funcs   []function
	memory  []byte
	globals []global
	exports []export
	data    []dataSegment
}

// New starts an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []byte) uint32 {
	for i, t := range m.types {
		if bytes.Equal(t.params, params) && bytes.Equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// ImportFunc declares an imported function and returns its index.
func (m *Module) ImportFunc(module, name string, params, results []byte) uint32 {
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Memory declares the module's memory. max < 0 leaves it unbounded.
func (m *Module) Memory(min uint32, max int64) *Module {
	var b []byte
	if max < 0 {
		b = append(b, 0x00)
		b = AppendU32(b, min)
	} else {
		b = append(b, 0x01)
		b = AppendU32(b, min)
		b = AppendU32(b, uint32(max))
	}
	m.memory = b
	return m
}

// ExportMemory exports memory 0 under name.
func (m *Module) ExportMemory(name string) *Module {
	m.exports = append(m.exports, export{name: name, kind: externMemory})
	return m
}

// GlobalI32 declares an i32 global and returns its index.
func (m *Module) GlobalI32(mutable bool, init int32) uint32 {
	m.globals = append(m.globals, global{typ: I32, mutable: mutable, init: I32Const(init)})
	return uint32(len(m.globals) - 1)
}

// ExportGlobal exports global idx under name.
func (m *Module) ExportGlobal(name string, idx uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: externGlobal, idx: idx})
	return m
}

// Func defines a function and returns its index. A non-empty name exports
// it. locals lists the extra locals after the parameters; body is the
// instruction sequence without the final end.
func (m *Module) Func(name string, params, results, locals []byte, body ...[]byte) uint32 {
	idx := uint32(len(m.imports) + len(m.funcs))
	m.funcs = append(m.funcs, function{
		typ:    m.typeIndex(params, results),
		locals: locals,
		body:   bytes.Join(body, nil),
	})
	if name != "" {
		m.exports = append(m.exports, export{name: name, kind: externFunc, idx: idx})
	}
	return idx
}

// Data places an active data segment at offset in memory 0.
func (m *Module) Data(offset uint32, data []byte) *Module {
	m.data = append(m.data, dataSegment{offset: offset, data: data})
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(m.types) > 0 {
		sec := AppendU32(nil, uint32(len(m.types)))
		for _, t := range m.types {
			sec = append(sec, 0x60)
			sec = appendVec(sec, t.params)
			sec = appendVec(sec, t.results)
		}
		out = appendSection(out, sectionType, sec)
	}

	if len(m.imports) > 0 {
		sec := AppendU32(nil, uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, externFunc)
			sec = AppendU32(sec, imp.typ)
		}
		out = appendSection(out, sectionImport, sec)
	}

	if len(m.funcs) > 0 {
		sec := AppendU32(nil, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec = AppendU32(sec, f.typ)
		}
		out = appendSection(out, sectionFunction, sec)
	}

	if m.memory != nil {
		sec := AppendU32(nil, 1)
		sec = append(sec, m.memory...)
		out = appendSection(out, sectionMemory, sec)
	}

	if len(m.globals) > 0 {
		sec := AppendU32(nil, uint32(len(m.globals)))
		for _, g := range m.globals {
			sec = append(sec, g.typ)
			if g.mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			sec = append(sec, g.init...)
			sec = append(sec, opEnd)
		}
		out = appendSection(out, sectionGlobal, sec)
	}

	if len(m.exports) > 0 {
		sec := AppendU32(nil, uint32(len(m.exports)))
		for _, e := range m.exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = AppendU32(sec, e.idx)
		}
		out = appendSection(out, sectionExport, sec)
	}

	if len(m.funcs) > 0 {
		sec := AppendU32(nil, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			body := AppendU32(nil, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = AppendU32(body, 1)
				body = append(body, l)
			}
			body = append(body, f.body...)
			body = append(body, opEnd)

			sec = AppendU32(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, sectionCode, sec)
	}

	if len(m.data) > 0 {
		sec := AppendU32(nil, uint32(len(m.data)))
		for _, d := range m.data {
			sec = append(sec, 0x00)
			sec = append(sec, I32Const(int32(d.offset))...)
			sec = append(sec, opEnd)
			sec = appendVec(sec, d.data)
		}
		out = appendSection(out, sectionData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = AppendU32(out, uint32(len(payload)))
	return append(out, payload...)
}

func appendVec(out, items []byte) []byte {
	out = AppendU32(out, uint32(len(items)))
	return append(out, items...)
}

func appendName(out []byte, name string) []byte {
	out = AppendU32(out, uint32(len(name)))
	return append(out, name...)
}

// Types is shorthand for a value type list.
func Types(ts ...byte) []byte {
	return ts
}
