package bridge

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Kind tags a type descriptor.
type Kind uint8

const (
	KindInt32 Kind = iota + 1
	KindInt64
	KindFloat32
	KindFloat64
	KindPointer
	KindStruct
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "i32"
	case KindInt64:
		return "i64"
	case KindFloat32:
		return "f32"
	case KindFloat64:
		return "f64"
	case KindPointer:
		return "pointer"
	case KindStruct:
		return "struct"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsScalar reports whether values of this kind travel by value.
func (k Kind) IsScalar() bool {
	return k >= KindInt32 && k <= KindFloat64
}

// pointerSize is the width of a guest address on wasm32.
const pointerSize = 4

// Type describes how a host value is laid out on the guest side.
type Type struct {
	Kind Kind

	// Elem is the pointee of a KindPointer.
	Elem *Type

	// Layout is set for KindStruct.
	Layout *StructLayout

	// Inline is the fixed capacity of an inline string field. Zero means the
	// string lives in its own allocation and the field holds (ptr, len).
	Inline uint32
}

var (
	Int32   = Type{Kind: KindInt32}
	Int64   = Type{Kind: KindInt64}
	Float32 = Type{Kind: KindFloat32}
	Float64 = Type{Kind: KindFloat64}
	String  = Type{Kind: KindString}
)

// InlineString is a string stored in place: a u32 length followed by n bytes.
func InlineString(n uint32) Type {
	return Type{Kind: KindString, Inline: n}
}

// PointerTo is a u32 offset to a separately allocated value of t.
func PointerTo(t Type) Type {
	elem := t
	return Type{Kind: KindPointer, Elem: &elem}
}

// StructOf is a struct value with the given layout.
func StructOf(layout *StructLayout) Type {
	return Type{Kind: KindStruct, Layout: layout}
}

// Size is the number of bytes the type occupies inside a struct.
func (t Type) Size() uint32 {
	switch t.Kind {
	case KindInt32, KindFloat32, KindPointer:
		return 4
	case KindInt64, KindFloat64:
		return 8
	case KindString:
		if t.Inline > 0 {
			return 4 + t.Inline
		}
		return 2 * pointerSize
	case KindStruct:
		if t.Layout == nil {
			return 0
		}
		return t.Layout.Size
	default:
		return 0
	}
}

// Align is the natural alignment of the type.
func (t Type) Align() uint32 {
	switch t.Kind {
	case KindInt64, KindFloat64:
		return 8
	case KindStruct:
		if t.Layout == nil {
			return 1
		}
		return t.Layout.Align
	case KindInt32, KindFloat32, KindPointer, KindString:
		return 4
	default:
		return 1
	}
}

// ValueType is the core wasm value type used when t crosses the call boundary.
// Compound types are passed by reference as an i32 offset.
func (t Type) ValueType() api.ValueType {
	switch t.Kind {
	case KindInt64:
		return api.ValueTypeI64
	case KindFloat32:
		return api.ValueTypeF32
	case KindFloat64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

func (t Type) String() string {
	switch t.Kind {
	case KindPointer:
		if t.Elem == nil {
			return "*?"
		}
		return "*" + t.Elem.String()
	case KindStruct:
		if t.Layout == nil {
			return "struct"
		}
		return t.Layout.Name
	case KindString:
		if t.Inline > 0 {
			return fmt.Sprintf("string[%d]", t.Inline)
		}
		return "string"
	default:
		return t.Kind.String()
	}
}

// Equal compares two descriptors structurally.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Inline != o.Inline {
		return false
	}
	switch t.Kind {
	case KindPointer:
		if t.Elem == nil || o.Elem == nil {
			return t.Elem == o.Elem
		}
		return t.Elem.Equal(*o.Elem)
	case KindStruct:
		return t.Layout.Equal(o.Layout)
	}
	return true
}

// Record is the host-side value of a struct, keyed by field name.
type Record map[string]any

// Cell marks an in/out argument. The adapter decodes the guest's view of the
// value back into Value after the call returns.
type Cell struct {
	Value any
}

// InOut wraps v for in/out passing.
func InOut(v any) *Cell {
	return &Cell{Value: v}
}
