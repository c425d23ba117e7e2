package bridge

import (
	"fmt"
	"hash/fnv"
	"io"
	"strings"
)

// FieldSpec declares one struct field in source order.
type FieldSpec struct {
	Name string
	Type Type
}

// Field is a laid-out struct field.
type Field struct {
	Name   string
	Type   Type
	Offset uint32
	Size   uint32
}

// StructLayout is the byte layout of a struct as the guest compiler packs it.
// Layouts are immutable once computed.
type StructLayout struct {
	Name   string
	Fields []Field
	Size   uint32
	Align  uint32

	fingerprint string
	index       map[string]int
}

// ComputeLayout lays fields out in declaration order with natural alignment
// and trailing padding to the struct's alignment (the C ABI rule used by
// clang/rustc/tinygo for wasm32).
func ComputeLayout(name string, specs []FieldSpec) (*StructLayout, error) {
	if name == "" {
		return nil, newError(CodeLayoutConflict, StepRegister, "struct name is required")
	}

	l := &StructLayout{
		Name:   name,
		Fields: make([]Field, 0, len(specs)),
		Align:  1,
		index:  make(map[string]int, len(specs)),
	}

	var offset uint64
	for _, spec := range specs {
		if err := validateFieldType(spec.Type); err != nil {
			return nil, annotate(err, StepRegister, "", name, spec.Name)
		}
		if spec.Name == "" {
			return nil, newError(CodeLayoutConflict, StepRegister, "struct '%s' has an unnamed field", name)
		}
		if _, dup := l.index[spec.Name]; dup {
			return nil, newError(CodeLayoutConflict, StepRegister, "struct '%s' declares field '%s' twice", name, spec.Name)
		}

		align := spec.Type.Align()
		size := spec.Type.Size()

		offset = alignTo(offset, uint64(align))
		if offset+uint64(size) >= maxLayoutSize {
			return nil, newError(CodeRange, StepRegister, "struct '%s' exceeds the 32-bit address space", name)
		}

		l.index[spec.Name] = len(l.Fields)
		l.Fields = append(l.Fields, Field{
			Name:   spec.Name,
			Type:   spec.Type,
			Offset: uint32(offset),
			Size:   size,
		})

		if align > l.Align {
			l.Align = align
		}
		offset += uint64(size)
	}

	total := alignTo(offset, uint64(l.Align))
	if total >= maxLayoutSize {
		return nil, newError(CodeRange, StepRegister, "struct '%s' exceeds the 32-bit address space", name)
	}
	l.Size = uint32(total)
	l.fingerprint = l.computeFingerprint()
	return l, nil
}

const maxLayoutSize = 1 << 32

func alignTo(offset, align uint64) uint64 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) / align * align
}

func validateFieldType(t Type) error {
	switch t.Kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		return nil
	case KindString:
		if t.Inline > maxLayoutSize-1-4 {
			return newError(CodeRange, StepRegister, "inline string capacity %d exceeds the 32-bit address space", t.Inline)
		}
		return nil
	case KindStruct:
		if t.Layout == nil {
			return newError(CodeUnknownType, StepRegister, "struct field without a layout")
		}
		return nil
	case KindPointer:
		if t.Elem == nil {
			return newError(CodeUnknownType, StepRegister, "pointer field without an element type")
		}
		return validateFieldType(*t.Elem)
	default:
		return newError(CodeUnknownType, StepRegister, "unsupported field kind %s", t.Kind)
	}
}

// Field returns the named field.
func (l *StructLayout) Field(name string) (Field, bool) {
	i, ok := l.index[name]
	if !ok {
		return Field{}, false
	}
	return l.Fields[i], true
}

// Fingerprint identifies the exact byte layout. Two layouts with the same
// fingerprint are interchangeable on the wire.
func (l *StructLayout) Fingerprint() string {
	return l.fingerprint
}

// Equal compares two layouts field by field.
func (l *StructLayout) Equal(o *StructLayout) bool {
	if l == nil || o == nil {
		return l == o
	}
	if l == o {
		return true
	}
	if l.Name != o.Name || l.Size != o.Size || l.Align != o.Align || len(l.Fields) != len(o.Fields) {
		return false
	}
	for i, f := range l.Fields {
		g := o.Fields[i]
		if f.Name != g.Name || f.Offset != g.Offset || f.Size != g.Size || !f.Type.Equal(g.Type) {
			return false
		}
	}
	return true
}

func (l *StructLayout) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s{", l.Name)
	for i, f := range l.Fields {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %s @%d", f.Name, f.Type, f.Offset)
	}
	fmt.Fprintf(&b, "} size=%d align=%d", l.Size, l.Align)
	return b.String()
}

func (l *StructLayout) computeFingerprint() string {
	h := fnv.New64a()
	writeLayout(h, l)
	return fmt.Sprintf("%016x", h.Sum64())
}

func writeLayout(w io.Writer, l *StructLayout) {
	fmt.Fprintf(w, "%s:%d:%d{", l.Name, l.Size, l.Align)
	for _, f := range l.Fields {
		fmt.Fprintf(w, "%s:%d:%d:", f.Name, f.Offset, f.Size)
		writeType(w, f.Type)
		w.Write([]byte{';'})
	}
	w.Write([]byte{'}'})
}

func writeType(w io.Writer, t Type) {
	switch t.Kind {
	case KindStruct:
		writeLayout(w, t.Layout)
	case KindPointer:
		w.Write([]byte{'*'})
		writeType(w, *t.Elem)
	default:
		fmt.Fprint(w, t.String())
	}
}
