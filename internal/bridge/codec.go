package bridge

import (
	"context"
	"encoding/binary"
	"sort"
)

// Serialize writes a struct value into alloc according to layout. String and
// pointer fields get their own allocations in scope; the struct stores their
// offsets (and lengths, for strings). Inline strings and nested structs are
// stored in place.
func Serialize(ctx context.Context, scope *Scope, value any, layout *StructLayout, alloc *Allocation) error {
	rec, err := asRecord(value, StructOf(layout))
	if err != nil {
		return err
	}

	buf := make([]byte, layout.Size)
	if err := encodeStruct(ctx, scope, buf, rec, layout); err != nil {
		return err
	}
	return scope.arena.Write(alloc, 0, buf)
}

// Deserialize reads a struct value of layout from alloc. Pointer and string
// fields are resolved into readable regions before any scalar is decoded, so
// a value is only produced once every indirection is known to be valid.
func Deserialize(arena *Arena, alloc *Allocation, layout *StructLayout) (Record, error) {
	buf, err := arena.Read(alloc, 0, layout.Size)
	if err != nil {
		return nil, err
	}
	return decodeStruct(arena, buf, layout)
}

func encodeStruct(ctx context.Context, scope *Scope, dst []byte, rec Record, layout *StructLayout) error {
	for _, name := range fieldNames(rec) {
		if _, ok := layout.Field(name); !ok {
			return &Error{Code: CodeSignatureMismatch, Step: StepMarshal, Path: []string{name}, Detail: "struct '" + layout.Name + "' has no such field"}
		}
	}

	for _, f := range layout.Fields {
		v, ok := rec[f.Name]
		if !ok {
			return &Error{Code: CodeSignatureMismatch, Step: StepMarshal, Path: []string{f.Name}, Detail: "missing field of struct '" + layout.Name + "'"}
		}
		if err := encodeValue(ctx, scope, dst[f.Offset:f.Offset+f.Size], v, f.Type); err != nil {
			return annotate(err, StepMarshal, "", f.Name)
		}
	}
	return nil
}

// encodeValue writes v into dst, which is exactly t.Size() bytes.
func encodeValue(ctx context.Context, scope *Scope, dst []byte, v any, t Type) error {
	switch t.Kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		raw, err := ToGuest(v, t.Kind)
		if err != nil {
			return err
		}
		PutScalar(dst, raw, t.Kind)
		return nil

	case KindString:
		b, err := stringBytes(v, t)
		if err != nil {
			return err
		}
		if t.Inline > 0 {
			if uint64(len(b)) > uint64(t.Inline) {
				return newError(CodeRange, StepMarshal, "%d bytes do not fit in %s", len(b), t)
			}
			binary.LittleEndian.PutUint32(dst, uint32(len(b)))
			copy(dst[4:], b)
			return nil
		}
		if len(b) == 0 {
			binary.LittleEndian.PutUint64(dst, 0)
			return nil
		}
		alloc, err := scope.Allocate(ctx, uint32(len(b)), 1)
		if err != nil {
			return err
		}
		if err := scope.arena.Write(alloc, 0, b); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(dst, alloc.Base)
		binary.LittleEndian.PutUint32(dst[4:], uint32(len(b)))
		return nil

	case KindStruct:
		rec, err := asRecord(v, t)
		if err != nil {
			return err
		}
		return encodeStruct(ctx, scope, dst, rec, t.Layout)

	case KindPointer:
		if v == nil {
			binary.LittleEndian.PutUint32(dst, 0)
			return nil
		}
		alloc, err := encodeSlot(ctx, scope, v, *t.Elem)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(dst, alloc.Base)
		return nil
	}
	return newError(CodeUnknownType, StepMarshal, "cannot encode %s", t)
}

// encodeSlot allocates room for one value of t and writes v into it.
func encodeSlot(ctx context.Context, scope *Scope, v any, t Type) (*Allocation, error) {
	alloc, err := scope.Allocate(ctx, t.Size(), t.Align())
	if err != nil {
		return nil, err
	}
	buf := make([]byte, t.Size())
	if err := encodeValue(ctx, scope, buf, v, t); err != nil {
		return nil, err
	}
	if err := scope.arena.Write(alloc, 0, buf); err != nil {
		return nil, err
	}
	return alloc, nil
}

// encodeSpan stores a string as a length-prefixed span: u32 length, then the
// bytes. This is how a string travels as a call argument.
func encodeSpan(ctx context.Context, scope *Scope, v any) (*Allocation, error) {
	b, err := stringBytes(v, String)
	if err != nil {
		return nil, err
	}
	if uint64(len(b)) > uint64(maxSpanLength) {
		return nil, newError(CodeRange, StepMarshal, "string of %d bytes exceeds the 32-bit address space", len(b))
	}
	alloc, err := scope.Allocate(ctx, 4+uint32(len(b)), 4)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4+len(b))
	binary.LittleEndian.PutUint32(buf, uint32(len(b)))
	copy(buf[4:], b)
	if err := scope.arena.Write(alloc, 0, buf); err != nil {
		return nil, err
	}
	return alloc, nil
}

const maxSpanLength = 1<<32 - 5

// decodeSpan reads a length-prefixed span.
func decodeSpan(arena *Arena, alloc *Allocation) (string, error) {
	hdr, err := arena.Read(alloc, 0, 4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(hdr)
	if uint64(n)+4 > uint64(alloc.Length) {
		return "", newError(CodeOutOfBounds, StepUnmarshal, "string length %d exceeds its %d-byte span", n, alloc.Length-4)
	}
	b, err := arena.Read(alloc, 4, n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStruct(arena *Arena, src []byte, layout *StructLayout) (Record, error) {
	rec := make(Record, len(layout.Fields))

	for _, f := range layout.Fields {
		if f.Type.Kind.IsScalar() {
			continue
		}
		v, err := decodeValue(arena, src[f.Offset:f.Offset+f.Size], f.Type)
		if err != nil {
			return nil, annotate(err, StepUnmarshal, "", f.Name)
		}
		rec[f.Name] = v
	}

	for _, f := range layout.Fields {
		if !f.Type.Kind.IsScalar() {
			continue
		}
		v, err := FromGuest(Scalar(src[f.Offset:], f.Type.Kind), f.Type.Kind)
		if err != nil {
			return nil, annotate(err, StepUnmarshal, "", f.Name)
		}
		rec[f.Name] = v
	}

	return rec, nil
}

// decodeValue reads a value of t from src, which is exactly t.Size() bytes.
func decodeValue(arena *Arena, src []byte, t Type) (any, error) {
	switch t.Kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		return FromGuest(Scalar(src, t.Kind), t.Kind)

	case KindString:
		if t.Inline > 0 {
			n := binary.LittleEndian.Uint32(src)
			if n > t.Inline {
				return nil, newError(CodeOutOfBounds, StepUnmarshal, "inline length %d exceeds capacity %d", n, t.Inline)
			}
			return string(src[4 : 4+n]), nil
		}
		n := binary.LittleEndian.Uint32(src[4:])
		if n == 0 {
			return "", nil
		}
		view, err := arena.View(binary.LittleEndian.Uint32(src), n)
		if err != nil {
			return nil, err
		}
		b, err := arena.Read(view, 0, n)
		if err != nil {
			return nil, err
		}
		return string(b), nil

	case KindStruct:
		return decodeStruct(arena, src, t.Layout)

	case KindPointer:
		ptr := binary.LittleEndian.Uint32(src)
		if ptr == 0 {
			return nil, nil
		}
		return decodeAt(arena, ptr, *t.Elem)
	}
	return nil, newError(CodeUnknownType, StepUnmarshal, "cannot decode %s", t)
}

// decodeAt resolves ptr into a view sized for t and decodes it.
func decodeAt(arena *Arena, ptr uint32, t Type) (any, error) {
	view, err := arena.View(ptr, t.Size())
	if err != nil {
		return nil, err
	}
	return decodeSlot(arena, view, t)
}

func decodeSlot(arena *Arena, alloc *Allocation, t Type) (any, error) {
	buf, err := arena.Read(alloc, 0, t.Size())
	if err != nil {
		return nil, err
	}
	return decodeValue(arena, buf, t)
}

func asRecord(v any, t Type) (Record, error) {
	switch r := v.(type) {
	case Record:
		return r, nil
	case map[string]any:
		return Record(r), nil
	case *Cell:
		if r != nil {
			return asRecord(r.Value, t)
		}
	}
	return nil, mismatch(v, t)
}

func stringBytes(v any, t Type) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	}
	return nil, mismatch(v, t)
}

// fieldNames lists a record's keys in sorted order, for stable diagnostics.
func fieldNames(rec Record) []string {
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
