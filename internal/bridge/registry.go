package bridge

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the struct layouts shared by every call on a module.
type Registry struct {
	sync.RWMutex
	layouts map[string]*StructLayout
	logger  *zap.Logger
}

// NewRegistry creates an empty struct descriptor registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		layouts: make(map[string]*StructLayout),
		logger:  logger.With(zap.String("component", "abi-registry")),
	}
}

// Register computes the layout for name and stores it. Registering the same
// field specs again returns the stored layout; a different layout under an
// existing name fails with a layout conflict.
func (r *Registry) Register(name string, fields []FieldSpec) (*StructLayout, error) {
	layout, err := ComputeLayout(name, fields)
	if err != nil {
		return nil, err
	}

	r.Lock()
	defer r.Unlock()

	if existing, ok := r.layouts[name]; ok {
		if existing.Equal(layout) {
			return existing, nil
		}
		return nil, &Error{
			Code:   CodeLayoutConflict,
			Step:   StepRegister,
			Path:   []string{name},
			Detail: "registered as " + existing.String() + ", got " + layout.String(),
		}
	}

	r.layouts[name] = layout

	r.logger.Debug("Struct layout registered",
		zap.String("type", name),
		zap.Uint32("size", layout.Size),
		zap.Uint32("align", layout.Align),
		zap.String("fingerprint", layout.Fingerprint()),
	)

	return layout, nil
}

// Lookup returns the layout registered under name.
func (r *Registry) Lookup(name string) (*StructLayout, error) {
	r.RLock()
	defer r.RUnlock()

	layout, ok := r.layouts[name]
	if !ok {
		return nil, &Error{Code: CodeUnknownType, Step: StepResolve, Path: []string{name}, Detail: "type is not registered"}
	}
	return layout, nil
}

// List returns all layouts ordered by name.
func (r *Registry) List() []*StructLayout {
	r.RLock()
	defer r.RUnlock()

	result := make([]*StructLayout, 0, len(r.layouts))
	for _, l := range r.layouts {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the number of registered layouts.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.layouts)
}

// ParseType resolves a type expression:
//
//	i32 i64 f32 f64       scalars
//	string                (ptr, len) string
//	string[N]             inline string with N bytes of capacity
//	*T                    pointer to T
//	Name                  registered struct
func (r *Registry) ParseType(expr string) (Type, error) {
	expr = strings.TrimSpace(expr)

	switch expr {
	case "i32", "int32":
		return Int32, nil
	case "i64", "int64":
		return Int64, nil
	case "f32", "float32":
		return Float32, nil
	case "f64", "float64":
		return Float64, nil
	case "string":
		return String, nil
	case "":
		return Type{}, &Error{Code: CodeUnknownType, Step: StepResolve, Detail: "empty type expression"}
	}

	if elem, ok := strings.CutPrefix(expr, "*"); ok {
		t, err := r.ParseType(elem)
		if err != nil {
			return Type{}, err
		}
		return PointerTo(t), nil
	}

	if inner, ok := strings.CutPrefix(expr, "string["); ok {
		n, err := strconv.ParseUint(strings.TrimSuffix(inner, "]"), 10, 32)
		if err != nil || !strings.HasSuffix(inner, "]") || n == 0 {
			return Type{}, &Error{Code: CodeUnknownType, Step: StepResolve, Path: []string{expr}, Detail: "malformed inline string capacity"}
		}
		return InlineString(uint32(n)), nil
	}

	layout, err := r.Lookup(expr)
	if err != nil {
		return Type{}, err
	}
	return StructOf(layout), nil
}
