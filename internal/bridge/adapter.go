package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// ResultMode says how a compound result comes back from the guest.
type ResultMode string

const (
	// ResultDirect is a scalar returned on the stack.
	ResultDirect ResultMode = "direct"
	// ResultOutParam passes a host-allocated result slot as a hidden first
	// argument; the guest writes the result into it.
	ResultOutParam ResultMode = "out_param"
	// ResultOffset has the guest return an offset into memory it allocated.
	// The adapter reads the value and frees it through the guest's allocator.
	ResultOffset ResultMode = "offset"
)

// Symbol is the typed signature of a guest export.
type Symbol struct {
	Name       string
	Params     []Type
	Result     *Type
	ResultMode ResultMode
}

func (s Symbol) String() string {
	b := []byte(s.Name + "(")
	for i, p := range s.Params {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, p.String()...)
	}
	b = append(b, ')')
	if s.Result != nil {
		b = append(b, " -> "+s.Result.String()...)
		if s.ResultMode != ResultDirect {
			b = append(b, " ["+string(s.ResultMode)+"]"...)
		}
	}
	return string(b)
}

// lower returns the core wasm signature the symbol compiles to.
func (s Symbol) lower() (params, results []api.ValueType) {
	if s.Result != nil && s.ResultMode == ResultOutParam {
		params = append(params, api.ValueTypeI32)
	}
	for _, p := range s.Params {
		params = append(params, p.ValueType())
	}
	if s.Result != nil && s.ResultMode != ResultOutParam {
		results = append(results, s.Result.ValueType())
	}
	return params, results
}

// Lowered formats the core wasm signature, e.g. "(i32 i32 i32)->()".
func (s Symbol) Lowered() string {
	return signature(s.lower())
}

// AdapterConfig configures an adapter.
type AdapterConfig struct {
	Arena ArenaConfig
}

// Adapter invokes the exports of one guest instance with host values. Only
// one invocation runs at a time; concurrent callers wait on the instance lock.
type Adapter struct {
	mu       sync.Mutex
	guest    Guest
	registry *Registry
	arena    *Arena
	symbols  map[string]Symbol
	logger   *zap.Logger
}

// NewAdapter binds an adapter to guest. Struct types are resolved through
// registry.
func NewAdapter(guest Guest, registry *Registry, cfg *AdapterConfig, logger *zap.Logger) (*Adapter, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}

	arena, err := NewArena(guest, &cfg.Arena, logger)
	if err != nil {
		return nil, err
	}

	return &Adapter{
		guest:    guest,
		registry: registry,
		arena:    arena,
		symbols:  make(map[string]Symbol),
		logger:   logger.With(zap.String("component", "abi-adapter"), zap.String("module", guest.Name())),
	}, nil
}

// Declare adds a typed signature for an export. The lowered signature must
// match the export's core wasm signature.
func (ad *Adapter) Declare(sym Symbol) error {
	if sym.Result == nil {
		sym.ResultMode = ResultDirect
	} else if sym.ResultMode == "" {
		if sym.Result.Kind.IsScalar() || sym.Result.Kind == KindPointer {
			sym.ResultMode = ResultDirect
		} else {
			sym.ResultMode = ResultOutParam
		}
	}

	if err := validateSymbol(sym); err != nil {
		return annotate(err, StepResolve, sym.Name)
	}

	fn := ad.guest.ExportedFunction(sym.Name)
	if fn == nil {
		return &Error{Code: CodeSymbolNotFound, Step: StepResolve, Symbol: sym.Name, Detail: "guest does not export it"}
	}

	params, results := sym.lower()
	def := fn.Definition()
	if !sameValueTypes(params, def.ParamTypes()) || !sameValueTypes(results, def.ResultTypes()) {
		return &Error{
			Code:   CodeSignatureMismatch,
			Step:   StepResolve,
			Symbol: sym.Name,
			Detail: fmt.Sprintf("%s lowers to %s but the export is %s",
				sym, signature(params, results), signature(def.ParamTypes(), def.ResultTypes())),
		}
	}

	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.symbols[sym.Name] = sym

	ad.logger.Debug("Symbol declared", zap.Stringer("symbol", sym))
	return nil
}

func validateSymbol(sym Symbol) error {
	for i, p := range sym.Params {
		if err := validateFieldType(p); err != nil {
			return annotate(err, StepResolve, "", fmt.Sprintf("arg%d", i))
		}
	}
	if sym.Result == nil {
		return nil
	}
	if err := validateFieldType(*sym.Result); err != nil {
		return annotate(err, StepResolve, "", "result")
	}

	switch sym.ResultMode {
	case ResultDirect:
		if !sym.Result.Kind.IsScalar() && sym.Result.Kind != KindPointer {
			return newError(CodeSignatureMismatch, StepResolve, "%s cannot be returned directly", sym.Result)
		}
	case ResultOutParam, ResultOffset:
		if sym.Result.Kind.IsScalar() {
			return newError(CodeSignatureMismatch, StepResolve, "scalar %s is returned directly", sym.Result)
		}
	default:
		return newError(CodeSignatureMismatch, StepResolve, "unknown result mode '%s'", sym.ResultMode)
	}
	return nil
}

// Symbols returns the declared symbols ordered by name.
func (ad *Adapter) Symbols() []Symbol {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	result := make([]Symbol, 0, len(ad.symbols))
	for _, s := range ad.symbols {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Registry returns the struct registry used to resolve types.
func (ad *Adapter) Registry() *Registry { return ad.registry }

// Arena returns the instance's arena.
func (ad *Adapter) Arena() *Arena { return ad.arena }

// LiveAllocations lists the arena allocations that are currently live.
func (ad *Adapter) LiveAllocations() []AllocationInfo {
	return ad.arena.ListLive()
}

// Invoke calls the export name with args and returns the host value of its
// result (nil when it returns nothing).
//
// Scalars are passed by value. Strings, structs and pointers are written into
// fresh arena allocations and passed by offset. A *Cell argument is written
// back with the guest's view of the value after the call. Every allocation
// made for the call is released before Invoke returns, on success or failure.
func (ad *Adapter) Invoke(ctx context.Context, name string, args ...any) (result any, err error) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	sym, err := ad.resolve(name)
	if err != nil {
		return nil, err
	}
	if len(args) != len(sym.Params) {
		return nil, &Error{
			Code:   CodeSignatureMismatch,
			Step:   StepResolve,
			Symbol: name,
			Detail: fmt.Sprintf("%s takes %d arguments, got %d", sym, len(sym.Params), len(args)),
		}
	}

	scope := ad.arena.NewScope(name)
	defer func() {
		if rerr := scope.Release(ctx); rerr != nil {
			ad.logger.Warn("Failed to release call allocations", zap.String("symbol", name), zap.Error(rerr))
			if err == nil {
				result, err = nil, annotate(rerr, StepRelease, name)
			}
		}
	}()

	start := time.Now()

	stack := make([]uint64, 0, len(args)+1)

	var retSlot *Allocation
	if sym.Result != nil && sym.ResultMode == ResultOutParam {
		retSlot, err = scope.Allocate(ctx, sym.Result.Size(), sym.Result.Align())
		if err != nil {
			return nil, annotate(err, StepAllocate, name, "result")
		}
		stack = append(stack, uint64(retSlot.Base))
	}

	cells := make([]*Allocation, len(args))
	for i, arg := range args {
		raw, alloc, err := ad.encodeArg(ctx, scope, arg, sym.Params[i])
		if err != nil {
			return nil, annotate(err, StepMarshal, name, fmt.Sprintf("arg%d", i))
		}
		if _, ok := arg.(*Cell); ok {
			cells[i] = alloc
		}
		stack = append(stack, raw)
	}

	fn := ad.guest.ExportedFunction(name)
	res, err := fn.Call(ctx, stack...)
	if err != nil {
		return nil, trapError(name, err)
	}

	result, err = ad.decodeResult(scope, sym, res, retSlot)
	if err != nil {
		return nil, annotate(err, StepUnmarshal, name, "result")
	}

	for i, alloc := range cells {
		if alloc == nil {
			continue
		}
		v, err := ad.decodeArg(alloc, sym.Params[i])
		if err != nil {
			return nil, annotate(err, StepUnmarshal, name, fmt.Sprintf("arg%d", i))
		}
		args[i].(*Cell).Value = v
	}

	ad.logger.Debug("Invoked",
		zap.String("symbol", name),
		zap.Int("allocations", scope.Len()),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}

// resolve finds a declared symbol, or infers a scalar signature from the
// export itself.
func (ad *Adapter) resolve(name string) (Symbol, error) {
	if sym, ok := ad.symbols[name]; ok {
		return sym, nil
	}

	fn := ad.guest.ExportedFunction(name)
	if fn == nil {
		return Symbol{}, &Error{Code: CodeSymbolNotFound, Step: StepResolve, Symbol: name, Detail: "guest does not export it"}
	}

	def := fn.Definition()
	sym := Symbol{Name: name, ResultMode: ResultDirect}
	for _, vt := range def.ParamTypes() {
		t, ok := scalarOf(vt)
		if !ok {
			return Symbol{}, &Error{Code: CodeSignatureMismatch, Step: StepResolve, Symbol: name, Detail: "parameter of type " + api.ValueTypeName(vt) + " is not supported"}
		}
		sym.Params = append(sym.Params, t)
	}
	switch rs := def.ResultTypes(); len(rs) {
	case 0:
	case 1:
		t, ok := scalarOf(rs[0])
		if !ok {
			return Symbol{}, &Error{Code: CodeSignatureMismatch, Step: StepResolve, Symbol: name, Detail: "result of type " + api.ValueTypeName(rs[0]) + " is not supported"}
		}
		sym.Result = &t
	default:
		return Symbol{}, &Error{Code: CodeSignatureMismatch, Step: StepResolve, Symbol: name, Detail: "multiple results are not supported"}
	}
	return sym, nil
}

func (ad *Adapter) encodeArg(ctx context.Context, scope *Scope, arg any, t Type) (uint64, *Allocation, error) {
	if c, ok := arg.(*Cell); ok {
		if c == nil {
			return 0, nil, mismatch(arg, t)
		}
		arg = c.Value
	}

	switch t.Kind {
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		raw, err := ToGuest(arg, t.Kind)
		return raw, nil, err

	case KindString:
		var (
			alloc *Allocation
			err   error
		)
		if t.Inline > 0 {
			alloc, err = encodeSlot(ctx, scope, arg, t)
		} else {
			alloc, err = encodeSpan(ctx, scope, arg)
		}
		if err != nil {
			return 0, nil, err
		}
		return uint64(alloc.Base), alloc, nil

	case KindStruct:
		alloc, err := encodeSlot(ctx, scope, arg, t)
		if err != nil {
			return 0, nil, err
		}
		return uint64(alloc.Base), alloc, nil

	case KindPointer:
		if arg == nil {
			return 0, nil, nil
		}
		alloc, err := encodeSlot(ctx, scope, arg, *t.Elem)
		if err != nil {
			return 0, nil, err
		}
		return uint64(alloc.Base), alloc, nil
	}
	return 0, nil, newError(CodeUnknownType, StepMarshal, "cannot pass %s", t)
}

func (ad *Adapter) decodeArg(alloc *Allocation, t Type) (any, error) {
	switch {
	case t.Kind == KindString && t.Inline == 0:
		return decodeSpan(ad.arena, alloc)
	case t.Kind == KindPointer:
		return decodeSlot(ad.arena, alloc, *t.Elem)
	case t.Kind.IsScalar():
		return nil, nil
	default:
		return decodeSlot(ad.arena, alloc, t)
	}
}

func (ad *Adapter) decodeResult(scope *Scope, sym Symbol, res []uint64, retSlot *Allocation) (any, error) {
	if sym.Result == nil {
		return nil, nil
	}
	t := *sym.Result

	switch sym.ResultMode {
	case ResultOutParam:
		return decodeSlot(ad.arena, retSlot, t)

	case ResultOffset:
		ptr := uint32(res[0])
		if ptr == 0 {
			return nil, nil
		}
		if t.Kind == KindString && t.Inline == 0 {
			hdr, err := ad.arena.View(ptr, 4)
			if err != nil {
				return nil, err
			}
			b, err := ad.arena.Read(hdr, 0, 4)
			if err != nil {
				return nil, err
			}
			n := uint64(Scalar(b, KindInt32))
			if n > maxSpanLength {
				return nil, newError(CodeOutOfBounds, StepUnmarshal, "string length %d exceeds the address space", n)
			}
			alloc, err := scope.Adopt(ptr, 4+uint32(n), 4)
			if err != nil {
				return nil, err
			}
			return decodeSpan(ad.arena, alloc)
		}
		alloc, err := scope.Adopt(ptr, t.Size(), t.Align())
		if err != nil {
			return nil, err
		}
		return decodeSlot(ad.arena, alloc, t)
	}

	if t.Kind == KindPointer {
		ptr := uint32(res[0])
		if ptr == 0 {
			return nil, nil
		}
		return decodeAt(ad.arena, ptr, *t.Elem)
	}
	return FromGuest(res[0], t.Kind)
}

func trapError(symbol string, err error) error {
	e := &Error{Code: CodeGuestTrap, Step: StepInvoke, Symbol: symbol, Cause: err}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		e.Detail = fmt.Sprintf("guest exited with code %d", exit.ExitCode())
	}
	return e
}

func scalarOf(vt api.ValueType) (Type, bool) {
	switch vt {
	case api.ValueTypeI32:
		return Int32, true
	case api.ValueTypeI64:
		return Int64, true
	case api.ValueTypeF32:
		return Float32, true
	case api.ValueTypeF64:
		return Float64, true
	}
	return Type{}, false
}

func sameValueTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func signature(params, results []api.ValueType) string {
	b := []byte("(")
	for i, p := range params {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, api.ValueTypeName(p)...)
	}
	b = append(b, ")->("...)
	for i, r := range results {
		if i > 0 {
			b = append(b, ' ')
		}
		b = append(b, api.ValueTypeName(r)...)
	}
	return string(append(b, ')'))
}
