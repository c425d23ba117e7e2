package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasm-abi-bridge/internal/wasmtest"
)

func typeOf(t *testing.T, reg *Registry, expr string) Type {
	t.Helper()
	typ, err := reg.ParseType(expr)
	require.NoError(t, err)
	return typ
}

func ptr(t Type) *Type { return &t }

// Scenario A: a struct passed by reference.
func TestInvoke_StructArgument(t *testing.T) {
	ctx := context.Background()
	ad, mod := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{
		Name:   "sumXY",
		Params: []Type{typeOf(t, reg, "Point")},
		Result: ptr(Int32),
	}))

	got, err := ad.Invoke(ctx, "sumXY", Record{"x": 2, "y": 3})
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)

	assert.Empty(t, ad.LiveAllocations())
	assert.Equal(t, uint64(1), frees(t, mod))
}

// Scenario B: scalars only, no arena involvement.
func TestInvoke_Scalars(t *testing.T) {
	ctx := context.Background()
	ad, mod := geometry(t)

	got, err := ad.Invoke(ctx, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(5), got)
	assert.Equal(t, uint64(0), frees(t, mod))

	got, err = ad.Invoke(ctx, "addI64", int64(1)<<40, int64(-1))
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<40-1, got)

	got, err = ad.Invoke(ctx, "scaleF64", 1.5, 4.0)
	require.NoError(t, err)
	assert.Equal(t, 6.0, got)

	got, err = ad.Invoke(ctx, "addF32", float32(0.25), float32(0.5))
	require.NoError(t, err)
	assert.Equal(t, float32(0.75), got)

	assert.Empty(t, ad.LiveAllocations())
	assert.Equal(t, uint64(0), frees(t, mod))
}

// Scenario C: a string field rewritten by the guest, with an embedded NUL.
func TestInvoke_InOutStringField(t *testing.T) {
	ctx := context.Background()
	ad, _ := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{Name: "setLabel", Params: []Type{typeOf(t, reg, "Label")}}))
	require.NoError(t, ad.Declare(Symbol{Name: "labelLen", Params: []Type{typeOf(t, reg, "Label")}, Result: ptr(Int32)}))

	got, err := ad.Invoke(ctx, "labelLen", Record{"id": 1, "text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), got)

	got, err = ad.Invoke(ctx, "labelLen", Record{"id": 1, "text": "a\x00b\x00"})
	require.NoError(t, err)
	assert.Equal(t, int32(4), got)

	cell := InOut(Record{"id": 41, "text": "hi"})
	res, err := ad.Invoke(ctx, "setLabel", cell)
	require.NoError(t, err)
	assert.Nil(t, res)

	assert.Equal(t, Record{"id": int32(42), "text": wasmtest.LabelText}, cell.Value)
	assert.Len(t, cell.Value.(Record)["text"], 5)
	assert.Empty(t, ad.LiveAllocations())
}

// Scenario D: allocation fails when memory cannot grow, nothing stays live.
func TestInvoke_OutOfMemory(t *testing.T) {
	ctx := context.Background()

	mod := instantiate(t, "static", wasmtest.Static())
	reg := NewRegistry(zaptest.NewLogger(t))
	registerFixtureTypes(t, reg)

	ad, err := NewAdapter(mod, reg, &AdapterConfig{Arena: ArenaConfig{ReservedOffset: 4096}}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, ad.Declare(Symbol{Name: "labelLen", Params: []Type{typeOf(t, reg, "Label")}, Result: ptr(Int32)}))

	got, err := ad.Invoke(ctx, "labelLen", Record{"id": 1, "text": "fits"})
	require.NoError(t, err)
	assert.Equal(t, int32(4), got)

	// The struct slot is allocated, then the text cannot be placed.
	big := make([]byte, 70000)
	_, err = ad.Invoke(ctx, "labelLen", Record{"id": 1, "text": big})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfMemory)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "labelLen", be.Symbol)
	assert.Equal(t, []string{"arg0", "text"}, be.Path)

	assert.Empty(t, ad.LiveAllocations())
}

func TestInvoke_OutParamResult(t *testing.T) {
	ctx := context.Background()
	ad, mod := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{
		Name:   "makePoint",
		Params: []Type{Int32, Int32},
		Result: ptr(typeOf(t, reg, "Point")),
	}))

	syms := ad.Symbols()
	require.Len(t, syms, 1)
	assert.Equal(t, ResultOutParam, syms[0].ResultMode)
	assert.Equal(t, "(i32 i32 i32)->()", syms[0].Lowered())

	got, err := ad.Invoke(ctx, "makePoint", 7, -8)
	require.NoError(t, err)
	assert.Equal(t, Record{"x": int32(7), "y": int32(-8)}, got)
	assert.Empty(t, ad.LiveAllocations())
	assert.Equal(t, uint64(1), frees(t, mod))
}

func TestInvoke_OffsetResult(t *testing.T) {
	ctx := context.Background()
	ad, mod := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{
		Name:       "newPoint",
		Params:     []Type{Int32, Int32},
		Result:     ptr(typeOf(t, reg, "Point")),
		ResultMode: ResultOffset,
	}))
	require.NoError(t, ad.Declare(Symbol{
		Name:       "greet",
		Result:     ptr(String),
		ResultMode: ResultOffset,
	}))

	got, err := ad.Invoke(ctx, "newPoint", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, Record{"x": int32(1), "y": int32(2)}, got)
	assert.Equal(t, uint64(1), frees(t, mod), "guest-allocated result is freed")

	got, err = ad.Invoke(ctx, "greet")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)
	assert.Equal(t, uint64(2), frees(t, mod))

	assert.Empty(t, ad.LiveAllocations())
}

func TestInvoke_StringArgument(t *testing.T) {
	ctx := context.Background()
	ad, _ := geometry(t)

	require.NoError(t, ad.Declare(Symbol{Name: "strLen", Params: []Type{String}, Result: ptr(Int32)}))

	for _, s := range []string{"", "x", "with\x00nul", "héllo"} {
		got, err := ad.Invoke(ctx, "strLen", s)
		require.NoError(t, err)
		assert.Equal(t, int32(len(s)), got, "string %q", s)
	}

	got, err := ad.Invoke(ctx, "strLen", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), got)

	// In/out: the guest did not change it, so the same bytes come back.
	cell := InOut("same")
	_, err = ad.Invoke(ctx, "strLen", cell)
	require.NoError(t, err)
	assert.Equal(t, "same", cell.Value)

	assert.Empty(t, ad.LiveAllocations())
}

func TestInvoke_Pointers(t *testing.T) {
	ctx := context.Background()
	ad, _ := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{Name: "nodeSum", Params: []Type{typeOf(t, reg, "*Node")}, Result: ptr(Int32)}))
	require.NoError(t, ad.Declare(Symbol{Name: "movePoint", Params: []Type{typeOf(t, reg, "*Point"), Int32}}))

	got, err := ad.Invoke(ctx, "nodeSum", Record{"value": 4, "next": Record{"value": 6}})
	require.NoError(t, err)
	assert.Equal(t, int32(10), got)

	got, err = ad.Invoke(ctx, "nodeSum", Record{"value": 4, "next": nil})
	require.NoError(t, err)
	assert.Equal(t, int32(4), got)

	cell := InOut(Record{"x": 1, "y": 1})
	_, err = ad.Invoke(ctx, "movePoint", cell, 10)
	require.NoError(t, err)
	assert.Equal(t, Record{"x": int32(11), "y": int32(1)}, cell.Value)

	assert.Empty(t, ad.LiveAllocations())
}

func TestInvoke_GuestTrap(t *testing.T) {
	ctx := context.Background()
	ad, mod := geometry(t)
	reg := ad.Registry()

	_, err := ad.Invoke(ctx, "trap")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuestTrap)

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, StepInvoke, be.Step)
	assert.Equal(t, "trap", be.Symbol)
	assert.NotNil(t, be.Cause)

	// A trap after an argument was marshalled still releases it. nodeSum
	// dereferences its second word, so a Point whose y is far outside memory
	// makes the guest fault.
	require.NoError(t, ad.Declare(Symbol{Name: "nodeSum", Params: []Type{typeOf(t, reg, "Point")}, Result: ptr(Int32)}))
	_, err = ad.Invoke(ctx, "nodeSum", Record{"x": 1, "y": 0x7ffffff0})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuestTrap)
	assert.Empty(t, ad.LiveAllocations())
	assert.Equal(t, uint64(1), frees(t, mod))

	// The instance keeps working after a trap.
	got, err := ad.Invoke(ctx, "add", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got)
	assert.Empty(t, ad.LiveAllocations())
}

func TestInvoke_ResolveErrors(t *testing.T) {
	ctx := context.Background()
	ad, _ := geometry(t)
	reg := ad.Registry()

	_, err := ad.Invoke(ctx, "missing")
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	_, err = ad.Invoke(ctx, "add", 1)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = ad.Invoke(ctx, "add", 1, "two")
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	_, err = ad.Invoke(ctx, "add", int64(1)<<33, 1)
	assert.ErrorIs(t, err, ErrRange)

	err = ad.Declare(Symbol{Name: "missing", Params: []Type{Int32}})
	assert.ErrorIs(t, err, ErrSymbolNotFound)

	// add takes two i32, not an i64.
	err = ad.Declare(Symbol{Name: "add", Params: []Type{Int64, Int32}, Result: ptr(Int32)})
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	// A struct result of sumXY would need a hidden result pointer.
	err = ad.Declare(Symbol{Name: "sumXY", Params: []Type{typeOf(t, reg, "Point")}, Result: ptr(typeOf(t, reg, "Point"))})
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	err = ad.Declare(Symbol{Name: "add", Params: []Type{Int32, Int32}, Result: ptr(typeOf(t, reg, "Point")), ResultMode: ResultDirect})
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	err = ad.Declare(Symbol{Name: "add", Params: []Type{Int32, Int32}, Result: ptr(Int32), ResultMode: "sideways"})
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	assert.Empty(t, ad.Symbols())
}

func TestInvoke_FailureReleasesAllocations(t *testing.T) {
	ctx := context.Background()
	ad, mod := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{
		Name:   "labelLen",
		Params: []Type{typeOf(t, reg, "Label")},
		Result: ptr(Int32),
	}))

	// The struct slot is allocated before text fails to marshal.
	bad := Record{"id": 1, "text": 42}
	_, err := ad.Invoke(ctx, "labelLen", bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureMismatch)

	assert.Empty(t, ad.LiveAllocations())
	assert.Equal(t, uint64(1), frees(t, mod))
}

func TestInvoke_UnsupportedModule(t *testing.T) {
	ctx := context.Background()

	mod := instantiate(t, "bare", wasmtest.Bare())
	reg := NewRegistry(zaptest.NewLogger(t))
	registerFixtureTypes(t, reg)

	ad, err := NewAdapter(mod, reg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	got, err := ad.Invoke(ctx, "add", 20, 22)
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	require.NoError(t, ad.Declare(Symbol{Name: "add", Params: []Type{String, Int32}, Result: ptr(Int32)}))
	_, err = ad.Invoke(ctx, "add", "text", 1)
	assert.ErrorIs(t, err, ErrUnsupportedModule)
}

func TestInvoke_Concurrent(t *testing.T) {
	ctx := context.Background()
	ad, _ := geometry(t)
	reg := ad.Registry()

	require.NoError(t, ad.Declare(Symbol{Name: "labelLen", Params: []Type{typeOf(t, reg, "Label")}, Result: ptr(Int32)}))

	const workers, calls = 8, 25

	var wg sync.WaitGroup
	errs := make(chan error, workers*calls)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			text := string(make([]byte, w+1))
			for i := 0; i < calls; i++ {
				got, err := ad.Invoke(ctx, "labelLen", Record{"id": i, "text": text})
				if err != nil {
					errs <- err
					return
				}
				if got != int32(len(text)) {
					errs <- assert.AnError
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	assert.Equal(t, 1, ad.Arena().PeakMutators())
	assert.Empty(t, ad.LiveAllocations())
}
