package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasm-abi-bridge/internal/wasmtest"
)

// instantiate runs bin in a fresh runtime that is closed with the test.
func instantiate(t *testing.T, name string, bin []byte) api.Module {
	t.Helper()
	ctx := context.Background()

	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })

	mod, err := r.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(name))
	require.NoError(t, err)
	return mod
}

// geometry returns an adapter over the Geometry fixture with Point, Label, Leaf
// and Node registered.
func geometry(t *testing.T) (*Adapter, api.Module) {
	t.Helper()

	mod := instantiate(t, "geometry", wasmtest.Geometry())
	reg := NewRegistry(zaptest.NewLogger(t))
	registerFixtureTypes(t, reg)

	ad, err := NewAdapter(mod, reg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return ad, mod
}

func registerFixtureTypes(t *testing.T, reg *Registry) {
	t.Helper()

	point, err := reg.Register("Point", []FieldSpec{{"x", Int32}, {"y", Int32}})
	require.NoError(t, err)
	require.Equal(t, uint32(8), point.Size)

	label, err := reg.Register("Label", []FieldSpec{{"id", Int32}, {"text", String}})
	require.NoError(t, err)
	require.Equal(t, uint32(12), label.Size)

	leaf, err := reg.Register("Leaf", []FieldSpec{{"value", Int32}})
	require.NoError(t, err)
	node, err := reg.Register("Node", []FieldSpec{{"value", Int32}, {"next", PointerTo(StructOf(leaf))}})
	require.NoError(t, err)
	require.Equal(t, uint32(8), node.Size)
}

func frees(t *testing.T, mod api.Module) uint64 {
	t.Helper()
	return mod.ExportedGlobal("frees").Get()
}
