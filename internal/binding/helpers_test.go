package binding

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasm-abi-bridge/internal/config"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasmtest"
)

const geometryManifest = `
name: geometry
version: 1.0.0
description: shapes over the geometry guest
wasm:
  file: geometry.wasm
types:
  - name: Point
    fields:
      - {name: x, type: i32}
      - {name: y, type: i32}
  - name: Label
    fields:
      - {name: id, type: i32}
      - {name: text, type: string}
symbols:
  - name: sumXY
    params: [Point]
    result: i32
  - name: setLabel
    params: [Label]
  - name: makePoint
    params: [i32, i32]
    result: Point
  - name: newPoint
    params: [i32, i32]
    result: Point
    result_mode: offset
  - name: greet
    result: string
    result_mode: offset
`

// writeBinding creates dir/name holding manifest as binding.yaml and the
// Geometry guest as geometry.wasm.
func writeBinding(t *testing.T, dir, name, manifest string) string {
	t.Helper()

	bindingDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(bindingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bindingDir, ManifestFile), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(bindingDir, "geometry.wasm"), wasmtest.Geometry(), 0o644))
	return bindingDir
}

func newRuntime(t *testing.T) *wasm.Runtime {
	t.Helper()
	ctx := context.Background()

	runtime, err := wasm.NewRuntime(ctx, zaptest.NewLogger(t), wasm.DefaultRuntimeConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close(ctx) })
	return runtime
}

func newManager(t *testing.T, paths ...string) *Manager {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg, err := config.LoadBridgeConfig("")
	require.NoError(t, err)
	cfg.BindingPaths = paths

	return NewManager(cfg, newRuntime(t), wasm.NewHostFunctions(logger), logger)
}
