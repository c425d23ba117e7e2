package binding

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest_Valid(t *testing.T) {
	dir := writeBinding(t, t.TempDir(), "geometry", geometryManifest)

	manifest, err := ParseManifest(dir)
	require.NoError(t, err)

	assert.Equal(t, "geometry", manifest.Name)
	assert.Equal(t, "1.0.0", manifest.Version)
	assert.Equal(t, "geometry.wasm", manifest.Wasm.File)
	require.Len(t, manifest.Types, 2)
	assert.Equal(t, []FieldSpec{{Name: "id", Type: "i32"}, {Name: "text", Type: "string"}}, manifest.Types[1].Fields)
	require.Len(t, manifest.Symbols, 5)
	assert.Equal(t, "offset", manifest.Symbols[3].ResultMode)
	assert.Nil(t, manifest.Arena)

	assert.Equal(t, dir, manifest.Dir())
	assert.Equal(t, filepath.Join(dir, "binding.yaml"), manifest.Path())
	assert.Equal(t, filepath.Join(dir, "geometry.wasm"), manifest.WasmPath())
}

func TestParseManifest_Arena(t *testing.T) {
	dir := writeBinding(t, t.TempDir(), "geometry", geometryManifest+`
arena:
  alloc_export: malloc
  reserved_offset: 4096
`)

	manifest, err := ParseManifest(dir)
	require.NoError(t, err)
	require.NotNil(t, manifest.Arena)

	cfg := manifest.Arena.Config()
	assert.Equal(t, "malloc", cfg.AllocExport)
	assert.Equal(t, uint32(4096), cfg.ReservedOffset)
}

func TestParseManifest_NotFound(t *testing.T) {
	_, err := ParseManifest(filepath.Join(t.TempDir(), "nonexistent"))

	var notFound *ManifestNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseManifest_InvalidYAML(t *testing.T) {
	dir := writeBinding(t, t.TempDir(), "broken", "name: [unterminated")

	_, err := ParseManifest(dir)

	var parseErr *ManifestParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestParseManifest_WasmNotFound(t *testing.T) {
	dir := writeBinding(t, t.TempDir(), "geometry",
		strings.Replace(geometryManifest, "file: geometry.wasm", "file: missing.wasm", 1))

	_, err := ParseManifest(dir)

	var wasmErr *WasmNotFoundError
	require.ErrorAs(t, err, &wasmErr)
	assert.Equal(t, "missing.wasm", wasmErr.WasmFile)
}

func TestParseManifest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		field    string
	}{
		{
			name:     "missing name",
			manifest: "version: 1.0.0\nwasm: {file: geometry.wasm}\n",
			field:    "name",
		},
		{
			name:     "missing version",
			manifest: "name: g\nwasm: {file: geometry.wasm}\n",
			field:    "version",
		},
		{
			name:     "missing wasm file",
			manifest: "name: g\nversion: 1.0.0\n",
			field:    "wasm.file",
		},
		{
			name: "unnamed type",
			manifest: `name: g
version: 1.0.0
wasm: {file: geometry.wasm}
types:
  - fields: [{name: x, type: i32}]
`,
			field: "types[0].name",
		},
		{
			name: "duplicate type",
			manifest: `name: g
version: 1.0.0
wasm: {file: geometry.wasm}
types:
  - {name: P, fields: [{name: x, type: i32}]}
  - {name: P, fields: [{name: y, type: i32}]}
`,
			field: "types[1].name",
		},
		{
			name: "untyped field",
			manifest: `name: g
version: 1.0.0
wasm: {file: geometry.wasm}
types:
  - {name: P, fields: [{name: x}]}
`,
			field: "types[0].fields[0]",
		},
		{
			name: "duplicate symbol",
			manifest: `name: g
version: 1.0.0
wasm: {file: geometry.wasm}
symbols:
  - {name: add, params: [i32, i32], result: i32}
  - {name: add, params: [i32, i32], result: i32}
`,
			field: "symbols[1].name",
		},
		{
			name: "unknown result mode",
			manifest: `name: g
version: 1.0.0
wasm: {file: geometry.wasm}
symbols:
  - {name: add, params: [i32, i32], result: i32, result_mode: sideways}
`,
			field: "symbols[0].result_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeBinding(t, t.TempDir(), "g", tt.manifest)

			_, err := ParseManifest(dir)

			var validationErr *ManifestValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}
