package wasmtest

import (
	"bytes"
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
)

func TestAppendU32(t *testing.T) {
	tests := []struct {
		in   uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{624485, []byte{0xe5, 0x8e, 0x26}},
	}

	for _, tt := range tests {
		if got := AppendU32(nil, tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("AppendU32(%d) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestAppendS64(t *testing.T) {
	tests := []struct {
		in   int64
		want []byte
	}{
		{0, []byte{0x00}},
		{-1, []byte{0x7f}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-8, []byte{0x78}},
		{-123456, []byte{0xc0, 0xbb, 0x78}},
	}

	for _, tt := range tests {
		if got := AppendS64(nil, tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("AppendS64(%d) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestFixturesCompile(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	fixtures := map[string][]byte{
		"geometry": Geometry(),
		"static":   Static(),
		"bare":     Bare(),
		"logging":  Logging(),
	}

	for name, bin := range fixtures {
		if _, err := r.CompileModule(ctx, bin); err != nil {
			t.Errorf("%s: CompileModule() failed: %v", name, err)
		}
	}
}

func TestGeometryExports(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	compiled, err := r.CompileModule(ctx, Geometry())
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"add", "sumXY", "malloc", "free", "setLabel", "newPoint", "greet", "nodeSum"} {
		if _, ok := compiled.ExportedFunctions()[name]; !ok {
			t.Errorf("export %q missing", name)
		}
	}

	mod, err := r.InstantiateWithConfig(ctx, Geometry(), wazero.NewModuleConfig().WithName("geometry"))
	if err != nil {
		t.Fatal(err)
	}

	res, err := mod.ExportedFunction("malloc").Call(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 1024 {
		t.Errorf("first malloc = %d, want 1024", res[0])
	}
	res, err = mod.ExportedFunction("malloc").Call(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 1040 {
		t.Errorf("second malloc = %d, want 1040", res[0])
	}

	// Two pages is the cap.
	res, err = mod.ExportedFunction("malloc").Call(ctx, 200000)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 0 {
		t.Errorf("oversized malloc = %d, want 0", res[0])
	}
}
