package binding

import (
	"context"

	"github.com/woxQAQ/wasm-abi-bridge/internal/bridge"
	"github.com/woxQAQ/wasm-abi-bridge/internal/wasm"
)

// Session is one live instance of a binding and the adapter driving it.
// Calls on a session are serialized by the adapter.
type Session struct {
	Binding  *Binding
	Instance *wasm.Instance
	Adapter  *bridge.Adapter
}

// Invoke calls a guest export through the adapter.
func (s *Session) Invoke(ctx context.Context, name string, args ...any) (any, error) {
	return s.Adapter.Invoke(ctx, name, args...)
}

// Close closes the underlying instance.
func (s *Session) Close(ctx context.Context) error {
	return s.Instance.Close(ctx)
}
