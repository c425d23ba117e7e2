package wasm

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// HostFunctions implements the functions guests import from the "host" module.
type HostFunctions struct {
	logger *zap.Logger
}

// NewHostFunctions creates a new host functions implementation.
func NewHostFunctions(logger *zap.Logger) *HostFunctions {
	return &HostFunctions{
		logger: logger.With(zap.String("component", "wasm-host")),
	}
}

// Log levels accepted by log_message.
const (
	LogLevelDebug uint32 = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

// logMessage is called by Wasm modules to log messages.
// Signature: log_message(level, ptr, length)
// The message is the length-delimited byte span [ptr, ptr+length); embedded
// NUL bytes are kept.
func (h *HostFunctions) logMessage(_ context.Context, mod api.Module, level, ptr, length uint32) {
	mem, err := NewMemory(mod)
	if err != nil {
		h.logger.Error("Guest without memory called log_message", zap.String("module", mod.Name()))
		return
	}

	msg, err := mem.ReadString(ptr, length)
	if err != nil {
		h.logger.Error("Failed to read log message from Wasm memory",
			zap.String("module", mod.Name()),
			zap.Error(err),
		)
		return
	}

	logger := h.logger.With(zap.String("module", mod.Name()))
	switch level {
	case LogLevelDebug:
		logger.Debug(msg)
	case LogLevelInfo:
		logger.Info(msg)
	case LogLevelWarn:
		logger.Warn(msg)
	case LogLevelError:
		logger.Error(msg)
	default:
		logger.Info(msg, zap.Uint32("level", level))
	}
}
