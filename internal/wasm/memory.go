package wasm

import (
	"errors"

	"github.com/tetratelabs/wazero/api"
)

// ErrNoMemory is returned for modules that declare no linear memory.
var ErrNoMemory = errors.New("module has no linear memory")

var errOutOfRange = errors.New("out of range")

// Memory provides bounds-checked reads of a guest's linear memory for host
// functions. Reads copy: the returned bytes stay valid after the guest grows
// or rewrites its memory.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) (*Memory, error) {
	mem := module.Memory()
	if mem == nil {
		return nil, ErrNoMemory
	}
	return &Memory{mem: mem}, nil
}

// ReadBytes copies length bytes starting at ptr.
func (m *Memory) ReadBytes(ptr, length uint32) ([]byte, error) {
	buf, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, &MemoryAccessError{Operation: "read", Address: ptr, Length: length, Err: errOutOfRange}
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// ReadString reads a length-delimited string.
func (m *Memory) ReadString(ptr, length uint32) (string, error) {
	buf, err := m.ReadBytes(ptr, length)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// Size returns the current size of linear memory in bytes.
func (m *Memory) Size() uint32 {
	return m.mem.Size()
}
