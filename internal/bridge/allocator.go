package bridge

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// allocator is an arena backend. alloc returns the raw address and size to
// hand back to free, plus the aligned base the caller may use.
type allocator interface {
	alloc(ctx context.Context, size, align uint32) (raw, rawSize, base uint32, err error)
	free(ctx context.Context, raw, rawSize, align uint32) error
	name() string
}

func selectAllocator(guest Guest, mem api.Memory, cfg *ArenaConfig) (allocator, error) {
	names := allocCandidates
	if cfg.AllocExport != "" {
		names = []string{cfg.AllocExport}
	}

	var ga *guestAllocator
	for _, name := range names {
		fn := guest.ExportedFunction(name)
		if fn == nil {
			continue
		}
		arity, ok := allocArity(name, fn.Definition())
		if !ok {
			if cfg.AllocExport != "" {
				return nil, newError(CodeUnsupportedModule, StepAllocate, "allocator export '%s' has an unsupported signature", name)
			}
			continue
		}
		ga = &guestAllocator{allocName: name, allocFn: fn, allocArity: arity}
		break
	}

	if ga == nil {
		if cfg.AllocExport != "" {
			return nil, newError(CodeUnsupportedModule, StepAllocate, "guest does not export allocator '%s'", cfg.AllocExport)
		}
		if cfg.ReservedOffset != 0 {
			return newRegionAllocator(mem, cfg.ReservedOffset, cfg.ReservedSize), nil
		}
		return nil, nil
	}

	names = freeCandidates
	if cfg.FreeExport != "" {
		names = []string{cfg.FreeExport}
	}
	for _, name := range names {
		fn := guest.ExportedFunction(name)
		if fn == nil {
			continue
		}
		def := fn.Definition()
		n := len(def.ParamTypes())
		if n < 1 || n > 3 || len(def.ResultTypes()) != 0 || !allI32(def.ParamTypes()) {
			continue
		}
		ga.freeName, ga.freeFn, ga.freeArity = name, fn, n
		break
	}
	if cfg.FreeExport != "" && ga.freeFn == nil {
		return nil, newError(CodeUnsupportedModule, StepAllocate, "guest does not export a usable free function '%s'", cfg.FreeExport)
	}

	return ga, nil
}

// allocArity accepts realloc(old_ptr, old_size, align, new_size) -> ptr,
// alloc(size, align) -> ptr and malloc(size) -> ptr.
func allocArity(name string, def api.FunctionDefinition) (int, bool) {
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(results) != 1 || results[0] != api.ValueTypeI32 || !allI32(params) {
		return 0, false
	}
	switch len(params) {
	case 4:
		return 4, true
	case 1, 2:
		return len(params), name != "cabi_realloc"
	}
	return 0, false
}

func allI32(types []api.ValueType) bool {
	for _, t := range types {
		if t != api.ValueTypeI32 {
			return false
		}
	}
	return true
}

// guestAllocator delegates to the guest's own allocator exports.
type guestAllocator struct {
	allocName  string
	allocFn    api.Function
	allocArity int

	freeName  string
	freeFn    api.Function
	freeArity int
}

func (g *guestAllocator) name() string {
	if g.freeFn == nil {
		return g.allocName
	}
	return g.allocName + "/" + g.freeName
}

func (g *guestAllocator) alloc(ctx context.Context, size, align uint32) (uint32, uint32, uint32, error) {
	ptr, err := g.call(ctx, size, align)
	if err != nil {
		return 0, 0, 0, err
	}
	if ptr%align == 0 {
		return ptr, size, ptr, nil
	}

	// The guest ignored the alignment; retry with room to align inside.
	if err := g.free(ctx, ptr, size, align); err != nil {
		return 0, 0, 0, err
	}
	padded := uint64(size) + uint64(align) - 1
	if padded > math.MaxUint32 {
		return 0, 0, 0, newError(CodeOutOfMemory, StepAllocate, "%d bytes aligned to %d exceed the address space", size, align)
	}
	ptr, err = g.call(ctx, uint32(padded), align)
	if err != nil {
		return 0, 0, 0, err
	}
	return ptr, uint32(padded), uint32(alignTo(uint64(ptr), uint64(align))), nil
}

func (g *guestAllocator) call(ctx context.Context, size, align uint32) (uint32, error) {
	var (
		res []uint64
		err error
	)
	switch g.allocArity {
	case 4:
		res, err = g.allocFn.Call(ctx, 0, 0, uint64(align), uint64(size))
	case 2:
		res, err = g.allocFn.Call(ctx, uint64(size), uint64(align))
	default:
		res, err = g.allocFn.Call(ctx, uint64(size))
	}
	if err != nil {
		return 0, &Error{Code: CodeGuestTrap, Step: StepAllocate, Detail: "allocator export '" + g.allocName + "' trapped", Cause: err}
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, newError(CodeOutOfMemory, StepAllocate, "guest allocator could not provide %d bytes", size)
	}
	return ptr, nil
}

func (g *guestAllocator) free(ctx context.Context, raw, rawSize, align uint32) error {
	if g.freeFn == nil {
		return nil
	}

	var err error
	switch g.freeArity {
	case 3:
		_, err = g.freeFn.Call(ctx, uint64(raw), uint64(rawSize), uint64(align))
	case 2:
		_, err = g.freeFn.Call(ctx, uint64(raw), uint64(rawSize))
	default:
		_, err = g.freeFn.Call(ctx, uint64(raw))
	}
	if err != nil {
		return &Error{Code: CodeGuestTrap, Step: StepRelease, Detail: "free export '" + g.freeName + "' trapped", Cause: err}
	}
	return nil
}

type span struct {
	off, size uint64
}

// regionAllocator manages a reserved range of linear memory on the bridge
// side: first-fit over a sorted, coalesced free list, then bump allocation,
// growing memory a page at a time as the bump pointer advances.
type regionAllocator struct {
	mu    sync.Mutex
	mem   api.Memory
	base  uint64
	limit uint64
	top   uint64
	spans []span
}

func newRegionAllocator(mem api.Memory, offset, size uint32) *regionAllocator {
	limit := uint64(offset) + uint64(size)
	if size == 0 {
		limit = 1 << 32
	}
	return &regionAllocator{mem: mem, base: uint64(offset), limit: limit, top: uint64(offset)}
}

func (r *regionAllocator) name() string { return "reserved-region" }

func (r *regionAllocator) alloc(_ context.Context, size, align uint32) (uint32, uint32, uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.spans {
		start := alignTo(s.off, uint64(align))
		end := start + uint64(size)
		if end > s.off+s.size {
			continue
		}
		r.take(i, start, end)
		return uint32(start), size, uint32(start), nil
	}

	start := alignTo(r.top, uint64(align))
	end := start + uint64(size)
	if end > r.limit {
		return 0, 0, 0, newError(CodeOutOfMemory, StepAllocate, "reserved region [%d, %d) cannot fit %d bytes", r.base, r.limit, size)
	}
	if err := r.ensure(end); err != nil {
		return 0, 0, 0, err
	}
	if start > r.top {
		r.spans = append(r.spans, span{off: r.top, size: start - r.top})
	}
	r.top = end
	return uint32(start), size, uint32(start), nil
}

func (r *regionAllocator) free(_ context.Context, raw, rawSize, _ uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.release(uint64(raw), uint64(rawSize))
	return nil
}

func (r *regionAllocator) ensure(end uint64) error {
	have := uint64(r.mem.Size())
	if end <= have {
		return nil
	}
	pages := (end - have + pageSize - 1) / pageSize
	if _, ok := r.mem.Grow(uint32(pages)); !ok {
		return newError(CodeOutOfMemory, StepAllocate, "linear memory cannot grow by %d pages", pages)
	}
	return nil
}

// take removes [start, end) from span i, keeping any remainder on either side.
func (r *regionAllocator) take(i int, start, end uint64) {
	s := r.spans[i]
	var rest []span
	if start > s.off {
		rest = append(rest, span{off: s.off, size: start - s.off})
	}
	if e := s.off + s.size; end < e {
		rest = append(rest, span{off: end, size: e - end})
	}
	r.spans = append(r.spans[:i], append(rest, r.spans[i+1:]...)...)
}

func (r *regionAllocator) release(off, size uint64) {
	i := sort.Search(len(r.spans), func(i int) bool { return r.spans[i].off > off })
	r.spans = append(r.spans, span{})
	copy(r.spans[i+1:], r.spans[i:])
	r.spans[i] = span{off: off, size: size}

	if i+1 < len(r.spans) && r.spans[i].off+r.spans[i].size == r.spans[i+1].off {
		r.spans[i].size += r.spans[i+1].size
		r.spans = append(r.spans[:i+1], r.spans[i+2:]...)
	}
	if i > 0 && r.spans[i-1].off+r.spans[i-1].size == r.spans[i].off {
		r.spans[i-1].size += r.spans[i].size
		r.spans = append(r.spans[:i], r.spans[i+1:]...)
	}

	// Hand trailing free space back to the bump pointer.
	if last := r.spans[len(r.spans)-1]; last.off+last.size == r.top {
		r.top = last.off
		r.spans = r.spans[:len(r.spans)-1]
	}
}
