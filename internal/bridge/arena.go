package bridge

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Guest is the part of an instantiated module the bridge builds on: its name,
// its linear memory and its exports. wazero's api.Module satisfies it.
type Guest interface {
	Name() string
	Memory() api.Memory
	ExportedFunction(name string) api.Function
}

const pageSize = 65536

// ArenaConfig selects where the arena gets guest memory from.
type ArenaConfig struct {
	// AllocExport and FreeExport name the guest's allocator exports. When empty
	// the arena looks for the usual names (cabi_realloc, malloc, free, ...).
	AllocExport string
	FreeExport  string

	// ReservedOffset/ReservedSize describe a bridge-managed region of linear
	// memory used when the guest exports no allocator. Offset 0 disables the
	// region; size 0 lets it extend to the end of the address space.
	ReservedOffset uint32
	ReservedSize   uint32
}

var (
	allocCandidates = []string{"cabi_realloc", "malloc", "alloc", "allocate"}
	freeCandidates  = []string{"free", "cabi_free", "dealloc", "deallocate"}
)

// Allocation is a region of guest linear memory handed out by the arena.
type Allocation struct {
	ID     uint64
	Base   uint32
	Length uint32
	Align  uint32

	raw     uint32
	rawSize uint32
	owner   string
	live    bool
	owned   bool
}

// Live reports whether the allocation can still be read or written.
func (a *Allocation) Live() bool { return a != nil && a.live }

// Owned is false for borrowed views of memory the guest manages itself.
func (a *Allocation) Owned() bool { return a != nil && a.owned }

// AllocationInfo describes a live allocation for diagnostics.
type AllocationInfo struct {
	ID     uint64 `json:"id"`
	Base   uint32 `json:"base"`
	Length uint32 `json:"length"`
	Align  uint32 `json:"align"`
	Owner  string `json:"owner,omitempty"`
}

// Arena manages host-requested regions of one module instance's linear
// memory. It is the only component that addresses raw guest offsets.
//
// An arena is not safe for concurrent mutation: callers serialize access (the
// Adapter holds its instance lock for the whole invocation).
type Arena struct {
	guest   Guest
	mem     api.Memory
	backend allocator
	logger  *zap.Logger

	mu     sync.Mutex
	live   map[uint64]*Allocation
	nextID uint64

	active atomic.Int32
	peak   atomic.Int32
}

// NewArena binds an arena to guest. A guest without any allocator and
// without a reserved region still gets an arena; Allocate then fails with
// an unsupported-module error.
func NewArena(guest Guest, cfg *ArenaConfig, logger *zap.Logger) (*Arena, error) {
	if cfg == nil {
		cfg = &ArenaConfig{}
	}

	a := &Arena{
		guest:  guest,
		mem:    guest.Memory(),
		live:   make(map[uint64]*Allocation),
		logger: logger.With(zap.String("component", "abi-arena"), zap.String("module", guest.Name())),
	}

	if a.mem == nil {
		a.logger.Debug("Guest has no linear memory; arena disabled")
		return a, nil
	}

	backend, err := selectAllocator(guest, a.mem, cfg)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	if backend != nil {
		a.logger.Debug("Arena allocator selected", zap.String("allocator", backend.name()))
	} else {
		a.logger.Debug("Guest exports no allocator and no reserved region is configured")
	}

	return a, nil
}

// Allocate reserves length bytes aligned to align (a power of two, 0 means 1).
func (a *Arena) Allocate(ctx context.Context, length, align uint32) (*Allocation, error) {
	return a.allocate(ctx, length, align, "")
}

func (a *Arena) allocate(ctx context.Context, length, align uint32, owner string) (*Allocation, error) {
	defer a.enter()()

	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return nil, newError(CodeRange, StepAllocate, "alignment %d is not a power of two", align)
	}
	if a.backend == nil {
		return nil, &Error{
			Code:   CodeUnsupportedModule,
			Step:   StepAllocate,
			Detail: "guest '" + a.guest.Name() + "' exports no allocator and no reserved region is configured",
		}
	}

	size := length
	if size == 0 {
		size = 1
	}

	raw, rawSize, base, err := a.backend.alloc(ctx, size, align)
	if err != nil {
		return nil, err
	}

	if uint64(base)+uint64(length) > uint64(a.mem.Size()) {
		_ = a.backend.free(ctx, raw, rawSize, align)
		return nil, newError(CodeOutOfBounds, StepAllocate, "allocator returned %d+%d outside linear memory", base, length)
	}

	alloc := &Allocation{
		Base:    base,
		Length:  length,
		Align:   align,
		raw:     raw,
		rawSize: rawSize,
		owner:   owner,
		live:    true,
		owned:   true,
	}
	a.track(alloc)

	a.logger.Debug("Allocated",
		zap.Uint64("id", alloc.ID),
		zap.Uint32("base", base),
		zap.Uint32("length", length),
		zap.Uint32("align", align),
		zap.String("owner", owner),
	)

	return alloc, nil
}

// Adopt takes ownership of length bytes at ptr that the guest allocated with
// its own allocator, so that freeing the handle returns them to the guest.
// Without a guest allocator the region is returned as a borrowed view.
func (a *Arena) Adopt(ptr, length, align uint32) (*Allocation, error) {
	return a.adopt(ptr, length, align, "")
}

func (a *Arena) adopt(ptr, length, align uint32, owner string) (*Allocation, error) {
	view, err := a.View(ptr, length)
	if err != nil {
		return nil, err
	}
	if _, ok := a.backend.(*guestAllocator); !ok || ptr == 0 {
		return view, nil
	}

	defer a.enter()()

	view.Align = align
	view.raw = ptr
	view.rawSize = length
	view.owner = owner
	view.owned = true
	a.track(view)
	return view, nil
}

// View returns a borrowed handle over guest memory at [ptr, ptr+length). The
// handle is never tracked or freed.
func (a *Arena) View(ptr, length uint32) (*Allocation, error) {
	if a.mem == nil {
		return nil, newError(CodeUnsupportedModule, StepUnmarshal, "guest '%s' has no linear memory", a.guest.Name())
	}
	if uint64(ptr)+uint64(length) > uint64(a.mem.Size()) {
		return nil, newError(CodeOutOfBounds, StepUnmarshal, "region %d+%d exceeds linear memory of %d bytes", ptr, length, a.mem.Size())
	}
	return &Allocation{Base: ptr, Length: length, Align: 1, raw: ptr, rawSize: length, live: true}, nil
}

// Write copies data into alloc at offset.
func (a *Arena) Write(alloc *Allocation, offset uint32, data []byte) error {
	defer a.enter()()

	if err := a.check(alloc, offset, uint64(len(data)), StepMarshal); err != nil {
		return err
	}
	if !a.mem.Write(alloc.Base+offset, data) {
		return newError(CodeOutOfBounds, StepMarshal, "write of %d bytes at %d failed", len(data), alloc.Base+offset)
	}
	return nil
}

// Read copies length bytes out of alloc starting at offset.
func (a *Arena) Read(alloc *Allocation, offset, length uint32) ([]byte, error) {
	if err := a.check(alloc, offset, uint64(length), StepUnmarshal); err != nil {
		return nil, err
	}
	buf, ok := a.mem.Read(alloc.Base+offset, length)
	if !ok {
		return nil, newError(CodeOutOfBounds, StepUnmarshal, "read of %d bytes at %d failed", length, alloc.Base+offset)
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// Free releases alloc. Freeing twice, or freeing a borrowed view, is a no-op.
func (a *Arena) Free(ctx context.Context, alloc *Allocation) error {
	if alloc == nil || !alloc.owned {
		return nil
	}

	defer a.enter()()

	a.mu.Lock()
	if !alloc.live {
		a.mu.Unlock()
		return nil
	}
	alloc.live = false
	delete(a.live, alloc.ID)
	a.mu.Unlock()

	a.logger.Debug("Freed",
		zap.Uint64("id", alloc.ID),
		zap.Uint32("base", alloc.Base),
		zap.Uint32("length", alloc.Length),
	)

	if err := a.backend.free(ctx, alloc.raw, alloc.rawSize, alloc.Align); err != nil {
		return annotate(err, StepRelease, "")
	}
	return nil
}

// ListLive returns the live allocations ordered by base offset.
func (a *Arena) ListLive() []AllocationInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]AllocationInfo, 0, len(a.live))
	for _, alloc := range a.live {
		result = append(result, AllocationInfo{
			ID:     alloc.ID,
			Base:   alloc.Base,
			Length: alloc.Length,
			Align:  alloc.Align,
			Owner:  alloc.owner,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Base < result[j].Base })
	return result
}

// PeakMutators is the highest number of Allocate/Write/Free calls observed
// running at the same time.
func (a *Arena) PeakMutators() int {
	return int(a.peak.Load())
}

// Allocator names the allocation strategy in use, or "" when none.
func (a *Arena) Allocator() string {
	if a.backend == nil {
		return ""
	}
	return a.backend.name()
}

func (a *Arena) check(alloc *Allocation, offset uint32, length uint64, step Step) error {
	if alloc == nil {
		return newError(CodeOutOfBounds, step, "nil allocation")
	}
	if !alloc.live {
		return newError(CodeOutOfBounds, step, "allocation %d has been released", alloc.ID)
	}
	if uint64(offset)+length > uint64(alloc.Length) {
		return newError(CodeOutOfBounds, step, "access %d+%d exceeds allocation of %d bytes", offset, length, alloc.Length)
	}
	return nil
}

func (a *Arena) track(alloc *Allocation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.nextID++
	alloc.ID = a.nextID
	a.live[alloc.ID] = alloc
}

func (a *Arena) enter() func() {
	n := a.active.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return func() { a.active.Add(-1) }
}

// Scope groups the allocations of one invocation so they can be released
// together on every exit path.
type Scope struct {
	arena  *Arena
	label  string
	allocs []*Allocation
}

// NewScope starts a release scope. label is recorded as the owner of every
// allocation made through it.
func (a *Arena) NewScope(label string) *Scope {
	return &Scope{arena: a, label: label}
}

// Arena returns the arena the scope allocates from.
func (s *Scope) Arena() *Arena { return s.arena }

// Allocate allocates from the arena and records the allocation in the scope.
func (s *Scope) Allocate(ctx context.Context, length, align uint32) (*Allocation, error) {
	alloc, err := s.arena.allocate(ctx, length, align, s.label)
	if err != nil {
		return nil, err
	}
	s.allocs = append(s.allocs, alloc)
	return alloc, nil
}

// Adopt is Arena.Adopt recorded in the scope.
func (s *Scope) Adopt(ptr, length, align uint32) (*Allocation, error) {
	alloc, err := s.arena.adopt(ptr, length, align, s.label)
	if err != nil {
		return nil, err
	}
	if alloc.owned {
		s.allocs = append(s.allocs, alloc)
	}
	return alloc, nil
}

// Len returns the number of allocations made in the scope so far.
func (s *Scope) Len() int { return len(s.allocs) }

// Release frees every allocation of the scope in reverse order. All frees are
// attempted; their errors are combined.
func (s *Scope) Release(ctx context.Context) error {
	var errs error
	for i := len(s.allocs) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, s.arena.Free(ctx, s.allocs[i]))
	}
	s.allocs = s.allocs[:0]
	return errs
}
