package wasmtest

const opEnd = 0x0b

// Instructions without immediates.
var (
	Unreachable = []byte{0x00}
	End         = []byte{opEnd}
	Return      = []byte{0x0f}
	Drop        = []byte{0x1a}
	MemorySize  = []byte{0x3f, 0x00}
	MemoryGrow  = []byte{0x40, 0x00}
	I32Eqz      = []byte{0x45}
	I32Eq       = []byte{0x46}
	I32LeU      = []byte{0x4d}
	I32Add      = []byte{0x6a}
	I32Sub      = []byte{0x6b}
	I32And      = []byte{0x71}
	I32Shl      = []byte{0x74}
	I32ShrU     = []byte{0x76}
	I64Add      = []byte{0x7c}
	F32Add      = []byte{0x92}
	F64Add      = []byte{0xa0}
	F64Mul      = []byte{0xa2}
)

// Block opens a block with no result.
func Block() []byte { return []byte{0x02, 0x40} }

// If opens an if with no result.
func If() []byte { return []byte{0x04, 0x40} }

// BrIf branches to the enclosing label depth when the top of stack is non-zero.
func BrIf(depth uint32) []byte { return AppendU32([]byte{0x0d}, depth) }

func Call(idx uint32) []byte      { return AppendU32([]byte{0x10}, idx) }
func LocalGet(idx uint32) []byte  { return AppendU32([]byte{0x20}, idx) }
func LocalSet(idx uint32) []byte  { return AppendU32([]byte{0x21}, idx) }
func GlobalGet(idx uint32) []byte { return AppendU32([]byte{0x23}, idx) }
func GlobalSet(idx uint32) []byte { return AppendU32([]byte{0x24}, idx) }

func I32Const(v int32) []byte { return AppendS64([]byte{0x41}, int64(v)) }
func I64Const(v int64) []byte { return AppendS64([]byte{0x42}, v) }

func memarg(op byte, align, offset uint32) []byte {
	return AppendU32(AppendU32([]byte{op}, align), offset)
}

func I32Load(offset uint32) []byte    { return memarg(0x28, 2, offset) }
func I64Load(offset uint32) []byte    { return memarg(0x29, 3, offset) }
func F32Load(offset uint32) []byte    { return memarg(0x2a, 2, offset) }
func F64Load(offset uint32) []byte    { return memarg(0x2b, 3, offset) }
func I32Store(offset uint32) []byte   { return memarg(0x36, 2, offset) }
func I64Store(offset uint32) []byte   { return memarg(0x37, 3, offset) }
func F32Store(offset uint32) []byte   { return memarg(0x38, 2, offset) }
func F64Store(offset uint32) []byte   { return memarg(0x39, 3, offset) }
func I32Store8(offset uint32) []byte  { return memarg(0x3a, 0, offset) }
func I32Store16(offset uint32) []byte { return memarg(0x3b, 1, offset) }
