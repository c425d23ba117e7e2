package wasmtest

// Guest fixtures shared by package tests.
//
// Geometry memory map: one page (max two), a bump heap starting at 1024 and
// the bytes "ok\x00go" at 512. Struct layouts assumed by the exports:
//
//	Point { x i32; y i32 }           size 8
//	Label { id i32; text string }    size 12 (text = ptr@4, len@8)
//	Leaf  { value i32 }              size 4
//	Node  { value i32; next *Leaf }  size 8

// LabelText is what setLabel points a Label's text at.
const LabelText = "ok\x00go"

// LabelTextOffset is where LabelText lives in geometry memory.
const LabelTextOffset = 512

// Geometry builds a guest with a malloc/free pair and a range of exports:
//
//	add(i32, i32) -> i32
//	sumXY(*Point) -> i32
//	malloc(i32) -> i32, free(i32)   bump allocator; free counts calls in "frees"
//	setLabel(*Label)                points text at LabelText, increments id
//	labelLen(*Label) -> i32
//	trap()                          unreachable
//	makePoint(ret *Point, x, y)     out-param result
//	newPoint(x, y) -> *Point        guest-allocated result
//	strLen(span) -> i32             length prefix of a string argument
//	addI64(i64, i64) -> i64
//	scaleF64(f64, f64) -> f64
//	addF32(f32, f32) -> f32
//	greet() -> span                 guest-allocated string "hi"
//	nodeSum(*Node) -> i32           value plus next.value when next is set
//	movePoint(*Point, dx)           adds dx to x in place
func Geometry() []byte {
	m := New().Memory(1, 2).ExportMemory("memory")
	heap := m.GlobalI32(true, 1024)
	frees := m.GlobalI32(true, 0)
	m.ExportGlobal("frees", frees)
	m.Data(LabelTextOffset, []byte(LabelText))

	m.Func("add", Types(I32, I32), Types(I32), nil,
		LocalGet(0), LocalGet(1), I32Add)

	m.Func("sumXY", Types(I32), Types(I32), nil,
		LocalGet(0), I32Load(0), LocalGet(0), I32Load(4), I32Add)

	malloc := m.Func("malloc", Types(I32), Types(I32), Types(I32, I32),
		GlobalGet(heap), I32Const(7), I32Add, I32Const(-8), I32And, LocalSet(1),
		LocalGet(1), LocalGet(0), I32Add, LocalSet(2),
		Block(),
		LocalGet(2), MemorySize, I32Const(16), I32Shl, I32LeU, BrIf(0),
		LocalGet(2), MemorySize, I32Const(16), I32Shl, I32Sub,
		I32Const(65535), I32Add, I32Const(16), I32ShrU,
		MemoryGrow, I32Const(-1), I32Eq,
		If(), I32Const(0), Return, End,
		End,
		LocalGet(2), GlobalSet(heap), LocalGet(1))

	m.Func("free", Types(I32), nil, nil,
		GlobalGet(frees), I32Const(1), I32Add, GlobalSet(frees))

	m.Func("setLabel", Types(I32), nil, nil,
		LocalGet(0), I32Const(LabelTextOffset), I32Store(4),
		LocalGet(0), I32Const(int32(len(LabelText))), I32Store(8),
		LocalGet(0), LocalGet(0), I32Load(0), I32Const(1), I32Add, I32Store(0))

	m.Func("labelLen", Types(I32), Types(I32), nil,
		LocalGet(0), I32Load(8))

	m.Func("trap", nil, nil, nil, Unreachable)

	m.Func("makePoint", Types(I32, I32, I32), nil, nil,
		LocalGet(0), LocalGet(1), I32Store(0),
		LocalGet(0), LocalGet(2), I32Store(4))

	m.Func("newPoint", Types(I32, I32), Types(I32), Types(I32),
		I32Const(8), Call(malloc), LocalSet(2),
		LocalGet(2), LocalGet(0), I32Store(0),
		LocalGet(2), LocalGet(1), I32Store(4),
		LocalGet(2))

	m.Func("strLen", Types(I32), Types(I32), nil,
		LocalGet(0), I32Load(0))

	m.Func("addI64", Types(I64, I64), Types(I64), nil,
		LocalGet(0), LocalGet(1), I64Add)

	m.Func("scaleF64", Types(F64, F64), Types(F64), nil,
		LocalGet(0), LocalGet(1), F64Mul)

	m.Func("addF32", Types(F32, F32), Types(F32), nil,
		LocalGet(0), LocalGet(1), F32Add)

	m.Func("greet", nil, Types(I32), Types(I32),
		I32Const(6), Call(malloc), LocalSet(0),
		LocalGet(0), I32Const(2), I32Store(0),
		LocalGet(0), I32Const('h'|'i'<<8), I32Store16(4),
		LocalGet(0))

	m.Func("nodeSum", Types(I32), Types(I32), Types(I32, I32),
		LocalGet(0), I32Load(0), LocalSet(1),
		LocalGet(0), I32Load(4), LocalSet(2),
		Block(),
		LocalGet(2), I32Eqz, BrIf(0),
		LocalGet(1), LocalGet(2), I32Load(0), I32Add, LocalSet(1),
		End,
		LocalGet(1))

	m.Func("movePoint", Types(I32, I32), nil, nil,
		LocalGet(0), LocalGet(0), I32Load(0), LocalGet(1), I32Add, I32Store(0))

	return m.Bytes()
}

// Static builds a guest with a single fixed page of memory and no allocator
// exports. It exports sumXY and labelLen with the same meaning as Geometry.
func Static() []byte {
	m := New().Memory(1, 1).ExportMemory("memory")

	m.Func("sumXY", Types(I32), Types(I32), nil,
		LocalGet(0), I32Load(0), LocalGet(0), I32Load(4), I32Add)

	m.Func("labelLen", Types(I32), Types(I32), nil,
		LocalGet(0), I32Load(8))

	return m.Bytes()
}

// Bare builds a guest without memory that only exports add.
func Bare() []byte {
	m := New()
	m.Func("add", Types(I32, I32), Types(I32), nil,
		LocalGet(0), LocalGet(1), I32Add)
	return m.Bytes()
}

// LogMessage is the text Logging's say export sends to the host.
const LogMessage = "hello\x00from guest"

// Logging builds a guest importing host.log_message(level, ptr, len). Its
// export say(level) logs LogMessage at that level.
func Logging() []byte {
	m := New()
	logMessage := m.ImportFunc("host", "log_message", Types(I32, I32, I32), nil)
	m.Memory(1, 1).ExportMemory("memory")
	m.Data(64, []byte(LogMessage))

	m.Func("say", Types(I32), nil, nil,
		LocalGet(0), I32Const(64), I32Const(int32(len(LogMessage))), Call(logMessage))

	m.Func("add", Types(I32, I32), Types(I32), nil,
		LocalGet(0), LocalGet(1), I32Add)

	return m.Bytes()
}
