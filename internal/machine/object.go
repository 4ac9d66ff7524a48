package machine

import "github.com/loonlang/loon/internal/compiler"

// Handle is a stable index into the VM's object table, substituting for a
// raw pointer inside a NaN-boxed Value so that Go's garbage collector never
// has to trace through an integer. NoHandle marks the absence of a handle
// (e.g. an upvalue with no next node, a fiber with no parent).
type Handle int32

const NoHandle Handle = -1

// ObjType tags the dynamic kind of a heap object.
type ObjType int

const (
	ObjTypeString ObjType = iota
	ObjTypeFunction
	ObjTypeClosure
	ObjTypeUpvalue
	ObjTypeClass
	ObjTypeInstance
	ObjTypeBoundMethod
	ObjTypeNative
	ObjTypeFiber
	ObjTypeList
	ObjTypeTable
)

func (t ObjType) String() string {
	switch t {
	case ObjTypeString:
		return "string"
	case ObjTypeFunction:
		return "function"
	case ObjTypeClosure:
		return "closure"
	case ObjTypeUpvalue:
		return "upvalue"
	case ObjTypeClass:
		return "class"
	case ObjTypeInstance:
		return "instance"
	case ObjTypeBoundMethod:
		return "bound method"
	case ObjTypeNative:
		return "native"
	case ObjTypeFiber:
		return "fiber"
	case ObjTypeList:
		return "list"
	case ObjTypeTable:
		return "table"
	default:
		return "unknown"
	}
}

// Obj is implemented by every heap object variant. The table of live
// objects (vm.objects) is the allocation list spec.md describes; sweep
// walks it directly instead of following an intrusive next pointer.
type Obj interface {
	ObjType() ObjType
}

// ObjString is the unique, interned representation of a byte string. Two
// strings with equal contents are always the same object: vm.internString
// routes string creation through the VM's intern table to enforce this.
type ObjString struct {
	Chars string
	Hash  uint32
}

func (*ObjString) ObjType() ObjType { return ObjTypeString }

// ObjFunction wraps a compiled function prototype (its chunk, arity, and
// upvalue layout) as produced by internal/compiler.
type ObjFunction struct {
	Proto *compiler.FunctionProto
}

func (*ObjFunction) ObjType() ObjType { return ObjTypeFunction }

// ObjClosure pairs a function with the upvalue cells it captured at
// creation time.
type ObjClosure struct {
	Function Handle
	Upvalues []Handle // each points at an ObjUpvalue
}

func (*ObjClosure) ObjType() ObjType { return ObjTypeClosure }

// ObjUpvalue is a shared reference to a variable that outlives the stack
// frame that declared it. While open (Slot >= 0) it reads/writes
// Fiber.Stack[Slot]; closing copies that value into Closed and sets Slot to
// -1. Next threads the fiber's open-upvalue list, which is kept ordered by
// descending Slot (equivalent to descending stack address, since every open
// upvalue of a fiber indexes into that same fiber's stack array).
type ObjUpvalue struct {
	Fiber  Handle
	Slot   int
	Closed Value
	Next   Handle
}

func (*ObjUpvalue) ObjType() ObjType { return ObjTypeUpvalue }

// ObjClass holds method closures by name, each value an ObjVal-boxed
// closure handle. Unlike globals and the string-intern table, this mapping
// carries no probe-order invariant the spec makes observable, so it is a
// plain Go map; INHERIT copies it with golang.org/x/exp/maps.
type ObjClass struct {
	Name    string
	Methods map[string]Value
}

func (*ObjClass) ObjType() ObjType { return ObjTypeClass }

// ObjInstance is a runtime instance of a class: a handle back to its class
// plus its own field storage, again a plain map for the same reason as
// ObjClass.Methods.
type ObjInstance struct {
	Class  Handle
	Fields map[string]Value
}

func (*ObjInstance) ObjType() ObjType { return ObjTypeInstance }

// ObjBoundMethod pairs a receiver value with the method closure looked up
// on its class, created lazily by PROPERTY_GET / SUPER_GET (INVOKE skips
// this allocation on its fast path).
type ObjBoundMethod struct {
	Receiver Value
	Method   Handle
}

func (*ObjBoundMethod) ObjType() ObjType { return ObjTypeBoundMethod }

// NativeFn is a host-implemented function exposed to loon code. It returns
// a runtime error to signal failure; the VM converts that into the same
// RuntimeError path as any other opcode failure.
type NativeFn func(vm *VM, args []Value) (Value, error)

// ObjNative wraps a host function with its name (for stack traces and
// type()) and expected arity. Arity -1 means variadic.
type ObjNative struct {
	Name  string
	Arity int
	Fn    NativeFn
}

func (*ObjNative) ObjType() ObjType { return ObjTypeNative }

const FramesMax = 64
const stackPerFrame = 256
const StackMax = FramesMax * stackPerFrame

// CallFrame is one activation record: the running closure, the instruction
// pointer within its chunk, and the base slot in the fiber's value stack
// (slot 0 is the callee itself for top-level/plain calls, or the receiver
// for methods).
type CallFrame struct {
	Closure Handle
	IP      int
	Base    int
}

// ObjFiber is an independent stack + call-frame array. Only one fiber is
// ever running at a time (vm.currentFiber); yield/run are stubbed per spec.md
// §9's open question on suspension semantics.
type ObjFiber struct {
	ID     int
	Parent Handle

	Stack    [StackMax]Value
	StackTop int

	Frames     [FramesMax]CallFrame
	FrameCount int

	OpenUpvalues Handle
}

func (*ObjFiber) ObjType() ObjType { return ObjTypeFiber }

// ObjList is the raw primitive backing a list literal. The user-visible
// `List` class (from the prelude) wraps one of these in its `data` field.
type ObjList struct {
	Items []Value
}

func (*ObjList) ObjType() ObjType { return ObjTypeList }

// ObjTable is the raw primitive backing a table literal, wrapped by the
// prelude's `Table` class the same way ObjList is wrapped by `List`. Table
// keys are always strings (spec.md §4.1: "keys must evaluate to strings at
// runtime"), but the mapping itself is a plain Go map for the same reason
// as ObjClass.Methods.
type ObjTable struct {
	Entries map[string]Value
}

func (*ObjTable) ObjType() ObjType { return ObjTypeTable }
