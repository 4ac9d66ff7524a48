// Package machine implements loon's value representation, heap, garbage
// collector, and the stack-based bytecode interpreter that runs compiled
// chunks produced by internal/compiler.
package machine

import (
	"fmt"

	"github.com/dolthub/swiss"
	"golang.org/x/exp/maps"

	"github.com/loonlang/loon/internal/compiler"
)

// VM owns every piece of mutable interpreter state: the object heap, the
// active fiber, globals, interned strings, and the native/prelude class
// registries. Per spec.md §5 it is single-threaded; only vm.currentFiber
// ever runs.
type VM struct {
	objects  []heapEntry
	freeList []Handle

	currentFiber Handle
	nextFiberID  int

	globals Table
	strings Table

	bytesAllocated int
	nextGC         int
	grayStack      []Handle

	natives        *swiss.Map[string, Handle]
	preludeClasses *swiss.Map[string, Handle]

	sink      Sink
	traceGC   bool
	traceExec bool
}

// Options configures a VM at construction time; all fields default to off.
type Options struct {
	Sink      Sink
	TraceGC   bool
	TraceExec bool
}

// NewVM builds a VM with its native registry populated and the prelude
// script loaded with output suppressed, matching spec.md §4.5's "interpret
// this source with output suppressed" step.
func NewVM(opts Options) (*VM, error) {
	sink := opts.Sink
	if sink == nil {
		sink = WriterSink{W: nullWriter{}}
	}
	vm := &VM{
		currentFiber: NoHandle,
		nextGC:       gcInitialThreshold,
		sink:         sink,
		traceGC:      opts.TraceGC,
		traceExec:    opts.TraceExec,
	}
	vm.natives = swiss.NewMap[string, Handle](32)
	vm.preludeClasses = swiss.NewMap[string, Handle](4)
	vm.currentFiber = vm.newFiber(NoHandle)

	vm.defineNatives()
	if err := vm.loadPrelude(); err != nil {
		return nil, fmt.Errorf("loading prelude: %w", err)
	}
	return vm, nil
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// SetSink swaps the active output sink. (loadPrelude suppresses prelude
// output by swapping vm.sink directly, not through this method.)
func (vm *VM) SetSink(s Sink) { vm.sink = s }

// BytesAllocated reports the VM's allocation counter: the sizes passed to
// allocate for objects not yet swept. Only strings are allocated with a
// nonzero size, so the count covers string bytes alone. Used by the CLI's
// -m flag to print unreclaimed bytes at exit.
func (vm *VM) BytesAllocated() int { return vm.bytesAllocated }

// ---- heap / fiber plumbing ----

func (vm *VM) fiber() *ObjFiber { return vm.get(vm.currentFiber).(*ObjFiber) }

func (vm *VM) newFiber(parent Handle) Handle {
	f := &ObjFiber{ID: vm.nextFiberID, Parent: parent, OpenUpvalues: NoHandle}
	vm.nextFiberID++
	return vm.allocate(f, 0)
}

func (vm *VM) push(v Value) {
	f := vm.fiber()
	f.Stack[f.StackTop] = v
	f.StackTop++
}

func (vm *VM) pop() Value {
	f := vm.fiber()
	f.StackTop--
	return f.Stack[f.StackTop]
}

func (vm *VM) peek(distance int) Value {
	f := vm.fiber()
	return f.Stack[f.StackTop-1-distance]
}

func (vm *VM) resetStack() {
	f := vm.fiber()
	f.StackTop = 0
	f.FrameCount = 0
	f.OpenUpvalues = NoHandle
}

// internString returns the unique interned ObjString handle for s,
// allocating it only the first time s is seen. This is copyString/
// takeString's identity guarantee: equal strings are always the same
// object.
func (vm *VM) internString(s string) Handle {
	if v, ok := vm.strings.Get(s); ok {
		return AsHandle(v)
	}
	h := vm.allocate(&ObjString{Chars: s, Hash: fnv1a(s)}, len(s))
	vm.strings.Set(s, ObjVal(h))
	return h
}

func (vm *VM) newStringValue(s string) Value { return ObjVal(vm.internString(s)) }

func (vm *VM) newClosure(fn Handle) Handle {
	proto := vm.get(fn).(*ObjFunction).Proto
	upvalues := make([]Handle, len(proto.Upvalues))
	return vm.allocate(&ObjClosure{Function: fn, Upvalues: upvalues}, 0)
}

func (vm *VM) newInstance(class Handle) Handle {
	return vm.allocate(&ObjInstance{Class: class, Fields: map[string]Value{}}, 0)
}

func (vm *VM) newClass(name string) Handle {
	return vm.allocate(&ObjClass{Name: name, Methods: map[string]Value{}}, 0)
}

func (vm *VM) newList(items []Value) Handle {
	return vm.allocate(&ObjList{Items: items}, 0)
}

func (vm *VM) newTable(entries map[string]Value) Handle {
	return vm.allocate(&ObjTable{Entries: entries}, 0)
}

func (vm *VM) defineNative(name string, arity int, fn NativeFn) {
	h := vm.allocate(&ObjNative{Name: name, Arity: arity, Fn: fn}, 0)
	vm.natives.Put(name, h)
	vm.globals.Set(name, ObjVal(h))
}

// typeName returns the dynamic-type name type() reports for v, following
// spec.md §8's type() native.
func (vm *VM) typeName(v Value) string {
	switch {
	case IsNil(v):
		return "nil"
	case IsBool(v):
		return "bool"
	case IsNumber(v):
		return "number"
	case IsObj(v):
		switch o := vm.get(AsHandle(v)).(type) {
		case *ObjString:
			return "string"
		case *ObjClosure, *ObjFunction, *ObjNative, *ObjBoundMethod:
			return "function"
		case *ObjClass:
			return "class"
		case *ObjInstance:
			_ = o
			return "instance"
		case *ObjList:
			return "list"
		case *ObjTable:
			return "table"
		case *ObjFiber:
			return "fiber"
		}
	}
	return "unknown"
}

// ---- compile + run ----

// Interpret compiles and runs source on the active fiber. A compile error
// is returned as *compiler.CompileError without touching the fiber; a
// runtime error is returned as *RuntimeError after the fiber's stack has
// been reset, per spec.md §7.
func (vm *VM) Interpret(source string) error {
	proto, err := compiler.Compile(source)
	if err != nil {
		return err
	}
	fn := vm.allocate(&ObjFunction{Proto: proto}, 0)
	vm.push(ObjVal(fn))
	closure := vm.newClosure(fn)
	vm.pop()
	vm.push(ObjVal(closure))

	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) runtimeErrorf(format string, args ...interface{}) *RuntimeError {
	msg := fmt.Sprintf(format, args...)
	f := vm.fiber()
	trace := make([]StackFrame, 0, f.FrameCount)
	for i := 0; i < f.FrameCount; i++ {
		frame := f.Frames[i]
		closure := vm.get(frame.Closure).(*ObjClosure)
		proto := vm.get(closure.Function).(*ObjFunction).Proto
		name := proto.Name
		if name == "" {
			name = "script"
		}
		line := 0
		if frame.IP-1 >= 0 && frame.IP-1 < len(proto.Chunk.Lines) {
			line = proto.Chunk.Lines[frame.IP-1]
		}
		trace = append(trace, StackFrame{Name: name, Line: line})
	}
	vm.resetStack()
	return newRuntimeError(msg, trace)
}

// call pushes a new frame for closure and validates arity and the frame
// depth limit. The arguments are expected to already be on the stack,
// immediately above the callee itself.
func (vm *VM) call(closureHandle Handle, argc int) error {
	f := vm.fiber()
	closure := vm.get(closureHandle).(*ObjClosure)
	proto := vm.get(closure.Function).(*ObjFunction).Proto

	if argc != proto.Arity {
		return vm.runtimeErrorf("Expected %d arguments but got %d.", proto.Arity, argc)
	}
	if f.FrameCount == FramesMax {
		return vm.runtimeErrorf("Stack overflow.")
	}

	f.Frames[f.FrameCount] = CallFrame{
		Closure: closureHandle,
		IP:      0,
		Base:    f.StackTop - argc - 1,
	}
	f.FrameCount++
	return nil
}

// callValue implements CALL's dispatch over the four callable kinds spec.md
// §4.4 lists: bound method, class, closure, native.
func (vm *VM) callValue(callee Value, argc int) error {
	if !IsObj(callee) {
		return vm.runtimeErrorf("Can only call functions and classes.")
	}
	f := vm.fiber()
	switch o := vm.get(AsHandle(callee)).(type) {
	case *ObjBoundMethod:
		f.Stack[f.StackTop-argc-1] = o.Receiver
		return vm.call(o.Method, argc)
	case *ObjClass:
		instance := vm.newInstance(AsHandle(callee))
		f.Stack[f.StackTop-argc-1] = ObjVal(instance)
		if initVal, ok := o.Methods["init"]; ok {
			return vm.call(AsHandle(initVal), argc)
		}
		if argc != 0 {
			return vm.runtimeErrorf("Expected 0 arguments but got %d.", argc)
		}
		return nil
	case *ObjClosure:
		return vm.call(AsHandle(callee), argc)
	case *ObjNative:
		if o.Arity != -1 && argc != o.Arity {
			return vm.runtimeErrorf("Expected %d arguments but got %d.", o.Arity, argc)
		}
		args := make([]Value, argc)
		copy(args, f.Stack[f.StackTop-argc:f.StackTop])
		result, err := o.Fn(vm, args)
		if err != nil {
			if re, ok := err.(*RuntimeError); ok {
				return re
			}
			return vm.runtimeErrorf("%s", err.Error())
		}
		f.StackTop -= argc + 1
		vm.push(result)
		return nil
	default:
		return vm.runtimeErrorf("Can only call functions and classes.")
	}
}

// invoke implements INVOKE's fast path: if the receiver is an instance
// whose own field named `name` holds a callable, call it directly;
// otherwise resolve `name` as a method on the receiver's class.
func (vm *VM) invoke(name string, argc int) error {
	receiver := vm.peek(argc)
	if !IsObj(receiver) {
		return vm.runtimeErrorf("Only instances have methods.")
	}
	instance, ok := vm.get(AsHandle(receiver)).(*ObjInstance)
	if !ok {
		return vm.runtimeErrorf("Only instances have methods.")
	}
	if field, ok := instance.Fields[name]; ok {
		f := vm.fiber()
		f.Stack[f.StackTop-argc-1] = field
		return vm.callValue(field, argc)
	}
	return vm.invokeFromClass(instance.Class, name, argc)
}

func (vm *VM) invokeFromClass(classHandle Handle, name string, argc int) error {
	class := vm.get(classHandle).(*ObjClass)
	method, ok := class.Methods[name]
	if !ok {
		return vm.runtimeErrorf("Undefined property '%s'.", name)
	}
	return vm.call(AsHandle(method), argc)
}

// bindMethod creates an ObjBoundMethod for PROPERTY_GET / SUPER_GET, the
// allocating slow path that INVOKE/INVOKE_SUPER skip.
func (vm *VM) bindMethod(classHandle Handle, name string) (Value, error) {
	class := vm.get(classHandle).(*ObjClass)
	method, ok := class.Methods[name]
	if !ok {
		return 0, vm.runtimeErrorf("Undefined property '%s'.", name)
	}
	receiver := vm.peek(0)
	bound := vm.allocate(&ObjBoundMethod{Receiver: receiver, Method: AsHandle(method)}, 0)
	return ObjVal(bound), nil
}

// ---- upvalues ----

// captureUpvalue returns the open upvalue for slot on the current fiber,
// reusing an existing node if one is already open for that slot, otherwise
// inserting a new node into the descending-order open list.
func (vm *VM) captureUpvalue(slot int) Handle {
	f := vm.fiber()
	var prev Handle = NoHandle
	cur := f.OpenUpvalues
	for cur != NoHandle {
		uv := vm.get(cur).(*ObjUpvalue)
		if uv.Slot == slot {
			return cur
		}
		if uv.Slot < slot {
			break
		}
		prev = cur
		cur = uv.Next
	}

	created := vm.allocate(&ObjUpvalue{Fiber: vm.currentFiber, Slot: slot, Next: cur}, 0)
	if prev == NoHandle {
		f.OpenUpvalues = created
	} else {
		vm.get(prev).(*ObjUpvalue).Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack slot `base`,
// copying its live value into Closed and unlinking it from the open list.
func (vm *VM) closeUpvalues(base int) {
	f := vm.fiber()
	for f.OpenUpvalues != NoHandle {
		uv := vm.get(f.OpenUpvalues).(*ObjUpvalue)
		if uv.Slot < base {
			break
		}
		uv.Closed = f.Stack[uv.Slot]
		uv.Slot = -1
		f.OpenUpvalues = uv.Next
	}
}

func (vm *VM) upvalueGet(h Handle) Value {
	uv := vm.get(h).(*ObjUpvalue)
	if uv.Slot >= 0 {
		return vm.get(uv.Fiber).(*ObjFiber).Stack[uv.Slot]
	}
	return uv.Closed
}

func (vm *VM) upvalueSet(h Handle, v Value) {
	uv := vm.get(h).(*ObjUpvalue)
	if uv.Slot >= 0 {
		vm.get(uv.Fiber).(*ObjFiber).Stack[uv.Slot] = v
		return
	}
	uv.Closed = v
}

// inherit copies every method from superclass into subclass, per spec.md
// §4.4 ("resolved at class-creation time").
func (vm *VM) inherit(superHandle, subHandle Handle) {
	super := vm.get(superHandle).(*ObjClass)
	sub := vm.get(subHandle).(*ObjClass)
	maps.Copy(sub.Methods, super.Methods)
}

func isString(vm *VM, v Value) (string, bool) {
	if !IsObj(v) {
		return "", false
	}
	s, ok := vm.get(AsHandle(v)).(*ObjString)
	if !ok {
		return "", false
	}
	return s.Chars, true
}
