package machine

// heapEntry is one slot of the VM's object table: the live object plus its
// tri-color mark bit. The table itself is the allocation list spec.md
// describes; freed slots are recycled via vm.freeList so the table stays
// compact instead of growing without bound.
type heapEntry struct {
	obj    Obj
	size   int
	marked bool
	live   bool
}

const gcHeapGrowFactor = 2
const gcInitialThreshold = 1 << 20 // 1 MiB, matches the clox-lineage default

// allocate inserts obj into the object table, recycling a free slot when
// one is available, and returns its handle. It is the single allocation
// path every heap-object constructor in the VM goes through.
func (vm *VM) allocate(obj Obj, size int) Handle {
	vm.bytesAllocated += size
	if vm.bytesAllocated > vm.nextGC || vm.traceGC {
		vm.collectGarbage()
	}

	if n := len(vm.freeList); n > 0 {
		h := vm.freeList[n-1]
		vm.freeList = vm.freeList[:n-1]
		vm.objects[h] = heapEntry{obj: obj, size: size, live: true}
		return h
	}
	vm.objects = append(vm.objects, heapEntry{obj: obj, size: size, live: true})
	return Handle(len(vm.objects) - 1)
}

// get dereferences a handle. Callers are expected to treat this as a
// panic-worthy programming error, not a recoverable runtime condition:
// a live handle referenced by a Value can never point at a dead slot.
func (vm *VM) get(h Handle) Obj {
	return vm.objects[h].obj
}

// mark adds h to the gray stack if it has not already been visited this
// collection. Marking a dead or already-marked slot is a no-op.
func (vm *VM) mark(h Handle) {
	if h == NoHandle || int(h) >= len(vm.objects) {
		return
	}
	e := &vm.objects[h]
	if !e.live || e.marked {
		return
	}
	e.marked = true
	vm.grayStack = append(vm.grayStack, h)
}

func (vm *VM) markValue(v Value) {
	if IsObj(v) {
		vm.mark(AsHandle(v))
	}
}

// collectGarbage runs one full stop-the-world mark/sweep cycle: mark roots,
// trace until the gray stack is empty, drop weak intern-table entries for
// objects about to die, then sweep the object table. It returns the number
// of bytes the sweep reclaimed.
func (vm *VM) collectGarbage() int {
	if vm.traceGC {
		vm.sink.Printf("-- gc begin\n")
	}

	vm.markRoots()
	vm.traceReferences()
	vm.strings.removeUnmarkedKeys(func(v Value) bool {
		if !IsObj(v) {
			return false
		}
		h := AsHandle(v)
		return int(h) < len(vm.objects) && !vm.objects[h].marked
	})
	freed := vm.sweep()

	vm.nextGC = vm.bytesAllocated * gcHeapGrowFactor
	if vm.traceGC {
		vm.sink.Printf("-- gc end\n")
	}
	return freed
}

// markRoots marks everything directly reachable without tracing an object
// graph edge: the active fiber's stack/frames/open upvalues, globals, and
// the prelude/native class cache. The string-intern table is deliberately
// left out; it holds only weak references (see collectGarbage).
func (vm *VM) markRoots() {
	if vm.currentFiber != NoHandle {
		vm.mark(vm.currentFiber)
		if fiber, ok := vm.get(vm.currentFiber).(*ObjFiber); ok {
			for i := 0; i < fiber.StackTop; i++ {
				vm.markValue(fiber.Stack[i])
			}
			for i := 0; i < fiber.FrameCount; i++ {
				vm.mark(fiber.Frames[i].Closure)
			}
			for uv := fiber.OpenUpvalues; uv != NoHandle; {
				vm.mark(uv)
				next := vm.get(uv).(*ObjUpvalue).Next
				uv = next
			}
		}
	}

	vm.globals.Each(func(_ string, v Value) { vm.markValue(v) })

	// vm.strings is intentionally not marked here: the intern table holds
	// only weak references, and removeUnmarkedKeys (called after tracing,
	// in collectGarbage) drops entries whose string has no other root.
	if vm.preludeClasses != nil {
		vm.preludeClasses.Iter(func(_ string, h Handle) bool {
			vm.mark(h)
			return false
		})
	}
	if vm.natives != nil {
		vm.natives.Iter(func(_ string, h Handle) bool {
			vm.mark(h)
			return false
		})
	}
}

// traceReferences blackens gray objects by marking each field reference
// according to its dynamic type, per spec.md §4.3 phase 2.
func (vm *VM) traceReferences() {
	for len(vm.grayStack) > 0 {
		h := vm.grayStack[len(vm.grayStack)-1]
		vm.grayStack = vm.grayStack[:len(vm.grayStack)-1]
		vm.blacken(h)
	}
}

func (vm *VM) blacken(h Handle) {
	switch o := vm.get(h).(type) {
	case *ObjString, *ObjNative:
		// no outgoing references
	case *ObjFunction:
		for _, c := range o.Proto.Chunk.Constants {
			// function protos only reference other protos through
			// CLOSURE operands, which are resolved to handles lazily at
			// runtime; nothing further to trace here.
			_ = c
		}
	case *ObjClosure:
		vm.mark(o.Function)
		for _, uv := range o.Upvalues {
			vm.mark(uv)
		}
	case *ObjUpvalue:
		vm.markValue(o.Closed)
	case *ObjClass:
		for _, v := range o.Methods {
			vm.markValue(v)
		}
	case *ObjInstance:
		vm.mark(o.Class)
		for _, v := range o.Fields {
			vm.markValue(v)
		}
	case *ObjBoundMethod:
		vm.markValue(o.Receiver)
		vm.mark(o.Method)
	case *ObjList:
		for _, v := range o.Items {
			vm.markValue(v)
		}
	case *ObjTable:
		for _, v := range o.Entries {
			vm.markValue(v)
		}
	case *ObjFiber:
		for i := 0; i < o.StackTop; i++ {
			vm.markValue(o.Stack[i])
		}
		for i := 0; i < o.FrameCount; i++ {
			vm.mark(o.Frames[i].Closure)
		}
		if o.Parent != NoHandle {
			vm.mark(o.Parent)
		}
	}
}

// sweep walks the object table, frees anything left unmarked, and clears
// the mark bit on survivors for the next cycle. It returns the number of
// bytes reclaimed, which gc() reports back to loon code.
func (vm *VM) sweep() int {
	freed := 0
	for i := range vm.objects {
		e := &vm.objects[i]
		if !e.live {
			continue
		}
		if e.marked {
			e.marked = false
			continue
		}
		freed += e.size
		e.obj = nil
		e.size = 0
		e.live = false
		vm.freeList = append(vm.freeList, Handle(i))
	}
	vm.bytesAllocated -= freed
	return freed
}
