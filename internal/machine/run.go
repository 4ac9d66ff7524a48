package machine

import "github.com/loonlang/loon/internal/compiler"

// run is the VM's opcode dispatch loop. Per spec.md §4.4 the instruction
// pointer is cached in a local (via the frame/chunk locals below) and
// refreshed from the top frame after any call or return.
func (vm *VM) run() error {
	f := vm.fiber()
	frame := &f.Frames[f.FrameCount-1]
	closure := vm.get(frame.Closure).(*ObjClosure)
	chunk := &vm.get(closure.Function).(*ObjFunction).Proto.Chunk

	refresh := func() {
		f = vm.fiber()
		frame = &f.Frames[f.FrameCount-1]
		closure = vm.get(frame.Closure).(*ObjClosure)
		chunk = &vm.get(closure.Function).(*ObjFunction).Proto.Chunk
	}

	readByte := func() byte {
		b := chunk.Code[frame.IP]
		frame.IP++
		return b
	}
	readShort := func() int {
		hi := readByte()
		lo := readByte()
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() interface{} { return chunk.Constants[readByte()] }
	readString := func() string { return readConstant().(string) }

	for {
		if vm.traceExec {
			line, _ := chunk.DebugInstruction(frame.IP)
			vm.sink.Print(line)
		}

		op := compiler.OpCode(readByte())
		switch op {
		case compiler.OpConstant:
			vm.push(vm.constantValue(readConstant()))
		case compiler.OpNil:
			vm.push(NilVal)
		case compiler.OpTrue:
			vm.push(TrueVal)
		case compiler.OpFalse:
			vm.push(FalseVal)
		case compiler.OpPop:
			vm.pop()

		case compiler.OpLocalGet:
			slot := int(readByte())
			vm.push(f.Stack[frame.Base+slot])
		case compiler.OpLocalSet:
			slot := int(readByte())
			f.Stack[frame.Base+slot] = vm.peek(0)

		case compiler.OpUpvalueGet:
			slot := readByte()
			vm.push(vm.upvalueGet(closure.Upvalues[slot]))
		case compiler.OpUpvalueSet:
			slot := readByte()
			vm.upvalueSet(closure.Upvalues[slot], vm.peek(0))
		case compiler.OpUpvalueClose:
			vm.closeUpvalues(f.StackTop - 1)
			vm.pop()

		case compiler.OpGlobalDefine:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case compiler.OpGlobalGet:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeErrorf("Undefined variable '%s'.", name)
			}
			vm.push(v)
		case compiler.OpGlobalSet:
			name := readString()
			if !vm.globals.Has(name) {
				return vm.runtimeErrorf("Undefined variable '%s'.", name)
			}
			vm.globals.Set(name, vm.peek(0))

		case compiler.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(BoolVal(ValuesEqual(a, b)))
		case compiler.OpGreater:
			if err := vm.numericBinary(func(a, b float64) Value { return BoolVal(a > b) }); err != nil {
				return err
			}
		case compiler.OpLess:
			if err := vm.numericBinary(func(a, b float64) Value { return BoolVal(a < b) }); err != nil {
				return err
			}
		case compiler.OpAdd:
			if err := vm.numericBinary(func(a, b float64) Value { return NumberVal(a + b) }); err != nil {
				return err
			}
		case compiler.OpSubtract:
			if err := vm.numericBinary(func(a, b float64) Value { return NumberVal(a - b) }); err != nil {
				return err
			}
		case compiler.OpMultiply:
			if err := vm.numericBinary(func(a, b float64) Value { return NumberVal(a * b) }); err != nil {
				return err
			}
		case compiler.OpDivide:
			if err := vm.numericBinary(func(a, b float64) Value { return NumberVal(a / b) }); err != nil {
				return err
			}
		case compiler.OpNegate:
			if !IsNumber(vm.peek(0)) {
				return vm.runtimeErrorf("Operand must be a number.")
			}
			vm.push(NumberVal(-AsNumber(vm.pop())))
		case compiler.OpNot:
			vm.push(BoolVal(IsFalsey(vm.pop())))

		case compiler.OpJump:
			offset := readShort()
			frame.IP += offset
		case compiler.OpJumpIfFalse:
			offset := readShort()
			if IsFalsey(vm.peek(0)) {
				frame.IP += offset
			}
		case compiler.OpLoop:
			offset := readShort()
			frame.IP -= offset

		case compiler.OpCall:
			argc := int(readByte())
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			refresh()
		case compiler.OpCallPostfix:
			argc := int(readByte())
			vm.rotateCalleeUnder(argc)
			if err := vm.callValue(vm.peek(argc), argc); err != nil {
				return err
			}
			refresh()

		case compiler.OpInvoke:
			name := readString()
			argc := int(readByte())
			if err := vm.invoke(name, argc); err != nil {
				return err
			}
			refresh()
		case compiler.OpInvokeSuper:
			name := readString()
			argc := int(readByte())
			superVal := vm.pop()
			if err := vm.invokeFromClass(AsHandle(superVal), name, argc); err != nil {
				return err
			}
			refresh()

		case compiler.OpClosure:
			proto := readConstant().(*compiler.FunctionProto)
			fn := vm.allocate(&ObjFunction{Proto: proto}, 0)
			vm.push(ObjVal(fn))
			closureHandle := vm.newClosure(fn)
			vm.pop()
			vm.push(ObjVal(closureHandle))
			newObj := vm.get(closureHandle).(*ObjClosure)
			for i := range proto.Upvalues {
				isLocal := readByte()
				index := readByte()
				if isLocal != 0 {
					newObj.Upvalues[i] = vm.captureUpvalue(frame.Base + int(index))
				} else {
					newObj.Upvalues[i] = closure.Upvalues[index]
				}
			}

		case compiler.OpClass:
			name := readString()
			vm.push(ObjVal(vm.newClass(name)))
		case compiler.OpInherit:
			superVal := vm.peek(1)
			subVal := vm.peek(0)
			if !IsObj(superVal) {
				return vm.runtimeErrorf("Superclass must be a class.")
			}
			if _, ok := vm.get(AsHandle(superVal)).(*ObjClass); !ok {
				return vm.runtimeErrorf("Superclass must be a class.")
			}
			vm.inherit(AsHandle(superVal), AsHandle(subVal))
			vm.pop()
		case compiler.OpMethod:
			name := readString()
			method := vm.pop()
			class := vm.get(AsHandle(vm.peek(0))).(*ObjClass)
			class.Methods[name] = method

		case compiler.OpPropertyGet:
			name := readString()
			receiver := vm.peek(0)
			if !IsObj(receiver) {
				return vm.runtimeErrorf("Only instances have properties.")
			}
			instance, ok := vm.get(AsHandle(receiver)).(*ObjInstance)
			if !ok {
				return vm.runtimeErrorf("Only instances have properties.")
			}
			if v, ok := instance.Fields[name]; ok {
				vm.pop()
				vm.push(v)
				break
			}
			bound, err := vm.bindMethod(instance.Class, name)
			if err != nil {
				return err
			}
			vm.pop()
			vm.push(bound)
		case compiler.OpPropertySet:
			name := readString()
			value := vm.pop()
			receiver := vm.pop()
			if !IsObj(receiver) {
				return vm.runtimeErrorf("Only instances have fields.")
			}
			instance, ok := vm.get(AsHandle(receiver)).(*ObjInstance)
			if !ok {
				return vm.runtimeErrorf("Only instances have fields.")
			}
			instance.Fields[name] = value
			vm.push(value)
		case compiler.OpSuperGet:
			name := readString()
			superVal := vm.pop()
			bound, err := vm.bindMethod(AsHandle(superVal), name)
			if err != nil {
				return err
			}
			vm.pop()
			vm.push(bound)

		case compiler.OpCollectionList:
			if err := vm.collectionList(int(readByte())); err != nil {
				return err
			}
		case compiler.OpCollectionTable:
			if err := vm.collectionTable(int(readByte())); err != nil {
				return err
			}

		case compiler.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.Base)
			f.FrameCount--
			f.StackTop = frame.Base
			if f.FrameCount == 0 {
				return nil
			}
			vm.push(result)
			refresh()

		default:
			return vm.runtimeErrorf("Unknown opcode %d.", op)
		}
	}
}

func (vm *VM) constantValue(c interface{}) Value {
	switch v := c.(type) {
	case float64:
		return NumberVal(v)
	case string:
		return vm.newStringValue(v)
	default:
		return NilVal
	}
}

func (vm *VM) numericBinary(op func(a, b float64) Value) error {
	if !IsNumber(vm.peek(0)) || !IsNumber(vm.peek(1)) {
		return vm.runtimeErrorf("Operands must be numbers.")
	}
	b := AsNumber(vm.pop())
	a := AsNumber(vm.pop())
	vm.push(op(a, b))
	return nil
}

// rotateCalleeUnder moves the value on top of the stack down to sit below
// the argc values beneath it, implementing CALL_POSTFIX's rotation for the
// desugared `a # b` -> concat(a, b) call.
func (vm *VM) rotateCalleeUnder(argc int) {
	f := vm.fiber()
	n := argc + 1
	base := f.StackTop - n
	callee := f.Stack[f.StackTop-1]
	copy(f.Stack[base+1:f.StackTop], f.Stack[base:f.StackTop-1])
	f.Stack[base] = callee
}

func (vm *VM) collectionList(count int) error {
	f := vm.fiber()
	items := make([]Value, count)
	copy(items, f.Stack[f.StackTop-count:f.StackTop])
	f.StackTop -= count

	listHandle := vm.newList(items)
	vm.push(ObjVal(listHandle))

	classHandle, ok := vm.preludeClasses.Get("List")
	if !ok {
		return vm.runtimeErrorf("Missing prelude class 'List'.")
	}
	instanceHandle := vm.newInstance(classHandle)
	vm.get(instanceHandle).(*ObjInstance).Fields["data"] = vm.pop()
	vm.push(ObjVal(instanceHandle))
	return nil
}

func (vm *VM) collectionTable(count int) error {
	f := vm.fiber()
	n := count * 2
	pairs := make([]Value, n)
	copy(pairs, f.Stack[f.StackTop-n:f.StackTop])
	f.StackTop -= n

	entries := make(map[string]Value, count)
	for i := 0; i < count; i++ {
		key, val := pairs[2*i], pairs[2*i+1]
		keyStr, ok := isString(vm, key)
		if !ok {
			return vm.runtimeErrorf("Table literal key must be a string.")
		}
		entries[keyStr] = val
	}

	tableHandle := vm.newTable(entries)
	vm.push(ObjVal(tableHandle))

	classHandle, ok := vm.preludeClasses.Get("Table")
	if !ok {
		return vm.runtimeErrorf("Missing prelude class 'Table'.")
	}
	instanceHandle := vm.newInstance(classHandle)
	vm.get(instanceHandle).(*ObjInstance).Fields["data"] = vm.pop()
	vm.push(ObjVal(instanceHandle))
	return nil
}
