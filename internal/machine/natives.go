package machine

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"time"
)

func wrongType(name string, want string) error {
	return fmt.Errorf("%s expects a %s argument", name, want)
}

// defineNatives registers every native function the prelude and user code
// can call. Each is also recorded in vm.natives (backed by a swiss map) so
// the GC can mark its ObjNative and so diagnostics can enumerate the
// native surface without walking globals.
func (vm *VM) defineNatives() {
	vm.defineNative("clock", 0, nativeClock)
	vm.defineNative("type", 1, vm.nativeType)
	vm.defineNative("print", 1, vm.nativePrint)
	vm.defineNative("assert", 2, vm.nativeAssert)
	vm.defineNative("has", 2, vm.nativeHas)
	vm.defineNative("gc", 0, vm.nativeGC)
	vm.defineNative("globals", 0, vm.nativeGlobals)
	vm.defineNative("objects", 0, vm.nativeObjects)
	vm.defineNative("_str", 1, vm.nativeStr)
	vm.defineNative("_concat", 2, vm.nativeConcat)

	vm.defineNative("_list_new", 0, vm.nativeListNew)
	vm.defineNative("_list_len", 1, vm.nativeListLen)
	vm.defineNative("_list_get", 2, vm.nativeListGet)
	vm.defineNative("_list_set", 3, vm.nativeListSet)
	vm.defineNative("_list_push", 2, vm.nativeListPush)
	vm.defineNative("_list_pop", 1, vm.nativeListPop)
	vm.defineNative("_list_insert", 3, vm.nativeListInsert)
	vm.defineNative("_list_del", 2, vm.nativeListDel)

	vm.defineNative("_tbl_new", 0, vm.nativeTableNew)
	vm.defineNative("_tbl_len", 1, vm.nativeTableLen)
	vm.defineNative("_tbl_get", 2, vm.nativeTableGet)
	vm.defineNative("_tbl_set", 3, vm.nativeTableSet)
	vm.defineNative("_tbl_has", 2, vm.nativeTableHas)
	vm.defineNative("_tbl_keys", 1, vm.nativeTableKeys)
	vm.defineNative("_tbl_del", 2, vm.nativeTableDel)

	vm.defineNative("_fiber_new", 1, vm.nativeFiberNew)
	vm.defineNative("_fiber_id", 1, vm.nativeFiberID)
	vm.defineNative("_fiber_run", 2, vm.nativeFiberRun)
	vm.defineNative("_fiber_yield", 1, vm.nativeFiberYield)

	vm.defineNative("_sha256", 1, vm.nativeSha256)
	vm.defineNative("_base64_encode", 1, vm.nativeBase64Encode)
	vm.defineNative("_base64_decode", 1, vm.nativeBase64Decode)
	vm.defineNative("_regex_match", 2, vm.nativeRegexMatch)
	vm.defineNative("_regex_find_all", 2, vm.nativeRegexFindAll)
	vm.defineNative("_regex_replace", 3, vm.nativeRegexReplace)
	vm.defineNative("_random_int", 2, vm.nativeRandomInt)
	vm.defineNative("_random_float", 0, vm.nativeRandomFloat)
	vm.defineNative("_date_now", 0, vm.nativeDateNow)
}

func nativeClock(vm *VM, args []Value) (Value, error) {
	return NumberVal(float64(time.Now().UnixNano()) / 1e9), nil
}

func (vm *VM) nativeType(vmArg *VM, args []Value) (Value, error) {
	return vm.newStringValue(vm.typeName(args[0])), nil
}

func (vm *VM) nativePrint(vmArg *VM, args []Value) (Value, error) {
	vm.sink.Printf("%s\n", vm.stringify(args[0]))
	return NilVal, nil
}

func (vm *VM) nativeAssert(vmArg *VM, args []Value) (Value, error) {
	if IsFalsey(args[0]) {
		msg := "assertion failed"
		if s, ok := isString(vm, args[1]); ok {
			msg = s
		}
		return NilVal, fmt.Errorf("%s", msg)
	}
	return NilVal, nil
}

// nativeHas reports whether target (a class or instance) has a field or
// method named name: instance fields are checked first, then the class's
// own method table.
func (vm *VM) nativeHas(vmArg *VM, args []Value) (Value, error) {
	name, ok := isString(vm, args[1])
	if !ok {
		return NilVal, wrongType("has", "string")
	}
	if !IsObj(args[0]) {
		return BoolVal(false), nil
	}
	switch o := vm.get(AsHandle(args[0])).(type) {
	case *ObjClass:
		_, found := o.Methods[name]
		return BoolVal(found), nil
	case *ObjInstance:
		if _, found := o.Fields[name]; found {
			return BoolVal(true), nil
		}
		class := vm.get(o.Class).(*ObjClass)
		_, found := class.Methods[name]
		return BoolVal(found), nil
	default:
		return BoolVal(false), nil
	}
}

// nativeGC forces a collection cycle and returns the number of bytes it
// reclaimed.
func (vm *VM) nativeGC(vmArg *VM, args []Value) (Value, error) {
	return NumberVal(float64(vm.collectGarbage())), nil
}

// nativeGlobals dumps the global table to the current sink, one
// "name = value" line per entry.
func (vm *VM) nativeGlobals(vmArg *VM, args []Value) (Value, error) {
	vm.globals.Each(func(name string, v Value) {
		vm.sink.Printf("%s = %s\n", name, vm.stringify(v))
	})
	return NilVal, nil
}

// nativeObjects dumps the live object heap to the current sink, one
// "#handle kind" line per live entry.
func (vm *VM) nativeObjects(vmArg *VM, args []Value) (Value, error) {
	for h, e := range vm.objects {
		if !e.live {
			continue
		}
		vm.sink.Printf("#%d %s\n", h, vm.typeName(ObjVal(Handle(h))))
	}
	return NilVal, nil
}

func (vm *VM) nativeStr(vmArg *VM, args []Value) (Value, error) {
	return vm.newStringValue(vm.stringify(args[0])), nil
}

func (vm *VM) nativeConcat(vmArg *VM, args []Value) (Value, error) {
	return vm.newStringValue(vm.stringify(args[0]) + vm.stringify(args[1])), nil
}

// stringify renders v the way print()/`#` need to: plain for primitives,
// by name for the heap kinds that don't have a sensible textual form.
func (vm *VM) stringify(v Value) string {
	switch {
	case IsNil(v):
		return "nil"
	case IsBool(v):
		return strconv.FormatBool(AsBool(v))
	case IsNumber(v):
		return formatNumber(AsNumber(v))
	case IsObj(v):
		switch o := vm.get(AsHandle(v)).(type) {
		case *ObjString:
			return o.Chars
		case *ObjClass:
			return o.Name
		case *ObjInstance:
			class := vm.get(o.Class).(*ObjClass)
			return "<" + class.Name + " instance>"
		case *ObjClosure:
			proto := vm.get(o.Function).(*ObjFunction).Proto
			if proto.Name == "" {
				return "<script>"
			}
			return "<fn " + proto.Name + ">"
		case *ObjBoundMethod:
			return vm.stringify(o.Receiver)
		case *ObjNative:
			return "<native " + o.Name + ">"
		case *ObjList:
			return "<list>"
		case *ObjTable:
			return "<table>"
		case *ObjFiber:
			return fmt.Sprintf("<fiber %d>", o.ID)
		}
	}
	return "<value>"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ---- list/table primitive bridges, called by the prelude's List/Table
// wrapper classes through the instance's `data` field. ----

func (vm *VM) rawList(v Value) (*ObjList, error) {
	if !IsObj(v) {
		return nil, fmt.Errorf("expected a raw list")
	}
	l, ok := vm.get(AsHandle(v)).(*ObjList)
	if !ok {
		return nil, fmt.Errorf("expected a raw list")
	}
	return l, nil
}

func (vm *VM) rawTable(v Value) (*ObjTable, error) {
	if !IsObj(v) {
		return nil, fmt.Errorf("expected a raw table")
	}
	t, ok := vm.get(AsHandle(v)).(*ObjTable)
	if !ok {
		return nil, fmt.Errorf("expected a raw table")
	}
	return t, nil
}

func (vm *VM) nativeListNew(vmArg *VM, args []Value) (Value, error) {
	return ObjVal(vm.newList(nil)), nil
}

func (vm *VM) nativeListLen(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	return NumberVal(float64(len(l.Items))), nil
}

func (vm *VM) nativeListGet(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	if !IsNumber(args[1]) {
		return NilVal, wrongType("_list_get", "number")
	}
	idx := int(AsNumber(args[1]))
	if idx < 0 || idx >= len(l.Items) {
		return NilVal, fmt.Errorf("list index out of range")
	}
	return l.Items[idx], nil
}

func (vm *VM) nativeListSet(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	idx := int(AsNumber(args[1]))
	if idx < 0 || idx >= len(l.Items) {
		return NilVal, fmt.Errorf("list index out of range")
	}
	l.Items[idx] = args[2]
	return args[2], nil
}

func (vm *VM) nativeListPush(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	l.Items = append(l.Items, args[1])
	return args[0], nil
}

func (vm *VM) nativeListPop(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	if len(l.Items) == 0 {
		return NilVal, fmt.Errorf("pop from empty list")
	}
	last := l.Items[len(l.Items)-1]
	l.Items = l.Items[:len(l.Items)-1]
	return last, nil
}

// nativeListInsert inserts value at index, shifting later elements up.
// Inserting at len(Items) appends.
func (vm *VM) nativeListInsert(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	if !IsNumber(args[1]) {
		return NilVal, wrongType("_list_insert", "number")
	}
	idx := int(AsNumber(args[1]))
	if idx < 0 || idx > len(l.Items) {
		return NilVal, fmt.Errorf("list index out of range")
	}
	l.Items = append(l.Items, NilVal)
	copy(l.Items[idx+1:], l.Items[idx:])
	l.Items[idx] = args[2]
	return NilVal, nil
}

// nativeListDel removes the element at index, shifting later elements down.
func (vm *VM) nativeListDel(vmArg *VM, args []Value) (Value, error) {
	l, err := vm.rawList(args[0])
	if err != nil {
		return NilVal, err
	}
	if !IsNumber(args[1]) {
		return NilVal, wrongType("_list_del", "number")
	}
	idx := int(AsNumber(args[1]))
	if idx < 0 || idx >= len(l.Items) {
		return NilVal, fmt.Errorf("list index out of range")
	}
	copy(l.Items[idx:], l.Items[idx+1:])
	l.Items = l.Items[:len(l.Items)-1]
	return NilVal, nil
}

func (vm *VM) nativeTableNew(vmArg *VM, args []Value) (Value, error) {
	return ObjVal(vm.newTable(map[string]Value{})), nil
}

func (vm *VM) nativeTableLen(vmArg *VM, args []Value) (Value, error) {
	t, err := vm.rawTable(args[0])
	if err != nil {
		return NilVal, err
	}
	return NumberVal(float64(len(t.Entries))), nil
}

func (vm *VM) nativeTableGet(vmArg *VM, args []Value) (Value, error) {
	t, err := vm.rawTable(args[0])
	if err != nil {
		return NilVal, err
	}
	key, ok := isString(vm, args[1])
	if !ok {
		return NilVal, wrongType("_tbl_get", "string")
	}
	v, ok := t.Entries[key]
	if !ok {
		return NilVal, nil
	}
	return v, nil
}

func (vm *VM) nativeTableSet(vmArg *VM, args []Value) (Value, error) {
	t, err := vm.rawTable(args[0])
	if err != nil {
		return NilVal, err
	}
	key, ok := isString(vm, args[1])
	if !ok {
		return NilVal, wrongType("_tbl_set", "string")
	}
	t.Entries[key] = args[2]
	return args[2], nil
}

func (vm *VM) nativeTableHas(vmArg *VM, args []Value) (Value, error) {
	t, err := vm.rawTable(args[0])
	if err != nil {
		return NilVal, err
	}
	key, ok := isString(vm, args[1])
	if !ok {
		return NilVal, wrongType("_tbl_has", "string")
	}
	_, ok = t.Entries[key]
	return BoolVal(ok), nil
}

// nativeTableDel removes a key; deleting an absent key is a no-op.
func (vm *VM) nativeTableDel(vmArg *VM, args []Value) (Value, error) {
	t, err := vm.rawTable(args[0])
	if err != nil {
		return NilVal, err
	}
	key, ok := isString(vm, args[1])
	if !ok {
		return NilVal, wrongType("_tbl_del", "string")
	}
	delete(t.Entries, key)
	return NilVal, nil
}

func (vm *VM) nativeTableKeys(vmArg *VM, args []Value) (Value, error) {
	t, err := vm.rawTable(args[0])
	if err != nil {
		return NilVal, err
	}
	items := make([]Value, 0, len(t.Entries))
	for k := range t.Entries {
		items = append(items, vm.newStringValue(k))
	}
	return ObjVal(vm.newList(items)), nil
}

// ---- fiber introspection; run/yield are deliberately stubs per spec.md
// §9's unresolved suspension semantics. ----

func (vm *VM) nativeFiberNew(vmArg *VM, args []Value) (Value, error) {
	if !IsObj(args[0]) {
		return NilVal, wrongType("_fiber_new", "function")
	}
	h := vm.newFiber(vm.currentFiber)
	return ObjVal(h), nil
}

func (vm *VM) nativeFiberID(vmArg *VM, args []Value) (Value, error) {
	if !IsObj(args[0]) {
		return NilVal, wrongType("_fiber_id", "fiber")
	}
	f, ok := vm.get(AsHandle(args[0])).(*ObjFiber)
	if !ok {
		return NilVal, wrongType("_fiber_id", "fiber")
	}
	return NumberVal(float64(f.ID)), nil
}

func (vm *VM) nativeFiberRun(vmArg *VM, args []Value) (Value, error) { return NilVal, nil }
func (vm *VM) nativeFiberYield(vmArg *VM, args []Value) (Value, error) {
	return NilVal, nil
}

// ---- slimmed subset ported from the teacher's standard-library
// primitives: date/random/hash/base64/regex survive; AES, zip/gzip,
// HTTP, and file I/O are dropped (see DESIGN.md). ----

func (vm *VM) nativeSha256(vmArg *VM, args []Value) (Value, error) {
	s, ok := isString(vm, args[0])
	if !ok {
		return NilVal, wrongType("_sha256", "string")
	}
	sum := sha256.Sum256([]byte(s))
	return vm.newStringValue(fmt.Sprintf("%x", sum)), nil
}

func (vm *VM) nativeBase64Encode(vmArg *VM, args []Value) (Value, error) {
	s, ok := isString(vm, args[0])
	if !ok {
		return NilVal, wrongType("_base64_encode", "string")
	}
	return vm.newStringValue(base64.StdEncoding.EncodeToString([]byte(s))), nil
}

func (vm *VM) nativeBase64Decode(vmArg *VM, args []Value) (Value, error) {
	s, ok := isString(vm, args[0])
	if !ok {
		return NilVal, wrongType("_base64_decode", "string")
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return NilVal, fmt.Errorf("invalid base64: %w", err)
	}
	return vm.newStringValue(string(decoded)), nil
}

func (vm *VM) nativeRegexMatch(vmArg *VM, args []Value) (Value, error) {
	pattern, ok1 := isString(vm, args[0])
	text, ok2 := isString(vm, args[1])
	if !ok1 || !ok2 {
		return NilVal, wrongType("_regex_match", "string")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return NilVal, fmt.Errorf("invalid regex: %w", err)
	}
	return BoolVal(re.MatchString(text)), nil
}

func (vm *VM) nativeRegexFindAll(vmArg *VM, args []Value) (Value, error) {
	pattern, ok1 := isString(vm, args[0])
	text, ok2 := isString(vm, args[1])
	if !ok1 || !ok2 {
		return NilVal, wrongType("_regex_find_all", "string")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return NilVal, fmt.Errorf("invalid regex: %w", err)
	}
	matches := re.FindAllString(text, -1)
	items := make([]Value, len(matches))
	for i, m := range matches {
		items[i] = vm.newStringValue(m)
	}
	return ObjVal(vm.newList(items)), nil
}

func (vm *VM) nativeRegexReplace(vmArg *VM, args []Value) (Value, error) {
	pattern, ok1 := isString(vm, args[0])
	text, ok2 := isString(vm, args[1])
	repl, ok3 := isString(vm, args[2])
	if !ok1 || !ok2 || !ok3 {
		return NilVal, wrongType("_regex_replace", "string")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return NilVal, fmt.Errorf("invalid regex: %w", err)
	}
	return vm.newStringValue(re.ReplaceAllString(text, repl)), nil
}

func (vm *VM) nativeRandomInt(vmArg *VM, args []Value) (Value, error) {
	if !IsNumber(args[0]) || !IsNumber(args[1]) {
		return NilVal, wrongType("_random_int", "number")
	}
	lo := int64(AsNumber(args[0]))
	hi := int64(AsNumber(args[1]))
	if hi <= lo {
		return NilVal, fmt.Errorf("_random_int: max must be greater than min")
	}
	n, err := rand.Int(rand.Reader, big.NewInt(hi-lo))
	if err != nil {
		return NilVal, err
	}
	return NumberVal(float64(lo + n.Int64())), nil
}

func (vm *VM) nativeRandomFloat(vmArg *VM, args []Value) (Value, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return NilVal, err
	}
	bits := binary.BigEndian.Uint64(buf[:]) >> 11 // 53 significant bits
	return NumberVal(float64(bits) / float64(1<<53)), nil
}

func (vm *VM) nativeDateNow(vmArg *VM, args []Value) (Value, error) {
	return NumberVal(float64(time.Now().Unix())), nil
}
