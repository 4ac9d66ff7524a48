package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestVM(t *testing.T) *VM {
	t.Helper()
	vm, err := NewVM(Options{Sink: NullSink{}})
	require.NoError(t, err)
	return vm
}

func TestSweepFreesUnmarkedObjects(t *testing.T) {
	vm := newTestVM(t)

	before := len(vm.objects)
	h := vm.allocate(&ObjString{Chars: "garbage", Hash: fnv1a("garbage")}, len("garbage"))
	require.Greater(t, len(vm.objects), before)

	vm.sweep()

	require.False(t, vm.objects[h].live)
	require.Contains(t, vm.freeList, h)
}

func TestSweepKeepsMarkedObjectsAndClearsMark(t *testing.T) {
	vm := newTestVM(t)

	h := vm.allocate(&ObjString{Chars: "kept", Hash: fnv1a("kept")}, len("kept"))
	vm.objects[h].marked = true

	vm.sweep()

	require.True(t, vm.objects[h].live)
	require.False(t, vm.objects[h].marked)
}

func TestAllocateRecyclesFreedSlots(t *testing.T) {
	vm := newTestVM(t)

	h1 := vm.allocate(&ObjString{Chars: "one"}, 3)
	vm.objects[h1].marked = false
	vm.sweep()
	require.Contains(t, vm.freeList, h1)

	h2 := vm.allocate(&ObjString{Chars: "two"}, 3)
	require.Equal(t, h1, h2)
	require.Empty(t, vm.freeList)
}

func TestMarkRootsReachesGlobals(t *testing.T) {
	vm := newTestVM(t)

	strHandle := vm.internString("rooted")
	vm.globals.Set("g", ObjVal(strHandle))

	vm.markRoots()

	require.True(t, vm.objects[strHandle].marked)
}

func TestInternTableHoldsOnlyWeakReferences(t *testing.T) {
	vm := newTestVM(t)

	// Interned but referenced nowhere else: markRoots must not mark it, and
	// collectGarbage's weak-cleanup pass must drop it from vm.strings before
	// sweep frees the underlying object.
	strHandle := vm.internString("unreferenced")

	vm.markRoots()
	require.False(t, vm.objects[strHandle].marked)

	vm.collectGarbage()

	_, ok := vm.strings.Get("unreferenced")
	require.False(t, ok)
	require.False(t, vm.objects[strHandle].live)
}

func TestMarkSkipsDeadOrAlreadyMarkedHandles(t *testing.T) {
	vm := newTestVM(t)

	vm.mark(NoHandle) // must not panic or grow the gray stack
	require.Empty(t, vm.grayStack)

	h := vm.allocate(&ObjString{Chars: "x"}, 1)
	vm.mark(h)
	require.Len(t, vm.grayStack, 1)

	vm.grayStack = vm.grayStack[:0]
	vm.mark(h) // already marked: second mark is a no-op
	require.Empty(t, vm.grayStack)
}
