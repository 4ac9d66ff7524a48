package machine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureUpvalueReusesExistingNodeForSameSlot(t *testing.T) {
	vm := newTestVM(t)
	f := vm.fiber()
	f.Stack[3] = NumberVal(7)

	h1 := vm.captureUpvalue(3)
	h2 := vm.captureUpvalue(3)

	require.Equal(t, h1, h2)
}

func TestCaptureUpvalueKeepsOpenListDescendingBySlot(t *testing.T) {
	vm := newTestVM(t)
	f := vm.fiber()
	f.Stack[1] = NumberVal(1)
	f.Stack[5] = NumberVal(5)
	f.Stack[3] = NumberVal(3)

	vm.captureUpvalue(5)
	vm.captureUpvalue(1)
	vm.captureUpvalue(3)

	var slots []int
	for uv := f.OpenUpvalues; uv != NoHandle; {
		node := vm.get(uv).(*ObjUpvalue)
		slots = append(slots, node.Slot)
		uv = node.Next
	}
	require.Equal(t, []int{5, 3, 1}, slots)
}

func TestUpvalueGetSetReadThroughWhileOpen(t *testing.T) {
	vm := newTestVM(t)
	f := vm.fiber()
	f.Stack[2] = NumberVal(10)

	h := vm.captureUpvalue(2)
	require.Equal(t, NumberVal(10), vm.upvalueGet(h))

	vm.upvalueSet(h, NumberVal(20))
	require.Equal(t, NumberVal(20), f.Stack[2])
}

func TestCloseUpvaluesCopiesValueAndDetaches(t *testing.T) {
	vm := newTestVM(t)
	f := vm.fiber()
	f.Stack[4] = NumberVal(99)

	h := vm.captureUpvalue(4)
	vm.closeUpvalues(4)

	uv := vm.get(h).(*ObjUpvalue)
	require.Equal(t, -1, uv.Slot)
	require.Equal(t, NumberVal(99), uv.Closed)
	require.Equal(t, NoHandle, f.OpenUpvalues)

	require.Equal(t, NumberVal(99), vm.upvalueGet(h))
}

func TestCloseUpvaluesOnlyClosesAtOrAboveBase(t *testing.T) {
	vm := newTestVM(t)
	f := vm.fiber()
	f.Stack[1] = NumberVal(1)
	f.Stack[6] = NumberVal(6)

	low := vm.captureUpvalue(1)
	high := vm.captureUpvalue(6)

	vm.closeUpvalues(5)

	require.Equal(t, -1, vm.get(high).(*ObjUpvalue).Slot)
	require.Equal(t, 1, vm.get(low).(*ObjUpvalue).Slot)
	require.Equal(t, low, f.OpenUpvalues)
}
