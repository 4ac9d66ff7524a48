package machine

import (
	_ "embed"
	"fmt"
)

//go:embed prelude.loon
var preludeSource string

// loadPrelude interprets the embedded prelude script with output suppressed
// (spec.md §4.5) and registers the List/Table classes it defines in
// vm.preludeClasses, where OpCollectionList/OpCollectionTable look them up.
func (vm *VM) loadPrelude() error {
	prev := vm.sink
	vm.sink = NullSink{}
	err := vm.Interpret(preludeSource)
	vm.sink = prev
	if err != nil {
		return err
	}

	for _, name := range []string{"List", "Table"} {
		v, ok := vm.globals.Get(name)
		if !ok {
			return fmt.Errorf("prelude did not define %s", name)
		}
		vm.preludeClasses.Put(name, AsHandle(v))
	}
	return nil
}
