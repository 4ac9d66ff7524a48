// Command loon runs loon source files or a REPL.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/loonlang/loon/internal/compiler"
	"github.com/loonlang/loon/internal/machine"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type flags struct {
	disassemble bool // -c
	traceGC     bool // -g
	bufferPrint bool // -l
	reportMem   bool // -m
	traceExec   bool // -x
}

// run parses flags in any order, builds a VM, and either runs a file or
// drops into a REPL. Exit codes follow spec.md §6: 0 success, 65 compile
// error, 70 runtime error, 64 bad CLI.
func run(args []string) int {
	var f flags
	var filename string
	for _, arg := range args {
		switch arg {
		case "-c":
			f.disassemble = true
		case "-g":
			f.traceGC = true
		case "-l":
			f.bufferPrint = true
		case "-m":
			f.reportMem = true
		case "-x":
			f.traceExec = true
		default:
			if len(arg) > 0 && arg[0] == '-' {
				fmt.Fprintf(os.Stderr, "loon: unknown flag %q\n", arg)
				return 64
			}
			if filename != "" {
				fmt.Fprintf(os.Stderr, "loon: unexpected argument %q\n", arg)
				return 64
			}
			filename = arg
		}
	}

	var sink machine.Sink = machine.WriterSink{W: os.Stdout}
	var buffered *machine.BufferedSink
	if f.bufferPrint {
		buffered = &machine.BufferedSink{W: os.Stdout}
		sink = buffered
	}

	vm, err := machine.NewVM(machine.Options{
		Sink:      sink,
		TraceGC:   f.traceGC,
		TraceExec: f.traceExec,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "loon: %v\n", err)
		return 70
	}

	var code int
	if filename == "" {
		code = runREPL(vm, f)
	} else {
		code = runFile(vm, filename, f)
	}

	if buffered != nil {
		buffered.Flush()
	}
	if f.reportMem {
		fmt.Fprintf(os.Stderr, "unreclaimed bytes: %d\n", vm.BytesAllocated())
	}
	return code
}

func runFile(vm *machine.VM, filename string, f flags) int {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loon: %v\n", err)
		return 64
	}
	source := string(data)

	if f.disassemble {
		if proto, cerr := compiler.Compile(source); cerr == nil {
			dumpChunks(os.Stdout, filename, proto)
		}
	}

	if err := vm.Interpret(source); err != nil {
		return reportError(err)
	}
	return 0
}

func runREPL(vm *machine.VM, f flags) int {
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		line := in.Text()
		if line == "" {
			continue
		}

		if f.disassemble {
			if proto, cerr := compiler.Compile(line); cerr == nil {
				dumpChunks(os.Stdout, "<repl>", proto)
			}
		}

		if err := vm.Interpret(line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	return 0
}

func reportError(err error) int {
	fmt.Fprintln(os.Stderr, err)
	if _, ok := err.(*compiler.CompileError); ok {
		return 65
	}
	return 70
}

// dumpChunks prints name's chunk followed by the chunk of every nested
// function its constant pool references, matching the teacher's recursive
// disassembly of method bodies.
func dumpChunks(w io.Writer, name string, proto *compiler.FunctionProto) {
	fmt.Fprint(w, proto.Chunk.Disassemble(name))
	for _, c := range proto.Chunk.Constants {
		if nested, ok := c.(*compiler.FunctionProto); ok {
			nestedName := nested.Name
			if nestedName == "" {
				nestedName = "<anonymous>"
			}
			dumpChunks(w, nestedName, nested)
		}
	}
}
