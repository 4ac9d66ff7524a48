package machine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loonlang/loon/internal/compiler"
)

func interpretCapture(t *testing.T, source string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	vm, err := NewVM(Options{Sink: WriterSink{W: &buf}})
	require.NoError(t, err)
	runErr := vm.Interpret(source)
	return buf.String(), runErr
}

func TestInterpretPrintsArithmeticResult(t *testing.T) {
	out, err := interpretCapture(t, `print(1 + 2 * 3);`)
	require.NoError(t, err)
	require.Equal(t, "7\n", out)
}

func TestInterpretUndefinedGlobalIsRuntimeError(t *testing.T) {
	_, err := interpretCapture(t, `print(nope);`)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Contains(t, rerr.Message, "Undefined variable")
}

func TestInterpretTypeErrorReportsFrame(t *testing.T) {
	_, err := interpretCapture(t, `print(1 + "x");`)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "Operands must be numbers.", rerr.Message)
	require.Len(t, rerr.StackTrace, 1)
	require.Equal(t, "script", rerr.StackTrace[0].Name)
	require.Equal(t, 1, rerr.StackTrace[0].Line)
}

func TestInterpretClassInstantiationAndMethodCall(t *testing.T) {
	out, err := interpretCapture(t, `
		class Greeter {
			init(name) { this.name = name; }
			greet() { return "hi " # this.name; }
		}
		print(Greeter("loon").greet());
	`)
	require.NoError(t, err)
	require.Equal(t, "hi loon\n", out)
}

func TestInterpretSuperCallsInheritedMethod(t *testing.T) {
	out, err := interpretCapture(t, `
		class A { greet() { return "A"; } }
		class B < A { greet() { return super.greet() # "B"; } }
		print(B().greet());
	`)
	require.NoError(t, err)
	require.Equal(t, "AB\n", out)
}

func TestInterpretClosureOverLoopVariable(t *testing.T) {
	out, err := interpretCapture(t, `
		fun make() {
			var i = 0;
			fun incr() { i = i + 1; return i; }
			return incr;
		}
		var f = make();
		print(f());
		print(f());
		print(f());
	`)
	require.NoError(t, err)
	require.Equal(t, "1\n2\n3\n", out)
}

func TestInterpretListLiteralDispatchesThroughPrelude(t *testing.T) {
	out, err := interpretCapture(t, `
		var xs = [10, 20, 30];
		print(xs.len());
		print(xs.get(1));
	`)
	require.NoError(t, err)
	require.Equal(t, "3\n20\n", out)
}

func TestInterpretIndexSyntaxDesugarsToGetAtSetAt(t *testing.T) {
	out, err := interpretCapture(t, `
		var xs = [1, 2, 3];
		xs[0] = 99;
		print(xs[0]);
	`)
	require.NoError(t, err)
	require.Equal(t, "99\n", out)
}

func TestInterpretTableLiteral(t *testing.T) {
	out, err := interpretCapture(t, `
		var t = {"a": 1, "b": 2};
		print(t.get("b"));
	`)
	require.NoError(t, err)
	require.Equal(t, "2\n", out)
}

func TestInterpretAssertFailureIsRuntimeError(t *testing.T) {
	_, err := interpretCapture(t, `assert(false, "nope");`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope")
}

func TestInterpretHasChecksFieldsThenMethods(t *testing.T) {
	out, err := interpretCapture(t, `
		class A { greet() { return "hi"; } }
		var a = A();
		a.name = "x";
		print(has(a, "name"));
		print(has(a, "greet"));
		print(has(a, "missing"));
	`)
	require.NoError(t, err)
	require.Equal(t, "true\ntrue\nfalse\n", out)
}

func TestInterpretGCReturnsBytesReclaimed(t *testing.T) {
	out, err := interpretCapture(t, `
		var xs = [1, 2, 3];
		xs = nil;
		print(type(gc()));
	`)
	require.NoError(t, err)
	require.Equal(t, "number\n", out)
}

func TestInterpretListInsertAndDel(t *testing.T) {
	out, err := interpretCapture(t, `
		var xs = [1, 2, 3];
		xs.insert(1, 99);
		print(xs.len());
		print(xs.get(1));
		xs.del(1);
		print(xs.len());
		print(xs.get(1));
	`)
	require.NoError(t, err)
	require.Equal(t, "4\n99\n3\n2\n", out)
}

func TestInterpretTableDel(t *testing.T) {
	out, err := interpretCapture(t, `
		var t = {"a": 1, "b": 2};
		t.del("a");
		print(t.has("a"));
		print(t.len());
	`)
	require.NoError(t, err)
	require.Equal(t, "false\n1\n", out)
}

func TestInterpretNativeWrongArityIsRuntimeErrorNotPanic(t *testing.T) {
	_, err := interpretCapture(t, `type();`)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "Expected 1 arguments but got 0.", rerr.Message)
}

func TestInterpretCompileErrorDoesNotTouchVM(t *testing.T) {
	_, err := interpretCapture(t, `var;`)
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
}
