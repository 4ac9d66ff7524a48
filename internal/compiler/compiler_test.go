package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileSimpleExpressionStatement(t *testing.T) {
	proto, err := Compile(`1 + 2 * 3;`)
	require.NoError(t, err)
	require.Equal(t, OpCode(OpConstant), OpCode(proto.Chunk.Code[0]))
	require.Contains(t, proto.Chunk.Code, byte(OpAdd))
	require.Contains(t, proto.Chunk.Code, byte(OpMultiply))
	require.Contains(t, proto.Chunk.Code, byte(OpPop))
	require.Equal(t, byte(OpReturn), proto.Chunk.Code[len(proto.Chunk.Code)-1])
}

func TestCompileUndefinedLocalErrors(t *testing.T) {
	_, err := Compile(`{ var a = a; }`)
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestCompileDuplicateLocalInSameScopeErrors(t *testing.T) {
	_, err := Compile(`{ var a = 1; var a = 2; }`)
	require.Error(t, err)
}

func TestCompileTopLevelReturnErrors(t *testing.T) {
	_, err := Compile(`return 1;`)
	require.Error(t, err)
}

func TestCompileInitializerReturningValueErrors(t *testing.T) {
	_, err := Compile(`class A { init() { return 1; } }`)
	require.Error(t, err)
}

func TestCompileClassInheritingFromItselfErrors(t *testing.T) {
	_, err := Compile(`class A < A {}`)
	require.Error(t, err)
}

func TestCompileFunctionCapturesUpvalue(t *testing.T) {
	proto, err := Compile(`
		fun make() {
			var i = 0;
			fun incr() { i = i + 1; return i; }
			return incr;
		}
	`)
	require.NoError(t, err)

	var inner *FunctionProto
	for _, c := range proto.Chunk.Constants {
		if outer, ok := c.(*FunctionProto); ok && outer.Name == "make" {
			for _, c2 := range outer.Chunk.Constants {
				if fp, ok := c2.(*FunctionProto); ok && fp.Name == "incr" {
					inner = fp
				}
			}
		}
	}
	require.NotNil(t, inner, "expected to find compiled incr() proto")
	require.Equal(t, 1, inner.UpvalueCount)
	require.Len(t, inner.Upvalues, 1)
	require.True(t, inner.Upvalues[0].IsLocal)
}

func TestCompileMethodNamedInitIsInitializer(t *testing.T) {
	proto, err := Compile(`class A { init() {} }`)
	require.NoError(t, err)

	var found bool
	for _, c := range proto.Chunk.Constants {
		if fp, ok := c.(*FunctionProto); ok && fp.Name == "init" {
			found = true
			require.True(t, fp.IsInitializer)
		}
	}
	require.True(t, found, "expected to find compiled init() proto")
}

func TestCompileListAndTableLiteralsEmitCollectionOps(t *testing.T) {
	proto, err := Compile(`[1, 2, 3];`)
	require.NoError(t, err)
	require.Contains(t, proto.Chunk.Code, byte(OpCollectionList))

	proto, err = Compile(`var t = {"a": 1};`)
	require.NoError(t, err)
	require.Contains(t, proto.Chunk.Code, byte(OpCollectionTable))
}

func TestCompileHashOperatorsDesugarToCalls(t *testing.T) {
	proto, err := Compile(`#1;`)
	require.NoError(t, err)
	require.Contains(t, proto.Chunk.Code, byte(OpCall))

	proto, err = Compile(`"a" # "b";`)
	require.NoError(t, err)
	require.Contains(t, proto.Chunk.Code, byte(OpCallPostfix))
}

// TestCompileHashBindsAsTightAsPlusMinus pins # to PrecTerm (spec.md §4.1
// groups "+ - #" at the term level; the original's compiler.c assigns
// TOKEN_HASH to PREC_FACTOR, tighter than "+"/"-"). Either way, "#" must
// not bind looser than "+": `1 # 2 + 3` must parse as `(1 # 2) + 3`, so the
// concat call is emitted before the add.
func TestCompileHashBindsAsTightAsPlusMinus(t *testing.T) {
	proto, err := Compile(`1 # 2 + 3;`)
	require.NoError(t, err)

	callIdx := indexOfOp(t, proto.Chunk.Code, OpCallPostfix)
	addIdx := indexOfOp(t, proto.Chunk.Code, OpAdd)
	require.Less(t, callIdx, addIdx, "expected (1 # 2) + 3, concat should run before add")
}

func indexOfOp(t *testing.T, code []byte, op OpCode) int {
	t.Helper()
	for i, b := range code {
		if OpCode(b) == op {
			return i
		}
	}
	t.Fatalf("opcode %v not found in %v", op, code)
	return -1
}

func TestCompileIndexDesugarsToInvoke(t *testing.T) {
	proto, err := Compile(`var a; a[0];`)
	require.NoError(t, err)
	require.Contains(t, proto.Chunk.Code, byte(OpInvoke))
}

func TestCompileSuperOutsideClassErrors(t *testing.T) {
	_, err := Compile(`fun f() { super.m(); }`)
	require.Error(t, err)
}

func TestCompileThisOutsideClassErrors(t *testing.T) {
	_, err := Compile(`fun f() { return this; }`)
	require.Error(t, err)
}
