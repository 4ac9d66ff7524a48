package machine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNumberValRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.5, -3.5, math.MaxFloat64, -math.MaxFloat64} {
		v := NumberVal(f)
		require.True(t, IsNumber(v))
		require.False(t, IsObj(v))
		require.False(t, IsNil(v))
		require.Equal(t, f, AsNumber(v))
	}
}

func TestBoolAndNilSingletons(t *testing.T) {
	require.True(t, IsBool(TrueVal))
	require.True(t, AsBool(TrueVal))
	require.True(t, IsBool(FalseVal))
	require.False(t, AsBool(FalseVal))
	require.True(t, IsNil(NilVal))
	require.False(t, IsNumber(NilVal))
}

func TestIsFalsey(t *testing.T) {
	require.True(t, IsFalsey(NilVal))
	require.True(t, IsFalsey(FalseVal))
	require.False(t, IsFalsey(TrueVal))
	require.False(t, IsFalsey(NumberVal(0)))
}

func TestObjValRoundTrip(t *testing.T) {
	h := Handle(42)
	v := ObjVal(h)
	require.True(t, IsObj(v))
	require.Equal(t, h, AsHandle(v))
}

func TestValuesEqual(t *testing.T) {
	require.True(t, ValuesEqual(NumberVal(1), NumberVal(1)))
	require.False(t, ValuesEqual(NumberVal(1), NumberVal(2)))
	require.True(t, ValuesEqual(NilVal, NilVal))
	require.False(t, ValuesEqual(NilVal, FalseVal))
	require.True(t, ValuesEqual(ObjVal(3), ObjVal(3)))
	require.False(t, ValuesEqual(ObjVal(3), ObjVal(4)))
}
