package machine

import "math"

// Value is a NaN-boxed tagged word: a number is stored as the IEEE-754
// double's raw bits; every other kind is encoded in an otherwise-unused
// quiet-NaN bit pattern. Unlike a classic C NaN-box, the payload for the
// object tag is not a pointer: Go's precise collector cannot trace a
// pointer hidden inside an integer, so the low 32 bits instead hold a
// Handle, a stable index into the VM's own object table (see object.go).
// Two Values holding the same handle are the same object; that identity
// is the "bitwise equality" the value model requires for interned strings
// and every other heap object.
type Value uint64

const (
	qnan    uint64 = 0x7ffc000000000000
	signBit uint64 = 0x8000000000000000

	tagNil   uint64 = 1
	tagFalse uint64 = 2
	tagTrue  uint64 = 3
)

var (
	NilVal   = Value(qnan | tagNil)
	TrueVal  = Value(qnan | tagTrue)
	FalseVal = Value(qnan | tagFalse)
)

// NumberVal boxes a float64 as a Value. Real NaNs collapse onto the same
// bit pattern as other NaNs produced by arithmetic; this implementation
// does not attempt to distinguish them, matching the clox lineage this
// spec descends from.
func NumberVal(f float64) Value { return Value(math.Float64bits(f)) }

func BoolVal(b bool) Value {
	if b {
		return TrueVal
	}
	return FalseVal
}

// ObjVal boxes a handle into the object tag's bit pattern.
func ObjVal(h Handle) Value {
	return Value(signBit | qnan | uint64(uint32(h)))
}

func IsNumber(v Value) bool { return (uint64(v) & qnan) != qnan }

func IsNil(v Value) bool { return v == NilVal }

func IsBool(v Value) bool { return v == TrueVal || v == FalseVal }

func IsObj(v Value) bool { return (uint64(v) & (qnan | signBit)) == (qnan | signBit) }

func AsNumber(v Value) float64 { return math.Float64frombits(uint64(v)) }

func AsBool(v Value) bool { return v == TrueVal }

func AsHandle(v Value) Handle { return Handle(uint32(v)) }

// IsFalsey implements the spec's only two falsey values: nil and false.
func IsFalsey(v Value) bool {
	return IsNil(v) || (IsBool(v) && !AsBool(v))
}

// ValuesEqual implements numeric equality for numbers and bitwise identity
// (handle equality) for everything else, including interned strings.
func ValuesEqual(a, b Value) bool {
	if IsNumber(a) && IsNumber(b) {
		return AsNumber(a) == AsNumber(b)
	}
	return a == b
}
