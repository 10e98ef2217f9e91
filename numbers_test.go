package lune

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStr2Num(t *testing.T) {
	cases := []struct {
		in   string
		want value
		ok   bool
	}{
		{"10", vInteger(10), true},
		{"  42  ", vInteger(42), true},
		{"-7", vInteger(-7), true},
		{"0xff", vInteger(255), true},
		{"0XFF", vInteger(255), true},
		{"3.5", vFloat(3.5), true},
		{"1e3", vFloat(1000), true},
		{"314.16e-2", vFloat(3.1416), true},
		{"0x1p4", vFloat(16), true},
		{"9223372036854775807", vInteger(math.MaxInt64), true},
		// decimal overflow falls back to float
		{"9223372036854775808", vFloat(9.223372036854776e18), true},
		{"", nilValue, false},
		{"abc", nilValue, false},
		{"1..2", nilValue, false},
		{"inf", nilValue, false},
		{"nan", nilValue, false},
		{"1_000", nilValue, false},
	}
	for _, c := range cases {
		got, ok := str2num(c.in)
		require.Equal(t, c.ok, ok, "input %q", c.in)
		if ok {
			require.Equal(t, c.want.tt, got.tt, "input %q", c.in)
			if c.want.isInteger() {
				require.Equal(t, c.want.n, got.n, "input %q", c.in)
			} else {
				require.InDelta(t, c.want.f, got.f, 1e-9, "input %q", c.in)
			}
		}
	}
}

func TestHexIntegerWrapsOnOverflow(t *testing.T) {
	v, ok := str2num("0xffffffffffffffff")
	require.True(t, ok)
	require.True(t, v.isInteger())
	require.Equal(t, int64(-1), v.n)
}

func TestNumberToString(t *testing.T) {
	require.Equal(t, "42", numberToString(vInteger(42)))
	require.Equal(t, "-1", numberToString(vInteger(-1)))
	require.Equal(t, "0.5", numberToString(vFloat(0.5)))
	require.Equal(t, "3.0", numberToString(vFloat(3)))
	require.Equal(t, "inf", numberToString(vFloat(math.Inf(1))))
	require.Equal(t, "-inf", numberToString(vFloat(math.Inf(-1))))
	require.Equal(t, "nan", numberToString(vFloat(math.NaN())))
}

func TestFloatToInteger(t *testing.T) {
	i, ok := floatToInteger(3.0)
	require.True(t, ok)
	require.Equal(t, int64(3), i)

	_, ok = floatToInteger(3.5)
	require.False(t, ok)
	_, ok = floatToInteger(math.NaN())
	require.False(t, ok)
	_, ok = floatToInteger(twoTo63)
	require.False(t, ok)

	i, ok = floatToInteger(-twoTo63)
	require.True(t, ok)
	require.Equal(t, int64(math.MinInt64), i)
}

func TestIntFloatOrderingAtPrecisionEdge(t *testing.T) {
	// 2^63-1 is not representable as a float; the comparison must not
	// round it
	big := int64(math.MaxInt64)
	f := float64(big) // rounds up to 2^63
	require.True(t, intLessFloat(big, f))
	require.False(t, floatLessInt(f, big))

	require.True(t, numLess(vInteger(big), vFloat(f)))
	require.False(t, numLess(vFloat(f), vInteger(big)))
	require.False(t, numEqual(vInteger(big), vFloat(f)))
}

func TestNaNComparisons(t *testing.T) {
	nan := vFloat(math.NaN())
	require.False(t, numLess(nan, vInteger(1)))
	require.False(t, numLess(vInteger(1), nan))
	require.False(t, numLessEqual(nan, nan))
	require.False(t, numEqual(nan, nan))
}

func TestFloorDivisionAndModulo(t *testing.T) {
	l := New()
	require.Equal(t, int64(-2), l.intArith(OpIDiv, -3, 2))
	require.Equal(t, int64(1), l.intArith(OpMod, -3, 2))
	require.Equal(t, int64(-1), l.intArith(OpMod, 3, -2))
	require.Equal(t, int64(0), l.intArith(OpMod, math.MinInt64, -1))
	require.Equal(t, int64(math.MinInt64), l.intArith(OpIDiv, math.MinInt64, -1))

	require.Equal(t, 1.5, floatArith(OpMod, -0.5, 2))
	require.Equal(t, math.Floor(7.0/2.0), floatArith(OpIDiv, 7, 2))
}

func TestShifts(t *testing.T) {
	require.Equal(t, int64(16), shiftLeft(1, 4))
	require.Equal(t, int64(1), shiftLeft(16, -4))
	require.Equal(t, int64(0), shiftLeft(1, 64))
	require.Equal(t, int64(0), shiftLeft(-1, -64))
	// shifts are logical, not arithmetic
	require.Equal(t, int64(0x7fffffffffffffff), shiftLeft(-1, -1))
}
