package lune

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStackManipulation(t *testing.T) {
	l := New()
	l.PushInteger(1)
	l.PushInteger(2)
	l.PushInteger(3)
	require.Equal(t, 3, l.Top())

	l.PushValue(1)
	n, ok := l.ToInteger(-1)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
	l.Pop(1)

	l.Rotate(1, 1) // 3 1 2
	n, _ = l.ToInteger(1)
	require.Equal(t, int64(3), n)

	l.Remove(1) // 1 2
	require.Equal(t, 2, l.Top())
	n, _ = l.ToInteger(1)
	require.Equal(t, int64(1), n)

	l.SetTop(0)
	require.Equal(t, 0, l.Top())
}

func TestPushToRoundTrips(t *testing.T) {
	l := New()

	l.PushInteger(math.MaxInt64)
	n, ok := l.ToInteger(-1)
	require.True(t, ok)
	require.Equal(t, int64(math.MaxInt64), n)

	l.PushNumber(0.5)
	f, ok := l.ToNumber(-1)
	require.True(t, ok)
	require.Equal(t, 0.5, f)

	l.PushNumber(math.Inf(1))
	f, _ = l.ToNumber(-1)
	require.True(t, math.IsInf(f, 1))

	l.PushString("hello")
	s, ok := l.ToString(-1)
	require.True(t, ok)
	require.Equal(t, "hello", s)

	l.PushBoolean(true)
	require.True(t, l.ToBoolean(-1))

	l.PushNil()
	require.True(t, l.IsNil(-1))
	require.False(t, l.ToBoolean(-1))
}

func TestNumberStringRoundTrip(t *testing.T) {
	l := New()
	for _, n := range []int64{0, 1, -1, 42, math.MaxInt64, math.MinInt64} {
		l.PushInteger(n)
		s, ok := l.ToString(-1)
		require.True(t, ok)
		consumed := l.StringToNumber(s)
		require.NotZero(t, consumed)
		back, ok := l.ToInteger(-1)
		require.True(t, ok)
		require.Equal(t, n, back)
		l.SetTop(0)
	}
	for _, f := range []float64{0.5, -1.25, 1e100, 3.1415926535898} {
		l.PushNumber(f)
		s, ok := l.ToString(-1)
		require.True(t, ok)
		require.NotZero(t, l.StringToNumber(s))
		back, ok := l.ToNumber(-1)
		require.True(t, ok)
		require.Equal(t, f, back)
		l.SetTop(0)
	}
}

func TestTypeQueries(t *testing.T) {
	l := New()
	l.PushInteger(1)
	l.PushString("2")
	l.NewTable()
	l.PushGoFunction(func(l *State) int { return 0 })

	require.Equal(t, TypeNumber, l.TypeOf(1))
	require.Equal(t, TypeString, l.TypeOf(2))
	require.Equal(t, TypeTable, l.TypeOf(3))
	require.Equal(t, TypeFunction, l.TypeOf(4))
	require.Equal(t, TypeNone, l.TypeOf(40))

	require.True(t, l.IsNumber(2)) // numeric string
	require.True(t, l.IsString(1)) // numbers count as strings
	require.True(t, l.IsGoFunction(4))
}

func TestGlobalsAndFields(t *testing.T) {
	l := New()
	l.PushInteger(7)
	l.SetGlobal("seven")
	require.Equal(t, TypeNumber, l.Global("seven"))
	n, _ := l.ToInteger(-1)
	require.Equal(t, int64(7), n)
	l.Pop(1)

	l.NewTable()
	l.PushString("v")
	l.SetField(-2, "key")
	require.Equal(t, TypeString, l.Field(-1, "key"))
	s, _ := l.ToString(-1)
	require.Equal(t, "v", s)
	l.Pop(2)

	l.NewTable()
	l.PushInteger(10)
	l.SetI(-2, 3)
	require.Equal(t, TypeNumber, l.GetI(-1, 3))
	n, _ = l.ToInteger(-1)
	require.Equal(t, int64(10), n)
}

func TestRegistryPseudoIndex(t *testing.T) {
	l := New()
	require.Equal(t, TypeThread, l.RawGetI(RegistryIndex, RegistryKeyMainThread))
	require.Same(t, l, l.ToThread(-1))
	l.Pop(1)
	require.Equal(t, TypeTable, l.RawGetI(RegistryIndex, RegistryKeyGlobals))
	l.Pop(1)

	l.PushString("pinned")
	l.SetField(RegistryIndex, "host.key")
	require.Equal(t, TypeString, l.Field(RegistryIndex, "host.key"))
}

func TestGoClosureUpvalues(t *testing.T) {
	l := New()
	l.PushInteger(40)
	l.PushInteger(2)
	l.PushGoClosure(func(l *State) int {
		a, _ := l.ToInteger(UpvalueIndex(1))
		b, _ := l.ToInteger(UpvalueIndex(2))
		l.PushInteger(a + b)
		return 1
	}, 2)
	l.Call(0, 1)
	n, _ := l.ToInteger(-1)
	require.Equal(t, int64(42), n)
}

func TestProtectedCallStatus(t *testing.T) {
	l := New()
	l.PushGoFunction(func(l *State) int {
		l.PushString("kaboom")
		l.Error()
		return 0
	})
	status := l.ProtectedCall(0, 0, 0)
	require.Equal(t, RuntimeError, status)
	msg, _ := l.ToString(-1)
	require.Contains(t, msg, "kaboom")
}

func TestStackBalanceAfterCall(t *testing.T) {
	l := New()
	l.PushInteger(999) // ballast
	before := l.Top()
	l.PushGoFunction(func(l *State) int {
		l.PushInteger(1)
		l.PushInteger(2)
		return 2
	})
	l.PushInteger(10)
	l.Call(1, 2)
	require.Equal(t, before+2, l.Top())
	l.Pop(2)
	require.Equal(t, before, l.Top())
}

func TestArithAPI(t *testing.T) {
	l := New()
	l.PushInteger(7)
	l.PushInteger(5)
	l.Arith(OpMod)
	n, _ := l.ToInteger(-1)
	require.Equal(t, int64(2), n)

	l.PushInteger(2)
	l.Arith(OpPow)
	f, _ := l.ToNumber(-1)
	require.Equal(t, 4.0, f)

	l.Pop(1)
	l.PushInteger(3)
	l.Arith(OpUnaryMinus)
	n, _ = l.ToInteger(-1)
	require.Equal(t, int64(-3), n)
}

func TestCompareAPI(t *testing.T) {
	l := New()
	l.PushInteger(1)
	l.PushNumber(1.0)
	require.True(t, l.Compare(1, 2, OpEq))
	require.True(t, l.Compare(1, 2, OpLE))
	require.False(t, l.Compare(1, 2, OpLT))
	l.PushString("a")
	l.PushString("b")
	require.True(t, l.Compare(3, 4, OpLT))
}

func TestRawEqualInterning(t *testing.T) {
	l := New()
	l.PushString("short key")
	l.PushString("short key")
	require.True(t, l.RawEqual(1, 2))

	long := strings.Repeat("x", 100)
	l.PushString(long)
	l.PushString(long)
	require.True(t, l.RawEqual(3, 4))
}

func TestConcatAPI(t *testing.T) {
	l := New()
	l.PushString("a")
	l.PushInteger(1)
	l.PushString("b")
	l.Concat(3)
	s, _ := l.ToString(-1)
	require.Equal(t, "a1b", s)

	l.Concat(0)
	s, _ = l.ToString(-1)
	require.Equal(t, "", s)
}

func TestPushFormat(t *testing.T) {
	l := New()
	s := l.PushFormat("%s=%d %I%% f=%f c=%c u=%U", "x", 7, int64(9), 0.5, byte('A'), rune(0x41))
	require.Equal(t, "x=7 9% f=0.5 c=A u=A", s)
}

func TestUserdata(t *testing.T) {
	l := New()
	data := l.NewUserdata(8)
	require.Len(t, data, 8)
	data[0] = 0xff
	require.Equal(t, byte(0xff), l.ToUserdata(-1)[0])
	require.Equal(t, 8, l.RawLength(-1))

	l.PushString("attached")
	l.SetUserValue(-2)
	require.Equal(t, TypeString, l.UserValue(-1))
	s, _ := l.ToString(-1)
	require.Equal(t, "attached", s)
	l.Pop(1)

	l.NewTable()
	l.PushGoFunction(func(l *State) int {
		l.PushString("meta length")
		return 1
	})
	l.SetField(-2, "__len")
	l.SetMetaTable(-2)
	require.True(t, l.MetaTable(-1))
	l.Pop(1)
	l.Length(-1)
	s, _ = l.ToString(-1)
	require.Equal(t, "meta length", s)
}

func TestXMoveBetweenThreads(t *testing.T) {
	l := New()
	co := l.NewThread()
	l.PushString("crossing")
	l.XMove(co, 1)
	require.Equal(t, 1, co.Top())
	s, _ := co.ToString(-1)
	require.Equal(t, "crossing", s)
}

func TestNextIteratesAllEntries(t *testing.T) {
	l := New()
	l.NewTable()
	want := map[string]int64{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		l.PushInteger(v)
		l.SetField(-2, k)
	}
	for i := int64(1); i <= 4; i++ {
		l.PushInteger(i * 100)
		l.RawSetI(-2, i)
	}
	got := map[string]int64{}
	arrayCount := 0
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == TypeString {
			k, _ := l.ToString(-2)
			v, _ := l.ToInteger(-1)
			got[k] = v
		} else {
			arrayCount++
		}
		l.Pop(1)
	}
	require.Equal(t, want, got)
	require.Equal(t, 4, arrayCount)
}

func TestLoadModeRestrictions(t *testing.T) {
	l := New()
	status := l.Load(strings.NewReader("return 1"), "test", "b")
	require.Equal(t, SyntaxError, status)
	msg, _ := l.ToString(-1)
	require.Contains(t, msg, "attempt to load a text chunk")
}

func TestStateIsolation(t *testing.T) {
	l1 := New()
	l2 := New()
	l1.PushInteger(1)
	l1.SetGlobal("only_in_l1")
	require.Equal(t, TypeNil, l2.Global("only_in_l1"))
}

func TestSetPanic(t *testing.T) {
	l := New()
	old := l.SetPanic(func(l *State) int { return 0 })
	require.Nil(t, old)
}
