package lune

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResumeTransfersValues(t *testing.T) {
	l := New()
	co := l.NewThread()
	require.Equal(t, Ok, co.Load(strings.NewReader(`
local a, b = ...
local c = coroutine.yield(a + b)
return c * 2
`), "co", "t"))
	co.PushInteger(4)
	co.PushInteger(5)
	status := co.Resume(l, 2)
	require.Equal(t, Yield, status)
	require.Equal(t, 1, co.Top())
	n, _ := co.ToInteger(-1)
	require.Equal(t, int64(9), n)
	co.Pop(1)

	co.PushInteger(10)
	status = co.Resume(l, 1)
	require.Equal(t, Ok, status)
	n, _ = co.ToInteger(-1)
	require.Equal(t, int64(20), n)
}

func TestResumeErrorLeavesErrorOnTop(t *testing.T) {
	l := New()
	co := l.NewThread()
	require.Equal(t, Ok, co.Load(strings.NewReader(`error("died inside")`), "co", "t"))
	status := co.Resume(l, 0)
	require.Equal(t, RuntimeError, status)
	msg, _ := co.ToString(-1)
	require.Contains(t, msg, "died inside")
	require.Equal(t, RuntimeError, co.Status())
}

func TestHostYieldWithContinuation(t *testing.T) {
	l := New()
	co := l.NewThread()

	// a host function that yields and restarts in its continuation
	co.PushGoFunction(func(l *State) int {
		n, _ := l.ToInteger(1)
		l.PushInteger(n + 1)
		return l.YieldWithContinuation(1, 77, func(l *State, status Status, ctx int64) int {
			require.Equal(t, Yield, status)
			require.Equal(t, int64(77), ctx)
			// the values passed to resume are on the stack
			m, _ := l.ToInteger(-1)
			l.PushInteger(m * 10)
			return 1
		})
	})
	co.PushInteger(5)
	status := co.Resume(l, 1)
	require.Equal(t, Yield, status)
	n, _ := co.ToInteger(-1)
	require.Equal(t, int64(6), n)
	co.Pop(1)

	co.PushInteger(4)
	status = co.Resume(l, 1)
	require.Equal(t, Ok, status)
	n, _ = co.ToInteger(-1)
	require.Equal(t, int64(40), n)
}

func TestYieldAcrossBareHostCallIsRefused(t *testing.T) {
	l := New()
	// a host function calling back into the language without a
	// continuation cannot be suspended
	l.Register("host_call_without_continuation", func(l *State) int {
		l.PushValue(1)
		l.Call(0, 0)
		return 0
	})
	results, err := l.EvalString(`
local co = coroutine.create(function()
  host_call_without_continuation(function() coroutine.yield() end)
end)
local ok, msg = coroutine.resume(co)
return ok, msg
`)
	require.NoError(t, err)
	require.Equal(t, false, results[0])
	require.Contains(t, results[1], "attempt to yield")
}

func TestYieldFromMainThreadIsRefused(t *testing.T) {
	l := New()
	results, err := l.EvalString(`return pcall(coroutine.yield)`)
	require.NoError(t, err)
	require.Equal(t, false, results[0])
	require.Contains(t, results[1], "attempt to yield from outside a coroutine")
}

func TestCoroutineStacksAreIndependent(t *testing.T) {
	l := New()
	results, err := l.EvalString(`
local function worker(id)
  local acc = 0
  for i = 1, 3 do
    acc = acc + coroutine.yield(id .. ":" .. acc)
  end
  return acc
end
local a = coroutine.create(worker)
local b = coroutine.create(worker)
local _, ra = coroutine.resume(a, "a")
local _, rb = coroutine.resume(b, "b")
coroutine.resume(a, 1)
coroutine.resume(b, 100)
local _, ra2 = coroutine.resume(a, 2)
local _, rb2 = coroutine.resume(b, 200)
return ra, rb, ra2, rb2
`)
	require.NoError(t, err)
	require.Equal(t, []any{"a:0", "b:0", "a:3", "b:300"}, results)
}
