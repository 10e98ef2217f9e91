package lune

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func compileToChunk(t *testing.T, l *State, src string, strip bool) []byte {
	t.Helper()
	require.Equal(t, Ok, l.Load(strings.NewReader(src), "dumped", "t"))
	var buf bytes.Buffer
	require.NoError(t, l.Dump(&buf, strip))
	l.Pop(1)
	return buf.Bytes()
}

func TestDumpLoadRoundTrip(t *testing.T) {
	l := New()
	src := `
local function fib(n)
  if n < 2 then return n end
  return fib(n - 1) + fib(n - 2)
end
return fib(15), "tag", 2.5
`
	chunk := compileToChunk(t, l, src, false)
	require.True(t, bytes.HasPrefix(chunk, []byte(dumpSignature)))

	require.Equal(t, Ok, l.Load(bytes.NewReader(chunk), "reloaded", "b"))
	status := l.ProtectedCall(0, MultipleReturns, 0)
	require.Equal(t, Ok, status)
	require.Equal(t, 3, l.Top())
	n, _ := l.ToInteger(1)
	require.Equal(t, int64(610), n)
	s, _ := l.ToString(2)
	require.Equal(t, "tag", s)
	f, _ := l.ToNumber(3)
	require.Equal(t, 2.5, f)
}

func TestDumpStrippedStillRuns(t *testing.T) {
	l := New()
	chunk := compileToChunk(t, l, `local x = 40 return x + 2`, true)
	stripped := len(chunk)
	full := len(compileToChunk(t, l, `local x = 40 return x + 2`, false))
	require.Less(t, stripped, full, "stripping must drop debug payload")

	require.Equal(t, Ok, l.Load(bytes.NewReader(chunk), "stripped", "b"))
	require.Equal(t, Ok, l.ProtectedCall(0, 1, 0))
	n, _ := l.ToInteger(-1)
	require.Equal(t, int64(42), n)
}

func TestLoadRejectsCorruptedChunk(t *testing.T) {
	l := New()
	chunk := compileToChunk(t, l, `return 1`, false)
	chunk[len(dumpSignature)] ^= 0xff // damage the version byte
	status := l.Load(bytes.NewReader(chunk), "bad", "b")
	require.Equal(t, SyntaxError, status)
	msg, _ := l.ToString(-1)
	require.Contains(t, msg, "precompiled chunk")
}

func TestLoadRejectsBinaryInTextMode(t *testing.T) {
	l := New()
	chunk := compileToChunk(t, l, `return 1`, false)
	status := l.Load(bytes.NewReader(chunk), "binary", "t")
	require.Equal(t, SyntaxError, status)
	msg, _ := l.ToString(-1)
	require.Contains(t, msg, "attempt to load a binary chunk")
}

func TestDumpedClosureKeepsUpvalueStructure(t *testing.T) {
	l := New()
	src := `
local counter = 0
return function()
  counter = counter + 1
  return counter
end
`
	chunk := compileToChunk(t, l, src, false)
	require.Equal(t, Ok, l.Load(bytes.NewReader(chunk), "closures", "b"))
	require.Equal(t, Ok, l.ProtectedCall(0, 1, 0))
	// the returned closure shares its upvalue across calls
	l.PushValue(-1)
	require.Equal(t, Ok, l.ProtectedCall(0, 1, 0))
	n1, _ := l.ToInteger(-1)
	l.Pop(1)
	require.Equal(t, Ok, l.ProtectedCall(0, 1, 0))
	n2, _ := l.ToInteger(-1)
	require.Equal(t, int64(1), n1)
	require.Equal(t, int64(2), n2)
}
