package lune

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/suite"
)

func TestScriptSuite(t *testing.T) {
	suite.Run(t, new(ScriptSuite))
}

type ScriptSuite struct {
	suite.Suite

	state  *State
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func (suite *ScriptSuite) SetupTest() {
	suite.stdout = new(bytes.Buffer)
	suite.stderr = new(bytes.Buffer)
	suite.state = New(
		WithStdout(suite.stdout),
		WithStderr(suite.stderr),
	)
}

func (suite *ScriptSuite) eval(src string) []any {
	results, err := suite.state.EvalString(src)
	suite.Require().NoError(err)
	return results
}

func (suite *ScriptSuite) TestArithmeticIntegerFloatSplit() {
	results := suite.eval(`return 1+2, 1/2, 1//2, 1.0+2`)
	suite.Equal([]any{int64(3), 0.5, int64(0), 3.0}, results)
}

func (suite *ScriptSuite) TestMixedKeysAndLength() {
	results := suite.eval(`local t={10,20,30; name="x"} t[4]=40 return #t, t.name, t[2]`)
	suite.Equal([]any{int64(4), "x", int64(20)}, results)
}

func (suite *ScriptSuite) TestSharedUpvalue() {
	results := suite.eval(`
local function mk() local x=0
  return function() x=x+1; return x end,
         function() return x end end
local inc, get = mk()
inc(); inc(); inc()
return get()
`)
	suite.Equal([]any{int64(3)}, results)
}

func (suite *ScriptSuite) TestPcallRecoversRuntimeError() {
	results := suite.eval(`return pcall(function() return (nil)+1 end)`)
	suite.Require().Len(results, 2)
	suite.Equal(false, results[0])
	suite.Contains(results[1], "attempt to perform arithmetic")
}

func (suite *ScriptSuite) TestCoroutineYieldResume() {
	results := suite.eval(`
local co = coroutine.create(function(a)
  local b = coroutine.yield(a+1)
  return a+b end)
local ok1, v1 = coroutine.resume(co, 10)
local ok2, v2 = coroutine.resume(co, 100)
return ok1, v1, ok2, v2
`)
	suite.Equal([]any{true, int64(11), true, int64(110)}, results)
}

func (suite *ScriptSuite) TestMetatableArithmetic() {
	results := suite.eval(`
local mt = { __add = function(a,b) return a.v + b.v end }
local x = setmetatable({v=3}, mt)
local y = setmetatable({v=4}, mt)
return x + y
`)
	suite.Equal([]any{int64(7)}, results)
}

func (suite *ScriptSuite) TestPrint() {
	suite.eval(`print("Hello, World!", 42)`)
	suite.Equal("Hello, World!\t42\n", suite.stdout.String())
}

func (suite *ScriptSuite) TestIntegerOverflowWraps() {
	results := suite.eval(`return 0x7fffffffffffffff + 1`)
	suite.Equal([]any{int64(-9223372036854775808)}, results)
}

func (suite *ScriptSuite) TestIntegerDivisionByZeroRaises() {
	results := suite.eval(`return pcall(function() return 1 // 0 end)`)
	suite.Equal(false, results[0])
	suite.Contains(results[1], "attempt to perform 'n//0'")
}

func (suite *ScriptSuite) TestFloatDivisionByZero() {
	results := suite.eval(`local x = 1/0 return x > 0, 1/x`)
	suite.Equal([]any{true, 0.0}, results)
}

func (suite *ScriptSuite) TestNaNTableKeyRaises() {
	results := suite.eval(`return pcall(function() local t = {} t[0/0] = 1 end)`)
	suite.Equal(false, results[0])
	suite.Contains(results[1], "table index is NaN")
}

func (suite *ScriptSuite) TestFloatKeysNormalizeToIntegers() {
	results := suite.eval(`local t = {} t[2.0] = "a" return t[2], 2.0 == 2`)
	suite.Equal([]any{"a", true}, results)
}

func (suite *ScriptSuite) TestStringComparisonAndConcat() {
	results := suite.eval(`return "a".."b"..1 .. 2.5, "abc" < "abd", "x" == "x"`)
	suite.Equal([]any{"ab12.5", true, true}, results)
}

func (suite *ScriptSuite) TestTailCallFrameEconomy() {
	results := suite.eval(`
local function loop(n)
  if n == 0 then return "done" end
  return loop(n - 1)
end
return loop(2000000)
`)
	suite.Equal([]any{"done"}, results)
}

func (suite *ScriptSuite) TestNumericForLoop() {
	results := suite.eval(`
local s = 0
for i = 1, 10 do s = s + i end
local f = 0
for i = 10, 1, -2 do f = f + i end
return s, f
`)
	suite.Equal([]any{int64(55), int64(30)}, results)
}

func (suite *ScriptSuite) TestGenericForLoop() {
	results := suite.eval(`
local t = {4, 5, 6, extra = 7}
local keys, sum = 0, 0
for k, v in pairs(t) do keys = keys + 1 sum = sum + v end
local isum = 0
for i, v in ipairs(t) do isum = isum + v end
return keys, sum, isum
`)
	suite.Equal([]any{int64(4), int64(22), int64(15)}, results)
}

func (suite *ScriptSuite) TestWhileRepeatBreakGoto() {
	results := suite.eval(`
local i, n = 0, 0
while true do
  i = i + 1
  if i > 5 then break end
  n = n + i
end
repeat n = n + 1 until n > 16
do
  local j = 0
  ::again::
  j = j + 1
  if j < 3 then goto again end
  n = n + j
end
return n
`)
	suite.Equal([]any{int64(20)}, results)
}

func (suite *ScriptSuite) TestVarargs() {
	results := suite.eval(`
local function f(...)
  local a, b = ...
  return select('#', ...), a, b
end
return f(7, 8, 9)
`)
	suite.Equal([]any{int64(3), int64(7), int64(8)}, results)
}

func (suite *ScriptSuite) TestMultipleAssignment() {
	results := suite.eval(`
local a, b, c = 1, 2
a, b = b, a
return a, b, c
`)
	suite.Equal([]any{int64(2), int64(1), nil}, results)
}

func (suite *ScriptSuite) TestIndexChain() {
	results := suite.eval(`
local base = {greet = "hi"}
local mid = setmetatable({}, {__index = base})
local top = setmetatable({}, {__index = mid})
return top.greet
`)
	suite.Equal([]any{"hi"}, results)
}

func (suite *ScriptSuite) TestIndexFunction() {
	results := suite.eval(`
local t = setmetatable({}, {__index = function(t, k) return k .. "!" end})
return t.name
`)
	suite.Equal([]any{"name!"}, results)
}

func (suite *ScriptSuite) TestNewIndexRedirects() {
	results := suite.eval(`
local store = {}
local t = setmetatable({}, {__newindex = store})
t.x = 10
return rawget(t, "x"), store.x
`)
	suite.Equal([]any{nil, int64(10)}, results)
}

func (suite *ScriptSuite) TestComparisonMetamethods() {
	results := suite.eval(`
local mt
mt = {
  __lt = function(a, b) return a.v < b.v end,
  __le = function(a, b) return a.v <= b.v end,
  __eq = function(a, b) return a.v == b.v end,
}
local function box(v) return setmetatable({v=v}, mt) end
return box(1) < box(2), box(2) <= box(2), box(3) == box(3), box(3) == box(4)
`)
	suite.Equal([]any{true, true, true, false}, results)
}

func (suite *ScriptSuite) TestUnaryMetamethods() {
	results := suite.eval(`
local t = setmetatable({}, {
  __unm = function() return "negated" end,
  __len = function() return 99 end,
  __call = function(self, a) return a * 2 end,
})
return -t, #t, t(21)
`)
	suite.Equal([]any{"negated", int64(99), int64(42)}, results)
}

func (suite *ScriptSuite) TestToStringMetamethod() {
	results := suite.eval(`
local t = setmetatable({}, {__tostring = function() return "boxed" end})
return tostring(t)
`)
	suite.Equal([]any{"boxed"}, results)
}

func (suite *ScriptSuite) TestErrorWithLevel() {
	results := suite.eval(`
local ok, err = pcall(function() error("boom", 1) end)
return ok, err
`)
	suite.Equal(false, results[0])
	suite.Contains(results[1], "boom")
	suite.Contains(results[1], ":") // position prefix
}

func (suite *ScriptSuite) TestErrorNonStringValue() {
	results := suite.eval(`
local ok, err = pcall(function() error({code = 7}) end)
return ok, type(err), err.code
`)
	suite.Equal([]any{false, "table", int64(7)}, results)
}

func (suite *ScriptSuite) TestXPcallHandler() {
	results := suite.eval(`
local ok, res = xpcall(function() error("inner") end, function(e) return "handled: " .. e end)
return ok, res
`)
	suite.Equal(false, results[0])
	suite.Contains(results[1], "handled: ")
	suite.Contains(results[1], "inner")
}

func (suite *ScriptSuite) TestNestedPcall() {
	results := suite.eval(`
local ok1 = pcall(function()
  local ok2, e = pcall(error, "deep")
  error("outer: " .. tostring(ok2))
end)
return ok1
`)
	suite.Equal([]any{false}, results)
}

func (suite *ScriptSuite) TestCoroutineWrap() {
	results := suite.eval(`
local gen = coroutine.wrap(function()
  for i = 1, 3 do coroutine.yield(i * i) end
  return "end"
end)
return gen(), gen(), gen(), gen()
`)
	suite.Equal([]any{int64(1), int64(4), int64(9), "end"}, results)
}

func (suite *ScriptSuite) TestCoroutineStatusTransitions() {
	results := suite.eval(`
local co = coroutine.create(function() coroutine.yield() end)
local s1 = coroutine.status(co)
coroutine.resume(co)
local s2 = coroutine.status(co)
coroutine.resume(co)
local s3 = coroutine.status(co)
return s1, s2, s3
`)
	suite.Equal([]any{"suspended", "suspended", "dead"}, results)
}

func (suite *ScriptSuite) TestResumeDeadCoroutine() {
	results := suite.eval(`
local co = coroutine.create(function() end)
coroutine.resume(co)
return coroutine.resume(co)
`)
	suite.Equal([]any{false, "cannot resume dead coroutine"}, results)
}

func (suite *ScriptSuite) TestYieldAcrossPcall() {
	results := suite.eval(`
local co = coroutine.create(function()
  local ok, v = pcall(function() return coroutine.yield(1) + 1 end)
  return ok, v
end)
local _, first = coroutine.resume(co)
local _, ok, v = coroutine.resume(co, 10)
return first, ok, v
`)
	suite.Equal([]any{int64(1), true, int64(11)}, results)
}

func (suite *ScriptSuite) TestCollectGarbageKeepsReachable() {
	results := suite.eval(`
local t = {value = "kept"}
collectgarbage("collect")
collectgarbage("collect")
return t.value
`)
	suite.Equal([]any{"kept"}, results)
}

func (suite *ScriptSuite) TestWeakValueTableCleared() {
	results := suite.eval(`
local cache = setmetatable({}, {__mode = "v"})
cache.alive = {1}
local pinned = {2}
cache.pinned = pinned
collectgarbage("collect")
return cache.alive == nil, cache.pinned == pinned
`)
	suite.Equal([]any{true, true}, results)
}

func (suite *ScriptSuite) TestEphemeronTable() {
	results := suite.eval(`
local t = setmetatable({}, {__mode = "k"})
local key = {}
t[key] = {"value"}
collectgarbage("collect")
local countBefore = 0
for _ in pairs(t) do countBefore = countBefore + 1 end
key = nil
collectgarbage("collect")
local countAfter = 0
for _ in pairs(t) do countAfter = countAfter + 1 end
return countBefore, countAfter
`)
	suite.Equal([]any{int64(1), int64(0)}, results)
}

func (suite *ScriptSuite) TestFinalizerRuns() {
	results := suite.eval(`
local ran = false
do
  local obj = setmetatable({}, {__gc = function() ran = true end})
  obj = nil
end
collectgarbage("collect")
collectgarbage("collect")
return ran
`)
	suite.Equal([]any{true}, results)
}

func (suite *ScriptSuite) TestSetListLargeConstructor() {
	results := suite.eval(`
local t = {}
do
  t = {1, 2, 3, 4, 5, 6, 7, 8, 9, 10,
       11, 12, 13, 14, 15, 16, 17, 18, 19, 20,
       21, 22, 23, 24, 25, 26, 27, 28, 29, 30,
       31, 32, 33, 34, 35, 36, 37, 38, 39, 40,
       41, 42, 43, 44, 45, 46, 47, 48, 49, 50,
       51, 52, 53, 54, 55}
end
local sum = 0
for _, v in ipairs(t) do sum = sum + v end
return #t, sum
`)
	suite.Equal([]any{int64(55), int64(1540)}, results)
}

func (suite *ScriptSuite) TestMethodCalls() {
	results := suite.eval(`
local account = {balance = 100}
function account:deposit(n) self.balance = self.balance + n end
account:deposit(50)
return account.balance
`)
	suite.Equal([]any{int64(150)}, results)
}

func (suite *ScriptSuite) TestClosureCacheReusesClosures() {
	results := suite.eval(`
local fns = {}
for i = 1, 2 do fns[i] = function() return 1 end end
return fns[1] == fns[2]
`)
	suite.Equal([]any{true}, results)
}

func (suite *ScriptSuite) TestLoadBuiltin() {
	results := suite.eval(`
local f = load("return 6 * 7")
return f()
`)
	suite.Equal([]any{int64(42)}, results)
}

func (suite *ScriptSuite) TestLoadSyntaxError() {
	results := suite.eval(`
local f, err = load("return +")
return f == nil, err
`)
	suite.Equal(true, results[0])
	suite.Contains(results[1], "unexpected symbol")
}

func (suite *ScriptSuite) TestSyntaxErrorReportsLine() {
	_, err := suite.state.EvalString("local x = 1\nlocal y = \n")
	suite.Require().Error(err)
	le, ok := err.(*Error)
	suite.Require().True(ok)
	suite.Equal(SyntaxError, le.Status)
	suite.Contains(le.Message, "3:")
}

func (suite *ScriptSuite) TestBitwiseOperators() {
	results := suite.eval(`return 0xf0 & 0x3c, 0xf0 | 0x0f, 0xf0 ~ 0xff, ~0, 1 << 4, 256 >> 4`)
	suite.Equal([]any{int64(0x30), int64(0xff), int64(0x0f), int64(-1), int64(16), int64(16)}, results)
}

func (suite *ScriptSuite) TestStringCoercionInArithmetic() {
	results := suite.eval(`return "10" + 5, "3" * "4"`)
	suite.Equal([]any{int64(15), int64(12)}, results)
}

func (suite *ScriptSuite) TestHexFloatsAndExponents() {
	results := suite.eval(`return 0x10, 1e3, 0x1p4`)
	suite.Equal([]any{int64(16), 1000.0, 16.0}, results)
}

func (suite *ScriptSuite) TestLongStringsAndComments() {
	results := suite.eval(`
--[==[ a long
comment ]==]
local s = [[line one
line two]]
return s
`)
	suite.Equal([]any{"line one\nline two"}, results)
}

func (suite *ScriptSuite) TestStringEscapes() {
	results := suite.eval(`return "\x41\66\u{43}\z
   D", #"\n"`)
	suite.Equal([]any{"ABCD", int64(1)}, results)
}

func (suite *ScriptSuite) TestNaNNotEqualToItself() {
	results := suite.eval(`local nan = 0/0 return nan ~= nan, nan == nan`)
	suite.Equal([]any{true, false}, results)
}

func (suite *ScriptSuite) TestSelect() {
	results := suite.eval(`return select('#', 'a', 'b', 'c'), select(2, 'a', 'b', 'c')`)
	suite.Equal([]any{int64(3), "b", "c"}, results)
}

func (suite *ScriptSuite) TestGlobalAssignmentThroughEnv() {
	results := suite.eval(`
value = 10
local function bump() value = value + 1 end
bump()
return value
`)
	suite.Equal([]any{int64(11)}, results)
}
