package lune

import (
	"fmt"
	"strings"
)

// The base library: only what the core's own behavior depends on. The
// full standard library lives outside this module.

func (l *State) argError(arg int, extra string) int {
	ar, ok := l.Stack(0)
	if !ok {
		l.runError("bad argument #%d (%s)", arg, extra)
	}
	l.Info("n", ar)
	name := ar.Name
	if name == "" {
		name = "?"
	}
	l.runError("bad argument #%d to '%s' (%s)", arg, name, extra)
	return 0
}

func (l *State) typeArgError(arg int, expected string) int {
	return l.argError(arg, fmt.Sprintf("%s expected, got %s", expected, l.TypeOf(arg)))
}

func (l *State) checkAny(arg int) {
	if l.TypeOf(arg) == TypeNone {
		l.argError(arg, "value expected")
	}
}

func (l *State) checkInteger(arg int) int64 {
	n, ok := l.ToInteger(arg)
	if !ok {
		l.typeArgError(arg, "number")
	}
	return n
}

func (l *State) optInteger(arg int, def int64) int64 {
	if l.IsNoneOrNil(arg) {
		return def
	}
	return l.checkInteger(arg)
}

func (l *State) checkStringArg(arg int) string {
	s, ok := l.ToString(arg)
	if !ok {
		l.typeArgError(arg, "string")
	}
	return s
}

func (l *State) optStringArg(arg int, def string) string {
	if l.IsNoneOrNil(arg) {
		return def
	}
	return l.checkStringArg(arg)
}

func (l *State) checkFunction(arg int) {
	if !l.IsFunction(arg) {
		l.typeArgError(arg, "function")
	}
}

func (l *State) checkTable(arg int) {
	if !l.IsTable(arg) {
		l.typeArgError(arg, "table")
	}
}

// toStringMeta converts any value to a display string, honoring
// __tostring and the type name otherwise.
func (l *State) toStringMeta(idx int) string {
	v := l.indexToValue(idx)
	tm := l.metaOf(v, metaToString)
	if !tm.isNil() {
		top := l.top
		l.push(tm)
		l.push(v)
		l.callInternal(top, 1)
		res := l.stack[top]
		l.top = top
		if !res.isString() {
			l.runError("'__tostring' must return a string")
		}
		return res.str().bytes
	}
	switch {
	case v.isString():
		return v.str().bytes
	case v.isNumber():
		return numberToString(v)
	case v.isNil():
		return "nil"
	case v.isBoolean():
		if v.boolean() {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%s: 0x%012x", typeName(v), l.valueID(v))
	}
}

func (l *State) valueID(v value) uint64 {
	if v.isCollectable() {
		return v.object().header().id
	}
	return 0
}

func bPrint(l *State) int {
	n := l.Top()
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			sb.WriteByte('\t')
		}
		sb.WriteString(l.toStringMeta(i))
	}
	sb.WriteByte('\n')
	fmt.Fprint(l.g.stdout, sb.String())
	return 0
}

func bType(l *State) int {
	l.checkAny(1)
	l.PushString(l.TypeOf(1).String())
	return 1
}

func bToString(l *State) int {
	l.checkAny(1)
	l.PushString(l.toStringMeta(1))
	return 1
}

func bToNumber(l *State) int {
	if l.IsNoneOrNil(2) {
		l.checkAny(1)
		v := l.indexToValue(1)
		if v.isNumber() {
			l.apiPush(v)
			return 1
		}
		if v.isString() {
			if n, ok := str2num(v.str().bytes); ok {
				l.apiPush(n)
				return 1
			}
		}
		l.PushNil()
		return 1
	}
	base := l.checkInteger(2)
	if base < 2 || base > 36 {
		l.argError(2, "base out of range")
	}
	s := strings.TrimSpace(l.checkStringArg(1))
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" {
		l.PushNil()
		return 1
	}
	var n int64
	for i := 0; i < len(s); i++ {
		d := digitValue(s[i])
		if d < 0 || int64(d) >= base {
			l.PushNil()
			return 1
		}
		n = n*base + int64(d)
	}
	if neg {
		n = -n
	}
	l.PushInteger(n)
	return 1
}

// digitValue accepts the full 2..36 digit alphabet.
func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

func bNext(l *State) int {
	l.checkTable(1)
	l.SetTop(2)
	if l.Next(1) {
		return 2
	}
	l.PushNil()
	return 1
}

func bPairs(l *State) int {
	l.checkAny(1)
	tm := l.metaOf(l.indexToValue(1), metaPairs)
	if !tm.isNil() {
		l.apiPush(tm)
		l.PushValue(1)
		l.Call(1, 3)
		return 3
	}
	l.PushGoFunction(bNext)
	l.PushValue(1)
	l.PushNil()
	return 3
}

func bIPairsAux(l *State) int {
	i := l.checkInteger(2) + 1
	l.PushInteger(i)
	if l.GetI(1, i) == TypeNil {
		return 1
	}
	return 2
}

func bIPairs(l *State) int {
	l.checkAny(1)
	l.PushGoFunction(bIPairsAux)
	l.PushValue(1)
	l.PushInteger(0)
	return 3
}

func bSelect(l *State) int {
	n := l.Top()
	if l.TypeOf(1) == TypeString {
		if s, _ := l.ToString(1); s == "#" {
			l.PushInteger(int64(n - 1))
			return 1
		}
	}
	i := l.checkInteger(1)
	if i < 0 {
		i = int64(n) + i
	} else if i > int64(n) {
		i = int64(n)
	}
	if i < 1 {
		l.argError(1, "index out of range")
	}
	return n - int(i)
}

func bRawGet(l *State) int {
	l.checkTable(1)
	l.checkAny(2)
	l.SetTop(2)
	l.RawGet(1)
	return 1
}

func bRawSet(l *State) int {
	l.checkTable(1)
	l.checkAny(2)
	l.checkAny(3)
	l.SetTop(3)
	l.RawSet(1)
	return 1
}

func bRawEqual(l *State) int {
	l.checkAny(1)
	l.checkAny(2)
	l.PushBoolean(l.RawEqual(1, 2))
	return 1
}

func bRawLen(l *State) int {
	t := l.TypeOf(1)
	if t != TypeTable && t != TypeString {
		l.argError(1, "table or string expected")
	}
	l.PushInteger(int64(l.RawLength(1)))
	return 1
}

func bSetMetatable(l *State) int {
	l.checkTable(1)
	t := l.TypeOf(2)
	if t != TypeNil && t != TypeTable {
		l.argError(2, "nil or table expected")
	}
	if !l.metaOf(l.indexToValue(1), metaMetatable).isNil() {
		l.runError("cannot change a protected metatable")
	}
	l.SetTop(2)
	l.SetMetaTable(1)
	return 1
}

func bGetMetatable(l *State) int {
	l.checkAny(1)
	if !l.MetaTable(1) {
		l.PushNil()
		return 1
	}
	if mtv := l.metaOf(l.indexToValue(1), metaMetatable); !mtv.isNil() {
		l.Pop(1)
		l.apiPush(mtv)
	}
	return 1
}

func bAssert(l *State) int {
	if l.ToBoolean(1) {
		return l.Top() // return all arguments
	}
	l.checkAny(1)
	l.Remove(1)
	l.PushLiteral("assertion failed!")
	l.SetTop(1)
	return bError(l)
}

func bError(l *State) int {
	level := l.optInteger(2, 1)
	l.SetTop(1)
	if l.TypeOf(1) == TypeString && level > 0 {
		where := l.Where(int(level))
		if where != "" {
			l.PushString(where)
			l.Insert(1)
			l.Concat(2)
		}
	}
	l.Error()
	return 0
}

func finishPCall(l *State, status Status, ctx int64) int {
	if status != Ok && status != Yield {
		l.PushBoolean(false)
		l.PushValue(-2)
		return 2
	}
	return l.Top() - int(ctx)
}

func bPCall(l *State) int {
	l.checkAny(1)
	l.PushBoolean(true)
	l.Insert(1)
	status := l.ProtectedCallWithContinuation(l.Top()-2, MultipleReturns, 0, 0, finishPCall)
	return finishPCall(l, status, 0)
}

func bXPCall(l *State) int {
	l.checkFunction(2)
	n := l.Top()
	l.PushBoolean(true)
	l.PushValue(1)
	l.Rotate(3, 2) // move them below the function's arguments
	status := l.ProtectedCallWithContinuation(n-2, MultipleReturns, 2, 2, finishPCall)
	return finishPCall(l, status, 2)
}

func bCollectGarbage(l *State) int {
	opt := l.optStringArg(1, "collect")
	switch opt {
	case "collect":
		l.GCCollect()
		l.PushInteger(0)
	case "stop":
		l.GCStop()
		l.PushInteger(0)
	case "restart":
		l.GCRestart()
		l.PushInteger(0)
	case "count":
		l.PushNumber(float64(l.g.totalBytes) / 1024)
		l.PushInteger(int64(l.GCCountBytes()))
		return 2
	case "step":
		l.GCStep(int(l.optInteger(2, 0)))
		l.PushBoolean(l.g.gcState == gcsPause)
	case "setpause":
		l.PushInteger(int64(l.SetGCPause(int(l.optInteger(2, 200)))))
	case "setstepmul":
		l.PushInteger(int64(l.SetGCStepMultiplier(int(l.optInteger(2, 200)))))
	case "isrunning":
		l.PushBoolean(l.GCIsRunning())
	default:
		l.argError(1, "invalid option '"+opt+"'")
	}
	return 1
}

func bLoad(l *State) int {
	chunk := l.checkStringArg(1)
	chunkName := l.optStringArg(2, chunk)
	mode := l.optStringArg(3, "bt")
	status := l.Load(strings.NewReader(chunk), chunkName, mode)
	if status != Ok {
		l.PushNil()
		l.Insert(-2)
		return 2
	}
	return 1
}

// OpenBase installs the base functions into the globals table.
func (l *State) OpenBase() {
	base := map[string]GoFunction{
		"print":          bPrint,
		"type":           bType,
		"tostring":       bToString,
		"tonumber":       bToNumber,
		"next":           bNext,
		"pairs":          bPairs,
		"ipairs":         bIPairs,
		"select":         bSelect,
		"rawget":         bRawGet,
		"rawset":         bRawSet,
		"rawequal":       bRawEqual,
		"rawlen":         bRawLen,
		"setmetatable":   bSetMetatable,
		"getmetatable":   bGetMetatable,
		"assert":         bAssert,
		"error":          bError,
		"pcall":          bPCall,
		"xpcall":         bXPCall,
		"collectgarbage": bCollectGarbage,
		"load":           bLoad,
	}
	for name, fn := range base {
		l.Register(name, fn)
	}
	// _G and _VERSION
	l.apiPush(l.g.globals())
	l.SetGlobal("_G")
	l.PushString("Lune 1.3")
	l.SetGlobal("_VERSION")
}
