package lune

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unsafe"
)

// The host manipulates values exclusively through the current thread's
// stack, addressing slots by index: positive indices count from the
// frame base, negative ones from the top, and two pseudo-index ranges
// reach the registry and the running host closure's upvalues.

func (l *State) indexToValue(idx int) value {
	ci := l.ci
	switch {
	case idx > 0:
		abs := ci.function + idx
		apiCheck(idx <= ci.top-(ci.function+1), "unacceptable index")
		if abs >= l.top {
			return nilValue
		}
		return l.stack[abs]
	case !isPseudoIndex(idx):
		apiCheck(idx != 0 && -idx <= l.top-(ci.function+1), "invalid index")
		return l.stack[l.top+idx]
	case idx == RegistryIndex:
		return l.g.registry
	default:
		i := RegistryIndex - idx
		if fn := l.stack[ci.function]; fn.isGoClosure() {
			c := fn.goClosure()
			if i <= len(c.upvals) {
				return c.upvals[i-1]
			}
		}
		return nilValue
	}
}

func (l *State) setIndexToValue(idx int, v value) {
	ci := l.ci
	switch {
	case idx > 0:
		abs := ci.function + idx
		apiCheck(idx <= ci.top-(ci.function+1), "unacceptable index")
		l.stack[abs] = v
	case !isPseudoIndex(idx):
		apiCheck(idx != 0 && -idx <= l.top-(ci.function+1), "invalid index")
		l.stack[l.top+idx] = v
	case idx == RegistryIndex:
		apiCheck(false, "cannot replace the registry")
	default:
		i := RegistryIndex - idx
		fn := l.stack[ci.function]
		apiCheck(fn.isGoClosure(), "caller has no upvalues")
		c := fn.goClosure()
		apiCheck(i <= len(c.upvals), "upvalue index out of range")
		c.upvals[i-1] = v
		l.objBarrier(c, v)
	}
}

func (l *State) absIndexInternal(idx int) int {
	if idx > 0 || isPseudoIndex(idx) {
		return idx
	}
	return l.top - l.ci.function + idx
}

// AbsIndex converts an acceptable index into an absolute one.
func (l *State) AbsIndex(idx int) int { return l.absIndexInternal(idx) }

// Top returns the number of elements on the stack above the frame base.
func (l *State) Top() int { return l.top - (l.ci.function + 1) }

// SetTop grows (with nils) or shrinks the stack to the given index.
func (l *State) SetTop(idx int) {
	base := l.ci.function + 1
	if idx >= 0 {
		apiCheck(idx <= l.ci.top-base, "new top too large")
		for l.top < base+idx {
			l.stack[l.top] = nilValue
			l.top++
		}
		l.top = base + idx
	} else {
		apiCheck(-(idx+1) <= l.top-base, "invalid new top")
		l.top += idx + 1
	}
}

// Pop removes n elements.
func (l *State) Pop(n int) { l.SetTop(-n - 1) }

// PushValue pushes a copy of the value at the given index.
func (l *State) PushValue(idx int) {
	l.apiPush(l.indexToValue(idx))
}

func (l *State) apiPush(v value) {
	apiCheck(l.top < l.ci.top, "stack overflow (check the declared top)")
	l.push(v)
}

// Rotate rotates the n stack elements between idx and the top by one
// position per unit of n, towards the top for positive n.
func (l *State) Rotate(idx, n int) {
	t := l.top - 1
	p := l.ci.function + l.absIndexInternal(idx)
	apiCheck(!isPseudoIndex(idx), "cannot rotate a pseudo-index")
	size := t - p + 1
	if n < 0 {
		n += size
	}
	apiCheck(n >= 0 && n <= size, "invalid rotation")
	m := t - n
	l.reverse(p, m)
	l.reverse(m+1, t)
	l.reverse(p, t)
}

func (l *State) reverse(from, to int) {
	for from < to {
		l.stack[from], l.stack[to] = l.stack[to], l.stack[from]
		from++
		to--
	}
}

// Remove removes the element at idx, shifting the ones above down.
func (l *State) Remove(idx int) {
	l.Rotate(idx, -1)
	l.Pop(1)
}

// Insert moves the top element to idx, shifting up the ones above.
func (l *State) Insert(idx int) { l.Rotate(idx, 1) }

// Replace pops the top and stores it at idx.
func (l *State) Replace(idx int) {
	l.Copy(-1, idx)
	l.Pop(1)
}

// Copy copies the value from one index to another.
func (l *State) Copy(from, to int) {
	l.setIndexToValue(to, l.indexToValue(from))
}

// CheckStack ensures space for n more pushes; it never raises.
func (l *State) CheckStack(n int) bool {
	if l.top+n > len(l.stack)-extraStack {
		if l.top+n > maxStack-extraStack {
			return false
		}
		if st := l.rawRunProtected(func() { l.growStack(n) }); st != Ok {
			return false
		}
	}
	if l.ci.top < l.top+n {
		l.ci.top = l.top + n
	}
	return true
}

// XMove moves n values from the top of one thread's stack to another's.
// Both threads must belong to the same state.
func (l *State) XMove(to *State, n int) {
	if l == to {
		return
	}
	apiCheckArgs(l, n-1)
	apiCheck(l.g == to.g, "moving among independent states")
	apiCheck(to.ci.top-to.top >= n, "stack overflow in destination")
	l.top -= n
	for i := 0; i < n; i++ {
		to.push(l.stack[l.top+i])
	}
}

// Readers.

// TypeOf reports the kind of the value at idx, TypeNone for an empty
// slot.
func (l *State) TypeOf(idx int) Type {
	if idx > 0 && l.ci.function+idx >= l.top && !isPseudoIndex(idx) {
		return TypeNone
	}
	return typeOf(l.indexToValue(idx))
}

func (l *State) IsNil(idx int) bool     { return l.TypeOf(idx) == TypeNil }
func (l *State) IsBoolean(idx int) bool { return l.TypeOf(idx) == TypeBoolean }
func (l *State) IsTable(idx int) bool   { return l.TypeOf(idx) == TypeTable }
func (l *State) IsFunction(idx int) bool {
	return l.TypeOf(idx) == TypeFunction
}
func (l *State) IsThread(idx int) bool { return l.TypeOf(idx) == TypeThread }
func (l *State) IsNone(idx int) bool   { return l.TypeOf(idx) == TypeNone }
func (l *State) IsNoneOrNil(idx int) bool {
	t := l.TypeOf(idx)
	return t == TypeNone || t == TypeNil
}
func (l *State) IsLightPointer(idx int) bool {
	return l.indexToValue(idx).isLightPtr()
}

// IsNumber accepts numbers and numeric strings.
func (l *State) IsNumber(idx int) bool {
	_, ok := toNumberValue(l.indexToValue(idx))
	return ok
}

// IsString accepts strings and numbers.
func (l *State) IsString(idx int) bool {
	v := l.indexToValue(idx)
	return v.isString() || v.isNumber()
}

func (l *State) IsInteger(idx int) bool {
	return l.indexToValue(idx).isInteger()
}

func (l *State) IsGoFunction(idx int) bool {
	v := l.indexToValue(idx)
	return v.isGoFunc() || v.isGoClosure()
}

func (l *State) IsUserdata(idx int) bool {
	v := l.indexToValue(idx)
	return v.isUserdata() || v.isLightPtr()
}

// ToNumber converts the value at idx to a float.
func (l *State) ToNumber(idx int) (float64, bool) {
	n, ok := toNumberValue(l.indexToValue(idx))
	if !ok {
		return 0, false
	}
	return n.numberAsFloat(), true
}

// ToInteger converts the value at idx to an integer; floats convert
// only when exact.
func (l *State) ToInteger(idx int) (int64, bool) {
	return toIntegerValue(l.indexToValue(idx))
}

// ToBoolean applies the language's truth rule.
func (l *State) ToBoolean(idx int) bool {
	return !l.indexToValue(idx).isFalse()
}

// ToString returns the byte contents of a string, converting a number
// in place the way the original runtime does.
func (l *State) ToString(idx int) (string, bool) {
	v := l.indexToValue(idx)
	if v.isString() {
		return v.str().bytes, true
	}
	if !v.isNumber() {
		return "", false
	}
	s := l.newString(numberToString(v))
	l.setIndexToValue(idx, vObject(s))
	return s.bytes, true
}

// RawLength returns the raw length: string bytes, table border or
// userdata size, without metamethods.
func (l *State) RawLength(idx int) int {
	v := l.indexToValue(idx)
	switch {
	case v.isString():
		return len(v.str().bytes)
	case v.isTable():
		return int(v.table().length())
	case v.isUserdata():
		return len(v.userdata().data)
	}
	return 0
}

func (l *State) ToGoFunction(idx int) GoFunction {
	v := l.indexToValue(idx)
	switch {
	case v.isGoFunc():
		return v.goFunction()
	case v.isGoClosure():
		return v.goClosure().fn
	}
	return nil
}

// ToUserdata returns the byte region of a full userdata, or nil.
func (l *State) ToUserdata(idx int) []byte {
	v := l.indexToValue(idx)
	if v.isUserdata() {
		return v.userdata().data
	}
	return nil
}

func (l *State) ToThread(idx int) *State {
	v := l.indexToValue(idx)
	if v.isThread() {
		return v.thread()
	}
	return nil
}

// ToPointer returns a stable identity for collectable values and the
// raw pointer for light pointers; 0 otherwise.
func (l *State) ToPointer(idx int) uintptr {
	v := l.indexToValue(idx)
	switch {
	case v.isLightPtr():
		return uintptr(v.lightPtr())
	case v.isCollectable():
		return uintptr(v.object().header().id)
	}
	return 0
}

// Writers.

func (l *State) PushNil()          { l.apiPush(nilValue) }
func (l *State) PushBoolean(b bool) { l.apiPush(vBoolean(b)) }
func (l *State) PushInteger(n int64) { l.apiPush(vInteger(n)) }
func (l *State) PushNumber(n float64) { l.apiPush(vFloat(n)) }

// PushString pushes a copy of s and returns the interned contents.
func (l *State) PushString(s string) string {
	ls := l.newString(s)
	l.apiPush(vObject(ls))
	l.gcCheck()
	return ls.bytes
}

// PushLiteral pushes a host string literal through the literal cache,
// which is keyed by the literal's address.
func (l *State) PushLiteral(s string) string {
	ls := l.literalString(s)
	l.apiPush(vObject(ls))
	l.gcCheck()
	return ls.bytes
}

// PushFormat formats and pushes a string. Verbs: %s (string), %c
// (byte), %d (int), %I (int64), %f (float64), %p (pointer), %U
// (unicode code point), %%.
func (l *State) PushFormat(format string, args ...any) string {
	var sb strings.Builder
	arg := 0
	nextArg := func() any {
		a := args[arg]
		arg++
		return a
	}
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 's':
			fmt.Fprintf(&sb, "%v", nextArg())
		case 'c':
			sb.WriteByte(byte(toInt64(nextArg())))
		case 'd':
			fmt.Fprintf(&sb, "%d", toInt64(nextArg()))
		case 'I':
			fmt.Fprintf(&sb, "%d", toInt64(nextArg()))
		case 'f':
			sb.WriteString(numberToString(vFloat(nextArg().(float64))))
		case 'p':
			fmt.Fprintf(&sb, "%p", nextArg())
		case 'U':
			sb.Write(appendUTF8(nil, int(toInt64(nextArg()))))
		case '%':
			sb.WriteByte('%')
		default:
			panic("invalid format option to PushFormat")
		}
	}
	return l.PushString(sb.String())
}

func toInt64(a any) int64 {
	switch n := a.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case byte:
		return int64(n)
	}
	panic("integer argument expected")
}

// PushGoFunction pushes a bare host function.
func (l *State) PushGoFunction(fn GoFunction) {
	l.apiPush(vGoFunction(fn))
}

// PushGoClosure pushes a host closure capturing the top n values as its
// upvalues.
func (l *State) PushGoClosure(fn GoFunction, n int) {
	if n == 0 {
		l.PushGoFunction(fn)
		return
	}
	apiCheckArgs(l, n-1)
	apiCheck(n <= MinStack, "too many upvalues for a host closure")
	c := newGoClosure(l, fn, n)
	l.top -= n
	copy(c.upvals, l.stack[l.top:l.top+n])
	l.apiPush(vObject(c))
	l.gcCheck()
}

func (l *State) PushLightPointer(p unsafe.Pointer) {
	l.apiPush(vLightPtr(p))
}

// PushThread pushes the thread itself; reports whether it is the main
// thread.
func (l *State) PushThread() bool {
	l.apiPush(vObject(l))
	return l.g.mainThread == l
}

// NewUserdata creates a userdata with a byte region of the given size,
// pushes it, and returns the region.
func (l *State) NewUserdata(size int) []byte {
	u := newUserdata(l, size)
	l.apiPush(vObject(u))
	l.gcCheck()
	return u.data
}

// Table operations.

// Global pushes the value of a global variable.
func (l *State) Global(name string) Type {
	g := l.g.globals()
	l.apiPush(nilValue) // reserve the result slot
	l.getTableValue(g, vObject(l.newString(name)), l.top-1)
	return typeOf(l.stack[l.top-1])
}

// SetGlobal pops the top value into a global variable.
func (l *State) SetGlobal(name string) {
	g := l.g.globals()
	key := vObject(l.newString(name))
	l.setTableValue(g, key, l.stack[l.top-1])
	l.top--
}

// GetTable pops a key and pushes t[key], honoring __index.
func (l *State) GetTable(idx int) Type {
	t := l.indexToValue(idx)
	l.getTableValue(t, l.stack[l.top-1], l.top-1)
	return typeOf(l.stack[l.top-1])
}

// SetTable pops a key and a value and performs t[key] = value.
func (l *State) SetTable(idx int) {
	t := l.indexToValue(idx)
	l.setTableValue(t, l.stack[l.top-2], l.stack[l.top-1])
	l.top -= 2
}

// Field pushes t[name].
func (l *State) Field(idx int, name string) Type {
	t := l.indexToValue(idx)
	l.apiPush(nilValue)
	l.getTableValue(t, vObject(l.newString(name)), l.top-1)
	return typeOf(l.stack[l.top-1])
}

// SetField pops a value into t[name].
func (l *State) SetField(idx int, name string) {
	t := l.indexToValue(idx)
	l.setTableValue(t, vObject(l.newString(name)), l.stack[l.top-1])
	l.top--
}

// GetI pushes t[n].
func (l *State) GetI(idx int, n int64) Type {
	t := l.indexToValue(idx)
	l.apiPush(nilValue)
	l.getTableValue(t, vInteger(n), l.top-1)
	return typeOf(l.stack[l.top-1])
}

// SetI pops a value into t[n].
func (l *State) SetI(idx int, n int64) {
	t := l.indexToValue(idx)
	l.setTableValue(t, vInteger(n), l.stack[l.top-1])
	l.top--
}

// RawGet pops a key and pushes the raw t[key].
func (l *State) RawGet(idx int) Type {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	l.stack[l.top-1] = t.table().get(l.stack[l.top-1])
	return typeOf(l.stack[l.top-1])
}

// RawSet pops key and value and writes without metamethods.
func (l *State) RawSet(idx int) {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	tbl := t.table()
	l.tableSet(tbl, l.stack[l.top-2], l.stack[l.top-1])
	tbl.invalidateCache()
	l.tableBarrierBack(tbl)
	l.top -= 2
}

func (l *State) RawGetI(idx int, n int64) Type {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	l.apiPush(t.table().getInt(n))
	return typeOf(l.stack[l.top-1])
}

func (l *State) RawSetI(idx int, n int64) {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	tbl := t.table()
	l.tableSetInt(tbl, n, l.stack[l.top-1])
	tbl.invalidateCache()
	l.tableBarrierBack(tbl)
	l.top--
}

// RawGetP indexes with a light pointer key.
func (l *State) RawGetP(idx int, p unsafe.Pointer) Type {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	l.apiPush(t.table().get(vLightPtr(p)))
	return typeOf(l.stack[l.top-1])
}

func (l *State) RawSetP(idx int, p unsafe.Pointer) {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	tbl := t.table()
	l.tableSet(tbl, vLightPtr(p), l.stack[l.top-1])
	tbl.invalidateCache()
	l.tableBarrierBack(tbl)
	l.top--
}

// CreateTable pushes a new table with the given size hints.
func (l *State) CreateTable(narr, nrec int) {
	l.apiPush(vObject(newTable(l, narr, nrec)))
	l.gcCheck()
}

// NewTable pushes a new empty table.
func (l *State) NewTable() { l.CreateTable(0, 0) }

// Next pops a key and pushes the next key/value pair of the table at
// idx, in iteration order; returns false (pushing nothing) at the end.
func (l *State) Next(idx int) bool {
	t := l.indexToValue(idx)
	apiCheck(t.isTable(), "table expected")
	k, v, ok := l.tableNext(t.table(), l.stack[l.top-1])
	if !ok {
		l.top--
		return false
	}
	l.stack[l.top-1] = k
	l.apiPush(v)
	return true
}

// Metatables and user values.

// MetaTable pushes the metatable of the value at idx, reporting whether
// one exists.
func (l *State) MetaTable(idx int) bool {
	mt := l.g.metatableOf(l.indexToValue(idx))
	if mt == nil {
		return false
	}
	l.apiPush(vObject(mt))
	return true
}

// SetMetaTable pops a table (or nil) and installs it as the metatable
// of the value at idx.
func (l *State) SetMetaTable(idx int) {
	v := l.indexToValue(idx)
	mtv := l.stack[l.top-1]
	var mt *table
	if !mtv.isNil() {
		apiCheck(mtv.isTable(), "table or nil expected")
		mt = mtv.table()
	}
	switch v.tt.withVariant() {
	case tagTable:
		t := v.table()
		t.meta = mt
		if mt != nil {
			l.objBarrier(t, mtv)
			l.checkFinalizer(t, mt)
		}
		t.invalidateCache()
	case tagUserdata:
		u := v.userdata()
		u.meta = mt
		if mt != nil {
			l.objBarrier(u, mtv)
			l.checkFinalizer(u, mt)
		}
	default:
		l.g.mt[typeOf(v)] = mt
	}
	l.top--
}

// UserValue pushes the user value attached to the userdata at idx.
func (l *State) UserValue(idx int) Type {
	v := l.indexToValue(idx)
	apiCheck(v.isUserdata(), "userdata expected")
	l.apiPush(v.userdata().user)
	return typeOf(l.stack[l.top-1])
}

// SetUserValue pops a value and attaches it to the userdata at idx.
func (l *State) SetUserValue(idx int) {
	v := l.indexToValue(idx)
	apiCheck(v.isUserdata(), "userdata expected")
	u := v.userdata()
	u.user = l.stack[l.top-1]
	l.objBarrier(u, u.user)
	l.top--
}

// Comparisons and arithmetic.

// RawEqual compares without metamethods.
func (l *State) RawEqual(i1, i2 int) bool {
	v1, v2 := l.indexToValue(i1), l.indexToValue(i2)
	return rawEqualValues(v1, v2)
}

func rawEqualValues(a, b value) bool {
	if a.tt.noVariant() != b.tt.noVariant() {
		return false
	}
	switch a.tt.noVariant() {
	case typeTag(TypeNil):
		return true
	case typeTag(TypeNumber):
		return numEqual(a, b)
	case typeTag(TypeString):
		return stringsEqual(a.str(), b.str())
	case typeTag(TypeBoolean):
		return a.n == b.n
	case typeTag(TypeLightPointer):
		return a.lightPtr() == b.lightPtr()
	case typeTag(TypeFunction):
		return functionsEqual(a, b)
	default:
		return a.rt == b.rt
	}
}

// Compare applies ==, < or <= with full metamethod semantics.
func (l *State) Compare(i1, i2 int, op ComparisonOp) bool {
	v1, v2 := l.indexToValue(i1), l.indexToValue(i2)
	switch op {
	case OpEq:
		return l.equalValues(v1, v2)
	case OpLT:
		return l.lessThan(v1, v2)
	case OpLE:
		return l.lessEqual(v1, v2)
	}
	apiCheck(false, "invalid comparison operator")
	return false
}

// Arith pops two operands (one for unary operators), computes op and
// pushes the result; metamethods may run.
func (l *State) Arith(op ArithOp) {
	if op == OpUnaryMinus || op == OpBNot {
		apiCheckArgs(l, 0)
		l.apiPush(l.stack[l.top-1]) // duplicate the single operand
	} else {
		apiCheckArgs(l, 1)
	}
	a, b := l.stack[l.top-2], l.stack[l.top-1]
	l.top -= 2
	l.arith(op, a, b, l.top)
	l.top++
}

// Concat folds the n topmost values with .. semantics and pushes the
// result.
func (l *State) Concat(n int) {
	apiCheckArgs(l, n-1)
	if n >= 2 {
		l.concat(n)
	} else if n == 0 {
		l.apiPush(vObject(l.newString("")))
	}
	l.gcCheck()
}

// Length pushes the length of the value at idx, honoring __len.
func (l *State) Length(idx int) {
	v := l.indexToValue(idx)
	l.apiPush(nilValue)
	l.objectLength(v, l.top-1)
}

// Error raises an error with the value on top of the stack.
func (l *State) Error() {
	apiCheckArgs(l, 0)
	l.errorMsg()
}

// Register sets a global to a bare host function.
func (l *State) Register(name string, fn GoFunction) {
	l.PushGoFunction(fn)
	l.SetGlobal(name)
}

// StringToNumber converts s following the numeral syntax; on success
// the number is pushed and the number of bytes consumed is returned.
func (l *State) StringToNumber(s string) int {
	v, ok := str2num(s)
	if !ok {
		return 0
	}
	l.apiPush(v)
	return len(s)
}

// Load reads a chunk from r, compiling source text or reading back a
// binary chunk depending on its leading bytes, and pushes the resulting
// function. mode restricts accepted forms: "t", "b" or "bt" (default).
func (l *State) Load(r io.Reader, chunkName, mode string) Status {
	if mode == "" {
		mode = "bt"
	}
	oldTop := l.top
	return l.protectedCall(func() {
		br := bufio.NewReader(r)
		head, _ := br.Peek(len(dumpSignature))
		var cl *closure
		if string(head) == dumpSignature {
			if !strings.Contains(mode, "b") {
				l.push(vObject(l.newString("attempt to load a binary chunk")))
				l.throw(SyntaxError)
			}
			cl = l.undump(br, chunkName)
		} else {
			if !strings.Contains(mode, "t") {
				l.push(vObject(l.newString("attempt to load a text chunk")))
				l.throw(SyntaxError)
			}
			cl = l.parse(br, chunkName)
		}
		if len(cl.upvals) == 1 {
			// the chunk's single upvalue is its environment
			cl.upvals[0].set(l.g.globals())
			l.upvalBarrier(cl.upvals[0])
		}
	}, oldTop, 0)
}
