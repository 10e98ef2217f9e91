package lune

// proto is a compiled function: code, constants and metadata. It is not
// itself callable; closures pair it with captured upvalues.
type proto struct {
	gcHeader
	k         []value // constant pool
	code      []instruction
	protos    []*proto    // prototypes of inner functions
	upvalues  []upvalDesc // upvalue layout
	cache     *closure    // one-slot cache of the last closure built here
	source    *lstring
	lineInfo  []int32 // debug info: line per instruction
	localVars []localVar

	lineDefined     int
	lastLineDefined int
	numParams       uint8
	isVararg        bool
	maxStackSize    uint8
}

// upvalDesc says where a closure finds one upvalue when it is built:
// either a slot of the enclosing frame's stack or an upvalue of the
// enclosing closure.
type upvalDesc struct {
	name    *lstring // debug info
	inStack bool
	index   uint8
}

type localVar struct {
	name    *lstring
	startPC int32
	endPC   int32
}

func newProto(l *State) *proto {
	p := &proto{}
	l.linkObject(p, tagProto)
	return p
}

// upvalue is a captured variable cell. While open it aliases a slot of
// the owning thread's stack; closing copies the value into the cell.
// A reference count tracks sharing between sibling closures.
type upvalue struct {
	refCount int
	owner    *State // non-nil while open
	level    int    // stack index while open
	next     *upvalue
	closed   value
}

func (uv *upvalue) isOpen() bool { return uv.owner != nil }

func (uv *upvalue) get() value {
	if uv.owner != nil {
		return uv.owner.stack[uv.level]
	}
	return uv.closed
}

func (uv *upvalue) set(v value) {
	if uv.owner != nil {
		uv.owner.stack[uv.level] = v
		return
	}
	uv.closed = v
}

// closure is a scripted function value: a prototype plus its upvalue
// cells.
type closure struct {
	gcHeader
	p      *proto
	upvals []*upvalue
}

// goClosure is a host function with embedded upvalue values. There is
// no sharing and no open/closed distinction.
type goClosure struct {
	gcHeader
	fn     GoFunction
	upvals []value
}

func newClosure(l *State, p *proto) *closure {
	c := &closure{p: p, upvals: make([]*upvalue, len(p.upvalues))}
	l.linkObject(c, tagClosure)
	return c
}

func newGoClosure(l *State, fn GoFunction, nUpvals int) *goClosure {
	c := &goClosure{fn: fn, upvals: make([]value, nUpvals)}
	l.linkObject(c, tagGoClosure)
	return c
}

// findUpvalue returns the open upvalue for stack slot level, creating
// one and inserting it into the thread's open list (which is sorted by
// level, highest first) if none exists yet.
func (l *State) findUpvalue(level int) *upvalue {
	pp := &l.openUpval
	for *pp != nil && (*pp).level >= level {
		uv := *pp
		if uv.level == level {
			uv.refCount++
			return uv
		}
		pp = &uv.next
	}
	uv := &upvalue{refCount: 1, owner: l, level: level, next: *pp}
	*pp = uv
	if l.twups == l {
		// thread now has upvalues: join the collector's remark list
		l.twups = l.g.twups
		l.g.twups = l
	}
	l.memDelta(sizeOfUpvalue)
	return uv
}

// closeUpvalues closes every open upvalue pointing at or above level:
// the stack value moves into the cell and the cell leaves the open list.
func (l *State) closeUpvalues(level int) {
	for l.openUpval != nil && l.openUpval.level >= level {
		uv := l.openUpval
		l.openUpval = uv.next
		uv.closed = l.stack[uv.level]
		uv.owner = nil
		uv.next = nil
		l.upvalBarrier(uv)
	}
}

// unrefUpvalue drops one reference; a dropped open cell with no other
// referents leaves the open list.
func (l *State) unrefUpvalue(uv *upvalue) {
	uv.refCount--
	if uv.refCount == 0 {
		if uv.owner != nil {
			pp := &uv.owner.openUpval
			for *pp != uv {
				pp = &(*pp).next
			}
			*pp = uv.next
		}
		l.memDelta(-sizeOfUpvalue)
	}
}

// pushClosure builds a closure for p with upvalues captured from the
// enclosing frame (base) and the enclosing closure. A per-prototype
// one-slot cache returns the previous closure when every upvalue still
// matches, so loops do not re-allocate identical closures.
func (l *State) pushClosure(p *proto, encup []*upvalue, base int, target int) {
	if c := p.cache; c != nil && l.cacheMatches(c, encup, base) {
		l.stack[target] = vObject(c)
		return
	}
	c := newClosure(l, p)
	for i, desc := range p.upvalues {
		if desc.inStack {
			c.upvals[i] = l.findUpvalue(base + int(desc.index))
		} else {
			c.upvals[i] = encup[desc.index]
			c.upvals[i].refCount++
		}
	}
	p.cache = c
	l.stack[target] = vObject(c)
	l.protoCacheBarrier(p, c)
}

func (l *State) cacheMatches(c *closure, encup []*upvalue, base int) bool {
	for i, desc := range c.p.upvalues {
		if desc.inStack {
			uv := c.upvals[i]
			if uv.owner != l || uv.level != base+int(desc.index) {
				return false
			}
		} else if c.upvals[i] != encup[desc.index] {
			return false
		}
	}
	return true
}
