package lune

import "fmt"

// Debug describes an activation record, filled by Stack and Info.
type Debug struct {
	Event           int
	Name            string
	NameKind        string // "global", "local", "method", "field", "upvalue", ""
	What            string // "main", "scripted", "host"
	Source          string
	ShortSource     string
	CurrentLine     int
	LineDefined     int
	LastLineDefined int
	ParameterCount  int
	UpvalueCount    int
	IsVararg        bool
	IsTailCall      bool

	ci *callInfo
}

const idSize = 60 // maximum length of a chunk name in messages

// shortSource produces the chunk name as it appears in messages.
func shortSource(source string) string {
	if source == "" {
		return "?"
	}
	switch source[0] {
	case '=': // literal name
		s := source[1:]
		if len(s) > idSize {
			s = s[:idSize]
		}
		return s
	case '@': // file name
		s := source[1:]
		if len(s) > idSize {
			return "..." + s[len(s)-idSize+3:]
		}
		return s
	}
	// chunk came from a string: quote its first line
	s := source
	if i := indexAny(s, "\n\r"); i >= 0 {
		s = s[:i] + "..."
	}
	if len(s) > idSize {
		s = s[:idSize-5] + "..."
	}
	return `[string "` + s + `"]`
}

func indexAny(s, chars string) int {
	for i := 0; i < len(s); i++ {
		for j := 0; j < len(chars); j++ {
			if s[i] == chars[j] {
				return i
			}
		}
	}
	return -1
}

func (ci *callInfo) currentLine(l *State) int {
	if !ci.isLua() {
		return -1
	}
	p := l.stack[ci.function].closure().p
	pc := ci.savedPC - 1
	if pc >= 0 && pc < len(p.lineInfo) {
		return int(p.lineInfo[pc])
	}
	return -1
}

// Stack returns the activation record at the given level: 0 is the
// running function, 1 its caller, and so on.
func (l *State) Stack(level int) (*Debug, bool) {
	if level < 0 {
		return nil, false
	}
	ci := l.ci
	for ; level > 0 && ci != &l.baseCi; level-- {
		ci = ci.prev
	}
	if level != 0 || ci == &l.baseCi {
		return nil, false
	}
	return &Debug{ci: ci}, true
}

// Info fills ar according to what: 'S' source, 'l' line, 'n' name,
// 'u' parameters/upvalues, 't' tail call flag.
func (l *State) Info(what string, ar *Debug) bool {
	ci := ar.ci
	if ci == nil {
		return false
	}
	fv := l.stack[ci.function]
	for i := 0; i < len(what); i++ {
		switch what[i] {
		case 'S':
			l.fillSource(ar, fv)
		case 'l':
			ar.CurrentLine = ci.currentLine(l)
		case 'u':
			if fv.isClosure() {
				p := fv.closure().p
				ar.ParameterCount = int(p.numParams)
				ar.UpvalueCount = len(p.upvalues)
				ar.IsVararg = p.isVararg
			} else if fv.isGoClosure() {
				ar.UpvalueCount = len(fv.goClosure().upvals)
				ar.IsVararg = true
			} else {
				ar.IsVararg = true
			}
		case 't':
			ar.IsTailCall = ci.callStatus&cistTail != 0
		case 'n':
			ar.Name, ar.NameKind = l.functionName(ci)
		}
	}
	return true
}

func (l *State) fillSource(ar *Debug, fv value) {
	if !fv.isClosure() {
		ar.Source = "=[host]"
		ar.ShortSource = "[host]"
		ar.What = "host"
		ar.LineDefined = -1
		ar.LastLineDefined = -1
		return
	}
	p := fv.closure().p
	if p.source != nil {
		ar.Source = p.source.bytes
	} else {
		ar.Source = "=?"
	}
	ar.ShortSource = shortSource(ar.Source)
	ar.LineDefined = p.lineDefined
	ar.LastLineDefined = p.lastLineDefined
	if p.lineDefined == 0 {
		ar.What = "main"
	} else {
		ar.What = "scripted"
	}
}

// functionName tries to infer how a function was called by inspecting
// the calling frame's instruction.
func (l *State) functionName(ci *callInfo) (string, string) {
	if ci.callStatus&cistTail != 0 || ci.prev == nil || !ci.prev.isLua() {
		return "", ""
	}
	caller := ci.prev
	p := l.stack[caller.function].closure().p
	pc := caller.savedPC - 1
	if pc < 0 || pc >= len(p.code) {
		return "", ""
	}
	i := p.code[pc]
	switch i.opcode() {
	case opCall, opTailCall:
		return l.objectName(p, pc, i.a())
	case opSelf:
		return l.constantFieldName(p, i.c()), "method"
	}
	return "", ""
}

// objectName resolves the name of the value loaded into register reg by
// scanning for the instruction that set it.
func (l *State) objectName(p *proto, lastPC, reg int) (string, string) {
	if name := p.localName(reg+1, lastPC); name != "" {
		return name, "local"
	}
	setter := findSetReg(p, lastPC, reg)
	if setter < 0 {
		return "", ""
	}
	i := p.code[setter]
	switch i.opcode() {
	case opGetTabUp:
		key := l.constantFieldName(p, i.c())
		if uvName := p.upvalName(i.b()); uvName == "_ENV" {
			return key, "global"
		}
		return key, "field"
	case opGetTable:
		return l.constantFieldName(p, i.c()), "field"
	case opGetUpval:
		return p.upvalName(i.b()), "upvalue"
	case opMove:
		if i.b() < i.a() {
			return l.objectName(p, setter, i.b())
		}
	}
	return "", ""
}

func (l *State) constantFieldName(p *proto, rk int) string {
	if isConstant(rk) {
		k := p.k[constantIndex(rk)]
		if k.isString() {
			return k.str().bytes
		}
	}
	return "?"
}

func (p *proto) localName(n, pc int) string {
	for _, lv := range p.localVars {
		if int(lv.startPC) <= pc && pc < int(lv.endPC) {
			n--
			if n == 0 {
				return lv.name.bytes
			}
		}
	}
	return ""
}

func (p *proto) upvalName(i int) string {
	if i < len(p.upvalues) && p.upvalues[i].name != nil {
		return p.upvalues[i].name.bytes
	}
	return "?"
}

// findSetReg finds the last instruction before lastPC that assigned
// register reg, or -1 when jumps make the answer ambiguous.
func findSetReg(p *proto, lastPC, reg int) int {
	setter := -1
	jmpTarget := 0
	for pc := 0; pc < lastPC; pc++ {
		i := p.code[pc]
		a := i.a()
		switch i.opcode() {
		case opLoadNil:
			if a <= reg && reg <= a+i.b() {
				setter = filterPC(pc, jmpTarget)
			}
		case opTForCall:
			if reg >= a+2 {
				setter = filterPC(pc, jmpTarget)
			}
		case opCall, opTailCall:
			if reg >= a {
				setter = filterPC(pc, jmpTarget)
			}
		case opJump:
			dest := pc + 1 + i.sbx()
			if pc < dest && dest <= lastPC && dest > jmpTarget {
				jmpTarget = dest
			}
		default:
			if opModes[i.opcode()].setsA && reg == a {
				setter = filterPC(pc, jmpTarget)
			}
		}
	}
	return setter
}

func filterPC(pc, jmpTarget int) int {
	if pc < jmpTarget {
		return -1 // the assignment may be skipped by a jump
	}
	return pc
}

// Where produces the "chunk:line: " position prefix for messages.
func (l *State) Where(level int) string {
	if ar, ok := l.Stack(level); ok {
		l.Info("Sl", ar)
		if ar.CurrentLine > 0 {
			return fmt.Sprintf("%s:%d: ", ar.ShortSource, ar.CurrentLine)
		}
	}
	return ""
}

// runError raises a runtime error with the current position prefixed.
func (l *State) runError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ci := l.ci
	if ci.isLua() {
		p := l.stack[ci.function].closure().p
		line := ci.currentLine(l)
		src := "?"
		if p.source != nil {
			src = shortSource(p.source.bytes)
		}
		msg = fmt.Sprintf("%s:%d: %s", src, line, msg)
	}
	l.push(vObject(l.newString(msg)))
	l.errorMsg()
}

// typeError reports a typed misuse like indexing a non-table.
func (l *State) typeError(v value, op string) {
	l.runError("attempt to %s a %s value", op, typeName(v))
}

func (l *State) arithError(v1, v2 value) {
	if _, ok := toNumberValue(v1); ok {
		v1 = v2 // first operand is fine; blame the second
	}
	l.typeError(v1, "perform arithmetic on")
}

func (l *State) concatError(v1, v2 value) {
	if v1.isString() || v1.isNumber() {
		v1 = v2
	}
	l.typeError(v1, "concatenate")
}

func (l *State) toIntError(v1, v2 value) {
	if _, ok := toIntegerValue(v1); ok {
		v1 = v2
	}
	l.runError("number has no integer representation")
}

func (l *State) orderError(v1, v2 value) {
	t1, t2 := typeName(v1), typeName(v2)
	if t1 == t2 {
		l.runError("attempt to compare two %s values", t1)
	}
	l.runError("attempt to compare %s with %s", t1, t2)
}

// SetHook installs a debug hook for the given event mask; count only
// matters with MaskCount.
func (l *State) SetHook(f Hook, mask, count int) {
	if f == nil || mask == 0 {
		f = nil
		mask = 0
	}
	if l.ci.isLua() {
		l.oldPC = l.ci.savedPC
	}
	l.hook = f
	l.baseHookCount = count
	l.hookCount = count
	l.hookMask = mask
}

// HookMask returns the installed hook mask.
func (l *State) HookMask() int { return l.hookMask }

// runHook invokes the installed hook for event, shielding it against
// recursion and stack disturbance.
func (l *State) runHook(event, line int) {
	if l.hook == nil || !l.allowHook {
		return
	}
	ci := l.ci
	top := l.top
	ciTop := ci.top
	ar := Debug{Event: event, CurrentLine: line, ci: ci}
	l.checkStackSpace(MinStack)
	ci.top = l.top + MinStack
	l.allowHook = false
	ci.callStatus |= cistHooked
	l.hook(l, &ar)
	l.allowHook = true
	ci.top = ciTop
	l.top = top
	ci.callStatus &^= cistHooked
}

func (l *State) callHook(ci *callInfo) {
	event := HookCall
	if ci.callStatus&cistTail != 0 {
		event = HookTailCall
	}
	if ci.isLua() {
		ci.savedPC++ // hooks assume the pc points past the call
		l.runHook(event, -1)
		ci.savedPC--
	} else {
		l.runHook(event, -1)
	}
}

func (l *State) returnHook(ci *callInfo) {
	l.runHook(HookReturn, -1)
}

// traceExec runs the per-instruction hooks (count and line) before an
// instruction dispatch.
func (l *State) traceExec() {
	mask := l.hookMask
	if mask&MaskCount != 0 {
		l.hookCount--
		if l.hookCount == 0 {
			l.hookCount = l.baseHookCount
			l.runHook(HookCount, -1)
		}
	}
	if mask&MaskLine != 0 {
		ci := l.ci
		p := l.stack[ci.function].closure().p
		npc := ci.savedPC - 1
		newLine := 0
		if npc >= 0 && npc < len(p.lineInfo) {
			newLine = int(p.lineInfo[npc])
		}
		if npc == 0 || ci.savedPC <= l.oldPC || newLine != lineAt(p, l.oldPC-1) {
			l.runHook(HookLine, newLine)
		}
		l.oldPC = ci.savedPC
	}
}

func lineAt(p *proto, pc int) int {
	if pc >= 0 && pc < len(p.lineInfo) {
		return int(p.lineInfo[pc])
	}
	return -1
}
