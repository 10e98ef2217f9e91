package lune

import (
	"fmt"
	"io"

	"github.com/lunelang/lune/internal/token"
)

// parserState carries the data shared by all nested funcStates of one
// parse: active local variables and pending goto/label lists.
type parserState struct {
	actVar []int16 // per active local: index into its proto's localVars
	gotos  []labelDesc
	labels []labelDesc
}

type labelDesc struct {
	name    *lstring
	pc      int // jump position (gotos) or label position
	line    int
	nactvar uint8
}

const (
	maxLocalVars = 200
	maxUpvalues  = maxArgB
)

// parse compiles a chunk into a closure with a single _ENV upvalue,
// anchored on the stack.
func (l *State) parse(r io.Reader, chunkName string) *closure {
	source := l.newString(chunkName)
	p := newProto(l)
	p.source = source
	cl := &closure{p: p, upvals: make([]*upvalue, 1)}
	l.linkObject(cl, tagClosure)
	l.push(vObject(cl))
	anchor := newTable(l, 0, 0)
	l.push(vObject(anchor))

	x := newLexer(l, r, source, anchor)
	ps := &parserState{}
	fs := &funcState{f: p, x: x, p: ps}
	mainFunc(x, fs)

	l.top-- // drop the anchor table
	cl.upvals[0] = &upvalue{refCount: 1, closed: nilValue}
	return cl
}

func mainFunc(x *lexer, fs *funcState) {
	var bl blockCnt
	fs.openFunc(&bl)
	fs.f.isVararg = true
	var env expDesc
	env.init(expLocal, 0)
	fs.newUpvalue(x.l.internString("_ENV"), &env)
	x.next()
	fs.statList()
	fs.checkToken(token.EOF)
	fs.closeFunc()
}

func (fs *funcState) openFunc(bl *blockCnt) {
	fs.f.maxStackSize = 2 // registers 0/1 are always valid
	fs.jpc = noJump
	fs.firstLocal = len(fs.p.actVar)
	fs.kcache = make(map[value]int)
	fs.x.fs = fs
	fs.enterBlock(bl, false)
}

func (fs *funcState) closeFunc() {
	fs.ret(0, 0) // final return
	fs.leaveBlock()
	f := fs.f
	f.code = f.code[:fs.pc]
	f.lineInfo = f.lineInfo[:fs.pc]
	f.k = f.k[:fs.nk]
	f.protos = f.protos[:fs.np]
	fs.x.fs = fs.prev
}

// Error helpers.

func (fs *funcState) semError(msg string) {
	fs.x.t.t = token.EOF // remove the "near" token
	fs.x.lexError(msg, "")
}

func (fs *funcState) checkLimit(v, limit int, what string) {
	if v > limit {
		where := "main function"
		if fs.f.lineDefined != 0 {
			where = fmt.Sprintf("function at line %d", fs.f.lineDefined)
		}
		fs.x.lexError(fmt.Sprintf("too many %s (limit is %d) in %s", what, limit, where), "")
	}
}

func (fs *funcState) testNext(t token.Type) bool {
	if fs.x.t.t == t {
		fs.x.next()
		return true
	}
	return false
}

func (fs *funcState) checkToken(t token.Type) {
	if fs.x.t.t != t {
		fs.x.syntaxError(fmt.Sprintf("'%s' expected", t))
	}
}

func (fs *funcState) checkNext(t token.Type) {
	fs.checkToken(t)
	fs.x.next()
}

func (fs *funcState) checkMatch(what, who token.Type, where int) {
	if fs.testNext(what) {
		return
	}
	if where == fs.x.lineNumber {
		fs.x.syntaxError(fmt.Sprintf("'%s' expected", what))
	}
	fs.x.syntaxError(fmt.Sprintf("'%s' expected (to close '%s' at line %d)", what, who, where))
}

func (fs *funcState) checkName() *lstring {
	fs.checkToken(token.Name)
	s := fs.x.t.s
	fs.x.next()
	return s
}

func (fs *funcState) codeString(e *expDesc, s *lstring) {
	e.init(expConstant, fs.stringK(s))
}

func (fs *funcState) codeName(e *expDesc) *lstring {
	s := fs.checkName()
	fs.codeString(e, s)
	return s
}

// Local variables and upvalues.

func (fs *funcState) registerLocalVar(name *lstring) int {
	f := fs.f
	f.localVars = append(f.localVars, localVar{name: name})
	fs.l().memDelta(24)
	return len(f.localVars) - 1
}

func (fs *funcState) newLocalVar(name *lstring) {
	reg := fs.registerLocalVar(name)
	fs.checkLimit(len(fs.p.actVar)+1-fs.firstLocal, maxLocalVars, "local variables")
	fs.p.actVar = append(fs.p.actVar, int16(reg))
}

func (fs *funcState) newLocalVarLiteral(name string) {
	fs.newLocalVar(fs.x.newString(name))
}

func (fs *funcState) getLocVar(i int) *localVar {
	idx := fs.p.actVar[fs.firstLocal+i]
	return &fs.f.localVars[idx]
}

func (fs *funcState) adjustLocalVars(n int) {
	fs.nactvar += uint8(n)
	for ; n > 0; n-- {
		fs.getLocVar(int(fs.nactvar) - n).startPC = int32(fs.pc)
	}
}

func (fs *funcState) removeVars(toLevel int) {
	newLen := len(fs.p.actVar) - (int(fs.nactvar) - toLevel)
	for int(fs.nactvar) > toLevel {
		fs.nactvar--
		fs.getLocVar(int(fs.nactvar)).endPC = int32(fs.pc)
	}
	fs.p.actVar = fs.p.actVar[:newLen]
}

func (fs *funcState) searchUpvalue(name *lstring) int {
	for i := range fs.f.upvalues {
		if fs.f.upvalues[i].name == name {
			return i
		}
	}
	return -1
}

func (fs *funcState) newUpvalue(name *lstring, v *expDesc) int {
	fs.checkLimit(len(fs.f.upvalues)+1, maxUpvalues, "upvalues")
	fs.f.upvalues = append(fs.f.upvalues, upvalDesc{
		name:    name,
		inStack: v.kind == expLocal,
		index:   uint8(v.info),
	})
	fs.l().memDelta(16)
	return len(fs.f.upvalues) - 1
}

func (fs *funcState) searchVar(name *lstring) int {
	for i := int(fs.nactvar) - 1; i >= 0; i-- {
		if fs.getLocVar(i).name == name {
			return i
		}
	}
	return -1
}

// markUpval marks the block holding the local at the given level: its
// closing must also close upvalues.
func (fs *funcState) markUpval(level int) {
	bl := fs.bl
	for int(bl.nactvar) > level {
		bl = bl.previous
	}
	bl.hasUpval = true
}

// singleVarAux resolves a name against fs and its enclosers: local of
// this function, upvalue, or unresolved (global access through _ENV).
func singleVarAux(fs *funcState, name *lstring, v *expDesc, base bool) expKind {
	if fs == nil {
		return expVoid
	}
	if reg := fs.searchVar(name); reg >= 0 {
		v.init(expLocal, reg)
		if !base {
			fs.markUpval(reg) // the local is used as an upvalue
		}
		return expLocal
	}
	idx := fs.searchUpvalue(name)
	if idx < 0 {
		if singleVarAux(fs.prev, name, v, false) == expVoid {
			return expVoid
		}
		idx = fs.newUpvalue(name, v)
	}
	v.init(expUpval, idx)
	return expUpval
}

func (fs *funcState) singleVar(v *expDesc) {
	name := fs.checkName()
	if singleVarAux(fs, name, v, true) == expVoid {
		// global: _ENV[name]
		var key expDesc
		singleVarAux(fs, fs.x.l.internString("_ENV"), v, true)
		fs.codeString(&key, name)
		fs.codeIndexed(v, &key)
	}
}

// adjustAssign balances the value list of an assignment against its
// target count.
func (fs *funcState) adjustAssign(nVars, nExps int, e *expDesc) {
	extra := nVars - nExps
	if e.kind == expCall || e.kind == expVararg {
		extra++ // includes call itself
		if extra < 0 {
			extra = 0
		}
		fs.setReturns(e, extra)
		if extra > 1 {
			fs.reserveRegs(extra - 1)
		}
	} else {
		if e.kind != expVoid {
			fs.exp2NextReg(e)
		}
		if extra > 0 {
			reg := int(fs.freeReg)
			fs.reserveRegs(extra)
			fs.codeNil(reg, extra)
		}
	}
	if nExps > nVars {
		fs.freeReg -= uint8(nExps - nVars) // remove extra values
	}
}

// Goto and label handling.

func (fs *funcState) newLabelEntry(list *[]labelDesc, name *lstring, line, pc int) int {
	*list = append(*list, labelDesc{name: name, pc: pc, line: line, nactvar: fs.nactvar})
	return len(*list) - 1
}

// closeGoto binds pending goto g to the label, removing it from the
// pending list.
func (fs *funcState) closeGoto(g int, label *labelDesc) {
	gt := &fs.p.gotos[g]
	if int(gt.nactvar) < int(label.nactvar) {
		varName := fs.getLocVar(int(gt.nactvar)).name.bytes
		fs.semError(fmt.Sprintf(
			"<goto %s> at line %d jumps into the scope of local '%s'",
			gt.name.bytes, gt.line, varName))
	}
	fs.patchList(gt.pc, label.pc)
	fs.p.gotos = append(fs.p.gotos[:g], fs.p.gotos[g+1:]...)
}

// findLabel matches a new goto against labels of the current block.
func (fs *funcState) findLabel(g int) bool {
	bl := fs.bl
	gt := &fs.p.gotos[g]
	for i := bl.firstLabel; i < len(fs.p.labels); i++ {
		lb := &fs.p.labels[i]
		if lb.name == gt.name {
			if int(gt.nactvar) > int(lb.nactvar) &&
				(bl.hasUpval || len(fs.p.labels) > bl.firstLabel) {
				fs.patchClose(gt.pc, int(lb.nactvar))
			}
			fs.closeGoto(g, lb)
			return true
		}
	}
	return false
}

// findGotos matches a new label against pending gotos of the block.
func (fs *funcState) findGotos(lb *labelDesc) {
	i := fs.bl.firstGoto
	for i < len(fs.p.gotos) {
		if fs.p.gotos[i].name == lb.name {
			fs.closeGoto(i, lb)
		} else {
			i++
		}
	}
}

// moveGotosOut exports a closing block's pending gotos to the enclosing
// block, correcting their level.
func (fs *funcState) moveGotosOut(bl *blockCnt) {
	for i := bl.firstGoto; i < len(fs.p.gotos); {
		gt := &fs.p.gotos[i]
		if int(gt.nactvar) > int(bl.nactvar) {
			if bl.hasUpval {
				fs.patchClose(gt.pc, int(bl.nactvar))
			}
			gt.nactvar = bl.nactvar
		}
		if !fs.findLabel(i) {
			i++
		}
	}
}

func (fs *funcState) enterBlock(bl *blockCnt, isLoop bool) {
	bl.isLoop = isLoop
	bl.nactvar = fs.nactvar
	bl.firstLabel = len(fs.p.labels)
	bl.firstGoto = len(fs.p.gotos)
	bl.hasUpval = false
	bl.previous = fs.bl
	fs.bl = bl
}

var breakName = "break"

func (fs *funcState) breakLabel() {
	n := fs.x.l.internString(breakName)
	l := fs.newLabelEntry(&fs.p.labels, n, 0, fs.pc)
	fs.findGotos(&fs.p.labels[l])
}

func (fs *funcState) undefGotoError(gt *labelDesc) {
	msg := fmt.Sprintf("no visible label '%s' for <goto> at line %d", gt.name.bytes, gt.line)
	if gt.name.bytes == breakName {
		msg = fmt.Sprintf("break outside loop at line %d", gt.line)
	}
	fs.semError(msg)
}

func (fs *funcState) leaveBlock() {
	bl := fs.bl
	if bl.previous != nil && bl.hasUpval {
		// close pending upvalues on block exit
		j := fs.jump()
		fs.patchClose(j, int(bl.nactvar))
		fs.patchToHere(j)
	}
	if bl.isLoop {
		fs.breakLabel() // close pending breaks
	}
	fs.bl = bl.previous
	fs.removeVars(int(bl.nactvar))
	fs.freeReg = fs.nactvar
	fs.p.labels = fs.p.labels[:bl.firstLabel]
	if bl.previous != nil {
		fs.moveGotosOut(bl)
	} else if bl.firstGoto < len(fs.p.gotos) {
		fs.undefGotoError(&fs.p.gotos[bl.firstGoto])
	}
}

// Expressions.

func (fs *funcState) fieldSel(v *expDesc) {
	// fieldsel -> ['.' | ':'] NAME
	fs.exp2AnyRegUp(v)
	fs.x.next() // skip the dot or colon
	var key expDesc
	fs.codeName(&key)
	fs.codeIndexed(v, &key)
}

func (fs *funcState) yIndex(v *expDesc) {
	// index -> '[' expr ']'
	fs.x.next()
	fs.expr(v)
	fs.exp2Val(v)
	fs.checkNext(token.RightBracket)
}

type constructorControl struct {
	v         expDesc // last list item read
	t         *expDesc
	nHash     int
	nArray    int
	toStore   int // number of array items pending store
}

func (fs *funcState) recField(cc *constructorControl) {
	// recfield -> (NAME | '[' exp ']') = exp1
	reg := fs.freeReg
	var key, val expDesc
	if fs.x.t.t == token.Name {
		fs.checkLimit(cc.nHash, maxInt, "items in a constructor")
		fs.codeName(&key)
	} else {
		fs.yIndex(&key)
	}
	cc.nHash++
	fs.checkNext(token.Assign)
	rkKey := fs.exp2RK(&key)
	fs.expr(&val)
	fs.codeABC(opSetTable, cc.t.info, rkKey, fs.exp2RK(&val))
	fs.freeReg = reg // free registers used by the field
}

func (fs *funcState) closeListField(cc *constructorControl) {
	if cc.v.kind == expVoid {
		return
	}
	fs.exp2NextReg(&cc.v)
	cc.v.kind = expVoid
	if cc.toStore == fieldsPerFlush {
		fs.codeSetList(cc.t.info, cc.nArray, cc.toStore)
		cc.toStore = 0
	}
}

func (fs *funcState) lastListField(cc *constructorControl) {
	if cc.toStore == 0 {
		return
	}
	if cc.v.kind == expCall || cc.v.kind == expVararg {
		fs.setMultRet(&cc.v)
		fs.codeSetList(cc.t.info, cc.nArray, MultipleReturns)
		cc.nArray-- // the final value goes with the batch
	} else {
		if cc.v.kind != expVoid {
			fs.exp2NextReg(&cc.v)
		}
		fs.codeSetList(cc.t.info, cc.nArray, cc.toStore)
	}
}

func (fs *funcState) listField(cc *constructorControl) {
	fs.expr(&cc.v)
	fs.checkLimit(cc.nArray, maxInt, "items in a constructor")
	cc.nArray++
	cc.toStore++
}

func (fs *funcState) field(cc *constructorControl) {
	switch fs.x.t.t {
	case token.Name:
		if fs.x.peek() != token.Assign {
			fs.listField(cc)
		} else {
			fs.recField(cc)
		}
	case token.LeftBracket:
		fs.recField(cc)
	default:
		fs.listField(cc)
	}
}

func (fs *funcState) constructor(t *expDesc) {
	// constructor -> '{' [ field { sep field } [sep] ] '}'  sep -> ',' | ';'
	line := fs.x.lineNumber
	pc := fs.codeABC(opNewTable, 0, 0, 0)
	cc := constructorControl{t: t}
	cc.v.init(expVoid, 0)
	t.init(expNonReloc, int(fs.freeReg))
	fs.reserveRegs(1)
	fs.checkNext(token.LeftBrace)
	for fs.x.t.t != token.RightBrace {
		fs.closeListField(&cc)
		fs.field(&cc)
		if !fs.testNext(token.Comma) && !fs.testNext(token.Semicolon) {
			break
		}
	}
	fs.checkMatch(token.RightBrace, token.LeftBrace, line)
	fs.lastListField(&cc)
	i := &fs.f.code[pc]
	i.setB(int2fb(cc.nArray))
	i.setC(int2fb(cc.nHash))
}

func (fs *funcState) parList() {
	// parlist -> [ param { ',' param } ]
	f := fs.f
	nParams := 0
	if fs.x.t.t != token.RightParen {
		for {
			switch fs.x.t.t {
			case token.Name:
				fs.newLocalVar(fs.checkName())
				nParams++
			case token.Ellipsis:
				fs.x.next()
				f.isVararg = true
			default:
				fs.x.syntaxError("<name> or '...' expected")
			}
			if f.isVararg || !fs.testNext(token.Comma) {
				break
			}
		}
	}
	fs.adjustLocalVars(nParams)
	f.numParams = uint8(fs.nactvar)
	fs.reserveRegs(int(fs.nactvar)) // reserve registers for parameters
}

// body parses a function body and leaves the closure expression in e.
func (fs *funcState) body(e *expDesc, isMethod bool, line int) {
	nf := &funcState{
		f:    newProto(fs.l()),
		prev: fs,
		x:    fs.x,
		p:    fs.p,
	}
	nf.f.source = fs.f.source
	nf.f.lineDefined = line
	fs.f.protos = growVector(fs.l(), fs.f.protos, fs.np, maxArgBx+1, "functions")
	fs.f.protos[fs.np] = nf.f
	fs.np++
	fs.x.fs = nf
	var bl blockCnt
	nf.openFunc(&bl)
	nf.checkNext(token.LeftParen)
	if isMethod {
		nf.newLocalVarLiteral("self")
		nf.adjustLocalVars(1)
	}
	nf.parList()
	nf.checkNext(token.RightParen)
	nf.statList()
	nf.f.lastLineDefined = fs.x.lineNumber
	nf.checkMatch(token.End, token.Function, line)
	nf.closeFunc()
	// emit the closure instruction in the enclosing function and fix it
	// at the next register
	e.init(expReloc, fs.codeABx(opClosure, 0, fs.np-1))
	fs.fixLine(line)
	fs.exp2NextReg(e)
}

func (fs *funcState) expList(v *expDesc) int {
	// explist -> expr { ',' expr }
	n := 1
	fs.expr(v)
	for fs.testNext(token.Comma) {
		fs.exp2NextReg(v)
		fs.expr(v)
		n++
	}
	return n
}

func (fs *funcState) funcArgs(e *expDesc, line int) {
	var args expDesc
	switch fs.x.t.t {
	case token.LeftParen:
		fs.x.next()
		if fs.x.t.t == token.RightParen {
			args.kind = expVoid
		} else {
			fs.expList(&args)
			fs.setMultRet(&args)
		}
		fs.checkMatch(token.RightParen, token.LeftParen, line)
	case token.LeftBrace:
		fs.constructor(&args)
	case token.String:
		fs.codeString(&args, fs.x.t.s)
		fs.x.next()
	default:
		fs.x.syntaxError("function arguments expected")
	}
	base := e.info // base register for the call
	var nParams int
	if args.kind == expCall || args.kind == expVararg {
		nParams = MultipleReturns
	} else {
		if args.kind != expVoid {
			fs.exp2NextReg(&args)
		}
		nParams = int(fs.freeReg) - (base + 1)
	}
	e.init(expCall, fs.codeABC(opCall, base, nParams+1, 2))
	fs.fixLine(line)
	fs.freeReg = uint8(base + 1) // call removes function and args,
	// leaving one result
}

func (fs *funcState) primaryExp(v *expDesc) {
	// primaryexp -> NAME | '(' expr ')'
	switch fs.x.t.t {
	case token.LeftParen:
		line := fs.x.lineNumber
		fs.x.next()
		fs.expr(v)
		fs.checkMatch(token.RightParen, token.LeftParen, line)
		fs.dischargeVars(v)
	case token.Name:
		fs.singleVar(v)
	default:
		fs.x.syntaxError("unexpected symbol")
	}
}

func (fs *funcState) suffixedExp(v *expDesc) {
	// suffixedexp -> primaryexp { '.' NAME | '[' exp ']' | ':' NAME funcargs | funcargs }
	line := fs.x.lineNumber
	fs.primaryExp(v)
	for {
		switch fs.x.t.t {
		case token.Dot:
			fs.fieldSel(v)
		case token.LeftBracket:
			fs.exp2AnyRegUp(v)
			var key expDesc
			fs.yIndex(&key)
			fs.codeIndexed(v, &key)
		case token.Colon:
			fs.x.next()
			var key expDesc
			fs.codeName(&key)
			fs.codeSelf(v, &key)
			fs.funcArgs(v, line)
		case token.LeftParen, token.String, token.LeftBrace:
			fs.exp2NextReg(v)
			fs.funcArgs(v, line)
		default:
			return
		}
	}
}

func (fs *funcState) simpleExp(v *expDesc) {
	switch fs.x.t.t {
	case token.Int:
		v.init(expInt, 0)
		v.ival = fs.x.t.i
	case token.Float:
		v.init(expFloat, 0)
		v.nval = fs.x.t.f
	case token.String:
		fs.codeString(v, fs.x.t.s)
	case token.Nil:
		v.init(expNil, 0)
	case token.True:
		v.init(expTrue, 0)
	case token.False:
		v.init(expFalse, 0)
	case token.Ellipsis:
		if !fs.f.isVararg {
			fs.x.syntaxError("cannot use '...' outside a vararg function")
		}
		v.init(expVararg, fs.codeABC(opVararg, 0, 1, 0))
	case token.LeftBrace:
		fs.constructor(v)
		return
	case token.Function:
		line := fs.x.lineNumber
		fs.x.next()
		fs.body(v, false, line)
		return
	default:
		fs.suffixedExp(v)
		return
	}
	fs.x.next()
}

func unaryOperator(t token.Type) unOpr {
	switch t {
	case token.Not:
		return oprNot
	case token.Minus:
		return oprMinus
	case token.Tilde:
		return oprBNotU
	case token.Hash:
		return oprLen
	}
	return oprNoUnary
}

func binaryOperator(t token.Type) binOpr {
	switch t {
	case token.Plus:
		return oprAdd
	case token.Minus:
		return oprSub
	case token.Star:
		return oprMul
	case token.Percent:
		return oprMod
	case token.Caret:
		return oprPow
	case token.Slash:
		return oprDiv
	case token.DoubleSlash:
		return oprIDiv
	case token.Ampersand:
		return oprBAnd
	case token.Pipe:
		return oprBOr
	case token.Tilde:
		return oprBXor
	case token.ShiftLeft:
		return oprShl
	case token.ShiftRight:
		return oprShr
	case token.Concat:
		return oprConcat
	case token.NotEqual:
		return oprNE
	case token.Equal:
		return oprEQ
	case token.Less:
		return oprLT
	case token.LessEqual:
		return oprLE
	case token.Greater:
		return oprGT
	case token.GreaterEqual:
		return oprGE
	case token.And:
		return oprAnd
	case token.Or:
		return oprOr
	}
	return oprNoBinary
}

// Operator priorities; ^ and .. are right-associative (their right
// priority is lower than their left).
var binPriority = [oprNoBinary]struct{ left, right uint8 }{
	oprAdd: {10, 10}, oprSub: {10, 10},
	oprMul: {11, 11}, oprMod: {11, 11},
	oprPow: {14, 13},
	oprDiv: {11, 11}, oprIDiv: {11, 11},
	oprBAnd: {6, 6}, oprBOr: {4, 4}, oprBXor: {5, 5},
	oprShl: {7, 7}, oprShr: {7, 7},
	oprConcat: {9, 8},
	oprEQ:     {3, 3}, oprLT: {3, 3}, oprLE: {3, 3},
	oprNE: {3, 3}, oprGT: {3, 3}, oprGE: {3, 3},
	oprAnd: {2, 2}, oprOr: {1, 1},
}

const unaryPriority = 12

// subExpr parses expressions by precedence climbing; returns the first
// operator that does not bind at this level.
func (fs *funcState) subExpr(v *expDesc, limit int) binOpr {
	fs.enterLevel()
	if u := unaryOperator(fs.x.t.t); u != oprNoUnary {
		line := fs.x.lineNumber
		fs.x.next()
		fs.subExpr(v, unaryPriority)
		fs.prefix(u, v, line)
	} else {
		fs.simpleExp(v)
	}
	op := binaryOperator(fs.x.t.t)
	for op != oprNoBinary && int(binPriority[op].left) > limit {
		line := fs.x.lineNumber
		fs.x.next()
		fs.infix(op, v)
		var v2 expDesc
		nextOp := fs.subExpr(&v2, int(binPriority[op].right))
		fs.posfix(op, v, &v2, line)
		op = nextOp
	}
	fs.leaveLevel()
	return op
}

func (fs *funcState) expr(v *expDesc) {
	fs.subExpr(v, 0)
}

func (fs *funcState) enterLevel() {
	fs.l().nCcalls++
	if fs.l().nCcalls >= maxGoCalls {
		fs.x.lexError("chunk has too many syntax levels", "")
	}
}

func (fs *funcState) leaveLevel() {
	fs.l().nCcalls--
}

// Statements.

func (fs *funcState) block() {
	var bl blockCnt
	fs.enterBlock(&bl, false)
	fs.statList()
	fs.leaveBlock()
}

// lhsAssign chains the targets of a multiple assignment.
type lhsAssign struct {
	prev *lhsAssign
	v    expDesc
}

// checkConflict guards against an assignment target being invalidated
// by a previous assignment in the same statement: a conflicting table
// or key register is saved in a fresh temporary.
func (fs *funcState) checkConflict(lh *lhsAssign, v *expDesc) {
	extra := int(fs.freeReg) // eventual position of the saved copy
	conflict := false
	for ; lh != nil; lh = lh.prev {
		if lh.v.kind != expIndexed {
			continue
		}
		// is the table the upvalue or local being assigned now?
		sameKind := (lh.v.indOnUpval && v.kind == expUpval) ||
			(!lh.v.indOnUpval && v.kind == expLocal)
		if sameKind && lh.v.indTable == v.info {
			conflict = true
			lh.v.indOnUpval = false
			lh.v.indTable = extra // previous assignment uses the copy
		}
		// is the key the local being assigned? (keys cannot be upvalues)
		if v.kind == expLocal && lh.v.indKey == v.info {
			conflict = true
			lh.v.indKey = extra
		}
	}
	if conflict {
		op := opMove
		if v.kind == expUpval {
			op = opGetUpval
		}
		fs.codeABC(op, extra, v.info, 0)
		fs.reserveRegs(1)
	}
}

func (fs *funcState) assignment(lh *lhsAssign, nVars int) {
	if !(lh.v.kind == expLocal || lh.v.kind == expUpval || lh.v.kind == expIndexed) {
		fs.x.syntaxError("syntax error: cannot assign to this expression")
	}
	if fs.testNext(token.Comma) {
		var nv lhsAssign
		nv.prev = lh
		fs.suffixedExp(&nv.v)
		if nv.v.kind != expIndexed {
			fs.checkConflict(lh, &nv.v)
		}
		fs.checkLimit(nVars+1, maxGoCalls, "variable names")
		fs.assignment(&nv, nVars+1)
	} else {
		fs.checkNext(token.Assign)
		var e expDesc
		nExps := fs.expList(&e)
		if nExps != nVars {
			fs.adjustAssign(nVars, nExps, &e)
		} else {
			fs.setOneRet(&e)
			fs.storeVar(&lh.v, &e)
			return
		}
	}
	var e expDesc
	e.init(expNonReloc, int(fs.freeReg)-1) // default: the top value
	fs.storeVar(&lh.v, &e)
}

func (fs *funcState) cond() int {
	var v expDesc
	fs.expr(&v)
	if v.kind == expNil {
		v.kind = expFalse // nil is false in conditions
	}
	fs.goIfTrue(&v)
	return v.falseJumps
}

func (fs *funcState) gotoStat(pc int) {
	line := fs.x.lineNumber
	var name *lstring
	if fs.testNext(token.Goto) {
		name = fs.checkName()
	} else {
		fs.x.next() // skip 'break'
		name = fs.x.l.internString(breakName)
	}
	g := fs.newLabelEntry(&fs.p.gotos, name, line, pc)
	fs.findLabel(g)
}

// checkRepeated refuses a label name already visible in the function.
func (fs *funcState) checkRepeated(name *lstring) {
	for i := fs.bl.firstLabel; i < len(fs.p.labels); i++ {
		if fs.p.labels[i].name == name {
			fs.semError(fmt.Sprintf("label '%s' already defined on line %d",
				name.bytes, fs.p.labels[i].line))
		}
	}
}

// skipNoOpStat skips semicolons and labels while looking for a block
// end.
func (fs *funcState) skipNoOpStat() {
	for fs.x.t.t == token.Semicolon || fs.x.t.t == token.DoubleColon {
		fs.statement()
	}
}

func (fs *funcState) labelStat(name *lstring, line int) {
	fs.checkRepeated(name)
	fs.checkNext(token.DoubleColon)
	l := fs.newLabelEntry(&fs.p.labels, name, line, fs.getLabel())
	fs.skipNoOpStat()
	if fs.blockFollow(false) {
		// assume the label is the block's last statement
		fs.p.labels[l].nactvar = fs.bl.nactvar
	}
	fs.findGotos(&fs.p.labels[l])
}

// blockFollow reports whether the current token ends a block;
// withUntil treats 'until' as a closer too.
func (fs *funcState) blockFollow(withUntil bool) bool {
	switch fs.x.t.t {
	case token.Else, token.Elseif, token.End, token.EOF:
		return true
	case token.Until:
		return withUntil
	}
	return false
}

func (fs *funcState) whileStat(line int) {
	fs.x.next()
	whileInit := fs.getLabel()
	condExit := fs.cond()
	var bl blockCnt
	fs.enterBlock(&bl, true)
	fs.checkNext(token.Do)
	fs.block()
	fs.patchList(fs.jump(), whileInit)
	fs.checkMatch(token.End, token.While, line)
	fs.leaveBlock()
	fs.patchToHere(condExit)
}

func (fs *funcState) repeatStat(line int) {
	repeatInit := fs.getLabel()
	var blLoop, blScope blockCnt
	fs.enterBlock(&blLoop, true)
	fs.enterBlock(&blScope, false)
	fs.x.next()
	fs.statList()
	fs.checkMatch(token.Until, token.Repeat, line)
	condExit := fs.cond() // the condition sees the loop's locals
	if blScope.hasUpval {
		fs.patchClose(condExit, int(blScope.nactvar))
	}
	fs.leaveBlock() // scope
	fs.patchList(condExit, repeatInit)
	fs.leaveBlock() // loop
}

func (fs *funcState) exp1() {
	var e expDesc
	fs.expr(&e)
	fs.exp2NextReg(&e)
}

func (fs *funcState) forBody(base, line, nVars int, isNum bool) {
	var bl blockCnt
	fs.adjustLocalVars(3) // control variables
	fs.checkNext(token.Do)
	var prep int
	if isNum {
		prep = fs.codeAsBx(opForPrep, base, noJump)
	} else {
		prep = fs.jump()
	}
	fs.enterBlock(&bl, false)
	fs.adjustLocalVars(nVars)
	fs.reserveRegs(nVars)
	fs.block()
	fs.leaveBlock()
	fs.patchToHere(prep)
	var endFor int
	if isNum {
		endFor = fs.codeAsBx(opForLoop, base, noJump)
	} else {
		fs.codeABC(opTForCall, base, 0, nVars)
		fs.fixLine(line)
		endFor = fs.codeAsBx(opTForLoop, base+2, noJump)
	}
	fs.patchList(endFor, prep+1)
	fs.fixLine(line)
}

func (fs *funcState) forNum(varName *lstring, line int) {
	base := int(fs.freeReg)
	fs.newLocalVarLiteral("(for index)")
	fs.newLocalVarLiteral("(for limit)")
	fs.newLocalVarLiteral("(for step)")
	fs.newLocalVar(varName)
	fs.checkNext(token.Assign)
	fs.exp1() // initial value
	fs.checkNext(token.Comma)
	fs.exp1() // limit
	if fs.testNext(token.Comma) {
		fs.exp1() // optional step
	} else {
		fs.codeK(int(fs.freeReg), fs.intK(1))
		fs.reserveRegs(1)
	}
	fs.forBody(base, line, 1, true)
}

func (fs *funcState) forList(indexName *lstring) {
	var e expDesc
	nVars := 4 // generator, state, control, plus at least one declared
	base := int(fs.freeReg)
	fs.newLocalVarLiteral("(for generator)")
	fs.newLocalVarLiteral("(for state)")
	fs.newLocalVarLiteral("(for control)")
	fs.newLocalVar(indexName)
	for fs.testNext(token.Comma) {
		fs.newLocalVar(fs.checkName())
		nVars++
	}
	fs.checkNext(token.In)
	line := fs.x.lineNumber
	nExps := fs.expList(&e)
	fs.adjustAssign(3, nExps, &e)
	fs.checkStack(3) // extra space to call the generator
	fs.forBody(base, line, nVars-3, false)
}

func (fs *funcState) forStat(line int) {
	var bl blockCnt
	fs.enterBlock(&bl, true)
	fs.x.next()
	varName := fs.checkName()
	switch fs.x.t.t {
	case token.Assign:
		fs.forNum(varName, line)
	case token.Comma, token.In:
		fs.forList(varName)
	default:
		fs.x.syntaxError("'=' or 'in' expected")
	}
	fs.checkMatch(token.End, token.For, line)
	fs.leaveBlock()
}

func (fs *funcState) testThenBlock(escapeList *int) {
	var bl blockCnt
	var jf int // false-branch jump
	fs.x.next()
	var v expDesc
	fs.expr(&v)
	fs.checkNext(token.Then)
	if fs.x.t.t == token.Goto || fs.x.t.t == token.Break {
		// "if x then goto/break": jump around the goto when false
		fs.goIfFalse(&v)
		fs.enterBlock(&bl, false)
		fs.gotoStat(v.trueJumps)
		fs.skipNoOpStat()
		if fs.blockFollow(false) {
			fs.leaveBlock()
			return // the goto is the whole block
		}
		jf = fs.jump()
	} else {
		fs.goIfTrue(&v)
		fs.enterBlock(&bl, false)
		jf = v.falseJumps
	}
	fs.statList()
	fs.leaveBlock()
	if fs.x.t.t == token.Else || fs.x.t.t == token.Elseif {
		fs.concatJumpLists(escapeList, fs.jump())
	}
	fs.patchToHere(jf)
}

func (fs *funcState) ifStat(line int) {
	escapeList := noJump
	fs.testThenBlock(&escapeList)
	for fs.x.t.t == token.Elseif {
		fs.testThenBlock(&escapeList)
	}
	if fs.testNext(token.Else) {
		fs.block()
	}
	fs.checkMatch(token.End, token.If, line)
	fs.patchToHere(escapeList)
}

func (fs *funcState) localFunc() {
	fs.newLocalVar(fs.checkName())
	fs.adjustLocalVars(1) // the function can use itself recursively
	var b expDesc
	fs.body(&b, false, fs.x.lineNumber)
	// debug information only sees the variable after the body
	fs.getLocVar(b.info).startPC = int32(fs.pc)
}

func (fs *funcState) localStat() {
	nVars := 0
	for {
		fs.newLocalVar(fs.checkName())
		nVars++
		if !fs.testNext(token.Comma) {
			break
		}
	}
	var e expDesc
	var nExps int
	if fs.testNext(token.Assign) {
		nExps = fs.expList(&e)
	} else {
		e.kind = expVoid
	}
	fs.adjustAssign(nVars, nExps, &e)
	fs.adjustLocalVars(nVars)
}

func (fs *funcState) funcName(v *expDesc) bool {
	// funcname -> NAME { '.' NAME } [ ':' NAME ]
	fs.singleVar(v)
	for fs.x.t.t == token.Dot {
		fs.fieldSel(v)
	}
	if fs.x.t.t == token.Colon {
		fs.fieldSel(v)
		return true
	}
	return false
}

func (fs *funcState) funcStat(line int) {
	fs.x.next()
	var v, b expDesc
	isMethod := fs.funcName(&v)
	fs.body(&b, isMethod, line)
	fs.storeVar(&v, &b)
	fs.fixLine(line)
}

func (fs *funcState) exprStat() {
	var lh lhsAssign
	fs.suffixedExp(&lh.v)
	if fs.x.t.t == token.Assign || fs.x.t.t == token.Comma {
		fs.assignment(&lh, 1)
	} else {
		if lh.v.kind != expCall {
			fs.x.syntaxError("syntax error")
		}
		fs.f.code[lh.v.info].setC(1) // call statement uses no results
	}
}

func (fs *funcState) retStat() {
	var e expDesc
	first, nRet := 0, 0
	if fs.blockFollow(true) || fs.x.t.t == token.Semicolon {
		first, nRet = 0, 0
	} else {
		nRet = fs.expList(&e)
		if e.kind == expCall || e.kind == expVararg {
			fs.setMultRet(&e)
			if e.kind == expCall && nRet == 1 {
				// tail call the single call expression
				fs.f.code[e.info].setOpcode(opTailCall)
			}
			first = int(fs.nactvar)
			nRet = MultipleReturns
		} else {
			if nRet == 1 {
				first = fs.exp2AnyReg(&e)
			} else {
				fs.exp2NextReg(&e)
				first = int(fs.nactvar)
			}
		}
	}
	fs.ret(first, nRet)
	fs.testNext(token.Semicolon)
}

func (fs *funcState) statement() {
	line := fs.x.lineNumber
	fs.enterLevel()
	switch fs.x.t.t {
	case token.Semicolon:
		fs.x.next()
	case token.If:
		fs.ifStat(line)
	case token.While:
		fs.whileStat(line)
	case token.Do:
		fs.x.next()
		fs.block()
		fs.checkMatch(token.End, token.Do, line)
	case token.For:
		fs.forStat(line)
	case token.Repeat:
		fs.repeatStat(line)
	case token.Function:
		fs.funcStat(line)
	case token.Local:
		fs.x.next()
		if fs.testNext(token.Function) {
			fs.localFunc()
		} else {
			fs.localStat()
		}
	case token.DoubleColon:
		fs.x.next()
		fs.labelStat(fs.checkName(), line)
	case token.Return:
		fs.x.next()
		fs.retStat()
	case token.Break, token.Goto:
		fs.gotoStat(fs.jump())
	default:
		fs.exprStat()
	}
	fs.freeReg = fs.nactvar // free temporary registers
	fs.leaveLevel()
}

func (fs *funcState) statList() {
	for !fs.blockFollow(true) {
		if fs.x.t.t == token.Return {
			fs.statement()
			return // 'return' must be the last statement
		}
		fs.statement()
	}
}
