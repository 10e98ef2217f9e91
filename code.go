package lune

import "math"

// Expression descriptors. A sub-expression is classified and code is
// emitted only when the descriptor is discharged into a register or a
// specific target; this is what lets the compiler fold constants, pick
// register-or-constant operands and thread short-circuit jump lists.
type expKind int

const (
	expVoid expKind = iota
	expNil
	expTrue
	expFalse
	expConstant // info = constant index
	expFloat    // nval = literal
	expInt      // ival = literal
	expNonReloc // info = fixed register with the value
	expLocal    // info = local register
	expUpval    // info = upvalue index
	expIndexed  // indexed access, see ind fields
	expJump     // info = pc of a test/jump pair
	expReloc    // info = pc of an instruction with unset target
	expCall     // info = pc of the call instruction
	expVararg   // info = pc of the vararg instruction
)

const noJump = -1

type expDesc struct {
	kind expKind
	ival int64
	nval float64
	info int

	// indexed access
	indTable   int  // register or upvalue index of the table
	indKey     int  // register/constant index of the key
	indOnUpval bool // table lives in an upvalue, not a register

	trueJumps  int // patch list: "exit when true"
	falseJumps int // patch list: "exit when false"
}

func (e *expDesc) init(k expKind, info int) {
	e.kind = k
	e.info = info
	e.trueJumps = noJump
	e.falseJumps = noJump
}

func (e *expDesc) hasJumps() bool {
	return e.trueJumps != e.falseJumps
}

// isNumeral reports a literal with no pending jumps: a folding
// candidate.
func (e *expDesc) isNumeral() bool {
	return (e.kind == expInt || e.kind == expFloat) &&
		e.trueJumps == noJump && e.falseJumps == noJump
}

// blockCnt tracks one syntactic block for scoping and break/goto
// resolution.
type blockCnt struct {
	previous   *blockCnt
	firstLabel int
	firstGoto  int
	nactvar    uint8
	hasUpval   bool // block has a local captured as an upvalue
	isLoop     bool
}

// funcState holds per-function compilation state: the growing
// prototype, the free-register frontier, pending jumps and the constant
// cache.
type funcState struct {
	f          *proto
	prev       *funcState
	x          *lexer
	p          *parserState
	bl         *blockCnt
	pc         int // next instruction slot
	lastTarget int // label of the last jump target
	jpc        int // jumps to the next instruction to be emitted
	nk         int
	np         int
	firstLocal int
	nactvar    uint8
	freeReg    uint8
	kcache     map[value]int
}

const maxRegisters = maxArgA // addressable registers per function

func (fs *funcState) l() *State { return fs.x.l }

// code appends an instruction, resolving jumps that were waiting on
// this position.
func (fs *funcState) code(i instruction, line int) int {
	fs.dischargeJPC()
	f := fs.f
	f.code = growVector(fs.l(), f.code, fs.pc, maxInt, "opcodes")
	f.code[fs.pc] = i
	f.lineInfo = growVector(fs.l(), f.lineInfo, fs.pc, maxInt, "opcodes")
	f.lineInfo[fs.pc] = int32(line)
	fs.pc++
	return fs.pc - 1
}

func (fs *funcState) codeABC(op opCode, a, b, c int) int {
	return fs.code(createABC(op, a, b, c), fs.x.lastLine)
}

func (fs *funcState) codeABx(op opCode, a, bx int) int {
	return fs.code(createABx(op, a, bx), fs.x.lastLine)
}

func (fs *funcState) codeAsBx(op opCode, a, sbx int) int {
	return fs.codeABx(op, a, sbx+maxArgSBx)
}

// codeExtraArg emits the extension word for loadkx/setlist.
func (fs *funcState) codeExtraArg(ax int) int {
	return fs.code(createAx(opExtraArg, ax), fs.x.lastLine)
}

// codeK loads constant k into reg, spilling to loadkx for large pools.
func (fs *funcState) codeK(reg, k int) int {
	if k <= maxArgBx {
		return fs.codeABx(opLoadK, reg, k)
	}
	pc := fs.codeABx(opLoadKX, reg, 0)
	fs.codeExtraArg(k)
	return pc
}

func (fs *funcState) checkStack(n int) {
	newStack := int(fs.freeReg) + n
	if newStack > int(fs.f.maxStackSize) {
		if newStack >= maxRegisters {
			fs.x.syntaxError("function or expression needs too many registers")
		}
		fs.f.maxStackSize = uint8(newStack)
	}
}

func (fs *funcState) reserveRegs(n int) {
	fs.checkStack(n)
	fs.freeReg += uint8(n)
}

// freeRegister releases a register if it is a temporary above the
// active locals.
func (fs *funcState) freeRegister(r int) {
	if !isConstant(r) && r >= int(fs.nactvar) {
		fs.freeReg--
		if int(fs.freeReg) != r {
			panic("register deallocation out of order")
		}
	}
}

func (fs *funcState) freeExp(e *expDesc) {
	if e.kind == expNonReloc {
		fs.freeRegister(e.info)
	}
}

func (fs *funcState) freeExps(e1, e2 *expDesc) {
	r1, r2 := -1, -1
	if e1.kind == expNonReloc {
		r1 = e1.info
	}
	if e2.kind == expNonReloc {
		r2 = e2.info
	}
	if r1 > r2 {
		fs.freeExp(e1)
		fs.freeExp(e2)
	} else {
		fs.freeExp(e2)
		fs.freeExp(e1)
	}
}

// addConstant adds v to the pool, reusing an existing index for an
// equal constant.
func (fs *funcState) addConstant(key, v value) int {
	if idx, ok := fs.kcache[key]; ok {
		return idx
	}
	f := fs.f
	f.k = growVector(fs.l(), f.k, fs.nk, maxArgAx+1, "constants")
	f.k[fs.nk] = v
	fs.kcache[key] = fs.nk
	fs.nk++
	return fs.nk - 1
}

func (fs *funcState) stringK(s *lstring) int {
	v := vObject(s)
	return fs.addConstant(v, v)
}

func (fs *funcState) intK(n int64) int {
	v := vInteger(n)
	return fs.addConstant(v, v)
}

// floatK deduplicates float constants; the cache key keeps the float
// tag, so a float never shares a cache slot with an equal integer
// constant.
func (fs *funcState) floatK(n float64) int {
	v := vFloat(n)
	return fs.addConstant(value{tt: tagFloat, f: n, n: 1}, v)
}

func (fs *funcState) boolK(b bool) int {
	v := vBoolean(b)
	return fs.addConstant(v, v)
}

func (fs *funcState) nilK() int {
	// nil cannot key the cache; use an impossible stand-in
	return fs.addConstant(value{tt: tagDeadKey}, nilValue)
}

// Jump handling. Forward branches are emitted with a placeholder offset
// and chained through their own offset field until patched.

func (fs *funcState) jump() int {
	jpc := fs.jpc
	fs.jpc = noJump
	j := fs.codeAsBx(opJump, 0, noJump)
	fs.concatJumpLists(&j, jpc)
	return j
}

func (fs *funcState) ret(first, nret int) {
	fs.codeABC(opReturn, first, nret+1, 0)
}

func (fs *funcState) condJump(op opCode, a, b, c int) int {
	fs.codeABC(op, a, b, c)
	return fs.jump()
}

func (fs *funcState) fixJump(pc, dest int) {
	offset := dest - (pc + 1)
	if offset < -maxArgSBx || offset > maxArgSBx {
		fs.x.syntaxError("control structure too long")
	}
	fs.f.code[pc].setSBx(offset)
}

// getLabel marks the next position as a jump target, keeping the
// peephole from folding across it.
func (fs *funcState) getLabel() int {
	fs.lastTarget = fs.pc
	return fs.pc
}

func (fs *funcState) getJump(pc int) int {
	offset := fs.f.code[pc].sbx()
	if offset == noJump {
		return noJump
	}
	return pc + 1 + offset
}

// getJumpControl returns the instruction controlling a jump: the
// preceding test when there is one.
func (fs *funcState) getJumpControl(pc int) *instruction {
	if pc >= 1 && opModes[fs.f.code[pc-1].opcode()].test {
		return &fs.f.code[pc-1]
	}
	return &fs.f.code[pc]
}

// patchTestReg updates the destination register of a testset; when the
// value is unused the test degrades to a plain test.
func (fs *funcState) patchTestReg(node, reg int) bool {
	i := fs.getJumpControl(node)
	if i.opcode() != opTestSet {
		return false
	}
	if reg != noRegister && reg != i.b() {
		i.setA(reg)
	} else {
		*i = createABC(opTest, i.b(), 0, i.c())
	}
	return true
}

const noRegister = maxArgA

func (fs *funcState) removeValues(list int) {
	for ; list != noJump; list = fs.getJump(list) {
		fs.patchTestReg(list, noRegister)
	}
}

func (fs *funcState) patchListAux(list, vtarget, reg, dtarget int) {
	for list != noJump {
		next := fs.getJump(list)
		if fs.patchTestReg(list, reg) {
			fs.fixJump(list, vtarget)
		} else {
			fs.fixJump(list, dtarget)
		}
		list = next
	}
}

func (fs *funcState) dischargeJPC() {
	fs.patchListAux(fs.jpc, fs.pc, noRegister, fs.pc)
	fs.jpc = noJump
}

func (fs *funcState) patchList(list, target int) {
	if target == fs.pc {
		fs.patchToHere(list)
		return
	}
	fs.patchListAux(list, target, noRegister, target)
}

func (fs *funcState) patchToHere(list int) {
	fs.getLabel()
	fs.concatJumpLists(&fs.jpc, list)
}

// patchClose makes every jump on the list also close upvalues down to
// the given level.
func (fs *funcState) patchClose(list, level int) {
	level++ // argument is encoded +1 to distinguish "no close"
	for ; list != noJump; list = fs.getJump(list) {
		fs.f.code[list].setA(level)
	}
}

// concatJumpLists appends l2 to the list rooted at *l1.
func (fs *funcState) concatJumpLists(l1 *int, l2 int) {
	if l2 == noJump {
		return
	}
	if *l1 == noJump {
		*l1 = l2
		return
	}
	list := *l1
	for {
		next := fs.getJump(list)
		if next == noJump {
			break
		}
		list = next
	}
	fs.fixJump(list, l2)
}

// setReturns adjusts a call or vararg expression to produce nResults
// values.
func (fs *funcState) setReturns(e *expDesc, nResults int) {
	if e.kind == expCall {
		fs.f.code[e.info].setC(nResults + 1)
	} else if e.kind == expVararg {
		i := &fs.f.code[e.info]
		i.setB(nResults + 1)
		i.setA(int(fs.freeReg))
		fs.reserveRegs(1)
	}
}

func (fs *funcState) setMultRet(e *expDesc) {
	fs.setReturns(e, MultipleReturns)
}

func (fs *funcState) setOneRet(e *expDesc) {
	if e.kind == expCall {
		e.init(expNonReloc, fs.f.code[e.info].a())
	} else if e.kind == expVararg {
		fs.f.code[e.info].setB(2)
		e.kind = expReloc
	}
}

// codeNil emits loadnil, merging with an immediately preceding one.
func (fs *funcState) codeNil(from, n int) {
	last := from + n - 1
	if fs.pc > fs.lastTarget { // no jumps to the current position?
		previous := &fs.f.code[fs.pc-1]
		if previous.opcode() == opLoadNil {
			pfrom := previous.a()
			pl := pfrom + previous.b()
			if (pfrom <= from && from <= pl+1) || (from <= pfrom && pfrom <= last+1) {
				if pfrom < from {
					from = pfrom
				}
				if pl > last {
					last = pl
				}
				previous.setA(from)
				previous.setB(last - from)
				return
			}
		}
	}
	fs.codeABC(opLoadNil, from, n-1, 0)
}

// dischargeVars turns variable references into values.
func (fs *funcState) dischargeVars(e *expDesc) {
	switch e.kind {
	case expLocal:
		e.kind = expNonReloc
	case expUpval:
		e.info = fs.codeABC(opGetUpval, 0, e.info, 0)
		e.kind = expReloc
	case expIndexed:
		fs.freeRegister(e.indKey)
		if e.indOnUpval {
			e.info = fs.codeABC(opGetTabUp, 0, e.indTable, e.indKey)
		} else {
			fs.freeRegister(e.indTable)
			e.info = fs.codeABC(opGetTable, 0, e.indTable, e.indKey)
		}
		e.kind = expReloc
	case expVararg, expCall:
		fs.setOneRet(e)
	}
}

func (fs *funcState) discharge2Reg(e *expDesc, reg int) {
	fs.dischargeVars(e)
	switch e.kind {
	case expNil:
		fs.codeNil(reg, 1)
	case expFalse:
		fs.codeABC(opLoadBool, reg, 0, 0)
	case expTrue:
		fs.codeABC(opLoadBool, reg, 1, 0)
	case expConstant:
		fs.codeK(reg, e.info)
	case expFloat:
		fs.codeK(reg, fs.floatK(e.nval))
	case expInt:
		fs.codeK(reg, fs.intK(e.ival))
	case expReloc:
		fs.f.code[e.info].setA(reg)
	case expNonReloc:
		if reg != e.info {
			fs.codeABC(opMove, reg, e.info, 0)
		}
	default:
		return // jump expressions handled by exp2reg
	}
	e.init(expNonReloc, reg)
}

func (fs *funcState) discharge2AnyReg(e *expDesc) {
	if e.kind != expNonReloc {
		fs.reserveRegs(1)
		fs.discharge2Reg(e, int(fs.freeReg)-1)
	}
}

func (fs *funcState) codeLoadBool(a, b, jump int) int {
	fs.getLabel() // these instructions may be jump targets
	return fs.codeABC(opLoadBool, a, b, jump)
}

// needValue reports whether the jump list contains a plain jump with no
// associated test, which then needs a materialized boolean.
func (fs *funcState) needValue(list int) bool {
	for ; list != noJump; list = fs.getJump(list) {
		if fs.getJumpControl(list).opcode() != opTestSet {
			return true
		}
	}
	return false
}

func (fs *funcState) exp2reg(e *expDesc, reg int) {
	fs.discharge2Reg(e, reg)
	if e.kind == expJump {
		fs.concatJumpLists(&e.trueJumps, e.info)
	}
	if e.hasJumps() {
		pf := noJump // position of an eventual "load false"
		pt := noJump // position of an eventual "load true"
		if fs.needValue(e.trueJumps) || fs.needValue(e.falseJumps) {
			fj := noJump
			if e.kind != expJump {
				fj = fs.jump()
			}
			pf = fs.codeLoadBool(reg, 0, 1)
			pt = fs.codeLoadBool(reg, 1, 0)
			fs.patchToHere(fj)
		}
		final := fs.getLabel()
		fs.patchListAux(e.falseJumps, final, reg, pf)
		fs.patchListAux(e.trueJumps, final, reg, pt)
	}
	e.trueJumps = noJump
	e.falseJumps = noJump
	e.init(expNonReloc, reg)
}

func (fs *funcState) exp2NextReg(e *expDesc) {
	fs.dischargeVars(e)
	fs.freeExp(e)
	fs.reserveRegs(1)
	fs.exp2reg(e, int(fs.freeReg)-1)
}

func (fs *funcState) exp2AnyReg(e *expDesc) int {
	fs.dischargeVars(e)
	if e.kind == expNonReloc {
		if !e.hasJumps() {
			return e.info
		}
		if e.info >= int(fs.nactvar) { // reg is not a local?
			fs.exp2reg(e, e.info)
			return e.info
		}
	}
	fs.exp2NextReg(e)
	return e.info
}

func (fs *funcState) exp2AnyRegUp(e *expDesc) {
	if e.kind != expUpval || e.hasJumps() {
		fs.exp2AnyReg(e)
	}
}

func (fs *funcState) exp2Val(e *expDesc) {
	if e.hasJumps() {
		fs.exp2AnyReg(e)
	} else {
		fs.dischargeVars(e)
	}
}

// exp2RK discharges e into a register or, when it is a constant that
// fits the operand, a constant-pool index.
func (fs *funcState) exp2RK(e *expDesc) int {
	fs.exp2Val(e)
	switch e.kind {
	case expTrue, expFalse, expNil:
		if fs.nk <= maxIndexRK {
			switch e.kind {
			case expNil:
				e.info = fs.nilK()
			case expTrue:
				e.info = fs.boolK(true)
			default:
				e.info = fs.boolK(false)
			}
			e.kind = expConstant
			return asConstant(e.info)
		}
	case expInt:
		if fs.nk <= maxIndexRK {
			e.info = fs.intK(e.ival)
			e.kind = expConstant
			return asConstant(e.info)
		}
	case expFloat:
		if fs.nk <= maxIndexRK {
			e.info = fs.floatK(e.nval)
			e.kind = expConstant
			return asConstant(e.info)
		}
	case expConstant:
		if e.info <= maxIndexRK {
			return asConstant(e.info)
		}
	}
	return fs.exp2AnyReg(e)
}

// storeVar generates the assignment var = e.
func (fs *funcState) storeVar(v, e *expDesc) {
	switch v.kind {
	case expLocal:
		fs.freeExp(e)
		fs.exp2reg(e, v.info)
		return
	case expUpval:
		r := fs.exp2AnyReg(e)
		fs.codeABC(opSetUpval, r, v.info, 0)
	case expIndexed:
		op := opSetTable
		if v.indOnUpval {
			op = opSetTabUp
		}
		r := fs.exp2RK(e)
		fs.codeABC(op, v.indTable, v.indKey, r)
	default:
		panic("invalid assignment target")
	}
	fs.freeExp(e)
}

// codeSelf generates the method-lookup pair for e:key(...).
func (fs *funcState) codeSelf(e, key *expDesc) {
	fs.exp2AnyReg(e)
	ereg := e.info
	fs.freeExp(e)
	e.init(expNonReloc, int(fs.freeReg))
	fs.reserveRegs(2) // function and self produced by the self op
	fs.codeABC(opSelf, e.info, ereg, fs.exp2RK(key))
	fs.freeExp(key)
}

// negateCondition inverts the test controlling a relational jump.
func (fs *funcState) negateCondition(e *expDesc) {
	i := fs.getJumpControl(e.info)
	i.setA(boolToInt(i.a() == 0))
}

func (fs *funcState) jumpOnCond(e *expDesc, cond bool) int {
	if e.kind == expReloc {
		ie := fs.f.code[e.info]
		if ie.opcode() == opNot {
			// remove the previous NOT and invert the condition
			fs.pc--
			return fs.condJump(opTest, ie.b(), 0, boolToInt(!cond))
		}
	}
	fs.discharge2AnyReg(e)
	fs.freeExp(e)
	return fs.condJump(opTestSet, noRegister, e.info, boolToInt(cond))
}

// goIfTrue arranges for control to continue here when e is true,
// collecting the false exits on e's false list.
func (fs *funcState) goIfTrue(e *expDesc) {
	fs.dischargeVars(e)
	var pc int
	switch e.kind {
	case expJump:
		fs.negateCondition(e)
		pc = e.info
	case expConstant, expFloat, expInt, expTrue:
		pc = noJump // always true: no jump out
	default:
		pc = fs.jumpOnCond(e, false)
	}
	fs.concatJumpLists(&e.falseJumps, pc)
	fs.patchToHere(e.trueJumps)
	e.trueJumps = noJump
}

func (fs *funcState) goIfFalse(e *expDesc) {
	fs.dischargeVars(e)
	var pc int
	switch e.kind {
	case expJump:
		pc = e.info
	case expNil, expFalse:
		pc = noJump // always false: no jump out
	default:
		pc = fs.jumpOnCond(e, true)
	}
	fs.concatJumpLists(&e.trueJumps, pc)
	fs.patchToHere(e.falseJumps)
	e.falseJumps = noJump
}

func (fs *funcState) codeNot(e *expDesc) {
	fs.dischargeVars(e)
	switch e.kind {
	case expNil, expFalse:
		e.kind = expTrue
	case expConstant, expFloat, expInt, expTrue:
		e.kind = expFalse
	case expJump:
		fs.negateCondition(e)
	case expReloc, expNonReloc:
		fs.discharge2AnyReg(e)
		fs.freeExp(e)
		e.info = fs.codeABC(opNot, 0, e.info, 0)
		e.kind = expReloc
	}
	e.trueJumps, e.falseJumps = e.falseJumps, e.trueJumps
	fs.removeValues(e.falseJumps)
	fs.removeValues(e.trueJumps)
}

// codeIndexed fixes e as an indexed access of table t with key k.
func (fs *funcState) codeIndexed(t, k *expDesc) {
	t.indKey = fs.exp2RK(k)
	if t.kind == expUpval {
		t.indTable = t.info
		t.indOnUpval = true
	} else {
		t.indTable = t.info
		t.indOnUpval = false
	}
	t.kind = expIndexed
}

// foldArith evaluates a constant operation at compile time. Folds that
// would raise (zero divisors) or change observable float behavior (NaN,
// negative zero) are refused.
func foldArith(op ArithOp, v1, v2 value) (value, bool) {
	switch op {
	case OpBAnd, OpBOr, OpBXor, OpShl, OpShr, OpBNot:
		i1, ok1 := toIntegerValue(v1)
		i2, ok2 := toIntegerValue(v2)
		if !ok1 || !ok2 {
			return nilValue, false
		}
		return vInteger(pureIntArith(op, i1, i2)), true
	case OpDiv, OpPow:
		if !v1.isNumber() || !v2.isNumber() {
			return nilValue, false
		}
		r := floatArith(op, v1.numberAsFloat(), v2.numberAsFloat())
		if math.IsNaN(r) || r == 0 {
			return nilValue, false
		}
		return vFloat(r), true
	case OpIDiv, OpMod:
		if v1.isInteger() && v2.isInteger() {
			if v2.n == 0 {
				return nilValue, false
			}
			return vInteger(pureIntArith(op, v1.n, v2.n)), true
		}
		if !v1.isNumber() || !v2.isNumber() {
			return nilValue, false
		}
		if v2.numberAsFloat() == 0 {
			return nilValue, false
		}
		r := floatArith(op, v1.numberAsFloat(), v2.numberAsFloat())
		if math.IsNaN(r) || r == 0 {
			return nilValue, false
		}
		return vFloat(r), true
	default:
		if v1.isInteger() && v2.isInteger() {
			return vInteger(pureIntArith(op, v1.n, v2.n)), true
		}
		if !v1.isNumber() || !v2.isNumber() {
			return nilValue, false
		}
		r := floatArith(op, v1.numberAsFloat(), v2.numberAsFloat())
		if math.IsNaN(r) || r == 0 {
			return nilValue, false
		}
		return vFloat(r), true
	}
}

// pureIntArith is intArith without a state: callers ruled out the zero
// divisors that would raise.
func pureIntArith(op ArithOp, a, b int64) int64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpMod:
		if b == -1 {
			return 0
		}
		r := a % b
		if r != 0 && (r^b) < 0 {
			r += b
		}
		return r
	case OpIDiv:
		if b == -1 {
			return -a
		}
		q := a / b
		if (a%b != 0) && ((a ^ b) < 0) {
			q--
		}
		return q
	case OpBAnd:
		return a & b
	case OpBOr:
		return a | b
	case OpBXor:
		return a ^ b
	case OpShl:
		return shiftLeft(a, b)
	case OpShr:
		return shiftLeft(a, -b)
	case OpUnaryMinus:
		return -a
	case OpBNot:
		return ^a
	}
	panic("unreachable fold op")
}

func (e *expDesc) literalValue() value {
	if e.kind == expInt {
		return vInteger(e.ival)
	}
	return vFloat(e.nval)
}

func (e *expDesc) setLiteral(v value) {
	if v.isInteger() {
		e.kind = expInt
		e.ival = v.n
	} else {
		e.kind = expFloat
		e.nval = v.float()
	}
}

// codeArith emits a binary or unary arithmetic instruction after trying
// constant folding.
func (fs *funcState) codeArith(op opCode, e1, e2 *expDesc, line int) {
	if e1.isNumeral() && e2.isNumeral() {
		if r, ok := foldArith(ArithOp(op-opAdd), e1.literalValue(), e2.literalValue()); ok {
			e1.setLiteral(r)
			return
		}
	}
	var o2 int
	if op != opUnm && op != opLen && op != opBNot {
		o2 = fs.exp2RK(e2)
	}
	o1 := fs.exp2RK(e1)
	if o1 > o2 {
		fs.freeExp(e1)
		fs.freeExp(e2)
	} else {
		fs.freeExp(e2)
		fs.freeExp(e1)
	}
	e1.info = fs.codeABC(op, 0, o1, o2)
	e1.kind = expReloc
	fs.fixLine(line)
}

// codeUnary folds a unary operation on a numeral when it can.
func (fs *funcState) codeUnary(op opCode, e *expDesc, line int) {
	if (op == opUnm || op == opBNot) && e.isNumeral() {
		var fop ArithOp
		if op == opUnm {
			fop = OpUnaryMinus
		} else {
			fop = OpBNot
		}
		if r, ok := foldArith(fop, e.literalValue(), e.literalValue()); ok {
			e.setLiteral(r)
			return
		}
	}
	o := fs.exp2AnyReg(e)
	fs.freeExp(e)
	e.info = fs.codeABC(op, 0, o, 0)
	e.kind = expReloc
	fs.fixLine(line)
}

// codeComparison emits the test/jump pair of a relational operator.
func (fs *funcState) codeComparison(op binOpr, e1, e2 *expDesc) {
	rk1 := fs.exp2RK(e1)
	rk2 := fs.exp2RK(e2)
	fs.freeExps(e1, e2)
	var pc int
	switch op {
	case oprNE:
		pc = fs.condJump(opEq, 0, rk1, rk2)
	case oprGT:
		pc = fs.condJump(opLT, 1, rk2, rk1)
	case oprGE:
		pc = fs.condJump(opLE, 1, rk2, rk1)
	case oprEQ:
		pc = fs.condJump(opEq, 1, rk1, rk2)
	case oprLT:
		pc = fs.condJump(opLT, 1, rk1, rk2)
	case oprLE:
		pc = fs.condJump(opLE, 1, rk1, rk2)
	}
	e1.init(expJump, pc)
}

func (fs *funcState) fixLine(line int) {
	fs.f.lineInfo[fs.pc-1] = int32(line)
}

// Binary and unary operators as the parser sees them.
type binOpr int

const (
	oprAdd binOpr = iota
	oprSub
	oprMul
	oprMod
	oprPow
	oprDiv
	oprIDiv
	oprBAnd
	oprBOr
	oprBXor
	oprShl
	oprShr
	oprConcat
	oprEQ
	oprLT
	oprLE
	oprNE
	oprGT
	oprGE
	oprAnd
	oprOr
	oprNoBinary
)

type unOpr int

const (
	oprMinus unOpr = iota
	oprBNotU
	oprNot
	oprLen
	oprNoUnary
)

// prefix applies a unary operator to e.
func (fs *funcState) prefix(op unOpr, e *expDesc, line int) {
	switch op {
	case oprMinus:
		fs.codeUnary(opUnm, e, line)
	case oprBNotU:
		fs.codeUnary(opBNot, e, line)
	case oprNot:
		fs.codeNot(e)
	case oprLen:
		fs.codeUnary(opLen, e, line)
	}
}

// infix prepares the first operand before the second is parsed.
func (fs *funcState) infix(op binOpr, e *expDesc) {
	switch op {
	case oprAnd:
		fs.goIfTrue(e)
	case oprOr:
		fs.goIfFalse(e)
	case oprConcat:
		fs.exp2NextReg(e)
	case oprAdd, oprSub, oprMul, oprMod, oprPow, oprDiv, oprIDiv,
		oprBAnd, oprBOr, oprBXor, oprShl, oprShr:
		if !e.isNumeral() {
			fs.exp2RK(e)
		}
	default:
		fs.exp2RK(e)
	}
}

// posfix combines the operands once both are parsed.
func (fs *funcState) posfix(op binOpr, e1, e2 *expDesc, line int) {
	switch op {
	case oprAnd:
		fs.dischargeVars(e2)
		fs.concatJumpLists(&e2.falseJumps, e1.falseJumps)
		*e1 = *e2
	case oprOr:
		fs.dischargeVars(e2)
		fs.concatJumpLists(&e2.trueJumps, e1.trueJumps)
		*e1 = *e2
	case oprConcat:
		fs.exp2Val(e2)
		if e2.kind == expReloc && fs.f.code[e2.info].opcode() == opConcat {
			// fold chained concats into one instruction
			fs.freeExp(e1)
			fs.f.code[e2.info].setB(e1.info)
			e1.kind = expReloc
			e1.info = e2.info
			fs.fixLine(line)
		} else {
			fs.exp2NextReg(e2)
			fs.codeArith(opConcat, e1, e2, line)
		}
	case oprAdd, oprSub, oprMul, oprMod, oprPow, oprDiv, oprIDiv,
		oprBAnd, oprBOr, oprBXor, oprShl, oprShr:
		fs.codeArith(opAdd+opCode(op-oprAdd), e1, e2, line)
	default:
		fs.codeComparison(op, e1, e2)
	}
}

// codeSetList flushes pending constructor items into the array part.
func (fs *funcState) codeSetList(base, nElems, toStore int) {
	c := (nElems-1)/fieldsPerFlush + 1
	b := toStore
	if toStore == MultipleReturns {
		b = 0
	}
	if c <= maxArgC {
		fs.codeABC(opSetList, base, b, c)
	} else if c <= maxArgAx {
		fs.codeABC(opSetList, base, b, 0)
		fs.codeExtraArg(c)
	} else {
		fs.x.syntaxError("constructor too long")
	}
	fs.freeReg = uint8(base + 1) // free registers with list values
}
