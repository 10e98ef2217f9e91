package lune

import "math"

// getTableValue evaluates t[key] into stack[dest], following the
// __index chain: a missing metatable (or a cached absence) makes a raw
// miss authoritative; otherwise the handler may be a function or a
// further table. The chain is bounded to catch runaway loops.
func (l *State) getTableValue(t, key value, dest int) {
	for loop := 0; loop < maxMetaLoop; loop++ {
		var tm value
		if t.isTable() {
			tbl := t.table()
			raw := tbl.get(key)
			if !raw.isNil() {
				l.stack[dest] = raw
				return
			}
			tm = l.g.fastMeta(tbl.meta, metaIndex)
			if tm.isNil() {
				l.stack[dest] = nilValue
				return
			}
		} else {
			tm = l.metaOf(t, metaIndex)
			if tm.isNil() {
				l.typeError(t, "index")
			}
		}
		if tm.isFunction() {
			l.callMetaBinary(tm, t, key, dest)
			return
		}
		t = tm
	}
	l.runError("'__index' chain too long; possible loop")
}

// setTableValue evaluates t[key] = v with __newindex dispatch. An
// existing entry short-circuits the metamethod.
func (l *State) setTableValue(t, key, v value) {
	for loop := 0; loop < maxMetaLoop; loop++ {
		if t.isTable() {
			tbl := t.table()
			if slot := tbl.getSlot(normalizeKey(key)); slot != nil && !(*slot).isNil() {
				*slot = v
				l.tableBarrierBack(tbl)
				return
			}
			tm := l.g.fastMeta(tbl.meta, metaNewIndex)
			if tm.isNil() {
				l.tableSet(tbl, key, v)
				tbl.invalidateCache()
				l.tableBarrierBack(tbl)
				return
			}
			if tm.isFunction() {
				l.callMetaTernary(tm, t, key, v)
				return
			}
			t = tm
			continue
		}
		tm := l.metaOf(t, metaNewIndex)
		if tm.isNil() {
			l.typeError(t, "index")
		}
		if tm.isFunction() {
			l.callMetaTernary(tm, t, key, v)
			return
		}
		t = tm
	}
	l.runError("'__newindex' chain too long; possible loop")
}

func canBeConcatenated(v value) bool {
	return v.isString() || v.isNumber()
}

func concatPart(v value) string {
	if v.isString() {
		return v.str().bytes
	}
	return numberToString(v)
}

const maxStringLength = math.MaxInt32

// concat folds the total topmost stack values with .. semantics,
// collapsing runs of strings and numbers in one pass and dispatching
// __concat otherwise.
func (l *State) concat(total int) {
	for total > 1 {
		top := l.top
		n := 2
		if !canBeConcatenated(l.stack[top-2]) || !canBeConcatenated(l.stack[top-1]) {
			l.tryBinaryMeta(l.stack[top-2], l.stack[top-1], top-2, metaConcat)
		} else {
			// collapse every concatenable value below the top
			for n < total && canBeConcatenated(l.stack[top-n-1]) {
				n++
			}
			length := 0
			for i := 0; i < n; i++ {
				length += len(concatPart(l.stack[top-n+i]))
				if length > maxStringLength {
					l.runError("string length overflow")
				}
			}
			buf := make([]byte, 0, length)
			for i := 0; i < n; i++ {
				buf = append(buf, concatPart(l.stack[top-n+i])...)
			}
			l.stack[top-n] = vObject(l.newString(string(buf)))
		}
		total -= n - 1
		l.top -= n - 1
	}
}

// floatToIntegerMode rounds f per mode: 0 exact, 1 floor, 2 ceil.
func floatToIntegerMode(f float64, mode int) (int64, bool) {
	switch mode {
	case 1:
		f = math.Floor(f)
	case 2:
		f = math.Ceil(f)
	}
	return floatToInteger(f)
}

// forLimit converts a numeric for limit to an integer, clamping
// unreachable limits; stopNow signals an empty loop.
func (l *State) forLimit(v value, step int64) (limit int64, stopNow bool, isInt bool) {
	mode := 1
	if step < 0 {
		mode = 2
	}
	switch {
	case v.isInteger():
		return v.n, false, true
	case v.isFloat():
		if i, ok := floatToIntegerMode(v.f, mode); ok {
			return i, false, true
		}
	default:
		n, ok := toNumberValue(v)
		if !ok {
			l.runError("'for' limit must be a number")
		}
		v = n
		if v.isInteger() {
			return v.n, false, true
		}
		if i, ok := floatToIntegerMode(v.f, mode); ok {
			return i, false, true
		}
	}
	// out-of-range float limit: clamp
	if v.numberAsFloat() > 0 {
		return math.MaxInt64, step < 0, true
	}
	return math.MinInt64, step > 0, true
}

// int2fb converts an int to a "floating point byte" (eeeeexxx):
// (1xxx)*2^(eeeee-1) when eeeee > 0.
func int2fb(x int) int {
	e := 0
	if x < 8 {
		return x
	}
	for x >= 8<<4 { // coarse steps
		x = (x + 0xf) >> 4
		e += 4
	}
	for x >= 8<<1 {
		x = (x + 1) >> 1
		e++
	}
	return ((e + 1) << 3) | (x - 8)
}

func fb2int(x int) int {
	if x < 8 {
		return x
	}
	return ((x & 7) + 8) << uint((x>>3)-1)
}

// finishOp completes the instruction interrupted by a yield inside a
// metamethod: the metamethod's result is on top of the stack.
func (l *State) finishOp() {
	ci := l.ci
	base := ci.base
	inst := l.stack[ci.function].closure().p.code[ci.savedPC-1]
	switch op := inst.opcode(); op {
	case opAdd, opSub, opMul, opMod, opPow, opDiv, opIDiv,
		opBAnd, opBOr, opBXor, opShl, opShr,
		opUnm, opBNot, opLen,
		opGetTabUp, opGetTable, opSelf:
		l.top--
		l.stack[base+inst.a()] = l.stack[l.top]
	case opLE, opLT, opEq:
		res := !l.stack[l.top-1].isFalse()
		l.top--
		if ci.callStatus&cistLEQ != 0 {
			// the "less equal" was emulated with a swapped "less than"
			res = !res
			ci.callStatus &^= cistLEQ
		}
		if boolToInt(res) != inst.a() {
			ci.savedPC++
		}
	case opConcat:
		top := l.top - 1 // top when the metamethod was called
		b := inst.b()
		total := top - 1 - (base + b)
		l.stack[top-2] = l.stack[top]
		if total > 1 {
			l.top = top - 1
			l.concat(total)
		}
		l.stack[base+inst.a()] = l.stack[l.top-1]
		l.top = ci.top
	case opTForCall:
		l.top = ci.top
	case opCall:
		if inst.c()-1 >= 0 {
			l.top = ci.top
		}
	case opTailCall, opSetTabUp, opSetTable:
		// nothing to finish
	}
}

const cistLEQ = uint16(1) << 9 // frame is emulating __le with __lt

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// vmRun is the fetch-decode-execute loop: it runs the current frame and
// every scripted frame it calls, returning when the entry frame does.
func (l *State) vmRun() {
	ci := l.ci
	ci.callStatus |= cistFresh
newFrame:
	cl := l.stack[ci.function].closure()
	p := cl.p
	base := ci.base
	k := p.k
	for {
		i := p.code[ci.savedPC]
		ci.savedPC++
		if l.hookMask&(MaskLine|MaskCount) != 0 {
			l.traceExec()
		}
		ra := base + i.a()

		// rk resolves a register-or-constant operand
		rk := func(x int) value {
			if isConstant(x) {
				return k[constantIndex(x)]
			}
			return l.stack[base+x]
		}

		switch i.opcode() {
		case opMove:
			l.stack[ra] = l.stack[base+i.b()]

		case opLoadK:
			l.stack[ra] = k[i.bx()]

		case opLoadKX:
			next := p.code[ci.savedPC]
			ci.savedPC++
			l.stack[ra] = k[next.ax()]

		case opLoadBool:
			l.stack[ra] = vBoolean(i.b() != 0)
			if i.c() != 0 {
				ci.savedPC++ // skip next instruction
			}

		case opLoadNil:
			for n := i.b(); n >= 0; n-- {
				l.stack[ra+n] = nilValue
			}

		case opGetUpval:
			l.stack[ra] = cl.upvals[i.b()].get()

		case opGetTabUp:
			l.getTableValue(cl.upvals[i.b()].get(), rk(i.c()), ra)
			base = ci.base

		case opGetTable:
			l.getTableValue(l.stack[base+i.b()], rk(i.c()), ra)
			base = ci.base

		case opSetTabUp:
			l.setTableValue(cl.upvals[i.a()].get(), rk(i.b()), rk(i.c()))
			base = ci.base

		case opSetUpval:
			uv := cl.upvals[i.b()]
			uv.set(l.stack[ra])
			l.upvalBarrier(uv)

		case opSetTable:
			l.setTableValue(l.stack[ra], rk(i.b()), rk(i.c()))
			base = ci.base

		case opNewTable:
			t := newTable(l, fb2int(i.b()), fb2int(i.c()))
			l.stack[ra] = vObject(t)
			l.top = ra + 1
			l.gcCheck()
			l.top = ci.top

		case opSelf:
			rb := l.stack[base+i.b()]
			l.stack[ra+1] = rb
			l.getTableValue(rb, rk(i.c()), ra)
			base = ci.base

		case opAdd, opSub, opMul, opMod, opPow, opDiv, opIDiv,
			opBAnd, opBOr, opBXor, opShl, opShr:
			op := ArithOp(i.opcode() - opAdd)
			rb, rc := rk(i.b()), rk(i.c())
			if rb.isInteger() && rc.isInteger() &&
				op != OpDiv && op != OpPow {
				l.stack[ra] = vInteger(l.intArith(op, rb.n, rc.n))
			} else if rb.isNumber() && rc.isNumber() &&
				op != OpBAnd && op != OpBOr && op != OpBXor && op != OpShl && op != OpShr {
				l.stack[ra] = vFloat(floatArith(op, rb.numberAsFloat(), rc.numberAsFloat()))
			} else {
				l.arith(op, rb, rc, ra)
				base = ci.base
			}

		case opUnm:
			rb := l.stack[base+i.b()]
			switch {
			case rb.isInteger():
				l.stack[ra] = vInteger(-rb.n)
			case rb.isFloat():
				l.stack[ra] = vFloat(-rb.f)
			default:
				if n, ok := toNumberValue(rb); ok {
					if n.isInteger() {
						l.stack[ra] = vInteger(-n.n)
					} else {
						l.stack[ra] = vFloat(-n.f)
					}
				} else {
					l.tryBinaryMeta(rb, rb, ra, metaUnm)
					base = ci.base
				}
			}

		case opBNot:
			rb := l.stack[base+i.b()]
			if n, ok := toIntegerValue(rb); ok {
				l.stack[ra] = vInteger(^n)
			} else {
				l.tryBinaryMeta(rb, rb, ra, metaBNot)
				base = ci.base
			}

		case opNot:
			l.stack[ra] = vBoolean(l.stack[base+i.b()].isFalse())

		case opLen:
			l.objectLength(l.stack[base+i.b()], ra)
			base = ci.base

		case opConcat:
			b, c := i.b(), i.c()
			l.top = base + c + 1
			l.concat(c - b + 1)
			base = ci.base
			l.stack[base+i.a()] = l.stack[base+b]
			l.top = base + b + 1
			if base+i.a() >= l.top {
				l.top = base + i.a() + 1
			}
			l.gcCheck()
			l.top = ci.top

		case opJump:
			l.doJump(ci, i, 0)

		case opEq:
			cond := l.equalValues(rk(i.b()), rk(i.c()))
			base = ci.base
			if boolToInt(cond) != i.a() {
				ci.savedPC++
			} else {
				l.doNextJump(ci, p)
			}

		case opLT:
			cond := l.lessThan(rk(i.b()), rk(i.c()))
			base = ci.base
			if boolToInt(cond) != i.a() {
				ci.savedPC++
			} else {
				l.doNextJump(ci, p)
			}

		case opLE:
			cond := l.lessEqual(rk(i.b()), rk(i.c()))
			base = ci.base
			if boolToInt(cond) != i.a() {
				ci.savedPC++
			} else {
				l.doNextJump(ci, p)
			}

		case opTest:
			if (i.c() != 0) == l.stack[ra].isFalse() {
				ci.savedPC++
			} else {
				l.doNextJump(ci, p)
			}

		case opTestSet:
			rb := l.stack[base+i.b()]
			if (i.c() != 0) == rb.isFalse() {
				ci.savedPC++
			} else {
				l.stack[ra] = rb
				l.doNextJump(ci, p)
			}

		case opCall:
			b := i.b()
			nResults := i.c() - 1
			if b != 0 {
				l.top = ra + b
			}
			if l.preCall(ra, nResults) {
				if nResults >= 0 {
					l.top = ci.top
				}
				base = ci.base
			} else {
				ci = l.ci
				goto newFrame
			}

		case opTailCall:
			if b := i.b(); b != 0 {
				l.top = ra + b
			}
			if l.preCall(ra, MultipleReturns) {
				base = ci.base
			} else {
				// reuse the caller's frame in place: tail recursion
				// consumes no stack
				nci := l.ci
				oci := nci.prev
				nfunc := nci.function
				ofunc := oci.function
				np := l.stack[nfunc].closure().p
				lim := nci.base + int(np.numParams)
				if len(p.protos) > 0 {
					l.closeUpvalues(oci.base)
				}
				for aux := 0; nfunc+aux < lim; aux++ {
					l.stack[ofunc+aux] = l.stack[nfunc+aux]
				}
				oci.base = ofunc + (nci.base - nfunc)
				oci.top = ofunc + (l.top - nfunc)
				l.top = oci.top
				oci.savedPC = nci.savedPC
				oci.callStatus |= cistTail
				l.ci = oci
				ci = oci
				goto newFrame
			}

		case opReturn:
			b := i.b()
			if len(p.protos) > 0 {
				l.closeUpvalues(base)
			}
			nres := b - 1
			if b == 0 {
				nres = l.top - ra
			}
			fixed := l.postCall(ci, ra, nres)
			if ci.callStatus&cistFresh != 0 {
				return
			}
			ci = l.ci
			if fixed {
				l.top = ci.top
			}
			goto newFrame

		case opForLoop:
			if l.stack[ra].isInteger() {
				step := l.stack[ra+2].integer()
				idx := l.stack[ra].integer() + step
				limit := l.stack[ra+1].integer()
				if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
					ci.savedPC += i.sbx()
					l.stack[ra] = vInteger(idx)
					l.stack[ra+3] = vInteger(idx)
				}
			} else {
				step := l.stack[ra+2].float()
				idx := l.stack[ra].float() + step
				limit := l.stack[ra+1].float()
				if (step > 0 && idx <= limit) || (step <= 0 && limit <= idx) {
					ci.savedPC += i.sbx()
					l.stack[ra] = vFloat(idx)
					l.stack[ra+3] = vFloat(idx)
				}
			}

		case opForPrep:
			init, limit, step := l.stack[ra], l.stack[ra+1], l.stack[ra+2]
			if init.isInteger() && step.isInteger() {
				if step.n == 0 {
					l.runError("'for' step is zero")
				}
				ilimit, stopNow, _ := l.forLimit(limit, step.n)
				iinit := init.n
				if stopNow {
					iinit = 0
				}
				l.stack[ra+1] = vInteger(ilimit)
				l.stack[ra] = vInteger(iinit - step.n)
			} else {
				ninit, ok1 := toNumberValue(init)
				nlimit, ok2 := toNumberValue(limit)
				nstep, ok3 := toNumberValue(step)
				if !ok2 {
					l.runError("'for' limit must be a number")
				}
				if !ok1 {
					l.runError("'for' initial value must be a number")
				}
				if !ok3 {
					l.runError("'for' step must be a number")
				}
				if nstep.numberAsFloat() == 0 {
					l.runError("'for' step is zero")
				}
				l.stack[ra+1] = vFloat(nlimit.numberAsFloat())
				l.stack[ra+2] = vFloat(nstep.numberAsFloat())
				l.stack[ra] = vFloat(ninit.numberAsFloat() - nstep.numberAsFloat())
			}
			ci.savedPC += i.sbx()

		case opTForCall:
			cb := ra + 3 // call base
			l.stack[cb+2] = l.stack[ra+2]
			l.stack[cb+1] = l.stack[ra+1]
			l.stack[cb] = l.stack[ra]
			l.top = cb + 3
			l.callInternal(cb, i.c())
			base = ci.base
			l.top = ci.top
			// the loop instruction follows immediately
			i = p.code[ci.savedPC]
			ci.savedPC++
			ra = base + i.a()
			fallthrough

		case opTForLoop:
			if !l.stack[ra+1].isNil() {
				l.stack[ra] = l.stack[ra+1]
				ci.savedPC += i.sbx()
			}

		case opSetList:
			n := i.b()
			c := i.c()
			if n == 0 {
				n = l.top - ra - 1
			}
			if c == 0 {
				next := p.code[ci.savedPC]
				ci.savedPC++
				c = next.ax()
			}
			h := l.stack[ra].table()
			last := (c-1)*fieldsPerFlush + n
			if last > len(h.array) {
				// preallocate in one go; no intermediate rehash
				l.tableResize(h, last, len(h.node))
			}
			for ; n > 0; n-- {
				l.tableSetInt(h, int64(last), l.stack[ra+n])
				last--
			}
			l.tableBarrierBack(h)
			l.top = ci.top

		case opClosure:
			l.pushClosure(p.protos[i.bx()], cl.upvals, base, ra)
			l.top = ra + 1
			l.gcCheck()
			l.top = ci.top

		case opVararg:
			b := i.b() - 1
			n := base - ci.function - int(p.numParams) - 1
			if n < 0 {
				n = 0
			}
			if b < 0 {
				b = n
				l.checkStackSpace(n)
				l.top = ra + n
			}
			for j := 0; j < b; j++ {
				if j < n {
					l.stack[ra+j] = l.stack[base-n+j]
				} else {
					l.stack[ra+j] = nilValue
				}
			}

		case opExtraArg:
			panic("unexpected extra argument instruction")
		}
	}
}

func (l *State) doJump(ci *callInfo, i instruction, e int) {
	if a := i.a(); a != 0 {
		l.closeUpvalues(ci.base + a - 1)
	}
	ci.savedPC += i.sbx() + e
}

func (l *State) doNextJump(ci *callInfo, p *proto) {
	ni := p.code[ci.savedPC]
	l.doJump(ci, ni, 1)
}
