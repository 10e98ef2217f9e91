package lune

// thrownError is the non-local escape payload: control unwinds through
// any number of scripted and host frames to the nearest protection
// record. The error object itself travels on the thread's stack.
type thrownError struct {
	status Status
}

// throw raises status; the error object, when one exists, is already on
// the stack. Without an active protection record in this thread the
// error escapes: the panic handler runs and the failure surfaces to the
// host as a Go panic.
func (l *State) throw(status Status) {
	if l.protectionDepth > 0 {
		panic(thrownError{status})
	}
	g := l.g
	if g.mainThread.protectionDepth > 0 && l != g.mainThread {
		// no handler here: move the error to the main thread
		g.mainThread.push(l.stack[l.top-1])
		g.mainThread.throw(status)
	}
	if g.panicFn != nil {
		g.panicFn(l)
	}
	panic(&Error{Status: status, Message: l.describeError(status)})
}

func (l *State) throwMemError() {
	l.push(l.g.memErrMsg)
	l.throw(MemoryError)
}

func (l *State) describeError(status Status) string {
	if status == MemoryError {
		return l.g.memErrMsg.str().bytes
	}
	if l.top > 0 && l.stack[l.top-1].isString() {
		return l.stack[l.top-1].str().bytes
	}
	return status.String()
}

// rawRunProtected runs f catching the non-local escape. Foreign panics
// pass through untouched.
func (l *State) rawRunProtected(f func()) (status Status) {
	oldCalls := l.nCcalls
	l.protectionDepth++
	defer func() {
		l.protectionDepth--
		if r := recover(); r != nil {
			te, ok := r.(thrownError)
			if !ok {
				panic(r)
			}
			l.nCcalls = oldCalls
			status = te.status
		}
	}()
	f()
	return Ok
}

// setErrorObj places the error value for status at oldTop.
func (l *State) setErrorObj(status Status, oldTop int) {
	switch status {
	case MemoryError:
		l.stack[oldTop] = l.g.memErrMsg
	case ErrorError:
		l.stack[oldTop] = vObject(l.newString("error in error handling"))
	default:
		l.stack[oldTop] = l.stack[l.top-1]
	}
	l.top = oldTop + 1
}

// protectedCall runs f as a protected call: on any raise the stack is
// unwound back to the recorded frame, open upvalues above it close, and
// the error object replaces everything above oldTop.
func (l *State) protectedCall(f func(), oldTop int, errFunc int) Status {
	oldCi := l.ci
	oldAllowHook := l.allowHook
	oldNny := l.nny
	oldErrFunc := l.errFunc
	l.errFunc = errFunc
	status := l.rawRunProtected(f)
	if status != Ok {
		l.closeUpvalues(oldTop)
		l.setErrorObj(status, oldTop)
		l.ci = oldCi
		l.allowHook = oldAllowHook
		l.nny = oldNny
	}
	l.errFunc = oldErrFunc
	return status
}

// errorMsg finishes a raise: the handler installed by the protected
// call, if any, filters the error object first.
func (l *State) errorMsg() {
	if l.errFunc != 0 {
		handler := l.stack[l.errFunc]
		if !handler.isFunction() {
			l.throw(ErrorError)
		}
		l.stack[l.top] = l.stack[l.top-1] // move argument
		l.stack[l.top-1] = handler
		l.top++
		l.callNoYield(l.top-2, 1)
	}
	l.throw(RuntimeError)
}

func (l *State) push(v value) {
	l.stack[l.top] = v
	l.top++
}

// checkStackSpace ensures n free slots above the top.
func (l *State) checkStackSpace(n int) {
	if l.top+n > len(l.stack)-extraStack {
		l.growStack(n)
	}
}

func (l *State) growStack(n int) {
	size := len(l.stack)
	if size > errorStackSize {
		// stack already beyond limits while handling the overflow
		l.throw(ErrorError)
	}
	needed := l.top + n + extraStack
	newSize := 2 * size
	if newSize > maxStack {
		newSize = maxStack
	}
	if newSize < needed {
		newSize = needed
	}
	if newSize > maxStack {
		newSize = errorStackSize
		l.reallocStack(newSize)
		l.runError("stack overflow")
	}
	l.reallocStack(newSize)
}

func (l *State) reallocStack(newSize int) {
	ns := make([]value, newSize)
	copy(ns, l.stack)
	l.memDelta(int64(newSize-len(l.stack)) * sizeOfValue)
	l.stack = ns
}

// adjustVarargs moves the fixed parameters of a vararg function above
// the variadic ones and returns the new frame base.
func (l *State) adjustVarargs(p *proto, actual int) int {
	nFixed := int(p.numParams)
	fixed := l.top - actual
	base := l.top
	for i := 0; i < nFixed && i < actual; i++ {
		l.stack[l.top] = l.stack[fixed+i]
		l.top++
		l.stack[fixed+i] = nilValue
	}
	for i := actual; i < nFixed; i++ {
		l.stack[l.top] = nilValue
		l.top++
	}
	return base
}

// tryCallMeta replaces a non-callable callee with its __call handler,
// shifting the arguments up to make room.
func (l *State) tryCallMeta(funcIdx int) {
	tm := l.metaOf(l.stack[funcIdx], metaCall)
	if !tm.isFunction() {
		l.typeError(l.stack[funcIdx], "call")
	}
	l.checkStackSpace(1)
	for i := l.top; i > funcIdx; i-- {
		l.stack[i] = l.stack[i-1]
	}
	l.top++
	l.stack[funcIdx] = tm
}

// preCall starts a call of the value at funcIdx. Host functions run to
// completion here (result true); scripted functions only get their
// frame built (result false) and run in the VM loop.
func (l *State) preCall(funcIdx, nResults int) bool {
	switch l.stack[funcIdx].tt.withVariant() {
	case tagGoFunction, tagGoClosure:
		var fn GoFunction
		if l.stack[funcIdx].isGoFunc() {
			fn = l.stack[funcIdx].goFunction()
		} else {
			fn = l.stack[funcIdx].goClosure().fn
		}
		l.checkStackSpace(MinStack)
		ci := l.nextCallInfo()
		ci.numResults = nResults
		ci.function = funcIdx
		ci.top = l.top + MinStack
		ci.callStatus = 0
		ci.k = nil
		if l.hookMask&MaskCall != 0 {
			l.callHook(ci)
		}
		n := fn(l)
		l.checkResults(n)
		l.postCall(ci, l.top-n, n)
		return true

	case tagClosure:
		p := l.stack[funcIdx].closure().p
		actual := l.top - funcIdx - 1
		l.checkStackSpace(int(p.maxStackSize))
		for ; actual < int(p.numParams); actual++ {
			l.push(nilValue)
		}
		var base int
		if p.isVararg {
			base = l.adjustVarargs(p, actual)
		} else {
			base = funcIdx + 1
		}
		ci := l.nextCallInfo()
		ci.numResults = nResults
		ci.function = funcIdx
		ci.base = base
		ci.top = base + int(p.maxStackSize)
		l.top = ci.top
		ci.savedPC = 0
		ci.callStatus = cistLua
		ci.k = nil
		if l.hookMask&MaskCall != 0 {
			l.callHook(ci)
		}
		return false

	default:
		l.tryCallMeta(funcIdx)
		return l.preCall(funcIdx, nResults)
	}
}

func (l *State) checkResults(n int) {
	if n < 0 || l.top-n < l.ci.function {
		panic("host function returned an invalid result count")
	}
}

// postCall finishes a call: the frame pops and results move down to the
// callee slot, truncated or padded with nil to the requested count.
func (l *State) postCall(ci *callInfo, firstResult, nRes int) bool {
	if l.hookMask&MaskReturn != 0 {
		l.returnHook(ci)
	}
	res := ci.function
	wanted := ci.numResults
	l.ci = ci.prev
	return l.moveResults(firstResult, res, nRes, wanted)
}

func (l *State) moveResults(firstResult, res, nRes, wanted int) bool {
	switch wanted {
	case 0:
		l.top = res
	case 1:
		if nRes == 0 {
			l.stack[res] = nilValue
		} else {
			l.stack[res] = l.stack[firstResult]
		}
		l.top = res + 1
	case MultipleReturns:
		for i := 0; i < nRes; i++ {
			l.stack[res+i] = l.stack[firstResult+i]
		}
		l.top = res + nRes
		return false
	default:
		i := 0
		for ; i < wanted && i < nRes; i++ {
			l.stack[res+i] = l.stack[firstResult+i]
		}
		for ; i < wanted; i++ {
			l.stack[res+i] = nilValue
		}
		l.top = res + wanted
	}
	return true
}

// callInternal calls the value at funcIdx with everything above it as
// arguments. Recursion through host frames is bounded.
func (l *State) callInternal(funcIdx, nResults int) {
	l.nCcalls++
	if l.nCcalls >= maxGoCalls {
		if l.nCcalls == maxGoCalls {
			l.runError("stack overflow")
		} else {
			// already handling an overflow error
			l.throw(ErrorError)
		}
	}
	if !l.preCall(funcIdx, nResults) {
		l.vmRun()
	}
	l.nCcalls--
}

// callNoYield forbids yields for the duration of the call.
func (l *State) callNoYield(funcIdx, nResults int) {
	l.nny++
	l.callInternal(funcIdx, nResults)
	l.nny--
}

// Resume (re)starts a suspended coroutine, transferring nArgs values
// from the top of its stack. Returns Ok, Yield, or an error status with
// the error object on top.
func (l *State) Resume(from *State, nArgs int) Status {
	oldNny := l.nny
	if from != nil {
		l.nCcalls = from.nCcalls + 1
	} else {
		l.nCcalls = 1
	}
	if l.nCcalls >= maxGoCalls {
		return l.resumeError("host stack overflow", nArgs)
	}
	if l.status == Ok {
		if l.ci != &l.baseCi {
			return l.resumeError("cannot resume non-suspended coroutine", nArgs)
		}
	} else if l.status != Yield {
		return l.resumeError("cannot resume dead coroutine", nArgs)
	}
	l.nny = 0
	status := l.rawRunProtected(func() { l.resumeBody(nArgs) })
	for isErrorStatus(status) && l.recoverFromYieldedPCall(status) {
		status = l.rawRunProtected(func() { l.unroll(status) })
	}
	if isErrorStatus(status) {
		l.status = status
		l.setErrorObj(status, l.top)
		l.ci.top = l.top
	}
	l.nny = oldNny
	l.nCcalls--
	return status
}

func (l *State) resumeError(msg string, nArgs int) Status {
	l.top -= nArgs
	l.push(vObject(l.newString(msg)))
	return RuntimeError
}

func (l *State) resumeBody(nArgs int) {
	firstArg := l.top - nArgs
	ci := l.ci
	if l.status == Ok {
		// starting the coroutine: the function sits under the arguments
		if !l.preCall(firstArg-1, MultipleReturns) {
			l.vmRun()
		}
	} else {
		// resuming from a yield
		l.status = Ok
		ci.function = ci.extra
		if ci.isLua() {
			l.vmRun()
		} else {
			n := nArgs
			if ci.k != nil {
				n = ci.k(l, Yield, ci.ctx)
				l.checkResults(n)
				firstArg = l.top - n
			}
			l.postCall(ci, firstArg, n)
		}
		l.unroll(Yield)
	}
	l.status = Ok
}

// unroll finishes every frame pending after a resume: scripted frames
// re-enter the VM, host frames run their continuation.
func (l *State) unroll(status Status) {
	for l.ci != &l.baseCi {
		if !l.ci.isLua() {
			l.finishGoCall(status)
			status = Yield
		} else {
			l.finishOp()
			l.vmRun()
		}
	}
}

// finishGoCall completes a host frame whose function yielded: instead
// of returning into the vanished host frame, its continuation runs.
func (l *State) finishGoCall(status Status) {
	ci := l.ci
	if ci.k == nil {
		// resume reached a host frame that cannot be continued
		l.runError("attempt to yield across a host-call boundary")
	}
	if ci.callStatus&cistYPCall != 0 {
		ci.callStatus &^= cistYPCall
		l.errFunc = ci.oldErrFunc
	}
	n := ci.k(l, status, ci.ctx)
	l.checkResults(n)
	l.postCall(ci, l.top-n, n)
}

// recoverFromYieldedPCall looks for a yieldable protected call below
// the error point; finding one unwinds to it so execution continues.
func (l *State) recoverFromYieldedPCall(status Status) bool {
	var pc *callInfo
	for ci := l.ci; ci != nil && ci != &l.baseCi; ci = ci.prev {
		if ci.callStatus&cistYPCall != 0 {
			pc = ci
			break
		}
	}
	if pc == nil {
		return false
	}
	oldTop := pc.extra
	l.closeUpvalues(oldTop)
	l.setErrorObj(status, oldTop)
	l.ci = pc
	l.allowHook = pc.callStatus&cistOAH != 0
	l.nny = 0
	l.errFunc = pc.oldErrFunc
	return true
}

// YieldWithContinuation suspends the running coroutine with nResults
// values on top. A host function that yields supplies a continuation to
// restart at; resuming never re-enters the original host frame.
func (l *State) YieldWithContinuation(nResults int, ctx int64, k Continuation) int {
	ci := l.ci
	if l.nny > 0 {
		if l != l.g.mainThread {
			l.runError("attempt to yield across a host-call boundary")
		}
		l.runError("attempt to yield from outside a coroutine")
	}
	l.status = Yield
	ci.extra = ci.function
	if !ci.isLua() {
		ci.k = k
		if k != nil {
			ci.ctx = ctx
		}
		ci.function = l.top - nResults - 1
		l.throw(Yield)
	}
	return 0
}

// Yield suspends with no continuation.
func (l *State) Yield(nResults int) int {
	return l.YieldWithContinuation(nResults, 0, nil)
}

// IsYieldable reports whether a yield here would be legal.
func (l *State) IsYieldable() bool { return l.nny == 0 }

// Call calls a function with nArgs arguments already pushed above it.
// Errors propagate; use ProtectedCall to capture them.
func (l *State) Call(nArgs, nResults int) {
	l.CallWithContinuation(nArgs, nResults, 0, nil)
}

// CallWithContinuation is Call with a continuation to restart at should
// a yield cross this invocation.
func (l *State) CallWithContinuation(nArgs, nResults int, ctx int64, k Continuation) {
	apiCheck(k == nil || !l.ci.isLua(), "cannot use continuations inside hooks")
	apiCheckArgs(l, nArgs)
	apiCheck(l.status == Ok, "cannot do calls on non-normal thread")
	funcIdx := l.top - nArgs - 1
	if k != nil && l.nny == 0 {
		l.ci.k = k
		l.ci.ctx = ctx
		l.callInternal(funcIdx, nResults)
	} else {
		l.callNoYield(funcIdx, nResults)
	}
	l.adjustResults(nResults)
}

// ProtectedCall calls like Call but catches raises, returning a status
// and leaving the error object on top. errFunc, when nonzero, is the
// stack index of a handler run before the stack unwinds.
func (l *State) ProtectedCall(nArgs, nResults, errFunc int) Status {
	return l.ProtectedCallWithContinuation(nArgs, nResults, errFunc, 0, nil)
}

// ProtectedCallWithContinuation allows the protected call to be crossed
// by a yield: on resume, k continues with the recorded status.
func (l *State) ProtectedCallWithContinuation(nArgs, nResults, errFunc int, ctx int64, k Continuation) Status {
	apiCheck(k == nil || !l.ci.isLua(), "cannot use continuations inside hooks")
	apiCheckArgs(l, nArgs)
	apiCheck(l.status == Ok, "cannot do calls on non-normal thread")
	var ef int
	if errFunc != 0 {
		// record the handler as an absolute stack index
		ef = l.ci.function + l.absIndexInternal(errFunc)
	}
	funcIdx := l.top - nArgs - 1
	var status Status
	if k == nil || l.nny > 0 {
		status = l.protectedCall(func() { l.callNoYield(funcIdx, nResults) }, funcIdx, ef)
	} else {
		ci := l.ci
		ci.k = k
		ci.ctx = ctx
		ci.extra = funcIdx
		ci.oldErrFunc = l.errFunc
		l.errFunc = ef
		if l.allowHook {
			ci.callStatus |= cistOAH
		} else {
			ci.callStatus &^= cistOAH
		}
		ci.callStatus |= cistYPCall
		l.callInternal(funcIdx, nResults)
		ci.callStatus &^= cistYPCall
		l.errFunc = ci.oldErrFunc
		status = Ok
	}
	l.adjustResults(nResults)
	return status
}

func (l *State) adjustResults(nResults int) {
	if nResults == MultipleReturns && l.ci.top < l.top {
		l.ci.top = l.top
	}
}

func apiCheck(cond bool, msg string) {
	if !cond {
		panic("api misuse: " + msg)
	}
}

func apiCheckArgs(l *State, n int) {
	apiCheck(n+1 <= l.top-l.ci.function, "not enough elements in the stack")
}
