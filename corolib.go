package lune

// The coroutine library: thin wrappers over Resume and Yield.

func coArg(l *State) *State {
	co := l.ToThread(1)
	if co == nil {
		l.typeArgError(1, "coroutine")
	}
	return co
}

// coAuxResume transfers narg arguments to co and resumes it. Returns
// the number of results moved back, or -1 with the error value on top.
func coAuxResume(l, co *State, narg int) int {
	if !co.CheckStack(narg) {
		l.PushLiteral("too many arguments to resume")
		return -1
	}
	if co.status == Ok && co.top == 1 {
		l.PushLiteral("cannot resume dead coroutine")
		return -1
	}
	l.XMove(co, narg)
	status := co.Resume(l, narg)
	if status == Ok || status == Yield {
		nres := co.Top()
		if !l.CheckStack(nres + 1) {
			co.Pop(nres)
			l.PushLiteral("too many results to resume")
			return -1
		}
		co.XMove(l, nres)
		return nres
	}
	co.XMove(l, 1) // move the error value
	return -1
}

func coCreate(l *State) int {
	l.checkFunction(1)
	co := l.NewThread()
	l.PushValue(1)
	l.XMove(co, 1) // the function becomes the coroutine body
	return 1
}

func coResume(l *State) int {
	co := coArg(l)
	r := coAuxResume(l, co, l.Top()-1)
	if r < 0 {
		l.PushBoolean(false)
		l.Insert(-2)
		return 2
	}
	l.PushBoolean(true)
	l.Insert(-(r + 1))
	return r + 1
}

func coWrapAux(l *State) int {
	co := l.indexToValue(UpvalueIndex(1)).thread()
	r := coAuxResume(l, co, l.Top())
	if r < 0 {
		if v := l.indexToValue(-1); v.isString() {
			// decorate the error with the caller's position
			if where := l.Where(1); where != "" {
				l.PushString(where)
				l.Insert(-2)
				l.Concat(2)
			}
		}
		l.Error()
	}
	return r
}

func coWrap(l *State) int {
	coCreate(l)
	l.PushGoClosure(coWrapAux, 1)
	return 1
}

func coYield(l *State) int {
	return l.Yield(l.Top())
}

func coStatus(l *State) int {
	co := coArg(l)
	switch {
	case l == co:
		l.PushLiteral("running")
	case co.status == Yield:
		l.PushLiteral("suspended")
	case co.status == Ok:
		if co.ci != &co.baseCi {
			l.PushLiteral("normal") // resumed someone else
		} else if co.top == 1 {
			l.PushLiteral("dead")
		} else {
			l.PushLiteral("suspended") // initial state
		}
	default:
		l.PushLiteral("dead") // died with an error
	}
	return 1
}

func coIsYieldable(l *State) int {
	l.PushBoolean(l.IsYieldable())
	return 1
}

func coRunning(l *State) int {
	isMain := l.PushThread()
	l.PushBoolean(isMain)
	return 2
}

// OpenCoroutine installs the coroutine table.
func (l *State) OpenCoroutine() {
	l.CreateTable(0, 7)
	fns := map[string]GoFunction{
		"create":      coCreate,
		"resume":      coResume,
		"yield":       coYield,
		"status":      coStatus,
		"wrap":        coWrap,
		"isyieldable": coIsYieldable,
		"running":     coRunning,
	}
	for name, fn := range fns {
		l.PushGoFunction(fn)
		l.SetField(-2, name)
	}
	l.SetGlobal("coroutine")
}
