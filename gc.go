package lune

// Incremental tri-color mark-and-sweep. White objects are unvisited,
// gray objects are visited but their references are not, black objects
// are fully visited. Mutators preserve the invariant that no black
// object refers to a white one through the write barriers below.

const (
	gcsPropagate uint8 = iota
	gcsAtomic
	gcsSweepAllGC
	gcsSweepFinObj
	gcsSweepToBeFnz
	gcsSweepEnd
	gcsCallFin
	gcsPause
)

const (
	// gcStepSize is the nominal work of one collector step, in bytes.
	gcStepSize = 2048
	// gcSweepMax bounds objects swept per sweep step.
	gcSweepMax = 80
	// gcFinalizersPerStep bounds finalizers run per step.
	gcFinalizersPerStep = 4
	// stepMulAdj and pauseAdj scale the user-facing tuning knobs.
	stepMulAdj = 200
	pauseAdj   = 100
)

// keepInvariant reports whether the no-black-to-white invariant must be
// preserved (marking phases).
func (g *globalState) keepInvariant() bool {
	return g.gcState <= gcsAtomic
}

func (g *globalState) inSweepPhase() bool {
	return gcsSweepAllGC <= g.gcState && g.gcState <= gcsSweepEnd
}

// linkObject initializes a fresh collectable object and links it into
// the global object list.
func (l *State) linkObject(o object, tt typeTag) {
	g := l.g
	h := o.header()
	h.tt = tt
	h.marked = g.currentWhite & maskWhites
	h.id = g.newID()
	h.next = g.allgc
	g.allgc = o
	l.memDelta(objectSize(o))
}

// fixObject pins a just-created object: it moves from allgc to the
// fixed list and is never collected. Only used during state startup for
// objects the runtime itself relies on.
func (l *State) fixObject(o object) {
	g := l.g
	h := o.header()
	if g.allgc != o {
		return // already pinned by an earlier intern hit
	}
	h.white2gray()
	g.allgc = h.next
	h.next = g.fixedgc
	g.fixedgc = o
}

func (g *globalState) markValue(v value) {
	if v.isCollectable() {
		g.markObject(v.object())
	}
}

func (g *globalState) markObjectIfWhite(o object) {
	if o != nil && o.header().isWhite() {
		g.markObject(o)
	}
}

// markObject turns a white object gray (or black when it has no
// references to traverse).
func (g *globalState) markObject(o object) {
	h := o.header()
	if !h.isWhite() {
		return
	}
	h.white2gray()
	switch o := o.(type) {
	case *lstring:
		h.gray2black()
		g.gcMarkedWork += objectSize(o)
	case *userdata:
		h.gray2black()
		g.gcMarkedWork += objectSize(o)
		if o.meta != nil {
			g.markObjectIfWhite(o.meta)
		}
		g.markValue(o.user)
	default:
		// tables, closures, protos and threads wait on the gray list
		h.gclist = g.gray
		g.gray = o
	}
}

// propagateMark traverses one gray object, marking its referents.
func (l *State) propagateMark() int64 {
	g := l.g
	o := g.gray
	h := o.header()
	g.gray = h.gclist
	h.gray2black()
	var work int64
	switch o := o.(type) {
	case *table:
		work = l.traverseTable(o)
	case *closure:
		work = g.traverseClosure(o)
	case *goClosure:
		work = g.traverseGoClosure(o)
	case *proto:
		work = g.traverseProto(o)
	case *State:
		// threads stay gray and are revisited in the atomic phase
		h.black2gray()
		h.gclist = g.grayagain
		g.grayagain = o
		work = l.traverseThread(o)
	}
	return work
}

func (l *State) propagateAll() int64 {
	var work int64
	for l.g.gray != nil {
		work += l.propagateMark()
	}
	return work
}

func (l *State) traverseTable(t *table) int64 {
	g := l.g
	mode := g.fastMeta(t.meta, metaMode)
	if t.meta != nil {
		g.markObjectIfWhite(t.meta)
	}
	weakKey, weakValue := false, false
	if mode.isString() {
		for _, c := range mode.str().bytes {
			if c == 'k' {
				weakKey = true
			}
			if c == 'v' {
				weakValue = true
			}
		}
	}
	switch {
	case weakKey && weakValue:
		t.gclist = g.allweak
		g.allweak = t
		t.black2gray()
	case weakKey:
		l.traverseEphemeron(t)
	case weakValue:
		l.traverseWeakValue(t)
	default:
		g.traverseStrongTable(t)
	}
	return sizeOfTable + int64(len(t.array))*sizeOfValue + int64(len(t.node))*sizeOfNode
}

// removeEntry clears an entry whose value is nil: a collectable key
// becomes a dead key so chains stay walkable.
func removeEntry(nd *node) {
	if nd.key.isCollectable() {
		nd.key.tt = tagDeadKey
	}
}

func (g *globalState) traverseStrongTable(t *table) {
	for i := range t.array {
		g.markValue(t.array[i])
	}
	for i := range t.node {
		nd := &t.node[i]
		if nd.val.isNil() {
			removeEntry(nd)
		} else {
			g.markValue(nd.key)
			g.markValue(nd.val)
		}
	}
}

// traverseWeakValue marks the keys of a weak-value table and parks the
// table on the weak list for value clearing in the atomic phase.
func (l *State) traverseWeakValue(t *table) {
	g := l.g
	for i := range t.node {
		nd := &t.node[i]
		if nd.val.isNil() {
			removeEntry(nd)
		} else {
			g.markValue(nd.key)
		}
	}
	t.gclist = g.weak
	g.weak = t
	t.black2gray()
}

// traverseEphemeron propagates through a weak-key table: a value is
// marked only while its key is reachable from elsewhere. Returns true
// when it marked something.
func (l *State) traverseEphemeron(t *table) bool {
	g := l.g
	marked := false
	hasClears := false  // table has a white key
	hasWW := false      // table has an entry white key -> white value
	for i := range t.array {
		if t.array[i].isCollectable() && t.array[i].object().header().isWhite() {
			marked = true
			g.markValue(t.array[i])
		}
	}
	for i := range t.node {
		nd := &t.node[i]
		switch {
		case nd.val.isNil():
			removeEntry(nd)
		case deadKey(g, nd.key):
			// key unreachable so far: the value waits on it
			hasClears = true
			if nd.val.isCollectable() && nd.val.object().header().isWhite() {
				hasWW = true
			}
		case nd.val.isCollectable() && nd.val.object().header().isWhite():
			marked = true
			g.markValue(nd.val)
		}
	}
	switch {
	case g.gcState == gcsPropagate:
		t.gclist = g.grayagain
		g.grayagain = t
		t.black2gray()
	case hasWW:
		t.gclist = g.ephemeron
		g.ephemeron = t
		t.black2gray()
	case hasClears:
		t.gclist = g.allweak
		g.allweak = t
		t.black2gray()
	}
	return marked
}

func (g *globalState) traverseClosure(c *closure) int64 {
	g.markObjectIfWhite(c.p)
	for _, uv := range c.upvals {
		if uv != nil {
			g.markValue(uv.get())
		}
	}
	return sizeOfClosure + int64(len(c.upvals))*8
}

func (g *globalState) traverseGoClosure(c *goClosure) int64 {
	for i := range c.upvals {
		g.markValue(c.upvals[i])
	}
	return sizeOfClosure + int64(len(c.upvals))*sizeOfValue
}

func (g *globalState) traverseProto(p *proto) int64 {
	if p.cache != nil && p.cache.isWhite() {
		p.cache = nil // the closure cache is a weak reference
	}
	if p.source != nil {
		g.markObjectIfWhite(p.source)
	}
	for i := range p.k {
		g.markValue(p.k[i])
	}
	for i := range p.protos {
		g.markObjectIfWhite(p.protos[i])
	}
	for i := range p.upvalues {
		if p.upvalues[i].name != nil {
			g.markObjectIfWhite(p.upvalues[i].name)
		}
	}
	for i := range p.localVars {
		if p.localVars[i].name != nil {
			g.markObjectIfWhite(p.localVars[i].name)
		}
	}
	return objectSize(p)
}

func (l *State) traverseThread(co *State) int64 {
	g := l.g
	for i := 0; i < co.top; i++ {
		g.markValue(co.stack[i])
	}
	if g.gcState == gcsAtomic {
		// final pass: clear dead slots above the top
		for i := co.top; i < len(co.stack); i++ {
			co.stack[i] = nilValue
		}
	}
	return sizeOfThread + int64(cap(co.stack))*sizeOfValue
}

// Write barriers.

// objBarrier is the forward barrier: a black object acquiring a white
// referent marks the referent at once.
func (l *State) objBarrier(o object, v value) {
	if !v.isCollectable() {
		return
	}
	g := l.g
	if o.header().isBlack() && v.object().header().isWhite() {
		if g.keepInvariant() {
			g.markObject(v.object())
		} else {
			h := o.header()
			h.marked = (h.marked &^ maskColors) | (g.currentWhite & maskWhites)
		}
	}
}

// tableBarrierBack is the backward barrier for frequently written
// tables: the black table itself goes back to gray, queued for
// reprocessing in the next propagate slice.
func (l *State) tableBarrierBack(t *table) {
	g := l.g
	if t.isBlack() {
		t.black2gray()
		t.gclist = g.grayagain
		g.grayagain = t
	}
}

// upvalBarrier keeps a closing upvalue's captured value visible to the
// collector.
func (l *State) upvalBarrier(uv *upvalue) {
	g := l.g
	if uv.owner == nil && uv.closed.isCollectable() && g.keepInvariant() {
		g.markValue(uv.closed)
	}
}

func (l *State) protoCacheBarrier(p *proto, c *closure) {
	if p.isBlack() {
		l.objBarrier(p, vObject(c))
	}
}

// Sweeping.

// sweepList frees dead objects in the list at slot, at most count of
// them, repainting survivors to the new white. Returns the slot to
// continue from, or nil when the list is finished.
func (l *State) sweepList(slot *object, count int) *object {
	g := l.g
	dead := otherWhite(g.currentWhite) & maskWhites
	white := g.currentWhite & maskWhites
	for *slot != nil && count > 0 {
		h := (*slot).header()
		if h.marked&dead != 0 {
			o := *slot
			*slot = h.next
			l.freeObject(o)
		} else {
			h.marked = (h.marked &^ maskColors) | white
			slot = &h.next
		}
		count--
	}
	if *slot == nil {
		return nil
	}
	return slot
}

func (l *State) freeObject(o object) {
	g := l.g
	l.memDelta(-objectSize(o))
	switch o := o.(type) {
	case *lstring:
		if o.isShort() {
			g.removeString(o)
		}
	case *closure:
		for _, uv := range o.upvals {
			if uv != nil {
				l.unrefUpvalue(uv)
			}
		}
	case *State:
		o.stack = nil
		o.ci = nil
	}
}

// Weak-table clearing (atomic phase).

// clearValues removes entries with dead values from every weak-value
// table on the list, up to stop.
func (g *globalState) clearValues(list object, stop object) {
	for o := list; o != stop && o != nil; {
		t := o.(*table)
		for i := range t.array {
			if deadValue(g, t.array[i]) {
				t.array[i] = nilValue
			}
		}
		for i := range t.node {
			nd := &t.node[i]
			if !nd.val.isNil() && deadValue(g, nd.val) {
				nd.val = nilValue
				removeEntry(nd)
			}
		}
		o = t.gclist
	}
}

// clearKeys removes entries with dead keys.
func (g *globalState) clearKeys(list object) {
	for o := list; o != nil; {
		t := o.(*table)
		for i := range t.node {
			nd := &t.node[i]
			if !nd.val.isNil() && deadKey(g, nd.key) {
				nd.val = nilValue
				removeEntry(nd)
			}
		}
		o = t.gclist
	}
}

// deadValue reports whether a weak-table slot should be cleared.
// Strings behave as plain values: they are marked instead of removed.
func deadValue(g *globalState, v value) bool {
	if !v.isCollectable() {
		return false
	}
	if v.isString() {
		g.markObjectIfWhite(v.object())
		return false
	}
	return v.object().header().isWhite()
}

func deadKey(g *globalState, k value) bool {
	if !k.isCollectable() {
		return false
	}
	if k.isString() {
		g.markObjectIfWhite(k.object())
		return false
	}
	return k.object().header().isWhite()
}

// convergeEphemerons iterates weak-key tables to a fixed point: marking
// a value can make another table's key reachable.
func (l *State) convergeEphemerons() {
	g := l.g
	for changed := true; changed; {
		changed = false
		list := g.ephemeron
		g.ephemeron = nil
		for o := list; o != nil; {
			t := o.(*table)
			next := t.gclist
			if l.traverseEphemeron(t) {
				l.propagateAll()
				changed = true
			}
			o = next
		}
	}
}

// Finalizers.

// checkFinalizer moves o to the finobj list when its new metatable
// carries a finalizer and o is not there yet.
func (l *State) checkFinalizer(o object, mt *table) {
	g := l.g
	h := o.header()
	if h.isFinalized() || g.fastMeta(mt, metaGC).isNil() {
		return
	}
	// unchain from allgc, adjusting the sweep cursor if it points here
	slot := &g.allgc
	for *slot != o {
		if *slot == nil {
			return // object is pinned or already separated
		}
		slot = &(*slot).header().next
	}
	if g.sweepgc == &h.next {
		g.sweepgc = slot
	}
	*slot = h.next
	h.next = g.finobj
	g.finobj = o
	h.setFinalized()
}

// separateToBeFnz moves unreachable objects owing a finalizer from
// finobj to tobefnz; with all set, every finobj object moves (state
// close).
func (g *globalState) separateToBeFnz(all bool) {
	slot := &g.finobj
	lastNext := &g.tobefnz
	for *lastNext != nil {
		lastNext = &(*lastNext).header().next
	}
	for *slot != nil {
		h := (*slot).header()
		if !(all || h.isWhite()) {
			slot = &h.next
			continue
		}
		o := *slot
		*slot = h.next
		h.next = nil
		*lastNext = o
		lastNext = &h.next
	}
}

// markBeingFinalized keeps objects queued for finalization alive; the
// finalizer call will resurrect them.
func (g *globalState) markBeingFinalized() {
	for o := g.tobefnz; o != nil; o = o.header().next {
		g.markObjectIfWhite(o)
	}
}

// callGCFinalizer runs the finalizer of the first queued object. The
// object returns to allgc first: it is reachable again through the
// call. A raising finalizer surfaces FinalizerError.
func (l *State) callGCFinalizer(propagateErrors bool) {
	g := l.g
	o := g.tobefnz
	if o == nil {
		return
	}
	h := o.header()
	g.tobefnz = h.next
	h.next = g.allgc
	g.allgc = o
	v := vObject(o)
	tm := l.metaOf(v, metaGC)
	if !tm.isFunction() {
		return
	}
	running := g.gcRunning
	oldAllowHook := l.allowHook
	l.allowHook = false
	g.gcRunning = false
	l.push(tm)
	l.push(v)
	l.ci.callStatus |= cistFin
	status := l.protectedCall(func() { l.callNoYield(l.top-2, 0) }, l.top-2, 0)
	l.ci.callStatus &^= cistFin
	l.allowHook = oldAllowHook
	g.gcRunning = running
	if status != Ok && propagateErrors {
		if status == RuntimeError {
			msg := "error in __gc metamethod"
			if l.stack[l.top-1].isString() {
				msg = msg + " (" + l.stack[l.top-1].str().bytes + ")"
			}
			l.top--
			l.push(vObject(l.newString(msg)))
			status = FinalizerError
		}
		l.throw(status)
	}
	if status != Ok {
		l.top-- // drop the error object silently
	}
}

func (l *State) runAllFinalizers() {
	g := l.g
	g.separateToBeFnz(true)
	for g.tobefnz != nil {
		g.currentWhite = otherWhite(g.currentWhite) // accept all objects
		l.callGCFinalizer(false)
	}
}

// The collector driver.

// gcMarkedWork accumulates traversal sizes inside markObject; stored on
// globalState to avoid threading it through every mark call.

func (l *State) restartCollection() int64 {
	g := l.g
	g.gray = nil
	g.grayagain = nil
	g.weak = nil
	g.ephemeron = nil
	g.allweak = nil
	g.gcMarkedWork = 0
	g.markObject(g.mainThread)
	g.markValue(g.registry)
	for _, mt := range g.mt {
		if mt != nil {
			g.markObjectIfWhite(mt)
		}
	}
	g.markBeingFinalized()
	return g.gcMarkedWork
}

// atomic is the non-incremental phase: it remarks the roots that may
// have changed, resolves weak tables and ephemerons, queues
// finalizables, scrubs the literal cache and flips the current white.
func (l *State) atomic() int64 {
	g := l.g
	var work int64
	grayagain := g.grayagain
	g.grayagain = nil
	g.gcState = gcsAtomic

	g.markObject(l) // running thread
	g.markValue(g.registry)
	for _, mt := range g.mt {
		if mt != nil {
			g.markObjectIfWhite(mt)
		}
	}
	// remark upvalues of suspended threads with open upvalues
	for pp := &g.twups; *pp != nil; {
		th := *pp
		if th.openUpval == nil {
			*pp = th.twups
			th.twups = th
			continue
		}
		if !th.isWhite() {
			for uv := th.openUpval; uv != nil; uv = uv.next {
				g.markValue(uv.get())
			}
		}
		pp = &th.twups
	}
	work += l.propagateAll()

	g.gray = grayagain
	work += l.propagateAll()

	l.convergeEphemerons()
	// clear values from weak tables before checking finalizers
	g.clearValues(g.weak, nil)
	g.clearValues(g.allweak, nil)
	origWeak, origAllWeak := g.weak, g.allweak

	g.separateToBeFnz(false)
	g.markBeingFinalized()
	work += l.propagateAll()
	l.convergeEphemerons()

	// clear keys from ephemeron and all-weak tables
	g.clearKeys(g.ephemeron)
	g.clearKeys(g.allweak)
	// clear values from tables resurrected by finalizers
	g.clearValues(g.weak, origWeak)
	g.clearValues(g.allweak, origAllWeak)

	// scrub literal cache entries that did not survive
	for i := 0; i < strCacheN; i++ {
		for j := 0; j < strCacheM; j++ {
			if s := g.strCache[i][j]; s != nil && s.isWhite() {
				g.strCache[i][j] = g.memErrMsg.str()
			}
		}
	}

	g.currentWhite = otherWhite(g.currentWhite)
	return work + g.gcMarkedWork
}

func (l *State) enterSweep() {
	g := l.g
	g.gcState = gcsSweepAllGC
	g.sweepgc = &g.allgc
}

// singleStep advances the collector by one unit of work.
func (l *State) singleStep() int64 {
	g := l.g
	switch g.gcState {
	case gcsPause:
		g.gcMarkedWork = 0
		work := l.restartCollection()
		g.gcState = gcsPropagate
		return work
	case gcsPropagate:
		g.gcMarkedWork = 0
		var work int64
		if g.gray != nil {
			work = l.propagateMark()
		}
		if g.gray == nil {
			g.gcState = gcsAtomic
		}
		return work + g.gcMarkedWork
	case gcsAtomic:
		l.propagateAll()
		work := l.atomic()
		l.enterSweep()
		g.gcEstimate = g.totalBytes
		return work
	case gcsSweepAllGC:
		return l.sweepToState(gcsSweepFinObj, &l.g.finobj)
	case gcsSweepFinObj:
		return l.sweepToState(gcsSweepToBeFnz, &l.g.tobefnz)
	case gcsSweepToBeFnz:
		return l.sweepToState(gcsSweepEnd, nil)
	case gcsSweepEnd:
		// the main thread lives outside allgc; repaint it by hand
		mh := &g.mainThread.gcHeader
		mh.marked = (mh.marked &^ maskColors) | (g.currentWhite & maskWhites)
		l.checkStringTableSize()
		g.gcState = gcsCallFin
		return 0
	case gcsCallFin:
		if g.tobefnz != nil && !g.gcEmergency {
			for i := 0; i < gcFinalizersPerStep && g.tobefnz != nil; i++ {
				l.callGCFinalizer(true)
			}
			return gcFinalizersPerStep * sizeOfHeader
		}
		g.gcState = gcsPause
		return 0
	}
	return 0
}

func (l *State) sweepToState(next uint8, nextList *object) int64 {
	g := l.g
	if g.sweepgc != nil {
		g.sweepgc = l.sweepList(g.sweepgc, gcSweepMax)
		if g.sweepgc != nil {
			return gcSweepMax * sizeOfHeader
		}
	}
	g.gcState = next
	if nextList != nil {
		g.sweepgc = nextList
	} else {
		g.sweepgc = nil
	}
	return 0
}

// checkStringTableSize shrinks the intern table when it got sparse.
func (l *State) checkStringTableSize() {
	g := l.g
	if g.strt.inUse < len(g.strt.buckets)/4 && len(g.strt.buckets) > 2*minStringTableSize {
		l.resizeStringTable(len(g.strt.buckets) / 2)
	}
}

// gcCheck runs a collector slice when allocation debt demands one. It
// sits at the allocation safe points.
func (l *State) gcCheck() {
	if l.g.gcDebt > 0 {
		l.gcStepInternal()
	}
}

func (g *globalState) scaledDebt() int64 {
	debt := g.gcDebt
	if debt <= 0 {
		return 0
	}
	debt = debt/stepMulAdj + 1
	if debt < (int64(^uint64(0)>>2))/int64(g.gcStepMul) {
		return debt * int64(g.gcStepMul)
	}
	return int64(^uint64(0) >> 2)
}

func (l *State) gcStepInternal() {
	g := l.g
	debt := g.scaledDebt()
	if !g.gcRunning {
		g.gcDebt = -gcStepSize * 10
		return
	}
	for {
		work := l.singleStep()
		debt -= work
		if debt <= -gcStepSize || g.gcState == gcsPause {
			break
		}
	}
	if g.gcState == gcsPause {
		g.setPause()
	} else {
		g.gcDebt = (debt / int64(g.gcStepMul)) * stepMulAdj
	}
}

func (g *globalState) setPause() {
	estimate := g.gcEstimate / pauseAdj
	if estimate == 0 {
		estimate = 1
	}
	threshold := estimate * int64(g.gcPause)
	g.gcDebt = g.totalBytes - threshold
}

func (l *State) runUntilState(state uint8) {
	for l.g.gcState != state {
		l.singleStep()
	}
}

func (l *State) fullGCInternal(emergency bool) {
	g := l.g
	g.gcEmergency = emergency
	if g.keepInvariant() {
		// interrupt an ongoing mark: sweep everything back to white
		l.enterSweep()
	}
	l.runUntilState(gcsPause)
	l.runUntilState(gcsCallFin)
	l.runUntilState(gcsPause)
	g.gcEmergency = false
	g.setPause()
}

// emergencyCollect is invoked on allocation failure: a full cycle that
// never runs finalizers, since those may allocate.
func (l *State) emergencyCollect() {
	running := l.g.gcRunning
	l.g.gcRunning = true
	l.fullGCInternal(true)
	l.g.gcRunning = running
}

// Public collector control.

// GCStop halts automatic collection until GCRestart.
func (l *State) GCStop() { l.g.gcRunning = false }

// GCRestart resumes automatic collection.
func (l *State) GCRestart() {
	l.g.gcDebt = 0
	l.g.gcRunning = true
}

// GCCollect runs a full collection cycle.
func (l *State) GCCollect() { l.fullGCInternal(false) }

// GCIsRunning reports whether automatic collection is active.
func (l *State) GCIsRunning() bool { return l.g.gcRunning }

// GCCount returns the managed heap estimate in kilobytes.
func (l *State) GCCount() int { return int(l.g.totalBytes >> 10) }

// GCCountBytes returns the remainder of the heap estimate modulo 1024.
func (l *State) GCCountBytes() int { return int(l.g.totalBytes & 0x3ff) }

// GCStep performs a collection step as if kbytes had been allocated.
func (l *State) GCStep(kbytes int) {
	if kbytes == 0 {
		l.g.gcDebt = 1
	} else {
		l.g.gcDebt += int64(kbytes) << 10
	}
	l.gcStepInternal()
}

// SetGCPause sets the pause percentage and returns the previous value.
func (l *State) SetGCPause(pause int) int {
	old := l.g.gcPause
	l.g.gcPause = pause
	return old
}

// SetGCStepMultiplier sets the step multiplier, returning the previous
// value.
func (l *State) SetGCStepMultiplier(mul int) int {
	old := l.g.gcStepMul
	l.g.gcStepMul = mul
	return old
}
