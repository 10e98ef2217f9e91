package lune

import (
	"io"
	"os"
	"time"

	"github.com/spf13/afero"
)

// Status is the result code of loads, calls and resumes.
type Status byte

const (
	Ok Status = iota
	Yield
	RuntimeError
	SyntaxError
	MemoryError
	FinalizerError // a finalizer raised
	ErrorError     // error while running the error handler
)

func (s Status) String() string {
	switch s {
	case Ok:
		return "ok"
	case Yield:
		return "yield"
	case RuntimeError:
		return "runtime error"
	case SyntaxError:
		return "syntax error"
	case MemoryError:
		return "memory error"
	case FinalizerError:
		return "finalizer error"
	case ErrorError:
		return "error in error handling"
	}
	return "unknown status"
}

// isErrorStatus reports whether s represents a raised error.
func isErrorStatus(s Status) bool { return s > Yield }

const (
	// MultipleReturns requests all results from Call and friends.
	MultipleReturns = -1

	// MinStack is the stack space available to a host function.
	MinStack = 20

	maxStack       = 1_000_000
	extraStack     = 5
	basicStackSize = 2 * MinStack
	errorStackSize = maxStack + 200

	// maxGoCalls bounds nested host-call recursion.
	maxGoCalls = 200

	// maxMetaLoop bounds __index/__newindex chains.
	maxMetaLoop = 2000
)

// RegistryIndex is the pseudo-index addressing the registry table.
const RegistryIndex = -maxStack - 1000

// UpvalueIndex addresses the i-th upvalue of the running host closure
// (1-based).
func UpvalueIndex(i int) int { return RegistryIndex - i }

func isPseudoIndex(i int) bool { return i <= RegistryIndex }

// Registry keys reserved by the runtime.
const (
	RegistryKeyMainThread = 1
	RegistryKeyGlobals    = 2
)

// Continuation resumes a host call after a yield; status tells it how
// the interrupted part finished.
type Continuation func(l *State, status Status, ctx int64) int

// Hook masks for SetHook.
const (
	MaskCall = 1 << iota
	MaskReturn
	MaskLine
	MaskCount
)

// Hook event codes passed in Debug.Event.
const (
	HookCall = iota
	HookReturn
	HookLine
	HookCount
	HookTailCall
)

// Hook is a debug hook callback.
type Hook func(l *State, ar *Debug)

// callInfo records one activation frame. Frames form a doubly linked
// chain reused across calls.
type callInfo struct {
	function   int // stack index of the callee
	top        int // frame top (stack index)
	prev, next *callInfo
	numResults int
	callStatus uint16

	// scripted frames
	base    int
	savedPC int

	// host frames
	k          Continuation
	ctx        int64
	oldErrFunc int

	// saved callee index across tail calls and yields
	extra int
}

const (
	cistOAH       uint16 = 1 << iota // original value of allowHook
	cistLua                          // frame runs a scripted function
	cistHooked                       // frame is running a hook
	cistFresh                        // frame started by this vmRun invocation
	cistYPCall                       // frame is a yieldable protected call
	cistTail                         // frame was tail called
	cistHookYield                    // last hook called yielded
	cistFin                          // frame is running a finalizer
)

func (ci *callInfo) isLua() bool { return ci.callStatus&cistLua != 0 }

// nextCallInfo extends the frame chain, reusing a previously allocated
// record when one exists.
func (l *State) nextCallInfo() *callInfo {
	if l.ci.next != nil {
		l.ci = l.ci.next
		return l.ci
	}
	ci := &callInfo{prev: l.ci}
	l.ci.next = ci
	l.ci = ci
	l.nCi++
	l.memDelta(sizeOfCallInfo)
	return ci
}

// State is one thread of execution: a value stack, a frame chain and a
// pointer to the state shared by every thread of the runtime instance.
// The main thread is created by New; others by NewThread.
type State struct {
	gcHeader
	g      *globalState
	status Status

	stack []value
	top   int

	ci     *callInfo
	baseCi callInfo
	nCi    int

	openUpval *upvalue
	twups     *State // next thread with open upvalues; self when not listed

	nny             int // non-yieldable nesting depth
	nCcalls         int
	protectionDepth int
	errFunc         int // stack index of the active error handler

	hook          Hook
	hookMask      int
	hookCount     int
	baseHookCount int
	allowHook     bool
	oldPC         int
}

// globalState is shared by all threads of one runtime instance. There
// is no process-wide state: independent instances run independently.
type globalState struct {
	mainThread *State
	registry   value
	seed       uint64
	nextID     uint64

	strt     stringTable
	strCache [strCacheN][strCacheM]*lstring

	mt        [typeCount]*table // metatables for basic kinds
	tmNames   [numMetaEvents]*lstring
	memErrMsg value // pinned preallocated message for memory errors

	panicFn GoFunction
	version *float64

	// collector state
	allgc        object
	finobj       object
	tobefnz      object
	fixedgc      object
	sweepgc      *object
	gray         object
	grayagain    object
	weak         object
	ephemeron    object
	allweak      object
	twups        *State
	gcState      uint8
	currentWhite uint8
	gcMarkedWork int64
	gcRunning    bool
	gcEmergency  bool
	gcEstimate   int64
	totalBytes   int64
	gcDebt       int64
	memLimit     int64
	gcPause      int
	gcStepMul    int

	// host environment
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Option configures a new state.
type Option func(*State)

// WithFs sets the filesystem used by EvalFile and the CLI.
func WithFs(fs afero.Fs) Option {
	return func(l *State) { l.g.fs = fs }
}

func WithStdin(stdin io.Reader) Option {
	return func(l *State) { l.g.stdin = stdin }
}

func WithStdout(stdout io.Writer) Option {
	return func(l *State) { l.g.stdout = stdout }
}

func WithStderr(stderr io.Writer) Option {
	return func(l *State) { l.g.stderr = stderr }
}

// WithMemoryLimit bounds the managed heap estimate in bytes; exceeding
// it triggers an emergency collection and then a memory error.
func WithMemoryLimit(limit int64) Option {
	return func(l *State) { l.g.memLimit = limit }
}

// WithGCPause sets the collector pause percentage (default 200).
func WithGCPause(pause int) Option {
	return func(l *State) { l.g.gcPause = pause }
}

// WithGCStepMultiplier sets the collector step multiplier (default 200).
func WithGCStepMultiplier(mul int) Option {
	return func(l *State) { l.g.gcStepMul = mul }
}

// WithPanic sets the handler invoked when an unprotected error reaches
// the top of a thread.
func WithPanic(p GoFunction) Option {
	return func(l *State) { l.g.panicFn = p }
}

var runtimeVersion = 103.0

// New creates a fully initialized state with the base and coroutine
// libraries opened, applying all given options.
func New(opts ...Option) *State {
	l := NewRaw()
	for _, opt := range opts {
		opt(l)
	}
	l.OpenBase()
	l.OpenCoroutine()
	return l
}

// NewRaw creates a state with no libraries opened.
func NewRaw() *State {
	g := &globalState{
		seed:      uint64(time.Now().UnixNano()) * 0x9e3779b97f4a7c15,
		gcPause:   200,
		gcStepMul: 200,
		version:   &runtimeVersion,
		fs:        afero.NewOsFs(),
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
	g.currentWhite = bitWhite0
	g.gcState = gcsPause
	l := &State{g: g}
	l.gcHeader.tt = tagThread
	l.gcHeader.marked = g.currentWhite
	l.gcHeader.id = g.newID()
	l.twups = l
	g.mainThread = l
	g.totalBytes = sizeOfThread

	l.initStack()

	// string table and pinned strings
	g.strt.buckets = make([]*lstring, minStringTableSize)
	mem := l.internString("not enough memory")
	l.fixObject(mem)
	g.memErrMsg = vObject(mem)
	l.internMetaNames()
	l.internReservedWords()

	// registry with the main thread and the globals table
	registry := newTable(l, RegistryKeyGlobals, 0)
	g.registry = vObject(registry)
	l.tableSetInt(registry, RegistryKeyMainThread, vObject(l))
	l.tableSetInt(registry, RegistryKeyGlobals, vObject(newTable(l, 0, 0)))

	g.gcRunning = true
	return l
}

// NewThread creates a coroutine sharing every global structure with l
// and pushes it on l's stack.
func (l *State) NewThread() *State {
	g := l.g
	co := &State{g: g, allowHook: true}
	l.linkObject(co, tagThread)
	co.twups = co
	co.hookMask = l.hookMask
	co.baseHookCount = l.baseHookCount
	co.hook = l.hook
	co.hookCount = co.baseHookCount
	co.initStack()
	l.push(vObject(co))
	return co
}

func (l *State) initStack() {
	l.stack = make([]value, basicStackSize)
	l.top = 0
	l.allowHook = true
	ci := &l.baseCi
	ci.function = l.top
	l.stack[l.top] = nilValue // sentinel callee for the base frame
	l.top++
	ci.top = l.top + MinStack
	l.ci = ci
	l.memDelta(int64(basicStackSize) * sizeOfValue)
}

func (g *globalState) newID() uint64 {
	g.nextID++
	return g.nextID
}

// Globals returns the globals table value (internal).
func (g *globalState) globals() value {
	return g.registry.table().getInt(RegistryKeyGlobals)
}

// Status reports the thread's status.
func (l *State) Status() Status { return l.status }

// Version returns the runtime version number.
func (l *State) Version() *float64 { return l.g.version }

// SetPanic installs a new panic handler and returns the previous one.
func (l *State) SetPanic(p GoFunction) GoFunction {
	old := l.g.panicFn
	l.g.panicFn = p
	return old
}

// Close releases a state: finalizers for every object owing one run,
// then the object lists are dropped.
func (l *State) Close() {
	m := l.g.mainThread
	m.closeAllUpvalues()
	m.runAllFinalizers()
	m.g.allgc = nil
	m.g.finobj = nil
	m.g.fixedgc = nil
	m.g.strt.buckets = nil
	m.g.gcRunning = false
}

func (l *State) closeAllUpvalues() {
	l.closeUpvalues(0)
}
