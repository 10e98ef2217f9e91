// Package lune is an embeddable, dynamically typed scripting language
// with a register-based virtual machine, an incremental garbage
// collector and a stack-based host interface.
//
// The low-level surface mirrors the stack conventions of the language's
// tradition (Push*, To*, Call, ProtectedCall). The functions in this
// file are the convenience layer: evaluate a chunk and get Go values
// back.
//
//	l := lune.New()
//	results, err := l.EvalString(`return 1 + 2`)
package lune

import (
	"fmt"
	"io"
	"strings"
)

// Error is the Go-facing form of a raised script error.
type Error struct {
	Status    Status
	Message   string
	Traceback []string
}

func (e *Error) Error() string { return e.Message }

// Ref identifies a non-scalar result value (table, function, userdata
// or thread) without keeping it alive.
type Ref struct {
	Type Type
	ID   uintptr
}

// EvalString evaluates source code and returns the values the chunk
// returns, converted to Go types: nil, bool, int64, float64, string, or
// a Ref for everything else.
func (l *State) EvalString(source string) ([]any, error) {
	return l.Eval(strings.NewReader(source), "chunk")
}

// Eval evaluates the chunk read from source. Errors carry the status,
// the message and a script traceback.
func (l *State) Eval(source io.Reader, name string) ([]any, error) {
	base := l.Top()
	if status := l.Load(source, name, "t"); status != Ok {
		return nil, l.popError(status)
	}
	l.PushGoFunction(messageHandler)
	l.Insert(-2)
	status := l.ProtectedCall(0, MultipleReturns, -2)
	if status != Ok {
		err := l.popError(status)
		l.Pop(1) // the handler
		return nil, err
	}
	n := l.Top() - base - 1
	results := make([]any, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, l.toGoValue(base+2+i))
	}
	l.SetTop(base)
	return results, nil
}

// EvalFile reads path through the state's filesystem and evaluates it.
func (l *State) EvalFile(path string) ([]any, error) {
	f, err := l.g.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return l.Eval(f, "@"+path)
}

// messageHandler decorates a runtime error with a traceback before the
// stack unwinds.
func messageHandler(l *State) int {
	msg, ok := l.ToString(1)
	if !ok {
		msg = fmt.Sprintf("(error object is a %s value)", l.TypeOf(1))
	}
	var tb []string
	for level := 1; ; level++ {
		ar, ok := l.Stack(level)
		if !ok {
			break
		}
		l.Info("Slnt", ar)
		where := fmt.Sprintf("%s:%d", ar.ShortSource, ar.CurrentLine)
		switch {
		case ar.Name != "":
			tb = append(tb, fmt.Sprintf("\t%s: in %s '%s'", where, ar.NameKind, ar.Name))
		case ar.What == "main":
			tb = append(tb, fmt.Sprintf("\t%s: in main chunk", where))
		default:
			tb = append(tb, fmt.Sprintf("\t%s: in function <%s:%d>", where, ar.ShortSource, ar.LineDefined))
		}
	}
	full := msg
	if len(tb) > 0 {
		full = msg + "\nstack traceback:\n" + strings.Join(tb, "\n")
	}
	l.PushString(full)
	return 1
}

// popError converts the error value on top into an *Error.
func (l *State) popError(status Status) *Error {
	msg, ok := l.ToString(-1)
	if !ok {
		msg = fmt.Sprintf("(error object is a %s value)", l.TypeOf(-1))
	}
	l.Pop(1)
	e := &Error{Status: status}
	if i := strings.Index(msg, "\nstack traceback:\n"); i >= 0 {
		e.Message = msg[:i]
		e.Traceback = strings.Split(msg[i+len("\nstack traceback:\n"):], "\n")
	} else {
		e.Message = msg
	}
	return e
}

func (l *State) toGoValue(idx int) any {
	v := l.indexToValue(idx)
	switch {
	case v.isNil():
		return nil
	case v.isBoolean():
		return v.boolean()
	case v.isInteger():
		return v.n
	case v.isFloat():
		return v.f
	case v.isString():
		return v.str().bytes
	default:
		return Ref{Type: typeOf(v), ID: l.ToPointer(idx)}
	}
}
