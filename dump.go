package lune

import (
	"errors"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Binary chunks are a small fixed header followed by one msgpack-encoded
// prototype tree. The header carries a signature, version and format
// bytes, and an integrity tail that catches text-mode and truncation
// damage the way the original's header data does.
const (
	dumpSignature = "\x1bLune"
	dumpVersion   = 0x53
	dumpFormat    = 0
	dumpTail      = "\x19\x93\r\n\x1a\n"
)

type dumpedConstant struct {
	Kind  int8 // one of the dumpKind constants below
	Bool  bool
	Int   int64
	Float float64
	Str   string
}

const (
	dumpKindNil = iota
	dumpKindBool
	dumpKindInt
	dumpKindFloat
	dumpKindString
)

type dumpedUpvalue struct {
	InStack bool
	Index   uint8
	Name    string // debug info; empty when stripped
}

type dumpedLocalVar struct {
	Name    string
	StartPC int32
	EndPC   int32
}

type dumpedProto struct {
	Source          string
	LineDefined     int
	LastLineDefined int
	NumParams       uint8
	IsVararg        bool
	MaxStackSize    uint8
	Code            []uint32
	Constants       []dumpedConstant
	Upvalues        []dumpedUpvalue
	Protos          []dumpedProto
	LineInfo        []int32
	LocalVars       []dumpedLocalVar
}

func dumpProtoTree(p *proto, strip bool) dumpedProto {
	d := dumpedProto{
		LineDefined:     p.lineDefined,
		LastLineDefined: p.lastLineDefined,
		NumParams:       p.numParams,
		IsVararg:        p.isVararg,
		MaxStackSize:    p.maxStackSize,
	}
	if !strip && p.source != nil {
		d.Source = p.source.bytes
	}
	d.Code = make([]uint32, len(p.code))
	for i, ins := range p.code {
		d.Code[i] = uint32(ins)
	}
	d.Constants = make([]dumpedConstant, len(p.k))
	for i, k := range p.k {
		switch {
		case k.isNil():
			d.Constants[i] = dumpedConstant{Kind: dumpKindNil}
		case k.isBoolean():
			d.Constants[i] = dumpedConstant{Kind: dumpKindBool, Bool: k.boolean()}
		case k.isInteger():
			d.Constants[i] = dumpedConstant{Kind: dumpKindInt, Int: k.n}
		case k.isFloat():
			d.Constants[i] = dumpedConstant{Kind: dumpKindFloat, Float: k.f}
		default:
			d.Constants[i] = dumpedConstant{Kind: dumpKindString, Str: k.str().bytes}
		}
	}
	d.Upvalues = make([]dumpedUpvalue, len(p.upvalues))
	for i, uv := range p.upvalues {
		d.Upvalues[i] = dumpedUpvalue{InStack: uv.inStack, Index: uv.index}
		if !strip && uv.name != nil {
			d.Upvalues[i].Name = uv.name.bytes
		}
	}
	d.Protos = make([]dumpedProto, len(p.protos))
	for i, sp := range p.protos {
		d.Protos[i] = dumpProtoTree(sp, strip)
	}
	if !strip {
		d.LineInfo = p.lineInfo
		d.LocalVars = make([]dumpedLocalVar, len(p.localVars))
		for i, lv := range p.localVars {
			d.LocalVars[i] = dumpedLocalVar{
				Name:    lv.name.bytes,
				StartPC: lv.startPC,
				EndPC:   lv.endPC,
			}
		}
	}
	return d
}

// Dump writes the function on top of the stack as a binary chunk. With
// strip, debug information (sources, line tables, names) is omitted.
func (l *State) Dump(w io.Writer, strip bool) error {
	apiCheckArgs(l, 0)
	v := l.stack[l.top-1]
	if !v.isClosure() {
		return errors.New("unable to dump given function")
	}
	if _, err := io.WriteString(w, dumpSignature); err != nil {
		return err
	}
	if _, err := w.Write([]byte{dumpVersion, dumpFormat}); err != nil {
		return err
	}
	if _, err := io.WriteString(w, dumpTail); err != nil {
		return err
	}
	enc := msgpack.NewEncoder(w)
	return enc.Encode(dumpProtoTree(v.closure().p, strip))
}
