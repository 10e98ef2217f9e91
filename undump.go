package lune

import (
	"bufio"
	"fmt"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// undump reads a binary chunk back into a closure, validating the
// header, the constant kinds and each prototype's upvalue count (it
// must fit in a byte). Errors raise with
// SyntaxError status, like any other load failure.
func (l *State) undump(r *bufio.Reader, chunkName string) *closure {
	fail := func(what string) {
		l.push(vObject(l.newString(fmt.Sprintf("%s: %s precompiled chunk", chunkName, what))))
		l.throw(SyntaxError)
	}
	head := make([]byte, len(dumpSignature)+2+len(dumpTail))
	if _, err := readFull(r, head); err != nil {
		fail("truncated")
	}
	if string(head[:len(dumpSignature)]) != dumpSignature {
		fail("corrupted")
	}
	if head[len(dumpSignature)] != dumpVersion {
		fail("version mismatch in")
	}
	if head[len(dumpSignature)+1] != dumpFormat {
		fail("format mismatch in")
	}
	if string(head[len(dumpSignature)+2:]) != dumpTail {
		fail("corrupted")
	}
	var d dumpedProto
	if err := msgpack.NewDecoder(r).Decode(&d); err != nil {
		fail("corrupted")
	}
	p := l.undumpProto(&d, chunkName, fail)
	cl := &closure{p: p, upvals: make([]*upvalue, len(p.upvalues))}
	l.linkObject(cl, tagClosure)
	for i := range cl.upvals {
		cl.upvals[i] = &upvalue{refCount: 1, closed: nilValue}
	}
	l.push(vObject(cl))
	return cl
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (l *State) undumpProto(d *dumpedProto, chunkName string, fail func(string)) *proto {
	p := newProto(l)
	src := d.Source
	if src == "" {
		src = chunkName
	}
	p.source = l.newString(src)
	p.lineDefined = d.LineDefined
	p.lastLineDefined = d.LastLineDefined
	p.numParams = d.NumParams
	p.isVararg = d.IsVararg
	p.maxStackSize = d.MaxStackSize
	if _, err := safecast.Conv[uint8](len(d.Upvalues)); err != nil {
		fail("corrupted")
	}
	p.code = make([]instruction, len(d.Code))
	for i, ins := range d.Code {
		p.code[i] = instruction(ins)
	}
	p.k = make([]value, len(d.Constants))
	for i := range d.Constants {
		c := &d.Constants[i]
		switch c.Kind {
		case dumpKindNil:
			p.k[i] = nilValue
		case dumpKindBool:
			p.k[i] = vBoolean(c.Bool)
		case dumpKindInt:
			p.k[i] = vInteger(c.Int)
		case dumpKindFloat:
			p.k[i] = vFloat(c.Float)
		case dumpKindString:
			p.k[i] = vObject(l.newString(c.Str))
		default:
			fail("corrupted")
		}
	}
	p.upvalues = make([]upvalDesc, len(d.Upvalues))
	for i, uv := range d.Upvalues {
		p.upvalues[i] = upvalDesc{inStack: uv.InStack, index: uv.Index}
		if uv.Name != "" {
			p.upvalues[i].name = l.newString(uv.Name)
		}
	}
	p.protos = make([]*proto, len(d.Protos))
	for i := range d.Protos {
		p.protos[i] = l.undumpProto(&d.Protos[i], chunkName, fail)
	}
	p.lineInfo = d.LineInfo
	if len(d.LocalVars) > 0 {
		p.localVars = make([]localVar, len(d.LocalVars))
		for i, lv := range d.LocalVars {
			p.localVars[i] = localVar{
				name:    l.newString(lv.Name),
				startPC: lv.StartPC,
				endPC:   lv.EndPC,
			}
		}
	}
	l.memDelta(objectSize(p))
	return p
}
