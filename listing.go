package lune

import (
	"fmt"
	"strings"
)

// Listing disassembles the scripted function at the given stack index,
// including its inner functions.
func (l *State) Listing(idx int) (string, error) {
	v := l.indexToValue(idx)
	if !v.isClosure() {
		return "", fmt.Errorf("value at index %d is not a scripted function", idx)
	}
	var sb strings.Builder
	v.closure().p.list(&sb)
	return sb.String(), nil
}

func (p *proto) list(sb *strings.Builder) {
	src := "?"
	if p.source != nil {
		src = shortSource(p.source.bytes)
	}
	kind := "function"
	if p.lineDefined == 0 {
		kind = "main chunk"
	}
	fmt.Fprintf(sb, "%s <%s:%d,%d> (%d instructions)\n",
		kind, src, p.lineDefined, p.lastLineDefined, len(p.code))
	fmt.Fprintf(sb, "%d params, %d slots, %d upvalues, %d constants, %d functions\n",
		p.numParams, p.maxStackSize, len(p.upvalues), len(p.k), len(p.protos))
	for pc, ins := range p.code {
		line := 0
		if pc < len(p.lineInfo) {
			line = int(p.lineInfo[pc])
		}
		fmt.Fprintf(sb, "\t%d\t[%d]\t%s\n", pc+1, line, p.describe(pc, ins))
	}
	for _, sp := range p.protos {
		sb.WriteByte('\n')
		sp.list(sb)
	}
}

func (p *proto) describe(pc int, ins instruction) string {
	op := ins.opcode()
	mode := opModes[op]
	out := fmt.Sprintf("%-9s\t", opNames[op])
	args := []string{}
	switch mode.format {
	case iABC:
		args = append(args, fmt.Sprintf("%d", ins.a()))
		if mode.bMode != argN {
			args = append(args, p.describeRK(mode.bMode, ins.b()))
		}
		if mode.cMode != argN {
			args = append(args, p.describeRK(mode.cMode, ins.c()))
		}
	case iABx:
		args = append(args, fmt.Sprintf("%d", ins.a()))
		args = append(args, fmt.Sprintf("%d", ins.bx()))
	case iAsBx:
		args = append(args, fmt.Sprintf("%d", ins.a()))
		args = append(args, fmt.Sprintf("%d", ins.sbx()))
	case iAx:
		args = append(args, fmt.Sprintf("%d", ins.ax()))
	}
	out += strings.Join(args, " ")
	if extra := p.annotate(pc, ins); extra != "" {
		out += "\t; " + extra
	}
	return out
}

func (p *proto) describeRK(m argMode, v int) string {
	if m == argK && isConstant(v) {
		return fmt.Sprintf("%d", -1-constantIndex(v))
	}
	return fmt.Sprintf("%d", v)
}

func (p *proto) annotate(pc int, ins instruction) string {
	switch ins.opcode() {
	case opLoadK:
		return p.constantText(ins.bx())
	case opGetTabUp, opGetTable, opSelf, opSetTabUp, opSetTable,
		opAdd, opSub, opMul, opMod, opPow, opDiv, opIDiv,
		opBAnd, opBOr, opBXor, opShl, opShr, opEq, opLT, opLE:
		parts := []string{}
		if isConstant(ins.b()) {
			parts = append(parts, p.constantText(constantIndex(ins.b())))
		}
		if isConstant(ins.c()) {
			parts = append(parts, p.constantText(constantIndex(ins.c())))
		}
		return strings.Join(parts, " ")
	case opJump, opForLoop, opForPrep, opTForLoop:
		return fmt.Sprintf("to %d", pc+2+ins.sbx())
	case opClosure:
		if bx := ins.bx(); bx < len(p.protos) {
			sp := p.protos[bx]
			return fmt.Sprintf("<%d,%d>", sp.lineDefined, sp.lastLineDefined)
		}
	}
	return ""
}

func (p *proto) constantText(i int) string {
	if i >= len(p.k) {
		return "?"
	}
	k := p.k[i]
	switch {
	case k.isString():
		return fmt.Sprintf("%q", k.str().bytes)
	case k.isNumber():
		return numberToString(k)
	case k.isNil():
		return "nil"
	case k.isBoolean():
		if k.boolean() {
			return "true"
		}
		return "false"
	}
	return "?"
}
