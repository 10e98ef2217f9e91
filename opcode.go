package lune

// Instructions are fixed 32-bit words in one of three layouts:
//
//	iABC:  B(9) | C(9) | A(8) | opcode(6)
//	iABx:  Bx(18)      | A(8) | opcode(6)
//	iAsBx: sBx(18)     | A(8) | opcode(6)  (signed, excess-K)
//	iAx:   Ax(26)             | opcode(6)
//
// A bit on a B or C operand selects a constant-pool index instead of a
// register.
type instruction uint32

type opCode int

const (
	opMove opCode = iota
	opLoadK
	opLoadKX
	opLoadBool
	opLoadNil
	opGetUpval
	opGetTabUp
	opGetTable
	opSetTabUp
	opSetUpval
	opSetTable
	opNewTable
	opSelf
	opAdd
	opSub
	opMul
	opMod
	opPow
	opDiv
	opIDiv
	opBAnd
	opBOr
	opBXor
	opShl
	opShr
	opUnm
	opBNot
	opNot
	opLen
	opConcat
	opJump
	opEq
	opLT
	opLE
	opTest
	opTestSet
	opCall
	opTailCall
	opReturn
	opForLoop
	opForPrep
	opTForCall
	opTForLoop
	opSetList
	opClosure
	opVararg
	opExtraArg

	numOpcodes
)

const (
	sizeOp = 6
	sizeA  = 8
	sizeB  = 9
	sizeC  = 9
	sizeBx = sizeB + sizeC
	sizeAx = sizeA + sizeB + sizeC

	posOp = 0
	posA  = posOp + sizeOp
	posC  = posA + sizeA
	posB  = posC + sizeC
	posBx = posC
	posAx = posA

	maxArgA  = 1<<sizeA - 1
	maxArgB  = 1<<sizeB - 1
	maxArgC  = 1<<sizeC - 1
	maxArgBx = 1<<sizeBx - 1
	maxArgAx = 1<<sizeAx - 1

	maxArgSBx = maxArgBx >> 1 // excess-K bias
)

// bitRK flags a B/C operand as a constant-pool index.
const bitRK = 1 << (sizeB - 1)

const maxIndexRK = bitRK - 1

func isConstant(rk int) bool  { return rk&bitRK != 0 }
func constantIndex(rk int) int { return rk &^ bitRK }
func asConstant(i int) int     { return i | bitRK }

// fieldsPerFlush is the batch size of setlist: how many array entries
// one instruction stores at most.
const fieldsPerFlush = 50

// multiRet marks "as many as available" operand encodings (B or C 0).
const multiRet = 0

func createABC(op opCode, a, b, c int) instruction {
	return instruction(op)<<posOp |
		instruction(a)<<posA |
		instruction(b)<<posB |
		instruction(c)<<posC
}

func createABx(op opCode, a, bx int) instruction {
	return instruction(op)<<posOp |
		instruction(a)<<posA |
		instruction(bx)<<posBx
}

func createAx(op opCode, ax int) instruction {
	return instruction(op)<<posOp | instruction(ax)<<posAx
}

func (i instruction) opcode() opCode { return opCode(i >> posOp & (1<<sizeOp - 1)) }
func (i instruction) a() int         { return int(i >> posA & maxArgA) }
func (i instruction) b() int         { return int(i >> posB & maxArgB) }
func (i instruction) c() int         { return int(i >> posC & maxArgC) }
func (i instruction) bx() int        { return int(i >> posBx & maxArgBx) }
func (i instruction) ax() int        { return int(i >> posAx & maxArgAx) }
func (i instruction) sbx() int       { return i.bx() - maxArgSBx }

func (i *instruction) setOpcode(op opCode) {
	*i = *i&^(instruction(1<<sizeOp-1)<<posOp) | instruction(op)<<posOp
}
func (i *instruction) setA(a int) {
	*i = *i&^(instruction(maxArgA)<<posA) | instruction(a)<<posA
}
func (i *instruction) setB(b int) {
	*i = *i&^(instruction(maxArgB)<<posB) | instruction(b)<<posB
}
func (i *instruction) setC(c int) {
	*i = *i&^(instruction(maxArgC)<<posC) | instruction(c)<<posC
}
func (i *instruction) setBx(bx int) {
	*i = *i&^(instruction(maxArgBx)<<posBx) | instruction(bx)<<posBx
}
func (i *instruction) setSBx(sbx int) { i.setBx(sbx + maxArgSBx) }
func (i *instruction) setAx(ax int) {
	*i = *i&^(instruction(maxArgAx)<<posAx) | instruction(ax)<<posAx
}

// Operand descriptors for the disassembler and the debug name
// inference.
type argMode byte

const (
	argN argMode = iota // unused
	argU                // plain value
	argR                // register or jump offset
	argK                // register/constant mix
)

type opFormat byte

const (
	iABC opFormat = iota
	iABx
	iAsBx
	iAx
)

type opMode struct {
	test   bool // next instruction must be a jump
	setsA  bool // instruction writes register A
	bMode  argMode
	cMode  argMode
	format opFormat
}

var opNames = [numOpcodes]string{
	"MOVE", "LOADK", "LOADKX", "LOADBOOL", "LOADNIL",
	"GETUPVAL", "GETTABUP", "GETTABLE",
	"SETTABUP", "SETUPVAL", "SETTABLE",
	"NEWTABLE", "SELF",
	"ADD", "SUB", "MUL", "MOD", "POW", "DIV", "IDIV",
	"BAND", "BOR", "BXOR", "SHL", "SHR",
	"UNM", "BNOT", "NOT", "LEN", "CONCAT",
	"JMP", "EQ", "LT", "LE",
	"TEST", "TESTSET",
	"CALL", "TAILCALL", "RETURN",
	"FORLOOP", "FORPREP", "TFORCALL", "TFORLOOP",
	"SETLIST", "CLOSURE", "VARARG", "EXTRAARG",
}

var opModes = [numOpcodes]opMode{
	opMove:     {setsA: true, bMode: argR, format: iABC},
	opLoadK:    {setsA: true, bMode: argK, format: iABx},
	opLoadKX:   {setsA: true, format: iABx},
	opLoadBool: {setsA: true, bMode: argU, cMode: argU, format: iABC},
	opLoadNil:  {setsA: true, bMode: argU, format: iABC},
	opGetUpval: {setsA: true, bMode: argU, format: iABC},
	opGetTabUp: {setsA: true, bMode: argU, cMode: argK, format: iABC},
	opGetTable: {setsA: true, bMode: argR, cMode: argK, format: iABC},
	opSetTabUp: {bMode: argK, cMode: argK, format: iABC},
	opSetUpval: {bMode: argU, format: iABC},
	opSetTable: {bMode: argK, cMode: argK, format: iABC},
	opNewTable: {setsA: true, bMode: argU, cMode: argU, format: iABC},
	opSelf:     {setsA: true, bMode: argR, cMode: argK, format: iABC},
	opAdd:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opSub:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opMul:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opMod:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opPow:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opDiv:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opIDiv:     {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opBAnd:     {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opBOr:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opBXor:     {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opShl:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opShr:      {setsA: true, bMode: argK, cMode: argK, format: iABC},
	opUnm:      {setsA: true, bMode: argR, format: iABC},
	opBNot:     {setsA: true, bMode: argR, format: iABC},
	opNot:      {setsA: true, bMode: argR, format: iABC},
	opLen:      {setsA: true, bMode: argR, format: iABC},
	opConcat:   {setsA: true, bMode: argR, cMode: argR, format: iABC},
	opJump:     {bMode: argR, format: iAsBx},
	opEq:       {test: true, bMode: argK, cMode: argK, format: iABC},
	opLT:       {test: true, bMode: argK, cMode: argK, format: iABC},
	opLE:       {test: true, bMode: argK, cMode: argK, format: iABC},
	opTest:     {test: true, cMode: argU, format: iABC},
	opTestSet:  {test: true, setsA: true, bMode: argR, cMode: argU, format: iABC},
	opCall:     {setsA: true, bMode: argU, cMode: argU, format: iABC},
	opTailCall: {setsA: true, bMode: argU, cMode: argU, format: iABC},
	opReturn:   {bMode: argU, format: iABC},
	opForLoop:  {setsA: true, bMode: argR, format: iAsBx},
	opForPrep:  {setsA: true, bMode: argR, format: iAsBx},
	opTForCall: {cMode: argU, format: iABC},
	opTForLoop: {setsA: true, bMode: argR, format: iAsBx},
	opSetList:  {bMode: argU, cMode: argU, format: iABC},
	opClosure:  {setsA: true, bMode: argU, format: iABx},
	opVararg:   {setsA: true, bMode: argU, format: iABC},
	opExtraArg: {format: iAx},
}
