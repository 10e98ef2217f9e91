package lune

import "unsafe"

// Type identifies one of the language's basic value kinds, as reported
// by TypeOf and the type builtin.
type Type int

const (
	TypeNone Type = iota - 1

	TypeNil
	TypeBoolean
	TypeLightPointer
	TypeNumber
	TypeString
	TypeTable
	TypeFunction
	TypeUserdata
	TypeThread

	typeCount
)

var typeNames = [...]string{
	"nil", "boolean", "userdata", "number", "string", "table", "function", "userdata", "thread",
	"proto", // internal
}

func (t Type) String() string {
	if t == TypeNone {
		return "no value"
	}
	return typeNames[t]
}

// typeTag is the full tag of a value: basic kind in the low 4 bits,
// variant in bits 4-5, and bit 6 set when the payload is collectable.
type typeTag uint8

const (
	tagNil      typeTag = typeTag(TypeNil)
	tagBoolean  typeTag = typeTag(TypeBoolean)
	tagLightPtr typeTag = typeTag(TypeLightPointer)

	tagFloat   typeTag = typeTag(TypeNumber)            // float variant
	tagInteger typeTag = typeTag(TypeNumber) | (1 << 4) // integer variant

	tagShortString typeTag = typeTag(TypeString)
	tagLongString  typeTag = typeTag(TypeString) | (1 << 4)

	tagTable typeTag = typeTag(TypeTable)

	tagClosure    typeTag = typeTag(TypeFunction)            // scripted closure
	tagGoFunction typeTag = typeTag(TypeFunction) | (1 << 4) // bare host function
	tagGoClosure  typeTag = typeTag(TypeFunction) | (2 << 4) // host closure

	tagUserdata typeTag = typeTag(TypeUserdata)
	tagThread   typeTag = typeTag(TypeThread)

	// internal kinds, never visible to scripts
	tagProto   typeTag = typeTag(typeCount)
	tagDeadKey typeTag = typeTag(typeCount) + 1

	bitCollectable typeTag = 1 << 6
)

// noVariant strips the variant and collectable bits, leaving the basic kind.
func (t typeTag) noVariant() typeTag { return t & 0x0f }

// withVariant strips only the collectable bit.
func (t typeTag) withVariant() typeTag { return t & 0x3f }

func (t typeTag) basicType() Type { return Type(t & 0x0f) }

// GoFunction is a host function callable from scripts. It receives its
// arguments on the stack and returns the number of results it pushed.
type GoFunction func(l *State) int

// value is a tagged value: a tag byte plus a payload. n carries integers
// and booleans, f carries floats, and rt carries every pointer-shaped
// payload (collectable objects, light pointers, bare host functions).
type value struct {
	tt typeTag
	n  int64
	f  float64
	rt any
}

// The nil value is the zero value; a single shared instance serves as a
// sentinel for "not a value" returns and empty table slots.
var nilValue = value{}

func vBoolean(b bool) value {
	n := int64(0)
	if b {
		n = 1
	}
	return value{tt: tagBoolean, n: n}
}

func vInteger(i int64) value { return value{tt: tagInteger, n: i} }
func vFloat(f float64) value { return value{tt: tagFloat, f: f} }
func vLightPtr(p unsafe.Pointer) value {
	return value{tt: tagLightPtr, rt: p}
}
func vGoFunction(f GoFunction) value { return value{tt: tagGoFunction, rt: f} }

// vObject wraps a collectable object. The object's embedded tag is the
// authority; the value tag mirrors it with the collectable bit set.
func vObject(o object) value {
	return value{tt: o.header().tt | bitCollectable, rt: o}
}

func (v value) isNil() bool       { return v.tt == tagNil }
func (v value) isBoolean() bool   { return v.tt == tagBoolean }
func (v value) isInteger() bool   { return v.tt == tagInteger }
func (v value) isFloat() bool     { return v.tt == tagFloat }
func (v value) isNumber() bool    { return v.tt.noVariant() == typeTag(TypeNumber) }
func (v value) isString() bool    { return v.tt.noVariant() == typeTag(TypeString) }
func (v value) isTable() bool     { return v.tt.withVariant() == tagTable }
func (v value) isFunction() bool  { return v.tt.noVariant() == typeTag(TypeFunction) }
func (v value) isClosure() bool   { return v.tt.withVariant() == tagClosure }
func (v value) isGoFunc() bool    { return v.tt.withVariant() == tagGoFunction }
func (v value) isGoClosure() bool { return v.tt.withVariant() == tagGoClosure }
func (v value) isUserdata() bool  { return v.tt.withVariant() == tagUserdata }
func (v value) isThread() bool    { return v.tt.withVariant() == tagThread }
func (v value) isLightPtr() bool  { return v.tt == tagLightPtr }
func (v value) isDeadKey() bool   { return v.tt.withVariant() == tagDeadKey }

func (v value) isCollectable() bool { return v.tt&bitCollectable != 0 }

// isFalse reports whether v is false in a boolean context: only nil and
// false are.
func (v value) isFalse() bool {
	return v.tt == tagNil || (v.tt == tagBoolean && v.n == 0)
}

func (v value) boolean() bool { return v.n != 0 }

func (v value) integer() int64 {
	checkTag(v, v.tt == tagInteger)
	return v.n
}

func (v value) float() float64 {
	checkTag(v, v.tt == tagFloat)
	return v.f
}

// numberAsFloat converts either number variant to a float.
func (v value) numberAsFloat() float64 {
	if v.tt == tagInteger {
		return float64(v.n)
	}
	checkTag(v, v.tt == tagFloat)
	return v.f
}

func (v value) object() object {
	checkTag(v, v.isCollectable())
	return v.rt.(object)
}

func (v value) str() *lstring {
	checkTag(v, v.isString())
	return v.rt.(*lstring)
}

func (v value) table() *table {
	checkTag(v, v.isTable())
	return v.rt.(*table)
}

func (v value) closure() *closure {
	checkTag(v, v.isClosure())
	return v.rt.(*closure)
}

func (v value) goClosure() *goClosure {
	checkTag(v, v.isGoClosure())
	return v.rt.(*goClosure)
}

func (v value) goFunction() GoFunction {
	checkTag(v, v.isGoFunc())
	return v.rt.(GoFunction)
}

func (v value) userdata() *userdata {
	checkTag(v, v.isUserdata())
	return v.rt.(*userdata)
}

func (v value) thread() *State {
	checkTag(v, v.isThread())
	return v.rt.(*State)
}

func (v value) lightPtr() unsafe.Pointer {
	checkTag(v, v.isLightPtr())
	return v.rt.(unsafe.Pointer)
}

// typeOf returns the basic kind of v as seen by scripts.
func typeOf(v value) Type {
	return v.tt.basicType()
}

func typeName(v value) string {
	return typeOf(v).String()
}

// internalChecks gates consistency assertions between a value's tag and
// its payload. They document invariants; release semantics never depend
// on them.
const internalChecks = false

func checkTag(v value, ok bool) {
	if internalChecks && !ok {
		panic("value tag does not match accessor")
	}
}
