package lune

// Every heap-managed object begins with a gcHeader: a link into one of
// the collector's object lists, the object's tag byte, and its mark
// bits. The collector's traversal switches on the tag alone.
type gcHeader struct {
	next   object
	gclist object // link while the object sits on a gray list
	id     uint64 // stable identity, used for hashing and ToPointer
	tt     typeTag
	marked uint8
}

func (h *gcHeader) header() *gcHeader { return h }

// object is implemented by every collectable type: *lstring, *table,
// *closure, *goClosure, *userdata, *proto and *State.
type object interface {
	header() *gcHeader
}

// userdata is an opaque byte region owned by the runtime, with a
// per-instance metatable and an attached user value of any kind.
type userdata struct {
	gcHeader
	meta *table
	user value
	data []byte
}

func newUserdata(l *State, size int) *userdata {
	u := &userdata{data: make([]byte, size)}
	l.linkObject(u, tagUserdata)
	return u
}

// Mark bit layout. Two white bits allow the sweep phase to tell objects
// that died this cycle from objects born during the sweep: the collector
// flips which white is "current" at the end of the atomic phase.
const (
	bitWhite0    uint8 = 1 << 0
	bitWhite1    uint8 = 1 << 1
	bitBlack     uint8 = 1 << 2
	bitFinalized uint8 = 1 << 3 // object's finalizer has been queued or run

	maskWhites = bitWhite0 | bitWhite1
	maskColors = maskWhites | bitBlack
)

func (h *gcHeader) isWhite() bool { return h.marked&maskWhites != 0 }
func (h *gcHeader) isBlack() bool { return h.marked&bitBlack != 0 }
func (h *gcHeader) isGray() bool  { return h.marked&maskColors == 0 }

func (h *gcHeader) isFinalized() bool { return h.marked&bitFinalized != 0 }
func (h *gcHeader) setFinalized()     { h.marked |= bitFinalized }

func (h *gcHeader) white2gray() { h.marked &^= maskWhites }
func (h *gcHeader) black2gray() { h.marked &^= bitBlack }
func (h *gcHeader) gray2black() { h.marked |= bitBlack }

func otherWhite(white uint8) uint8 { return white ^ maskWhites }

// isDeadObject is only meaningful during the sweep phases, when a white
// object of the non-current white is unreachable.
func isDeadObject(currentWhite uint8, h *gcHeader) bool {
	return h.marked&otherWhite(currentWhite)&maskWhites != 0
}
