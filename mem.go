package lune

// Size estimates, in bytes, used for collector debt accounting. They do
// not need to match Go's real allocation sizes; they only need to make
// allocation-heavy code pay proportional collector work.
const (
	sizeOfHeader   = 48
	sizeOfValue    = 40
	sizeOfNode     = 2*sizeOfValue + 8
	sizeOfString   = sizeOfHeader + 32
	sizeOfTable    = sizeOfHeader + 56
	sizeOfClosure  = sizeOfHeader + 24
	sizeOfUserdata = sizeOfHeader + 40
	sizeOfProto    = sizeOfHeader + 120
	sizeOfThread   = sizeOfHeader + 160
	sizeOfUpvalue  = 56
	sizeOfCallInfo = 96
)

// minVectorSize is the minimum capacity of a growable vector after its
// first growth.
const minVectorSize = 4

// memDelta records a change in the managed heap size. Every allocation
// and release in the runtime funnels through here so the collector's
// debt tracks allocation pressure. A positive delta that pushes the
// heap past the host-configured limit triggers an emergency collection
// (no finalizers); if the heap is still over the limit afterwards, a
// memory error is raised with the pinned preallocated message.
func (l *State) memDelta(delta int64) {
	g := l.g
	g.totalBytes += delta
	g.gcDebt += delta
	if delta > 0 && g.memLimit > 0 && g.totalBytes > g.memLimit {
		if g.mainThread == nil {
			// state not fully built yet; nothing to collect
			return
		}
		l.emergencyCollect()
		if g.totalBytes > g.memLimit {
			l.throwMemError()
		}
	}
}

// growVector returns v grown to hold at least used+1 elements. Growth
// doubles the capacity, clamps it to limit, and raises a runtime error
// naming what overflowed once the limit itself is hit.
func growVector[T any](l *State, v []T, used, limit int, what string) []T {
	if used+1 <= len(v) {
		return v
	}
	var newSize int
	if len(v) >= limit/2 {
		if len(v) >= limit {
			l.runError("too many %s (limit is %d)", what, limit)
		}
		newSize = limit
	} else {
		newSize = len(v) * 2
		if newSize < minVectorSize {
			newSize = minVectorSize
		}
	}
	nv := make([]T, newSize)
	copy(nv, v)
	l.memDelta(int64(newSize-len(v)) * sizeOfValue)
	return nv
}

// objectSize estimates the managed size of o for debt accounting.
func objectSize(o object) int64 {
	switch o := o.(type) {
	case *lstring:
		return sizeOfString + int64(len(o.bytes))
	case *table:
		return sizeOfTable + int64(len(o.array))*sizeOfValue + int64(len(o.node))*sizeOfNode
	case *closure:
		return sizeOfClosure + int64(len(o.upvals))*8
	case *goClosure:
		return sizeOfClosure + int64(len(o.upvals))*sizeOfValue
	case *userdata:
		return sizeOfUserdata + int64(len(o.data))
	case *proto:
		return sizeOfProto +
			int64(len(o.code))*4 +
			int64(len(o.k))*sizeOfValue +
			int64(len(o.protos))*8 +
			int64(len(o.upvalues))*16 +
			int64(len(o.lineInfo))*4 +
			int64(len(o.localVars))*24
	case *State:
		return sizeOfThread + int64(cap(o.stack))*sizeOfValue
	}
	return sizeOfHeader
}
