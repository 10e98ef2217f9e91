package lune

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTableIntegerKeysUseArrayPart(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	for i := int64(1); i <= 100; i++ {
		l.tableSetInt(tbl, i, vInteger(i*10))
	}
	require.GreaterOrEqual(t, len(tbl.array), 50, "dense integer keys should migrate to the array part")
	for i := int64(1); i <= 100; i++ {
		v := tbl.getInt(i)
		require.Equal(t, i*10, v.integer())
	}
}

func TestTableStringKeys(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	keys := make([]*lstring, 0, 64)
	for i := 0; i < 64; i++ {
		k := l.internString(fmt.Sprintf("key%d", i))
		keys = append(keys, k)
		l.tableSet(tbl, vObject(k), vInteger(int64(i)))
	}
	for i, k := range keys {
		require.Equal(t, int64(i), tbl.getShortString(k).integer())
	}
}

func TestTableChainedScatterDisplacement(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 4)
	// sparse integer keys chosen to collide in a small node array
	keys := []int64{1 << 20, 1<<21 + 1, 1<<22 + 2, 1<<23 + 3, 1<<24 + 4, 1<<25 + 5}
	for i, k := range keys {
		l.tableSetInt(tbl, k, vInteger(int64(i)))
	}
	for i, k := range keys {
		require.Equal(t, int64(i), tbl.getInt(k).integer(), "key %d", k)
	}
}

func TestTableFloatKeyNormalization(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	l.tableSet(tbl, vFloat(2.0), vInteger(42))
	require.Equal(t, int64(42), tbl.getInt(2).integer())
	require.Equal(t, int64(42), tbl.get(vFloat(2.0)).integer())
	require.True(t, tbl.get(vFloat(2.5)).isNil())
}

func TestTableNilValuesAreAbsent(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	k := vObject(l.internString("gone"))
	l.tableSet(tbl, k, vInteger(1))
	l.tableSet(tbl, k, nilValue)
	require.True(t, tbl.get(k).isNil())
}

func TestTableLengthBorders(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	for i := int64(1); i <= 10; i++ {
		l.tableSetInt(tbl, i, vInteger(i))
	}
	require.Equal(t, int64(10), tbl.length())

	l.tableSetInt(tbl, 10, nilValue)
	require.Equal(t, int64(9), tbl.length())

	empty := newTable(l, 0, 0)
	require.Equal(t, int64(0), empty.length())
}

func TestTableNextVisitsEveryLiveEntry(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	want := map[int64]int64{}
	for i := int64(1); i <= 20; i++ {
		l.tableSetInt(tbl, i, vInteger(i*2))
		want[i] = i * 2
	}
	for i := int64(100); i <= 110; i++ {
		l.tableSetInt(tbl, i, vInteger(i*2))
		want[i] = i * 2
	}
	got := map[int64]int64{}
	k := nilValue
	for {
		nk, nv, ok := l.tableNext(tbl, k)
		if !ok {
			break
		}
		got[nk.integer()] = nv.integer()
		k = nk
	}
	require.Equal(t, want, got)
}

func TestTableRehashPreservesEntries(t *testing.T) {
	l := New()
	tbl := newTable(l, 0, 0)
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			l.tableSetInt(tbl, int64(i+1), vInteger(int64(i)))
		} else {
			k := l.internString(fmt.Sprintf("s%d", i))
			l.tableSet(tbl, vObject(k), vInteger(int64(i)))
		}
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			require.Equal(t, int64(i), tbl.getInt(int64(i+1)).integer())
		} else {
			k := l.internString(fmt.Sprintf("s%d", i))
			require.Equal(t, int64(i), tbl.getShortString(k).integer())
		}
	}
}

func TestTableAbsentMetamethodCache(t *testing.T) {
	l := New()
	mt := newTable(l, 0, 0)
	require.True(t, l.g.fastMeta(mt, metaIndex).isNil())
	// the miss is now cached
	require.NotZero(t, mt.flags&(1<<uint(metaIndex)))

	// a write must clear the cache (the caller's responsibility)
	key := vObject(l.internString("__index"))
	l.tableSet(mt, key, vInteger(1))
	mt.invalidateCache()
	require.False(t, l.g.fastMeta(mt, metaIndex).isNil())
}

func TestComputeSizesHalfFullRule(t *testing.T) {
	var nums [maxArrayBits + 1]int
	nums[0] = 1 // key 1
	nums[1] = 1 // key 2
	nums[2] = 2 // keys 3..4
	total := 4
	na := total
	size := computeSizes(&nums, &na)
	require.Equal(t, 4, size)
	require.Equal(t, 4, na)

	// a lone huge key must not blow up the array part
	var sparse [maxArrayBits + 1]int
	sparse[0] = 1
	sparse[20] = 1
	total = 2
	size = computeSizes(&sparse, &total)
	require.Equal(t, 1, size)
}
