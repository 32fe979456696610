package bplus

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FlashTree/storage"
)

const (
	testPageSize = 512
	testKeySize  = 4
	testDataSize = 12
	testBlock    = 8
)

func u32(k uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, k)
	return b
}

func i32(k int32) []byte {
	return u32(uint32(k))
}

// record builds the key's data payload: the key value repeated across the
// data region.
func record(k uint32) []byte {
	b := make([]byte, testDataSize)
	for off := 0; off+4 <= testDataSize; off += 4 {
		binary.LittleEndian.PutUint32(b[off:], k)
	}
	return b
}

func newTestTree(t *testing.T, mode Mode, capacity uint32) *Tree {
	t.Helper()
	var st storage.Storage
	if mode == ModeInPageOverwrite {
		st = storage.NewDataflashStorage(capacity, testPageSize, testBlock)
	} else {
		st = storage.NewMemStorage(capacity, testPageSize, testBlock)
	}
	tree, err := New(Config{
		PageSize:        testPageSize,
		KeySize:         testKeySize,
		DataSize:        testDataSize,
		NumFrames:       3,
		EraseBlockPages: testBlock,
		Mode:            mode,
		MappingBytes:    1024,
		Compare:         CompareUint32,
		Storage:         st,
	})
	require.NoError(t, err)
	return tree
}

func allModes() []Mode {
	return []Mode{ModeUpdateInPlace, ModeCopyOnWrite, ModeInPageOverwrite}
}

func TestGeometry(t *testing.T) {
	tree := newTestTree(t, ModeCopyOnWrite, 1024)
	defer tree.Close()
	// 512-byte pages, 16-byte records, 4-byte keys and pointers.
	assert.Equal(t, 31, tree.maxLeaf)
	assert.Equal(t, 62, tree.maxInterior)

	ow := newTestTree(t, ModeInPageOverwrite, 1024)
	defer ow.Close()
	assert.Equal(t, 30, ow.maxLeaf)
	assert.Equal(t, 60, ow.maxInterior)
	assert.Equal(t, 4, ow.leafBitmapBytes)
	assert.Equal(t, 8, ow.intBitmapBytes)
}

func TestPutGetSmall(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTestTree(t, mode, 2048)
			defer tree.Close()

			for k := uint32(1); k <= 100; k++ {
				require.NoError(t, tree.Put(u32(k), record(k)), "put %d", k)
			}
			out := make([]byte, testDataSize)
			for k := uint32(1); k <= 100; k++ {
				require.NoError(t, tree.Get(u32(k), out), "get %d", k)
				assert.Equal(t, record(k), out, "data for %d", k)
			}
			assert.ErrorIs(t, tree.Get(u32(101), out), ErrNotFound)
			assert.ErrorIs(t, tree.Get(u32(0), out), ErrNotFound)
		})
	}
}

func TestPutDuplicateKeyUpserts(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTestTree(t, mode, 2048)
			defer tree.Close()

			for k := uint32(0); k < 200; k++ {
				require.NoError(t, tree.Put(u32(k), record(k)))
			}
			// Replace a spread of keys with shifted data.
			for k := uint32(0); k < 200; k += 7 {
				require.NoError(t, tree.Put(u32(k), record(k+1000)))
			}
			out := make([]byte, testDataSize)
			for k := uint32(0); k < 200; k++ {
				require.NoError(t, tree.Get(u32(k), out))
				want := record(k)
				if k%7 == 0 {
					want = record(k + 1000)
				}
				assert.Equal(t, want, out, "data for %d", k)
			}

			// An upsert must not create a duplicate visible to the scan.
			var it Iterator
			require.NoError(t, tree.InitIterator(&it, nil, nil))
			seen := 0
			last := int64(-1)
			for {
				key, _, ok, err := it.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				cur := int64(binary.LittleEndian.Uint32(key))
				require.Greater(t, cur, last, "keys must be strictly ascending")
				last = cur
				seen++
			}
			assert.Equal(t, 200, seen)
		})
	}
}

// The interior split boundary is pinned: count keys plus the promoted one
// form a merged sequence whose index (count+1)/2 moves up, leaving the left
// half at most one key heavier.
func TestInteriorSplitBoundary(t *testing.T) {
	st := storage.NewMemStorage(256, 64, 8)
	tree, err := New(Config{
		PageSize:        64,
		KeySize:         4,
		DataSize:        12,
		NumFrames:       3,
		EraseBlockPages: 8,
		Mode:            ModeUpdateInPlace,
		Compare:         CompareUint32,
		Storage:         st,
	})
	require.NoError(t, err)
	defer tree.Close()
	require.Equal(t, 6, tree.maxInterior)

	build := func() []byte {
		p := tree.buf.InitFrame(0)
		pageClearPrev(p)
		pageSetFlags(p, false, true, false)
		pageSetCount(p, 6)
		for i := 0; i < 6; i++ {
			copy(tree.intKey(p, i), u32(uint32(10*(i+1))))
			tree.intSetPtr(p, i, uint32(100+i))
		}
		tree.intSetPtr(p, 6, 106)
		return p
	}

	readBack := func(id uint32) []byte {
		p, err := tree.buf.Read(id)
		require.NoError(t, err)
		return p
	}

	// Inserted key is the merged median (childNum == m == 3): it promotes.
	p := build()
	copy(tree.tempKey, u32(35))
	left, right, err := tree.splitInterior(p, 900, 901)
	require.NoError(t, err)
	assert.Equal(t, u32(35), tree.tempKey[:4])

	lp := readBack(left)
	require.Equal(t, 3, pageCount(lp))
	assert.Equal(t, u32(30), tree.intKey(lp, 2))
	assert.Equal(t, uint32(900), tree.intPtr(lp, 3))

	rp := readBack(right)
	require.Equal(t, 3, pageCount(rp))
	assert.Equal(t, u32(40), tree.intKey(rp, 0))
	assert.Equal(t, uint32(901), tree.intPtr(rp, 0))
	assert.Equal(t, uint32(106), tree.intPtr(rp, 3))

	// Insert below the median: old key 30 (merged index 3) promotes.
	p = build()
	copy(tree.tempKey, u32(15))
	left, right, err = tree.splitInterior(p, 900, 901)
	require.NoError(t, err)
	assert.Equal(t, u32(30), tree.tempKey[:4])

	lp = readBack(left)
	require.Equal(t, 3, pageCount(lp))
	assert.Equal(t, u32(10), tree.intKey(lp, 0))
	assert.Equal(t, u32(15), tree.intKey(lp, 1))
	assert.Equal(t, u32(20), tree.intKey(lp, 2))
	assert.Equal(t, uint32(900), tree.intPtr(lp, 1))
	assert.Equal(t, uint32(901), tree.intPtr(lp, 2))

	rp = readBack(right)
	require.Equal(t, 3, pageCount(rp))
	assert.Equal(t, u32(40), tree.intKey(rp, 0))
	assert.Equal(t, uint32(103), tree.intPtr(rp, 0))

	// Insert above the median: old key 40 (merged index 3) promotes and
	// the right half receives the new key.
	p = build()
	copy(tree.tempKey, u32(55))
	left, right, err = tree.splitInterior(p, 900, 901)
	require.NoError(t, err)
	assert.Equal(t, u32(40), tree.tempKey[:4])

	lp = readBack(left)
	require.Equal(t, 3, pageCount(lp))
	assert.Equal(t, u32(30), tree.intKey(lp, 2))
	assert.Equal(t, uint32(103), tree.intPtr(lp, 3))

	rp = readBack(right)
	require.Equal(t, 3, pageCount(rp))
	assert.Equal(t, u32(50), tree.intKey(rp, 0))
	assert.Equal(t, u32(55), tree.intKey(rp, 1))
	assert.Equal(t, u32(60), tree.intKey(rp, 2))
	assert.Equal(t, uint32(900), tree.intPtr(rp, 1))
	assert.Equal(t, uint32(901), tree.intPtr(rp, 2))
}

// Lookups allocate nothing once the tree is warm.
func TestGetDoesNotAllocate(t *testing.T) {
	tree := newTestTree(t, ModeCopyOnWrite, 4096)
	defer tree.Close()
	for k := uint32(0); k < 2000; k++ {
		require.NoError(t, tree.Put(u32(k), record(k)))
	}
	key := u32(777)
	out := make([]byte, testDataSize)
	allocs := testing.AllocsPerRun(200, func() {
		if err := tree.Get(key, out); err != nil {
			t.Fatal(err)
		}
	})
	assert.Zero(t, allocs)
}

func TestPutDoesNotAllocate(t *testing.T) {
	tree := newTestTree(t, ModeCopyOnWrite, 8192)
	defer tree.Close()
	for k := uint32(0); k < 1000; k++ {
		require.NoError(t, tree.Put(u32(k), record(k)))
	}
	next := uint32(1000)
	key := make([]byte, 4)
	data := record(0)
	allocs := testing.AllocsPerRun(500, func() {
		binary.LittleEndian.PutUint32(key, next)
		next++
		if err := tree.Put(key, data); err != nil {
			t.Fatal(err)
		}
	})
	assert.Zero(t, allocs)
}
