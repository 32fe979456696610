package bplus

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, it *Iterator) []uint32 {
	t.Helper()
	var keys []uint32
	for {
		key, _, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			return keys
		}
		keys = append(keys, binary.LittleEndian.Uint32(key))
	}
}

func TestIteratorFullScan(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTestTree(t, mode, 8192)
			defer tree.Close()

			perm := rand.New(rand.NewSource(7)).Perm(3000)
			for _, k := range perm {
				require.NoError(t, tree.Put(u32(uint32(k)), record(uint32(k))))
			}

			var it Iterator
			require.NoError(t, tree.InitIterator(&it, nil, nil))
			keys := drain(t, &it)
			require.Len(t, keys, 3000)
			for i, k := range keys {
				require.Equal(t, uint32(i), k)
			}
		})
	}
}

func TestIteratorEmptyTree(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTestTree(t, mode, 1024)
			defer tree.Close()

			var it Iterator
			require.NoError(t, tree.InitIterator(&it, nil, nil))
			assert.Empty(t, drain(t, &it))
		})
	}
}

func TestIteratorEmptyRange(t *testing.T) {
	tree := newTestTree(t, ModeCopyOnWrite, 2048)
	defer tree.Close()
	for k := uint32(0); k < 100; k += 2 {
		require.NoError(t, tree.Put(u32(k), record(k)))
	}

	var it Iterator
	// Bounds bracket a hole: no even key in [51, 51].
	require.NoError(t, tree.InitIterator(&it, u32(51), u32(51)))
	assert.Empty(t, drain(t, &it))

	// Range entirely above the key space.
	require.NoError(t, tree.InitIterator(&it, u32(1000), u32(2000)))
	assert.Empty(t, drain(t, &it))
}

func TestIteratorHalfOpenBounds(t *testing.T) {
	for _, mode := range allModes() {
		t.Run(mode.String(), func(t *testing.T) {
			tree := newTestTree(t, mode, 4096)
			defer tree.Close()
			for k := uint32(0); k < 300; k++ {
				require.NoError(t, tree.Put(u32(k), record(k)))
			}

			var it Iterator
			require.NoError(t, tree.InitIterator(&it, u32(250), nil))
			keys := drain(t, &it)
			require.Len(t, keys, 50)
			assert.Equal(t, uint32(250), keys[0])
			assert.Equal(t, uint32(299), keys[49])

			require.NoError(t, tree.InitIterator(&it, nil, u32(49)))
			keys = drain(t, &it)
			require.Len(t, keys, 50)
			assert.Equal(t, uint32(0), keys[0])
			assert.Equal(t, uint32(49), keys[49])
		})
	}
}

func TestIteratorMinKeyBetweenRecords(t *testing.T) {
	tree := newTestTree(t, ModeCopyOnWrite, 2048)
	defer tree.Close()
	for k := uint32(0); k < 500; k += 5 {
		require.NoError(t, tree.Put(u32(k), record(k)))
	}

	var it Iterator
	// 42 is absent; the scan must start at 45.
	require.NoError(t, tree.InitIterator(&it, u32(42), u32(61)))
	assert.Equal(t, []uint32{45, 50, 55, 60}, drain(t, &it))
}
