package bplus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeaderRoundTrip(t *testing.T) {
	p := make([]byte, 64)

	pageSetPrev(p, 1234)
	assert.Equal(t, uint32(1234), pagePrev(p))
	assert.True(t, pageHasPrev(p))
	pageClearPrev(p)
	assert.False(t, pageHasPrev(p))

	pageSetCount(p, 0)
	assert.Equal(t, 0, pageCount(p))
	pageSetCount(p, 300) // needs the high nibble
	assert.Equal(t, 300, pageCount(p))
	pageIncCount(p)
	assert.Equal(t, 301, pageCount(p))

	// Flags must survive count updates and vice versa.
	pageSetFlags(p, true, true, false)
	assert.True(t, pageIsRoot(p))
	assert.True(t, pageIsInterior(p))
	assert.Equal(t, 301, pageCount(p))

	pageSetCount(p, 55)
	assert.True(t, pageIsRoot(p))
	assert.True(t, pageIsInterior(p))
	assert.Equal(t, 55, pageCount(p))

	pageSetFlags(p, false, false, true)
	assert.False(t, pageIsRoot(p))
	assert.False(t, pageIsInterior(p))
	assert.Equal(t, 55, pageCount(p))
}

func TestCapacityFormulas(t *testing.T) {
	// 512-byte pages, 16-byte records, 4-byte keys.
	assert.Equal(t, 31, sortedLeafCapacity(512, 16))
	assert.Equal(t, 62, sortedInteriorCapacity(512, 4))
	// Overwrite layout charges two bitmap bits per slot.
	assert.Equal(t, 30, overwriteLeafCapacity(512, 16))
	assert.Equal(t, 60, overwriteInteriorCapacity(512, 4))

	assert.Equal(t, 1, bitmapBytes(8))
	assert.Equal(t, 2, bitmapBytes(9))
	assert.Equal(t, 4, bitmapBytes(30))
}

func TestRegionsDoNotOverlap(t *testing.T) {
	tree := newTestTree(t, ModeInPageOverwrite, 512)
	defer tree.Close()

	// Last leaf value must end inside the page.
	end := tree.leafHeader + tree.maxLeaf*tree.keySize + tree.maxLeaf*tree.dataSize
	assert.LessOrEqual(t, end, testPageSize)
	// Interior: maxInterior keys plus maxInterior+1 pointers.
	end = tree.intHeader + tree.maxInterior*tree.keySize + (tree.maxInterior+1)*pointerSize
	assert.LessOrEqual(t, end, testPageSize)

	// Bitmap region must not collide with the key region.
	assert.GreaterOrEqual(t, tree.leafHeader, baseHeaderSize+2*tree.leafBitmapBytes)
	assert.GreaterOrEqual(t, tree.intHeader, baseHeaderSize+2*tree.intBitmapBytes)
}

func TestIsMaxKey(t *testing.T) {
	assert.True(t, isMaxKey([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.False(t, isMaxKey([]byte{0xFF, 0xFF, 0xFF, 0xFE}))
	assert.False(t, isMaxKey([]byte{0, 0, 0, 0}))
}
