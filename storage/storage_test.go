package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageSize = 512

func fillPage(b byte) []byte {
	page := make([]byte, testPageSize)
	for i := range page {
		page[i] = b
	}
	return page
}

func TestFileStorageRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	s, err := NewFileStorage(path, 64)
	require.NoError(t, err)
	defer s.Close()

	want := fillPage(0xAB)
	require.NoError(t, s.WritePage(7, testPageSize, want))

	got := make([]byte, testPageSize)
	require.NoError(t, s.ReadPage(7, testPageSize, got))
	assert.True(t, bytes.Equal(want, got))

	// Out of range is reported, not silently extended.
	err = s.WritePage(64, testPageSize, want)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	err = s.ReadPage(100, testPageSize, got)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	// Erase is a no-op on files.
	require.NoError(t, s.Erase(0, 7))
	require.NoError(t, s.ReadPage(7, testPageSize, got))
	assert.True(t, bytes.Equal(want, got))
}

func TestFileStorageReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.dat")
	s, err := NewFileStorage(path, 16)
	require.NoError(t, err)
	require.NoError(t, s.WritePage(0, testPageSize, fillPage(0x11)))
	require.NoError(t, s.WritePage(3, testPageSize, fillPage(0x22)))
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s2, err := OpenFileStorage(path, 16)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.WrittenPages(testPageSize)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	got := make([]byte, testPageSize)
	require.NoError(t, s2.ReadPage(3, testPageSize, got))
	assert.Equal(t, byte(0x22), got[0])
}

func TestMemStorageEraseFillsOnes(t *testing.T) {
	s := NewMemStorage(32, testPageSize, 8)

	require.NoError(t, s.WritePage(9, testPageSize, fillPage(0x00)))
	got := make([]byte, testPageSize)
	require.NoError(t, s.ReadPage(9, testPageSize, got))
	assert.Equal(t, byte(0x00), got[0])

	// Unaligned erase rejected.
	assert.ErrorIs(t, s.Erase(9, 12), ErrEraseAlignment)

	require.NoError(t, s.Erase(8, 15))
	require.NoError(t, s.ReadPage(9, testPageSize, got))
	assert.Equal(t, byte(0xFF), got[0])
	assert.Equal(t, uint32(1), s.NumErases())
}

func TestDataflashOverwriteRule(t *testing.T) {
	s := NewDataflashStorage(16, testPageSize, 8)

	// First write into an erased page: anything goes.
	require.NoError(t, s.WritePage(2, testPageSize, fillPage(0xF0)))

	// Clearing bits in place is allowed.
	require.NoError(t, s.WritePage(2, testPageSize, fillPage(0x30)))

	// Setting bits without an erase is the device fault we emulate.
	err := s.WritePage(2, testPageSize, fillPage(0x31))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverwriteBits))

	// After a block erase the page accepts arbitrary bytes again.
	require.NoError(t, s.Erase(0, 7))
	require.NoError(t, s.WritePage(2, testPageSize, fillPage(0x31)))
}

func TestCachedStorageReadThrough(t *testing.T) {
	inner := NewMemStorage(16, testPageSize, 0)
	s, err := NewCachedStorage(inner, testPageSize, 8)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WritePage(5, testPageSize, fillPage(0x42)))

	got := make([]byte, testPageSize)
	require.NoError(t, s.ReadPage(5, testPageSize, got))
	assert.Equal(t, byte(0x42), got[0])

	// A write must invalidate whatever the cache held.
	require.NoError(t, s.WritePage(5, testPageSize, fillPage(0x43)))
	require.NoError(t, s.ReadPage(5, testPageSize, got))
	assert.Equal(t, byte(0x43), got[0])

	assert.Equal(t, uint32(16), s.CapacityPages())
}
