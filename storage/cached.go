package storage

import (
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedStorage decorates a driver with a ristretto read-through page
// cache. It is meant for PC-class deployments (the benchmark driver) where
// RAM is plentiful; the core engine never uses it, since the page buffer
// owns its own fixed frame pool.
//
// Writes and erases invalidate before reaching the inner driver, so a read
// after a write always observes the new bytes.
type CachedStorage struct {
	inner Storage
	cache *ristretto.Cache[uint64, []byte]
}

// NewCachedStorage wraps inner with a cache of roughly maxPages pages.
func NewCachedStorage(inner Storage, pageSize int, maxPages int64) (*CachedStorage, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxPages * 10,
		MaxCost:     maxPages * int64(pageSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	return &CachedStorage{inner: inner, cache: cache}, nil
}

func (s *CachedStorage) ReadPage(pageNum uint32, pageSize int, buf []byte) error {
	if page, ok := s.cache.Get(uint64(pageNum)); ok && len(page) == pageSize {
		copy(buf[:pageSize], page)
		return nil
	}
	if err := s.inner.ReadPage(pageNum, pageSize, buf); err != nil {
		return err
	}
	page := make([]byte, pageSize)
	copy(page, buf[:pageSize])
	s.cache.Set(uint64(pageNum), page, int64(pageSize))
	return nil
}

func (s *CachedStorage) WritePage(pageNum uint32, pageSize int, buf []byte) error {
	s.cache.Del(uint64(pageNum))
	return s.inner.WritePage(pageNum, pageSize, buf)
}

func (s *CachedStorage) Erase(startPage, endPage uint32) error {
	for p := startPage; p <= endPage; p++ {
		s.cache.Del(uint64(p))
	}
	return s.inner.Erase(startPage, endPage)
}

func (s *CachedStorage) Flush() error {
	if f, ok := s.inner.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func (s *CachedStorage) Close() error {
	s.cache.Close()
	return s.inner.Close()
}

func (s *CachedStorage) CapacityPages() uint32 {
	if sz, ok := s.inner.(Sizer); ok {
		return sz.CapacityPages()
	}
	return 0
}
