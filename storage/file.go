package storage

import (
	"fmt"
	"os"
)

// FileStorage is a byte-addressable driver over a single file. In-place
// page rewrites are always legal, so Erase is a no-op.
type FileStorage struct {
	file     *os.File
	path     string
	capacity uint32
}

// NewFileStorage creates (truncating) a file-backed device with the given
// capacity in pages.
func NewFileStorage(path string, capacityPages uint32) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage file %s: %w", path, err)
	}
	return &FileStorage{file: f, path: path, capacity: capacityPages}, nil
}

// OpenFileStorage opens an existing image without truncating it, for
// recovery of update-in-place trees.
func OpenFileStorage(path string, capacityPages uint32) (*FileStorage, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage file %s: %w", path, err)
	}
	return &FileStorage{file: f, path: path, capacity: capacityPages}, nil
}

func (s *FileStorage) ReadPage(pageNum uint32, pageSize int, buf []byte) error {
	if pageNum >= s.capacity {
		return ErrPageOutOfRange
	}
	if _, err := s.file.ReadAt(buf[:pageSize], int64(pageNum)*int64(pageSize)); err != nil {
		return fmt.Errorf("failed to read page %d: %w", pageNum, err)
	}
	return nil
}

func (s *FileStorage) WritePage(pageNum uint32, pageSize int, buf []byte) error {
	if pageNum >= s.capacity {
		return ErrPageOutOfRange
	}
	if _, err := s.file.WriteAt(buf[:pageSize], int64(pageNum)*int64(pageSize)); err != nil {
		return fmt.Errorf("failed to write page %d: %w", pageNum, err)
	}
	return nil
}

// Erase is a no-op: files permit arbitrary in-place rewrites.
func (s *FileStorage) Erase(startPage, endPage uint32) error {
	return nil
}

func (s *FileStorage) Flush() error {
	return s.file.Sync()
}

func (s *FileStorage) Close() error {
	return s.file.Close()
}

func (s *FileStorage) CapacityPages() uint32 {
	return s.capacity
}

// WrittenPages reports how many whole pages the backing file currently
// holds. Recovery scans backward from here looking for the root.
func (s *FileStorage) WrittenPages(pageSize int) (uint32, error) {
	stat, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat storage file: %w", err)
	}
	return uint32(stat.Size() / int64(pageSize)), nil
}
