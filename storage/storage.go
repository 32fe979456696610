// Package storage defines the block-storage driver contract the page buffer
// writes through, plus reference drivers: a byte-addressable file driver, an
// in-RAM driver that emulates erase-before-write media, a dataflash-style
// driver that enforces the NOR overwrite rule, and a ristretto-backed
// read-through cache decorator for PC-class deployments.
package storage

import "errors"

// Storage is the persistence abstraction. A driver addresses fixed-size
// pages by physical page number and does not track free or erase state;
// that policy lives in the page buffer.
type Storage interface {
	// ReadPage copies pageSize bytes of page pageNum into buf.
	ReadPage(pageNum uint32, pageSize int, buf []byte) error
	// WritePage persists pageSize bytes of buf at page pageNum.
	WritePage(pageNum uint32, pageSize int, buf []byte) error
	// Erase erases physical pages startPage..endPage inclusive. The range
	// must be aligned to the device erase block. Drivers for
	// byte-addressable media may treat this as a no-op.
	Erase(startPage, endPage uint32) error
	// Close releases underlying handles.
	Close() error
}

// Sizer reports a driver's declared logical capacity in pages.
type Sizer interface {
	CapacityPages() uint32
}

// Flusher is implemented by drivers that buffer writes (the file driver).
// Flush is advisory: writes are considered durable once WritePage returns.
type Flusher interface {
	Flush() error
}

var (
	// ErrPageOutOfRange is returned when pageNum is at or past the
	// driver's declared capacity.
	ErrPageOutOfRange = errors.New("storage: page out of range")
	// ErrEraseAlignment is returned when an erase range does not align to
	// the device erase block.
	ErrEraseAlignment = errors.New("storage: erase range not block aligned")
	// ErrOverwriteBits is returned by DataflashStorage when a write
	// attempts a 0->1 bit transition on a non-erased page.
	ErrOverwriteBits = errors.New("storage: write sets bits on non-erased page")
)
