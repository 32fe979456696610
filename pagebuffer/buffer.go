// Package pagebuffer implements the fixed frame pool and space manager that
// sits between the B+-tree and a storage driver. It owns physical page
// placement, the free-page map, the erased window on erase-before-write
// media, and block compaction. The buffer never inspects page payloads; the
// tree participates through the Owner callbacks.
package pagebuffer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"FlashTree/bitarray"
	"FlashTree/storage"
)

// Validity classifies a physical page for the space manager.
type Validity uint8

const (
	// Unreachable pages hold no live data and no mapping names them.
	Unreachable Validity = iota
	// Remapped pages hold no live data, but a mapping still names them,
	// so their slot must not be reused until the mapping dies.
	Remapped
	// Reachable pages hold current tree data.
	Reachable
)

// Owner is the tree side of the buffer contract. MovePage may be invoked
// from within EnsureSpace, which itself runs inside a tree operation; the
// owner must not assume any frame survives across these calls.
type Owner interface {
	IsValid(pageNum uint32) Validity
	MovePage(prev, curr uint32, frame []byte) error
}

// Config describes buffer geometry. CapacityPages may be 0 when Storage
// implements storage.Sizer.
type Config struct {
	PageSize        int
	NumFrames       int
	CapacityPages   uint32
	EraseBlockPages int
	EraseRequired   bool // copy-on-write / in-page-overwrite media
	OverwriteInit   bool // erased state is all-ones; InitFrame fills 0xFF
	Storage         storage.Storage
}

// Stats counts buffer traffic since init or the last ResetStats.
type Stats struct {
	Reads       uint64
	BufferHits  uint64
	Writes      uint64
	Overwrites  uint64
	Relocations uint64
	Erases      uint64
}

// ErrFull is returned when EnsureSpace cannot free the requested pages.
var ErrFull = errors.New("pagebuffer: storage full")

const noPage = ^uint32(0)

// Buffer routes all page I/O through a pool of NumFrames page frames.
// Frame 0 is the mutation scratch, frame 1 is reserved for the root when
// three or more frames exist, and the remaining frames rotate round-robin.
type Buffer struct {
	st        storage.Storage
	pageSize  int
	numFrames int
	frames    []byte
	status    []uint32 // physical page cached per frame, noPage if none

	lastHit   uint32
	nextFrame int
	rootPage  uint32

	eraseRequired bool
	overwriteInit bool
	eraseBlock    uint32
	endDataPage   uint32 // exclusive upper bound of physical pages

	nextPageID uint32 // next logical id stamped into page headers
	cursor     uint32 // physical id of next page to write
	erasedStart,
	erasedEnd uint32 // inclusive erased window (erase-required modes)
	wrapped bool

	free    *bitarray.BitArray // set: holds no live tree data
	written *bitarray.BitArray // set: written since the covering erase

	scratch    []byte // one erase block, for relocation
	saveStates []uint8
	stage      []byte // out-bound page image, survives EnsureSpace reentry
	owner      Owner

	ensuring bool
	stats    Stats
}

// New allocates the frame pool and relocation scratch. All memory the
// buffer will ever use is acquired here.
func New(cfg Config) (*Buffer, error) {
	if cfg.NumFrames < 2 {
		return nil, fmt.Errorf("pagebuffer: need at least 2 frames, have %d", cfg.NumFrames)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("pagebuffer: invalid page size %d", cfg.PageSize)
	}
	capacity := cfg.CapacityPages
	if capacity == 0 {
		if sz, ok := cfg.Storage.(storage.Sizer); ok {
			capacity = sz.CapacityPages()
		}
	}
	if capacity == 0 {
		return nil, fmt.Errorf("pagebuffer: storage capacity unknown")
	}
	if cfg.EraseRequired {
		if cfg.EraseBlockPages <= 0 {
			return nil, fmt.Errorf("pagebuffer: erase block size required")
		}
		// A trailing partial block can never be erased; ignore it.
		capacity -= capacity % uint32(cfg.EraseBlockPages)
		if capacity == 0 {
			return nil, fmt.Errorf("pagebuffer: capacity below one erase block")
		}
	}

	b := &Buffer{
		st:            cfg.Storage,
		pageSize:      cfg.PageSize,
		numFrames:     cfg.NumFrames,
		frames:        make([]byte, cfg.NumFrames*cfg.PageSize),
		status:        make([]uint32, cfg.NumFrames),
		eraseRequired: cfg.EraseRequired,
		overwriteInit: cfg.OverwriteInit,
		eraseBlock:    uint32(cfg.EraseBlockPages),
		endDataPage:   capacity,
		rootPage:      noPage,
		lastHit:       noPage,
		nextFrame:     2,
		free:          bitarray.New(int(capacity), true),
		written:       bitarray.New(int(capacity), false),
	}
	for i := range b.status {
		b.status[i] = noPage
	}
	b.stage = make([]byte, cfg.PageSize)
	if cfg.EraseRequired {
		b.scratch = make([]byte, cfg.EraseBlockPages*cfg.PageSize)
		b.saveStates = make([]uint8, cfg.EraseBlockPages)
		b.erasedStart = 0
		b.erasedEnd = capacity - 1 // devices ship erased
	}
	return b, nil
}

// SetOwner installs the tree callbacks. Must be called before any write on
// erase-required media.
func (b *Buffer) SetOwner(o Owner) {
	b.owner = o
}

// SetRootPage tells the buffer where the root currently lives so the frame
// policy can pin it to frame 1. A placement hint only.
func (b *Buffer) SetRootPage(p uint32) {
	b.rootPage = p
}

func (b *Buffer) frame(i int) []byte {
	return b.frames[i*b.pageSize : (i+1)*b.pageSize]
}

// frameIndex resolves a slice back to its pool slot, or -1 for memory the
// pool does not own (the relocation scratch).
func (b *Buffer) frameIndex(frame []byte) int {
	if len(frame) == 0 {
		return -1
	}
	for i := 0; i < b.numFrames; i++ {
		if &b.frames[i*b.pageSize] == &frame[0] {
			return i
		}
	}
	return -1
}

// Read returns a frame holding page pageNum, touching storage only on a
// miss. The returned slice is valid only until the next buffer call.
func (b *Buffer) Read(pageNum uint32) ([]byte, error) {
	// Frame 0 is the mutation scratch and is never trusted as a cache.
	for i := 1; i < b.numFrames; i++ {
		if b.status[i] == pageNum {
			b.stats.BufferHits++
			b.lastHit = pageNum
			return b.frame(i), nil
		}
	}

	var i int
	switch {
	case b.numFrames == 2:
		i = 1
	case pageNum == b.rootPage:
		i = 1
	case b.numFrames == 3:
		i = 2
	default:
		i = -1
		for j := 2; j < b.numFrames; j++ {
			if b.status[j] == noPage {
				i = j
				break
			}
		}
		if i == -1 {
			i = b.nextFrame
			if i < 2 || i >= b.numFrames {
				i = 2
			}
			if b.status[i] == b.lastHit && b.lastHit != noPage {
				i++
				if i >= b.numFrames {
					i = 2
				}
			}
			b.nextFrame = i + 1
		}
	}
	return b.ReadInto(pageNum, i)
}

// ReadInto forces page pageNum into a specific frame. Callers about to
// mutate a page read it into frame 0.
func (b *Buffer) ReadInto(pageNum uint32, frameIndex int) ([]byte, error) {
	buf := b.frame(frameIndex)
	if err := b.st.ReadPage(pageNum, b.pageSize, buf); err != nil {
		return nil, err
	}
	b.status[frameIndex] = pageNum
	b.stats.Reads++
	return buf, nil
}

// InitFrame prepares frame frameIndex for a fresh node: zero-filled for
// sorted layouts, one-filled for the overwrite layout (erased state).
func (b *Buffer) InitFrame(frameIndex int) []byte {
	buf := b.frame(frameIndex)
	fill := byte(0)
	if b.overwriteInit {
		fill = 0xFF
	}
	for i := range buf {
		buf[i] = fill
	}
	b.status[frameIndex] = noPage
	return buf
}

// Write stamps the next logical id into the page header, places the page
// via the placement policy, persists it, marks it live, and returns its
// physical id.
func (b *Buffer) Write(frame []byte) (uint32, error) {
	binary.LittleEndian.PutUint32(frame[0:4], b.nextPageID)
	b.nextPageID++

	// Placement may run EnsureSpace, whose MovePage callbacks are free to
	// reuse pool frames. Stage the outgoing image first so the write
	// cannot be corrupted from under us.
	copy(b.stage, frame[:b.pageSize])
	pageNum, err := b.nextFreePage()
	if err != nil {
		return 0, err
	}
	if err := b.st.WritePage(pageNum, b.pageSize, b.stage); err != nil {
		return 0, err
	}
	b.free.Set(int(pageNum), false)
	b.written.Set(int(pageNum), true)
	if fi := b.frameIndex(frame); fi >= 0 && bytes.Equal(frame[:b.pageSize], b.stage) {
		b.status[fi] = pageNum
	}
	b.stats.Writes++
	return pageNum, nil
}

// WriteDirect persists frame at a chosen physical id, bypassing the
// cursor. Used by block compaction to put survivors back in place.
func (b *Buffer) WriteDirect(frame []byte, pageNum uint32) error {
	if err := b.st.WritePage(pageNum, b.pageSize, frame); err != nil {
		return err
	}
	b.free.Set(int(pageNum), false)
	b.written.Set(int(pageNum), true)
	b.stats.Relocations++
	b.invalidateCached(pageNum, frame)
	return nil
}

// Overwrite rewrites a page at its current address. Legal in update-in-place
// mode always, and in in-page-overwrite mode when the caller only clears
// bits. Any frame caching the page is refreshed.
func (b *Buffer) Overwrite(frame []byte, pageNum uint32) error {
	if err := b.st.WritePage(pageNum, b.pageSize, frame); err != nil {
		return err
	}
	b.written.Set(int(pageNum), true)
	b.stats.Overwrites++
	b.invalidateCached(pageNum, frame)
	return nil
}

// invalidateCached refreshes pool frames that cache pageNum with the bytes
// just written from src (which may itself be a pool frame or external
// scratch).
func (b *Buffer) invalidateCached(pageNum uint32, src []byte) {
	for i := 0; i < b.numFrames; i++ {
		if b.status[i] != pageNum {
			continue
		}
		dst := b.frame(i)
		if &dst[0] == &src[0] {
			continue
		}
		copy(dst, src[:b.pageSize])
	}
}

// SetFree marks a page as holding no live data. The tree calls this when a
// page is superseded and nothing (pointer or mapping) names it anymore.
func (b *Buffer) SetFree(pageNum uint32) {
	b.free.Set(int(pageNum), true)
}

// IsFree reports whether a page holds no live data.
func (b *Buffer) IsFree(pageNum uint32) bool {
	return b.free.Get(int(pageNum))
}

// CapacityPages returns the device capacity the buffer manages.
func (b *Buffer) CapacityPages() uint32 {
	return b.endDataPage
}

// PageSize returns the page size in bytes.
func (b *Buffer) PageSize() int {
	return b.pageSize
}

// Stats returns a copy of the traffic counters.
func (b *Buffer) Stats() Stats {
	return b.stats
}

// ResetStats zeroes the traffic counters.
func (b *Buffer) ResetStats() {
	b.stats = Stats{}
}

// Flush forwards to the driver when it buffers writes. Advisory.
func (b *Buffer) Flush() error {
	if f, ok := b.st.(storage.Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Close releases the storage driver.
func (b *Buffer) Close() error {
	return b.st.Close()
}
