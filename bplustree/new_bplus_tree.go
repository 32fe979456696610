package bplus

import (
	"fmt"

	"FlashTree/pagebuffer"
)

// New builds a tree over cfg.Storage and writes the empty root. Every byte
// of working memory — frame pool, relocation scratch, temp records, free
// map, mapping table, active path — is acquired here.
func New(cfg Config) (*Tree, error) {
	t, err := newTreeState(cfg)
	if err != nil {
		return nil, err
	}
	if err := t.writeEmptyRoot(); err != nil {
		return nil, err
	}
	return t, nil
}

// newTreeState validates geometry and acquires all working memory without
// touching storage. Open uses it to avoid clobbering an existing image.
func newTreeState(cfg Config) (*Tree, error) {
	if cfg.KeySize <= 0 || cfg.DataSize <= 0 {
		return nil, fmt.Errorf("bplus: invalid record geometry key=%d data=%d", cfg.KeySize, cfg.DataSize)
	}
	if cfg.Compare == nil {
		return nil, fmt.Errorf("bplus: compare function required")
	}
	if cfg.NumFrames == 0 {
		cfg.NumFrames = 3
	}

	t := &Tree{
		mode:       cfg.Mode,
		compare:    cfg.Compare,
		keySize:    cfg.KeySize,
		dataSize:   cfg.DataSize,
		recordSize: cfg.KeySize + cfg.DataSize,
		savedPrev:  noPrev,
	}

	switch cfg.Mode {
	case ModeInPageOverwrite:
		t.maxLeaf = overwriteLeafCapacity(cfg.PageSize, t.recordSize)
		t.maxInterior = overwriteInteriorCapacity(cfg.PageSize, cfg.KeySize)
		t.leafBitmapBytes = bitmapBytes(t.maxLeaf)
		t.intBitmapBytes = bitmapBytes(t.maxInterior)
	default:
		t.maxLeaf = sortedLeafCapacity(cfg.PageSize, t.recordSize)
		t.maxInterior = sortedInteriorCapacity(cfg.PageSize, cfg.KeySize)
	}
	t.leafHeader = baseHeaderSize + 2*t.leafBitmapBytes
	t.intHeader = baseHeaderSize + 2*t.intBitmapBytes
	if t.maxLeaf < 2 || t.maxInterior < 2 {
		return nil, fmt.Errorf("bplus: page size %d too small for records of %d bytes",
			cfg.PageSize, t.recordSize)
	}

	if cfg.Mode == ModeCopyOnWrite {
		t.mappings = newMappingTable(cfg.MappingBytes)
	}

	buf, err := pagebuffer.New(pagebuffer.Config{
		PageSize:        cfg.PageSize,
		NumFrames:       cfg.NumFrames,
		EraseBlockPages: cfg.EraseBlockPages,
		EraseRequired:   cfg.Mode != ModeUpdateInPlace,
		OverwriteInit:   cfg.Mode == ModeInPageOverwrite,
		Storage:         cfg.Storage,
	})
	if err != nil {
		return nil, err
	}
	t.buf = buf
	buf.SetOwner(t)

	t.tempKey = make([]byte, cfg.KeySize)
	t.tempKey2 = make([]byte, cfg.KeySize)
	t.tempKey3 = make([]byte, cfg.KeySize)
	t.tempData = make([]byte, cfg.DataSize)
	return t, nil
}

func (t *Tree) writeEmptyRoot() error {
	frame := t.buf.InitFrame(0)
	pageClearPrev(frame)
	pageSetCount(frame, 0)
	pageSetFlags(frame, true, false, t.mode == ModeInPageOverwrite)
	root, err := t.buf.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write empty root: %w", err)
	}
	t.levels = 1
	t.numNodes = 1
	t.activePath[0] = root
	t.buf.SetRootPage(root)
	return nil
}

// Open recovers a tree from an existing update-in-place image: scan
// backward from the last written page for the newest page flagged as root,
// then rebuild the cursors from the file size. Erase-before-write media
// cannot be recovered this way — the erased-window state does not survive
// power loss — so those modes return ErrRecoveryUnsupported.
func Open(cfg Config) (*Tree, error) {
	if cfg.Mode != ModeUpdateInPlace {
		return nil, ErrRecoveryUnsupported
	}
	type writtenSizer interface {
		WrittenPages(pageSize int) (uint32, error)
	}
	ws, ok := cfg.Storage.(writtenSizer)
	if !ok {
		return nil, fmt.Errorf("bplus: storage does not expose written size: %w", ErrRecoveryUnsupported)
	}
	written, err := ws.WrittenPages(cfg.PageSize)
	if err != nil {
		return nil, err
	}

	t, err := newTreeState(cfg)
	if err != nil {
		return nil, err
	}
	if written == 0 {
		// Fresh image.
		if err := t.writeEmptyRoot(); err != nil {
			return nil, err
		}
		return t, nil
	}

	rootPage := noPrev
	var lastLogical uint32
	for p := written; p > 0; p-- {
		frame, err := t.buf.Read(p - 1)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page %d: %w", p-1, err)
		}
		if p == written {
			lastLogical = pageLogicalID(frame)
		}
		if pageIsRoot(frame) {
			rootPage = p - 1
			break
		}
	}
	if rootPage == noPrev {
		return nil, fmt.Errorf("bplus: no root page found in %d pages", written)
	}

	t.activePath[0] = rootPage
	t.buf.SetRootPage(rootPage)
	t.buf.RestoreCursor(written, lastLogical+1)

	// Height: follow the leftmost pointer down to a leaf.
	t.levels = 1
	next := rootPage
	for {
		frame, err := t.buf.Read(next)
		if err != nil {
			return nil, err
		}
		if !pageIsInterior(frame) {
			break
		}
		t.levels++
		next = t.intPtr(frame, 0)
	}
	return t, nil
}

// Flush pushes buffered writes down to the medium. Advisory: writes are
// durable once the driver accepts them.
func (t *Tree) Flush() error {
	return t.buf.Flush()
}

// Close flushes and releases the storage driver.
func (t *Tree) Close() error {
	if err := t.buf.Flush(); err != nil {
		return err
	}
	return t.buf.Close()
}
