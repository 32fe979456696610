package pagebuffer

import "fmt"

// nextFreePage advances the write cursor to the next usable physical page.
// On byte-addressable media this is a plain append. On erase-required media
// the cursor only consumes pages that are erased-free and inside the erased
// window; when the window runs out, EnsureSpace extends it.
func (b *Buffer) nextFreePage() (uint32, error) {
	if !b.eraseRequired {
		if b.cursor >= b.endDataPage {
			return 0, ErrFull
		}
		p := b.cursor
		b.cursor++
		return p, nil
	}

	for {
		if b.cursor > b.erasedEnd {
			if err := b.EnsureSpace(1); err != nil {
				return 0, err
			}
			continue
		}
		p := b.cursor
		b.cursor++
		if b.free.Get(int(p)) && !b.written.Get(int(p)) {
			return p, nil
		}
	}
}

// freeAtLeast reports whether at least n erased-free pages remain between
// the cursor and the end of the erased window. Stops counting at n.
func (b *Buffer) freeAtLeast(n int) bool {
	if n <= 0 {
		return true
	}
	if b.cursor > b.erasedEnd {
		return false
	}
	have := 0
	for p := b.cursor; p <= b.erasedEnd; p++ {
		if b.free.Get(int(p)) && !b.written.Get(int(p)) {
			have++
			if have >= n {
				return true
			}
		}
	}
	return false
}

// EnsureSpace guarantees the next n page writes will not overtake the
// erased window. It erases blocks ahead of the window, relocating live
// pages back to their original positions and informing the owner through
// MovePage. Returns ErrFull when a whole-device scan still leaves fewer
// than n free pages.
func (b *Buffer) EnsureSpace(n int) error {
	if !b.eraseRequired {
		if int(b.endDataPage-b.cursor) >= n {
			return nil
		}
		return ErrFull
	}
	if b.ensuring {
		// Re-entered from a MovePage ancestor rewrite. The window was
		// just extended; if it still cannot satisfy the request, give up
		// rather than recurse.
		if b.freeAtLeast(n) {
			return nil
		}
		return ErrFull
	}
	b.ensuring = true
	defer func() { b.ensuring = false }()

	totalBlocks := int(b.endDataPage / b.eraseBlock)
	scanned := 0
	for !b.freeAtLeast(n) {
		if scanned >= totalBlocks {
			return ErrFull
		}
		scanned++

		eStart := b.erasedEnd + 1
		if eStart >= b.endDataPage {
			eStart = 0
		}
		eEnd := eStart + b.eraseBlock - 1

		if err := b.compactBlock(eStart, eEnd); err != nil {
			return err
		}
	}
	return nil
}

// compactBlock erases one block, saving reachable pages into the scratch
// region first and writing them back at their original positions after the
// erase. A full-live block is skipped: the window advances past it and the
// cursor will step over its non-free pages.
func (b *Buffer) compactBlock(eStart, eEnd uint32) error {
	if b.owner == nil {
		return fmt.Errorf("pagebuffer: no owner installed for compaction")
	}

	blockPages := int(b.eraseBlock)
	const (
		discard  = uint8(iota) // erase with no save
		keepSlot               // remapped: erased but its id must not be reused yet
		relocate
	)
	states := b.saveStates

	live := 0
	for i := 0; i < blockPages; i++ {
		p := eStart + uint32(i)
		switch b.owner.IsValid(p) {
		case Reachable:
			if b.free.Get(int(p)) {
				// Free pages are unreachable by definition; trust the map.
				states[i] = discard
				continue
			}
			off := i * b.pageSize
			if err := b.st.ReadPage(p, b.pageSize, b.scratch[off:off+b.pageSize]); err != nil {
				return err
			}
			states[i] = relocate
			live++
		case Remapped:
			states[i] = keepSlot
		case Unreachable:
			states[i] = discard
		}
	}

	if live == blockPages {
		// Nothing to gain from erasing; slide the window past the block.
		b.advanceWindow(eStart, eEnd)
		return nil
	}

	if err := b.st.Erase(eStart, eEnd); err != nil {
		return err
	}
	b.stats.Erases++
	for i := 0; i < blockPages; i++ {
		p := eStart + uint32(i)
		b.written.Set(int(p), false)
		switch states[i] {
		case discard:
			b.free.Set(int(p), true)
		case keepSlot:
			b.free.Set(int(p), false)
		case relocate:
			b.free.Set(int(p), false)
		}
	}
	b.advanceWindow(eStart, eEnd)

	// Put survivors back where they were. The tree refreshes any embedded
	// stale pointers in the scratch frame before the page is persisted;
	// a refresh after the write-back would need a second write to the
	// same page inside one erase cycle. prev == curr is the normal case.
	for i := 0; i < blockPages; i++ {
		if states[i] != relocate {
			continue
		}
		p := eStart + uint32(i)
		off := i * b.pageSize
		frame := b.scratch[off : off+b.pageSize]
		if err := b.owner.MovePage(p, p, frame); err != nil {
			return err
		}
		if err := b.WriteDirect(frame, p); err != nil {
			return err
		}
	}
	return nil
}

// advanceWindow extends the erased window over the block just processed,
// wrapping the cursor to the start of the device when the window wraps.
func (b *Buffer) advanceWindow(eStart, eEnd uint32) {
	if eStart == 0 && b.erasedEnd != eEnd {
		// Wrapped: the window restarts at the head of the device. Any
		// free pages left in the old tail are picked up again next cycle.
		b.erasedStart = 0
		b.erasedEnd = eEnd
		b.cursor = 0
		b.wrapped = true
		return
	}
	b.erasedEnd = eEnd
	if b.cursor > b.erasedEnd {
		b.cursor = eStart
	}
}

// RestoreCursor rebuilds the write cursors after recovery of an
// update-in-place image: writtenPages pages already hold data.
func (b *Buffer) RestoreCursor(writtenPages uint32, nextLogicalID uint32) {
	b.cursor = writtenPages
	b.nextPageID = nextLogicalID
	for p := uint32(0); p < writtenPages && p < b.endDataPage; p++ {
		b.free.Set(int(p), false)
		b.written.Set(int(p), true)
	}
}
