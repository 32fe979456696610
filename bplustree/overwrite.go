package bplus

import "fmt"

// In-page-overwrite mode. Records live in fixed slots; inserting,
// upserting, and re-pointing children are all expressed as "clear the old
// slot's valid bit, occupy a fresh slot" — pure 1->0 bit transitions that
// NOR media accept without an erase. Interior slots hold exclusive
// upper-fence keys; the topmost fence is all 0xFF (+infinity), so every
// child, including the rightmost, sits behind an invalidatable slot.

// owLeafFind returns the slot holding key, or -1. Records are not ordered
// on disk, so this is a linear scan of the live slots — intentionally:
// the page is read once and an in-place insert saves a page write.
func (t *Tree) owLeafFind(p []byte, key []byte) int {
	for i := 0; i < t.maxLeaf; i++ {
		if t.slotLive(p, false, i) && t.compare(t.leafKey(p, i), key) == 0 {
			return i
		}
	}
	return -1
}

// owInteriorChild returns the slot whose fence is the least upper bound of
// key. The +infinity fence guarantees a match.
func (t *Tree) owInteriorChild(p []byte, key []byte) int {
	best := -1
	for i := 0; i < t.maxInterior; i++ {
		if !t.slotLive(p, true, i) {
			continue
		}
		if t.compare(key, t.intKey(p, i)) >= 0 {
			continue
		}
		if best < 0 || t.compare(t.intKey(p, i), t.intKey(p, best)) < 0 {
			best = i
		}
	}
	return best
}

// owFindChildSlot locates the live slot pointing at child.
func (t *Tree) owFindChildSlot(p []byte, child uint32) int {
	for i := 0; i < t.maxInterior; i++ {
		if t.slotLive(p, true, i) && t.intPtr(p, i) == child {
			return i
		}
	}
	return -1
}

func (t *Tree) owFillLeafSlot(p []byte, slot int, key, data []byte) {
	copy(t.leafKey(p, slot), key)
	copy(t.leafData(p, slot), data)
	t.slotFreeMap(p, false).Set(slot, false)
}

func (t *Tree) owFillInteriorSlot(p []byte, slot int, fence []byte, child uint32) {
	copy(t.intKey(p, slot), fence)
	t.intSetPtr(p, slot, child)
	t.slotFreeMap(p, true).Set(slot, false)
}

// owPutLeaf performs the in-page-overwrite leaf insert: occupy a free
// slot and overwrite in place when possible, otherwise compact-sort and
// relocate or split.
func (t *Tree) owPutLeaf(p []byte, leafID uint32, key, data []byte) error {
	if existing := t.owLeafFind(p, key); existing >= 0 {
		// Upsert: invalidate the old record, insert the new one.
		t.slotValidMap(p, false).Set(existing, false)
		if slot := t.firstFreeSlot(p, false); slot >= 0 {
			t.owFillLeafSlot(p, slot, key, data)
			return t.buf.Overwrite(p, leafID)
		}
		return t.owLeafCompactInsert(p, leafID, key, data)
	}

	if slot := t.firstFreeSlot(p, false); slot >= 0 {
		t.owFillLeafSlot(p, slot, key, data)
		return t.buf.Overwrite(p, leafID)
	}
	return t.owLeafCompactInsert(p, leafID, key, data)
}

// owLeafCompactInsert handles a leaf with no free slot: compact-sort in
// the frame, then either relocate the packed page with the new record or
// split it. Either way the page moves, so the parent chain is re-pointed.
func (t *Tree) owLeafCompactInsert(p []byte, leafID uint32, key, data []byte) error {
	w := t.owCompactSortLeaf(p)

	if w < t.maxLeaf {
		// Invalidated slots made room; insert into the sorted prefix and
		// write the packed page at a fresh location.
		c := t.searchLeafRange(p, key)
		t.copyLeafRecords(p, c+2, c+1, w-c-1)
		t.setLeafRecord(p, c+1, key, data)
		pageSetCount(p, w+1)
		t.syncSlotBitmaps(p, false)
		newID, err := t.buf.Write(p)
		if err != nil {
			return err
		}
		if t.levels == 1 {
			t.activePath[0] = newID
			t.buf.SetRootPage(newID)
		} else if err := t.owFixParent(leafID, newID, t.levels-2); err != nil {
			return err
		}
		t.buf.SetFree(leafID)
		return nil
	}

	c := t.searchLeafRange(p, key)
	left, right, err := t.splitLeaf(p, c, key, data)
	if err != nil {
		return err
	}
	return t.owPropagate(leafID, left, right)
}

// owCompactSortLeaf drops invalid slots, packs the survivors to slot 0..,
// insertion-sorts them by key (small N, no recursion), and rebuilds the
// bitmaps. Returns the live count, which it also stores as the page count.
func (t *Tree) owCompactSortLeaf(p []byte) int {
	w := 0
	for i := 0; i < t.maxLeaf; i++ {
		if !t.slotLive(p, false, i) {
			continue
		}
		if w != i {
			copy(t.leafKey(p, w), t.leafKey(p, i))
			copy(t.leafData(p, w), t.leafData(p, i))
		}
		w++
	}
	for i := 1; i < w; i++ {
		copy(t.tempKey3, t.leafKey(p, i))
		copy(t.tempData, t.leafData(p, i))
		j := i - 1
		for j >= 0 && t.compare(t.leafKey(p, j), t.tempKey3) > 0 {
			copy(t.leafKey(p, j+1), t.leafKey(p, j))
			copy(t.leafData(p, j+1), t.leafData(p, j))
			j--
		}
		copy(t.leafKey(p, j+1), t.tempKey3)
		copy(t.leafData(p, j+1), t.tempData)
	}
	pageSetCount(p, w)
	t.syncSlotBitmaps(p, false)
	return w
}

// owCompactSortInterior is the interior analogue: packs and sorts the
// live (fence, child) pairs.
func (t *Tree) owCompactSortInterior(p []byte) int {
	w := 0
	for i := 0; i < t.maxInterior; i++ {
		if !t.slotLive(p, true, i) {
			continue
		}
		if w != i {
			copy(t.intKey(p, w), t.intKey(p, i))
			t.intSetPtr(p, w, t.intPtr(p, i))
		}
		w++
	}
	for i := 1; i < w; i++ {
		copy(t.tempKey3, t.intKey(p, i))
		ptr := t.intPtr(p, i)
		j := i - 1
		for j >= 0 && t.compare(t.intKey(p, j), t.tempKey3) > 0 {
			copy(t.intKey(p, j+1), t.intKey(p, j))
			t.intSetPtr(p, j+1, t.intPtr(p, j))
			j--
		}
		copy(t.intKey(p, j+1), t.tempKey3)
		t.intSetPtr(p, j+1, ptr)
	}
	pageSetCount(p, w)
	t.syncSlotBitmaps(p, true)
	return w
}

// owFixParent re-points the parent chain after a node relocated from
// oldID to newID: invalidate the slot naming oldID, occupy a fresh slot
// with the same fence and the new id. Parents without a free slot are
// compacted and relocated themselves, which walks the fix further up.
// l is the active-path level of oldID's parent.
func (t *Tree) owFixParent(oldID, newID uint32, l int) error {
	var toFree [maxLevels]uint32
	nFree := 0

	for ; ; l-- {
		if l < 0 {
			t.activePath[0] = newID
			t.buf.SetRootPage(newID)
			break
		}
		parentID := t.activePath[l]
		p, err := t.buf.ReadInto(parentID, 0)
		if err != nil {
			return fmt.Errorf("failed to read parent %d: %w", parentID, err)
		}
		slot := t.owFindChildSlot(p, oldID)
		if slot < 0 {
			return fmt.Errorf("bplus: parent %d has no slot for child %d", parentID, oldID)
		}
		copy(t.tempKey2, t.intKey(p, slot))

		if free := t.firstFreeSlot(p, true); free >= 0 {
			t.slotValidMap(p, true).Set(slot, false)
			t.owFillInteriorSlot(p, free, t.tempKey2, newID)
			if err := t.buf.Overwrite(p, parentID); err != nil {
				return err
			}
			break
		}

		// No free slot: compact, apply the pointer change, relocate.
		w := t.owCompactSortInterior(p)
		idx := -1
		for i := 0; i < w; i++ {
			if t.intPtr(p, i) == oldID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("bplus: lost child %d while compacting parent %d", oldID, parentID)
		}
		t.intSetPtr(p, idx, newID)
		fresh, err := t.buf.Write(p)
		if err != nil {
			return err
		}
		toFree[nFree] = parentID
		nFree++
		oldID, newID = parentID, fresh
	}

	for i := 0; i < nFree; i++ {
		t.buf.SetFree(toFree[i])
	}
	return nil
}

// owPropagate installs a leaf or interior split into the ancestors: the
// slot covering the old child is invalidated and replaced by two fresh
// slots, (promoted fence -> left) and (old fence -> right). Ancestors
// without two free slots are compacted or split in turn. The promoted
// fence rides in t.tempKey.
func (t *Tree) owPropagate(childOld, left, right uint32) error {
	for l := t.levels - 2; l >= 0; l-- {
		parentID := t.activePath[l]
		p, err := t.buf.ReadInto(parentID, 0)
		if err != nil {
			return fmt.Errorf("failed to read parent %d: %w", parentID, err)
		}
		slot := t.owFindChildSlot(p, childOld)
		if slot < 0 {
			return fmt.Errorf("bplus: parent %d has no slot for child %d", parentID, childOld)
		}
		copy(t.tempKey2, t.intKey(p, slot))

		if t.freeSlotCount(p, true) >= 2 {
			t.slotValidMap(p, true).Set(slot, false)
			s1 := t.firstFreeSlot(p, true)
			t.owFillInteriorSlot(p, s1, t.tempKey, left)
			s2 := t.firstFreeSlot(p, true)
			t.owFillInteriorSlot(p, s2, t.tempKey2, right)
			if err := t.buf.Overwrite(p, parentID); err != nil {
				return err
			}
			t.buf.SetFree(childOld)
			return nil
		}

		w := t.owCompactSortInterior(p)
		idx := -1
		for i := 0; i < w; i++ {
			if t.intPtr(p, i) == childOld {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("bplus: lost child %d while compacting parent %d", childOld, parentID)
		}

		if w+1 <= t.maxInterior {
			// Replace entry idx by the two new ones in the packed page,
			// then relocate it.
			t.copyInteriorKeys(p, idx+2, idx+1, w-idx-1)
			t.copyInteriorPtrs(p, idx+2, idx+1, w-idx-1)
			copy(t.intKey(p, idx), t.tempKey)
			t.intSetPtr(p, idx, left)
			copy(t.intKey(p, idx+1), t.tempKey2)
			t.intSetPtr(p, idx+1, right)
			pageSetCount(p, w+1)
			t.syncSlotBitmaps(p, true)
			newID, err := t.buf.Write(p)
			if err != nil {
				return err
			}
			t.buf.SetFree(childOld)
			if l == 0 {
				t.activePath[0] = newID
				t.buf.SetRootPage(newID)
			} else if err := t.owFixParent(parentID, newID, l-1); err != nil {
				return err
			}
			t.buf.SetFree(parentID)
			return nil
		}

		newLeft, newRight, err := t.owSplitInterior(p, w, idx, left, right)
		if err != nil {
			return err
		}
		t.buf.SetFree(childOld)
		childOld = parentID
		left, right = newLeft, newRight
	}
	return t.owNewRoot(childOld, left, right)
}

// owSplitInterior splits a packed, sorted interior page while replacing
// entry idx with (t.tempKey -> left) and (old fence t.tempKey2 -> right).
// The split lands on one of the two new entries — promoting either the
// new fence or the old one — whichever divides the page more evenly;
// both constructions need no extra scratch. The promoted fence replaces
// t.tempKey on return.
func (t *Tree) owSplitInterior(p []byte, w, idx int, left, right uint32) (uint32, uint32, error) {
	total := w + 1
	t.numNodes++

	// Finishing the left half erases every slot past its count; keep the
	// packed image in frame 1 to build the right half from.
	saved := t.buf.InitFrame(1)
	copy(saved, p)

	// Option one promotes the new fence (left gets idx+1 entries);
	// option two promotes the old fence (left gets idx+2). The old fence
	// may be the rightmost (+infinity) entry, in which case only option
	// one keeps the right half nonempty.
	useNew := true
	if idx <= w-2 {
		d1 := absInt((idx + 1) - (total - idx - 1))
		d2 := absInt((idx + 2) - (total - idx - 2))
		if d2 < d1 {
			useNew = false
		}
	}

	var newLeft, newRight uint32
	var err error
	if useNew {
		// Left: entries 0..idx-1 plus (tempKey -> left).
		copy(t.intKey(p, idx), t.tempKey)
		t.intSetPtr(p, idx, left)
		pageSetCount(p, idx+1)
		t.finishInteriorPage(p)
		if newLeft, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}
		copy(p, saved)

		// Right: (tempKey2 -> right) then the old entries past idx.
		t.copyInteriorKeys(p, 1, idx+1, w-idx-1)
		t.copyInteriorPtrs(p, 1, idx+1, w-idx-1)
		copy(t.intKey(p, 0), t.tempKey2)
		t.intSetPtr(p, 0, right)
		pageSetCount(p, w-idx)
		t.finishInteriorPage(p)
		if newRight, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}
		// Promoted fence is t.tempKey already.
		return newLeft, newRight, nil
	}

	// Left: entries 0..idx-1 plus both new entries. Writing entry idx+1
	// clobbers the right half's first entry; save it first.
	copy(t.tempKey3, t.intKey(p, idx+1))
	firstRightPtr := t.intPtr(p, idx+1)
	copy(t.intKey(p, idx), t.tempKey)
	t.intSetPtr(p, idx, left)
	copy(t.intKey(p, idx+1), t.tempKey2)
	t.intSetPtr(p, idx+1, right)
	pageSetCount(p, idx+2)
	t.finishInteriorPage(p)
	if newLeft, err = t.buf.Write(p); err != nil {
		return 0, 0, err
	}
	copy(p, saved)

	// Right: the old entries past idx.
	t.copyInteriorKeys(p, 1, idx+2, w-idx-2)
	t.copyInteriorPtrs(p, 1, idx+2, w-idx-2)
	copy(t.intKey(p, 0), t.tempKey3)
	t.intSetPtr(p, 0, firstRightPtr)
	pageSetCount(p, w-idx-1)
	t.finishInteriorPage(p)
	if newRight, err = t.buf.Write(p); err != nil {
		return 0, 0, err
	}
	copy(t.tempKey, t.tempKey2)
	return newLeft, newRight, nil
}

// owNewRoot grows the tree: a fresh interior root with the promoted fence
// over left and the +infinity fence over right.
func (t *Tree) owNewRoot(childOld, left, right uint32) error {
	frame := t.buf.InitFrame(0)
	pageClearPrev(frame)
	pageSetFlags(frame, true, true, true)
	t.owFillInteriorSlot(frame, 0, t.tempKey, left)
	fill(t.intKey(frame, 1), 0xFF)
	t.intSetPtr(frame, 1, right)
	t.slotFreeMap(frame, true).Set(1, false)
	pageSetCount(frame, 2)
	newRoot, err := t.buf.Write(frame)
	if err != nil {
		return err
	}
	t.numNodes++
	t.levels++
	t.activePath[0] = newRoot
	t.buf.SetRootPage(newRoot)
	t.buf.SetFree(childOld)
	return nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
