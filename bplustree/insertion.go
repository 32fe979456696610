package bplus

import (
	"errors"
	"fmt"

	"FlashTree/pagebuffer"
)

// splitReserve bounds the pages a worst-case split cascade writes; Put
// secures them up front so no mid-operation compaction can run while a
// split is half applied.
const splitReserve = 8

// Put inserts a key/data record. Re-inserting an existing key replaces
// its data (upsert). Returns ErrStorageFull when the device cannot secure
// splitReserve free pages; the failing Put performs no writes in that case.
func (t *Tree) Put(key, data []byte) error {
	if len(key) != t.keySize || len(data) != t.dataSize {
		return fmt.Errorf("bplus: record size mismatch: key %d/%d data %d/%d",
			len(key), t.keySize, len(data), t.dataSize)
	}
	if t.mode == ModeInPageOverwrite && isMaxKey(key) {
		return ErrKeyReserved
	}

	if err := t.buf.EnsureSpace(splitReserve); err != nil {
		if errors.Is(err, pagebuffer.ErrFull) {
			return ErrStorageFull
		}
		return err
	}

	leafID, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	p, err := t.buf.ReadInto(leafID, 0)
	if err != nil {
		return fmt.Errorf("failed to read leaf %d: %w", leafID, err)
	}

	if t.mode == ModeInPageOverwrite {
		return t.owPutLeaf(p, leafID, key, data)
	}

	c := t.searchLeafRange(p, key)
	if c >= 0 && t.compare(t.leafKey(p, c), key) == 0 {
		// Upsert: replace the data in place.
		copy(t.leafData(p, c), data)
		return t.writeLeaf(p, leafID)
	}

	count := pageCount(p)
	if count < t.maxLeaf {
		// Room on the leaf: shift the tail and insert in sorted order.
		t.copyLeafRecords(p, c+2, c+1, count-c-1)
		t.setLeafRecord(p, c+1, key, data)
		pageIncCount(p)
		return t.writeLeaf(p, leafID)
	}

	left, right, err := t.splitLeaf(p, c, key, data)
	if err != nil {
		return err
	}
	return t.propagate(leafID, left, right)
}

// writeLeaf persists a mutated leaf through the mode-appropriate path:
// in place for update-in-place, fresh page plus mapping for copy-on-write.
func (t *Tree) writeLeaf(p []byte, leafID uint32) error {
	if t.mode == ModeUpdateInPlace {
		return t.buf.Overwrite(p, leafID)
	}

	if t.levels == 1 {
		// The leaf is the root; its location is tracked out of band.
		newID, err := t.buf.Write(p)
		if err != nil {
			return err
		}
		t.activePath[0] = newID
		t.buf.SetRootPage(newID)
		t.buf.SetFree(leafID)
		return nil
	}

	prevID := t.updatePrev(p, leafID)
	newID, err := t.buf.Write(p)
	if err != nil {
		return err
	}
	if prevID != leafID {
		// The parent names prevID, not leafID: once the mapping moves to
		// the new page this intermediate incarnation is unreferenced.
		t.buf.SetFree(leafID)
	}
	return t.fixMappings(prevID, newID, t.levels-2)
}

// propagate walks the promoted key in t.tempKey up the active path,
// inserting it (with child ids left/right) into each ancestor, splitting
// ancestors that are full, and growing a new root when the cascade passes
// the old one. childOld is the page the split just superseded.
func (t *Tree) propagate(childOld, left, right uint32) error {
	for l := t.levels - 2; l >= 0; l-- {
		parentID := t.mapResolve(t.activePath[l])
		p, err := t.buf.ReadInto(parentID, 0)
		if err != nil {
			return fmt.Errorf("failed to read parent %d: %w", parentID, err)
		}
		count := pageCount(p)

		if count < t.maxInterior {
			childNum := t.searchInterior(p, t.tempKey)
			t.updatePointers(p, 0, count)

			t.copyInteriorKeys(p, childNum+1, childNum, count-childNum)
			copy(t.intKey(p, childNum), t.tempKey)
			t.copyInteriorPtrs(p, childNum+2, childNum+1, count-childNum)
			t.intSetPtr(p, childNum, left)
			t.intSetPtr(p, childNum+1, right)
			pageIncCount(p)

			if t.mode == ModeUpdateInPlace {
				if err := t.buf.Overwrite(p, parentID); err != nil {
					return err
				}
				t.buf.SetFree(childOld)
				return nil
			}

			prevID := t.updatePrev(p, parentID)
			newID, err := t.buf.Write(p)
			if err != nil {
				return err
			}
			if prevID != parentID {
				t.buf.SetFree(parentID)
			}
			t.activePath[l] = newID
			if l == 0 {
				// Old root: nothing points to it and it is never mapped.
				t.buf.SetRootPage(newID)
				t.buf.SetFree(parentID)
			} else if err := t.fixMappings(prevID, newID, l-1); err != nil {
				return err
			}
			t.buf.SetFree(childOld)
			return nil
		}

		newLeft, newRight, err := t.splitInterior(p, left, right)
		if err != nil {
			return err
		}
		t.buf.SetFree(childOld)
		childOld = parentID
		left, right = newLeft, newRight
	}

	// The cascade outgrew the root: new root with one key, two children.
	frame := t.buf.InitFrame(0)
	pageClearPrev(frame)
	pageSetFlags(frame, true, true, false)
	pageSetCount(frame, 1)
	copy(t.intKey(frame, 0), t.tempKey)
	t.intSetPtr(frame, 0, left)
	t.intSetPtr(frame, 1, right)
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
