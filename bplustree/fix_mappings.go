package bplus

import (
	"fmt"

	"FlashTree/pagebuffer"
)

// updatePrev decides which id a rewritten page should carry as its
// previous incarnation. When the page has no prev yet, or its recorded
// prev no longer resolves to the page's current location (so no pointer
// out there still names it), the chain restarts at the current id.
func (t *Tree) updatePrev(p []byte, currID uint32) uint32 {
	prev := pagePrev(p)
	if !pageHasPrev(p) || t.mapResolve(prev) != currID {
		prev = currID
		pageSetPrev(p, currID)
	}
	return prev
}

// updatePointers rewrites stale child pointers start..end (inclusive)
// through the mapping table, deleting each mapping it consumes and
// releasing the superseded page. The one in-flight mapping not yet in the
// table (savedPrev/savedCurr) is honored too. Returns the number of
// pointers changed; a nonzero result means the page must be rewritten.
func (t *Tree) updatePointers(p []byte, start, end int) int {
	num := 0
	for i := start; i <= end; i++ {
		child := t.intPtr(p, i)
		var newID uint32
		if t.savedPrev != noPrev && child == t.savedPrev {
			newID = t.savedCurr
		} else {
			newID = t.mapResolve(child)
		}
		if newID != child {
			t.intSetPtr(p, i, newID)
			if t.mappings != nil {
				t.mappings.remove(child)
			}
			// Nothing names the old id anymore.
			t.buf.SetFree(child)
			num++
		}
	}
	return num
}

// fixMappings installs prev -> curr after a node rewrite. When the table
// is full it drains by rewriting ancestors up the active path — each
// rewrite embeds fresh pointers and deletes the mappings it consumed —
// then retries. A drain that passes the root installs the new root id.
// l is the active-path level of the rewritten node's parent.
func (t *Tree) fixMappings(prev, curr uint32, l int) error {
	for t.addMapping(prev, curr) != nil && l >= 0 {
		parentID := t.mapResolve(t.activePath[l])
		p, err := t.buf.ReadInto(parentID, 0)
		if err != nil {
			return fmt.Errorf("failed to read ancestor %d: %w", parentID, err)
		}

		t.savedPrev, t.savedCurr = prev, curr
		prevA := t.updatePrev(p, parentID)
		t.updatePointers(p, 0, pageCount(p))
		t.savedPrev = noPrev

		currA, err := t.buf.Write(p)
		if err != nil {
			return err
		}
		if prevA != parentID {
			t.buf.SetFree(parentID)
		}
		t.activePath[l] = currA
		l--
		if l < 0 {
			// Rewrote the root; its location is tracked out of band and
			// never mapped, so the old root page is simply dead.
			t.buf.SetRootPage(currA)
			t.buf.SetFree(parentID)
			return nil
		}
		prev, curr = prevA, currA
	}
	return nil
}

func (t *Tree) addMapping(prev, curr uint32) error {
	if t.mappings == nil {
		return ErrMappingFull
	}
	return t.mappings.add(prev, curr)
}

// IsValid classifies a physical page for the space manager (buffer
// callback). Pages named as prev by a mapping must keep their slot until
// the mapping dies: a reused slot would make stale parent pointers resolve
// to unrelated data.
func (t *Tree) IsValid(pageNum uint32) pagebuffer.Validity {
	if t.mappings.has(pageNum) {
		return pagebuffer.Remapped
	}
	if t.buf.IsFree(pageNum) {
		return pagebuffer.Unreachable
	}
	return pagebuffer.Reachable
}

// MovePage is the buffer callback fired when compaction relocates a live
// page. The frame is refreshed in place before the buffer persists it.
// prev == curr when the page went back to its own slot, which is the
// normal case; embedded stale child pointers still want refreshing.
func (t *Tree) MovePage(prev, curr uint32, frame []byte) error {
	if t.mode == ModeCopyOnWrite && pageIsInterior(frame) && t.levels > 1 {
		t.updatePointers(frame, 0, pageCount(frame))
	}
	if t.activePath[0] == prev {
		if prev != curr {
			t.activePath[0] = curr
			t.buf.SetRootPage(curr)
		}
		return nil
	}
	if prev == curr {
		return nil
	}
	if t.mode == ModeCopyOnWrite {
		prevID := t.updatePrev(frame, prev)
		return t.fixMappings(prevID, curr, t.levels-2)
	}
	return nil
}
