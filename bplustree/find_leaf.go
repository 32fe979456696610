package bplus

import "fmt"

// mapResolve redirects a physical id through the mapping table. A miss
// returns the id unchanged; modes without a table always pass through.
func (t *Tree) mapResolve(id uint32) uint32 {
	if t.mappings == nil {
		return id
	}
	return t.mappings.get(id)
}

// childPageID reads child pointer childNum of a sorted interior node and
// resolves it through the mapping table.
func (t *Tree) childPageID(p []byte, childNum int) uint32 {
	return t.mapResolve(t.intPtr(p, childNum))
}

// findLeaf descends from the root to the leaf bracketing key, recording
// the resolved page id at every level in the active path. Put and the
// parent-fix walks rely on the path.
func (t *Tree) findLeaf(key []byte) (uint32, error) {
	nextID := t.activePath[0]
	for l := 0; l < t.levels-1; l++ {
		p, err := t.buf.Read(nextID)
		if err != nil {
			return 0, fmt.Errorf("failed to read page %d: %w", nextID, err)
		}
		if t.mode == ModeInPageOverwrite {
			nextID = t.intPtr(p, t.owInteriorChild(p, key))
		} else {
			nextID = t.childPageID(p, t.searchInterior(p, key))
		}
		t.activePath[l+1] = nextID
	}
	return nextID, nil
}

// Get copies the data stored under key into data. Returns ErrNotFound on a
// miss; any other error is an I/O failure.
func (t *Tree) Get(key, data []byte) error {
	nextID := t.activePath[0]
	for l := 0; l < t.levels-1; l++ {
		p, err := t.buf.Read(nextID)
		if err != nil {
			return fmt.Errorf("failed to read page %d: %w", nextID, err)
		}
		if t.mode == ModeInPageOverwrite {
			nextID = t.intPtr(p, t.owInteriorChild(p, key))
		} else {
			nextID = t.childPageID(p, t.searchInterior(p, key))
		}
	}

	p, err := t.buf.Read(nextID)
	if err != nil {
		return fmt.Errorf("failed to read page %d: %w", nextID, err)
	}
	if t.mode == ModeInPageOverwrite {
		slot := t.owLeafFind(p, key)
		if slot < 0 {
			return ErrNotFound
		}
		copy(data, t.leafData(p, slot))
		return nil
	}
	idx := t.searchLeafExact(p, key)
	if idx < 0 {
		return ErrNotFound
	}
	copy(data, t.leafData(p, idx))
	return nil
}
