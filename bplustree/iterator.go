package bplus

import "fmt"

// Iterator is a forward range scan. Returned key/data slices point into a
// buffer frame and are valid only until the next call into the tree.
//
// Sorted modes walk sibling subtrees through the recorded per-level child
// indexes. Overwrite mode cannot: slot order carries no key order, so Next
// selects the smallest live key above the last one returned and, when a
// leaf is exhausted, re-descends from the root with the leaf's upper
// fence.
type Iterator struct {
	tree           *Tree
	minKey, maxKey []byte

	path     [maxLevels]uint32
	childIdx [maxLevels]int
	leafID   uint32
	idx      int

	lastKey []byte
	hasLast bool

	fence    []byte
	seek     []byte
	hasFence bool

	done bool
}

// InitIterator positions it at the first record with key >= minKey.
// Either bound may be nil (open). The bounds are copied; the caller's
// slices are not retained.
func (t *Tree) InitIterator(it *Iterator, minKey, maxKey []byte) error {
	it.tree = t
	it.done = false
	it.hasLast = false
	it.hasFence = false
	if len(it.lastKey) != t.keySize {
		it.lastKey = make([]byte, t.keySize)
		it.fence = make([]byte, t.keySize)
		it.seek = make([]byte, t.keySize)
		it.minKey = make([]byte, t.keySize)
		it.maxKey = make([]byte, t.keySize)
	}
	min, max := it.minKey[:0], it.maxKey[:0]
	if minKey != nil {
		min = append(min, minKey...)
	}
	if maxKey != nil {
		max = append(max, maxKey...)
	}
	it.minKey, it.maxKey = min, max

	if t.mode == ModeInPageOverwrite {
		if len(it.minKey) > 0 {
			copy(it.seek, it.minKey)
			return it.owDescend(it.seek)
		}
		return it.owDescend(nil)
	}

	nextID := t.activePath[0]
	for l := 0; l < t.levels-1; l++ {
		p, err := t.buf.Read(nextID)
		if err != nil {
			return fmt.Errorf("failed to read page %d: %w", nextID, err)
		}
		child := 0
		if len(it.minKey) > 0 {
			child = t.searchInterior(p, it.minKey)
		}
		it.path[l] = nextID
		it.childIdx[l] = child
		nextID = t.childPageID(p, child)
	}
	it.path[t.levels-1] = nextID
	it.leafID = nextID

	p, err := t.buf.Read(nextID)
	if err != nil {
		return fmt.Errorf("failed to read leaf %d: %w", nextID, err)
	}
	it.idx = 0
	if len(it.minKey) > 0 {
		i := t.searchLeafRange(p, it.minKey)
		if i >= 0 && t.compare(t.leafKey(p, i), it.minKey) == 0 {
			it.idx = i
		} else {
			it.idx = i + 1
		}
	}
	return nil
}

// Next returns the next record in key order inside the configured range.
// ok reports whether a record was produced; false means the scan is done.
func (it *Iterator) Next() (key, data []byte, ok bool, err error) {
	if it.done || it.tree == nil {
		return nil, nil, false, nil
	}
	if it.tree.mode == ModeInPageOverwrite {
		return it.owNext()
	}
	t := it.tree

	for {
		p, err := t.buf.Read(t.mapResolve(it.leafID))
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to read leaf %d: %w", it.leafID, err)
		}
		if it.idx >= pageCount(p) {
			more, err := it.advanceLeaf()
			if err != nil {
				return nil, nil, false, err
			}
			if !more {
				it.done = true
				return nil, nil, false, nil
			}
			continue
		}
		key = t.leafKey(p, it.idx)
		data = t.leafData(p, it.idx)
		it.idx++
		if len(it.minKey) > 0 && t.compare(key, it.minKey) < 0 {
			continue
		}
		if len(it.maxKey) > 0 && t.compare(key, it.maxKey) > 0 {
			it.done = true
			return nil, nil, false, nil
		}
		return key, data, true, nil
	}
}

// advanceLeaf ascends the iterator path to the next sibling subtree and
// descends back to its leftmost leaf.
func (it *Iterator) advanceLeaf() (bool, error) {
	t := it.tree
	l := t.levels - 2
	for ; l >= 0; l-- {
		p, err := t.buf.Read(t.mapResolve(it.path[l]))
		if err != nil {
			return false, err
		}
		// An interior node with count keys has count+1 children.
		if it.childIdx[l] < pageCount(p) {
			it.childIdx[l]++
			break
		}
		it.childIdx[l] = 0
	}
	if l < 0 {
		return false, nil
	}
	for ; l < t.levels-1; l++ {
		p, err := t.buf.Read(t.mapResolve(it.path[l]))
		if err != nil {
			return false, err
		}
		it.path[l+1] = t.childPageID(p, it.childIdx[l])
	}
	it.leafID = it.path[t.levels-1]
	it.idx = 0
	return true, nil
}

// owDescend walks to the leaf covering seek (nil: leftmost leaf), keeping
// the tightest finite fence seen on the way down as the leaf's upper
// bound. A path whose every fence is +infinity is the rightmost leaf.
func (it *Iterator) owDescend(seek []byte) error {
	t := it.tree
	it.hasFence = false
	nextID := t.activePath[0]
	for l := 0; l < t.levels-1; l++ {
		p, err := t.buf.Read(nextID)
		if err != nil {
			return fmt.Errorf("failed to read page %d: %w", nextID, err)
		}
		var slot int
		if seek == nil {
			slot = -1
			for i := 0; i < t.maxInterior; i++ {
				if !t.slotLive(p, true, i) {
					continue
				}
				if slot < 0 || t.compare(t.intKey(p, i), t.intKey(p, slot)) < 0 {
					slot = i
				}
			}
		} else {
			slot = t.owInteriorChild(p, seek)
		}
		if fence := t.intKey(p, slot); !isMaxKey(fence) {
			copy(it.fence, fence)
			it.hasFence = true
		}
		nextID = t.intPtr(p, slot)
	}
	it.leafID = nextID
	return nil
}

// owNext scans the current leaf's live slots for the smallest key above
// the last one returned. O(slots) per record is the overwrite layout's
// intended trade: pages are read once and never kept sorted.
func (it *Iterator) owNext() (key, data []byte, ok bool, err error) {
	t := it.tree
	for {
		p, err := t.buf.Read(it.leafID)
		if err != nil {
			return nil, nil, false, fmt.Errorf("failed to read leaf %d: %w", it.leafID, err)
		}
		best := -1
		for i := 0; i < t.maxLeaf; i++ {
			if !t.slotLive(p, false, i) {
				continue
			}
			k := t.leafKey(p, i)
			if it.hasLast && t.compare(k, it.lastKey) <= 0 {
				continue
			}
			if !it.hasLast && len(it.minKey) > 0 && t.compare(k, it.minKey) < 0 {
				continue
			}
			if best < 0 || t.compare(k, t.leafKey(p, best)) < 0 {
				best = i
			}
		}
		if best >= 0 {
			key = t.leafKey(p, best)
			if len(it.maxKey) > 0 && t.compare(key, it.maxKey) > 0 {
				it.done = true
				return nil, nil, false, nil
			}
			copy(it.lastKey, key)
			it.hasLast = true
			return key, t.leafData(p, best), true, nil
		}
		if !it.hasFence {
			it.done = true
			return nil, nil, false, nil
		}
		copy(it.seek, it.fence)
		if err := it.owDescend(it.seek); err != nil {
			return nil, nil, false, err
		}
	}
}
