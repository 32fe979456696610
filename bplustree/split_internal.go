package bplus

// splitInterior splits a full interior node while inserting the promoted
// key from t.tempKey with children left/right. Conceptually the node's
// count keys plus the new one form a merged sequence of count+1 keys and
// count+2 pointers; index m = (count+1)/2 of that sequence moves up (so
// the left half carries at most one extra key) and the rest is divided
// around it. The new separator replaces t.tempKey on return.
func (t *Tree) splitInterior(p []byte, left, right uint32) (uint32, uint32, error) {
	count := pageCount(p)
	childNum := t.searchInterior(p, t.tempKey)
	m := (count + 1) / 2

	t.updatePointers(p, 0, count)
	pageClearPrev(p)
	t.numNodes++

	var newLeft, newRight uint32
	var err error
	switch {
	case childNum < m:
		// Promoted-to-parent key is merged[m] = old key m-1; the right
		// half's first pointer is old pointer m. Both are clobbered by
		// the insert shift, so save them now.
		copy(t.tempKey2, t.intKey(p, m-1))
		firstRightPtr := t.intPtr(p, m)

		t.copyInteriorKeys(p, childNum+1, childNum, m-1-childNum)
		copy(t.intKey(p, childNum), t.tempKey)
		t.copyInteriorPtrs(p, childNum+2, childNum+1, m-1-childNum)
		t.intSetPtr(p, childNum, left)
		t.intSetPtr(p, childNum+1, right)
		pageSetCount(p, m)
		t.finishInteriorPage(p)
		if newLeft, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}

		t.copyInteriorKeys(p, 0, m, count-m)
		t.intSetPtr(p, 0, firstRightPtr)
		t.copyInteriorPtrs(p, 1, m+1, count-m)
		pageSetCount(p, count-m)
		t.finishInteriorPage(p)
		if newRight, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}
		copy(t.tempKey, t.tempKey2)

	case childNum == m:
		// The inserted key itself moves up; left keeps the old keys
		// below it plus the new left child as its rightmost pointer.
		t.intSetPtr(p, m, left)
		pageSetCount(p, m)
		t.finishInteriorPage(p)
		if newLeft, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}

		t.copyInteriorKeys(p, 0, m, count-m)
		t.copyInteriorPtrs(p, 1, m+1, count-m)
		t.intSetPtr(p, 0, right)
		pageSetCount(p, count-m)
		t.finishInteriorPage(p)
		if newRight, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}
		// t.tempKey already holds the separator.

	default: // childNum > m
		copy(t.tempKey2, t.intKey(p, m))

		pageSetCount(p, m)
		t.finishInteriorPage(p)
		if newLeft, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}

		n1 := childNum - m - 1
		t.copyInteriorKeys(p, 0, m+1, n1)
		copy(t.intKey(p, n1), t.tempKey)
		t.copyInteriorKeys(p, n1+1, childNum, count-childNum)

		t.copyInteriorPtrs(p, 0, m+1, n1)
		t.intSetPtr(p, n1, left)
		t.intSetPtr(p, n1+1, right)
		t.copyInteriorPtrs(p, n1+2, childNum+1, count-childNum)
		pageSetCount(p, count-m)
		t.finishInteriorPage(p)
		if newRight, err = t.buf.Write(p); err != nil {
			return 0, 0, err
		}
		copy(t.tempKey, t.tempKey2)
	}
	return newLeft, newRight, nil
}

// finishInteriorPage stamps a split half's flags: interior, never root.
func (t *Tree) finishInteriorPage(p []byte) {
	pageSetFlags(p, false, true, t.mode == ModeInPageOverwrite)
	if t.mode == ModeInPageOverwrite {
		t.syncSlotBitmaps(p, true)
	}
}
