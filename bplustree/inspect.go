package bplus

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable rendering of the on-storage tree, one node
// per line, indented by depth. Diagnostic only; it walks every node.
func (t *Tree) Dump(w io.Writer) error {
	fmt.Fprintf(w, "mode=%s levels=%d nodes=%d root=%d mappings=%d\n",
		t.mode, t.levels, t.numNodes, t.activePath[0], t.MappingCount())
	return t.dumpNode(w, t.activePath[0], 0)
}

func (t *Tree) dumpNode(w io.Writer, pageNum uint32, depth int) error {
	pageNum = t.mapResolve(pageNum)
	p, err := t.buf.Read(pageNum)
	if err != nil {
		return fmt.Errorf("failed to read page %d: %w", pageNum, err)
	}
	indent := strings.Repeat("  ", depth)
	interior := pageIsInterior(p) && t.levels > 1

	if t.mode == ModeInPageOverwrite {
		live := t.liveSlotCount(p, interior)
		fmt.Fprintf(w, "%sid=%d loc=%d live=%d interior=%v root=%v\n",
			indent, pageLogicalID(p), pageNum, live, interior, pageIsRoot(p))
		if !interior || depth >= t.levels-1 {
			return nil
		}
		max := t.maxInterior
		for i := 0; i < max; i++ {
			if !t.slotLive(p, true, i) {
				continue
			}
			child := t.intPtr(p, i)
			if err := t.dumpNode(w, child, depth+1); err != nil {
				return err
			}
			// The frame may have rotated away during the recursion.
			if p, err = t.buf.Read(pageNum); err != nil {
				return err
			}
		}
		return nil
	}

	count := pageCount(p)
	fmt.Fprintf(w, "%sid=%d loc=%d count=%d interior=%v root=%v\n",
		indent, pageLogicalID(p), pageNum, count, interior, pageIsRoot(p))
	if !interior || depth >= t.levels-1 {
		return nil
	}
	for c := 0; c <= count; c++ {
		child := t.intPtr(p, c)
		if err := t.dumpNode(w, child, depth+1); err != nil {
			return err
		}
		if p, err = t.buf.Read(pageNum); err != nil {
			return err
		}
	}
	return nil
}
