package position

import (
	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

// RangeCodec encodes a node as a nested-set interval: a node's [Left, Right]
// strictly contains the interval of every descendant and sibling intervals
// never overlap.
type RangeCodec struct{}

func (RangeCodec) Encoding() Encoding { return EncodingRange }

func (RangeCodec) NeedsForest() bool { return true }

func (RangeCodec) Place(tree []node.Node, parent *node.Node, child *node.Node) []node.Node {
	if parent == nil {
		maxRight := 0
		for _, t := range tree {
			if t.ID != child.ID && t.Right > maxRight {
				maxRight = t.Right
			}
		}
		child.Position = node.Position{Left: maxRight + 1, Right: maxRight + 2}
		return nil
	}

	bound := parent.Left
	for _, t := range tree {
		if t.ID != child.ID && t.HasParent(parent.ID) && t.Right > bound {
			bound = t.Right
		}
	}

	shifted := make([]node.Node, 0, len(tree))
	for _, t := range tree {
		if t.ID == child.ID {
			continue
		}
		moved := false
		if t.Left > bound {
			t.Left += 2
			moved = true
		}
		if t.Right > bound {
			t.Right += 2
			moved = true
		}
		if moved {
			shifted = append(shifted, t.Clone())
		}
	}
	child.Position = node.Position{Left: bound + 1, Right: bound + 2}
	return shifted
}

// Derive numbers the whole forest from 1 in walk order. Anchored subtrees
// are numbered as independent roots.
func (RangeCodec) Derive(f *Forest) map[uuid.UUID]node.Position {
	out := make(map[uuid.UUID]node.Position, f.Len())
	counter := 0
	f.Walk(func(v Visit) {
		counter++
		out[v.Node.ID] = node.Position{Left: counter}
	}, func(v Visit) {
		counter++
		p := out[v.Node.ID]
		p.Right = counter
		out[v.Node.ID] = p
	})
	return out
}

func (RangeCodec) DescendantScan(n node.Node) Scan {
	return Scan{Encoding: EncodingRange, Left: n.Left, Right: n.Right}
}

func (RangeCodec) IsAncestor(ancestor, descendant node.Node) bool {
	return ancestor.Left < descendant.Left && descendant.Right < ancestor.Right
}

func (RangeCodec) Matches(stored, expected node.Position) bool {
	return stored.Left == expected.Left && stored.Right == expected.Right
}

// CloseGap removes the interval [left, right] of a deleted subtree from the
// numbering of tree and returns the nodes that shifted.
func CloseGap(tree []node.Node, left, right int) []node.Node {
	width := right - left + 1
	out := make([]node.Node, 0, len(tree))
	for _, t := range tree {
		if t.Left >= left && t.Right <= right {
			continue
		}
		moved := false
		if t.Left > right {
			t.Left -= width
			moved = true
		}
		if t.Right > right {
			t.Right -= width
			moved = true
		}
		if moved {
			out = append(out, t.Clone())
		}
	}
	return out
}
