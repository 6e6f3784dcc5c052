package position

import (
	"sort"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

// Visit is one step of a Forest walk. Parent is nil for a root, a forest
// member for an inner node, or the external parent of an anchored subtree.
type Visit struct {
	Node   *node.Node
	Parent *node.Node
	Anchor bool
}

type BreakKind string

const (
	BreakOrphaned BreakKind = "orphaned_parent"
	BreakCycle    BreakKind = "cycle"
)

// Break describes why a node cannot be reached from any anchor. Origin is the
// node whose parent is missing, or the first node found inside the loop.
type Break struct {
	Kind   BreakKind
	Origin uuid.UUID
}

// Forest indexes a node slice by parent pointer so trees can be walked
// top-down without touching the store.
type Forest struct {
	nodes    map[uuid.UUID]*node.Node
	ids      []uuid.UUID
	children map[uuid.UUID][]uuid.UUID
	anchors  map[uuid.UUID]*node.Node
	last     map[uuid.UUID]bool
	sorted   bool
}

// NewForest anchors every node without a parent as a root.
func NewForest(nodes []node.Node) *Forest {
	f := newForest(nodes)
	for _, id := range f.ids {
		if f.nodes[id].ParentID == nil {
			f.anchors[id] = nil
		}
	}
	return f
}

// NewSubtree anchors top under parent (nil for a root) and hangs descendants
// below it through their parent pointers.
func NewSubtree(top node.Node, parent *node.Node, descendants []node.Node) *Forest {
	all := make([]node.Node, 0, len(descendants)+1)
	all = append(all, top)
	for _, d := range descendants {
		if d.ID == top.ID {
			continue
		}
		all = append(all, d)
	}
	f := newForest(all)
	if parent != nil {
		p := parent.Clone()
		f.anchors[top.ID] = &p
	} else {
		f.anchors[top.ID] = nil
	}
	return f
}

func newForest(nodes []node.Node) *Forest {
	f := &Forest{
		nodes:    make(map[uuid.UUID]*node.Node, len(nodes)),
		ids:      make([]uuid.UUID, 0, len(nodes)),
		children: make(map[uuid.UUID][]uuid.UUID, len(nodes)),
		anchors:  map[uuid.UUID]*node.Node{},
		last:     map[uuid.UUID]bool{},
	}
	for i := range nodes {
		n := nodes[i].Clone()
		if _, dup := f.nodes[n.ID]; dup {
			continue
		}
		f.nodes[n.ID] = &n
		f.ids = append(f.ids, n.ID)
	}
	for _, id := range f.ids {
		n := f.nodes[id]
		if n.ParentID == nil {
			continue
		}
		if _, ok := f.nodes[*n.ParentID]; ok {
			f.children[*n.ParentID] = append(f.children[*n.ParentID], id)
		}
	}
	return f
}

func (f *Forest) Len() int {
	return len(f.ids)
}

func (f *Forest) Get(id uuid.UUID) (*node.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Nodes returns the members in input order.
func (f *Forest) Nodes() []*node.Node {
	out := make([]*node.Node, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, f.nodes[id])
	}
	return out
}

func (f *Forest) Children(id uuid.UUID) []*node.Node {
	f.sortSiblings()
	ids := f.children[id]
	out := make([]*node.Node, 0, len(ids))
	for _, cid := range ids {
		out = append(out, f.nodes[cid])
	}
	return out
}

// PlaceLast makes id sort after all of its siblings, whatever its stored
// position says. Used when a node is appended under a new parent.
func (f *Forest) PlaceLast(id uuid.UUID) {
	f.last[id] = true
	f.sorted = false
}

func (f *Forest) sortSiblings() {
	if f.sorted {
		return
	}
	less := func(ids []uuid.UUID) func(i, j int) bool {
		return func(i, j int) bool {
			a, b := f.nodes[ids[i]], f.nodes[ids[j]]
			if f.last[a.ID] != f.last[b.ID] {
				return !f.last[a.ID]
			}
			if a.Left != b.Left {
				return a.Left < b.Left
			}
			if a.DisplayOrder != b.DisplayOrder {
				return a.DisplayOrder < b.DisplayOrder
			}
			return a.ID.String() < b.ID.String()
		}
	}
	for parent, ids := range f.children {
		sort.SliceStable(ids, less(ids))
		f.children[parent] = ids
	}
	roots := f.anchorIDs()
	sort.SliceStable(roots, less(roots))
	f.ids = reorderAnchors(f.ids, roots, f.anchors)
	f.sorted = true
}

func (f *Forest) anchorIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(f.anchors))
	for _, id := range f.ids {
		if _, ok := f.anchors[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// reorderAnchors moves the anchors to the front of ids in the given order,
// keeping everything else in input order.
func reorderAnchors(ids, roots []uuid.UUID, anchors map[uuid.UUID]*node.Node) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	out = append(out, roots...)
	for _, id := range ids {
		if _, ok := anchors[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Walk visits every node reachable from an anchor in depth-first pre-order,
// calling exit once a node's subtree is finished. The walk is iterative and
// visits each node at most once.
func (f *Forest) Walk(enter func(Visit), exit func(Visit)) {
	f.sortSiblings()
	type frame struct {
		visit Visit
		next  int
	}
	seen := make(map[uuid.UUID]bool, len(f.ids))
	for _, rootID := range f.anchorIDs() {
		if seen[rootID] {
			continue
		}
		seen[rootID] = true
		root := Visit{Node: f.nodes[rootID], Parent: f.anchors[rootID], Anchor: true}
		if enter != nil {
			enter(root)
		}
		stack := []frame{{visit: root}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := f.children[top.visit.Node.ID]
			if top.next >= len(kids) {
				if exit != nil {
					exit(top.visit)
				}
				stack = stack[:len(stack)-1]
				continue
			}
			cid := kids[top.next]
			top.next++
			if seen[cid] {
				continue
			}
			seen[cid] = true
			v := Visit{Node: f.nodes[cid], Parent: top.visit.Node}
			if enter != nil {
				enter(v)
			}
			stack = append(stack, frame{visit: v})
		}
	}
}

// Reachable returns the ids visited by Walk.
func (f *Forest) Reachable() map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(f.ids))
	f.Walk(func(v Visit) { out[v.Node.ID] = true }, nil)
	return out
}

// Breaks classifies every node Walk cannot reach. Each parent chain is
// followed at most Len()+1 steps.
func (f *Forest) Breaks() map[uuid.UUID]Break {
	reachable := f.Reachable()
	out := map[uuid.UUID]Break{}
	for _, id := range f.ids {
		if reachable[id] {
			continue
		}
		out[id] = f.classify(id)
	}
	return out
}

func (f *Forest) classify(id uuid.UUID) Break {
	seen := map[uuid.UUID]bool{}
	cur := f.nodes[id]
	for steps := 0; steps <= len(f.ids); steps++ {
		if seen[cur.ID] {
			return Break{Kind: BreakCycle, Origin: cur.ID}
		}
		seen[cur.ID] = true
		if cur.ParentID == nil {
			return Break{Kind: BreakOrphaned, Origin: cur.ID}
		}
		parent, ok := f.nodes[*cur.ParentID]
		if !ok {
			return Break{Kind: BreakOrphaned, Origin: cur.ID}
		}
		cur = parent
	}
	return Break{Kind: BreakCycle, Origin: cur.ID}
}

// MaxDepthBelow returns how many levels hang below id, 0 for a leaf.
func (f *Forest) MaxDepthBelow(id uuid.UUID) int {
	if _, ok := f.nodes[id]; !ok {
		return 0
	}
	depth := map[uuid.UUID]int{}
	maxDepth := 0
	f.Walk(func(v Visit) {
		if v.Node.ID == id {
			depth[id] = 0
			return
		}
		if v.Anchor {
			return
		}
		d, inside := depth[v.Parent.ID]
		if !inside {
			return
		}
		depth[v.Node.ID] = d + 1
		if d+1 > maxDepth {
			maxDepth = d + 1
		}
	}, nil)
	return maxDepth
}
