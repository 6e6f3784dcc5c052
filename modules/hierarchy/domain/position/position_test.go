package position_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/position"
)

func mkNode(parent *node.Node) node.Node {
	n := node.Node{ID: uuid.New(), Kind: node.KindDepartment, Status: node.StatusActive}
	if parent != nil {
		n.ParentID = node.Ptr(parent.ID)
	}
	n.Level = position.Level(parent)
	return n
}

func TestLevel(t *testing.T) {
	require.Equal(t, 1, position.Level(nil))
	parent := node.Node{Level: 4}
	require.Equal(t, 5, position.Level(&parent))
}

func TestPathCodec_PlaceAndScan(t *testing.T) {
	codec := position.PathCodec{}
	root := mkNode(nil)
	codec.Place(nil, nil, &root)
	require.Equal(t, root.ID.String(), root.Path)

	child := mkNode(&root)
	codec.Place(nil, &root, &child)
	require.Equal(t, root.ID.String()+"/"+child.ID.String(), child.Path)

	require.True(t, codec.IsAncestor(root, child))
	require.False(t, codec.IsAncestor(child, root))
	require.Equal(t, position.Scan{Encoding: position.EncodingPath, Prefix: root.Path + "/"}, codec.DescendantScan(root))

	ids, err := position.ParsePath(child.Path)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{root.ID, child.ID}, ids)
}

func TestParsePath_RejectsGarbage(t *testing.T) {
	_, err := position.ParsePath("")
	require.Error(t, err)
	_, err = position.ParsePath(uuid.NewString() + "/not-a-uuid")
	require.Error(t, err)
}

func TestRangeCodec_PlaceWidensAncestorsAndShiftsRight(t *testing.T) {
	codec := position.RangeCodec{}
	var tree []node.Node

	r1 := mkNode(nil)
	codec.Place(tree, nil, &r1)
	tree = append(tree, r1)
	require.Equal(t, node.Position{Left: 1, Right: 2}, r1.Position)

	r2 := mkNode(nil)
	codec.Place(tree, nil, &r2)
	tree = append(tree, r2)
	require.Equal(t, node.Position{Left: 3, Right: 4}, r2.Position)

	c1 := mkNode(&r1)
	shifted := codec.Place(tree, &r1, &c1)
	require.Equal(t, node.Position{Left: 2, Right: 3}, c1.Position)
	byID := map[uuid.UUID]node.Node{}
	for _, s := range shifted {
		byID[s.ID] = s
	}
	require.Equal(t, node.Position{Left: 1, Right: 4}, byID[r1.ID].Position)
	require.Equal(t, node.Position{Left: 5, Right: 6}, byID[r2.ID].Position)
}

func TestRangeCodec_PlaceAppendsAfterLastChild(t *testing.T) {
	codec := position.RangeCodec{}
	root := mkNode(nil)
	root.Position = node.Position{Left: 1, Right: 4}
	first := mkNode(&root)
	first.Position = node.Position{Left: 2, Right: 3}
	tree := []node.Node{root, first}

	second := mkNode(&root)
	shifted := codec.Place(tree, &root, &second)
	require.Equal(t, node.Position{Left: 4, Right: 5}, second.Position)
	require.Len(t, shifted, 1)
	require.Equal(t, root.ID, shifted[0].ID)
	require.Equal(t, 6, shifted[0].Right)
}

func TestRangeCodec_DeriveNumbersForest(t *testing.T) {
	r1 := mkNode(nil)
	c1 := mkNode(&r1)
	c2 := mkNode(&c1)
	r2 := mkNode(nil)
	r1.Left, r2.Left = 1, 10

	f := position.NewForest([]node.Node{c2, r2, c1, r1})
	got := position.RangeCodec{}.Derive(f)
	require.Equal(t, node.Position{Left: 1, Right: 6}, got[r1.ID])
	require.Equal(t, node.Position{Left: 2, Right: 5}, got[c1.ID])
	require.Equal(t, node.Position{Left: 3, Right: 4}, got[c2.ID])
	require.Equal(t, node.Position{Left: 7, Right: 8}, got[r2.ID])
}

func TestExpected_SubtreeUnderNewParent(t *testing.T) {
	r1 := mkNode(nil)
	r2 := mkNode(nil)
	for _, n := range []*node.Node{&r1, &r2} {
		position.PathCodec{}.Place(nil, nil, n)
	}
	c1 := mkNode(&r1)
	position.PathCodec{}.Place(nil, &r1, &c1)
	c2 := mkNode(&c1)
	position.PathCodec{}.Place(nil, &c1, &c2)

	c1.ParentID = node.Ptr(r2.ID)
	f := position.NewSubtree(c1, &r2, []node.Node{c2})
	changed := position.Reencode(position.PathCodec{}, f)
	require.Len(t, changed, 2)

	byID := map[uuid.UUID]node.Node{}
	for _, n := range changed {
		byID[n.ID] = n
	}
	require.Equal(t, 2, byID[c1.ID].Level)
	require.Equal(t, 3, byID[c2.ID].Level)
	require.Equal(t, r2.Path+"/"+c1.ID.String(), byID[c1.ID].Path)
	require.Equal(t, r2.Path+"/"+c1.ID.String()+"/"+c2.ID.String(), byID[c2.ID].Path)
}

func TestForest_BreaksClassifiesOrphansAndCycles(t *testing.T) {
	root := mkNode(nil)
	orphan := mkNode(nil)
	orphan.ParentID = node.Ptr(uuid.New())
	below := mkNode(&orphan)

	a := mkNode(nil)
	b := mkNode(&a)
	a.ParentID = node.Ptr(b.ID)

	f := position.NewForest([]node.Node{root, orphan, below, a, b})
	breaks := f.Breaks()
	require.Len(t, breaks, 4)
	require.Equal(t, position.BreakOrphaned, breaks[orphan.ID].Kind)
	require.Equal(t, position.BreakOrphaned, breaks[below.ID].Kind)
	require.Equal(t, orphan.ID, breaks[below.ID].Origin)
	require.Equal(t, position.BreakCycle, breaks[a.ID].Kind)
	require.Equal(t, position.BreakCycle, breaks[b.ID].Kind)
}

func TestForest_MaxDepthBelow(t *testing.T) {
	r := mkNode(nil)
	c := mkNode(&r)
	g := mkNode(&c)
	other := mkNode(nil)
	otherChild := mkNode(&other)
	f := position.NewForest([]node.Node{r, c, g, other, otherChild})
	require.Equal(t, 2, f.MaxDepthBelow(r.ID))
	require.Equal(t, 1, f.MaxDepthBelow(c.ID))
	require.Equal(t, 0, f.MaxDepthBelow(g.ID))
}

func TestForest_PlaceLastOrdersSiblings(t *testing.T) {
	r := mkNode(nil)
	a := mkNode(&r)
	b := mkNode(&r)
	a.Left, b.Left = 5, 2
	f := position.NewForest([]node.Node{r, a, b})
	kids := f.Children(r.ID)
	require.Equal(t, b.ID, kids[0].ID)

	f.PlaceLast(b.ID)
	kids = f.Children(r.ID)
	require.Equal(t, a.ID, kids[0].ID)
	require.Equal(t, b.ID, kids[1].ID)
}

func TestCloseGap(t *testing.T) {
	r := mkNode(nil)
	r.Position = node.Position{Left: 1, Right: 6}
	a := mkNode(&r)
	a.Position = node.Position{Left: 2, Right: 3}
	b := mkNode(&r)
	b.Position = node.Position{Left: 4, Right: 5}

	shifted := position.CloseGap([]node.Node{r, a, b}, 2, 3)
	require.Len(t, shifted, 2)
	byID := map[uuid.UUID]node.Node{}
	for _, n := range shifted {
		byID[n.ID] = n
	}
	require.Equal(t, node.Position{Left: 1, Right: 4}, byID[r.ID].Position)
	require.Equal(t, node.Position{Left: 2, Right: 3}, byID[b.ID].Position)
}
