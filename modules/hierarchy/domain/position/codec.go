package position

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

type Encoding string

const (
	EncodingPath  Encoding = "path"
	EncodingRange Encoding = "range"
)

func ParseEncoding(raw string) (Encoding, error) {
	e := Encoding(strings.ToLower(strings.TrimSpace(raw)))
	switch e {
	case EncodingPath, EncodingRange:
		return e, nil
	case "":
		return EncodingPath, nil
	default:
		return "", fmt.Errorf("invalid encoding %q (expected path|range)", raw)
	}
}

// Scan is the store-side predicate selecting every descendant of a node:
// a prefix match for path trees, an open interval for range trees.
type Scan struct {
	Encoding Encoding
	Prefix   string
	Left     int
	Right    int
}

// Codec maps parent positions to child positions for one encoding family.
type Codec interface {
	Encoding() Encoding
	// NeedsForest reports whether structural changes shift nodes outside the
	// affected subtree, so callers must load the whole scope.
	NeedsForest() bool
	// Place assigns child a position as the last child of parent (nil for a
	// new root). tree is the current scope content when NeedsForest is true.
	// The returned nodes are members of tree whose positions shifted.
	Place(tree []node.Node, parent *node.Node, child *node.Node) []node.Node
	// Derive computes the position of every node reachable in f.
	Derive(f *Forest) map[uuid.UUID]node.Position
	DescendantScan(n node.Node) Scan
	IsAncestor(ancestor, descendant node.Node) bool
	// Matches compares the fields this encoding uses.
	Matches(stored, expected node.Position) bool
}

func NewCodec(enc Encoding) Codec {
	if enc == EncodingRange {
		return RangeCodec{}
	}
	return PathCodec{}
}

// Derived is the level and position implied by a node's parent chain.
type Derived struct {
	Level    int
	Position node.Position
}

// Expected derives level and position for every node reachable in f,
// ignoring the values stored on the nodes themselves.
func Expected(c Codec, f *Forest) map[uuid.UUID]Derived {
	levels := make(map[uuid.UUID]int, f.Len())
	f.Walk(func(v Visit) {
		if v.Anchor {
			levels[v.Node.ID] = Level(v.Parent)
			return
		}
		levels[v.Node.ID] = levels[v.Parent.ID] + 1
	}, nil)
	positions := c.Derive(f)
	out := make(map[uuid.UUID]Derived, len(levels))
	for id, lvl := range levels {
		out[id] = Derived{Level: lvl, Position: positions[id]}
	}
	return out
}

// Reencode applies Expected to the members of f and returns a copy of every
// node whose level or position changed, in walk order.
func Reencode(c Codec, f *Forest) []node.Node {
	expected := Expected(c, f)
	out := make([]node.Node, 0, f.Len())
	f.Walk(func(v Visit) {
		want := expected[v.Node.ID]
		if v.Node.Level == want.Level && c.Matches(v.Node.Position, want.Position) {
			return
		}
		n := v.Node.Clone()
		n.Level = want.Level
		n.Position = want.Position
		out = append(out, n)
	}, nil)
	return out
}
