package position

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
)

const PathSeparator = "/"

// PathCodec encodes a node as the separator-joined ids of its ancestors,
// root first, ending with its own id.
type PathCodec struct{}

func (PathCodec) Encoding() Encoding { return EncodingPath }

func (PathCodec) NeedsForest() bool { return false }

func ChildPath(parent *node.Node, id uuid.UUID) string {
	if parent == nil {
		return id.String()
	}
	return parent.Path + PathSeparator + id.String()
}

func (PathCodec) Place(_ []node.Node, parent *node.Node, child *node.Node) []node.Node {
	child.Position = node.Position{Path: ChildPath(parent, child.ID)}
	return nil
}

func (PathCodec) Derive(f *Forest) map[uuid.UUID]node.Position {
	out := make(map[uuid.UUID]node.Position, f.Len())
	f.Walk(func(v Visit) {
		if v.Anchor {
			out[v.Node.ID] = node.Position{Path: ChildPath(v.Parent, v.Node.ID)}
			return
		}
		parent := out[v.Parent.ID]
		out[v.Node.ID] = node.Position{Path: parent.Path + PathSeparator + v.Node.ID.String()}
	}, nil)
	return out
}

func (PathCodec) DescendantScan(n node.Node) Scan {
	return Scan{Encoding: EncodingPath, Prefix: n.Path + PathSeparator}
}

func (PathCodec) IsAncestor(ancestor, descendant node.Node) bool {
	if ancestor.Path == "" {
		return false
	}
	return strings.HasPrefix(descendant.Path, ancestor.Path+PathSeparator)
}

func (PathCodec) Matches(stored, expected node.Position) bool {
	return stored.Path == expected.Path
}

// ParsePath returns the ancestor ids encoded in path, root first.
func ParsePath(path string) ([]uuid.UUID, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, PathSeparator)
	out := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q: %w", p, err)
		}
		out = append(out, id)
	}
	return out, nil
}
