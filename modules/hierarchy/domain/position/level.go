package position

import "github.com/iota-uz/orgtree/modules/hierarchy/domain/node"

const RootLevel = 1

// Level returns the depth of a child of parent; nil means the child is a root.
func Level(parent *node.Node) int {
	if parent == nil {
		return RootLevel
	}
	return parent.Level + 1
}
