package tree

import (
	"github.com/go-go-golems/espalier/pkg/conversation"
)

// FlatNode is one line of a depth-first rendering of the tree.
type FlatNode struct {
	Node  Node
	Depth int
}

// Flatten returns the nodes in depth-first preorder starting at the root,
// visiting children in edge order. The active child of a fork point comes
// before its stored siblings, so terminal views that indent by depth show
// the active path as the leftmost spine.
func (t *Tree) Flatten() []FlatNode {
	if len(t.Nodes) == 0 {
		return nil
	}

	byID := make(map[conversation.NodeID]Node, len(t.Nodes))
	for _, n := range t.Nodes {
		byID[n.ID] = n
	}
	children := make(map[conversation.NodeID][]conversation.NodeID)
	for _, e := range t.Edges {
		children[e.From] = append(children[e.From], e.To)
	}

	out := make([]FlatNode, 0, len(t.Nodes))
	visited := make(map[conversation.NodeID]bool, len(t.Nodes))

	var walk func(id conversation.NodeID, depth int)
	walk = func(id conversation.NodeID, depth int) {
		node, ok := byID[id]
		if !ok || visited[id] {
			return
		}
		visited[id] = true
		out = append(out, FlatNode{Node: node, Depth: depth})
		for _, child := range children[id] {
			walk(child, depth+1)
		}
	}
	walk(t.RootID, 0)

	return out
}
