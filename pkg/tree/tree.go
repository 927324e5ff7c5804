// Package tree derives a flat render tree from a conversation record. The
// output is plain data (nodes, edges, active path) for a view layer to
// consume; it never mutates the record it reads.
package tree

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

const previewRunes = 80

// Node is one renderable message. BranchCount and BranchIndex are set on
// the children of a fork point so a view can render "2/3" style badges.
type Node struct {
	ID           conversation.NodeID `json:"id"`
	ParentID     conversation.NodeID `json:"parentId"`
	Role         conversation.Role   `json:"role"`
	Preview      string              `json:"preview"`
	OnActivePath bool                `json:"onActivePath"`
	Anchor       bool                `json:"anchor,omitempty"`
	BranchCount  int                 `json:"branchCount,omitempty"`
	BranchIndex  int                 `json:"branchIndex,omitempty"`
	Generated    bool                `json:"generated,omitempty"`
	Failed       bool                `json:"failed,omitempty"`
}

// Edge connects a parent to one of its children. Active edges lie on the
// active path.
type Edge struct {
	From   conversation.NodeID `json:"from"`
	To     conversation.NodeID `json:"to"`
	Active bool                `json:"active"`
}

// Tree is the derived render tree. Node order is deterministic: the primary
// sequence in order, then for each fork point (in walk order) its stored
// branches in entry order.
type Tree struct {
	Nodes         []Node                `json:"nodes"`
	Edges         []Edge                `json:"edges"`
	ActivePathIDs []conversation.NodeID `json:"activePathIds"`
	RootID        conversation.NodeID   `json:"rootId"`
	ActiveLeafID  conversation.NodeID   `json:"activeLeafId"`
}

// Find returns the node with the given ID.
func (t *Tree) Find(id conversation.NodeID) (Node, bool) {
	for _, n := range t.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.Nodes)
}

// Build derives the render tree for a conversation. An empty conversation
// yields an empty tree with null root and leaf IDs. A record whose walk
// revisits a message is reported as corrupt.
func Build(conv *conversation.Conversation) (*Tree, error) {
	if conv == nil {
		return nil, errors.New("cannot build a tree from a nil conversation")
	}

	t := &Tree{
		ActivePathIDs: conv.ActivePath().IDs(),
	}
	if conv.IsEmpty() {
		return t, nil
	}
	t.RootID = conv.Root().ID
	t.ActiveLeafID = conv.ActiveLeaf().ID

	b := &builder{
		conv:    conv,
		tree:    t,
		visited: map[conversation.NodeID]bool{},
	}
	if err := b.walkSequence(conv.Primary, true, 0, 0); err != nil {
		return nil, err
	}
	return t, nil
}

type builder struct {
	conv    *conversation.Conversation
	tree    *Tree
	visited map[conversation.NodeID]bool
}

// walkSequence emits one linear run of messages and then expands the fork
// points it contains, stored branches in entry order. headCount/headIndex
// carry the sibling badge for the run's first message when the run hangs
// off a fork point.
func (b *builder) walkSequence(seq []*conversation.Message, active bool, headCount, headIndex int) error {
	type pendingFork struct {
		anchor *conversation.Message
		entry  *conversation.ForkEntry
	}
	var forks []pendingFork

	for i, msg := range seq {
		if b.visited[msg.ID] {
			return errors.Wrapf(conversation.ErrInvariant, "message %s visited twice while building the tree", msg.ID)
		}
		b.visited[msg.ID] = true

		node := Node{
			ID:           msg.ID,
			ParentID:     msg.ParentID,
			Role:         msg.Role,
			Preview:      preview(msg.Text),
			OnActivePath: active,
			Generated:    msg.Generation != nil,
			Failed:       msg.Failed(),
		}
		if i == 0 {
			node.BranchCount = headCount
			node.BranchIndex = headIndex
		} else if entry, ok := b.conv.Fork(seq[i-1].ID); ok {
			// Inline child of a fork point: it occupies the active slot.
			node.BranchCount = len(entry.Branches)
			node.BranchIndex = clampIndex(entry.ActiveIndex, len(entry.Branches))
		}
		if entry, ok := b.conv.Fork(msg.ID); ok {
			node.Anchor = true
			forks = append(forks, pendingFork{anchor: msg, entry: entry})
		}
		b.tree.Nodes = append(b.tree.Nodes, node)

		if i > 0 {
			b.tree.Edges = append(b.tree.Edges, Edge{
				From:   seq[i-1].ID,
				To:     msg.ID,
				Active: active,
			})
		}
	}

	for _, f := range forks {
		activeIdx := clampIndex(f.entry.ActiveIndex, len(f.entry.Branches))
		for slot, branch := range f.entry.Branches {
			if slot == activeIdx || len(branch.Messages) == 0 {
				continue
			}
			b.tree.Edges = append(b.tree.Edges, Edge{
				From: f.anchor.ID,
				To:   branch.Messages[0].ID,
			})
			if err := b.walkSequence(branch.Messages, false, len(f.entry.Branches), slot); err != nil {
				return err
			}
		}
	}
	return nil
}

func clampIndex(idx, n int) int {
	if idx < 0 || idx >= n {
		return 0
	}
	return idx
}

func preview(text string) string {
	line := text
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	runes := []rune(line)
	if len(runes) > previewRunes {
		return string(runes[:previewRunes-3]) + "..."
	}
	return line
}
