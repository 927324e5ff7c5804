package chatgpt

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// ToConversation maps the share page's node tree onto a conversation record.
// The first child of every node continues the active path; later children,
// typically regenerated replies, become stored branches at their fork point.
// Nodes without visible text, like the synthetic root, are spliced out.
func ToConversation(doc *SharedConversation) (*conversation.Conversation, error) {
	nodes := doc.Nodes()

	b := &treeBuilder{
		index:    map[string]Node{},
		branches: map[conversation.NodeID][]*conversation.Branch{},
		visited:  map[string]bool{},
	}
	for _, node := range nodes {
		if node.ID == "" {
			continue
		}
		b.index[node.ID] = node
	}

	rootID := findRoot(nodes, b.index)
	if rootID == "" {
		return nil, errors.New("conversation has no root node")
	}

	primary, err := b.linearize(rootID, conversation.NullNode)
	if err != nil {
		return nil, err
	}
	if len(primary) == 0 {
		return nil, errors.New("conversation has no visible messages")
	}

	conv := conversation.New(conversation.WithTitle(doc.Title))
	conv.Primary = primary
	for anchor, stored := range b.branches {
		conv.Forks[anchor] = &conversation.ForkEntry{
			Branches:    append([]*conversation.Branch{{ID: conversation.NewBranchID()}}, stored...),
			ActiveIndex: 0,
		}
	}
	if t := timeFromUnix(doc.CreateTime); !t.IsZero() {
		conv.Created = t
	}
	if t := timeFromUnix(doc.UpdateTime); !t.IsZero() {
		conv.Updated = t
	}

	if err := conv.Validate(); err != nil {
		return nil, errors.Wrap(err, "imported conversation is inconsistent")
	}
	return conv, nil
}

// findRoot picks the first node without a resolvable parent.
func findRoot(nodes []Node, index map[string]Node) string {
	for _, node := range nodes {
		if node.ID == "" {
			continue
		}
		if node.Parent == "" {
			return node.ID
		}
		if _, ok := index[node.Parent]; !ok {
			return node.ID
		}
	}
	return ""
}

type treeBuilder struct {
	index    map[string]Node
	branches map[conversation.NodeID][]*conversation.Branch
	visited  map[string]bool
}

// linearize walks first children from the given node, returning the linear
// run and registering branches for the extra children along the way.
func (b *treeBuilder) linearize(id string, parent conversation.NodeID) ([]*conversation.Message, error) {
	var out []*conversation.Message

	for id != "" {
		if b.visited[id] {
			return nil, errors.Errorf("node %s appears twice in the tree", id)
		}
		b.visited[id] = true

		node, ok := b.index[id]
		if !ok {
			return nil, errors.Errorf("node %s is referenced but missing from the document", id)
		}

		if msg := messageOf(node); msg != nil {
			msg.ParentID = parent
			out = append(out, msg)
			parent = msg.ID
		}

		if len(node.Children) > 1 {
			if err := b.forkAt(parent, node.Children[1:]); err != nil {
				return nil, err
			}
		}
		if len(node.Children) == 0 {
			break
		}
		id = node.Children[0]
	}
	return out, nil
}

// forkAt turns extra children into stored branches anchored at the last
// visible message. Branches forking before any visible message cannot be
// anchored and are dropped.
func (b *treeBuilder) forkAt(anchor conversation.NodeID, childIDs []string) error {
	if anchor.IsNull() {
		log.Warn().Int("children", len(childIDs)).
			Msg("dropping branches that fork before the first visible message")
		return nil
	}

	for _, childID := range childIDs {
		run, err := b.linearize(childID, anchor)
		if err != nil {
			return err
		}
		if len(run) == 0 {
			continue
		}
		b.branches[anchor] = append(b.branches[anchor], &conversation.Branch{
			ID:       conversation.NewBranchID(),
			Messages: run,
		})
	}
	return nil
}

// messageOf converts a node into a message, nil when the node carries no
// visible text.
func messageOf(node Node) *conversation.Message {
	joined := strings.Join(node.Message.Content.Parts, "\n")
	if strings.TrimSpace(joined) == "" {
		return nil
	}

	options := []conversation.MessageOption{}
	if t := timeFromUnix(node.Message.CreateTime); !t.IsZero() {
		options = append(options, conversation.WithTime(t))
	}
	if id := nodeID(node); !id.IsNull() {
		options = append(options, conversation.WithID(id))
	}
	return conversation.NewMessage(roleOf(node.Message.Author.Role), joined, options...)
}

// nodeID keeps the original UUID when the share page has one, so re-imports
// of the same page produce stable node identities.
func nodeID(node Node) conversation.NodeID {
	for _, raw := range []string{node.ID, node.Message.ID} {
		if id, err := conversation.ParseNodeID(raw); err == nil && !id.IsNull() {
			return id
		}
	}
	return conversation.NullNode
}

func roleOf(raw string) conversation.Role {
	switch raw {
	case "user":
		return conversation.RoleUser
	case "assistant":
		return conversation.RoleAssistant
	case "system", "":
		return conversation.RoleSystem
	default:
		return conversation.Role(raw)
	}
}

func timeFromUnix(ts float64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
