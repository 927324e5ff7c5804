// Package conversation implements the branching conversation model used by
// tree-style chat clients.
//
// A conversation is a primary message sequence (the active path a flat chat
// view would show) plus a fork index mapping fork-point message IDs to their
// alternative continuations. The branch whose messages currently live in the
// primary sequence is the "active" branch of its fork entry; its slot in the
// entry is empty in storage. Non-active branches hold their full message
// runs. Fork entries nest: a message inside a stored branch may itself be a
// fork point with its own entry.
//
// All state changes go through Mutation values applied with Apply, which
// bumps the record version. Mutations either complete fully or leave the
// record untouched.
package conversation

import (
	"fmt"
	"time"

	"github.com/huandu/go-clone"
)

// Branch is one alternative continuation after a fork point. The active
// branch of an entry keeps its Messages empty; its content is mirrored into
// the sequence containing the fork point.
type Branch struct {
	ID       BranchID   `json:"id"`
	Messages []*Message `json:"messages"`
}

// ForkEntry represents a branching decision at a fork-point message.
type ForkEntry struct {
	Branches    []*Branch `json:"branches"`
	ActiveIndex int       `json:"activeIndex"`
}

// Active returns the currently promoted branch, clamping a corrupt index to
// position 0 so reads stay total.
func (e *ForkEntry) Active() *Branch {
	if e == nil || len(e.Branches) == 0 {
		return nil
	}
	idx := e.ActiveIndex
	if idx < 0 || idx >= len(e.Branches) {
		idx = 0
	}
	return e.Branches[idx]
}

// FindBranch returns the branch with the given ID and its index.
func (e *ForkEntry) FindBranch(id BranchID) (*Branch, int, bool) {
	if e == nil {
		return nil, -1, false
	}
	for i, b := range e.Branches {
		if b.ID == id {
			return b, i, true
		}
	}
	return nil, -1, false
}

// Conversation is the aggregate root of one branching dialogue.
type Conversation struct {
	ID      ConversationID        `json:"id"`
	Title   string                `json:"title"`
	Primary []*Message            `json:"primarySequence"`
	Forks   map[NodeID]*ForkEntry `json:"forkIndex,omitempty"`
	Version uint64                `json:"version"`
	Created time.Time             `json:"created"`
	Updated time.Time             `json:"updated"`
}

type ConversationOption func(*Conversation)

func WithConversationID(id ConversationID) ConversationOption {
	return func(c *Conversation) {
		c.ID = id
	}
}

func WithTitle(title string) ConversationOption {
	return func(c *Conversation) {
		c.Title = title
	}
}

// WithThread seeds the primary sequence with a linear run of messages,
// chaining parent IDs in order.
func WithThread(thread Thread) ConversationOption {
	return func(c *Conversation) {
		parentID := NullNode
		for _, msg := range thread {
			msg.ParentID = parentID
			c.Primary = append(c.Primary, msg)
			parentID = msg.ID
		}
	}
}

func New(options ...ConversationOption) *Conversation {
	ret := &Conversation{
		ID:      NewConversationID(),
		Primary: []*Message{},
		Forks:   map[NodeID]*ForkEntry{},
		Created: time.Now(),
		Updated: time.Now(),
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (c *Conversation) IsEmpty() bool {
	return c == nil || len(c.Primary) == 0
}

// Root returns the first message of the primary sequence, nil when empty.
func (c *Conversation) Root() *Message {
	if c.IsEmpty() {
		return nil
	}
	return c.Primary[0]
}

// ActiveLeaf returns the last message on the active path, nil when empty.
func (c *Conversation) ActiveLeaf() *Message {
	if c.IsEmpty() {
		return nil
	}
	return c.Primary[len(c.Primary)-1]
}

// ActivePath returns the active path from root to leaf. Because the active
// branch of every fork point on the path mirrors its messages into the
// primary sequence, this is exactly the primary sequence.
func (c *Conversation) ActivePath() Thread {
	if c == nil {
		return nil
	}
	return append(Thread{}, c.Primary...)
}

// Fork returns the fork entry anchored at the given message, if any.
func (c *Conversation) Fork(anchor NodeID) (*ForkEntry, bool) {
	if c == nil || c.Forks == nil {
		return nil, false
	}
	entry, ok := c.Forks[anchor]
	return entry, ok
}

// location points at a message inside the conversation: the sequence that
// holds it, its index there, and the branch (nil when the sequence is the
// primary one).
type location struct {
	seq    *[]*Message
	index  int
	branch *Branch
	anchor NodeID
}

func (l location) message() *Message {
	return (*l.seq)[l.index]
}

// tail returns the messages after the located one in its own sequence.
func (l location) tail() []*Message {
	return (*l.seq)[l.index+1:]
}

func (c *Conversation) locate(id NodeID) (location, bool) {
	if c == nil || id.IsNull() {
		return location{}, false
	}
	for i, msg := range c.Primary {
		if msg.ID == id {
			return location{seq: &c.Primary, index: i, anchor: NullNode}, true
		}
	}
	for anchor, entry := range c.Forks {
		for _, branch := range entry.Branches {
			for i, msg := range branch.Messages {
				if msg.ID == id {
					return location{seq: &branch.Messages, index: i, branch: branch, anchor: anchor}, true
				}
			}
		}
	}
	return location{}, false
}

// FindMessage looks up a message anywhere in the conversation.
func (c *Conversation) FindMessage(id NodeID) (*Message, bool) {
	loc, ok := c.locate(id)
	if !ok {
		return nil, false
	}
	return loc.message(), true
}

// AllMessages returns every message reachable from the primary sequence, in
// deterministic depth-first order: each sequence in order, branches of a
// fork point visited in branch order right after their anchor's sequence.
func (c *Conversation) AllMessages() Thread {
	if c == nil {
		return nil
	}
	var out Thread
	visited := map[NodeID]bool{}
	expanded := map[NodeID]bool{}

	// Fork anchors are expanded at most once so a corrupt cyclic record
	// cannot send the walk into unbounded recursion.
	var walk func(seq []*Message)
	walk = func(seq []*Message) {
		for _, msg := range seq {
			if visited[msg.ID] {
				continue
			}
			visited[msg.ID] = true
			out = append(out, msg)
		}
		for _, msg := range seq {
			entry, ok := c.Forks[msg.ID]
			if !ok || expanded[msg.ID] {
				continue
			}
			expanded[msg.ID] = true
			for _, branch := range entry.Branches {
				walk(branch.Messages)
			}
		}
	}
	walk(c.Primary)
	return out
}

func (c *Conversation) MessageCount() int {
	return len(c.AllMessages())
}

// Clone returns a deep copy, used for undo snapshots and store isolation.
// The copy normalizes nil containers to empty ones so that marshalled
// records always carry arrays and objects instead of nulls.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	ret := clone.Clone(c).(*Conversation)
	if ret.Primary == nil {
		ret.Primary = []*Message{}
	}
	if ret.Forks == nil {
		ret.Forks = map[NodeID]*ForkEntry{}
	}
	for _, entry := range ret.Forks {
		for _, branch := range entry.Branches {
			if branch != nil && branch.Messages == nil {
				branch.Messages = []*Message{}
			}
		}
	}
	return ret
}

// Apply applies a single mutation and increments the version.
func (c *Conversation) Apply(m Mutation) (*ChangeSet, error) {
	if c == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	if m == nil {
		return nil, fmt.Errorf("mutation is nil")
	}
	changes, err := m.Apply(c)
	if err != nil {
		return nil, fmt.Errorf("mutation %s failed: %w", m.Name(), err)
	}
	c.Version++
	c.Updated = time.Now()
	return changes, nil
}

// ApplyAll applies multiple mutations sequentially, stopping at the first
// failure. Changes from completed mutations are merged.
func (c *Conversation) ApplyAll(muts ...Mutation) (*ChangeSet, error) {
	merged := &ChangeSet{}
	for _, m := range muts {
		changes, err := c.Apply(m)
		if err != nil {
			return merged, err
		}
		merged.merge(changes)
	}
	return merged, nil
}

// DiffIDs computes which node IDs appeared and disappeared between two
// message sets, for dirty signaling after wholesale replacement (undo).
func DiffIDs(before, after []NodeID) (added, removed []NodeID) {
	beforeSet := make(map[NodeID]bool, len(before))
	for _, id := range before {
		beforeSet[id] = true
	}
	afterSet := make(map[NodeID]bool, len(after))
	for _, id := range after {
		afterSet[id] = true
	}
	for _, id := range after {
		if !beforeSet[id] {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !afterSet[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}
