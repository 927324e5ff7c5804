package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Mutation represents a deterministic change to the conversation. A mutation
// either applies fully and reports what changed, or fails without touching
// the record.
type Mutation interface {
	Apply(c *Conversation) (*ChangeSet, error)
	Name() string
}

// ChangeSet is the dirty signal returned by mutations: exactly which node
// IDs appeared, vanished, or changed content, so a consumer can update
// layouts and views without diffing the whole tree. StructureChanged is set
// whenever edges, active tags, or the active leaf may differ even though the
// node set is unchanged (fork creation, branch switches).
type ChangeSet struct {
	Added            []NodeID `json:"added,omitempty"`
	Removed          []NodeID `json:"removed,omitempty"`
	Updated          []NodeID `json:"updated,omitempty"`
	StructureChanged bool     `json:"structureChanged,omitempty"`
	NewBranch        BranchID `json:"newBranch,omitempty"`
}

func (cs *ChangeSet) IsEmpty() bool {
	return cs == nil ||
		(len(cs.Added) == 0 && len(cs.Removed) == 0 && len(cs.Updated) == 0 && !cs.StructureChanged)
}

func (cs *ChangeSet) merge(other *ChangeSet) {
	if other == nil {
		return
	}
	cs.Added = append(cs.Added, other.Added...)
	cs.Removed = append(cs.Removed, other.Removed...)
	cs.Updated = append(cs.Updated, other.Updated...)
	cs.StructureChanged = cs.StructureChanged || other.StructureChanged
	if !other.NewBranch.IsNull() {
		cs.NewBranch = other.NewBranch
	}
}

type SwitchDirection string

const (
	SwitchPrev SwitchDirection = "prev"
	SwitchNext SwitchDirection = "next"
)

func ensureMessageID(m *Message) {
	if m == nil {
		return
	}
	if m.ID.IsNull() {
		m.ID = NodeID(uuid.New())
	}
}

type insertAfterMutation struct {
	targetID NodeID
	message  *Message
}

// MutateInsertAfter appends a message immediately after the target in
// whichever sequence currently contains it, primary or stored branch.
func MutateInsertAfter(targetID NodeID, message *Message) Mutation {
	return insertAfterMutation{targetID: targetID, message: message}
}

func (m insertAfterMutation) Apply(c *Conversation) (*ChangeSet, error) {
	if m.message == nil {
		return nil, invariantf("message is nil")
	}
	ensureMessageID(m.message)
	if _, exists := c.locate(m.message.ID); exists {
		return nil, invariantf("duplicate node id %s", m.message.ID)
	}

	loc, ok := c.locate(m.targetID)
	if !ok {
		return nil, nodeNotFound(m.targetID)
	}

	seq := *loc.seq
	idx := loc.index + 1
	m.message.ParentID = loc.message().ID
	if idx < len(seq) {
		seq[idx].ParentID = m.message.ID
	}

	seq = append(seq, nil)
	copy(seq[idx+1:], seq[idx:])
	seq[idx] = m.message
	*loc.seq = seq

	return &ChangeSet{
		Added:            []NodeID{m.message.ID},
		StructureChanged: true,
	}, nil
}

func (m insertAfterMutation) Name() string { return "insert_after" }

type createForkMutation struct {
	at NodeID
}

// MutateCreateFork converts the messages following the fork point in its own
// sequence into a stored branch and opens a fresh, empty active branch ready
// to receive the alternative continuation. Message IDs are preserved
// unchanged through the demotion.
func MutateCreateFork(at NodeID) Mutation {
	return createForkMutation{at: at}
}

func (m createForkMutation) Apply(c *Conversation) (*ChangeSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	loc, ok := c.locate(m.at)
	if !ok {
		return nil, nodeNotFound(m.at)
	}
	tail := loc.tail()
	if len(tail) == 0 {
		return nil, ErrNoContinuation
	}

	demoted := append([]*Message(nil), tail...)
	fresh := &Branch{ID: NewBranchID()}

	if c.Forks == nil {
		c.Forks = map[NodeID]*ForkEntry{}
	}
	entry, exists := c.Forks[m.at]
	if !exists {
		entry = &ForkEntry{
			Branches: []*Branch{
				{ID: NewBranchID(), Messages: demoted},
				fresh,
			},
			ActiveIndex: 1,
		}
		c.Forks[m.at] = entry
	} else {
		// The active slot is empty in storage; hand it the tail it was
		// mirroring before adding the new branch.
		entry.Branches[entry.ActiveIndex].Messages = demoted
		entry.Branches = append(entry.Branches, fresh)
		entry.ActiveIndex = len(entry.Branches) - 1
	}

	*loc.seq = (*loc.seq)[:loc.index+1]

	return &ChangeSet{
		StructureChanged: true,
		NewBranch:        fresh.ID,
	}, nil
}

func (m createForkMutation) Name() string { return "create_fork" }

type switchForkMutation struct {
	at        NodeID
	direction SwitchDirection
	branchID  BranchID
}

// MutateSwitchFork cycles the active branch of the fork entry at the given
// message. The current active tail is demoted into its branch slot and the
// newly active branch's messages are promoted into the sequence. A no-op
// when the message has no fork entry with at least two branches.
func MutateSwitchFork(at NodeID, direction SwitchDirection) Mutation {
	return switchForkMutation{at: at, direction: direction}
}

// MutateSwitchForkTo switches directly to the branch with the given ID.
func MutateSwitchForkTo(at NodeID, branchID BranchID) Mutation {
	return switchForkMutation{at: at, branchID: branchID}
}

func (m switchForkMutation) Apply(c *Conversation) (*ChangeSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	loc, ok := c.locate(m.at)
	if !ok {
		return nil, nodeNotFound(m.at)
	}
	entry, ok := c.Forks[m.at]
	if !ok || len(entry.Branches) < 2 {
		return &ChangeSet{}, nil
	}

	newIdx := entry.ActiveIndex
	if m.branchID.IsNull() {
		n := len(entry.Branches)
		switch m.direction {
		case SwitchPrev:
			newIdx = (entry.ActiveIndex - 1 + n) % n
		case SwitchNext:
			newIdx = (entry.ActiveIndex + 1) % n
		default:
			return nil, invariantf("unknown switch direction %q", m.direction)
		}
	} else {
		_, idx, found := entry.FindBranch(m.branchID)
		if !found {
			return nil, branchNotFound(m.branchID)
		}
		newIdx = idx
	}
	if newIdx == entry.ActiveIndex {
		return &ChangeSet{}, nil
	}

	demoted := append([]*Message(nil), loc.tail()...)
	oldIdx := entry.ActiveIndex
	entry.Branches[oldIdx].Messages = demoted

	next := entry.Branches[newIdx]
	*loc.seq = append((*loc.seq)[:loc.index+1], next.Messages...)
	next.Messages = nil
	entry.ActiveIndex = newIdx

	changes := &ChangeSet{StructureChanged: true}

	// Demoting a never-filled branch leaves an empty stored slot; drop it,
	// and the whole entry once fewer than two branches remain.
	if len(demoted) == 0 {
		entry.Branches = append(entry.Branches[:oldIdx], entry.Branches[oldIdx+1:]...)
		if entry.ActiveIndex > oldIdx {
			entry.ActiveIndex--
		}
		if len(entry.Branches) < 2 {
			delete(c.Forks, m.at)
		}
	}

	return changes, nil
}

func (m switchForkMutation) Name() string { return "switch_fork" }

type editMessageMutation struct {
	id   NodeID
	text string
}

// MutateEditMessage replaces a message's text in place.
func MutateEditMessage(id NodeID, text string) Mutation {
	return editMessageMutation{id: id, text: text}
}

func (m editMessageMutation) Apply(c *Conversation) (*ChangeSet, error) {
	loc, ok := c.locate(m.id)
	if !ok {
		return nil, nodeNotFound(m.id)
	}
	msg := loc.message()
	msg.Text = m.text
	msg.LastUpdate = time.Now()
	return &ChangeSet{Updated: []NodeID{m.id}}, nil
}

func (m editMessageMutation) Name() string { return "edit_message" }
