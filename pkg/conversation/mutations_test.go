package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// seedConversation builds the starting point used across the mutation tests:
// a primary sequence of system, user and assistant messages.
func seedConversation(t *testing.T) (*Conversation, *Message, *Message, *Message) {
	t.Helper()
	sys := NewMessage(RoleSystem, "be helpful")
	u1 := NewMessage(RoleUser, "what is a capybara")
	a1 := NewMessage(RoleAssistant, "a large rodent")
	c := New(WithTitle("rodents"), WithThread(Thread{sys, u1, a1}))
	require.NoError(t, c.Validate())
	return c, sys, u1, a1
}

func TestInsertAfterMiddle(t *testing.T) {
	c, sys, u1, a1 := seedConversation(t)

	note := NewMessage(RoleUser, "them too")
	cs, err := c.Apply(MutateInsertAfter(u1.ID, note))
	require.NoError(t, err)
	require.Equal(t, []NodeID{note.ID}, cs.Added)
	require.True(t, cs.StructureChanged)

	require.Equal(t, []NodeID{sys.ID, u1.ID, note.ID, a1.ID}, threadIDs(c.Primary))
	require.Equal(t, u1.ID, note.ParentID)
	require.Equal(t, note.ID, a1.ParentID)
	require.NoError(t, c.Validate())
}

func TestInsertAfterLeaf(t *testing.T) {
	c, _, _, a1 := seedConversation(t)

	next := NewMessage(RoleUser, "and beavers?")
	_, err := c.Apply(MutateInsertAfter(a1.ID, next))
	require.NoError(t, err)
	require.Equal(t, next.ID, c.ActiveLeaf().ID)
	require.NoError(t, c.Validate())
}

func TestInsertAfterMissingTarget(t *testing.T) {
	c, _, _, _ := seedConversation(t)

	_, err := c.Apply(MutateInsertAfter(NewNodeID(), NewMessage(RoleUser, "lost")))
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestInsertAfterDuplicateID(t *testing.T) {
	c, sys, u1, _ := seedConversation(t)

	dup := NewMessage(RoleUser, "twin", WithID(sys.ID))
	_, err := c.Apply(MutateInsertAfter(u1.ID, dup))
	require.ErrorIs(t, err, ErrInvariant)
}

func TestCreateForkDemotesActiveTail(t *testing.T) {
	c, sys, u1, a1 := seedConversation(t)

	cs, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	require.False(t, cs.NewBranch.IsNull())

	// The old continuation moved into a stored branch; the fresh branch is
	// active and empty, ready to receive the next messages.
	require.Equal(t, []NodeID{sys.ID, u1.ID}, threadIDs(c.Primary))
	entry, ok := c.Fork(u1.ID)
	require.True(t, ok)
	require.Len(t, entry.Branches, 2)
	require.Equal(t, 1, entry.ActiveIndex)
	require.Equal(t, []NodeID{a1.ID}, threadIDs(entry.Branches[0].Messages))
	require.Empty(t, entry.Active().Messages)
	require.NoError(t, c.Validate())

	// Continue on the new branch: the primary sequence grows in place.
	u2 := NewMessage(RoleUser, "what eats capybaras")
	_, err = c.Apply(MutateInsertAfter(u1.ID, u2))
	require.NoError(t, err)
	a2 := NewMessage(RoleAssistant, "jaguars and caimans")
	_, err = c.Apply(MutateInsertAfter(u2.ID, a2))
	require.NoError(t, err)

	require.Equal(t, []NodeID{sys.ID, u1.ID, u2.ID, a2.ID}, threadIDs(c.Primary))
	require.Equal(t, 5, c.MessageCount())
	require.NoError(t, c.Validate())
}

func TestCreateForkAtLeafFails(t *testing.T) {
	c, _, _, a1 := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(a1.ID))
	require.ErrorIs(t, err, ErrNoContinuation)
}

func TestCreateForkMissingTarget(t *testing.T) {
	c, _, _, _ := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(NewNodeID()))
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestCreateForkTwiceGrowsEntry(t *testing.T) {
	c, _, u1, a1 := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	alt := NewMessage(RoleAssistant, "a giant guinea pig, loosely")
	_, err = c.Apply(MutateInsertAfter(u1.ID, alt))
	require.NoError(t, err)

	_, err = c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)

	entry, ok := c.Fork(u1.ID)
	require.True(t, ok)
	require.Len(t, entry.Branches, 3)
	require.Equal(t, 2, entry.ActiveIndex)
	require.Equal(t, []NodeID{a1.ID}, threadIDs(entry.Branches[0].Messages))
	require.Equal(t, []NodeID{alt.ID}, threadIDs(entry.Branches[1].Messages))
	require.Empty(t, entry.Active().Messages)
	require.NoError(t, c.Validate())
}

func TestSwitchForkRestoresStoredBranch(t *testing.T) {
	c, sys, u1, a1 := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	u2 := NewMessage(RoleUser, "what eats capybaras")
	_, err = c.Apply(MutateInsertAfter(u1.ID, u2))
	require.NoError(t, err)
	a2 := NewMessage(RoleAssistant, "jaguars and caimans")
	_, err = c.Apply(MutateInsertAfter(u2.ID, a2))
	require.NoError(t, err)

	cs, err := c.Apply(MutateSwitchFork(u1.ID, SwitchPrev))
	require.NoError(t, err)
	require.True(t, cs.StructureChanged)

	require.Equal(t, []NodeID{sys.ID, u1.ID, a1.ID}, threadIDs(c.Primary))
	entry, _ := c.Fork(u1.ID)
	require.Equal(t, 0, entry.ActiveIndex)
	require.Equal(t, []NodeID{u2.ID, a2.ID}, threadIDs(entry.Branches[1].Messages))
	require.NoError(t, c.Validate())

	// Switching back restores the other continuation untouched.
	_, err = c.Apply(MutateSwitchFork(u1.ID, SwitchNext))
	require.NoError(t, err)
	require.Equal(t, []NodeID{sys.ID, u1.ID, u2.ID, a2.ID}, threadIDs(c.Primary))
	require.Equal(t, []NodeID{a1.ID}, threadIDs(entry.Branches[0].Messages))
	require.NoError(t, c.Validate())
}

func TestSwitchForkIsCyclic(t *testing.T) {
	c, _, u1, a1 := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	alt := NewMessage(RoleAssistant, "alternative answer")
	_, err = c.Apply(MutateInsertAfter(u1.ID, alt))
	require.NoError(t, err)

	// Two branches with content, active holds alt. Next wraps around to the
	// first branch.
	_, err = c.Apply(MutateSwitchFork(u1.ID, SwitchNext))
	require.NoError(t, err)
	require.Equal(t, a1.ID, c.ActiveLeaf().ID)

	_, err = c.Apply(MutateSwitchFork(u1.ID, SwitchNext))
	require.NoError(t, err)
	require.Equal(t, alt.ID, c.ActiveLeaf().ID)
	require.NoError(t, c.Validate())
}

func TestSwitchForkOnPlainMessageIsNoop(t *testing.T) {
	c, _, u1, _ := seedConversation(t)

	cs, err := c.Apply(MutateSwitchFork(u1.ID, SwitchNext))
	require.NoError(t, err)
	require.True(t, cs.IsEmpty())
	require.Equal(t, 3, c.MessageCount())
}

func TestSwitchForkToBranch(t *testing.T) {
	c, _, u1, a1 := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	alt := NewMessage(RoleAssistant, "alternative answer")
	_, err = c.Apply(MutateInsertAfter(u1.ID, alt))
	require.NoError(t, err)

	entry, _ := c.Fork(u1.ID)
	first := entry.Branches[0].ID

	_, err = c.Apply(MutateSwitchForkTo(u1.ID, first))
	require.NoError(t, err)
	require.Equal(t, a1.ID, c.ActiveLeaf().ID)

	_, err = c.Apply(MutateSwitchForkTo(u1.ID, NewBranchID()))
	require.ErrorIs(t, err, ErrBranchNotFound)
}

func TestSwitchAwayFromEmptyWindowDropsIt(t *testing.T) {
	c, sys, u1, a1 := seedConversation(t)

	// Fork and switch away without ever writing into the new branch. The
	// never-filled slot disappears and the entry dissolves, leaving the
	// conversation exactly as it was.
	_, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	_, err = c.Apply(MutateSwitchFork(u1.ID, SwitchPrev))
	require.NoError(t, err)

	require.Equal(t, []NodeID{sys.ID, u1.ID, a1.ID}, threadIDs(c.Primary))
	_, ok := c.Fork(u1.ID)
	require.False(t, ok)
	require.NoError(t, c.Validate())
}

func TestSwitchAwayFromEmptyWindowKeepsLargerEntry(t *testing.T) {
	c, _, u1, a1 := seedConversation(t)

	_, err := c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)
	alt := NewMessage(RoleAssistant, "alternative answer")
	_, err = c.Apply(MutateInsertAfter(u1.ID, alt))
	require.NoError(t, err)
	_, err = c.Apply(MutateCreateFork(u1.ID))
	require.NoError(t, err)

	// Three slots, the active one never filled. Switching away drops the
	// empty slot but keeps the two real branches.
	_, err = c.Apply(MutateSwitchFork(u1.ID, SwitchNext))
	require.NoError(t, err)

	entry, ok := c.Fork(u1.ID)
	require.True(t, ok)
	require.Len(t, entry.Branches, 2)
	require.Equal(t, a1.ID, c.ActiveLeaf().ID)
	require.NoError(t, c.Validate())
}

func TestEditMessage(t *testing.T) {
	c, sys, _, _ := seedConversation(t)

	cs, err := c.Apply(MutateEditMessage(sys.ID, "be terse"))
	require.NoError(t, err)
	require.Equal(t, []NodeID{sys.ID}, cs.Updated)
	require.False(t, cs.StructureChanged)
	require.Equal(t, "be terse", c.Primary[0].Text)

	_, err = c.Apply(MutateEditMessage(NewNodeID(), "nobody home"))
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestApplyBumpsVersion(t *testing.T) {
	c, _, u1, _ := seedConversation(t)
	v := c.Version

	_, err := c.Apply(MutateEditMessage(u1.ID, "still curious"))
	require.NoError(t, err)
	require.Equal(t, v+1, c.Version)

	_, err = c.Apply(MutateEditMessage(NewNodeID(), "x"))
	require.Error(t, err)
	require.Equal(t, v+1, c.Version)
}
