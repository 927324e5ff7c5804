package conversation

// Validate checks the structural invariants of the record and returns an
// InvariantError describing the first violation found.
//
// The invariants are:
//   - message IDs are unique across the primary sequence and all branches
//   - every fork index key refers to an existing message
//   - every entry holds at least two branches and a valid active index
//   - the active branch stores no messages, every other branch stores at
//     least one
//   - parent links are consistent: each message's ParentID is the previous
//     message of its sequence, the first primary message has a null parent,
//     and every branch head points at its fork point
//   - every stored message is reachable by walking from the primary sequence
func (c *Conversation) Validate() error {
	seen := map[NodeID]bool{}

	checkSequence := func(seq []*Message, parent NodeID, what string) error {
		for i, msg := range seq {
			if msg == nil {
				return invariantf("%s holds a nil message at index %d", what, i)
			}
			if msg.ID.IsNull() {
				return invariantf("%s holds a message with a null ID at index %d", what, i)
			}
			if seen[msg.ID] {
				return invariantf("message %s appears more than once", msg.ID)
			}
			seen[msg.ID] = true
			if msg.ParentID != parent {
				return invariantf("message %s has parent %s, expected %s", msg.ID, msg.ParentID, parent)
			}
			parent = msg.ID
		}
		return nil
	}

	if err := checkSequence(c.Primary, NullNode, "primary sequence"); err != nil {
		return err
	}

	branchIDs := map[BranchID]bool{}
	for anchor, entry := range c.Forks {
		if entry == nil {
			return invariantf("fork entry at %s is nil", anchor)
		}
		if len(entry.Branches) < 2 {
			return invariantf("fork entry at %s has %d branches, need at least 2", anchor, len(entry.Branches))
		}
		if entry.ActiveIndex < 0 || entry.ActiveIndex >= len(entry.Branches) {
			return invariantf("fork entry at %s has active index %d out of range [0,%d)", anchor, entry.ActiveIndex, len(entry.Branches))
		}
		for i, branch := range entry.Branches {
			if branch == nil {
				return invariantf("fork entry at %s holds a nil branch at index %d", anchor, i)
			}
			if branch.ID.IsNull() {
				return invariantf("fork entry at %s holds a branch with a null ID at index %d", anchor, i)
			}
			if branchIDs[branch.ID] {
				return invariantf("branch %s appears more than once", branch.ID)
			}
			branchIDs[branch.ID] = true
			if i == entry.ActiveIndex {
				if len(branch.Messages) != 0 {
					return invariantf("active branch %s at %s stores %d messages, the active continuation lives inline", branch.ID, anchor, len(branch.Messages))
				}
				continue
			}
			if len(branch.Messages) == 0 {
				return invariantf("stored branch %s at %s is empty", branch.ID, anchor)
			}
			if err := checkSequence(branch.Messages, anchor, "branch "+branch.ID.String()); err != nil {
				return err
			}
		}
	}

	for anchor := range c.Forks {
		if !seen[anchor] {
			return invariantf("fork entry at %s refers to a message that does not exist", anchor)
		}
	}

	reachable := c.AllMessages()
	if len(reachable) != len(seen) {
		return invariantf("%d messages stored but only %d reachable from the primary sequence", len(seen), len(reachable))
	}

	return nil
}
