package conversation

type removeCascadeMutation struct {
	id NodeID
}

// MutateRemoveWithCascade deletes a message together with its entire linear
// downstream and, transitively, every branch of every fork point among the
// deleted messages. Sibling branches of surviving ancestors are never
// touched. Deleting an ID that is already gone is a no-op, not an error.
func MutateRemoveWithCascade(id NodeID) Mutation {
	return removeCascadeMutation{id: id}
}

func (m removeCascadeMutation) Apply(c *Conversation) (*ChangeSet, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	loc, ok := c.locate(m.id)
	if !ok {
		return &ChangeSet{}, nil
	}

	// Plan phase: collect the deletion closure with an explicit work list.
	// The target and its same-sequence downstream seed the list; every
	// marked fork point contributes all messages of all its branches. The
	// step bound guards against corruption that slipped past validation.
	total := c.MessageCount()
	marked := map[NodeID]bool{}
	var removed []NodeID

	work := append([]*Message(nil), (*loc.seq)[loc.index:]...)
	steps := 0
	for len(work) > 0 {
		steps++
		if steps > 2*total+2 {
			return nil, invariantf("cascade delete exceeded %d steps", steps)
		}
		msg := work[0]
		work = work[1:]
		if marked[msg.ID] {
			continue
		}
		marked[msg.ID] = true
		removed = append(removed, msg.ID)

		if entry, ok := c.Forks[msg.ID]; ok {
			for _, branch := range entry.Branches {
				work = append(work, branch.Messages...)
			}
		}
	}

	// Remember which surviving fork points had a live mirrored tail, so the
	// promotion step below only fires when the cascade actually emptied one.
	hadTail := map[NodeID]bool{}
	for anchor := range c.Forks {
		if marked[anchor] {
			continue
		}
		if al, ok := c.locate(anchor); ok {
			hadTail[anchor] = len(al.tail()) > 0
		}
	}

	// Apply phase: physically remove the marked messages and the entries
	// whose fork points died.
	c.Primary = filterMarked(c.Primary, marked)
	for anchor, entry := range c.Forks {
		if marked[anchor] {
			delete(c.Forks, anchor)
			continue
		}
		for _, branch := range entry.Branches {
			branch.Messages = filterMarked(branch.Messages, marked)
		}
	}

	// Promotion: a fork point whose active tail was fully deleted is now
	// the last message of its sequence; splice the first branch with
	// remaining content back in after it. If no branch has content the fork
	// point stays a childless leaf and pruning below drops the entry.
	for anchor, entry := range c.Forks {
		al, ok := c.locate(anchor)
		if !ok {
			return nil, invariantf("fork point %s vanished during cascade", anchor)
		}
		if !hadTail[anchor] || len(al.tail()) > 0 {
			continue
		}
		for i, branch := range entry.Branches {
			if len(branch.Messages) == 0 {
				continue
			}
			*al.seq = append(*al.seq, branch.Messages...)
			branch.Messages = nil
			entry.ActiveIndex = i
			break
		}
	}

	// Pruning: drop emptied non-active slots, and whole entries left with
	// fewer than two branches counting the still-active slot.
	for anchor, entry := range c.Forks {
		var kept []*Branch
		newActive := -1
		for i, branch := range entry.Branches {
			if i == entry.ActiveIndex {
				newActive = len(kept)
				kept = append(kept, branch)
				continue
			}
			if len(branch.Messages) > 0 {
				kept = append(kept, branch)
			}
		}
		entry.Branches = kept
		entry.ActiveIndex = newActive
		if len(entry.Branches) < 2 {
			delete(c.Forks, anchor)
		}
	}

	return &ChangeSet{
		Removed:          removed,
		StructureChanged: true,
	}, nil
}

func (m removeCascadeMutation) Name() string { return "remove_with_cascade" }

func filterMarked(seq []*Message, marked map[NodeID]bool) []*Message {
	out := seq[:0]
	for _, msg := range seq {
		if !marked[msg.ID] {
			out = append(out, msg)
		}
	}
	return out
}
