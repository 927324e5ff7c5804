package layout

import (
	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/tree"
)

// Incremental relayouts after a mutation while preserving the coordinates
// of every surviving node, so the drawing does not jump around under the
// user. Removed and stale IDs drop from the map; new nodes are placed one
// depth step below their parent, shifted one breadth step per sibling that
// already has a position. When a new node would land on an existing box, or
// hangs off a parent without a position, the whole tree falls back to Full.
func Incremental(tr *tree.Tree, cfg Config, prev Result, changed *conversation.ChangeSet) Result {
	if tr == nil || tr.Len() == 0 {
		return Result{Positions: map[conversation.NodeID]Position{}}
	}
	if len(prev.Positions) == 0 {
		return Full(tr, cfg)
	}

	removed := map[conversation.NodeID]bool{}
	if changed != nil {
		for _, id := range changed.Removed {
			removed[id] = true
		}
	}
	present := map[conversation.NodeID]bool{}
	for _, n := range tr.Nodes {
		present[n.ID] = true
	}

	pos := make(map[conversation.NodeID]Position, len(prev.Positions))
	for id, p := range prev.Positions {
		if removed[id] || !present[id] {
			continue
		}
		pos[id] = p
	}

	adj := childrenMap(tr)
	for _, n := range tr.Nodes {
		if _, ok := pos[n.ID]; ok {
			continue
		}
		if n.ID == tr.RootID {
			return Full(tr, cfg)
		}
		parent, ok := pos[n.ParentID]
		if !ok {
			return Full(tr, cfg)
		}
		placed := 0
		for _, sibling := range adj[n.ParentID] {
			if sibling == n.ID {
				continue
			}
			if _, ok := pos[sibling]; ok {
				placed++
			}
		}
		candidate := below(parent, cfg, placed)
		if collides(pos, candidate) {
			return Full(tr, cfg)
		}
		pos[n.ID] = candidate
	}

	return Result{
		Positions: pos,
		Layers:    assignLayers(tr, adj),
		Size:      extentOf(pos, cfg),
	}
}

func below(parent Position, cfg Config, siblingOffset int) Position {
	if cfg.Direction == LeftRight {
		return Position{
			X:      parent.X + depthStep(cfg),
			Y:      parent.Y + float64(siblingOffset)*breadthStep(cfg),
			Width:  cfg.NodeWidth,
			Height: cfg.NodeHeight,
		}
	}
	return Position{
		X:      parent.X + float64(siblingOffset)*breadthStep(cfg),
		Y:      parent.Y + depthStep(cfg),
		Width:  cfg.NodeWidth,
		Height: cfg.NodeHeight,
	}
}

func collides(positions map[conversation.NodeID]Position, q Position) bool {
	for _, p := range positions {
		if p.X < q.X+q.Width && q.X < p.X+p.Width &&
			p.Y < q.Y+q.Height && q.Y < p.Y+p.Height {
			return true
		}
	}
	return false
}
