// Package layout computes 2-D positions for a render tree. The full engine
// lays the whole tree out from scratch; the incremental engine reuses
// previous positions so the drawing stays put while the conversation grows.
// All numbers are in world coordinates; panning and zooming are the
// client's problem.
package layout

import (
	"sort"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/tree"
)

// Direction selects the depth axis of the drawing.
type Direction string

const (
	TopDown   Direction = "top-down"
	LeftRight Direction = "left-right"
)

// Config holds the node card dimensions and spacing of the drawing.
type Config struct {
	Direction     Direction `json:"direction"`
	NodeWidth     float64   `json:"nodeWidth"`
	NodeHeight    float64   `json:"nodeHeight"`
	HorizontalGap float64   `json:"horizontalGap"`
	VerticalGap   float64   `json:"verticalGap"`
	MarginX       float64   `json:"marginX"`
	MarginY       float64   `json:"marginY"`
}

// DefaultConfig is sized for chat message cards.
func DefaultConfig() Config {
	return Config{
		Direction:     TopDown,
		NodeWidth:     220,
		NodeHeight:    88,
		HorizontalGap: 48,
		VerticalGap:   64,
		MarginX:       32,
		MarginY:       32,
	}
}

// Position is a node's box, X and Y being the top-left corner.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Extent is the total size of the drawing including margins.
type Extent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Result holds the computed positions, the BFS layers (root at layer 0) and
// the overall extent.
type Result struct {
	Positions map[conversation.NodeID]Position `json:"positions"`
	Layers    [][]conversation.NodeID          `json:"layers"`
	Size      Extent                           `json:"size"`
}

// Full computes a hierarchical layered layout from scratch. Same tree and
// config always produce the same result.
//
// Depth maps to the depth axis (layer = distance from root). On the breadth
// axis every leaf claims the next free slot and every inner node centers
// over its children, which keeps sibling subtrees one gap apart without a
// separate collision pass.
func Full(tr *tree.Tree, cfg Config) Result {
	res := Result{Positions: map[conversation.NodeID]Position{}}
	if tr == nil || tr.Len() == 0 {
		return res
	}

	adj := childrenMap(tr)
	res.Layers = assignLayers(tr, adj)

	p := &placer{
		adj:     adj,
		step:    breadthStep(cfg),
		centers: map[conversation.NodeID]float64{},
	}
	depth := map[conversation.NodeID]int{}
	for i, layer := range res.Layers {
		for _, id := range layer {
			depth[id] = i
		}
	}
	for _, id := range res.Layers[0] {
		p.place(id)
	}

	for id, center := range p.centers {
		res.Positions[id] = positionFor(cfg, center, depth[id])
	}
	res.Size = extentOf(res.Positions, cfg)
	return res
}

type placer struct {
	adj      map[conversation.NodeID][]conversation.NodeID
	step     float64
	nextLeaf float64
	centers  map[conversation.NodeID]float64
}

func (p *placer) place(id conversation.NodeID) float64 {
	children := p.adj[id]
	if len(children) == 0 {
		c := p.nextLeaf
		p.nextLeaf += p.step
		p.centers[id] = c
		return c
	}
	first := p.place(children[0])
	last := first
	for _, child := range children[1:] {
		last = p.place(child)
	}
	c := (first + last) / 2
	p.centers[id] = c
	return c
}

// childrenMap builds the adjacency list from the tree's edges. Edge emission
// order already puts the active child before the stored branches.
func childrenMap(tr *tree.Tree) map[conversation.NodeID][]conversation.NodeID {
	adj := make(map[conversation.NodeID][]conversation.NodeID, tr.Len())
	for _, e := range tr.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}
	return adj
}

// assignLayers assigns nodes to layers with a BFS from the root. Nodes the
// walk cannot reach are appended to layer 0, sorted by ID.
func assignLayers(tr *tree.Tree, adj map[conversation.NodeID][]conversation.NodeID) [][]conversation.NodeID {
	layers := [][]conversation.NodeID{{tr.RootID}}
	visited := map[conversation.NodeID]bool{tr.RootID: true}

	for {
		var next []conversation.NodeID
		for _, id := range layers[len(layers)-1] {
			for _, child := range adj[id] {
				if !visited[child] {
					visited[child] = true
					next = append(next, child)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		layers = append(layers, next)
	}

	var orphans []conversation.NodeID
	for _, n := range tr.Nodes {
		if !visited[n.ID] {
			orphans = append(orphans, n.ID)
		}
	}
	if len(orphans) > 0 {
		sort.Slice(orphans, func(i, j int) bool {
			return orphans[i].String() < orphans[j].String()
		})
		layers[0] = append(layers[0], orphans...)
	}
	return layers
}

func breadthStep(cfg Config) float64 {
	if cfg.Direction == LeftRight {
		return cfg.NodeHeight + cfg.VerticalGap
	}
	return cfg.NodeWidth + cfg.HorizontalGap
}

func depthStep(cfg Config) float64 {
	if cfg.Direction == LeftRight {
		return cfg.NodeWidth + cfg.HorizontalGap
	}
	return cfg.NodeHeight + cfg.VerticalGap
}

// positionFor maps an abstract (breadth center, depth) pair onto a box.
func positionFor(cfg Config, center float64, depth int) Position {
	if cfg.Direction == LeftRight {
		return Position{
			X:      cfg.MarginX + float64(depth)*depthStep(cfg),
			Y:      cfg.MarginY + center,
			Width:  cfg.NodeWidth,
			Height: cfg.NodeHeight,
		}
	}
	return Position{
		X:      cfg.MarginX + center,
		Y:      cfg.MarginY + float64(depth)*depthStep(cfg),
		Width:  cfg.NodeWidth,
		Height: cfg.NodeHeight,
	}
}

func extentOf(positions map[conversation.NodeID]Position, cfg Config) Extent {
	var maxX, maxY float64
	for _, p := range positions {
		if r := p.X + p.Width; r > maxX {
			maxX = r
		}
		if b := p.Y + p.Height; b > maxY {
			maxY = b
		}
	}
	if len(positions) == 0 {
		return Extent{}
	}
	return Extent{Width: maxX + cfg.MarginX, Height: maxY + cfg.MarginY}
}
