package layout

import "github.com/go-go-golems/espalier/pkg/conversation"

// Viewport is the visible window over the drawing, in screen coordinates.
// Offsets are the world-to-screen translation after zoom; Zoom of 0 is
// treated as 1.
type Viewport struct {
	Width   float64 `json:"width" yaml:"width"`
	Height  float64 `json:"height" yaml:"height"`
	OffsetX float64 `json:"offsetX" yaml:"offsetX"`
	OffsetY float64 `json:"offsetY" yaml:"offsetY"`
	Zoom    float64 `json:"zoom" yaml:"zoom"`
}

func (v Viewport) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// CenterOn returns a viewport whose offsets put the node's box in the
// middle of the window. Reports false when the node has no position.
func (v Viewport) CenterOn(res Result, id conversation.NodeID) (Viewport, bool) {
	pos, ok := res.Positions[id]
	if !ok {
		return v, false
	}
	z := v.zoom()
	out := v
	out.Zoom = z
	out.OffsetX = (pos.X+pos.Width/2)*z - v.Width/2
	out.OffsetY = (pos.Y+pos.Height/2)*z - v.Height/2
	return out, true
}

// EnsureVisible scrolls the viewport the minimal amount needed to bring the
// node's box fully into view, leaving it unchanged when the box already is.
func (v Viewport) EnsureVisible(res Result, id conversation.NodeID) (Viewport, bool) {
	pos, ok := res.Positions[id]
	if !ok {
		return v, false
	}
	z := v.zoom()
	out := v
	out.Zoom = z

	left := pos.X * z
	right := (pos.X + pos.Width) * z
	top := pos.Y * z
	bottom := (pos.Y + pos.Height) * z

	if left < out.OffsetX {
		out.OffsetX = left
	} else if right > out.OffsetX+v.Width {
		out.OffsetX = right - v.Width
	}
	if top < out.OffsetY {
		out.OffsetY = top
	} else if bottom > out.OffsetY+v.Height {
		out.OffsetY = bottom - v.Height
	}
	return out, true
}

// Visible reports whether any part of the box falls inside the viewport.
func (v Viewport) Visible(pos Position) bool {
	z := v.zoom()
	left := pos.X*z - v.OffsetX
	top := pos.Y*z - v.OffsetY
	right := left + pos.Width*z
	bottom := top + pos.Height*z
	return right > 0 && left < v.Width && bottom > 0 && top < v.Height
}
