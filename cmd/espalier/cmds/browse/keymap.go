package browse

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	CursorUp   key.Binding
	CursorDown key.Binding
	PrevBranch key.Binding
	NextBranch key.Binding
	Fork       key.Binding
	Remove     key.Binding
	Undo       key.Binding
	Generate   key.Binding
	Cancel     key.Binding
	Refresh    key.Binding
	Quit       key.Binding
}

var DefaultKeyMap = KeyMap{
	CursorUp:   key.NewBinding(key.WithKeys("up", "k")),
	CursorDown: key.NewBinding(key.WithKeys("down", "j")),
	PrevBranch: key.NewBinding(key.WithKeys("left", "h")),
	NextBranch: key.NewBinding(key.WithKeys("right", "l")),
	Fork:       key.NewBinding(key.WithKeys("f")),
	Remove:     key.NewBinding(key.WithKeys("d")),
	Undo:       key.NewBinding(key.WithKeys("u")),
	Generate:   key.NewBinding(key.WithKeys("g")),
	Cancel:     key.NewBinding(key.WithKeys("esc")),
	Refresh:    key.NewBinding(key.WithKeys("r")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c")),
}
