// Package browse is the interactive tree browser behind `espalier browse`.
// The model renders the conversation as an indented list with the active
// path highlighted; mutations run through the conversation service and the
// view refreshes from the events it publishes.
package browse

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/service"
	"github.com/go-go-golems/espalier/pkg/tree"
)

type refreshMsg struct{}

type streamMsg struct {
	node       conversation.NodeID
	completion string
}

type streamDoneMsg struct{}

type treeLoadedMsg struct {
	title   string
	version uint64
	tr      *tree.Tree
}

type statusMsg string

type errMsg struct{ err error }

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cursorStyle = lipgloss.NewStyle().Reverse(true)
	activeStyle = lipgloss.NewStyle().Bold(true)
	storedStyle = lipgloss.NewStyle().Faint(true)
	badgeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	statusStyle = lipgloss.NewStyle().Faint(true).Padding(0, 1)
)

const helpLine = "up/down move · left/right switch branch · f fork · d remove · u undo · g generate · q quit"

type Model struct {
	svc     *service.ConversationService
	id      conversation.ConversationID
	options service.GenerateOptions

	title   string
	version uint64
	flat    []tree.FlatNode
	cursor  int

	vp    viewport.Model
	ready bool
	width int

	keys KeyMap

	status     string
	confirming bool

	streaming  bool
	streamNode conversation.NodeID
	stream     string
}

func New(svc *service.ConversationService, id conversation.ConversationID, options service.GenerateOptions) Model {
	return Model{
		svc:     svc,
		id:      id,
		options: options,
		keys:    DefaultKeyMap,
	}
}

func (m Model) Init() tea.Cmd {
	return m.loadTree
}

func (m Model) loadTree() tea.Msg {
	ctx := context.Background()
	conv, ok, err := m.svc.Get(ctx, m.id)
	if err != nil {
		return errMsg{err}
	}
	if !ok {
		return errMsg{errors.Errorf("conversation %s not found", m.id)}
	}
	tr, err := tree.Build(conv)
	if err != nil {
		return errMsg{err}
	}
	return treeLoadedMsg{title: conv.Title, version: conv.Version, tr: tr}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := msg.Height - 4
		if height < 1 {
			height = 1
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = height
		}
		m.vp.SetContent(m.renderTree())
		return m, nil

	case treeLoadedMsg:
		m.title = msg.title
		m.version = msg.version
		m.flat = msg.tr.Flatten()
		if m.cursor >= len(m.flat) {
			m.cursor = len(m.flat) - 1
		}
		if m.cursor < 0 {
			m.cursor = 0
		}
		if m.ready {
			m.vp.SetContent(m.renderTree())
		}
		return m, nil

	case refreshMsg:
		return m, m.loadTree

	case streamMsg:
		m.streaming = true
		m.streamNode = msg.node
		m.stream = msg.completion
		return m, nil

	case streamDoneMsg:
		m.streaming = false
		m.stream = ""
		return m, m.loadTree

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.status = msg.err.Error()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirming && !key.Matches(msg, m.keys.Remove) {
		m.confirming = false
		m.status = ""
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.CursorUp):
		if m.cursor > 0 {
			m.cursor--
		}
		m.ensureVisible()
		m.vp.SetContent(m.renderTree())
		return m, nil

	case key.Matches(msg, m.keys.CursorDown):
		if m.cursor < len(m.flat)-1 {
			m.cursor++
		}
		m.ensureVisible()
		m.vp.SetContent(m.renderTree())
		return m, nil

	case key.Matches(msg, m.keys.NextBranch):
		return m, m.switchBranch(conversation.SwitchNext)

	case key.Matches(msg, m.keys.PrevBranch):
		return m, m.switchBranch(conversation.SwitchPrev)

	case key.Matches(msg, m.keys.Fork):
		node, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, m.mutate(conversation.MutateCreateFork(node.ID))

	case key.Matches(msg, m.keys.Remove):
		node, ok := m.selected()
		if !ok {
			return m, nil
		}
		if !m.confirming {
			m.confirming = true
			m.status = fmt.Sprintf("press d again to remove %.8s and its subtree", node.ID.String())
			return m, nil
		}
		m.confirming = false
		m.status = ""
		return m, m.mutate(conversation.MutateRemoveWithCascade(node.ID))

	case key.Matches(msg, m.keys.Undo):
		return m, m.undo

	case key.Matches(msg, m.keys.Generate):
		return m, m.generate

	case key.Matches(msg, m.keys.Cancel):
		if m.svc.CancelGeneration(m.id) {
			m.status = "cancelling"
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadTree
	}

	return m, nil
}

func (m Model) selected() (tree.Node, bool) {
	if m.cursor < 0 || m.cursor >= len(m.flat) {
		return tree.Node{}, false
	}
	return m.flat[m.cursor].Node, true
}

// switchBranch cycles the fork point under the cursor: either the selected
// message is the anchor itself, or it is one of the branch children and its
// parent is the anchor.
func (m Model) switchBranch(dir conversation.SwitchDirection) tea.Cmd {
	node, ok := m.selected()
	if !ok {
		return nil
	}
	anchor := conversation.NullNode
	switch {
	case node.Anchor:
		anchor = node.ID
	case node.BranchCount > 1 && !node.ParentID.IsNull():
		anchor = node.ParentID
	default:
		return func() tea.Msg { return statusMsg("no fork here") }
	}
	return m.mutate(conversation.MutateSwitchFork(anchor, dir))
}

func (m Model) mutate(mut conversation.Mutation) tea.Cmd {
	svc, id := m.svc, m.id
	return func() tea.Msg {
		if _, err := svc.Do(context.Background(), id, mut); err != nil {
			return errMsg{err}
		}
		return refreshMsg{}
	}
}

func (m Model) undo() tea.Msg {
	restored, err := m.svc.Undo(context.Background(), m.id)
	if err != nil {
		return errMsg{err}
	}
	if !restored {
		return statusMsg("nothing to undo")
	}
	return refreshMsg{}
}

func (m Model) generate() tea.Msg {
	_, err := m.svc.Generate(context.Background(), m.id, conversation.NullNode, m.options)
	if err != nil {
		return errMsg{err}
	}
	return statusMsg("generating")
}

func (m *Model) ensureVisible() {
	if !m.ready {
		return
	}
	if m.cursor < m.vp.YOffset {
		m.vp.SetYOffset(m.cursor)
	}
	if m.cursor >= m.vp.YOffset+m.vp.Height {
		m.vp.SetYOffset(m.cursor - m.vp.Height + 1)
	}
}

func (m Model) renderTree() string {
	if len(m.flat) == 0 {
		return storedStyle.Render("(empty conversation)")
	}
	var b strings.Builder
	for i, f := range m.flat {
		b.WriteString(m.renderLine(f, i == m.cursor))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) renderLine(f tree.FlatNode, selected bool) string {
	marker := "  "
	if f.Node.OnActivePath {
		marker = "* "
	}
	label := fmt.Sprintf("%s%s%-9s %s", strings.Repeat("  ", f.Depth), marker, f.Node.Role, f.Node.Preview)

	badge := ""
	if f.Node.BranchCount > 1 {
		badge = fmt.Sprintf(" [%d/%d]", f.Node.BranchIndex+1, f.Node.BranchCount)
	}
	failed := ""
	if f.Node.Failed {
		failed = " (failed)"
	}

	if selected {
		return cursorStyle.Render(label + badge + failed)
	}

	style := storedStyle
	if f.Node.OnActivePath {
		style = activeStyle
	}
	line := style.Render(label)
	if badge != "" {
		line += badgeStyle.Render(badge)
	}
	if failed != "" {
		line += failedStyle.Render(failed)
	}
	return line
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	header := titleStyle.Render(fmt.Sprintf("%s  (version %d)", m.title, m.version))

	status := m.status
	if m.streaming {
		status = fmt.Sprintf("streaming %.8s: %s", m.streamNode.String(), tailOf(m.stream, m.width-24))
	}
	if status == "" {
		status = helpLine
	}

	return header + "\n\n" + m.vp.View() + "\n" + statusStyle.Render(status)
}

// tailOf keeps the last width runes of a single-line rendering of s.
func tailOf(s string, width int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if width > 0 && len(runes) > width {
		runes = runes[len(runes)-width:]
	}
	return string(runes)
}
