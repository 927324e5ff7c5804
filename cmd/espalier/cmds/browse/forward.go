package browse

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-go-golems/espalier/pkg/events"
)

// Forwarder turns conversation events into program messages. Register it
// with events.DispatchHandler on the conversation's topic.
type Forwarder struct {
	p *tea.Program
}

func NewForwarder(p *tea.Program) *Forwarder {
	return &Forwarder{p: p}
}

var _ events.ConversationEventHandler = (*Forwarder)(nil)

func (f *Forwarder) HandleTreeChanged(_ context.Context, e *events.EventTreeChanged) error {
	f.p.Send(refreshMsg{})
	return nil
}

func (f *Forwarder) HandleGenerationStart(_ context.Context, e *events.EventGenerationStart) error {
	f.p.Send(streamMsg{node: e.Metadata().NodeID})
	return nil
}

func (f *Forwarder) HandlePartialCompletion(_ context.Context, e *events.EventPartialCompletion) error {
	f.p.Send(streamMsg{node: e.Metadata().NodeID, completion: e.Completion})
	return nil
}

func (f *Forwarder) HandleFinal(_ context.Context, e *events.EventFinal) error {
	f.p.Send(streamDoneMsg{})
	return nil
}

func (f *Forwarder) HandleError(_ context.Context, e *events.EventError) error {
	f.p.Send(streamDoneMsg{})
	return nil
}

func (f *Forwarder) HandleInterrupt(_ context.Context, e *events.EventInterrupt) error {
	f.p.Send(streamDoneMsg{})
	return nil
}
