// Package generation abstracts the model providers that produce assistant
// replies.
//
// An Engine runs one inference over a linear message run and streams its
// progress through an events.EventSink: start, then partial completions,
// then exactly one of final, error, or interrupt. Engines honor context
// cancellation and report it as an interrupt; the caller owns writing the
// outcome, including partial text, back into the conversation.
package generation

import (
	"context"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
)

// Request describes a single inference run. Messages is the active path up
// to and including the prompt; NodeID names the pending assistant message
// the reply streams into.
type Request struct {
	ConversationID conversation.ConversationID
	NodeID         conversation.NodeID
	Messages       conversation.Thread

	Provider string
	Model    string

	Temperature *float64
	MaxTokens   *int
}

// EventMetadata builds the metadata attached to every event published for
// this request.
func (r Request) EventMetadata() events.EventMetadata {
	metadata := events.NewEventMetadata(r.ConversationID)
	metadata.NodeID = r.NodeID
	metadata.Provider = r.Provider
	metadata.Model = r.Model
	return metadata
}

// Result is the outcome of a completed inference run. Engines return it
// only on success; on error or interrupt the partial text travels through
// the sink instead.
type Result struct {
	Text       string
	Model      string
	StopReason string

	PromptTokens     int
	CompletionTokens int
}

// Engine is implemented by every model provider.
type Engine interface {
	RunInference(ctx context.Context, req Request, sink events.EventSink) (*Result, error)
}
