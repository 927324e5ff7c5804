package events

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// EventMetadata carries the identifiers shared by every event on a
// conversation topic.
type EventMetadata struct {
	ID             uuid.UUID                   `json:"event_id"`
	ConversationID conversation.ConversationID `json:"conversation_id"`

	// NodeID names the message a generation event streams into. Unset on
	// structural events, which list their nodes in the change set instead.
	NodeID conversation.NodeID `json:"node_id,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

func NewEventMetadata(conversationID conversation.ConversationID) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("event_id", em.ID.String())
	if !em.ConversationID.IsNull() {
		e.Str("conversation_id", em.ConversationID.String())
	}
	if !em.NodeID.IsNull() {
		e.Str("node_id", em.NodeID.String())
	}
	if em.Provider != "" {
		e.Str("provider", em.Provider)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if len(em.Extra) > 0 {
		e.Interface("extra", em.Extra)
	}
}
