package events

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

type EventType string

const (
	// Structural events, published after a mutation commits.
	EventTypeTreeChanged         EventType = "tree.changed"
	EventTypeConversationCreated EventType = "conversation.created"
	EventTypeConversationDeleted EventType = "conversation.deleted"

	// Generation lifecycle events, streamed while an engine produces a reply.
	EventTypeGenerationStart   EventType = "generation.start"
	EventTypePartialCompletion EventType = "generation.partial"
	EventTypeFinal             EventType = "generation.final"
	EventTypeError             EventType = "generation.error"
	EventTypeInterrupt         EventType = "generation.interrupt"
)

// ConversationTopic is the watermill topic carrying every event of a single
// conversation.
func ConversationTopic(id conversation.ConversationID) string {
	return "espalier.conversation." + id.String()
}

// FirehoseTopic receives a copy of every event across all conversations.
const FirehoseTopic = "espalier.events"

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// the original payload from the wire, kept for re-decoding into the
	// concrete type
	payload []byte
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) SetPayload(payload []byte) {
	e.payload = payload
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_)).
		Object("meta", e.Metadata_)
}

var _ Event = &EventImpl{}

// EventTreeChanged is the dirty signal emitted after every applied mutation.
// It names the nodes that appeared, vanished, or changed content so a
// subscriber can refresh layouts and views without diffing the whole tree.
type EventTreeChanged struct {
	EventImpl
	Mutation string                  `json:"mutation"`
	Changes  *conversation.ChangeSet `json:"changes,omitempty"`
	Version  uint64                  `json:"version"`
}

func NewTreeChangedEvent(metadata EventMetadata, mutation string, changes *conversation.ChangeSet, version uint64) *EventTreeChanged {
	return &EventTreeChanged{
		EventImpl: EventImpl{
			Type_:     EventTypeTreeChanged,
			Metadata_: metadata,
		},
		Mutation: mutation,
		Changes:  changes,
		Version:  version,
	}
}

func (e *EventTreeChanged) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("mutation", e.Mutation).Uint64("version", e.Version)
	if e.Changes != nil {
		ev.Int("added", len(e.Changes.Added)).
			Int("removed", len(e.Changes.Removed)).
			Int("updated", len(e.Changes.Updated)).
			Bool("structure_changed", e.Changes.StructureChanged)
	}
}

type EventConversationCreated struct {
	EventImpl
	Title string `json:"title,omitempty"`
}

func NewConversationCreatedEvent(metadata EventMetadata, title string) *EventConversationCreated {
	return &EventConversationCreated{
		EventImpl: EventImpl{
			Type_:     EventTypeConversationCreated,
			Metadata_: metadata,
		},
		Title: title,
	}
}

func (e *EventConversationCreated) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("title", e.Title)
}

type EventConversationDeleted struct {
	EventImpl
}

func NewConversationDeletedEvent(metadata EventMetadata) *EventConversationDeleted {
	return &EventConversationDeleted{
		EventImpl: EventImpl{
			Type_:     EventTypeConversationDeleted,
			Metadata_: metadata,
		},
	}
}

// EventGenerationStart announces that an engine began streaming into the
// pending assistant message named by the metadata's node ID.
type EventGenerationStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventGenerationStart {
	return &EventGenerationStart{
		EventImpl: EventImpl{
			Type_:     EventTypeGenerationStart,
			Metadata_: metadata,
		},
	}
}

type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`

	// Completion is the full text streamed so far, so a subscriber that
	// joins late can catch up from a single event.
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl: EventImpl{
			Type_:     EventTypePartialCompletion,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

func (e *EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta).Int("completion_length", len(e.Completion))
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

func (e *EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("text_length", len(e.Text))
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

func (e *EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
}

// EventInterrupt is published when a generation is cancelled. Text carries
// the partial completion kept on the message.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{
			Type_:     EventTypeInterrupt,
			Metadata_: metadata,
		},
		Text: text,
	}
}

func (e *EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("text_length", len(e.Text))
}

// NewEventFromJson decodes a wire payload into the concrete event type named
// by its type field. Unknown types decode to a bare EventImpl.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, errors.Wrapf(err, "could not unmarshal event %s", string(b))
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeTreeChanged:
		ret, ok := ToTypedEvent[EventTreeChanged](e)
		if !ok {
			return nil, errors.New("could not cast event to EventTreeChanged")
		}
		return ret, nil
	case EventTypeConversationCreated:
		ret, ok := ToTypedEvent[EventConversationCreated](e)
		if !ok {
			return nil, errors.New("could not cast event to EventConversationCreated")
		}
		return ret, nil
	case EventTypeConversationDeleted:
		ret, ok := ToTypedEvent[EventConversationDeleted](e)
		if !ok {
			return nil, errors.New("could not cast event to EventConversationDeleted")
		}
		return ret, nil
	case EventTypeGenerationStart:
		ret, ok := ToTypedEvent[EventGenerationStart](e)
		if !ok {
			return nil, errors.New("could not cast event to EventGenerationStart")
		}
		return ret, nil
	case EventTypePartialCompletion:
		ret, ok := ToTypedEvent[EventPartialCompletion](e)
		if !ok {
			return nil, errors.New("could not cast event to EventPartialCompletion")
		}
		return ret, nil
	case EventTypeFinal:
		ret, ok := ToTypedEvent[EventFinal](e)
		if !ok {
			return nil, errors.New("could not cast event to EventFinal")
		}
		return ret, nil
	case EventTypeError:
		ret, ok := ToTypedEvent[EventError](e)
		if !ok {
			return nil, errors.New("could not cast event to EventError")
		}
		return ret, nil
	case EventTypeInterrupt:
		ret, ok := ToTypedEvent[EventInterrupt](e)
		if !ok {
			return nil, errors.New("could not cast event to EventInterrupt")
		}
		return ret, nil
	}

	return e, nil
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}
