package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
)

// runStoreWatch forwards store change notifications to the event
// subscribers, so a record edited or removed behind the service's back still
// reaches an open client as a regular change event. The watcher channel is
// registered in New before any caller can write, so no notification is lost
// to startup ordering.
func (s *ConversationService) runStoreWatch(ctx context.Context, ids <-chan conversation.ConversationID) {
	for {
		select {
		case id, ok := <-ids:
			if !ok {
				return
			}
			s.publishStoreChange(ctx, id)
		case <-ctx.Done():
			return
		}
	}
}

func (s *ConversationService) publishStoreChange(ctx context.Context, id conversation.ConversationID) {
	conv, ok, err := s.store.Get(ctx, id)
	if err != nil {
		log.Warn().Err(err).
			Str("conversation_id", id.String()).
			Msg("failed to load changed conversation, dropping notification")
		return
	}

	metadata := events.NewEventMetadata(id)
	if !ok {
		log.Debug().Str("conversation_id", id.String()).Msg("conversation removed from store")
		s.publisherFor(id).PublishBlind(events.NewConversationDeletedEvent(metadata))
		return
	}

	log.Debug().
		Str("conversation_id", id.String()).
		Uint64("version", conv.Version).
		Msg("conversation changed in store")
	changes := &conversation.ChangeSet{StructureChanged: true}
	s.publisherFor(id).PublishBlind(events.NewTreeChangedEvent(metadata, "external_change", changes, conv.Version))
}
