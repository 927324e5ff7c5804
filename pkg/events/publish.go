package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// PublisherManager distributes one conversation's events to a set of
// publishers. You "subscribe" a publisher under a topic; PublishEvent then
// delivers every event to all publishers on the topic they were subscribed
// with. The service uses this to feed both the per-conversation topic and
// the firehose from a single call.
//
// The manager stamps a sequence number on each outgoing message, in the
// order PublishEvent handles them, so subscribers can re-order a topic.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, sub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], sub)
}

// PublishEvent serializes the event and distributes it to all publishers
// across all topics.
func (s *PublisherManager) PublishEvent(event Event) error {
	// lock for the sequence number
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	msg.Metadata.Set("event_type", string(event.Type()))
	if !event.Metadata().ConversationID.IsNull() {
		msg.Metadata.Set("conversation_id", event.Metadata().ConversationID.String())
	}
	s.sequenceNumber++

	for topic, subs := range s.Publishers {
		for _, sub := range subs {
			err = sub.Publish(topic, msg)
			if err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish")
			}
		}
	}

	return nil
}

// PublishBlind publishes and only logs failures. Used on hot paths where a
// dropped event must not fail the mutation that produced it.
func (s *PublisherManager) PublishBlind(event Event) {
	err := s.PublishEvent(event)
	if err != nil {
		log.Warn().Err(err).Msg("failed to publish")
	}
}

var _ EventSink = (*PublisherManager)(nil)
