package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/helpers"
)

// ConversationEventHandler receives decoded conversation events. The browse
// UI implements this to keep its model in sync with the bus.
type ConversationEventHandler interface {
	HandleTreeChanged(ctx context.Context, e *EventTreeChanged) error
	HandleGenerationStart(ctx context.Context, e *EventGenerationStart) error
	HandlePartialCompletion(ctx context.Context, e *EventPartialCompletion) error
	HandleFinal(ctx context.Context, e *EventFinal) error
	HandleError(ctx context.Context, e *EventError) error
	HandleInterrupt(ctx context.Context, e *EventInterrupt) error
}

type EventRouter struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
	verbose    bool
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.verbose = verbose
		r.logger = helpers.NewWatermill(log.Logger)
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
	}

	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, err
	}

	ret.router = router

	return ret, nil
}

func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing publisher")
	err := e.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close pubsub")
		// not returning just yet
	}
	log.Debug().Msg("Publisher closed")

	log.Debug().Msg("Closing router")
	err = e.router.Close()
	if err != nil {
		log.Error().Err(err).Msg("Failed to close router")
		// not returning just yet
	}
	log.Debug().Msg("Router closed")

	return nil
}

// DispatchHandler creates a watermill handler that parses conversation
// events and dispatches them to the matching method of the provided handler.
// A payload that fails to parse is logged and dropped rather than killing
// the handler.
func DispatchHandler(handler ConversationEventHandler) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		logFields := watermill.LogFields{"message_id": msg.UUID}

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			logFields["payload"] = string(msg.Payload)
			log.Error().Interface("logFields", logFields).Err(err).Msg("Failed to parse event from message payload")
			return nil
		}

		logFields["event_type"] = string(e.Type())
		log.Debug().Interface("logFields", logFields).Msg("Parsed conversation event")

		msgCtx := msg.Context()
		var handlerErr error
		switch ev := e.(type) {
		case *EventTreeChanged:
			handlerErr = handler.HandleTreeChanged(msgCtx, ev)
		case *EventGenerationStart:
			handlerErr = handler.HandleGenerationStart(msgCtx, ev)
		case *EventPartialCompletion:
			handlerErr = handler.HandlePartialCompletion(msgCtx, ev)
		case *EventFinal:
			handlerErr = handler.HandleFinal(msgCtx, ev)
		case *EventError:
			handlerErr = handler.HandleError(msgCtx, ev)
		case *EventInterrupt:
			handlerErr = handler.HandleInterrupt(msgCtx, ev)
		default:
			log.Debug().Interface("logFields", logFields).Msg("Unhandled event type")
		}

		if handlerErr != nil {
			log.Error().Interface("logFields", logFields).Err(handlerErr).Msg("Error processing conversation event")
			return handlerErr
		}

		return nil
	}
}

func (e *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	e.router.AddNoPublisherHandler(name, topic, e.Subscriber, f)
}

// NewPublisher returns a sink that publishes to this router under the given
// topic, so generation engines can emit events without knowing watermill.
func (e *EventRouter) NewPublisher(topic string) *WatermillSink {
	return NewWatermillSink(e.Publisher, topic)
}

func (e *EventRouter) DumpRawEvents(msg *message.Message) error {
	defer msg.Ack()

	var s map[string]interface{}
	err := json.Unmarshal(msg.Payload, &s)
	if err != nil {
		return err
	}
	if !e.verbose {
		if meta, ok := s["meta"].(map[string]interface{}); ok {
			s["id"] = meta["event_id"]
			s["conversation_id"] = meta["conversation_id"]
		}
		delete(s, "meta")
	}
	s_, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(s_))
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}

func (e *EventRouter) RunHandlers(ctx context.Context) error {
	return e.router.RunHandlers(ctx)
}
