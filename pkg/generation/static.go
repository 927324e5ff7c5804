package generation

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/events"
)

// StaticEngine replays a scripted reply chunk by chunk. It exists for tests
// and for driving the UI without a provider, but it follows the full event
// lifecycle of a real engine, including interrupts and scripted failures.
type StaticEngine struct {
	chunks   []string
	interval time.Duration
	failWith error
}

type StaticOption func(*StaticEngine)

// WithChunkInterval spaces the streamed chunks apart, leaving a window for
// cancellation between them.
func WithChunkInterval(interval time.Duration) StaticOption {
	return func(e *StaticEngine) {
		e.interval = interval
	}
}

// WithFailure makes the engine publish an error event and fail after
// streaming all its chunks.
func WithFailure(err error) StaticOption {
	return func(e *StaticEngine) {
		e.failWith = err
	}
}

func NewStaticEngine(chunks []string, options ...StaticOption) *StaticEngine {
	ret := &StaticEngine{
		chunks: chunks,
	}

	for _, option := range options {
		option(ret)
	}

	return ret
}

func (e *StaticEngine) RunInference(
	ctx context.Context,
	req Request,
	sink events.EventSink,
) (*Result, error) {
	metadata := req.EventMetadata()
	publishEvent(sink, events.NewStartEvent(metadata))

	completion := ""
	for _, chunk := range e.chunks {
		if e.interval > 0 {
			select {
			case <-ctx.Done():
				publishEvent(sink, events.NewInterruptEvent(metadata, completion))
				return nil, ctx.Err()
			case <-time.After(e.interval):
			}
		} else if err := ctx.Err(); err != nil {
			publishEvent(sink, events.NewInterruptEvent(metadata, completion))
			return nil, err
		}

		completion += chunk
		publishEvent(sink, events.NewPartialCompletionEvent(metadata, chunk, completion))
	}

	if e.failWith != nil {
		publishEvent(sink, events.NewErrorEvent(metadata, e.failWith))
		return nil, e.failWith
	}

	promptTokens, completionTokens := EstimateUsage(req.Model, req.Messages, completion)
	publishEvent(sink, events.NewFinalEvent(metadata, completion))

	return &Result{
		Text:             completion,
		Model:            req.Model,
		StopReason:       "stop",
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}

var _ Engine = (*StaticEngine)(nil)

func publishEvent(sink events.EventSink, event events.Event) {
	if sink == nil {
		return
	}
	if err := sink.PublishEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event to sink")
	}
}
