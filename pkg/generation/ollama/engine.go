// Package ollama implements generation.Engine against a local ollama
// server.
package ollama

import (
	"context"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/generation"
)

type Engine struct {
	client *api.Client
	config *generation.Config
}

// NewEngine wraps an injected ollama API client.
func NewEngine(client *api.Client, options ...generation.Option) (*Engine, error) {
	if client == nil {
		return nil, errors.New("no ollama client provided")
	}

	config := generation.NewConfig()
	if err := generation.ApplyOptions(config, options...); err != nil {
		return nil, err
	}

	return &Engine{
		client: client,
		config: config,
	}, nil
}

// NewEngineFromEnvironment builds the client from OLLAMA_HOST, falling back
// to the default local server address.
func NewEngineFromEnvironment(options ...generation.Option) (*Engine, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ollama client")
	}
	return NewEngine(client, options...)
}

func (e *Engine) RunInference(
	ctx context.Context,
	req generation.Request,
	sink events.EventSink,
) (*generation.Result, error) {
	log.Debug().
		Str("model", req.Model).
		Int("num_messages", len(req.Messages)).
		Msg("ollama inference started")

	if req.Model == "" {
		return nil, errors.New("no model specified")
	}
	if err := e.config.Wait(ctx); err != nil {
		return nil, err
	}

	ollamaMessages := make([]api.Message, 0, len(req.Messages))
	for _, message := range req.Messages {
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    string(message.Role),
			Content: message.Text,
		})
	}

	stream := true
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options:  requestOptions(req),
	}

	metadata := req.EventMetadata()
	e.publishEvent(sink, events.NewStartEvent(metadata))

	completion := ""
	err := e.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Done {
			return nil
		}
		if resp.Message.Content == "" {
			return nil
		}

		completion += resp.Message.Content
		e.publishEvent(sink, events.NewPartialCompletionEvent(metadata, resp.Message.Content, completion))
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Msg("ollama streaming cancelled")
			e.publishEvent(sink, events.NewInterruptEvent(metadata, completion))
			return nil, err
		}
		log.Error().Err(err).Msg("ollama chat request failed")
		e.publishEvent(sink, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	promptTokens, completionTokens := generation.EstimateUsage(req.Model, req.Messages, completion)
	e.publishEvent(sink, events.NewFinalEvent(metadata, completion))

	return &generation.Result{
		Text:             completion,
		Model:            req.Model,
		StopReason:       "stop",
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}

func requestOptions(req generation.Request) map[string]interface{} {
	options := map[string]interface{}{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		options["num_predict"] = *req.MaxTokens
	}
	if len(options) == 0 {
		return nil
	}
	return options
}

func (e *Engine) publishEvent(sink events.EventSink, event events.Event) {
	if sink == nil {
		return
	}
	if err := sink.PublishEvent(event); err != nil {
		log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("failed to publish event to sink")
	}
}

var _ generation.Engine = (*Engine)(nil)
