// Package openai implements generation.Engine on the OpenAI chat completion
// streaming API. The BaseURL option points it at any OpenAI-compatible
// endpoint.
package openai

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/generation"
)

type Engine struct {
	apiKey string
	config *generation.Config
}

func NewEngine(apiKey string, options ...generation.Option) (*Engine, error) {
	config := generation.NewConfig()
	if err := generation.ApplyOptions(config, options...); err != nil {
		return nil, err
	}

	return &Engine{
		apiKey: apiKey,
		config: config,
	}, nil
}

func (e *Engine) RunInference(
	ctx context.Context,
	req generation.Request,
	sink events.EventSink,
) (*generation.Result, error) {
	log.Debug().
		Str("model", req.Model).
		Int("num_messages", len(req.Messages)).
		Msg("openai inference started")

	if req.Model == "" {
		return nil, errors.New("no model specified")
	}
	if err := e.config.Wait(ctx); err != nil {
		return nil, err
	}

	client := e.makeClient()
	chatReq := makeCompletionRequest(req)

	metadata := req.EventMetadata()
	e.publishEvent(sink, events.NewStartEvent(metadata))

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		log.Error().Err(err).Msg("openai streaming request failed")
		e.publishEvent(sink, events.NewErrorEvent(metadata, err))
		return nil, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close completion stream")
		}
	}()

	completion := ""
	stopReason := ""
	chunkCount := 0

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("chunks_received", chunkCount).Msg("openai streaming cancelled")
			e.publishEvent(sink, events.NewInterruptEvent(metadata, completion))
			return nil, ctx.Err()

		default:
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				log.Debug().Int("chunks_received", chunkCount).Msg("openai stream completed")
				goto streamingComplete
			}
			if err != nil {
				log.Error().Err(err).Int("chunks_received", chunkCount).Msg("openai stream receive failed")
				e.publishEvent(sink, events.NewErrorEvent(metadata, err))
				return nil, err
			}

			chunkCount++
			if len(response.Choices) == 0 {
				continue
			}
			choice := response.Choices[0]
			if choice.FinishReason != "" {
				stopReason = string(choice.FinishReason)
			}
			if choice.Delta.Content == "" {
				continue
			}

			completion += choice.Delta.Content
			e.publishEvent(sink, events.NewPartialCompletionEvent(metadata, choice.Delta.Content, completion))
		}
	}

streamingComplete:
	promptTokens, completionTokens := generation.EstimateUsage(req.Model, req.Messages, completion)
	e.publishEvent(sink, events.NewFinalEvent(metadata, completion))

	return &generation.Result{
		Text:             completion,
		Model:            req.Model,
		StopReason:       stopReason,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}, nil
}

func (e *Engine) makeClient() *go_openai.Client {
	clientConfig := go_openai.DefaultConfig(e.apiKey)
	if e.config.BaseURL != "" {
		clientConfig.BaseURL = e.config.BaseURL
	}
	return go_openai.NewClientWithConfig(clientConfig)
}

func makeCompletionRequest(req generation.Request) go_openai.ChatCompletionRequest {
	messages := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, message := range req.Messages {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    openaiRole(message.Role),
			Content: message.Text,
		})
	}

	ret := go_openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.Temperature != nil {
		ret.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens != nil {
		ret.MaxTokens = *req.MaxTokens
	}

	return ret
}

func openaiRole(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	default:
		return go_openai.ChatMessageRoleUser
	}
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
