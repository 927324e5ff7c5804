package service

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/events"
	"github.com/go-go-golems/espalier/pkg/generation"
)

// GenerateOptions selects the provider and sampling parameters for a single
// generation. Nil fields fall back to the engine's defaults.
type GenerateOptions struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
}

type runningGeneration struct {
	node   conversation.NodeID
	cancel context.CancelFunc
}

// Generate appends a pending assistant message after the anchor and streams
// a completion into it in the background. The anchor defaults to the active
// leaf and must sit on the active path. One generation per conversation at a
// time.
//
// The returned node ID identifies the pending message; its final status and
// text land through the mutation queue once the stream ends. Cancellation
// keeps whatever partial text was streamed.
func (s *ConversationService) Generate(ctx context.Context, id conversation.ConversationID, anchorID conversation.NodeID, options GenerateOptions) (conversation.NodeID, error) {
	if s.engine == nil {
		return conversation.NullNode, ErrNoEngine
	}

	var nodeID conversation.NodeID
	err := s.enqueue(ctx, id, func(ctx context.Context) error {
		s.mu.Lock()
		_, busy := s.running[id]
		s.mu.Unlock()
		if busy {
			return errors.Wrapf(ErrGenerationRunning, "conversation %s", id)
		}

		conv, err := s.load(ctx, id)
		if err != nil {
			return err
		}

		anchor := anchorID
		if anchor.IsNull() {
			leaf := conv.ActiveLeaf()
			if leaf == nil {
				return errors.Wrapf(conversation.ErrEmptyConversation, "conversation %s has no messages to anchor a generation on", id)
			}
			anchor = leaf.ID
		}

		path := pathUpTo(conv, anchor)
		if path == nil {
			return errors.Wrapf(conversation.ErrNodeNotFound, "anchor %s is not on the active path", anchor)
		}

		pending := conversation.NewMessage(conversation.RoleAssistant, "",
			conversation.WithGeneration(&conversation.GenerationInfo{
				Provider: options.Provider,
				Model:    options.Model,
				Status:   conversation.GenerationPending,
			}))

		changes, err := conv.ApplyAll(conversation.MutateInsertAfter(anchor, pending))
		if err != nil {
			return err
		}
		if err := s.commit(ctx, conv, "insert_after", changes); err != nil {
			return err
		}

		genCtx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.running[id] = &runningGeneration{node: pending.ID, cancel: cancel}
		s.mu.Unlock()

		req := generation.Request{
			ConversationID: id,
			NodeID:         pending.ID,
			Messages:       path,
			Provider:       options.Provider,
			Model:          options.Model,
			Temperature:    options.Temperature,
			MaxTokens:      options.MaxTokens,
		}
		s.group.Go(func() error {
			s.runGeneration(genCtx, req)
			return nil
		})

		nodeID = pending.ID
		return nil
	})
	if err != nil {
		return conversation.NullNode, err
	}
	return nodeID, nil
}

// CancelGeneration cancels the conversation's running generation, if any.
// The partial text streamed so far is kept on the pending message.
func (s *ConversationService) CancelGeneration(id conversation.ConversationID) bool {
	s.mu.Lock()
	rg, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	rg.cancel()
	return true
}

// runGeneration drives the engine and records the outcome on the pending
// message. It runs outside the mutation queue; only the final edit goes back
// through it.
func (s *ConversationService) runGeneration(ctx context.Context, req generation.Request) {
	sink := &recordingSink{inner: s.publisherFor(req.ConversationID)}
	result, err := s.engine.RunInference(ctx, req, sink)

	status := conversation.GenerationComplete
	errorString := ""
	stopReason := ""
	text := sink.Completion()
	switch {
	case err == nil:
		if result != nil {
			text = result.Text
			stopReason = result.StopReason
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = conversation.GenerationCancelled
	default:
		status = conversation.GenerationError
		errorString = err.Error()
	}

	promptTokens, completionTokens := 0, 0
	if result != nil {
		promptTokens, completionTokens = result.PromptTokens, result.CompletionTokens
	} else {
		promptTokens, completionTokens = generation.EstimateUsage(req.Model, req.Messages, text)
	}

	s.mu.Lock()
	if rg, ok := s.running[req.ConversationID]; ok && rg.node == req.NodeID {
		delete(s.running, req.ConversationID)
	}
	s.mu.Unlock()

	finalizeErr := s.enqueue(context.Background(), req.ConversationID, func(ctx context.Context) error {
		conv, err := s.load(ctx, req.ConversationID)
		if err != nil {
			return err
		}

		msg, ok := conv.FindMessage(req.NodeID)
		if !ok {
			log.Debug().
				Str("conversation_id", req.ConversationID.String()).
				Str("node_id", req.NodeID.String()).
				Msg("pending message removed while generation was running, dropping result")
			return nil
		}

		changes, err := conv.ApplyAll(conversation.MutateEditMessage(req.NodeID, text))
		if err != nil {
			return err
		}

		if msg.Generation == nil {
			msg.Generation = &conversation.GenerationInfo{}
		}
		msg.Generation.Status = status
		msg.Generation.Error = errorString
		msg.Generation.StopReason = stopReason
		msg.Generation.PromptTokens = promptTokens
		msg.Generation.CompletionTokens = completionTokens
		if msg.Generation.Provider == "" {
			msg.Generation.Provider = req.Provider
		}
		if msg.Generation.Model == "" {
			msg.Generation.Model = req.Model
		}

		return s.commit(ctx, conv, "edit_message", changes)
	})
	if finalizeErr != nil {
		log.Warn().Err(finalizeErr).
			Str("conversation_id", req.ConversationID.String()).
			Str("node_id", req.NodeID.String()).
			Msg("failed to record generation result")
	}
}

// pathUpTo returns the active path from the root through the anchor, or nil
// when the anchor is not on it.
func pathUpTo(conv *conversation.Conversation, anchor conversation.NodeID) conversation.Thread {
	path := conv.ActivePath()
	for i, msg := range path {
		if msg.ID == anchor {
			return path[:i+1]
		}
	}
	return nil
}

// recordingSink forwards events to the conversation's publishers while
// remembering the latest accumulated completion, so a cancelled or failed
// stream still yields its partial text.
type recordingSink struct {
	inner events.EventSink

	mu         sync.Mutex
	completion string
}

var _ events.EventSink = (*recordingSink)(nil)

func (r *recordingSink) PublishEvent(e events.Event) error {
	switch ev := e.(type) {
	case *events.EventPartialCompletion:
		r.record(ev.Completion)
	case *events.EventFinal:
		r.record(ev.Text)
	case *events.EventInterrupt:
		if ev.Text != "" {
			r.record(ev.Text)
		}
	}
	return r.inner.PublishEvent(e)
}

func (r *recordingSink) record(completion string) {
	r.mu.Lock()
	r.completion = completion
	r.mu.Unlock()
}

func (r *recordingSink) Completion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completion
}
