// Package tokens estimates token counts for prompts and completions.
//
// Counts come from the tiktoken byte-pair encodings. Models the tokenizer
// does not know fall back to cl100k_base, which is close enough for
// budgeting and display purposes.
package tokens

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"

	"github.com/go-go-golems/espalier/pkg/conversation"
)

// perMessageOverhead accounts for the role and framing tokens that chat
// endpoints wrap around each message body.
const perMessageOverhead = 4

// Count returns the number of tokens in text under the encoding used by
// model.
func Count(model string, text string) (int, error) {
	codec, err := codecForModel(model)
	if err != nil {
		return 0, err
	}

	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "failed to encode text")
	}

	return len(ids), nil
}

// CountThread estimates the prompt size of a message run the way chat
// endpoints bill it, including the per-message framing overhead.
func CountThread(model string, thread conversation.Thread) (int, error) {
	codec, err := codecForModel(model)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, message := range thread {
		ids, _, err := codec.Encode(message.Text)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to encode message %s", message.ID)
		}
		total += len(ids) + perMessageOverhead
	}

	return total, nil
}

func codecForModel(model string) (tokenizer.Codec, error) {
	if model != "" {
		codec, err := tokenizer.ForModel(tokenizer.Model(model))
		if err == nil {
			return codec, nil
		}
	}

	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fallback encoding")
	}
	return codec, nil
}
