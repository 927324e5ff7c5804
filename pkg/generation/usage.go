package generation

import (
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/tokens"
)

// EstimateUsage approximates prompt and completion token counts for
// providers whose streaming responses carry no usage block. Estimation
// failures degrade to zero counts rather than failing the run.
func EstimateUsage(model string, messages conversation.Thread, completion string) (int, int) {
	promptTokens, err := tokens.CountThread(model, messages)
	if err != nil {
		log.Trace().Err(err).Str("model", model).Msg("failed to estimate prompt tokens")
		promptTokens = 0
	}

	completionTokens, err := tokens.Count(model, completion)
	if err != nil {
		log.Trace().Err(err).Str("model", model).Msg("failed to estimate completion tokens")
		completionTokens = 0
	}

	return promptTokens, completionTokens
}
