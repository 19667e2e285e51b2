package pipeline

import (
	"fmt"
	"strings"

	"sermonsync/internal/services"
)

// dominantWordRatio is the fraction of tokens one word may occupy before the
// transcript is treated as ASR garbage (hallucinated repetition).
const dominantWordRatio = 0.5

// dominantWordMinTokens is the token count below which the dominant-word
// check does not apply; very short transcripts repeat words legitimately.
const dominantWordMinTokens = 10

// ValidateTranscript rejects transcripts that are too short or degenerate.
func ValidateTranscript(transcript string, minChars int) error {
	trimmed := strings.TrimSpace(transcript)
	if len(trimmed) < minChars {
		return services.Wrap(services.ErrValidation, "pipeline", "validate",
			fmt.Sprintf("transcript too short: %d chars, need %d", len(trimmed), minChars), nil)
	}

	tokens := strings.Fields(strings.ToLower(trimmed))
	if len(tokens) <= dominantWordMinTokens {
		return nil
	}
	counts := make(map[string]int)
	for _, token := range tokens {
		counts[token]++
	}
	for word, count := range counts {
		if float64(count) > dominantWordRatio*float64(len(tokens)) {
			return services.Wrap(services.ErrValidation, "pipeline", "validate",
				fmt.Sprintf("word %q dominates transcript (%d of %d tokens)", word, count, len(tokens)), nil)
		}
	}
	return nil
}
