package answer

import (
	"strings"

	"github.com/fortuspay/supportkb/internal/domain"
)

// AssembleContext filters ranked matches and joins the surviving passages
// into the grounding context for the prompt.
//
// Matches scoring at or below threshold are dropped (strict inequality);
// the index's ranking order is preserved, at most maxCount survivors are
// taken, and entries whose text is blank after trimming are discarded.
// Returns "" when nothing survives, which the prompt builder turns into
// the fallback instruction.
func AssembleContext(matches []domain.Match, threshold float64, maxCount int) string {
	texts := make([]string, 0, maxCount)

	taken := 0
	for _, m := range matches {
		if m.Score <= threshold {
			continue
		}
		if taken == maxCount {
			break
		}
		taken++

		if text := strings.TrimSpace(m.Metadata.Text); text != "" {
			texts = append(texts, text)
		}
	}

	return strings.Join(texts, "\n\n")
}
