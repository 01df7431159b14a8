package pipeline

import (
	"fmt"
	"strings"

	"github.com/wgomg/pulsegen/internal/feedback"
	"github.com/wgomg/pulsegen/internal/utils"
)

// buildChunks splits reviews into groups of size and renders each group as
// extraction input. Reviews shorter than minChars runes are dropped; groups
// left empty are skipped.
func buildChunks(reviews []feedback.Review, size, minChars int) []string {
	var chunks []string
	for start := 0; start < len(reviews); start += size {
		end := min(start+size, len(reviews))

		var sb strings.Builder
		for _, r := range reviews[start:end] {
			if utils.CharCount(r.Content) < minChars {
				continue
			}
			fmt.Fprintf(&sb, "ID: %s\nText: %s\n---\n", r.ReviewID, r.Content)
		}
		if sb.Len() > 0 {
			chunks = append(chunks, sb.String())
		}
	}
	return chunks
}
