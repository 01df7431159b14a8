package llm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wgomg/pulsegen/internal/trends"
)

// FallbackInsight is returned when no backend could write the summary.
const FallbackInsight = "Could not generate insights."

// insightRows limits how much of the matrix goes into the insight prompt.
const insightRows = 5

const extractPrompt = `You are an AI that extracts user complaints and feature requests from reviews.
Return ONLY a JSON list of normalized topics (strings).

Reviews:
%s

Output format: ["Topic 1", "Topic 2"]`

const insightPrompt = `You are a product analytics AI.

Context:
- Trend Data: %s
- New Emerging Topics: %s
- Spiking Topics (>2x growth): %s

Write 3–5 bullet-points summarizing trend changes, new/emerging topics, and spike events.
Keep it concise and professional.`

func buildExtractPrompt(reviewsText string) string {
	return fmt.Sprintf(extractPrompt, reviewsText)
}

func buildInsightPrompt(matrix trends.Matrix, newTopics, spikes []string) string {
	return fmt.Sprintf(insightPrompt,
		renderTrendView(matrix.Top(insightRows)),
		strings.Join(newTopics, ", "),
		strings.Join(spikes, ", "),
	)
}

// renderTrendView writes one "topic: [c1, c2]" line per row.
func renderTrendView(matrix trends.Matrix) string {
	var sb strings.Builder
	for _, row := range matrix {
		counts := make([]string, len(row.Counts))
		for i, c := range row.Counts {
			counts[i] = strconv.Itoa(c)
		}
		fmt.Fprintf(&sb, "%s: [%s]\n", row.Topic, strings.Join(counts, ", "))
	}
	return sb.String()
}
