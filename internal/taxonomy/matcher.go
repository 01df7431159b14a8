package taxonomy

import (
	"context"
	"fmt"

	"github.com/wgomg/pulsegen/internal/semantic"
)

const DefaultSimilarityThreshold = 0.78

// Match is the outcome of resolving one raw topic.
type Match struct {
	Name     string
	Score    float64
	Existing bool
}

// Matcher resolves raw topic strings to canonical taxonomy names by cosine
// similarity against stored topic embeddings.
type Matcher struct {
	store     *Store
	embedder  semantic.Embedder
	threshold float64
}

func NewMatcher(store *Store, embedder semantic.Embedder, threshold float64) *Matcher {
	return &Matcher{store: store, embedder: embedder, threshold: threshold}
}

// Map returns the best stored topic at or above the threshold, otherwise raw.
func (m *Matcher) Map(ctx context.Context, raw string) (string, error) {
	match, err := m.Match(ctx, raw)
	if err != nil {
		return "", err
	}
	return match.Name, nil
}

// Match is Map with the winning score. Ties keep the earliest topic in store order.
func (m *Matcher) Match(ctx context.Context, raw string) (Match, error) {
	if m.store.Len() == 0 {
		return Match{Name: raw}, nil
	}

	emb, err := m.embedder.Embed(ctx, raw)
	if err != nil {
		return Match{}, fmt.Errorf("failed to embed raw topic %q: %w", raw, err)
	}

	var (
		best      string
		bestScore float64
		found     bool
		mismatch  *Topic
	)
	m.store.each(func(t *Topic) {
		if len(t.Embedding) != len(emb) {
			if mismatch == nil {
				mismatch = t
			}
			return
		}
		score := semantic.CosineSimilarity(emb, t.Embedding)
		if !found || score > bestScore {
			best, bestScore, found = t.Name, score, true
		}
	})
	if mismatch != nil {
		return Match{}, fmt.Errorf("raw topic %q embeds to %d dimensions, topic %q has %d: %w",
			raw, len(emb), mismatch.Name, len(mismatch.Embedding), semantic.ErrDimensionMismatch)
	}

	if found && bestScore >= m.threshold {
		return Match{Name: best, Score: bestScore, Existing: true}, nil
	}
	return Match{Name: raw, Score: bestScore}, nil
}
