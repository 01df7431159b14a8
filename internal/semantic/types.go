package semantic

import (
	"context"
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when vectors from different models meet.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedding is a fixed-length vector for one piece of text.
type Embedding []float64

// Embedder turns text into an Embedding. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	Close() error
}

// HealthChecker is implemented by embedders that can check their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dimensioned is implemented by embedders that know their vector length.
type Dimensioned interface {
	Dimension() int
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector is zero or the lengths differ.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
