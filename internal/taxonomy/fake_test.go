package taxonomy

import (
	"context"
	"fmt"
	"sync"

	"github.com/wgomg/pulsegen/internal/semantic"
)

// tableEmbedder returns fixed vectors per text and counts calls.
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string]semantic.Embedding
	calls   map[string]int
	fail    error
}

func newTableEmbedder(vectors map[string]semantic.Embedding) *tableEmbedder {
	return &tableEmbedder{vectors: vectors, calls: make(map[string]int)}
}

func (e *tableEmbedder) Embed(_ context.Context, text string) (semantic.Embedding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls[text]++
	if e.fail != nil {
		return nil, e.fail
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *tableEmbedder) Close() error { return nil }

func (e *tableEmbedder) callsFor(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[text]
}
