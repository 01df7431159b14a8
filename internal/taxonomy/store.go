package taxonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wgomg/pulsegen/internal/semantic"
	"github.com/wgomg/pulsegen/internal/utils"
)

// naiveLayout is how older taxonomy files wrote created_at (no zone).
const naiveLayout = "2006-01-02T15:04:05.999999"

// Timestamp decodes RFC 3339 as well as zone-less ISO-8601 timestamps.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("created_at must be a string: %w", err)
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(naiveLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("invalid created_at %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// Topic is one canonical entry of the taxonomy. Embedding and CreatedAt are
// set once at admission.
type Topic struct {
	Name      string
	Examples  []string
	Embedding semantic.Embedding
	CreatedAt Timestamp
}

type topicRecord struct {
	Examples  []string           `json:"examples"`
	Embedding semantic.Embedding `json:"embedding"`
	CreatedAt Timestamp          `json:"created_at"`
}

// Store is the persistent topic catalog. Safe for concurrent use.
type Store struct {
	path     string
	embedder semantic.Embedder
	logger   *utils.Logger
	now      func() time.Time

	mu     sync.RWMutex
	topics map[string]*Topic
	order  []string
	dim    int

	// saveMu serializes Save so snapshot, backup and write land in order.
	saveMu sync.Mutex
}

func NewStore(path string, embedder semantic.Embedder, logger *utils.Logger) *Store {
	return &Store{
		path:     path,
		embedder: embedder,
		logger:   logger.Named("taxonomy"),
		now:      time.Now,
		topics:   make(map[string]*Topic),
	}
}

// Open creates a Store and loads its file.
func Open(path string, embedder semantic.Embedder, logger *utils.Logger) (*Store, error) {
	s := NewStore(path, embedder, logger)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory catalog with the file contents. A missing file
// yields an empty catalog; any other read or parse failure is returned.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.topics = make(map[string]*Topic)
		s.order = nil
		s.dim = 0
		s.mu.Unlock()
		s.logger.Info(nil, "No existing taxonomy at %s, starting fresh", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read taxonomy %s: %w", s.path, err)
	}

	var records map[string]topicRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse taxonomy %s: %w", s.path, err)
	}

	topics := make(map[string]*Topic, len(records))
	dim := 0
	for name, rec := range records {
		if len(rec.Embedding) == 0 {
			return fmt.Errorf("taxonomy %s: topic %q has no embedding", s.path, name)
		}
		if dim == 0 {
			dim = len(rec.Embedding)
		} else if len(rec.Embedding) != dim {
			return fmt.Errorf("taxonomy %s: topic %q has %d dimensions, others have %d: %w",
				s.path, name, len(rec.Embedding), dim, semantic.ErrDimensionMismatch)
		}
		examples := rec.Examples
		if len(examples) == 0 {
			examples = []string{name}
		}
		topics[name] = &Topic{
			Name:      name,
			Examples:  examples,
			Embedding: rec.Embedding,
			CreatedAt: rec.CreatedAt,
		}
	}

	order := make([]string, 0, len(topics))
	for name := range topics {
		order = append(order, name)
	}
	slices.SortFunc(order, func(a, b string) int {
		if c := topics[a].CreatedAt.Compare(topics[b].CreatedAt.Time); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	s.mu.Lock()
	s.topics = topics
	s.order = order
	s.dim = dim
	s.mu.Unlock()

	s.logger.Info(nil, "Loaded %d topics from %s", len(order), s.path)
	return nil
}

// Save copies the current file to <path>.bak, then writes the whole catalog.
func (s *Store) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	records := make(map[string]topicRecord, len(s.topics))
	for name, t := range s.topics {
		records[name] = topicRecord{
			Examples:  t.Examples,
			Embedding: t.Embedding,
			CreatedAt: t.CreatedAt,
		}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode taxonomy: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create taxonomy directory: %w", err)
		}
	}

	if err := s.backup(); err != nil {
		return err
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write taxonomy %s: %w", s.path, err)
	}

	s.logger.Debug(nil, "Saved %d topics to %s", len(records), s.path)
	return nil
}

func (s *Store) backup() error {
	current, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read taxonomy for backup: %w", err)
	}
	if err := os.WriteFile(s.path+".bak", current, 0644); err != nil {
		return fmt.Errorf("failed to write taxonomy backup: %w", err)
	}
	return nil
}

// Add admits name as a new topic embedded from its own text. It reports
// whether the topic was inserted; an existing name is left untouched.
func (s *Store) Add(ctx context.Context, name string) (bool, error) {
	if s.Contains(name) {
		return false, nil
	}

	emb, err := s.embedder.Embed(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to embed topic %q: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.topics[name]; exists {
		return false, nil
	}
	if s.dim != 0 && len(emb) != s.dim {
		return false, fmt.Errorf("topic %q embeds to %d dimensions, taxonomy has %d: %w",
			name, len(emb), s.dim, semantic.ErrDimensionMismatch)
	}
	if s.dim == 0 {
		s.dim = len(emb)
	}
	s.topics[name] = &Topic{
		Name:      name,
		Examples:  []string{name},
		Embedding: emb,
		CreatedAt: Timestamp{s.now()},
	}
	s.order = append(s.order, name)
	return true, nil
}

func (s *Store) Get(name string) (Topic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.topics[name]
	if !ok {
		return Topic{}, false
	}
	return copyTopic(t), true
}

func (s *Store) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.topics[name]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}

// Names lists topic names in store order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Dimension is the embedding length shared by all topics, 0 when empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// each visits topics in store order under the read lock.
func (s *Store) each(fn func(t *Topic)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, name := range s.order {
		fn(s.topics[name])
	}
}

func copyTopic(t *Topic) Topic {
	return Topic{
		Name:      t.Name,
		Examples:  slices.Clone(t.Examples),
		Embedding: slices.Clone(t.Embedding),
		CreatedAt: t.CreatedAt,
	}
}
