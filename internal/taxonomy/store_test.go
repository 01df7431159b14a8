package taxonomy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wgomg/pulsegen/internal/semantic"
	"github.com/wgomg/pulsegen/internal/utils"
)

func newTestStore(t *testing.T, emb semantic.Embedder) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "taxonomy.json"), emb, utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t, newTableEmbedder(nil))
	if s.Len() != 0 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestOpenCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	if err := os.WriteFile(path, []byte(`{"Cold food": {"embedding": [`), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, newTableEmbedder(nil), utils.NewDiscardLogger()); err == nil {
		t.Fatal("expected error for corrupt taxonomy")
	}

	// the corrupt file must not be replaced
	data, _ := os.ReadFile(path)
	if string(data) != `{"Cold food": {"embedding": [` {
		t.Fatalf("corrupt file was modified: %s", data)
	}
}

func TestOpenRejectsTopicWithoutEmbedding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	body := `{"Cold food": {"examples": ["Cold food"], "embedding": [], "created_at": "2025-01-01T10:00:00"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, newTableEmbedder(nil), utils.NewDiscardLogger()); err == nil {
		t.Fatal("expected error")
	}
}

func TestAddIsIdempotent(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{"App crashes": {1, 0}})
	s := newTestStore(t, emb)
	ctx := context.Background()

	inserted, err := s.Add(ctx, "App crashes")
	if err != nil || !inserted {
		t.Fatalf("first Add = %v, %v", inserted, err)
	}
	inserted, err = s.Add(ctx, "App crashes")
	if err != nil || inserted {
		t.Fatalf("second Add = %v, %v", inserted, err)
	}

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if emb.callsFor("App crashes") != 1 {
		t.Fatalf("embedded %d times", emb.callsFor("App crashes"))
	}

	topic, ok := s.Get("App crashes")
	if !ok {
		t.Fatal("topic missing")
	}
	if len(topic.Examples) != 1 || topic.Examples[0] != "App crashes" {
		t.Fatalf("Examples = %v", topic.Examples)
	}
}

func TestAddConcurrentSameName(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{"Login issue": {0, 1}})
	s := newTestStore(t, emb)

	var wg sync.WaitGroup
	var mu sync.Mutex
	insertedCount := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Add(context.Background(), "Login issue")
			if err != nil {
				t.Errorf("Add: %v", err)
				return
			}
			if ok {
				mu.Lock()
				insertedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if insertedCount != 1 || s.Len() != 1 {
		t.Fatalf("inserted=%d len=%d", insertedCount, s.Len())
	}
}

func TestAddEmbeddingFailure(t *testing.T) {
	emb := newTableEmbedder(nil)
	emb.fail = errors.New("model offline")
	s := newTestStore(t, emb)

	_, err := s.Add(context.Background(), "Refund delay")
	if err == nil || !errors.Is(err, emb.fail) {
		t.Fatalf("expected wrapped embedding error, got %v", err)
	}
	if s.Contains("Refund delay") {
		t.Fatal("topic admitted despite embedding failure")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{
		"Cold food":      {0.5, 0.25, -1},
		"Delivery delay": {1, 2, 3},
	})
	s := newTestStore(t, emb)
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	ctx := context.Background()
	for _, name := range []string{"Delivery delay", "Cold food"} {
		if _, err := s.Add(ctx, name); err != nil {
			t.Fatalf("Add %s: %v", name, err)
		}
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Open(s.Path(), emb, utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	if got := reloaded.Names(); len(got) != 2 || got[0] != "Delivery delay" || got[1] != "Cold food" {
		t.Fatalf("store order = %v", got)
	}

	for _, name := range []string{"Delivery delay", "Cold food"} {
		want, _ := s.Get(name)
		got, ok := reloaded.Get(name)
		if !ok {
			t.Fatalf("%s missing after reload", name)
		}
		if !got.CreatedAt.Equal(want.CreatedAt.Time) {
			t.Fatalf("%s created_at %v != %v", name, got.CreatedAt, want.CreatedAt)
		}
		if len(got.Embedding) != len(want.Embedding) {
			t.Fatalf("%s embedding length changed", name)
		}
		for i := range want.Embedding {
			if got.Embedding[i] != want.Embedding[i] {
				t.Fatalf("%s embedding[%d] %v != %v", name, i, got.Embedding[i], want.Embedding[i])
			}
		}
	}
}

func TestSaveWritesBackupOfPreviousFile(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{"A": {1}, "B": {2}})
	s := newTestStore(t, emb)
	ctx := context.Background()

	if _, err := s.Add(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Path() + ".bak"); !os.IsNotExist(err) {
		t.Fatalf("first save should not create a backup, stat err = %v", err)
	}
	first, _ := os.ReadFile(s.Path())

	if _, err := s.Add(ctx, "B"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	backup, err := os.ReadFile(s.Path() + ".bak")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != string(first) {
		t.Fatal("backup does not hold the previous generation")
	}
}

func TestSaveFileLayout(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{"Cold food": {0.5, 1}})
	s := newTestStore(t, emb)
	if _, err := s.Add(context.Background(), "Cold food"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(s.Path())
	var doc map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("file is not a keyed object: %v", err)
	}
	entry, ok := doc["Cold food"]
	if !ok {
		t.Fatalf("missing topic key: %s", data)
	}
	for _, key := range []string{"examples", "embedding", "created_at"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %s", key, data)
		}
	}
	var vec []float64
	if err := json.Unmarshal(entry["embedding"], &vec); err != nil || len(vec) != 2 {
		t.Fatalf("embedding is not a number list: %s", entry["embedding"])
	}
}

func TestSaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "taxonomy.json")
	emb := newTableEmbedder(map[string]semantic.Embedding{"A": {1}})
	s := NewStore(path, emb, utils.NewDiscardLogger())
	if _, err := s.Add(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}
}

func TestLoadAcceptsNaiveTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	body := `{
  "Late": {"examples": ["Late"], "embedding": [1], "created_at": "2025-01-02T08:00:00.123456"},
  "Early": {"examples": ["Early"], "embedding": [1], "created_at": "2025-01-01T08:00:00Z"}
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, newTableEmbedder(nil), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s.Names(); got[0] != "Early" || got[1] != "Late" {
		t.Fatalf("order = %v", got)
	}
	late, _ := s.Get("Late")
	if late.CreatedAt.Nanosecond() != 123456000 {
		t.Fatalf("fractional seconds lost: %v", late.CreatedAt)
	}
}

func TestGetIsACopy(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{"A": {1, 2}})
	s := newTestStore(t, emb)
	if _, err := s.Add(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}

	first, _ := s.Get("A")
	first.Embedding[0] = 42
	first.Examples[0] = "mutated"

	got, _ := s.Get("A")
	if got.Embedding[0] != 1 || got.Examples[0] != "A" {
		t.Fatalf("Get aliases store state: %+v", got)
	}
}

func TestOpenRejectsMixedDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taxonomy.json")
	body := `{
  "A": {"examples": ["A"], "embedding": [1, 0], "created_at": "2025-01-01T08:00:00Z"},
  "B": {"examples": ["B"], "embedding": [1, 0, 0], "created_at": "2025-01-01T09:00:00Z"}
}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path, newTableEmbedder(nil), utils.NewDiscardLogger())
	if !errors.Is(err, semantic.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestAddRejectsOtherDimension(t *testing.T) {
	emb := newTableEmbedder(map[string]semantic.Embedding{
		"A": {1, 0},
		"B": {1, 0, 0},
	})
	s := newTestStore(t, emb)
	ctx := context.Background()

	if _, err := s.Add(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if s.Dimension() != 2 {
		t.Fatalf("Dimension = %d", s.Dimension())
	}
	if _, err := s.Add(ctx, "B"); !errors.Is(err, semantic.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Contains("B") {
		t.Fatal("mismatched topic was stored")
	}
}

func TestConcurrentAddAndSaveLeaveValidFile(t *testing.T) {
	const writers, rounds = 8, 10

	vectors := make(map[string]semantic.Embedding, writers*rounds)
	for i := range writers * rounds {
		vectors[fmt.Sprintf("topic-%d", i)] = semantic.Embedding{1, float64(i)}
	}
	s := newTestStore(t, newTableEmbedder(vectors))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, writers*rounds)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range rounds {
				if _, err := s.Add(ctx, fmt.Sprintf("topic-%d", w*rounds+r)); err != nil {
					errs <- err
					return
				}
				if err := s.Save(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Add/Save: %v", err)
	}

	reloaded, err := Open(s.Path(), newTableEmbedder(nil), utils.NewDiscardLogger())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != writers*rounds {
		t.Fatalf("reloaded %d topics, want %d", reloaded.Len(), writers*rounds)
	}

	backup, err := os.ReadFile(s.Path() + ".bak")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !json.Valid(backup) {
		t.Fatalf("backup is not valid JSON")
	}
}
