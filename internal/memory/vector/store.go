package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/segmentio/ksuid"

	"codecoder/internal/storage"
)

const defaultTopK = 5

// Embedding is one indexed snippet of project text.
type Embedding struct {
	ID      string    `json:"id"`
	Text    string    `json:"text,omitempty"`
	Vector  []float32 `json:"-"`
	File    string    `json:"file,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Line    int       `json:"line,omitempty"`
	Created time.Time `json:"created"`
}

// Hit is a search result with its cosine similarity (higher is closer).
type Hit struct {
	Embedding
	Similarity float32 `json:"similarity"`
}

// Config wires the index. Dir selects the on-disk location of the
// vector database; leave it empty to keep vectors in memory. Store
// persists the manifest that expiry and per-file removal enumerate.
type Config struct {
	Dir        string
	Collection string
	Store      *storage.Store
	Embedder   Embedder
}

// Store indexes text snippets with dense vectors and answers top-K
// similarity queries. The vectors live in chromem; a manifest row per
// document in the key-value store tracks file, kind and creation time
// so embeddings can be bulk-removed by file and expired by age.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	store      *storage.Store
	embedder   Embedder
}

// manifest rows track index membership; chromem holds text and vectors.
type manifestEntry struct {
	ID      string    `json:"id"`
	File    string    `json:"file,omitempty"`
	Kind    string    `json:"kind,omitempty"`
	Line    int       `json:"line,omitempty"`
	Created time.Time `json:"created"`
}

func manifestKey(id string) []string {
	return []string{"memory", "vector", id}
}

var manifestPrefix = []string{"memory", "vector"}

// Open builds the vector index. A nil Embedder falls back to the
// deterministic hash embedder.
func Open(cfg Config) (*Store, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("vector: manifest store is required")
	}
	embedder := cfg.Embedder
	if embedder == nil {
		embedder = NewHashEmbedder()
	}
	name := cfg.Collection
	if name == "" {
		name = "memory"
	}

	var db *chromem.DB
	var err error
	if cfg.Dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.Dir, "chromem.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	collection, err := db.GetOrCreateCollection(name, nil, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("open vector collection %s: %w", name, err)
	}

	return &Store{db: db, collection: collection, store: cfg.Store, embedder: embedder}, nil
}

// Index stores one embedding and returns it with defaults filled in: a
// missing ID is assigned, a missing vector is computed by the
// configured embedder, and Created defaults to now.
func (s *Store) Index(ctx context.Context, emb Embedding) (Embedding, error) {
	if strings.TrimSpace(emb.Text) == "" {
		return Embedding{}, fmt.Errorf("vector: text is required")
	}
	if emb.ID == "" {
		emb.ID = ksuid.New().String()
	}
	if emb.Created.IsZero() {
		emb.Created = time.Now()
	}

	metadata := map[string]string{
		"created": emb.Created.UTC().Format(time.RFC3339),
	}
	if emb.File != "" {
		metadata["file"] = emb.File
	}
	if emb.Kind != "" {
		metadata["kind"] = emb.Kind
	}
	if emb.Line > 0 {
		metadata["line"] = strconv.Itoa(emb.Line)
	}

	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:        emb.ID,
		Content:   emb.Text,
		Embedding: emb.Vector,
		Metadata:  metadata,
	})
	if err != nil {
		return Embedding{}, fmt.Errorf("index vector %s: %w", emb.ID, err)
	}

	entry := manifestEntry{ID: emb.ID, File: emb.File, Kind: emb.Kind, Line: emb.Line, Created: emb.Created}
	if err := s.store.Write(ctx, manifestKey(emb.ID), entry); err != nil {
		return Embedding{}, fmt.Errorf("record vector %s: %w", emb.ID, err)
	}
	return emb, nil
}

// Search embeds the query and returns up to topK hits, dropping any
// below minSimilarity. A topK of zero or less defaults to 5.
func (s *Store) Search(ctx context.Context, query string, topK int, minSimilarity float32) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("vector: query is required")
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	if topK > count {
		topK = count
	}

	results, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		if res.Similarity < minSimilarity {
			continue
		}
		hits = append(hits, Hit{Embedding: fromResult(res), Similarity: res.Similarity})
	}
	return hits, nil
}

// Remove drops the identified embeddings.
func (s *Store) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	for _, id := range ids {
		if err := s.store.Remove(ctx, manifestKey(id)); err != nil {
			return fmt.Errorf("drop vector manifest %s: %w", id, err)
		}
	}
	return nil
}

// RemoveFile drops every embedding indexed from path and reports how
// many documents were removed.
func (s *Store) RemoveFile(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, fmt.Errorf("vector: file path is required")
	}

	before := s.collection.Count()
	if err := s.collection.Delete(ctx, map[string]string{"file": path}, nil); err != nil {
		return 0, fmt.Errorf("delete vectors for %s: %w", path, err)
	}
	removed := before - s.collection.Count()

	entries, err := s.store.List(ctx, manifestPrefix)
	if err != nil {
		return removed, fmt.Errorf("list vector manifest: %w", err)
	}
	for _, raw := range entries {
		var entry manifestEntry
		if err := raw.Decode(&entry); err != nil {
			continue
		}
		if entry.File != path {
			continue
		}
		if err := s.store.Remove(ctx, manifestKey(entry.ID)); err != nil {
			return removed, fmt.Errorf("drop vector manifest %s: %w", entry.ID, err)
		}
	}
	return removed, nil
}

// Cleanup expires embeddings older than maxAge and reports how many
// were removed. A maxAge of zero or less disables expiry.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	entries, err := s.store.List(ctx, manifestPrefix)
	if err != nil {
		return 0, fmt.Errorf("list vector manifest: %w", err)
	}
	var expired []string
	for _, raw := range entries {
		var entry manifestEntry
		if err := raw.Decode(&entry); err != nil {
			continue
		}
		if entry.Created.Before(cutoff) {
			expired = append(expired, entry.ID)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.Remove(ctx, expired...); err != nil {
		return 0, err
	}
	return len(expired), nil
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	return s.collection.Count()
}

func fromResult(res chromem.Result) Embedding {
	emb := Embedding{
		ID:     res.ID,
		Text:   res.Content,
		Vector: res.Embedding,
		File:   res.Metadata["file"],
		Kind:   res.Metadata["kind"],
	}
	if line := res.Metadata["line"]; line != "" {
		emb.Line, _ = strconv.Atoi(line)
	}
	if created := res.Metadata["created"]; created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			emb.Created = t
		}
	}
	return emb
}
