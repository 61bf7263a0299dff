package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"codecoder/internal/storage"
)

// KnowledgeKind categorizes a project-knowledge entry.
type KnowledgeKind string

const (
	KnowledgeEndpoint  KnowledgeKind = "endpoint"
	KnowledgeComponent KnowledgeKind = "component"
	KnowledgeModel     KnowledgeKind = "model"
	KnowledgeNote      KnowledgeKind = "note"
)

// KnowledgeEntry is one known fact about the project: an API endpoint, a
// component, a data model, or a free-form note.
type KnowledgeEntry struct {
	Kind    KnowledgeKind `json:"kind"`
	Name    string        `json:"name"`
	Detail  string        `json:"detail,omitempty"`
	File    string        `json:"file,omitempty"`
	Line    int           `json:"line,omitempty"`
	Updated time.Time     `json:"updated"`
}

// KnowledgeCounts summarizes the store for the context builder.
type KnowledgeCounts struct {
	Endpoints  int `json:"endpoints"`
	Components int `json:"components"`
	Models     int `json:"models"`
	Notes      int `json:"notes"`
}

// Total returns the number of entries across kinds.
func (c KnowledgeCounts) Total() int {
	return c.Endpoints + c.Components + c.Models + c.Notes
}

// Knowledge tracks what the assistant has learned about the project's
// shape. Entries are keyed by kind and name, so re-discovering something
// updates it in place.
type Knowledge struct {
	store *storage.Store
	mu    sync.Mutex
}

// NewKnowledge wraps a storage handle.
func NewKnowledge(store *storage.Store) *Knowledge {
	return &Knowledge{store: store}
}

func knowledgeKey(kind KnowledgeKind, name string) []string {
	return []string{"memory", "knowledge", string(kind) + "/" + name}
}

// Upsert records or refreshes one entry. Empty fields keep the stored
// value.
func (k *Knowledge) Upsert(ctx context.Context, entry KnowledgeEntry) (KnowledgeEntry, error) {
	entry.Name = strings.TrimSpace(entry.Name)
	if entry.Kind == "" || entry.Name == "" {
		return KnowledgeEntry{}, fmt.Errorf("knowledge: kind and name are required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var existing KnowledgeEntry
	ok, err := k.store.Read(ctx, knowledgeKey(entry.Kind, entry.Name), &existing)
	if err != nil {
		return KnowledgeEntry{}, err
	}
	if ok {
		if entry.Detail == "" {
			entry.Detail = existing.Detail
		}
		if entry.File == "" {
			entry.File = existing.File
			entry.Line = existing.Line
		}
	}
	entry.Updated = time.Now()
	if err := k.store.Write(ctx, knowledgeKey(entry.Kind, entry.Name), entry); err != nil {
		return KnowledgeEntry{}, err
	}
	return entry, nil
}

// List returns entries of one kind, or all kinds when kind is empty,
// sorted by name.
func (k *Knowledge) List(ctx context.Context, kind KnowledgeKind) ([]KnowledgeEntry, error) {
	raw, err := k.store.List(ctx, []string{"memory", "knowledge"})
	if err != nil {
		return nil, err
	}
	entries := make([]KnowledgeEntry, 0, len(raw))
	for _, item := range raw {
		var entry KnowledgeEntry
		if err := item.Decode(&entry); err != nil {
			continue
		}
		if kind != "" && entry.Kind != kind {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Counts tallies entries per kind.
func (k *Knowledge) Counts(ctx context.Context) (KnowledgeCounts, error) {
	entries, err := k.List(ctx, "")
	if err != nil {
		return KnowledgeCounts{}, err
	}
	var counts KnowledgeCounts
	for _, entry := range entries {
		switch entry.Kind {
		case KnowledgeEndpoint:
			counts.Endpoints++
		case KnowledgeComponent:
			counts.Components++
		case KnowledgeModel:
			counts.Models++
		case KnowledgeNote:
			counts.Notes++
		}
	}
	return counts, nil
}
