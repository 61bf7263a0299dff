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

// Pattern is one learned (or seeded) coding pattern.
type Pattern struct {
	Category   string    `json:"category"`
	Name       string    `json:"name"`
	Template   string    `json:"template,omitempty"`
	Files      []string  `json:"files,omitempty"`
	Frequency  int       `json:"frequency"`
	Confidence float64   `json:"confidence"`
	LastSeen   time.Time `json:"lastSeen,omitempty"`
}

const seedConfidence = 0.3

// seedCatalog is the fixed set of common patterns every project starts
// with.
var seedCatalog = []Pattern{
	{Category: "error-handling", Name: "wrap-and-return", Template: "if err != nil { return fmt.Errorf(\"...: %w\", err) }"},
	{Category: "async", Name: "worker-goroutine", Template: "go func() { ... }() with cancellation"},
	{Category: "data-fetching", Name: "fetch-decode", Template: "request, check status, decode into struct"},
	{Category: "state-management", Name: "guarded-struct", Template: "mutex-guarded state with accessor methods"},
	{Category: "validation", Name: "validate-early", Template: "check inputs first, return a typed error"},
	{Category: "auth", Name: "token-middleware", Template: "extract credential, verify, attach principal"},
}

// PatternStore persists learned patterns keyed by category and name.
type PatternStore struct {
	store *storage.Store
	mu    sync.Mutex
}

// NewPatternStore wraps a storage handle.
func NewPatternStore(store *storage.Store) *PatternStore {
	return &PatternStore{store: store}
}

func patternKey(category, name string) []string {
	return []string{"memory", "pattern", category + "/" + name}
}

// EnsureSeeded writes the fixed catalog for patterns not yet present.
func (p *PatternStore) EnsureSeeded(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seed := range seedCatalog {
		var existing Pattern
		ok, err := p.store.Read(ctx, patternKey(seed.Category, seed.Name), &existing)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		seed.Confidence = seedConfidence
		if err := p.store.Write(ctx, patternKey(seed.Category, seed.Name), seed); err != nil {
			return err
		}
	}
	return nil
}

// Record notes one more occurrence of a pattern, attaching the file it
// was seen in. Unknown patterns are created on first use.
func (p *PatternStore) Record(ctx context.Context, category, name, template, file string) error {
	category = strings.TrimSpace(category)
	name = strings.TrimSpace(name)
	if category == "" || name == "" {
		return fmt.Errorf("pattern: category and name are required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var pattern Pattern
	ok, err := p.store.Read(ctx, patternKey(category, name), &pattern)
	if err != nil {
		return err
	}
	if !ok {
		pattern = Pattern{Category: category, Name: name, Confidence: seedConfidence}
	}
	if template != "" {
		pattern.Template = template
	}
	if file != "" && !containsLine(pattern.Files, file) {
		pattern.Files = append(pattern.Files, file)
	}
	pattern.Frequency++
	pattern.Confidence = pattern.Confidence + emaWeight*(1.0-pattern.Confidence)
	pattern.LastSeen = time.Now()
	return p.store.Write(ctx, patternKey(category, name), pattern)
}

// List returns every stored pattern.
func (p *PatternStore) List(ctx context.Context) ([]Pattern, error) {
	entries, err := p.store.List(ctx, []string{"memory", "pattern"})
	if err != nil {
		return nil, err
	}
	out := make([]Pattern, 0, len(entries))
	for _, entry := range entries {
		var pattern Pattern
		if err := entry.Decode(&pattern); err != nil {
			continue
		}
		out = append(out, pattern)
	}
	return out, nil
}

// Top returns the n most established patterns, by frequency then
// confidence.
func (p *PatternStore) Top(ctx context.Context, n int) ([]Pattern, error) {
	patterns, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].Name < patterns[j].Name
	})
	if n > 0 && len(patterns) > n {
		patterns = patterns[:n]
	}
	return patterns, nil
}
