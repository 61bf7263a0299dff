package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"codecoder/internal/memory/graph"
	"codecoder/internal/storage"
)

// IndexedFile is the code index's view of one source file.
type IndexedFile struct {
	Path     string    `json:"path"`
	Language string    `json:"language,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	Symbols  []string  `json:"symbols,omitempty"`
	Indexed  time.Time `json:"indexed"`
}

// RankedFile is one relevance hit for the context builder.
type RankedFile struct {
	Path    string  `json:"path"`
	Reason  string  `json:"reason"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score"`
}

// summaryLimit caps the per-file summary the context carries.
const summaryLimit = 200

// CodeIndex stores per-file summaries and symbols and ranks files
// against a task description.
type CodeIndex struct {
	store *storage.Store
}

// NewCodeIndex wraps a storage handle.
func NewCodeIndex(store *storage.Store) *CodeIndex {
	return &CodeIndex{store: store}
}

func indexKey(path string) []string { return []string{"memory", "index", path} }

// Index records or refreshes one file.
func (c *CodeIndex) Index(ctx context.Context, file IndexedFile) error {
	file.Path = strings.TrimSpace(file.Path)
	if file.Path == "" {
		return fmt.Errorf("index: path is required")
	}
	if file.Indexed.IsZero() {
		file.Indexed = time.Now()
	}
	return c.store.Write(ctx, indexKey(file.Path), file)
}

// Remove drops a file from the index.
func (c *CodeIndex) Remove(ctx context.Context, path string) error {
	return c.store.Remove(ctx, indexKey(path))
}

// Files returns every indexed file.
func (c *CodeIndex) Files(ctx context.Context) ([]IndexedFile, error) {
	entries, err := c.store.List(ctx, []string{"memory", "index"})
	if err != nil {
		return nil, err
	}
	files := make([]IndexedFile, 0, len(entries))
	for _, entry := range entries {
		var file IndexedFile
		if err := entry.Decode(&file); err != nil {
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

// Rank scores indexed files against the task and the explicitly named
// paths and returns up to limit hits, best first. Files that share
// declarations with a named file are pulled in through the semantic
// graph even when no term matches. Summaries are clipped for the
// context snapshot.
func (c *CodeIndex) Rank(ctx context.Context, task string, filePaths []string, limit int) ([]RankedFile, error) {
	files, err := c.Files(ctx)
	if err != nil {
		return nil, err
	}
	named := make(map[string]bool, len(filePaths))
	for _, p := range filePaths {
		named[filepath.Clean(p)] = true
	}
	terms := tokenize(task)
	boosts := graphBoosts(files, named)

	var ranked []RankedFile
	for _, file := range files {
		score, reason := scoreFile(file, named, terms)
		if boost := boosts[filepath.Clean(file.Path)]; boost > 0 {
			score += boost
			if reason == "" {
				reason = "shares declarations with a requested file"
			}
		}
		if score <= 0 {
			continue
		}
		ranked = append(ranked, RankedFile{
			Path:    file.Path,
			Reason:  reason,
			Summary: clip(file.Summary, summaryLimit),
			Score:   score,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Path < ranked[j].Path
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// relatedBoost is the score a file earns for sharing a declaration
// with an explicitly named file. Below a path term match, above a body
// match, and enough on its own to surface the file.
const relatedBoost = 1.5

// graphBoosts builds the file and symbol graph over the index and
// scores every file reachable within two hops of a named file: one hop
// to a shared declaration, one hop back out to the file declaring it.
func graphBoosts(files []IndexedFile, named map[string]bool) map[string]float64 {
	if len(named) == 0 {
		return nil
	}
	g := graph.NewSemantic()
	for _, file := range files {
		path := filepath.Clean(file.Path)
		_ = g.AddNode(graph.Node{ID: path, Kind: graph.NodeFile, File: path})
		for _, symbol := range file.Symbols {
			symbolID := "sym:" + symbol
			_ = g.AddNode(graph.Node{ID: symbolID, Kind: graph.NodeFunction, Name: symbol})
			_ = g.AddEdge(graph.Edge{From: path, To: symbolID, Kind: graph.EdgeContains})
		}
	}

	boosts := make(map[string]float64)
	for path := range named {
		for _, rel := range g.FindRelatedNodes(path, 2) {
			if rel.Node.Kind != graph.NodeFile || named[rel.Node.ID] {
				continue
			}
			if boost := relatedBoost * rel.Weight; boost > boosts[rel.Node.ID] {
				boosts[rel.Node.ID] = boost
			}
		}
	}
	return boosts
}

func scoreFile(file IndexedFile, named map[string]bool, terms []string) (float64, string) {
	var score float64
	var reason string
	if named[filepath.Clean(file.Path)] {
		score += 3
		reason = "named in the request"
	}
	haystackPath := strings.ToLower(file.Path)
	haystackBody := strings.ToLower(file.Summary + " " + strings.Join(file.Symbols, " "))
	var matched []string
	for _, term := range terms {
		switch {
		case strings.Contains(haystackPath, term):
			score += 2
			matched = append(matched, term)
		case strings.Contains(haystackBody, term):
			score++
			matched = append(matched, term)
		}
	}
	if reason == "" && len(matched) > 0 {
		reason = "matches " + strings.Join(matched, ", ")
	}
	return score, reason
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

var termRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// tokenize lowercases and splits text into search terms, dropping short
// noise words.
func tokenize(text string) []string {
	var terms []string
	seen := make(map[string]bool)
	for _, raw := range termRe.FindAllString(text, -1) {
		term := strings.ToLower(raw)
		if len(term) < 3 || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}
	return terms
}
