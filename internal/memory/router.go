package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"codecoder/internal/logging"
)

// EntryType routes a write to the right stores.
type EntryType string

const (
	TypePreference EntryType = "preference"
	TypeDecision   EntryType = "decision"
	TypeLesson     EntryType = "lesson"
	TypeContext    EntryType = "context"
	TypeDaily      EntryType = "daily"
	TypePattern    EntryType = "pattern"
)

// WriteEntry is one unit of memory to persist. Pattern-typed entries use
// the Category/Name/Template/File fields; everything else uses Title and
// Content.
type WriteEntry struct {
	Type    EntryType `json:"type"`
	Title   string    `json:"title,omitempty"`
	Content string    `json:"content,omitempty"`
	Tags    []string  `json:"tags,omitempty"`

	Category string `json:"category,omitempty"`
	Name     string `json:"name,omitempty"`
	Template string `json:"template,omitempty"`
	File     string `json:"file,omitempty"`
}

// WriteResult reports the outcome for one entry of a batch.
type WriteResult struct {
	Entry WriteEntry `json:"entry"`
	Key   string     `json:"key,omitempty"`
	Err   error      `json:"-"`
}

// routedValue is what lands in the key-value store for non-pattern
// entries.
type routedValue struct {
	Type    EntryType `json:"type"`
	Title   string    `json:"title,omitempty"`
	Content string    `json:"content"`
	Written time.Time `json:"written"`
}

// Router is the single public write entry for memory. Every write lands
// in all stores appropriate for its type, and context caches are
// invalidated when the write could change a built context.
type Router struct {
	kv         *KV
	markdown   *Markdown
	patterns   *PatternStore
	invalidate func()
	logger     logging.Logger
}

// NewRouter wires the router over its destination stores.
func NewRouter(kv *KV, markdown *Markdown, patterns *PatternStore, logger logging.Logger) *Router {
	return &Router{kv: kv, markdown: markdown, patterns: patterns, logger: logger}
}

// SetInvalidator attaches the context-cache invalidation hook.
func (r *Router) SetInvalidator(fn func()) { r.invalidate = fn }

// Write persists a batch. Entries resolve independently: one failure
// never blocks the rest, and each result carries its own error.
func (r *Router) Write(ctx context.Context, entries ...WriteEntry) []WriteResult {
	results := make([]WriteResult, 0, len(entries))
	for _, entry := range entries {
		result := WriteResult{Entry: entry}
		result.Key, result.Err = r.writeOne(ctx, entry)
		if result.Err != nil && r.logger != nil {
			r.logger.Warn("memory write %s failed: %v", entry.Type, result.Err)
		}
		results = append(results, result)
	}
	return results
}

func (r *Router) writeOne(ctx context.Context, entry WriteEntry) (string, error) {
	switch entry.Type {
	case TypePreference, TypeDecision, TypeLesson, TypeContext:
		return r.writeLongTerm(ctx, entry)
	case TypeDaily:
		return r.writeDaily(ctx, entry)
	case TypePattern:
		return "", r.patterns.Record(ctx, entry.Category, entry.Name, entry.Template, entry.File)
	default:
		return "", fmt.Errorf("memory: unknown entry type %q", entry.Type)
	}
}

func (r *Router) writeLongTerm(ctx context.Context, entry WriteEntry) (string, error) {
	content := composeContent(entry)
	if content == "" {
		return "", fmt.Errorf("memory: content is required")
	}
	if err := r.markdown.MergeCategory(string(entry.Type), content); err != nil {
		return "", err
	}
	key := entryKey(entry.Type, content)
	if err := r.kv.Put(ctx, key, routedValue{
		Type:    entry.Type,
		Title:   entry.Title,
		Content: entry.Content,
		Written: time.Now(),
	}, entry.Tags...); err != nil {
		return key, err
	}
	if r.invalidate != nil {
		r.invalidate()
	}
	return key, nil
}

func (r *Router) writeDaily(ctx context.Context, entry WriteEntry) (string, error) {
	if _, err := r.markdown.AppendDaily(entry.Title, entry.Content, time.Time{}); err != nil {
		return "", err
	}
	key := entryKey(entry.Type, composeContent(entry))
	return key, r.kv.Put(ctx, key, routedValue{
		Type:    entry.Type,
		Title:   entry.Title,
		Content: entry.Content,
		Written: time.Now(),
	}, entry.Tags...)
}

// composeContent folds the title into the stored line so MEMORY.md
// bullets read on their own.
func composeContent(entry WriteEntry) string {
	title := strings.TrimSpace(entry.Title)
	content := strings.TrimSpace(entry.Content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	default:
		return title + ": " + content
	}
}

// entryKey derives a stable key so rewriting identical content upserts
// instead of accumulating duplicates.
func entryKey(t EntryType, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s/%x", t, sum[:8])
}
