package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"codecoder/internal/logging"
)

// ContextOptions select what goes into a built context.
type ContextOptions struct {
	Task        string
	FilePaths   []string
	IncludeDays int
	SkipCache   bool
}

// Section caps for the technical snapshot.
const (
	maxContextPatterns = 5
	maxContextFiles    = 10
	maxRecentEdits     = 5
	maxRecentDecisions = 5
	defaultIncludeDays = 3
	contextCacheTTL    = 30 * time.Second
)

// RecentEdit is one row of the recent-edits section.
type RecentEdit struct {
	File       string `json:"file"`
	MinutesAgo int    `json:"minutesAgo"`
}

// DecisionSummary is one row of the recent-decisions section.
type DecisionSummary struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// DecisionSource supplies recent decisions; the causal store implements
// it.
type DecisionSource interface {
	RecentDecisions(ctx context.Context, limit int) ([]DecisionSummary, error)
}

// TechnicalContext is the structured half of a built context.
type TechnicalContext struct {
	Fingerprint string            `json:"fingerprint"`
	Style       string            `json:"style,omitempty"`
	Patterns    []Pattern         `json:"patterns,omitempty"`
	Knowledge   KnowledgeCounts   `json:"knowledge"`
	Files       []RankedFile      `json:"files,omitempty"`
	Edits       []RecentEdit      `json:"edits,omitempty"`
	Decisions   []DecisionSummary `json:"decisions,omitempty"`
}

// MarkdownContext is the note half of a built context.
type MarkdownContext struct {
	LongTerm string `json:"longTerm,omitempty"`
	Daily    string `json:"daily,omitempty"`
}

// Context is the per-turn memory snapshot.
type Context struct {
	Technical TechnicalContext `json:"technical"`
	Markdown  MarkdownContext  `json:"markdown"`
	Formatted string           `json:"formatted"`
	Warnings  []string         `json:"warnings,omitempty"`
	BuiltAt   time.Time        `json:"builtAt"`
}

// Builder assembles the context snapshot from every memory subsystem.
// A failed sub-fetch degrades to an empty section with a warning; Build
// never fails outright. One cache slot holds the last build for 30s,
// keyed by the options hash; the router invalidates it on relevant
// writes.
type Builder struct {
	fingerprint string
	style       *StyleLearner
	patterns    *PatternStore
	knowledge   *Knowledge
	index       *CodeIndex
	edits       *EditLog
	decisions   DecisionSource
	markdown    *Markdown
	logger      logging.Logger

	mu       sync.Mutex
	cached   *Context
	cacheKey string
	cachedAt time.Time
}

// BuilderDeps carries the builder's store handles.
type BuilderDeps struct {
	Fingerprint string
	Style       *StyleLearner
	Patterns    *PatternStore
	Knowledge   *Knowledge
	Index       *CodeIndex
	Edits       *EditLog
	Decisions   DecisionSource
	Markdown    *Markdown
	Logger      logging.Logger
}

// NewBuilder wires a context builder.
func NewBuilder(deps BuilderDeps) *Builder {
	return &Builder{
		fingerprint: deps.Fingerprint,
		style:       deps.Style,
		patterns:    deps.Patterns,
		knowledge:   deps.Knowledge,
		index:       deps.Index,
		edits:       deps.Edits,
		decisions:   deps.Decisions,
		markdown:    deps.Markdown,
		logger:      deps.Logger,
	}
}

// Invalidate clears the cache slot.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.cacheKey = ""
	b.mu.Unlock()
}

// Build returns the context for the options, from cache when fresh.
func (b *Builder) Build(ctx context.Context, opts ContextOptions) *Context {
	if opts.IncludeDays <= 0 {
		opts.IncludeDays = defaultIncludeDays
	}
	key := optionsHash(opts)

	if !opts.SkipCache {
		b.mu.Lock()
		if b.cached != nil && b.cacheKey == key && time.Since(b.cachedAt) < contextCacheTTL {
			cached := b.cached
			b.mu.Unlock()
			return cached
		}
		b.mu.Unlock()
	}

	built := b.build(ctx, opts)

	b.mu.Lock()
	b.cached = built
	b.cacheKey = key
	b.cachedAt = built.BuiltAt
	b.mu.Unlock()
	return built
}

func (b *Builder) build(ctx context.Context, opts ContextOptions) *Context {
	out := &Context{BuiltAt: time.Now()}
	out.Technical.Fingerprint = b.fingerprint

	warn := func(section string, err error) {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s unavailable: %v", section, err))
		if b.logger != nil {
			b.logger.Warn("context %s unavailable: %v", section, err)
		}
	}

	if b.style != nil {
		out.Technical.Style = b.style.Summary(ctx)
	}
	if b.patterns != nil {
		patterns, err := b.patterns.Top(ctx, maxContextPatterns)
		if err != nil {
			warn("patterns", err)
		} else {
			out.Technical.Patterns = patterns
		}
	}
	if b.knowledge != nil {
		counts, err := b.knowledge.Counts(ctx)
		if err != nil {
			warn("knowledge", err)
		} else {
			out.Technical.Knowledge = counts
		}
	}
	if b.index != nil {
		files, err := b.index.Rank(ctx, opts.Task, opts.FilePaths, maxContextFiles)
		if err != nil {
			warn("files", err)
		} else {
			out.Technical.Files = files
		}
	}
	if b.edits != nil {
		records, err := b.edits.Recent(ctx, maxRecentEdits)
		if err != nil {
			warn("edits", err)
		} else {
			now := time.Now()
			for _, record := range records {
				file := ""
				if len(record.Files) > 0 {
					file = record.Files[0].Path
				}
				out.Technical.Edits = append(out.Technical.Edits, RecentEdit{
					File:       file,
					MinutesAgo: int(now.Sub(record.Time).Minutes()),
				})
			}
		}
	}
	if b.decisions != nil {
		decisions, err := b.decisions.RecentDecisions(ctx, maxRecentDecisions)
		if err != nil {
			warn("decisions", err)
		} else {
			out.Technical.Decisions = decisions
		}
	}
	if b.markdown != nil {
		longTerm, err := b.markdown.LongTerm()
		if err != nil {
			warn("long-term notes", err)
		} else {
			out.Markdown.LongTerm = longTerm
		}
		daily, err := b.markdown.RecentDaily(opts.IncludeDays)
		if err != nil {
			warn("daily notes", err)
		} else {
			out.Markdown.Daily = daily
		}
	}

	out.Formatted = formatContext(out)
	return out
}

// optionsHash is the cache key: task, sorted file paths, include days.
func optionsHash(opts ContextOptions) string {
	paths := append([]string(nil), opts.FilePaths...)
	sort.Strings(paths)
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", opts.Task, strings.Join(paths, "\x00"), opts.IncludeDays)
	return hex.EncodeToString(h.Sum(nil))
}

func formatContext(c *Context) string {
	var out strings.Builder
	out.WriteString("# Project Context\n")
	if c.Technical.Fingerprint != "" {
		out.WriteString("\nProject: " + c.Technical.Fingerprint + "\n")
	}
	if c.Technical.Style != "" {
		out.WriteString("Code style: " + c.Technical.Style + "\n")
	}
	if counts := c.Technical.Knowledge; counts.Total() > 0 {
		out.WriteString(fmt.Sprintf("Known: %d endpoints, %d components, %d data models, %d notes\n",
			counts.Endpoints, counts.Components, counts.Models, counts.Notes))
	}
	if len(c.Technical.Patterns) > 0 {
		out.WriteString("\n## Patterns\n")
		for _, p := range c.Technical.Patterns {
			out.WriteString(fmt.Sprintf("- %s (%s, seen %d times)\n", p.Name, p.Category, p.Frequency))
		}
	}
	if len(c.Technical.Files) > 0 {
		out.WriteString("\n## Relevant Files\n")
		for _, f := range c.Technical.Files {
			line := "- " + f.Path
			if f.Reason != "" {
				line += " — " + f.Reason
			}
			if f.Summary != "" {
				line += ": " + f.Summary
			}
			out.WriteString(line + "\n")
		}
	}
	if len(c.Technical.Edits) > 0 {
		out.WriteString("\n## Recent Edits\n")
		for _, e := range c.Technical.Edits {
			out.WriteString(fmt.Sprintf("- %s (%dm ago)\n", e.File, e.MinutesAgo))
		}
	}
	if len(c.Technical.Decisions) > 0 {
		out.WriteString("\n## Recent Decisions\n")
		for _, d := range c.Technical.Decisions {
			out.WriteString(fmt.Sprintf("- %s (%s)\n", d.Title, d.Type))
		}
	}
	if c.Markdown.LongTerm != "" {
		out.WriteString("\n## Notes\n" + c.Markdown.LongTerm + "\n")
	}
	if c.Markdown.Daily != "" {
		out.WriteString("\n## Recent Daily Notes\n" + c.Markdown.Daily + "\n")
	}
	return out.String()
}
