package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"codecoder/internal/storage"
)

type stubDecisions struct {
	rows []DecisionSummary
	err  error
}

func (s *stubDecisions) RecentDecisions(_ context.Context, limit int) ([]DecisionSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.rows) > limit {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func newTestBuilder(t *testing.T, decisions DecisionSource) (*Builder, *storage.Store, *Markdown) {
	t.Helper()
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	md := NewMarkdown(t.TempDir())
	builder := NewBuilder(BuilderDeps{
		Fingerprint: "codecoder @ /w",
		Style:       NewStyleLearner(store),
		Patterns:    NewPatternStore(store),
		Knowledge:   NewKnowledge(store),
		Index:       NewCodeIndex(store),
		Edits:       NewEditLog(store),
		Decisions:   decisions,
		Markdown:    md,
	})
	return builder, store, md
}

func TestBuildAssemblesSections(t *testing.T) {
	decisions := &stubDecisions{rows: []DecisionSummary{{Title: "use badger", Type: "tool_execution"}}}
	builder, store, md := newTestBuilder(t, decisions)
	ctx := context.Background()

	patterns := NewPatternStore(store)
	require.NoError(t, patterns.EnsureSeeded(ctx))
	knowledge := NewKnowledge(store)
	_, err := knowledge.Upsert(ctx, KnowledgeEntry{Kind: KnowledgeEndpoint, Name: "GET /x"})
	require.NoError(t, err)
	index := NewCodeIndex(store)
	require.NoError(t, index.Index(ctx, IndexedFile{Path: "auth/login.go", Summary: "login flow"}))
	edits := NewEditLog(store)
	_, err = edits.Append(ctx, EditRecord{
		SessionID: "s1",
		Time:      time.Now().Add(-10 * time.Minute),
		Files:     []EditFile{{Path: "auth/login.go", Op: EditUpdate}},
	})
	require.NoError(t, err)
	require.NoError(t, md.MergeCategory("decision", "badger over sqlite"))
	_, err = md.AppendDaily("note", "wired the router", time.Now())
	require.NoError(t, err)

	built := builder.Build(ctx, ContextOptions{Task: "login bug"})
	require.NotNil(t, built)
	require.Empty(t, built.Warnings)

	require.Equal(t, "codecoder @ /w", built.Technical.Fingerprint)
	require.Equal(t, 1, built.Technical.Knowledge.Endpoints)
	require.Len(t, built.Technical.Patterns, 5, "patterns are capped")
	require.NotEmpty(t, built.Technical.Files)
	require.Equal(t, "auth/login.go", built.Technical.Files[0].Path)
	require.Len(t, built.Technical.Edits, 1)
	require.InDelta(t, 10, built.Technical.Edits[0].MinutesAgo, 1)
	require.Equal(t, []DecisionSummary{{Title: "use badger", Type: "tool_execution"}}, built.Technical.Decisions)

	require.Contains(t, built.Markdown.LongTerm, "badger over sqlite")
	require.Contains(t, built.Markdown.Daily, "wired the router")

	require.Contains(t, built.Formatted, "# Project Context")
	require.Contains(t, built.Formatted, "## Relevant Files")
	require.Contains(t, built.Formatted, "## Recent Decisions")
}

func TestBuildCachesWithinTTL(t *testing.T) {
	builder, _, md := newTestBuilder(t, nil)
	ctx := context.Background()

	first := builder.Build(ctx, ContextOptions{Task: "t"})
	require.NoError(t, md.MergeCategory("lesson", "cache me if you can"))

	second := builder.Build(ctx, ContextOptions{Task: "t"})
	require.Same(t, first, second, "same options within the TTL hit the slot")

	third := builder.Build(ctx, ContextOptions{Task: "t", SkipCache: true})
	require.NotSame(t, first, third)
	require.Contains(t, third.Markdown.LongTerm, "cache me if you can")
}

func TestBuildDifferentOptionsMissCache(t *testing.T) {
	builder, _, _ := newTestBuilder(t, nil)
	ctx := context.Background()

	first := builder.Build(ctx, ContextOptions{Task: "a"})
	second := builder.Build(ctx, ContextOptions{Task: "b"})
	require.NotSame(t, first, second)

	// The slot now holds the latest build.
	third := builder.Build(ctx, ContextOptions{Task: "b"})
	require.Same(t, second, third)
}

func TestInvalidateClearsSlot(t *testing.T) {
	builder, _, md := newTestBuilder(t, nil)
	ctx := context.Background()

	first := builder.Build(ctx, ContextOptions{Task: "t"})
	require.NoError(t, md.MergeCategory("preference", "double quotes"))
	builder.Invalidate()

	second := builder.Build(ctx, ContextOptions{Task: "t"})
	require.NotSame(t, first, second)
	require.Contains(t, second.Markdown.LongTerm, "double quotes")
}

func TestBuildDegradesGracefully(t *testing.T) {
	decisions := &stubDecisions{err: errors.New("graph offline")}
	builder, _, _ := newTestBuilder(t, decisions)

	built := builder.Build(context.Background(), ContextOptions{Task: "t"})
	require.NotNil(t, built)
	require.NotEmpty(t, built.Warnings)
	require.Contains(t, built.Warnings[0], "decisions unavailable")
	require.Empty(t, built.Technical.Decisions)
	require.NotEmpty(t, built.Formatted)
}

func TestOptionsHashOrderIndependent(t *testing.T) {
	a := optionsHash(ContextOptions{Task: "t", FilePaths: []string{"b.go", "a.go"}, IncludeDays: 3})
	b := optionsHash(ContextOptions{Task: "t", FilePaths: []string{"a.go", "b.go"}, IncludeDays: 3})
	require.Equal(t, a, b)

	c := optionsHash(ContextOptions{Task: "t", FilePaths: []string{"a.go"}, IncludeDays: 3})
	require.NotEqual(t, a, c)
}
