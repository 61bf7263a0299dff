package main

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoder/internal/memory/vector"
	"codecoder/internal/storage"
)

func buildTestContainer(t *testing.T) *Container {
	t.Helper()
	t.Setenv("CODECODER_DATA_ROOT", t.TempDir())
	t.Setenv("CODECODER_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")

	console := newConsole(strings.NewReader(""), io.Discard, false)
	container, err := buildContainer(t.TempDir(), console)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, container.Cleanup()) })
	return container
}

func TestBuildContainerComposesEverything(t *testing.T) {
	container := buildTestContainer(t)

	require.NotNil(t, container.Runtime)
	require.NotNil(t, container.Permissions)
	require.NotNil(t, container.Sessions)
	require.NotNil(t, container.Memory)
	require.NotNil(t, container.Causal)
	assert.NotEmpty(t, container.Paths.ProjectID())

	names := make(map[string]bool)
	for _, def := range container.Tools.List() {
		names[def.Name] = true
	}
	for _, want := range []string{"read", "write", "edit", "bash", "grep", "glob", "list", "webfetch", "websearch", "codesearch", "todoread", "todowrite", "question", "task"} {
		assert.True(t, names[want], "tool %s missing", want)
	}
}

func TestContainerSessionRoundTrip(t *testing.T) {
	container := buildTestContainer(t)
	ctx := context.Background()

	sess, err := container.Sessions.Create(ctx, container.Paths.ProjectID())
	require.NoError(t, err)

	listed, err := container.Sessions.List(ctx, container.Paths.ProjectID())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, sess.ID, listed[0].ID)
}

func TestVectorSearcherAdaptsHits(t *testing.T) {
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	index, err := vector.Open(vector.Config{Store: db})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = index.Index(ctx, vector.Embedding{
		Text: "func ParseConfig(path string) (*Config, error)",
		File: "internal/config/load.go",
		Line: 42,
	})
	require.NoError(t, err)

	searcher := &vectorSearcher{index: index}
	matches, err := searcher.SearchCode(ctx, "ParseConfig path", 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "internal/config/load.go", matches[0].Path)
	assert.Equal(t, 42, matches[0].Line)
	assert.Contains(t, matches[0].Snippet, "ParseConfig")
}
