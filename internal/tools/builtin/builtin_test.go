package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoder/internal/logging"
	"codecoder/internal/storage"
	"codecoder/internal/tools"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Config{
		WorkDir: t.TempDir(),
		DB:      db,
		Logger:  logging.Nop(),
	}
}

func call(args map[string]any) tools.Call {
	return tools.Call{ID: "call-1", SessionID: "ses-1", Arguments: args}
}

func TestReadTool(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.WorkDir, "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644))

	tool := NewRead(cfg)
	result, err := tool.Execute(context.Background(), call(map[string]any{"file_path": "sample.txt"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content, "1\talpha")
	assert.Contains(t, result.Content, "3\tgamma")

	// Offset window.
	result, err = tool.Execute(context.Background(), call(map[string]any{
		"file_path": "sample.txt", "offset": float64(2), "limit": float64(1),
	}))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "beta")
	assert.NotContains(t, result.Content, "alpha")

	// Missing file reports in-band.
	result, err = tool.Execute(context.Background(), call(map[string]any{"file_path": "absent.txt"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWriteToolCreateAndUpdate(t *testing.T) {
	cfg := testConfig(t)
	tool := NewWrite(cfg)

	result, err := tool.Execute(context.Background(), call(map[string]any{
		"file_path": "dir/new.txt", "content": "one\ntwo\n",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Equal(t, "create", result.Metadata["op"])
	assert.Equal(t, 2, result.Metadata["additions"])

	result, err = tool.Execute(context.Background(), call(map[string]any{
		"file_path": "dir/new.txt", "content": "one\ntwo\nthree\n",
	}))
	require.NoError(t, err)
	assert.Equal(t, "update", result.Metadata["op"])

	data, err := os.ReadFile(filepath.Join(cfg.WorkDir, "dir/new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\n", string(data))
}

func TestEditTool(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(cfg.WorkDir, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("x := 1\ny := 2\n"), 0o644))

	tool := NewEdit(cfg)
	result, err := tool.Execute(context.Background(), call(map[string]any{
		"file_path": "code.go", "old_string": "y := 2", "new_string": "y := 3",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)
	assert.Equal(t, 1, result.Metadata["additions"])
	assert.Equal(t, 1, result.Metadata["deletions"])

	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "y := 3")

	// Not found.
	result, _ = tool.Execute(context.Background(), call(map[string]any{
		"file_path": "code.go", "old_string": "z := 9", "new_string": "z := 8",
	}))
	assert.True(t, result.IsError)

	// Ambiguous without replace_all.
	require.NoError(t, os.WriteFile(path, []byte("a\na\n"), 0o644))
	result, _ = tool.Execute(context.Background(), call(map[string]any{
		"file_path": "code.go", "old_string": "a", "new_string": "b",
	}))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "appears 2 times")

	result, _ = tool.Execute(context.Background(), call(map[string]any{
		"file_path": "code.go", "old_string": "a", "new_string": "b", "replace_all": true,
	}))
	assert.False(t, result.IsError)
	data, _ = os.ReadFile(path)
	assert.Equal(t, "b\nb\n", string(data))
}

func TestBashTool(t *testing.T) {
	cfg := testConfig(t)
	tool := NewBash(cfg, logging.Nop())

	result, err := tool.Execute(context.Background(), call(map[string]any{"command": "echo hello"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, 0, result.Metadata["exitCode"])

	result, err = tool.Execute(context.Background(), call(map[string]any{"command": "exit 3"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 3, result.Metadata["exitCode"])
}

func TestGlobTool(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.WorkDir, "pkg/sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkDir, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkDir, "pkg/sub/util.go"), []byte("package sub"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkDir, "notes.md"), []byte("# notes"), 0o644))

	tool := NewGlob(cfg)
	result, err := tool.Execute(context.Background(), call(map[string]any{"pattern": "**/*.go"}))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "main.go")
	assert.Contains(t, result.Content, "pkg/sub/util.go")
	assert.NotContains(t, result.Content, "notes.md")

	result, err = tool.Execute(context.Background(), call(map[string]any{"pattern": "*.rs"}))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "no files match")
}

func TestGrepTool(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkDir, "a.txt"), []byte("needle here\nplain line\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkDir, "b.txt"), []byte("no match\n"), 0o644))

	tool := NewGrep(cfg)
	result, err := tool.Execute(context.Background(), call(map[string]any{"pattern": "needle"}))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "a.txt:1:needle here")
	assert.NotContains(t, result.Content, "b.txt")

	result, err = tool.Execute(context.Background(), call(map[string]any{"pattern": "NEEDLE", "ignore_case": true}))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "a.txt:1")

	result, err = tool.Execute(context.Background(), call(map[string]any{"pattern": "absent"}))
	require.NoError(t, err)
	assert.Equal(t, "no matches found", result.Content)
}

func TestTodoRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	write := NewTodoWrite(cfg)
	read := NewTodoRead(cfg)

	result, err := read.Execute(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "empty")

	result, err = write.Execute(context.Background(), call(map[string]any{
		"todos": []any{
			map[string]any{"content": "write tests", "status": "in_progress"},
			map[string]any{"content": "ship it"},
		},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "2 open, 0 completed")

	result, err = read.Execute(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "[>] write tests")
	assert.Contains(t, result.Content, "[ ] ship it")

	// Unknown status is rejected.
	result, _ = write.Execute(context.Background(), call(map[string]any{
		"todos": []any{map[string]any{"content": "x", "status": "later"}},
	}))
	assert.True(t, result.IsError)
}

type fakePlan struct {
	entered, exited []string
}

func (f *fakePlan) EnterPlanMode(sessionID string) { f.entered = append(f.entered, sessionID) }
func (f *fakePlan) ExitPlanMode(sessionID string)  { f.exited = append(f.exited, sessionID) }

func TestPlanTools(t *testing.T) {
	cfg := testConfig(t)
	plan := &fakePlan{}
	cfg.Plan = plan

	enter := NewPlanEnter(cfg)
	exit := NewPlanExit(cfg)

	result, err := enter.Execute(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"ses-1"}, plan.entered)

	result, err = exit.Execute(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"ses-1"}, plan.exited)
}

func TestWebSearchTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "golang retry backoff", req["query"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"query":  req["query"],
			"answer": "Use exponential backoff.",
			"results": []map[string]any{
				{"title": "Backoff patterns", "url": "https://example.com/backoff", "content": "Explains retries.", "score": 0.9},
			},
		})
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.SearchAPIKey = "test-key"
	tool := NewWebSearch(cfg, logging.Nop()).(*webSearchTool)
	tool.endpoint = server.URL

	result, err := tool.Execute(context.Background(), call(map[string]any{"query": "golang retry backoff"}))
	require.NoError(t, err)
	require.False(t, result.IsError, result.Content)
	assert.Contains(t, result.Content, "Use exponential backoff.")
	assert.Contains(t, result.Content, "https://example.com/backoff")
}

func TestWebSearchWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	tool := NewWebSearch(cfg, logging.Nop())
	result, err := tool.Execute(context.Background(), call(map[string]any{"query": "anything"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "not configured")
}

type fakeSearcher struct{}

func (fakeSearcher) SearchCode(_ context.Context, _ string, _ int) ([]CodeMatch, error) {
	return []CodeMatch{{Path: "internal/retry.go", Line: 42, Snippet: "func backoff() {}", Similarity: 0.87}}, nil
}

func TestCodeSearchTool(t *testing.T) {
	cfg := testConfig(t)
	cfg.Searcher = fakeSearcher{}
	tool := NewCodeSearch(cfg)

	result, err := tool.Execute(context.Background(), call(map[string]any{"query": "retry logic"}))
	require.NoError(t, err)
	assert.Contains(t, result.Content, "internal/retry.go:42")

	// Without an index the tool degrades with a pointer to grep.
	cfg.Searcher = nil
	result, _ = NewCodeSearch(cfg).Execute(context.Background(), call(map[string]any{"query": "x"}))
	assert.True(t, result.IsError)
}

func TestExtractReadableText(t *testing.T) {
	html := `<html><head><title>Docs</title><script>evil()</script></head>
	<body><nav>menu</nav><h1>Guide</h1>
	<p>This paragraph is long enough to be considered real page content for extraction.</p>
	<ul><li>first item</li><li>second item</li></ul></body></html>`

	text, err := extractReadableText(html)
	require.NoError(t, err)
	assert.Contains(t, text, "# Docs")
	assert.Contains(t, text, "# Guide")
	assert.Contains(t, text, "real page content")
	assert.Contains(t, text, "- first item")
	assert.NotContains(t, text, "evil")
	assert.NotContains(t, text, "menu")
}

func TestWebFetchCachesResponses(t *testing.T) {
	hits := 0
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte(`<html><head><title>Page</title></head><body><p>` +
			`A paragraph long enough to survive readable-text extraction filters.</p></body></html>`))
	}))
	defer server.Close()

	cfg := testConfig(t)
	cfg.HTTPClient = server.Client()
	tool := NewWebFetch(cfg, logging.Nop())

	first, err := tool.Execute(context.Background(), call(map[string]any{"url": server.URL}))
	require.NoError(t, err)
	require.False(t, first.IsError, first.Content)
	assert.Contains(t, first.Content, "# Page")
	assert.Equal(t, false, first.Metadata["cached"])

	second, err := tool.Execute(context.Background(), call(map[string]any{"url": server.URL}))
	require.NoError(t, err)
	assert.Equal(t, true, second.Metadata["cached"])
	assert.Equal(t, 1, hits)
}

func TestResolvePathRejectsEmptyAndHome(t *testing.T) {
	_, err := resolvePath("/work", "")
	assert.Error(t, err)
	_, err = resolvePath("/work", "~/secrets")
	assert.Error(t, err)

	p, err := resolvePath("/work", "sub/../file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/work/file.txt", p)
}

var _ = strings.TrimSpace
