package causal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyTool(t *testing.T) {
	cases := map[string]ActionType{
		"write":              ActionFileOperation,
		"Edit":               ActionFileOperation,
		"read":               ActionFileOperation,
		"grep":               ActionSearch,
		"glob":               ActionSearch,
		"websearch":          ActionSearch,
		"codesearch":         ActionSearch,
		"bash":               ActionToolExecution,
		"mcp__github_create": ActionToolExecution,
		"webfetch":           ActionAPICall,
		"codereview":         ActionCodeChange,
		"lint_runner":        ActionCodeChange,
		"formatter":          ActionCodeChange,
		"question":           ActionOther,
	}
	for tool, want := range cases {
		require.Equal(t, want, ClassifyTool(tool), "tool %q", tool)
	}
}

func TestDescribeCall(t *testing.T) {
	desc := describeCall("edit", map[string]any{"file_path": "/repo/internal/auth/login.go"})
	require.Equal(t, "edit auth/login.go", desc)

	long := strings.Repeat("x", 80)
	desc = describeCall("bash", map[string]any{"command": long})
	require.True(t, strings.HasPrefix(desc, "bash: "))
	require.True(t, strings.HasSuffix(desc, "..."))
	require.LessOrEqual(t, len(desc), len("bash: ")+50)

	desc = describeCall("grep", map[string]any{"pattern": "func main"})
	require.Equal(t, "grep: func main", desc)

	require.Equal(t, "question", describeCall("question", nil))
}

func TestRecorderFlow(t *testing.T) {
	ctx := context.Background()
	recorder := NewRecorder(newTestStore(t))

	// Actions before any decision have nothing to attach to.
	_, err := recorder.RecordAction(ctx, "s1", "edit", nil, "", 0)
	require.Error(t, err)

	decision, err := recorder.RecordDecision(ctx, "s1", "build", "wire the cache", "cache misses dominate", 0.9)
	require.NoError(t, err)
	active, ok := recorder.ActiveDecision("s1")
	require.True(t, ok)
	require.Equal(t, decision.ID, active)

	action, err := recorder.RecordAction(ctx, "s1", "edit", map[string]any{"file_path": "/repo/internal/cache/lru.go"}, "ok", 120*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, ActionFileOperation, action.Type)
	require.Equal(t, "edit cache/lru.go", action.Description)
	require.Contains(t, action.Input, "file_path")

	outcome, err := recorder.RecordOutcome(ctx, action.ID, StatusSuccess, strings.Repeat("pass ", 60), map[string]float64{"tests": 12})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, outcome.Status)
	require.LessOrEqual(t, len(outcome.Description), 200)

	recorder.EndSession("s1")
	_, ok = recorder.ActiveDecision("s1")
	require.False(t, ok)
	_, err = recorder.RecordAction(ctx, "s1", "edit", nil, "", 0)
	require.Error(t, err)
}
