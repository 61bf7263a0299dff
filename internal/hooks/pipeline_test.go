package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoder/internal/bus"
	"codecoder/internal/logging"
)

func writeHookFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "hooks.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanBlocksSensitivePattern(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"block-secrets": {
					"pattern": "edit",
					"actions": [
						{"type": "scan",
						 "patterns": ["sk_live_[a-zA-Z0-9]+"],
						 "message": "Sensitive pattern detected: {match}",
						 "block": true}
					]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())
	result := p.Evaluate(context.Background(), Input{
		Event:    PreToolUse,
		ToolName: "edit",
		Content:  `API_KEY = "sk_live_abcdefghij1234567890"`,
	})

	require.True(t, result.Blocked)
	assert.Equal(t, "block-secrets", result.HookName)
	assert.Equal(t, "Sensitive pattern detected: sk_live_abcdefghij1234567890", result.Message)
}

func TestNonMatchingToolPasses(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"block-secrets": {
					"pattern": "^edit$",
					"actions": [{"type": "scan", "patterns": ["secret"], "block": true}]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())
	result := p.Evaluate(context.Background(), Input{
		Event:    PreToolUse,
		ToolName: "read",
		Content:  "secret",
	})
	assert.False(t, result.Blocked)
}

func TestFilePatternRestrictsMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"env-guard": {
					"pattern": "edit|write",
					"file_pattern": "\\.env$",
					"actions": [{"type": "scan", "patterns": ["."], "message": "no env edits", "block": true}]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())

	blocked := p.Evaluate(context.Background(), Input{
		Event: PreToolUse, ToolName: "edit", FilePath: "config/.env", Content: "X=1",
	})
	require.True(t, blocked.Blocked)

	passed := p.Evaluate(context.Background(), Input{
		Event: PreToolUse, ToolName: "edit", FilePath: "main.go", Content: "X=1",
	})
	assert.False(t, passed.Blocked)
}

func TestFirstBlockWinsInDeclaredOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PostToolUse": {
				"second-block": {
					"pattern": "bash",
					"actions": [{"type": "scan", "patterns": ["zzz-never"], "message": "never", "block": true}]
				},
				"first-block": {
					"pattern": "bash",
					"actions": [
						{"type": "notify_only", "message": "heads up"},
						{"type": "scan", "patterns": ["warning"], "message": "saw {match}", "block": true}
					]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	events := bus.New()
	sub := events.Subscribe(8)
	defer sub.Close()

	p := NewPipeline([]string{path}, events, logging.Nop())
	result := p.Evaluate(context.Background(), Input{
		Event: PostToolUse, ToolName: "bash", Content: "warning: build failed",
	})

	require.True(t, result.Blocked)
	// "second-block" is declared first and did not match; "first-block"
	// blocked. JSON declaration order decides, not lexical order.
	assert.Equal(t, "first-block", result.HookName)
	assert.Equal(t, "saw warning", result.Message)

	select {
	case event := <-sub.Events():
		assert.Equal(t, bus.EventHookNotification, event.Type)
	case <-time.After(time.Second):
		t.Fatal("notify_only action did not publish")
	}
}

func TestCheckEnvBlocksWhenUnset(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"require-token": {
					"pattern": "bash",
					"actions": [{
						"type": "check_env",
						"variable": "DEPLOY_TOKEN",
						"command_pattern": "deploy",
						"message": "DEPLOY_TOKEN must be set before deploying",
						"block": true
					}]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop()).
		WithEnvLookup(func(string) (string, bool) { return "", false })

	result := p.Evaluate(context.Background(), Input{
		Event: PreToolUse, ToolName: "bash", Command: "make deploy",
	})
	require.True(t, result.Blocked)
	assert.Equal(t, "DEPLOY_TOKEN must be set before deploying", result.Message)

	// Other commands are unaffected.
	other := p.Evaluate(context.Background(), Input{
		Event: PreToolUse, ToolName: "bash", Command: "ls -la",
	})
	assert.False(t, other.Blocked)

	// A set variable disables the check entirely.
	withVar := NewPipeline([]string{path}, nil, logging.Nop()).
		WithEnvLookup(func(string) (string, bool) { return "tok", true })
	allowed := withVar.Evaluate(context.Background(), Input{
		Event: PreToolUse, ToolName: "bash", Command: "make deploy",
	})
	assert.False(t, allowed.Blocked)
}

func TestDisabledFileIsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"block-all": {
					"pattern": ".*",
					"actions": [{"type": "scan", "patterns": ["."], "block": true}]
				}
			}
		},
		"settings": {"enabled": false}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())
	result := p.Evaluate(context.Background(), Input{Event: PreToolUse, ToolName: "edit", Content: "anything"})
	assert.False(t, result.Blocked)
}

func TestMalformedFileIsSkippedOthersRun(t *testing.T) {
	brokenDir := t.TempDir()
	broken := writeHookFile(t, brokenDir, `{not json`)

	okDir := t.TempDir()
	ok := writeHookFile(t, okDir, `{
		"hooks": {
			"PreToolUse": {
				"good": {
					"pattern": "edit",
					"actions": [{"type": "scan", "patterns": ["bad"], "message": "blocked", "block": true}]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{broken, ok}, nil, logging.Nop())
	result := p.Evaluate(context.Background(), Input{Event: PreToolUse, ToolName: "edit", Content: "bad input"})
	require.True(t, result.Blocked)
	assert.Equal(t, "good", result.HookName)
}

func TestInvalidActionPatternIsNonBlocking(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"bad-regex": {
					"pattern": "edit",
					"actions": [{"type": "scan", "patterns": ["(["], "block": true}]
				}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())
	result := p.Evaluate(context.Background(), Input{Event: PreToolUse, ToolName: "edit", Content: "(["})
	assert.False(t, result.Blocked)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {
			"PreToolUse": {
				"a": {"pattern": "edit", "actions": [{"type": "scan", "patterns": ["x"], "message": "m: {match}", "block": true}]}
			}
		},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())
	in := Input{Event: PreToolUse, ToolName: "edit", Content: "x marks the spot"}
	first := p.Evaluate(context.Background(), in)
	second := p.Evaluate(context.Background(), in)
	assert.Equal(t, first, second)
}

func TestReloadOnDiskChange(t *testing.T) {
	dir := t.TempDir()
	path := writeHookFile(t, dir, `{
		"hooks": {},
		"settings": {"enabled": true}
	}`)

	p := NewPipeline([]string{path}, nil, logging.Nop())
	result := p.Evaluate(context.Background(), Input{Event: PreToolUse, ToolName: "edit", Content: "token"})
	require.False(t, result.Blocked)

	updated := `{
		"hooks": {
			"PreToolUse": {
				"fresh": {"pattern": "edit", "actions": [{"type": "scan", "patterns": ["token"], "message": "caught", "block": true}]}
			}
		},
		"settings": {"enabled": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	// Force a distinct mtime on filesystems with coarse timestamps.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	result = p.Evaluate(context.Background(), Input{Event: PreToolUse, ToolName: "edit", Content: "token"})
	require.True(t, result.Blocked)
	assert.Equal(t, "fresh", result.HookName)
}
