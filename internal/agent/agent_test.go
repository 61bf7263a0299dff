package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"codecoder/internal/config"
	"codecoder/internal/permission"
)

func newTestRegistry(t *testing.T, cfg *config.Config) *Registry {
	t.Helper()
	r, err := NewRegistry(Options{
		Config:        cfg,
		Worktree:      t.TempDir(),
		TruncationDir: ".ccode/truncated",
		PlansDir:      ".ccode/plans",
	})
	require.NoError(t, err)
	return r
}

func TestBuiltinsResolve(t *testing.T) {
	r := newTestRegistry(t, nil)

	for _, name := range []string{"build", "plan", "explore", "code-reviewer", "compaction", "title", "summary"} {
		info, err := r.Get(name)
		require.NoError(t, err, name)
		require.Equal(t, name, info.Name)
		require.NotEmpty(t, info.Prompt, name)
		require.NotNil(t, info.Ruleset, "every agent carries a compiled ruleset")
	}

	require.Equal(t, "build", r.Default().Name)
}

func TestHiddenAgentsNotListed(t *testing.T) {
	r := newTestRegistry(t, nil)

	for _, info := range r.List() {
		require.False(t, info.Hidden, "%s should not be listed", info.Name)
	}
	require.True(t, r.Has("title"), "hidden agents remain resolvable")
}

func TestDisableRemovesAgent(t *testing.T) {
	cfg := &config.Config{Agent: map[string]config.AgentConfig{
		"code-reviewer": {Disable: true},
	}}
	r := newTestRegistry(t, cfg)

	_, err := r.Get("code-reviewer")
	require.ErrorIs(t, err, ErrAgentNotFound)
}

func TestUserConfigMergesFields(t *testing.T) {
	temp := 0.1
	cfg := &config.Config{Agent: map[string]config.AgentConfig{
		"build": {
			Prompt:      "custom prompt",
			Model:       "claude-opus-4-1",
			Temperature: &temp,
		},
	}}
	r := newTestRegistry(t, cfg)

	info, err := r.Get("build")
	require.NoError(t, err)
	require.Equal(t, "custom prompt", info.Prompt)
	require.Equal(t, "claude-opus-4-1", info.Model)
	require.NotNil(t, info.Temperature)
	require.InDelta(t, 0.1, *info.Temperature, 1e-9)
	require.Equal(t, Mode(ModePrimary), info.Mode, "unset fields keep builtin values")
}

func TestUserOnlyAgentDefaults(t *testing.T) {
	cfg := &config.Config{Agent: map[string]config.AgentConfig{
		"docs-writer": {Description: "writes docs", Prompt: "write docs"},
	}}
	r := newTestRegistry(t, cfg)

	info, err := r.Get("docs-writer")
	require.NoError(t, err)
	require.Equal(t, ModeAll, info.Mode)
	require.False(t, info.Native)
	require.NotNil(t, info.Ruleset)
}

func TestDefaultAgentConfigured(t *testing.T) {
	cfg := &config.Config{
		DefaultAgent: "plan",
	}
	r := newTestRegistry(t, cfg)
	require.Equal(t, "plan", r.Default().Name)
}

func TestDefaultAgentUnknownFails(t *testing.T) {
	cfg := &config.Config{DefaultAgent: "nonexistent"}
	_, err := NewRegistry(Options{Config: cfg, Worktree: t.TempDir()})
	require.ErrorIs(t, err, ErrDefaultAgentNotFound)
}

func TestDefaultAgentNonPrimaryFails(t *testing.T) {
	cfg := &config.Config{DefaultAgent: "explore"}
	_, err := NewRegistry(Options{Config: cfg, Worktree: t.TempDir()})
	require.ErrorIs(t, err, ErrDefaultAgentNotFound)
}

func TestDisabledBuiltinDefaultFallsBack(t *testing.T) {
	cfg := &config.Config{
		DefaultAgent: "build",
		Agent: map[string]config.AgentConfig{
			"build": {Disable: true},
		},
	}
	r := newTestRegistry(t, cfg)
	require.Equal(t, "plan", r.Default().Name, "auto-detect picks the remaining visible primary")
}

func TestPlanAgentDeniesEdits(t *testing.T) {
	r := newTestRegistry(t, nil)
	info, err := r.Get("plan")
	require.NoError(t, err)

	require.True(t, info.Ruleset.PlanMode())
	require.Equal(t, permission.ActionDeny, info.Ruleset.Decide(permission.KindEdit, "main.go"))
	require.Equal(t, permission.ActionAsk, info.Ruleset.Decide(permission.KindBash, "rm -rf /"))
}

func TestProjectPermissionOverridesAgent(t *testing.T) {
	cfg := &config.Config{Permission: map[string]any{
		"bash": "allow",
	}}
	r := newTestRegistry(t, cfg)

	info, err := r.Get("plan")
	require.NoError(t, err)
	require.Equal(t, permission.ActionAllow, info.Ruleset.Decide(permission.KindBash, "go test ./..."))
}

func TestSubagentsExcludePrimaries(t *testing.T) {
	r := newTestRegistry(t, nil)
	subs := r.Subagents()

	names := make([]string, 0, len(subs))
	for _, info := range subs {
		names = append(names, info.Name)
	}
	require.Contains(t, names, "explore")
	require.Contains(t, names, "code-reviewer")
	require.NotContains(t, names, "build")
	require.NotContains(t, names, "title")
}
