package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	errs "codecoder/internal/errors"
)

func fakeFS(files map[string]string) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		if content, ok := files[path]; ok {
			return []byte(content), nil
		}
		return nil, os.ErrNotExist
	}
}

func fakeEnv(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaultsWhenNoFiles(t *testing.T) {
	cfg, err := Load("/work",
		WithFileReader(fakeFS(nil)),
		WithEnv(fakeEnv(map[string]string{"USER": "casey"})),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	require.Equal(t, "casey", cfg.Username)
	require.Equal(t, DefaultModel, cfg.ModelFor(""))
	require.Equal(t, DefaultSmallModel, cfg.SmallModelFor(""))
	require.False(t, cfg.Experimental.OpenTelemetry)
}

func TestLoadLayersProjectOverGlobal(t *testing.T) {
	files := map[string]string{
		"/home/casey/.codecoder/codecoder.json": `{"username": "casey", "model": "global-model", "default_agent": "plan"}`,
		"/work/codecoder.json":                  `{"model": "project-model"}`,
	}
	cfg, err := Load("/work",
		WithFileReader(fakeFS(files)),
		WithEnv(fakeEnv(nil)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	require.Equal(t, "project-model", cfg.Model)
	require.Equal(t, "casey", cfg.Username)
	require.Equal(t, "plan", cfg.DefaultAgent)
}

func TestLoadEnvOverridesFiles(t *testing.T) {
	files := map[string]string{
		"/work/codecoder.json": `{"model": "file-model"}`,
	}
	env := map[string]string{
		"CODECODER_MODEL":   "env-model",
		"ANTHROPIC_API_KEY": "test-key",
	}
	cfg, err := Load("/work",
		WithFileReader(fakeFS(files)),
		WithEnv(fakeEnv(env)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	require.Equal(t, "env-model", cfg.Model)
	require.Equal(t, "test-key", cfg.Provider[DefaultProvider].APIKey)
}

func TestLoadKeepsFileAPIKeyOverEnv(t *testing.T) {
	files := map[string]string{
		"/work/codecoder.json": `{"provider": {"anthropic": {"api_key": "file-key"}}}`,
	}
	cfg, err := Load("/work",
		WithFileReader(fakeFS(files)),
		WithEnv(fakeEnv(map[string]string{"ANTHROPIC_API_KEY": "env-key"})),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	require.Equal(t, "file-key", cfg.Provider[DefaultProvider].APIKey)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	files := map[string]string{
		"/work/codecoder.json": `{"model": `,
	}
	_, err := Load("/work",
		WithFileReader(fakeFS(files)),
		WithEnv(fakeEnv(nil)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.Error(t, err)
	require.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestLoadPreservesPermissionPatternCase(t *testing.T) {
	files := map[string]string{
		"/work/codecoder.json": `{"permission": {"read": {"README*": "allow", "*.env": "ask"}}}`,
	}
	cfg, err := Load("/work",
		WithFileReader(fakeFS(files)),
		WithEnv(fakeEnv(nil)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	read, ok := cfg.Permission["read"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, read, "README*")
	require.Contains(t, read, "*.env")
}

func TestLoadParsesAgentMap(t *testing.T) {
	files := map[string]string{
		"/work/codecoder.json": `{
			"agent": {
				"build": {"temperature": 0.2, "steps": 30},
				"explore": {"disable": true}
			},
			"experimental": {"openTelemetry": true}
		}`,
	}
	cfg, err := Load("/work",
		WithFileReader(fakeFS(files)),
		WithEnv(fakeEnv(nil)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	build := cfg.Agent["build"]
	require.NotNil(t, build.Temperature)
	require.InDelta(t, 0.2, *build.Temperature, 1e-9)
	require.Equal(t, 30, build.Steps)
	require.True(t, cfg.Agent["explore"].Disable)
	require.True(t, cfg.Experimental.OpenTelemetry)
}

func TestProjectIDStableAndDistinct(t *testing.T) {
	a := ProjectID("/home/casey/projects/app")
	b := ProjectID("/home/casey/projects/app")
	c := ProjectID("/home/casey/projects/other")

	if a != b {
		t.Fatalf("same path produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("distinct paths produced the same id: %s", a)
	}
	if len(a) != 16 {
		t.Fatalf("id length = %d, want 16", len(a))
	}
}

func TestResolvePathsLayout(t *testing.T) {
	worktree := t.TempDir()
	paths, err := ResolvePaths(worktree,
		WithEnv(fakeEnv(nil)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(paths.Worktree, ".ccode", "hooks", "hooks.json"),
		filepath.Join(paths.Worktree, ".claude", "hooks", "hooks.json"),
		filepath.Join("/home/casey", ".ccode", "hooks", "hooks.json"),
		filepath.Join("/home/casey", ".claude", "hooks", "hooks.json"),
	}, paths.HookFiles())

	require.Len(t, paths.SkillRoots(), 3)
	require.Equal(t, filepath.Join(paths.Worktree, ".ccode", "truncated"), paths.TruncationDir())
	require.Equal(t, filepath.Join("/home/casey", ".codecoder", "memory", "daily"), paths.DailyDir())
	require.NotEmpty(t, paths.ProjectID())
}

func TestResolvePathsRejectsMissingWorktree(t *testing.T) {
	_, err := ResolvePaths(filepath.Join(t.TempDir(), "missing"),
		WithEnv(fakeEnv(nil)),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.Error(t, err)
	require.Equal(t, errs.KindConfiguration, errs.KindOf(err))
}

func TestDataRootEnvOverride(t *testing.T) {
	paths, err := ResolvePaths(t.TempDir(),
		WithEnv(fakeEnv(map[string]string{"CODECODER_DATA_ROOT": "/srv/ccdata"})),
		WithHomeDir(func() (string, error) { return "/home/casey", nil }),
	)
	require.NoError(t, err)
	require.Equal(t, "/srv/ccdata", paths.DataRoot)
	require.Equal(t, "/srv/ccdata/plans", paths.PlansDir())
}
