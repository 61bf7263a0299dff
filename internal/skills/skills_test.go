package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

func writeSkill(t *testing.T, root, folder, content string) string {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "SKILL.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const deploySkill = `---
name: Deploy App
description: Release the application to staging.
---

# Deploy App

1. Run the test suite.
2. Tag the release.
`

func TestDiscoverParsesFrontMatter(t *testing.T) {
	root := t.TempDir()
	path := writeSkill(t, root, "deploy", deploySkill)

	lib, err := Discover([]string{root}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())

	skill, ok := lib.Get("deploy app")
	require.True(t, ok)
	require.Equal(t, "Deploy App", skill.Name)
	require.Equal(t, "Release the application to staging.", skill.Description)
	require.Equal(t, "Deploy App", skill.Title)
	require.Contains(t, skill.Body, "Run the test suite.")
	require.Equal(t, path, skill.SourcePath)
	require.Equal(t, root, skill.Root)
}

func TestDiscoverSkipsMissingRoots(t *testing.T) {
	lib, err := Discover([]string{filepath.Join(t.TempDir(), "absent"), ""}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, lib.Len())
}

func TestDiscoverIgnoresLooseFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("# notes"), 0o644))
	writeSkill(t, root, "deploy", deploySkill)

	lib, err := Discover([]string{root}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())
}

func TestDiscoverEarlierRootWins(t *testing.T) {
	project := t.TempDir()
	home := t.TempDir()
	writeSkill(t, project, "deploy", deploySkill)
	writeSkill(t, home, "deploy", `---
name: deploy_app
description: Stale home copy.
---
old body
`)

	lib, err := Discover([]string{project, home}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, lib.Len())

	skill, ok := lib.Get("Deploy App")
	require.True(t, ok)
	require.Equal(t, project, skill.Root)
	require.Contains(t, skill.Body, "Run the test suite.")
}

func TestDiscoverRejectsDuplicateWithinRoot(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", deploySkill)
	writeSkill(t, root, "deploy-again", `---
name: deploy app
description: Same normalized name.
---
body
`)

	_, err := Discover([]string{root}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate skill name")
}

func TestDiscoverRejectsMissingFields(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "anon", `---
description: No name given.
---
body
`)
	_, err := Discover([]string{root}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing name")

	root = t.TempDir()
	writeSkill(t, root, "silent", `---
name: silent
---
body
`)
	_, err = Discover([]string{root}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing description")
}

func TestDiscoverRejectsBadFrontMatter(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "broken", "---\nname: [\n---\nbody\n")

	_, err := Discover([]string{root}, nil)
	require.Error(t, err)
}

func TestTitleFallsBackToName(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "bare", `---
name: bare
description: No heading in the body.
---
just instructions
`)

	lib, err := Discover([]string{root}, nil)
	require.NoError(t, err)
	skill, ok := lib.Get("bare")
	require.True(t, ok)
	require.Equal(t, "bare", skill.Title)
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "deploy_app", NormalizeName("  Deploy App "))
	require.Equal(t, "deploy_app", NormalizeName("deploy_app"))
}

func TestSkillToolDefinition(t *testing.T) {
	skill := Skill{
		Name:        "Deploy App",
		Description: "Release the application to staging.",
		Body:        "do the thing",
		SourcePath:  "/w/.ccode/skills/deploy/SKILL.md",
	}
	def := NewTool(skill).Definition()

	require.Equal(t, "skill__deploy_app", def.Name)
	require.Equal(t, permission.KindRead, def.Kind)
	require.Equal(t, skill.SourcePath, def.FixedScope)
	require.True(t, def.Protected)
	require.False(t, def.Mutating)
	require.Equal(t, skill.SourcePath, def.Scope(tools.Call{}))
}

func TestSkillToolExecuteReturnsBody(t *testing.T) {
	tool := NewTool(Skill{Name: "deploy", Description: "d", Body: "step one"})
	result, err := tool.Execute(context.Background(), tools.Call{ID: "call_1"})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "step one", result.Content)
	require.Equal(t, "deploy", result.Metadata["skill"])
}

func TestRegisterAddsDynamicTools(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "deploy", deploySkill)
	lib, err := Discover([]string{root}, nil)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, Register(registry, lib))

	executor, err := registry.Get("skill__deploy_app")
	require.NoError(t, err)
	require.Equal(t, "Release the application to staging.", executor.Definition().Description)

	// Registering the same library twice collides on the tool name.
	require.Error(t, Register(registry, lib))
}
