package skills

import (
	"context"
	"fmt"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

// ToolPrefix namespaces skill tools so they never collide with builtins.
const ToolPrefix = "skill__"

// ToolName returns the registry name for a skill.
func ToolName(name string) string {
	return ToolPrefix + NormalizeName(name)
}

// Tool exposes one skill as an executor. Running it returns the playbook
// body; the model then follows the instructions with its ordinary tools.
// Skill calls are compaction-protected so long sessions keep the playbook
// in context.
type Tool struct {
	skill Skill
	def   tools.Definition
}

// NewTool wraps a skill in its tool definition. The permission scope is
// the SKILL.md path, so path rules (including a bare "SKILL.md" basename
// pattern) can allow or deny skills like any other read.
func NewTool(skill Skill) *Tool {
	return &Tool{
		skill: skill,
		def: tools.Definition{
			Name:        ToolName(skill.Name),
			Description: skill.Description,
			Schema:      tools.ObjectSchema(nil),
			Kind:        permission.KindRead,
			FixedScope:  skill.SourcePath,
			Protected:   true,
		},
	}
}

// Definition implements tools.Executor.
func (t *Tool) Definition() tools.Definition { return t.def }

// Execute returns the skill body for the model to act on.
func (t *Tool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	content := t.skill.Body
	if content == "" {
		content = fmt.Sprintf("(skill %s has an empty body)", t.skill.Name)
	}
	result := tools.Ok(call, content)
	result.Metadata = map[string]any{
		"skill":      NormalizeName(t.skill.Name),
		"sourcePath": t.skill.SourcePath,
	}
	return result, nil
}

// Register adds every skill in the library to the registry as a dynamic
// tool.
func Register(registry *tools.Registry, library Library) error {
	for _, skill := range library.List() {
		if err := registry.Register(NewTool(skill)); err != nil {
			return fmt.Errorf("register skill %s: %w", skill.Name, err)
		}
	}
	return nil
}
