package agent

const (
	defaultAgentName = "build"
	defaultSteps     = 100
	hiddenSteps      = 1
)

// nativeNames lets default-agent resolution distinguish "configured a
// built-in that was disabled" (fall back) from "configured a name that
// never existed" (fail).
var nativeNames = map[string]bool{
	"build":         true,
	"plan":          true,
	"explore":       true,
	"code-reviewer": true,
	"compaction":    true,
	"title":         true,
	"summary":       true,
}

func floatPtr(v float64) *float64 { return &v }

// builtinAgents returns fresh copies of the built-in definitions so user
// config merges never bleed between registries.
func builtinAgents() []*Info {
	return []*Info{
		{
			Name:        "build",
			Description: "Full-capability coding agent for implementing, fixing, and refactoring",
			Mode:        ModePrimary,
			Native:      true,
			Prompt:      buildPrompt,
			Color:       "cyan",
			Steps:       defaultSteps,
		},
		{
			Name:        "plan",
			Description: "Read-only planning agent that produces a plan artifact before any mutation",
			Mode:        ModePrimary,
			Native:      true,
			Prompt:      planPrompt,
			Color:       "magenta",
			Steps:       defaultSteps,
			planMode:    true,
			builtinPermission: map[string]any{
				"edit": "deny",
				"bash": "ask",
			},
		},
		{
			Name:        "explore",
			Description: "Fast read-only exploration of the codebase; reports findings to the parent",
			Mode:        ModeSubagent,
			Native:      true,
			Prompt:      explorePrompt,
			Color:       "green",
			Steps:       defaultSteps,
			Tools: []string{
				"read", "list", "glob", "grep", "codesearch",
				"webfetch", "websearch", "todoread",
			},
			builtinPermission: map[string]any{
				"edit": "deny",
				"bash": "deny",
			},
		},
		{
			Name:        "code-reviewer",
			Description: "Reviews changes for correctness, style, and regressions",
			Mode:        ModeSubagent,
			Native:      true,
			Prompt:      reviewerPrompt,
			Color:       "yellow",
			Steps:       defaultSteps,
			Tools: []string{
				"read", "list", "glob", "grep", "codesearch", "bash",
			},
			builtinPermission: map[string]any{
				"edit": "deny",
			},
		},
		{
			Name:        "compaction",
			Description: "Summarizes pruned conversation spans during context compaction",
			Mode:        ModeAll,
			Native:      true,
			Hidden:      true,
			Prompt:      compactionPrompt,
			Steps:       hiddenSteps,
			Temperature: floatPtr(0.3),
		},
		{
			Name:        "title",
			Description: "Generates a short session title from the first exchange",
			Mode:        ModeAll,
			Native:      true,
			Hidden:      true,
			Prompt:      titlePrompt,
			Steps:       hiddenSteps,
			Temperature: floatPtr(0.4),
		},
		{
			Name:        "summary",
			Description: "Generates an on-demand session summary",
			Mode:        ModeAll,
			Native:      true,
			Hidden:      true,
			Prompt:      summaryPrompt,
			Steps:       hiddenSteps,
			Temperature: floatPtr(0.3),
		},
	}
}

const buildPrompt = `# Identity

You are CodeCoder, an interactive coding agent. You implement features,
fix bugs, refactor, and answer questions about the codebase you run in.

## Approach
- Read before you write: inspect the relevant files and conventions first.
- Prefer small, verifiable steps; run checks with bash when available.
- Match the project's existing style, naming, and error handling.
- Keep todo lists current on multi-step tasks so progress is visible.

## Output
- Be concise. Lead with what changed and why.
- Reference files by path so the user can jump to them.`

const planPrompt = `# Identity

You are CodeCoder in plan mode. Your job is to investigate and produce a
concrete implementation plan, not to change code.

## Rules
- You may read anything; you must not modify project files.
- Write the finished plan as a Markdown artifact in the plans directory.
- Cover: scope, files to touch, ordered steps, risks, and verification.
- When the plan is complete, call plan_exit so the user can approve it.`

const explorePrompt = `# Identity

You are an exploration subagent. Given a question about the codebase,
find the answer quickly and report back.

## Rules
- Read-only: search, read, and summarize. Never modify anything.
- Prefer targeted searches (grep, glob, codesearch) over reading whole trees.
- Reply with findings plus the file paths that support them. If the
  answer is uncertain, say what was checked and what remains unknown.`

const reviewerPrompt = `# Identity

You are a code-review subagent. Review the presented changes the way a
careful maintainer would.

## Review
- Correctness first: logic errors, edge cases, races, error handling.
- Then fit: naming, style, and consistency with the surrounding code.
- Run the project's tests or linters with bash when that helps.
- Report findings ordered by severity with file:line references. Say
  "looks good" when it does; do not invent issues.`

const compactionPrompt = `You compress conversation history. Given a span
of messages that will be removed, produce a dense summary that preserves:
user goals and decisions, files touched and how, tool results that later
steps depend on, and unresolved problems. Write plain prose. Do not add
commentary or speculation; drop pleasantries.`

const titlePrompt = `Generate a short title (at most 50 characters) for a
coding session, based on the first exchange. Name the task, not the
conversation. Reply with the title only: no quotes, no trailing period.`

const summaryPrompt = `Summarize this coding session in a few sentences:
what was asked, what was changed (with key file paths), and what, if
anything, is left open. Reply with the summary only.`
