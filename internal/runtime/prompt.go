package runtime

import (
	"fmt"
	"strings"
	"time"

	"codecoder/internal/memory"
	"codecoder/internal/provider"
	"codecoder/internal/session"
	"codecoder/internal/token"
)

// composeRequest assembles the provider request for the next step: system
// text (header, agent prompt, memory addition), the tool definitions the
// agent may call, and the transcript so far.
func (t *turn) composeRequest(history []*session.Message) (provider.Request, error) {
	system := t.composeSystem(history)

	view := t.rt.tools.View(t.agent.Tools)
	defs := view.List()
	if len(defs) == 0 && len(t.agent.Tools) > 0 {
		return provider.Request{}, fmt.Errorf("agent %s allows no registered tool", t.agent.Name)
	}

	return provider.Request{
		Model:       t.model,
		System:      system,
		Messages:    history,
		Tools:       defs,
		MaxTokens:   t.rt.opts.MaxOutputTokens,
		Temperature: t.agent.Temperature,
		TopP:        t.agent.TopP,
	}, nil
}

// composeSystem layers the environment header, the agent's resolved
// prompt, and the memory-context addition bounded by its token budget.
func (t *turn) composeSystem(history []*session.Message) string {
	var b strings.Builder
	b.WriteString(t.environmentHeader())
	b.WriteString("\n\n")
	b.WriteString(strings.TrimSpace(t.agent.Prompt))

	if addition := t.contextAddition(history); addition != "" {
		b.WriteString("\n\n")
		b.WriteString(addition)
	}
	return b.String()
}

func (t *turn) environmentHeader() string {
	worktree := ""
	if t.agent.Ruleset != nil {
		worktree = t.agent.Ruleset.Worktree()
	}
	var b strings.Builder
	b.WriteString("<env>\n")
	if worktree != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", worktree)
	}
	fmt.Fprintf(&b, "Date: %s\n", time.Now().Format("2006-01-02"))
	b.WriteString("</env>")
	return b.String()
}

// contextAddition renders the memory snapshot for the current task,
// truncated to the prompt budget. Sub-agent and hidden runs skip it; the
// parent turn already carries the project context.
func (t *turn) contextAddition(history []*session.Message) string {
	if t.rt.contextSrc == nil || t.sess.ParentID != "" {
		return ""
	}
	task := latestUserText(history)
	built := t.rt.contextSrc.Build(t.ctx, memory.ContextOptions{Task: task})
	if built == nil || built.Formatted == "" {
		return ""
	}
	for _, warning := range built.Warnings {
		t.logger.Debug("context builder: %s", warning)
	}
	return token.Truncate(built.Formatted, contextBudgetTokens)
}

// latestUserText finds the newest user text in the transcript, used as
// the task hint for context building.
func latestUserText(history []*session.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == session.RoleUser && history[i].Mode == session.ModeNormal {
			if text := history[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}
