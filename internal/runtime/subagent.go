package runtime

import (
	"context"
	"strings"
	"time"

	"codecoder/internal/agent"
	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

// subagentTimeout bounds a spawned child turn; subagents run whole tool
// loops, so this is far above the ordinary executor default.
const subagentTimeout = 15 * time.Minute

// subagentTool spawns a subagent in an isolated child session and relays
// its final text back as the tool result. Registered by the runtime at
// construction since it needs the runtime itself to run turns.
type subagentTool struct {
	rt *Runtime
}

func newSubagentTool(rt *Runtime) tools.Executor {
	return &subagentTool{rt: rt}
}

func (t *subagentTool) Definition() tools.Definition {
	desc := "Run a subagent in an isolated child session and return its final report. " +
		"The child sees none of this conversation; put everything it needs in the prompt."
	if subs := t.rt.agents.Subagents(); len(subs) > 0 {
		names := make([]string, len(subs))
		for i, info := range subs {
			names[i] = info.Name
		}
		desc += " Available agents: " + strings.Join(names, ", ") + "."
	}
	return tools.Definition{
		Name:        "task",
		Description: desc,
		Kind:        permission.KindQuestion,
		ScopeArg:    "agent",
		Timeout:     subagentTimeout,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"agent":  {Type: "string", Description: "Name of the subagent to run"},
			"prompt": {Type: "string", Description: "Complete task description for the subagent"},
		}, "agent", "prompt"),
	}
}

func (t *subagentTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	name := call.StringArg("agent")
	prompt := strings.TrimSpace(call.StringArg("prompt"))
	if prompt == "" {
		return tools.Failf(call, "prompt is required"), nil
	}

	info, err := t.rt.agents.Get(name)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	if info.Hidden || info.Mode == agent.ModePrimary {
		return tools.Failf(call, "agent %s cannot run as a subagent", name), nil
	}

	parent, err := t.rt.sessions.Get(ctx, call.SessionID)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	child, err := t.rt.sessions.CreateChild(ctx, parent)
	if err != nil {
		return tools.Fail(call, err), nil
	}

	// The child gets the subagent's own ruleset, not the parent's.
	t.rt.permissions.Bind(child.ID, info.Ruleset)
	defer t.rt.permissions.Unbind(child.ID)

	t.rt.logger.Info("subagent %s starting in child session %s (parent %s)", name, child.ID, parent.ID)
	final, err := t.rt.Prompt(ctx, PromptRequest{
		SessionID: child.ID,
		Agent:     name,
		Text:      prompt,
	})
	if err != nil {
		return tools.Fail(call, err), nil
	}

	report := strings.TrimSpace(final.Text())
	if report == "" {
		report = "(subagent finished without a report)"
	}
	return &tools.Result{
		CallID:  call.ID,
		Content: report,
		Metadata: map[string]any{
			"childSessionId": child.ID,
			"agent":          name,
		},
	}, nil
}
