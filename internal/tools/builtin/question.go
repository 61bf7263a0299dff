package builtin

import (
	"context"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

type questionTool struct {
	asker Asker
}

func NewQuestion(cfg Config) tools.Executor {
	return &questionTool{asker: cfg.Asker}
}

func (t *questionTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "question",
		Description: "Ask the user a question and wait for their answer. Use sparingly, for decisions only the user can make.",
		Kind:        permission.KindQuestion,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"question": {Type: "string", Description: "The question to ask"},
			"options": {
				Type:        "array",
				Description: "Optional fixed choices",
				Items:       &tools.Property{Type: "string"},
			},
		}, "question"),
	}
}

func (t *questionTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if t.asker == nil {
		return tools.Failf(call, "no interactive channel available to ask the user"), nil
	}
	var options []string
	if raw, ok := call.Arguments["options"].([]any); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				options = append(options, s)
			}
		}
	}
	answer, err := t.asker.Ask(ctx, call.SessionID, call.StringArg("question"), options)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	return tools.Ok(call, answer), nil
}
