package builtin

import (
	"context"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

type planEnterTool struct {
	plan PlanController
}

func NewPlanEnter(cfg Config) tools.Executor {
	return &planEnterTool{plan: cfg.Plan}
}

func (t *planEnterTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "plan_enter",
		Description: "Enter plan mode: edits are restricted to plan documents until plan_exit.",
		Kind:        permission.KindPlanEnter,
		Schema:      tools.ObjectSchema(map[string]tools.Property{}),
	}
}

func (t *planEnterTool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	if t.plan == nil {
		return tools.Failf(call, "plan mode is not available"), nil
	}
	t.plan.EnterPlanMode(call.SessionID)
	return tools.Ok(call, "Entered plan mode. File edits are limited to plan documents; use plan_exit when the plan is approved."), nil
}

type planExitTool struct {
	plan PlanController
}

func NewPlanExit(cfg Config) tools.Executor {
	return &planExitTool{plan: cfg.Plan}
}

func (t *planExitTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "plan_exit",
		Description: "Leave plan mode and restore normal edit permissions.",
		Kind:        permission.KindPlanExit,
		Schema:      tools.ObjectSchema(map[string]tools.Property{}),
	}
}

func (t *planExitTool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	if t.plan == nil {
		return tools.Failf(call, "plan mode is not available"), nil
	}
	t.plan.ExitPlanMode(call.SessionID)
	return tools.Ok(call, "Exited plan mode. Normal edit permissions restored."), nil
}
