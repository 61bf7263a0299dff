package builtin

import (
	"context"
	"fmt"
	"strings"

	"codecoder/internal/permission"
	"codecoder/internal/storage"
	"codecoder/internal/tools"
)

// TodoItem is one entry on the session's task list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"` // pending | in_progress | completed
}

func todoKey(sessionID string) []string {
	return []string{"todo", sessionID}
}

func renderTodos(items []TodoItem) string {
	if len(items) == 0 {
		return "(todo list is empty)"
	}
	var b strings.Builder
	for i, item := range items {
		mark := " "
		switch item.Status {
		case "in_progress":
			mark = ">"
		case "completed":
			mark = "x"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, mark, item.Content)
	}
	return b.String()
}

type todoReadTool struct {
	db *storage.Store
}

func NewTodoRead(cfg Config) tools.Executor {
	return &todoReadTool{db: cfg.DB}
}

func (t *todoReadTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "todoread",
		Description: "Read the session's current todo list.",
		Kind:        permission.KindTodoread,
		Schema:      tools.ObjectSchema(map[string]tools.Property{}),
	}
}

func (t *todoReadTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if t.db == nil {
		return tools.Failf(call, "todo storage is not available"), nil
	}
	var items []TodoItem
	if _, err := t.db.Read(ctx, todoKey(call.SessionID), &items); err != nil {
		return tools.Fail(call, err), nil
	}
	return tools.Ok(call, renderTodos(items)), nil
}

type todoWriteTool struct {
	db *storage.Store
}

func NewTodoWrite(cfg Config) tools.Executor {
	return &todoWriteTool{db: cfg.DB}
}

func (t *todoWriteTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "todowrite",
		Description: "Replace the session's todo list. Statuses: pending, in_progress, completed.",
		Kind:        permission.KindTodowrite,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"todos": {
				Type:        "array",
				Description: "The full todo list; replaces the previous one",
				Items:       &tools.Property{Type: "object"},
			},
		}, "todos"),
	}
}

func (t *todoWriteTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if t.db == nil {
		return tools.Failf(call, "todo storage is not available"), nil
	}
	raw, _ := call.Arguments["todos"].([]any)
	items := make([]TodoItem, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return tools.Failf(call, "todo %d is not an object", i), nil
		}
		content, _ := m["content"].(string)
		if strings.TrimSpace(content) == "" {
			return tools.Failf(call, "todo %d has no content", i), nil
		}
		status, _ := m["status"].(string)
		switch status {
		case "", "pending":
			status = "pending"
		case "in_progress", "completed":
		default:
			return tools.Failf(call, "todo %d has unknown status %q", i, status), nil
		}
		items = append(items, TodoItem{Content: content, Status: status})
	}

	if err := t.db.Write(ctx, todoKey(call.SessionID), items); err != nil {
		return tools.Fail(call, err), nil
	}

	pending, done := 0, 0
	for _, item := range items {
		switch item.Status {
		case "completed":
			done++
		default:
			pending++
		}
	}
	return tools.Ok(call, fmt.Sprintf("Todo list updated: %d open, %d completed\n%s", pending, done, renderTodos(items))), nil
}
