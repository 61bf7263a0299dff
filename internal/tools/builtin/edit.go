package builtin

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"codecoder/internal/diff"
	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

type editTool struct {
	workDir string
}

func NewEdit(cfg Config) tools.Executor {
	return &editTool{workDir: cfg.WorkDir}
}

func (t *editTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "edit",
		Description: "Replace an exact string in a file. old_string must match exactly once unless replace_all is set.",
		Kind:        permission.KindEdit,
		ScopeArg:    "file_path",
		Mutating:    true,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"file_path":   {Type: "string", Description: "File to edit"},
			"old_string":  {Type: "string", Description: "Exact text to replace"},
			"new_string":  {Type: "string", Description: "Replacement text"},
			"replace_all": {Type: "boolean", Description: "Replace every occurrence", Default: false},
		}, "file_path", "old_string", "new_string"),
	}
}

func (t *editTool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	path, err := resolvePath(t.workDir, call.StringArg("file_path"))
	if err != nil {
		return tools.Fail(call, err), nil
	}
	oldString := call.StringArg("old_string")
	newString := call.StringArg("new_string")
	if oldString == newString {
		return tools.Failf(call, "old_string and new_string are identical"), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	content := string(data)

	count := strings.Count(content, oldString)
	switch {
	case count == 0:
		return tools.Failf(call, "old_string not found in %s", call.StringArg("file_path")), nil
	case count > 1 && !call.BoolArg("replace_all"):
		return tools.Failf(call, "old_string appears %d times in %s; pass replace_all or disambiguate", count, call.StringArg("file_path")), nil
	}

	replaced := strings.Replace(content, oldString, newString, 1)
	if call.BoolArg("replace_all") {
		replaced = strings.ReplaceAll(content, oldString, newString)
	}
	info, err := os.Stat(path)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	if err := os.WriteFile(path, []byte(replaced), info.Mode().Perm()); err != nil {
		return tools.Fail(call, err), nil
	}

	d := diff.Compute(content, replaced, call.StringArg("file_path"), false)
	sum := sha256.Sum256([]byte(replaced))

	result := tools.Ok(call, fmt.Sprintf("Edited %s (%s)\n%s", call.StringArg("file_path"), d.Summary(), d.Unified))
	result.Metadata = editMetadata(call.StringArg("file_path"), "update", d.Added, d.Deleted, fmt.Sprintf("%x", sum))
	return result, nil
}
