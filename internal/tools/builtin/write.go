package builtin

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codecoder/internal/diff"
	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

type writeTool struct {
	workDir string
}

func NewWrite(cfg Config) tools.Executor {
	return &writeTool{workDir: cfg.WorkDir}
}

func (t *writeTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "write",
		Description: "Create or overwrite a file with the given content.",
		Kind:        permission.KindEdit,
		ScopeArg:    "file_path",
		Mutating:    true,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"file_path": {Type: "string", Description: "Path to write"},
			"content":   {Type: "string", Description: "Full file content"},
		}, "file_path", "content"),
	}
}

func (t *writeTool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	path, err := resolvePath(t.workDir, call.StringArg("file_path"))
	if err != nil {
		return tools.Fail(call, err), nil
	}
	content := call.StringArg("content")

	op := "create"
	oldContent := ""
	if data, err := os.ReadFile(path); err == nil {
		op = "update"
		oldContent = string(data)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.Fail(call, err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return tools.Fail(call, err), nil
	}

	added, deleted := diff.Counts(oldContent, content)
	sum := sha256.Sum256([]byte(content))
	lineCount := strings.Count(content, "\n") + 1

	result := tools.Ok(call, fmt.Sprintf("Wrote %s (%d lines)", call.StringArg("file_path"), lineCount))
	result.Metadata = editMetadata(call.StringArg("file_path"), op, added, deleted, fmt.Sprintf("%x", sum))
	return result, nil
}

// editMetadata is the shape the runtime turns into an EditRecord entry.
func editMetadata(path, op string, added, deleted int, hash string) map[string]any {
	return map[string]any{
		"path":      path,
		"op":        op,
		"additions": added,
		"deletions": deleted,
		"hash":      hash,
	}
}
