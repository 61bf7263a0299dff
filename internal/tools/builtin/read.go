package builtin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

const readDefaultLimit = 2000

type readTool struct {
	workDir string
}

func NewRead(cfg Config) tools.Executor {
	return &readTool{workDir: cfg.WorkDir}
}

func (t *readTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "read",
		Description: "Read a file from the filesystem, optionally from a line offset.",
		Kind:        permission.KindRead,
		ScopeArg:    "file_path",
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"file_path": {Type: "string", Description: "Path to the file"},
			"offset":    {Type: "integer", Description: "1-based line to start from"},
			"limit":     {Type: "integer", Description: "Maximum lines to return", Default: float64(readDefaultLimit)},
		}, "file_path"),
	}
}

func (t *readTool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	path, err := resolvePath(t.workDir, call.StringArg("file_path"))
	if err != nil {
		return tools.Fail(call, err), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	if strings.ContainsRune(string(data[:min(len(data), 8000)]), 0) {
		return tools.Failf(call, "cannot read binary file: %s", path), nil
	}

	lines := strings.Split(string(data), "\n")
	offset := call.IntArg("offset")
	if offset < 1 {
		offset = 1
	}
	limit := call.IntArg("limit")
	if limit <= 0 {
		limit = readDefaultLimit
	}
	if offset > len(lines) {
		return tools.Failf(call, "offset %d beyond end of file (%d lines)", offset, len(lines)), nil
	}

	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}
	window := lines[offset-1 : end]

	var b strings.Builder
	for i, line := range window {
		fmt.Fprintf(&b, "%6d\t%s\n", offset+i, line)
	}
	if end < len(lines) {
		fmt.Fprintf(&b, "... (%d more lines)\n", len(lines)-end)
	}
	return tools.Ok(call, b.String()), nil
}
