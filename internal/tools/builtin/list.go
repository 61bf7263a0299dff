package builtin

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

const listMaxEntries = 500

type listTool struct {
	workDir string
}

func NewList(cfg Config) tools.Executor {
	return &listTool{workDir: cfg.WorkDir}
}

func (t *listTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "list",
		Description: "List a directory: entries with sizes, directories first.",
		Kind:        permission.KindList,
		ScopeArg:    "path",
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"path": {Type: "string", Description: "Directory to list", Default: "."},
		}),
	}
}

func (t *listTool) Execute(_ context.Context, call tools.Call) (*tools.Result, error) {
	path, err := resolvePath(t.workDir, call.StringArg("path"))
	if err != nil {
		return tools.Fail(call, err), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	shown := 0
	for _, entry := range entries {
		if shown >= listMaxEntries {
			fmt.Fprintf(&b, "... (%d more entries)\n", len(entries)-shown)
			break
		}
		if entry.IsDir() {
			fmt.Fprintf(&b, "%s/\n", entry.Name())
		} else {
			info, err := entry.Info()
			size := int64(0)
			if err == nil {
				size = info.Size()
			}
			fmt.Fprintf(&b, "%s (%d bytes)\n", entry.Name(), size)
		}
		shown++
	}
	if b.Len() == 0 {
		return tools.Ok(call, "(empty directory)"), nil
	}
	return tools.Ok(call, b.String()), nil
}
