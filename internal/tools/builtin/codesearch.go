package builtin

import (
	"context"
	"fmt"
	"strings"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

type codeSearchTool struct {
	searcher CodeSearcher
}

func NewCodeSearch(cfg Config) tools.Executor {
	return &codeSearchTool{searcher: cfg.Searcher}
}

func (t *codeSearchTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "codesearch",
		Description: "Semantic search over the indexed codebase; finds code by meaning rather than exact text.",
		Kind:        permission.KindCodesearch,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"query": {Type: "string", Description: "What to look for, in natural language"},
			"limit": {Type: "integer", Description: "Maximum results", Default: float64(8)},
		}, "query"),
	}
}

func (t *codeSearchTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	if t.searcher == nil {
		return tools.Failf(call, "code index is not available; use grep for exact-text search"), nil
	}
	limit := call.IntArg("limit")
	if limit <= 0 || limit > 20 {
		limit = 8
	}

	matches, err := t.searcher.SearchCode(ctx, call.StringArg("query"), limit)
	if err != nil {
		return tools.Fail(call, err), nil
	}
	if len(matches) == 0 {
		return tools.Ok(call, "no semantic matches; try grep for exact text"), nil
	}

	var b strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&b, "%s:%d (%.2f)\n%s\n\n", m.Path, m.Line, m.Similarity, strings.TrimSpace(m.Snippet))
	}
	return tools.Ok(call, b.String()), nil
}
