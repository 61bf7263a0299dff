package builtin

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

const globMaxResults = 200

type globTool struct {
	workDir string
}

func NewGlob(cfg Config) tools.Executor {
	return &globTool{workDir: cfg.WorkDir}
}

func (t *globTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "glob",
		Description: "Find files matching a glob pattern such as **/*.go, newest first.",
		Kind:        permission.KindGlob,
		ScopeArg:    "path",
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"pattern": {Type: "string", Description: "Glob pattern, ** crosses directories"},
			"path":    {Type: "string", Description: "Directory to search from", Default: "."},
		}, "pattern"),
	}
}

func (t *globTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	root, err := resolvePath(t.workDir, call.StringArg("path"))
	if err != nil {
		return tools.Fail(call, err), nil
	}
	pattern := call.StringArg("pattern")

	type hit struct {
		rel string
		mod time.Time
	}
	var hits []hit
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !globMatch(pattern, rel) {
			return nil
		}
		info, err := d.Info()
		mod := time.Time{}
		if err == nil {
			mod = info.ModTime()
		}
		hits = append(hits, hit{rel: rel, mod: mod})
		return nil
	})
	if walkErr != nil {
		return tools.Fail(call, walkErr), nil
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].mod.After(hits[j].mod) })
	if len(hits) > globMaxResults {
		hits = hits[:globMaxResults]
	}
	if len(hits) == 0 {
		return tools.Ok(call, "no files match "+pattern), nil
	}

	var b strings.Builder
	for _, h := range hits {
		b.WriteString(h.rel)
		b.WriteByte('\n')
	}
	return tools.Ok(call, b.String()), nil
}

// globMatch matches slash-separated relative paths against a pattern
// where ** spans any number of path segments.
func globMatch(pattern, rel string) bool {
	return segmentsMatch(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func segmentsMatch(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// ** absorbs zero or more segments.
		for skip := 0; skip <= len(segs); skip++ {
			if segmentsMatch(pat[1:], segs[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return segmentsMatch(pat[1:], segs[1:])
}
