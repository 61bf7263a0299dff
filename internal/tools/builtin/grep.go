package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

const (
	grepMaxMatches   = 200
	grepMaxLineBytes = 200
)

type grepTool struct {
	workDir string
}

func NewGrep(cfg Config) tools.Executor {
	return &grepTool{workDir: cfg.WorkDir}
}

func (t *grepTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "grep",
		Description: "Search file contents with a regular expression; returns path:line:text matches.",
		Kind:        permission.KindGrep,
		ScopeArg:    "path",
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"pattern":     {Type: "string", Description: "Regular expression to search for"},
			"path":        {Type: "string", Description: "File or directory to search", Default: "."},
			"glob":        {Type: "string", Description: "Restrict to files matching this glob"},
			"ignore_case": {Type: "boolean", Description: "Case-insensitive search", Default: false},
		}, "pattern"),
	}
}

func (t *grepTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	root, err := resolvePath(t.workDir, call.StringArg("path"))
	if err != nil {
		return tools.Fail(call, err), nil
	}

	pattern := call.StringArg("pattern")
	if call.BoolArg("ignore_case") {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return tools.Failf(call, "invalid pattern: %v", err), nil
	}
	fileGlob := call.StringArg("glob")

	var b strings.Builder
	matches := 0
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if matches >= grepMaxMatches {
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = p
		}
		rel = filepath.ToSlash(rel)
		if fileGlob != "" && !globMatch(fileGlob, rel) {
			return nil
		}
		n, scanErr := scanFile(p, rel, re, &b, grepMaxMatches-matches)
		if scanErr == nil {
			matches += n
		}
		return nil
	})
	if walkErr != nil {
		return tools.Fail(call, walkErr), nil
	}

	if matches == 0 {
		return tools.Ok(call, "no matches found"), nil
	}
	out := b.String()
	if matches >= grepMaxMatches {
		out += fmt.Sprintf("(stopped after %d matches)\n", grepMaxMatches)
	}
	return tools.Ok(call, out), nil
}

func scanFile(path, rel string, re *regexp.Regexp, out *strings.Builder, budget int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	found := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return found, nil // binary file
		}
		if !re.MatchString(line) {
			continue
		}
		if len(line) > grepMaxLineBytes {
			line = line[:grepMaxLineBytes] + "..."
		}
		fmt.Fprintf(out, "%s:%d:%s\n", rel, lineNo, line)
		found++
		if found >= budget {
			return found, nil
		}
	}
	return found, scanner.Err()
}
