package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// maxScanSymbols caps how many declarations one file contributes to the
// index.
const maxScanSymbols = 64

var languageByExt = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".py":   "python",
	".rs":   "rust",
	".java": "java",
	".kt":   "kotlin",
	".rb":   "ruby",
	".c":    "c",
	".h":    "c",
	".cc":   "cpp",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".sh":   "shell",
	".sql":  "sql",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
}

// DetectLanguage maps a file extension to a language tag, or "" for
// unknown extensions.
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}

// Declaration patterns shared across the languages the assistant
// commonly edits. Go method receivers are skipped over so the method
// name is captured, not the receiver.
var (
	scanFuncRe = regexp.MustCompile(`(?m)^\s*(?:export\s+|async\s+|pub\s+)*(?:func|function|def|fn)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)
	scanTypeRe = regexp.MustCompile(`(?m)^\s*(?:export\s+|pub\s+)*(?:type|class|interface|struct|enum|trait)\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExtractSymbols pulls declared function and type names out of source
// text. The patterns are language-agnostic on purpose: recall matters
// more than precision here, since symbols only feed relevance ranking.
func ExtractSymbols(content string) []string {
	var symbols []string
	seen := make(map[string]bool)
	for _, re := range []*regexp.Regexp{scanFuncRe, scanTypeRe} {
		for _, match := range re.FindAllStringSubmatch(content, -1) {
			name := match[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			symbols = append(symbols, name)
			if len(symbols) >= maxScanSymbols {
				return symbols
			}
		}
	}
	return symbols
}

// leadingComment returns the text of the first line comment near the
// top of the file, which usually states what the file is for.
func leadingComment(content string) string {
	lines := strings.SplitN(content, "\n", 12)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#!") {
			continue
		}
		for _, marker := range []string{"//", "#", "--"} {
			if rest, ok := strings.CutPrefix(line, marker); ok {
				rest = strings.TrimSpace(strings.TrimLeft(rest, "/#-!"))
				if len(rest) > 3 {
					return rest
				}
			}
		}
	}
	return ""
}

// IndexSource scans raw file content and upserts the result. With
// replace false the extracted symbols are merged into any existing
// entry instead of overwriting it, which suits partial content such as
// the replacement text of an edit.
func (c *CodeIndex) IndexSource(ctx context.Context, path, content string, replace bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("index: path is required")
	}
	file := IndexedFile{
		Path:     path,
		Language: DetectLanguage(path),
		Summary:  leadingComment(content),
		Symbols:  ExtractSymbols(content),
		Indexed:  time.Now(),
	}
	if !replace {
		var existing IndexedFile
		if ok, err := c.store.Read(ctx, indexKey(path), &existing); err == nil && ok {
			file.Symbols = mergeSymbols(existing.Symbols, file.Symbols)
			if file.Summary == "" {
				file.Summary = existing.Summary
			}
		}
	}
	return c.store.Write(ctx, indexKey(path), file)
}

func mergeSymbols(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, name := range existing {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	for _, name := range incoming {
		if !seen[name] {
			seen[name] = true
			merged = append(merged, name)
		}
	}
	if len(merged) > maxScanSymbols {
		merged = merged[:maxScanSymbols]
	}
	return merged
}
