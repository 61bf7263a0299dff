// Package diff renders unified diffs and change counts for edit records
// and tool-result previews.
package diff

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// maxDiffBytes guards against diffing very large files.
const maxDiffBytes = 10 * 1024 * 1024

// Result holds a rendered unified diff and its line statistics.
type Result struct {
	Unified string
	Added   int
	Deleted int
	Binary  bool
}

// Summary renders the counts in "+N -M" form.
func (r *Result) Summary() string {
	if r.Binary {
		return "binary file changed"
	}
	if r.Added == 0 && r.Deleted == 0 {
		return "no changes"
	}
	return fmt.Sprintf("+%d -%d", r.Added, r.Deleted)
}

// Compute diffs two versions of a file at line granularity. The colored
// flag controls ANSI output for terminal display; persisted diffs pass
// false.
func Compute(oldContent, newContent, path string, colored bool) *Result {
	if oldContent == newContent {
		return &Result{}
	}
	if isBinary(oldContent) || isBinary(newContent) {
		return &Result{
			Unified: fmt.Sprintf("Binary file %s changed", path),
			Binary:  true,
		}
	}
	if len(oldContent) > maxDiffBytes || len(newContent) > maxDiffBytes {
		return &Result{
			Unified: fmt.Sprintf("--- a/%s\n+++ b/%s\n@@ file too large, diff skipped @@\n", path, path),
		}
	}

	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lines := dmp.DiffLinesToRunes(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(oldRunes, newRunes, false), lines)

	p := newPrinter(colored)
	var body strings.Builder
	added, deleted := 0, 0
	for _, d := range diffs {
		for _, line := range splitKeepNonEmpty(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				body.WriteString(p.add("+" + line))
				added++
			case diffmatchpatch.DiffDelete:
				body.WriteString(p.del("-" + line))
				deleted++
			default:
				body.WriteString(" " + line + "\n")
			}
		}
	}

	oldCount := strings.Count(oldContent, "\n") + 1
	newCount := strings.Count(newContent, "\n") + 1
	var out strings.Builder
	out.WriteString(p.del(fmt.Sprintf("--- a/%s", path)))
	out.WriteString(p.add(fmt.Sprintf("+++ b/%s", path)))
	out.WriteString(p.hunk(fmt.Sprintf("@@ -1,%d +1,%d @@", oldCount, newCount)))
	out.WriteString(body.String())

	return &Result{
		Unified: out.String(),
		Added:   added,
		Deleted: deleted,
	}
}

// Counts returns only the added/deleted line totals, for callers that do
// not need the rendered text.
func Counts(oldContent, newContent string) (added, deleted int) {
	r := Compute(oldContent, newContent, "", false)
	return r.Added, r.Deleted
}

type printer struct {
	colored bool
}

func newPrinter(colored bool) printer { return printer{colored: colored} }

func (p printer) add(line string) string  { return p.paint(line, color.FgGreen) }
func (p printer) del(line string) string  { return p.paint(line, color.FgRed) }
func (p printer) hunk(line string) string { return p.paint(line, color.FgCyan) }

func (p printer) paint(line string, attr color.Attribute) string {
	if !p.colored {
		return line + "\n"
	}
	return color.New(attr).Sprint(line) + "\n"
}

// splitKeepNonEmpty splits diff text into lines, dropping the phantom
// empty line a trailing newline would otherwise produce.
func splitKeepNonEmpty(text string) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func isBinary(content string) bool {
	n := len(content)
	if n > 8000 {
		n = 8000
	}
	return strings.ContainsRune(content[:n], 0)
}
