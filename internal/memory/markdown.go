package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Long-term note categories. Router entry types map onto these sections
// of MEMORY.md.
const (
	categoryPreferences = "Preferences"
	categoryDecisions   = "Decisions"
	categoryLessons     = "Lessons Learned"
	categoryContext     = "Project Context"
)

var categoryOrder = []string{categoryPreferences, categoryDecisions, categoryLessons, categoryContext}

// Markdown owns the human-readable memory files: MEMORY.md with one
// section per category, and one daily note per local date. A single
// mutex serializes category rewrites so a section is never half-written.
type Markdown struct {
	dir      string
	dailyDir string
	longTerm string

	mu sync.Mutex
}

// NewMarkdown roots the markdown memory at dir (usually
// <data-root>/memory).
func NewMarkdown(dir string) *Markdown {
	return &Markdown{
		dir:      dir,
		dailyDir: filepath.Join(dir, "daily"),
		longTerm: filepath.Join(dir, "MEMORY.md"),
	}
}

// Dir returns the memory root directory.
func (m *Markdown) Dir() string { return m.dir }

// MergeCategory appends one bullet under the category's section in
// MEMORY.md, creating the file or section on first use. The rewrite is
// read-modify-write under the lock; other categories are untouched.
func (m *Markdown) MergeCategory(category, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("memory: content is required")
	}
	heading, ok := categoryHeading(category)
	if !ok {
		return fmt.Errorf("memory: unknown category %q", category)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sections, err := m.readSections()
	if err != nil {
		return err
	}
	bullet := "- " + strings.ReplaceAll(content, "\n", " ")
	if !containsLine(sections[heading], bullet) {
		sections[heading] = append(sections[heading], bullet)
	}
	return m.writeSections(sections)
}

// LongTerm returns the full MEMORY.md contents, empty when absent.
func (m *Markdown) LongTerm() (string, error) {
	data, err := os.ReadFile(m.longTerm)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Category returns the bullets recorded under one category.
func (m *Markdown) Category(category string) ([]string, error) {
	heading, ok := categoryHeading(category)
	if !ok {
		return nil, fmt.Errorf("memory: unknown category %q", category)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sections, err := m.readSections()
	if err != nil {
		return nil, err
	}
	return sections[heading], nil
}

// AppendDaily appends a timestamped block to today's note (or the note
// for entry time when set) and returns the note path.
func (m *Markdown) AppendDaily(title, content string, at time.Time) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("memory: content is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	if err := os.MkdirAll(m.dailyDir, 0o755); err != nil {
		return "", err
	}

	date := at.Format("2006-01-02")
	path := filepath.Join(m.dailyDir, date+".md")

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	var block strings.Builder
	if len(existing) == 0 {
		block.WriteString("# " + date + "\n")
	}
	if title = strings.TrimSpace(title); title == "" {
		title = "Note"
	}
	block.WriteString(fmt.Sprintf("\n## %s - %s\n%s\n", at.Format("3:04 PM"), title, content))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(block.String()); err != nil {
		return "", err
	}
	return path, nil
}

// Daily returns the note for one local date, empty when absent.
func (m *Markdown) Daily(day time.Time) (string, error) {
	if day.IsZero() {
		day = time.Now()
	}
	path := filepath.Join(m.dailyDir, day.Format("2006-01-02")+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// RecentDaily concatenates the notes for the last includeDays dates that
// have one, newest first.
func (m *Markdown) RecentDaily(includeDays int) (string, error) {
	if includeDays <= 0 {
		includeDays = 3
	}
	entries, err := os.ReadDir(m.dailyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var dates []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		dates = append(dates, strings.TrimSuffix(name, ".md"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > includeDays {
		dates = dates[:includeDays]
	}

	var out strings.Builder
	for _, date := range dates {
		data, err := os.ReadFile(filepath.Join(m.dailyDir, date+".md"))
		if err != nil {
			continue
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(strings.TrimSpace(string(data)))
	}
	return out.String(), nil
}

func categoryHeading(category string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "preference", "preferences":
		return categoryPreferences, true
	case "decision", "decisions":
		return categoryDecisions, true
	case "lesson", "lessons":
		return categoryLessons, true
	case "context":
		return categoryContext, true
	}
	return "", false
}

// readSections parses MEMORY.md into category → bullets. Unknown
// sections are preserved under their own heading.
func (m *Markdown) readSections() (map[string][]string, error) {
	sections := make(map[string][]string)
	data, err := os.ReadFile(m.longTerm)
	if err != nil {
		if os.IsNotExist(err) {
			return sections, nil
		}
		return nil, err
	}
	current := ""
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "## "):
			current = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
		case trimmed == "" || strings.HasPrefix(trimmed, "# "):
		case current != "":
			sections[current] = append(sections[current], trimmed)
		}
	}
	return sections, nil
}

func (m *Markdown) writeSections(sections map[string][]string) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	var out strings.Builder
	out.WriteString("# Project Memory\n")

	seen := make(map[string]bool, len(sections))
	ordered := make([]string, 0, len(sections))
	for _, heading := range categoryOrder {
		if len(sections[heading]) > 0 {
			ordered = append(ordered, heading)
			seen[heading] = true
		}
	}
	var extra []string
	for heading := range sections {
		if !seen[heading] && len(sections[heading]) > 0 {
			extra = append(extra, heading)
		}
	}
	sort.Strings(extra)
	ordered = append(ordered, extra...)

	for _, heading := range ordered {
		out.WriteString("\n## " + heading + "\n")
		for _, line := range sections[heading] {
			out.WriteString(line + "\n")
		}
	}
	return os.WriteFile(m.longTerm, []byte(out.String()), 0o644)
}

func containsLine(lines []string, want string) bool {
	for _, line := range lines {
		if line == want {
			return true
		}
	}
	return false
}
