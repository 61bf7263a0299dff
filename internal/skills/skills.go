// Package skills discovers reusable workflow playbooks and exposes them
// to the model as dynamic tools. A skill is a folder holding a SKILL.md
// whose YAML front matter names and describes it; invoking the tool
// returns the playbook body for the model to follow.
package skills

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	errs "codecoder/internal/errors"
	"codecoder/internal/logging"
)

// Skill is one loaded playbook.
type Skill struct {
	Name        string
	Description string
	Title       string
	Body        string
	SourcePath  string
	Root        string
}

// Library is the set of skills discovered across the configured roots.
type Library struct {
	skills []Skill
	byName map[string]Skill
	roots  []string
}

// Roots returns the directories the library was discovered from.
func (l Library) Roots() []string { return append([]string(nil), l.roots...) }

// List returns all skills sorted by name.
func (l Library) List() []Skill {
	out := append([]Skill(nil), l.skills...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a skill by name, tolerant of case and spacing.
func (l Library) Get(name string) (Skill, bool) {
	if l.byName == nil {
		return Skill{}, false
	}
	skill, ok := l.byName[NormalizeName(name)]
	return skill, ok
}

// Len returns the number of discovered skills.
func (l Library) Len() int { return len(l.skills) }

// Discover loads skills from each root in precedence order. A skill in an
// earlier root shadows one with the same normalized name in a later root;
// two skills sharing a name inside the same root are a configuration
// error. Missing roots are skipped.
func Discover(roots []string, logger logging.Logger) (Library, error) {
	byName := make(map[string]Skill)
	var all []Skill
	var seen []string
	for _, root := range roots {
		trimmed := strings.TrimSpace(root)
		if trimmed == "" {
			continue
		}
		loaded, err := loadRoot(trimmed)
		if err != nil {
			return Library{}, errs.WithKind(errs.KindConfiguration, err)
		}
		seen = append(seen, trimmed)
		inRoot := make(map[string]string, len(loaded))
		for _, skill := range loaded {
			key := NormalizeName(skill.Name)
			if prior, dup := inRoot[key]; dup {
				return Library{}, errs.WithKind(errs.KindConfiguration,
					fmt.Errorf("duplicate skill name %q: %s and %s", key, prior, skill.SourcePath))
			}
			inRoot[key] = skill.SourcePath
			if prior, shadowed := byName[key]; shadowed {
				if logger != nil {
					logger.Debug("skill %q from %s shadows %s", key, prior.SourcePath, skill.SourcePath)
				}
				continue
			}
			byName[key] = skill
			all = append(all, skill)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return Library{skills: all, byName: byName, roots: seen}, nil
}

// loadRoot parses every <root>/<skill>/SKILL.md under one directory.
func loadRoot(root string) ([]Skill, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat skills dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("skills dir %s is not a directory", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "SKILL.md")
		if fi, err := os.Stat(path); err != nil || fi.IsDir() {
			continue
		}
		skill, err := parseSkillFile(path)
		if err != nil {
			return nil, err
		}
		if skill.Name == "" {
			return nil, fmt.Errorf("skill %s missing name front matter", path)
		}
		if skill.Description == "" {
			return nil, fmt.Errorf("skill %s missing description front matter", path)
		}
		skill.Root = root
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].SourcePath < skills[j].SourcePath })
	return skills, nil
}

type frontMatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func parseSkillFile(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("read skill %s: %w", path, err)
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")

	metaText, bodyText, hasFrontMatter := splitFrontMatter(content)
	var meta frontMatter
	if hasFrontMatter {
		if err := yaml.Unmarshal([]byte(metaText), &meta); err != nil {
			return Skill{}, fmt.Errorf("parse skill front matter %s: %w", path, err)
		}
	}

	body := strings.TrimSpace(bodyText)
	title := extractMarkdownTitle(body)
	if title == "" {
		title = meta.Name
	}

	return Skill{
		Name:        strings.TrimSpace(meta.Name),
		Description: strings.TrimSpace(meta.Description),
		Title:       title,
		Body:        body,
		SourcePath:  path,
	}, nil
}

func splitFrontMatter(content string) (string, string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) < 3 || strings.TrimSpace(lines[0]) != "---" {
		return "", content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			meta := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return meta, body, true
		}
	}
	return "", content, false
}

func extractMarkdownTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "<!--") {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
		break
	}
	return ""
}

// NormalizeName normalizes a skill name for lookups.
func NormalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
