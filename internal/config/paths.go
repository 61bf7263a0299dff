package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	errs "codecoder/internal/errors"
)

// Paths resolves the filesystem layout for one worktree: where hooks,
// skills, memory, plans, and truncated tool output live.
type Paths struct {
	Worktree  string
	Home      string
	DataRoot  string
	projectID string
}

// ResolvePaths validates the worktree and fixes the layout roots. The
// worktree must be an existing directory.
func ResolvePaths(worktree string, opts ...Option) (Paths, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	abs, err := filepath.Abs(worktree)
	if err != nil {
		return Paths{}, errs.WithKind(errs.KindConfiguration, fmt.Errorf("resolve worktree %s: %w", worktree, err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Paths{}, errs.WithKind(errs.KindConfiguration, fmt.Errorf("worktree %s: %w", abs, err))
	}
	if !info.IsDir() {
		return Paths{}, errs.WithKind(errs.KindConfiguration, fmt.Errorf("worktree %s is not a directory", abs))
	}

	home, err := options.homeDir()
	if err != nil {
		return Paths{}, errs.WithKind(errs.KindConfiguration, fmt.Errorf("resolve home directory: %w", err))
	}
	dataRoot, err := resolveDataRoot(options)
	if err != nil {
		return Paths{}, errs.WithKind(errs.KindConfiguration, fmt.Errorf("resolve data root: %w", err))
	}

	return Paths{
		Worktree:  abs,
		Home:      home,
		DataRoot:  dataRoot,
		projectID: ProjectID(abs),
	}, nil
}

// ProjectID derives the stable project identifier from the absolute
// worktree path. Same path, same id, across runs and machines.
func ProjectID(worktree string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(worktree)))
	return hex.EncodeToString(sum[:])[:16]
}

// ProjectID returns the identifier fixed at resolution time.
func (p Paths) ProjectID() string { return p.projectID }

// HookFiles lists the hooks.json locations in evaluation order: project
// locations before home locations.
func (p Paths) HookFiles() []string {
	return []string{
		filepath.Join(p.Worktree, ".ccode", "hooks", "hooks.json"),
		filepath.Join(p.Worktree, ".claude", "hooks", "hooks.json"),
		filepath.Join(p.Home, ".ccode", "hooks", "hooks.json"),
		filepath.Join(p.Home, ".claude", "hooks", "hooks.json"),
	}
}

// SkillRoots lists the directories scanned for SKILL.md folders.
func (p Paths) SkillRoots() []string {
	return []string{
		filepath.Join(p.Worktree, ".ccode", "skills"),
		filepath.Join(p.Worktree, ".claude", "skills"),
		filepath.Join(p.Home, ".claude", "skills"),
	}
}

// TruncationDir is the project-local directory oversized tool output is
// written to. It is allow-listed by the default permission rules.
func (p Paths) TruncationDir() string {
	return filepath.Join(p.Worktree, ".ccode", "truncated")
}

// MemoryDir is the structured + markdown memory root.
func (p Paths) MemoryDir() string { return filepath.Join(p.DataRoot, "memory") }

// RecordsDir is the key-value record store location.
func (p Paths) RecordsDir() string { return filepath.Join(p.DataRoot, "memory", "records") }

// DailyDir holds date-keyed markdown notes.
func (p Paths) DailyDir() string { return filepath.Join(p.DataRoot, "memory", "daily") }

// LongTermFile is the long-term markdown memory.
func (p Paths) LongTermFile() string { return filepath.Join(p.DataRoot, "memory", "MEMORY.md") }

// PlansDir holds plan artifacts produced by the plan agent.
func (p Paths) PlansDir() string { return filepath.Join(p.DataRoot, "plans") }
