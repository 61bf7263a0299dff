package builtin

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolvePath makes tool-supplied paths absolute against the worktree.
// The permission layer has already ruled on the raw value; this only
// normalizes for the filesystem call.
func resolvePath(workDir, p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "~/") {
		return "", fmt.Errorf("home-relative paths are not supported: %s", p)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	return filepath.Clean(p), nil
}
