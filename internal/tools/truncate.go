package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// TruncateResult enforces the tool's output cap. Oversized content is cut
// at the cap and the full text spilled to a file under dir, which the
// default permission rules allow the model to read back. The result is
// modified in place and returned.
func TruncateResult(result *Result, def Definition, dir string) *Result {
	limit := def.effectiveCap()
	if result == nil || len(result.Content) <= limit {
		return result
	}

	full := result.Content
	cut := limit
	for cut > 0 && !utf8.RuneStart(full[cut]) {
		cut--
	}

	note := fmt.Sprintf("\n\n[output truncated: %d of %d bytes shown]", cut, len(full))
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			spill := filepath.Join(dir, result.CallID+".txt")
			if err := os.WriteFile(spill, []byte(full), 0o644); err == nil {
				note = fmt.Sprintf("\n\n[output truncated: %d of %d bytes shown; full output at %s]",
					cut, len(full), spill)
			}
		}
	}

	result.Content = full[:cut] + note
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["truncated"] = true
	result.Metadata["fullBytes"] = len(full)
	return result
}
