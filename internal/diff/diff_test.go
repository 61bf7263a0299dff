package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIdentical(t *testing.T) {
	r := Compute("same\n", "same\n", "a.txt", false)
	assert.Empty(t, r.Unified)
	assert.Equal(t, 0, r.Added)
	assert.Equal(t, 0, r.Deleted)
	assert.Equal(t, "no changes", r.Summary())
}

func TestComputeAddition(t *testing.T) {
	oldContent := "line one\nline two\n"
	newContent := "line one\nline two\nline three\n"

	r := Compute(oldContent, newContent, "notes.md", false)
	assert.Equal(t, 1, r.Added)
	assert.Equal(t, 0, r.Deleted)
	assert.Contains(t, r.Unified, "--- a/notes.md")
	assert.Contains(t, r.Unified, "+++ b/notes.md")
	assert.Contains(t, r.Unified, "+line three")
	assert.Equal(t, "+1 -0", r.Summary())
}

func TestComputeReplacement(t *testing.T) {
	oldContent := "alpha\nbeta\ngamma\n"
	newContent := "alpha\nBETA\ngamma\n"

	r := Compute(oldContent, newContent, "greek.txt", false)
	assert.Equal(t, 1, r.Added)
	assert.Equal(t, 1, r.Deleted)
	assert.Contains(t, r.Unified, "-beta")
	assert.Contains(t, r.Unified, "+BETA")
	// Unchanged lines render as context.
	assert.Contains(t, r.Unified, " alpha")
}

func TestComputeBinary(t *testing.T) {
	r := Compute("text", "bin\x00ary", "blob.bin", false)
	require.True(t, r.Binary)
	assert.Contains(t, r.Unified, "Binary file blob.bin changed")
	assert.Equal(t, "binary file changed", r.Summary())
}

func TestComputeUncoloredHasNoEscapes(t *testing.T) {
	r := Compute("a\n", "b\n", "f", false)
	assert.False(t, strings.Contains(r.Unified, "\x1b["))
}

func TestCounts(t *testing.T) {
	added, deleted := Counts("one\ntwo\n", "one\nthree\nfour\n")
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, deleted)
}
