package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	cases := map[string]string{
		"internal/config/load.go": "go",
		"web/app.tsx":             "typescript",
		"scripts/deploy.py":       "python",
		"src/lib.rs":              "rust",
		"README":                  "",
		"notes.txt":               "",
	}
	for path, want := range cases {
		require.Equal(t, want, DetectLanguage(path), path)
	}
}

func TestExtractSymbolsAcrossLanguages(t *testing.T) {
	goSrc := `package auth

type TokenStore struct{}

func (s *TokenStore) Issue(user string) (string, error) { return "", nil }

func hashPassword(raw string) string { return raw }
`
	symbols := ExtractSymbols(goSrc)
	require.Contains(t, symbols, "TokenStore")
	require.Contains(t, symbols, "Issue")
	require.Contains(t, symbols, "hashPassword")

	tsSrc := `export class SessionList {
  render() {}
}
export async function fetchSessions(url: string) {}
`
	symbols = ExtractSymbols(tsSrc)
	require.Contains(t, symbols, "SessionList")
	require.Contains(t, symbols, "fetchSessions")

	pySrc := "class Invoice:\n    def total(self):\n        return 0\n\ndef render_invoice(inv):\n    pass\n"
	symbols = ExtractSymbols(pySrc)
	require.Contains(t, symbols, "Invoice")
	require.Contains(t, symbols, "total")
	require.Contains(t, symbols, "render_invoice")
}

func TestExtractSymbolsDeduplicates(t *testing.T) {
	src := "func Load() {}\nfunc Load() {}\n"
	require.Equal(t, []string{"Load"}, ExtractSymbols(src))
}

func TestLeadingComment(t *testing.T) {
	require.Equal(t, "Package auth issues and verifies tokens.",
		leadingComment("// Package auth issues and verifies tokens.\npackage auth\n"))
	require.Equal(t, "deploy helpers",
		leadingComment("#!/usr/bin/env bash\n# deploy helpers\nset -e\n"))
	require.Equal(t, "", leadingComment("package auth\n"))
}

func TestIndexSourceReplacesAndMerges(t *testing.T) {
	index := newTestIndex(t)
	ctx := context.Background()

	full := "// login handler\npackage auth\n\nfunc Login() {}\nfunc logout() {}\n"
	require.NoError(t, index.IndexSource(ctx, "internal/auth/login.go", full, true))

	files, err := index.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "go", files[0].Language)
	require.Equal(t, "login handler", files[0].Summary)
	require.ElementsMatch(t, []string{"Login", "logout"}, files[0].Symbols)

	// An edit fragment merges its declarations instead of overwriting.
	require.NoError(t, index.IndexSource(ctx, "internal/auth/login.go", "func Refresh() {}\n", false))
	files, err = index.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "login handler", files[0].Summary)
	require.ElementsMatch(t, []string{"Login", "logout", "Refresh"}, files[0].Symbols)

	// A fresh full write replaces the symbol set.
	require.NoError(t, index.IndexSource(ctx, "internal/auth/login.go", "func Login() {}\n", true))
	files, err = index.Files(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Login"}, files[0].Symbols)
}

func TestIndexSourceRequiresPath(t *testing.T) {
	index := newTestIndex(t)
	require.Error(t, index.IndexSource(context.Background(), "  ", "func X() {}", true))
}
