// Package vector maintains a dense-vector index over memory snippets.
// Text is embedded on write and queried by cosine similarity. When no
// model-backed embedder is configured a deterministic hash embedder
// stands in: identical texts always produce identical vectors and texts
// sharing terms land near each other, but paraphrases do not. Recall
// quality is term-level under the fallback; plug a real Embedder in for
// semantic search.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder generates dense vectors for text. Implementations must be
// deterministic per input or memoize their outputs, since the index
// keeps exactly one vector per document.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

const (
	// hashDimensions is the vector width of the fallback embedder.
	hashDimensions = 256

	// DefaultCacheSize bounds the embedding memoization cache.
	DefaultCacheSize = 10000
)

// HashEmbedder is the zero-configuration fallback. It feature-hashes
// the terms of the text into a fixed-width signed histogram and
// L2-normalizes the result, so cosine similarity reduces to weighted
// term overlap. Identifiers are split on case and underscore boundaries
// before hashing, which lets a plain-English query match camelCase
// code.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns the deterministic fallback embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{dims: hashDimensions}
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

// Embed hashes each term into a bucket with a sign and returns the
// normalized accumulation. It never fails.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, term := range hashTerms(text) {
		sum := sha256.Sum256([]byte(term))
		bucket := int(binary.BigEndian.Uint32(sum[:4]) % uint32(e.dims))
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	normalize(vec)
	return vec, nil
}

var wordRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

func hashTerms(text string) []string {
	var terms []string
	for _, word := range wordRe.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			if len(part) < 2 {
				continue
			}
			terms = append(terms, strings.ToLower(part))
		}
	}
	return terms
}

// splitIdentifier breaks snake_case and camelCase words into their
// parts: "handleLogin" becomes [handle, Login], "HTTPServer" becomes
// [HTTP, Server].
func splitIdentifier(word string) []string {
	var parts []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			parts = append(parts, string(current))
			current = current[:0]
		}
	}
	runes := []rune(word)
	for i, r := range runes {
		if r == '_' {
			flush()
			continue
		}
		if i > 0 && unicode.IsUpper(r) {
			if unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1])) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	return parts
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// CachedEmbedder memoizes another embedder behind an LRU cache keyed by
// the input text.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given size. A size
// of zero or less uses DefaultCacheSize.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Dimensions returns the inner embedder's dimension.
func (e *CachedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Embed returns the cached vector for text or computes and caches one.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}
