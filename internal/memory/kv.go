// Package memory holds the learning subsystems: the unified key-value
// store, long-term and daily Markdown notes, style and pattern learning,
// project knowledge, the code index, the edit log, and the router that
// fans writes out to all of them. Everything persists through the shared
// storage contract; the context builder assembles the per-turn snapshot.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"codecoder/internal/storage"
)

const (
	// DefaultKVTTL is how long an untouched entry survives a sweep.
	DefaultKVTTL = 30 * 24 * time.Hour
	// DefaultKVCap is the entry count Trim prunes down to.
	DefaultKVCap = 2000

	kvCacheSize = 256
	kvCacheTTL  = time.Minute
)

// Entry is one record in the unified key-value store.
type Entry struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	Tags     []string        `json:"tags,omitempty"`
	Size     int             `json:"size"`
	Created  time.Time       `json:"created"`
	Updated  time.Time       `json:"updated"`
	Accessed time.Time       `json:"accessed"`
}

// Decode unmarshals the entry value.
func (e Entry) Decode(out any) error {
	return json.Unmarshal(e.Value, out)
}

// KV is the unified key-value store the router upserts into. Reads go
// through a small expiring cache; writes always hit storage.
type KV struct {
	store *storage.Store
	cache *expirable.LRU[string, Entry]
	ttl   time.Duration
	cap   int
}

// NewKV wraps a storage handle in the key-value contract.
func NewKV(store *storage.Store) *KV {
	return &KV{
		store: store,
		cache: expirable.NewLRU[string, Entry](kvCacheSize, nil, kvCacheTTL),
		ttl:   DefaultKVTTL,
		cap:   DefaultKVCap,
	}
}

func kvKey(key string) []string { return []string{"memory", "kv", key} }

// Put upserts a value under key, preserving the creation time of an
// existing entry.
func (k *KV) Put(ctx context.Context, key string, value any, tags ...string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("kv: key is required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	now := time.Now()
	entry := Entry{
		Key:      key,
		Value:    raw,
		Tags:     tags,
		Size:     len(raw),
		Created:  now,
		Updated:  now,
		Accessed: now,
	}
	var prior Entry
	if ok, err := k.store.Read(ctx, kvKey(key), &prior); err == nil && ok {
		entry.Created = prior.Created
	}
	if err := k.store.Write(ctx, kvKey(key), entry); err != nil {
		return err
	}
	k.cache.Add(key, entry)
	return nil
}

// Get reads a value by key. A miss is (false, nil). Reads refresh the
// access time so Trim keeps hot entries.
func (k *KV) Get(ctx context.Context, key string, out any) (bool, error) {
	entry, ok, err := k.GetEntry(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if out != nil {
		if err := entry.Decode(out); err != nil {
			return true, fmt.Errorf("kv: decode %s: %w", key, err)
		}
	}
	return true, nil
}

// GetEntry reads the full record, metadata included.
func (k *KV) GetEntry(ctx context.Context, key string) (Entry, bool, error) {
	if entry, ok := k.cache.Get(key); ok {
		return entry, true, nil
	}
	var entry Entry
	ok, err := k.store.Read(ctx, kvKey(key), &entry)
	if err != nil || !ok {
		return Entry{}, ok, err
	}
	entry.Accessed = time.Now()
	// Access-time refresh is best effort; the value itself is unchanged.
	_ = k.store.Write(ctx, kvKey(key), entry)
	k.cache.Add(key, entry)
	return entry, true, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (k *KV) Delete(ctx context.Context, key string) error {
	k.cache.Remove(key)
	return k.store.Remove(ctx, kvKey(key))
}

// List returns all entries, newest update first.
func (k *KV) List(ctx context.Context) ([]Entry, error) {
	raw, err := k.store.List(ctx, []string{"memory", "kv"})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := item.Decode(&entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Updated.After(entries[j].Updated) })
	return entries, nil
}

// Sweep evicts entries whose access time is older than the TTL and
// returns how many were removed.
func (k *KV) Sweep(ctx context.Context) (int, error) {
	entries, err := k.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-k.ttl)
	removed := 0
	for _, entry := range entries {
		if entry.Accessed.After(cutoff) {
			continue
		}
		if err := k.Delete(ctx, entry.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Trim prunes least-recently-accessed entries until at most max remain.
func (k *KV) Trim(ctx context.Context, max int) (int, error) {
	if max <= 0 {
		max = k.cap
	}
	entries, err := k.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(entries) <= max {
		return 0, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Accessed.Before(entries[j].Accessed) })
	removed := 0
	for _, entry := range entries[:len(entries)-max] {
		if err := k.Delete(ctx, entry.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
