// Package storage provides the append-only, path-addressed record store the
// memory subsystems share. Keys are path tuples; values are self-describing
// JSON records. BadgerDB supplies the embedded key-value engine.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"codecoder/internal/logging"
)

// Config holds configuration for a Store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode; used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives badger's internal logging. Nil disables it.
	Logger logging.Logger

	// GCInterval is how often to run value-log garbage collection. 0 disables.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC runs.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults for a store rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Store is a path-addressed record store. All methods are safe for
// concurrent use.
type Store struct {
	db     *badger.DB
	logger logging.Logger

	gcStop    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// badgerLogger adapts the component logger to badger's Logger interface.
type badgerLogger struct {
	logger logging.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Error(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warn(format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Debug(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debug(format, args...) }

// Open creates and opens a store with the given configuration.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logging.OrNop(cfg.Logger),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.logger.Debug("value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC error: %v", err)
			}
		}
	}
}

// Close stops background GC and closes the database. Safe to call twice.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.gcStop != nil {
			close(s.gcStop)
			<-s.gcDone
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

const keySeparator = "/"

// encodeKey joins a path tuple into a flat key. Segments must be non-empty
// and free of the separator.
func encodeKey(key []string) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("key tuple is empty")
	}
	for _, segment := range key {
		if segment == "" {
			return nil, errors.New("key segment is empty")
		}
		if strings.Contains(segment, keySeparator) {
			return nil, fmt.Errorf("key segment %q contains separator", segment)
		}
	}
	return []byte(strings.Join(key, keySeparator)), nil
}

func decodeKey(raw []byte) []string {
	return strings.Split(string(raw), keySeparator)
}

// Write marshals value as JSON and stores it under the key tuple.
func (s *Store) Write(ctx context.Context, key []string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := encodeKey(key)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", encoded, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encoded, data)
	})
}

// Read unmarshals the record at the key tuple into out. A missing record is
// absence, not an error: found is false and out is untouched.
func (s *Store) Read(ctx context.Context, key []string, out any) (bool, error) {
	raw, found, err := s.ReadRaw(ctx, key)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("unmarshal record %s: %w", strings.Join(key, keySeparator), err)
	}
	return true, nil
}

// ReadRaw returns the raw record bytes at the key tuple.
func (s *Store) ReadRaw(ctx context.Context, key []string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	encoded, err := encodeKey(key)
	if err != nil {
		return nil, false, err
	}

	var raw []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encoded)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Remove deletes the record at the key tuple. Removing an absent key is a
// no-op.
func (s *Store) Remove(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := encodeKey(key)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encoded)
	})
}

// Entry is one record returned by List or Export.
type Entry struct {
	Key   []string        `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Decode unmarshals the entry value into out.
func (e Entry) Decode(out any) error {
	return json.Unmarshal(e.Value, out)
}

// List returns all records whose key tuple starts with prefix, in key order.
// An empty prefix returns every record.
func (s *Store) List(ctx context.Context, prefix []string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var seek []byte
	if len(prefix) > 0 {
		encoded, err := encodeKey(prefix)
		if err != nil {
			return nil, err
		}
		seek = encoded
	}

	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = seek
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := decodeKey(item.KeyCopy(nil))
			// Prefix match is per-segment: "a/b" must not match "a/bc".
			if len(prefix) > 0 && !tupleHasPrefix(key, prefix) {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{Key: key, Value: value})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func tupleHasPrefix(key, prefix []string) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i, segment := range prefix {
		if key[i] != segment {
			return false
		}
	}
	return true
}

// Export snapshots every record in the store.
func (s *Store) Export(ctx context.Context) ([]Entry, error) {
	return s.List(ctx, nil)
}

// Import writes every snapshot entry into the store. Existing records with
// matching keys are overwritten, so importing an export into an empty store
// reproduces it record for record.
func (s *Store) Import(ctx context.Context, entries []Entry) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		encoded, err := encodeKey(entry.Key)
		if err != nil {
			return err
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(encoded, entry.Value)
		}); err != nil {
			return err
		}
	}
	return nil
}
