package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/ksuid"

	"codecoder/internal/storage"
)

// EditOp is what happened to one file in an edit.
type EditOp string

const (
	EditCreate EditOp = "create"
	EditUpdate EditOp = "update"
	EditDelete EditOp = "delete"
	EditMove   EditOp = "move"
)

// EditFile is one file touched by an edit record.
type EditFile struct {
	Path       string `json:"path"`
	Op         EditOp `json:"op"`
	Additions  int    `json:"additions"`
	Deletions  int    `json:"deletions"`
	BeforeHash string `json:"beforeHash,omitempty"`
	AfterHash  string `json:"afterHash,omitempty"`
}

// EditRecord captures one successful write-class tool execution.
type EditRecord struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	Time      time.Time     `json:"time"`
	Files     []EditFile    `json:"files"`
	Agent     string        `json:"agent,omitempty"`
	Model     string        `json:"model,omitempty"`
	Tokens    int           `json:"tokens,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// EditLog is the append-only history of edits. Record IDs are ksuids, so
// key order is creation order.
type EditLog struct {
	store *storage.Store
}

// NewEditLog wraps a storage handle.
func NewEditLog(store *storage.Store) *EditLog {
	return &EditLog{store: store}
}

func editKey(id string) []string { return []string{"memory", "edits", id} }

// Append stores one record, assigning ID and time when unset.
func (e *EditLog) Append(ctx context.Context, record EditRecord) (EditRecord, error) {
	if len(record.Files) == 0 {
		return EditRecord{}, fmt.Errorf("edits: record has no files")
	}
	if record.ID == "" {
		record.ID = ksuid.New().String()
	}
	if record.Time.IsZero() {
		record.Time = time.Now()
	}
	if err := e.store.Write(ctx, editKey(record.ID), record); err != nil {
		return EditRecord{}, err
	}
	return record, nil
}

func (e *EditLog) all(ctx context.Context) ([]EditRecord, error) {
	entries, err := e.store.List(ctx, []string{"memory", "edits"})
	if err != nil {
		return nil, err
	}
	records := make([]EditRecord, 0, len(entries))
	for _, entry := range entries {
		var record EditRecord
		if err := entry.Decode(&record); err != nil {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Time.After(records[j].Time) })
	return records, nil
}

// Recent returns up to n records, newest first.
func (e *EditLog) Recent(ctx context.Context, n int) ([]EditRecord, error) {
	records, err := e.all(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(records) > n {
		records = records[:n]
	}
	return records, nil
}

// BySession returns the records for one session, newest first.
func (e *EditLog) BySession(ctx context.Context, sessionID string) ([]EditRecord, error) {
	records, err := e.all(ctx)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, record := range records {
		if record.SessionID == sessionID {
			out = append(out, record)
		}
	}
	return out, nil
}
