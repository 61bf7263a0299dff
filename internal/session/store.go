package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"codecoder/internal/bus"
	"codecoder/internal/logging"
	"codecoder/internal/storage"
	"codecoder/internal/utils/id"
)

// Store persists sessions and messages as path tuples: session/info/<id>
// for the session record, session/message/<sessionID>/<messageID> for each
// message. Ordering within a session is carried by Message.Seq, allocated
// from the session's NextSeq counter.
type Store struct {
	db     *storage.Store
	events *bus.Bus
	logger logging.Logger

	mu sync.Mutex // serializes seq allocation per process
}

func NewStore(db *storage.Store, events *bus.Bus, logger logging.Logger) *Store {
	return &Store{db: db, events: events, logger: logging.OrNop(logger)}
}

func infoKey(sessionID string) []string {
	return []string{"session", "info", sessionID}
}

func messageKey(sessionID, messageID string) []string {
	return []string{"session", "message", sessionID, messageID}
}

// Create starts an empty session for the project.
func (s *Store) Create(ctx context.Context, projectID string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:        id.NewSessionID(),
		ProjectID: projectID,
		NextSeq:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.Write(ctx, infoKey(sess.ID), sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("created session %s (project=%s)", sess.ID, projectID)
	return sess, nil
}

// CreateChild starts a session for a sub-agent run, tied to its parent.
func (s *Store) CreateChild(ctx context.Context, parent *Session) (*Session, error) {
	child, err := s.Create(ctx, parent.ProjectID)
	if err != nil {
		return nil, err
	}
	child.ParentID = parent.ID
	if err := s.db.Write(ctx, infoKey(child.ID), child); err != nil {
		return nil, fmt.Errorf("create child session: %w", err)
	}
	return child, nil
}

// Get loads a session record.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	found, err := s.db.Read(ctx, infoKey(sessionID), &sess)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return &sess, nil
}

// Save persists the session record and bumps its updated time.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = time.Now()
	return s.db.Write(ctx, infoKey(sess.ID), sess)
}

// List returns every session for the project, most recently updated first.
func (s *Store) List(ctx context.Context, projectID string) ([]*Session, error) {
	entries, err := s.db.List(ctx, []string{"session", "info"})
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(entries))
	for _, entry := range entries {
		var sess Session
		if err := entry.Decode(&sess); err != nil {
			s.logger.Warn("skipping undecodable session %v: %v", entry.Key, err)
			continue
		}
		if projectID != "" && sess.ProjectID != projectID {
			continue
		}
		sessions = append(sessions, &sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// Delete removes the session record and all of its messages.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	entries, err := s.db.List(ctx, []string{"session", "message", sessionID})
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := s.db.Remove(ctx, entry.Key); err != nil {
			return err
		}
	}
	return s.db.Remove(ctx, infoKey(sessionID))
}

// Append assigns the next sequence number and persists the message.
func (s *Store) Append(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.Get(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = id.NewMessageID()
	}
	if msg.Mode == "" {
		msg.Mode = ModeNormal
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.Seq = sess.NextSeq
	sess.NextSeq++

	if err := s.db.Write(ctx, messageKey(msg.SessionID, msg.ID), msg); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if err := s.Save(ctx, sess); err != nil {
		return err
	}
	s.publishUpdate(msg)
	return nil
}

// SaveMessage rewrites an existing message in place. The runtime uses this
// for the in-flight assistant message as stream deltas land and for the
// compaction replacements, which arrive with an explicit Seq.
func (s *Store) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" || msg.Seq == 0 {
		return fmt.Errorf("save message: missing id or seq")
	}
	if err := s.db.Write(ctx, messageKey(msg.SessionID, msg.ID), msg); err != nil {
		return err
	}
	s.publishUpdate(msg)
	return nil
}

// RemoveMessage deletes one message, used by compaction pruning.
func (s *Store) RemoveMessage(ctx context.Context, sessionID, messageID string) error {
	return s.db.Remove(ctx, messageKey(sessionID, messageID))
}

// Messages returns the session transcript in sequence order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]*Message, error) {
	entries, err := s.db.List(ctx, []string{"session", "message", sessionID})
	if err != nil {
		return nil, err
	}
	msgs := make([]*Message, 0, len(entries))
	for _, entry := range entries {
		var msg Message
		if err := entry.Decode(&msg); err != nil {
			s.logger.Warn("skipping undecodable message %v: %v", entry.Key, err)
			continue
		}
		msgs = append(msgs, &msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Seq != msgs[j].Seq {
			return msgs[i].Seq < msgs[j].Seq
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// Fork copies the session's messages up to and including atMessageID into
// a fresh session and records where it came from. The copy keeps message
// IDs and sequence numbers, so later writes to the original never reach
// the fork.
func (s *Store) Fork(ctx context.Context, sessionID, atMessageID string) (*Session, error) {
	src, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cut := -1
	for i, msg := range msgs {
		if msg.ID == atMessageID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, fmt.Errorf("message not found in session %s: %s", sessionID, atMessageID)
	}

	fork, err := s.Create(ctx, src.ProjectID)
	if err != nil {
		return nil, err
	}
	fork.ForkedFrom = src.ID
	fork.Title = src.Title
	fork.NextSeq = msgs[cut].Seq + 1

	for _, msg := range msgs[:cut+1] {
		copied := *msg
		copied.SessionID = fork.ID
		if err := s.db.Write(ctx, messageKey(fork.ID, copied.ID), &copied); err != nil {
			return nil, fmt.Errorf("fork message %s: %w", copied.ID, err)
		}
	}
	if err := s.Save(ctx, fork); err != nil {
		return nil, err
	}
	s.logger.Info("forked session %s at %s -> %s", sessionID, atMessageID, fork.ID)
	return fork, nil
}

// SetTitle persists a generated or user-chosen title.
func (s *Store) SetTitle(ctx context.Context, sessionID, title string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Title = title
	return s.Save(ctx, sess)
}

// SetSummary persists an on-demand session summary.
func (s *Store) SetSummary(ctx context.Context, sessionID, summary string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Summary = summary
	return s.Save(ctx, sess)
}

func (s *Store) publishUpdate(msg *Message) {
	if s.events == nil {
		return
	}
	s.events.Publish(bus.Event{
		Type:      bus.EventSessionMessageUpdated,
		SessionID: msg.SessionID,
		Payload: map[string]any{
			"messageId": msg.ID,
			"role":      string(msg.Role),
			"mode":      string(msg.Mode),
		},
	})
}
