package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoder/internal/logging"
	"codecoder/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, nil, logging.Nop())
}

func appendText(t *testing.T, s *Store, sessionID string, role Role, text string) *Message {
	t.Helper()
	msg := &Message{
		SessionID: sessionID,
		Role:      role,
		Parts:     []Part{{Type: PartText, Text: text}},
	}
	require.NoError(t, s.Append(context.Background(), msg))
	return msg
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)
	assert.False(t, sess.CreatedAt.After(sess.UpdatedAt))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "proj-1", got.ProjectID)

	_, err = s.Get(ctx, "ses-missing")
	assert.Error(t, err)
}

func TestAppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)

	first := appendText(t, s, sess.ID, RoleUser, "hello")
	second := appendText(t, s, sess.ID, RoleAssistant, "hi there")

	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, ModeNormal, first.Mode)

	msgs, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, "hi there", msgs[1].Text())
}

func TestForkCopiesUpToMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)

	u1 := appendText(t, s, sess.ID, RoleUser, "u1")
	_ = u1
	appendText(t, s, sess.ID, RoleAssistant, "a1")
	u2 := appendText(t, s, sess.ID, RoleUser, "u2")
	appendText(t, s, sess.ID, RoleAssistant, "a2")

	fork, err := s.Fork(ctx, sess.ID, u2.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, fork.ForkedFrom)
	assert.NotEqual(t, sess.ID, fork.ID)

	forked, err := s.Messages(ctx, fork.ID)
	require.NoError(t, err)
	require.Len(t, forked, 3)
	assert.Equal(t, "u1", forked[0].Text())
	assert.Equal(t, "a1", forked[1].Text())
	assert.Equal(t, "u2", forked[2].Text())

	// Appending to the original must not leak into the fork.
	appendText(t, s, sess.ID, RoleUser, "u3")
	forked, err = s.Messages(ctx, fork.ID)
	require.NoError(t, err)
	assert.Len(t, forked, 3)

	// The fork keeps its own sequence counter past the copied span.
	next := appendText(t, s, fork.ID, RoleAssistant, "fork reply")
	assert.Equal(t, forked[2].Seq+1, next.Seq)
}

func TestForkUnknownMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)
	appendText(t, s, sess.ID, RoleUser, "u1")

	_, err = s.Fork(ctx, sess.ID, "msg-nope")
	assert.Error(t, err)
}

func TestDeleteRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)
	appendText(t, s, sess.ID, RoleUser, "u1")
	appendText(t, s, sess.ID, RoleAssistant, "a1")

	require.NoError(t, s.Delete(ctx, sess.ID))

	_, err = s.Get(ctx, sess.ID)
	assert.Error(t, err)
	msgs, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListFiltersByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "proj-a")
	require.NoError(t, err)
	_, err = s.Create(ctx, "proj-b")
	require.NoError(t, err)

	got, err := s.List(ctx, "proj-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestChildSessionKeepsParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)
	child, err := s.CreateChild(ctx, parent)
	require.NoError(t, err)

	got, err := s.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, parent.ID, got.ParentID)
	assert.Equal(t, parent.ProjectID, got.ProjectID)
}

func TestTitleAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)
	require.NoError(t, s.SetTitle(ctx, sess.ID, "Fix flaky tests"))
	require.NoError(t, s.SetSummary(ctx, sess.ID, "Investigated retry timing."))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fix flaky tests", got.Title)
	assert.Equal(t, "Investigated retry timing.", got.Summary)
}

func TestCompactionReplacementKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "proj-1")
	require.NoError(t, err)

	old1 := appendText(t, s, sess.ID, RoleUser, "old question")
	old2 := appendText(t, s, sess.ID, RoleAssistant, "old answer")
	recent := appendText(t, s, sess.ID, RoleUser, "recent question")

	// Prune the old span and insert the compaction pair in its place,
	// reusing the freed sequence slots.
	require.NoError(t, s.RemoveMessage(ctx, sess.ID, old1.ID))
	require.NoError(t, s.RemoveMessage(ctx, sess.ID, old2.ID))

	summary := &Message{
		ID:        "msg-compaction",
		SessionID: sess.ID,
		Seq:       old1.Seq,
		Role:      RoleUser,
		Mode:      ModeCompaction,
		Parts:     []Part{{Type: PartText, Text: "Summary of earlier work."}},
	}
	cont := &Message{
		ID:        "msg-continue",
		SessionID: sess.ID,
		Seq:       old2.Seq,
		Role:      RoleUser,
		Mode:      ModeContinue,
		Parts:     []Part{{Type: PartText, Text: "Continue from the summary."}},
	}
	require.NoError(t, s.SaveMessage(ctx, summary))
	require.NoError(t, s.SaveMessage(ctx, cont))

	msgs, err := s.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, ModeCompaction, msgs[0].Mode)
	assert.Equal(t, ModeContinue, msgs[1].Mode)
	assert.Equal(t, recent.ID, msgs[2].ID)
}
