package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	errs "codecoder/internal/errors"
	"codecoder/internal/session"
	"codecoder/internal/token"
	"codecoder/internal/utils/id"
)

// compactionMaxTokens caps the summary generation response.
const compactionMaxTokens = 4_096

// compactor shrinks a session transcript that no longer fits the model's
// context window. One pass prunes the oldest completed tool exchanges,
// then the oldest remaining messages, until at least
// max(minPruneTokens, excess) tokens are gone, and replaces them with a
// model-written summary plus a continue marker.
type compactor struct {
	rt   *Runtime
	sess *session.Session
}

// messageTokens is the projection cost of one message: the recorded part
// counts when present, a fast estimate otherwise.
func messageTokens(msg *session.Message) int {
	if n := msg.PartTokens(); n > 0 {
		return n
	}
	return token.EstimateFast(msg.ContentText())
}

func transcriptTokens(msgs []*session.Message) int {
	total := 0
	for _, msg := range msgs {
		total += messageTokens(msg)
	}
	return total
}

// overLimit reports whether the projected size of the next request
// exceeds the context limit. Exactly at the limit does not trigger.
func (c *compactor) overLimit(ctx context.Context) (bool, error) {
	msgs, err := c.rt.sessions.Messages(ctx, c.sess.ID)
	if err != nil {
		return false, errs.WithKind(errs.KindStorage, err)
	}
	return transcriptTokens(msgs) > c.rt.opts.ContextLimit, nil
}

func (c *compactor) run(ctx context.Context, force bool) error {
	msgs, err := c.rt.sessions.Messages(ctx, c.sess.ID)
	if err != nil {
		return errs.WithKind(errs.KindStorage, err)
	}

	total := transcriptTokens(msgs)
	excess := total - c.rt.opts.ContextLimit
	if excess <= 0 && !force {
		return nil
	}
	target := excess
	if target < minPruneTokens {
		target = minPruneTokens
	}

	protected := c.protectedSet(msgs)
	pruned := c.selectPrunable(msgs, protected, target)
	if len(pruned) < 2 {
		c.rt.logger.Warn("compaction: session %s has nothing prunable (total=%d, target=%d)",
			c.sess.ID, total, target)
		return nil
	}

	summary, err := c.summarize(ctx, pruned)
	if err != nil {
		return err
	}
	if err := c.replace(ctx, pruned, summary); err != nil {
		return err
	}

	c.rt.logger.Info("compacted session %s: pruned %d messages (%d tokens, target %d)",
		c.sess.ID, len(pruned), transcriptTokens(pruned), target)
	return nil
}

// protectedSet marks the messages compaction must never touch: system
// prompts, the most recent token window, calls of compaction-protected
// tools with their results, and any call still waiting on its result.
func (c *compactor) protectedSet(msgs []*session.Message) map[string]bool {
	protected := make(map[string]bool)

	recent := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if recent >= c.rt.opts.ProtectedRecentTokens {
			break
		}
		protected[msgs[i].ID] = true
		recent += messageTokens(msgs[i])
	}

	resultLoc := make(map[string]string) // call id → id of message with its result
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if part.Type == session.PartToolResult {
				resultLoc[part.CallID] = msg.ID
			}
		}
	}

	for _, msg := range msgs {
		if msg.Role == session.RoleSystem {
			protected[msg.ID] = true
			continue
		}
		for _, part := range msg.Parts {
			if part.Type != session.PartToolCall {
				continue
			}
			resultID, completed := resultLoc[part.CallID]
			if !completed {
				// Pending exchange: the expected result has not landed.
				protected[msg.ID] = true
				continue
			}
			if c.isProtectedTool(part.Tool) {
				protected[msg.ID] = true
				protected[resultID] = true
			}
		}
	}
	return protected
}

func (c *compactor) isProtectedTool(name string) bool {
	executor, err := c.rt.tools.Get(name)
	if err != nil {
		return false
	}
	return executor.Definition().Protected
}

// selectPrunable picks messages worth target tokens: completed tool
// exchanges oldest first, then any remaining unprotected messages oldest
// first. The result is in sequence order.
func (c *compactor) selectPrunable(msgs []*session.Message, protected map[string]bool, target int) []*session.Message {
	resultMsg := make(map[string]*session.Message)
	for _, msg := range msgs {
		for _, part := range msg.Parts {
			if part.Type == session.PartToolResult {
				resultMsg[part.CallID] = msg
			}
		}
	}

	selected := make(map[string]bool)
	var out []*session.Message
	got := 0
	add := func(msg *session.Message) {
		if selected[msg.ID] || protected[msg.ID] {
			return
		}
		selected[msg.ID] = true
		out = append(out, msg)
		got += messageTokens(msg)
	}

	for _, msg := range msgs {
		if got >= target {
			break
		}
		calls := msg.ToolCalls()
		if len(calls) == 0 || protected[msg.ID] {
			continue
		}
		unit := []*session.Message{msg}
		complete := true
		for _, call := range calls {
			rm, ok := resultMsg[call.CallID]
			if !ok || protected[rm.ID] {
				complete = false
				break
			}
			unit = append(unit, rm)
		}
		if !complete {
			continue
		}
		for _, um := range unit {
			add(um)
		}
	}

	for _, msg := range msgs {
		if got >= target {
			break
		}
		add(msg)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// summarize asks the hidden compaction agent for a dense summary of the
// span being removed.
func (c *compactor) summarize(ctx context.Context, pruned []*session.Message) (string, error) {
	var b strings.Builder
	b.WriteString("The following conversation span is being removed to free context. Summarize it.\n\n")
	for _, msg := range pruned {
		fmt.Fprintf(&b, "[%s]\n%s\n", msg.Role, renderParts(msg))
	}
	b.WriteString("\nMessages after this span stay in the conversation verbatim; do not restate them.")

	info, err := c.rt.agents.Get("compaction")
	if err != nil {
		return "", err
	}
	summary, err := c.rt.generate(ctx, info, c.rt.cfg.ModelFor(info.Model), b.String(), compactionMaxTokens)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("compaction summary came back empty")
	}
	return summary, nil
}

// replace removes the pruned messages and inserts the summary pair into
// the two oldest freed sequence slots: one compaction message, one
// continue message.
func (c *compactor) replace(ctx context.Context, pruned []*session.Message, summary string) error {
	seqs := make([]int, len(pruned))
	for i, msg := range pruned {
		seqs[i] = msg.Seq
	}
	sort.Ints(seqs)

	for _, msg := range pruned {
		if err := c.rt.sessions.RemoveMessage(ctx, c.sess.ID, msg.ID); err != nil {
			return errs.WithKind(errs.KindStorage, err)
		}
	}

	now := time.Now()
	summaryMsg := &session.Message{
		ID:        id.NewMessageID(),
		SessionID: c.sess.ID,
		Seq:       seqs[0],
		Role:      session.RoleUser,
		Mode:      session.ModeCompaction,
		Parts: []session.Part{{
			Type:   session.PartText,
			Text:   "Summary of the earlier conversation:\n\n" + summary,
			Tokens: token.Count(summary),
		}},
		CreatedAt: now,
	}
	continueText := "Continue from the summary above. The messages that follow are the live conversation."
	continueMsg := &session.Message{
		ID:        id.NewMessageID(),
		SessionID: c.sess.ID,
		Seq:       seqs[1],
		Role:      session.RoleUser,
		Mode:      session.ModeContinue,
		Parts: []session.Part{{
			Type:   session.PartText,
			Text:   continueText,
			Tokens: token.Count(continueText),
		}},
		CreatedAt: now,
	}

	if err := c.rt.sessions.SaveMessage(ctx, summaryMsg); err != nil {
		return errs.WithKind(errs.KindStorage, err)
	}
	if err := c.rt.sessions.SaveMessage(ctx, continueMsg); err != nil {
		return errs.WithKind(errs.KindStorage, err)
	}
	return nil
}

// renderParts flattens a message for the summarization request, bounding
// each part so one huge tool result cannot blow the compaction request.
func renderParts(msg *session.Message) string {
	var b strings.Builder
	for _, part := range msg.Parts {
		switch part.Type {
		case session.PartText, session.PartReasoning:
			b.WriteString(clipText(part.Text, 2000))
		case session.PartToolCall:
			fmt.Fprintf(&b, "(call %s %s)", part.Tool, clipText(string(part.Input), 400))
		case session.PartToolResult:
			fmt.Fprintf(&b, "(result %s)", clipText(part.Output, 2000))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
