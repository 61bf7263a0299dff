package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"codecoder/internal/agent"
	"codecoder/internal/async"
	"codecoder/internal/bus"
	errs "codecoder/internal/errors"
	"codecoder/internal/logging"
	"codecoder/internal/provider"
	"codecoder/internal/session"
	"codecoder/internal/token"
)

// turn drives one prompt to its terminal state. All mutation of the
// session happens on the turn's goroutine; concurrent callers interact
// through Abort and the permission engine only.
type turn struct {
	rt       *Runtime
	ctx      context.Context
	cancelFn context.CancelFunc
	sess     *session.Session
	agent    *agent.Info
	model    string
	logger   logging.Logger

	startedAt  time.Time
	userPrompt string

	// stateMu guards state: parallel tool goroutines flip it around
	// permission waits.
	stateMu sync.Mutex
	state   turnState

	// callMu guards callCounts, the per-turn tally behind doom-loop
	// detection: identical calls trip a confirmation check at the third
	// repetition.
	callMu       sync.Mutex
	callCounts   map[string]int
	decisionDone bool
}

func (t *turn) cancel() { t.cancelFn() }

func (t *turn) setState(s turnState) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

func (t *turn) currentState() turnState {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

// aborted reports whether the caller cancelled the turn.
func (t *turn) aborted() bool {
	return t.ctx.Err() != nil
}

// run executes the turn loop: append the user input, then alternate
// provider requests and tool dispatch until the model ends its turn, a
// step or failure limit is hit, or the caller aborts.
func (t *turn) run(req PromptRequest) (*session.Message, error) {
	t.setState(stateComposing)

	userMsg := t.buildUserMessage(req)
	if err := t.rt.sessions.Append(t.ctx, userMsg); err != nil {
		return nil, errs.WithKind(errs.KindStorage, err)
	}
	t.userPrompt = userMsg.Text()

	steps := t.agent.Steps
	if steps <= 0 {
		steps = 1
	}

	var lastAssistant *session.Message
	for step := 0; step < steps; step++ {
		if t.aborted() {
			return t.finishAborted(lastAssistant)
		}

		if err := t.compactIfNeeded(false); err != nil {
			return t.finishFailed(lastAssistant, err)
		}

		msg, err := t.requestOnce()
		if err != nil {
			if t.aborted() {
				return t.finishAborted(msg)
			}
			// A mid-conversation overflow the projection missed: compact
			// once and reissue before giving up.
			if provider.IsContextOverflow(err) {
				if cerr := t.compactIfNeeded(true); cerr != nil {
					return t.finishFailed(msg, cerr)
				}
				msg, err = t.requestOnce()
			}
			if err != nil {
				if t.aborted() {
					return t.finishAborted(msg)
				}
				return t.finishFailed(msg, err)
			}
		}
		lastAssistant = msg
		t.maybeGenerateTitle()

		calls := msg.ToolCalls()
		if len(calls) == 0 {
			return t.finishDone(msg)
		}

		t.setState(stateAwaitingTool)
		if err := t.dispatchCalls(msg, calls); err != nil {
			if t.aborted() {
				// Dispatch persisted the results it had, with the rest
				// marked Aborted; the assistant message stays as the
				// partial record.
				return t.finishAborted(msg)
			}
			return t.finishFailed(msg, err)
		}
	}

	t.logger.Warn("turn hit step limit (%d) in session %s", steps, t.sess.ID)
	return t.finishDone(lastAssistant)
}

// buildUserMessage materializes the request input as a user message with
// per-part token counts.
func (t *turn) buildUserMessage(req PromptRequest) *session.Message {
	parts := req.Parts
	if len(parts) == 0 {
		parts = []session.Part{{Type: session.PartText, Text: req.Text}}
	}
	for i := range parts {
		if parts[i].Tokens == 0 {
			parts[i].Tokens = token.Count(parts[i].Text)
		}
	}
	return &session.Message{
		SessionID: t.sess.ID,
		Role:      session.RoleUser,
		Agent:     t.agent.Name,
		Parts:     parts,
	}
}

// requestOnce issues one provider request with the retry policy and
// returns the persisted assistant message. The message is appended before
// streaming starts so subscribers can watch parts arrive; failed attempts
// roll its parts back before the next try.
func (t *turn) requestOnce() (*session.Message, error) {
	history, err := t.rt.sessions.Messages(t.ctx, t.sess.ID)
	if err != nil {
		return nil, errs.WithKind(errs.KindStorage, err)
	}
	req, err := t.composeRequest(history)
	if err != nil {
		return nil, err
	}

	msg := &session.Message{
		SessionID: t.sess.ID,
		Role:      session.RoleAssistant,
		Agent:     t.agent.Name,
		Model:     t.model,
		Parts:     []session.Part{},
	}
	if err := t.rt.sessions.Append(t.ctx, msg); err != nil {
		return nil, errs.WithKind(errs.KindStorage, err)
	}

	streamCtx, span := tracer.Start(t.ctx, "provider.stream",
		trace.WithAttributes(attribute.String("model", t.model)))
	cfg := errs.ProviderRetryConfig()
	_, err = errs.RetryWithResult(streamCtx, cfg, t.logger, func(ctx context.Context) (struct{}, error) {
		msg.Parts = msg.Parts[:0]
		msg.Usage = session.TokenUsage{}
		t.setState(stateStreaming)

		stream, err := t.rt.provider.Stream(ctx, req)
		if err != nil {
			return struct{}{}, t.noteRetry(err)
		}
		if err := t.consume(stream, msg); err != nil {
			return struct{}{}, t.noteRetry(err)
		}
		return struct{}{}, nil
	})
	span.SetAttributes(attribute.Int("tokens.output", msg.Usage.OutputTokens))
	if err != nil {
		span.RecordError(err)
	}
	span.End()

	// Flush whatever streamed, success or not: aborts and terminal
	// failures both keep the partial output in the message.
	msg.Error = ""
	if err != nil && !t.aborted() {
		msg.Error = userFacing(err)
	}
	if saveErr := t.rt.sessions.SaveMessage(context.WithoutCancel(t.ctx), msg); saveErr != nil {
		t.logger.Error("save assistant message %s: %v", msg.ID, saveErr)
	}
	if err != nil {
		return msg, errs.WithKind(errs.KindProvider, err)
	}
	return msg, nil
}

// noteRetry flips the state to retrying for transient failures so the
// backoff wait is observable, and passes the error through.
func (t *turn) noteRetry(err error) error {
	if errs.IsTransient(err) && !t.aborted() {
		t.setState(stateRetrying)
	}
	return err
}

// consume drains one provider stream into the assistant message, closing
// parts on boundaries and publishing deltas as they land.
func (t *turn) consume(stream provider.Stream, msg *session.Message) error {
	defer stream.Close()

	var args strings.Builder
	openPart := -1 // index into msg.Parts of the part still accumulating

	closePart := func() {
		if openPart < 0 {
			return
		}
		p := &msg.Parts[openPart]
		switch p.Type {
		case session.PartText, session.PartReasoning:
			p.Tokens = token.Count(p.Text)
		case session.PartToolCall:
			if len(p.Input) == 0 {
				p.Input = []byte(args.String())
			}
			p.Tokens = token.Count(p.Tool + string(p.Input))
		}
		openPart = -1
		if err := t.rt.sessions.SaveMessage(context.WithoutCancel(t.ctx), msg); err != nil {
			t.logger.Warn("save part for %s: %v", msg.ID, err)
		}
	}

	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case provider.EventMessageStart:
			if ev.Model != "" {
				msg.Model = ev.Model
			}
			msg.Usage.InputTokens = ev.Usage.InputTokens
			msg.Usage.CacheReadTokens = ev.Usage.CacheReadTokens
			msg.Usage.CacheWriteTokens = ev.Usage.CacheWriteTokens

		case provider.EventTextDelta:
			if openPart < 0 || msg.Parts[openPart].Type != session.PartText {
				closePart()
				msg.Parts = append(msg.Parts, session.Part{Type: session.PartText})
				openPart = len(msg.Parts) - 1
			}
			msg.Parts[openPart].Text += ev.Text
			t.publishDelta(msg, openPart, ev.Text)
			t.observeWriter(ev.Text)

		case provider.EventReasoningDelta:
			if openPart < 0 || msg.Parts[openPart].Type != session.PartReasoning {
				closePart()
				msg.Parts = append(msg.Parts, session.Part{Type: session.PartReasoning})
				openPart = len(msg.Parts) - 1
			}
			msg.Parts[openPart].Text += ev.Text
			t.publishDelta(msg, openPart, ev.Text)

		case provider.EventToolCallStart:
			closePart()
			args.Reset()
			msg.Parts = append(msg.Parts, session.Part{
				Type:   session.PartToolCall,
				CallID: ev.CallID,
				Tool:   ev.Tool,
			})
			openPart = len(msg.Parts) - 1

		case provider.EventToolCallDelta:
			args.WriteString(ev.ArgsDelta)

		case provider.EventToolCallEnd:
			if openPart >= 0 && msg.Parts[openPart].Type == session.PartToolCall {
				if ev.Args != "" {
					msg.Parts[openPart].Input = []byte(ev.Args)
				}
			}
			closePart()

		case provider.EventMessageEnd:
			closePart()
			msg.Usage.OutputTokens = ev.Usage.OutputTokens
		}
	}
	closePart()
	return stream.Err()
}

// publishDelta streams one part delta to subscribers.
func (t *turn) publishDelta(msg *session.Message, partIndex int, delta string) {
	t.rt.events.Publish(bus.Event{
		Type:      bus.EventSessionMessagePartUpdated,
		SessionID: t.sess.ID,
		Payload: map[string]any{
			"messageId": msg.ID,
			"partIndex": partIndex,
			"partType":  string(msg.Parts[partIndex].Type),
			"delta":     delta,
		},
	})
}

// observeWriter feeds streamed text to the writer supervisor so progress
// markers reset its stall clock.
func (t *turn) observeWriter(text string) {
	if t.rt.supervisor != nil {
		t.rt.supervisor.ObserveOutput(t.sess.ID, text)
	}
}

// compactIfNeeded runs a compaction pass when the next request would not
// fit the context window, or unconditionally when forced.
func (t *turn) compactIfNeeded(force bool) error {
	c := &compactor{rt: t.rt, sess: t.sess}
	over, err := c.overLimit(t.ctx)
	if err != nil {
		return err
	}
	if !over && !force {
		return nil
	}
	t.setState(stateCompacting)
	if err := c.run(t.ctx, force); err != nil {
		return err
	}
	t.setState(stateStreaming)
	return nil
}

// maybeGenerateTitle spawns title generation after the first assistant
// reply of a top-level session.
func (t *turn) maybeGenerateTitle() {
	if t.rt.opts.DisableTitles || t.sess.ParentID != "" || t.sess.Title != "" {
		return
	}
	// Mark locally so later steps of this turn do not spawn again.
	t.sess.Title = "(generating)"
	sessionID := t.sess.ID
	rt := t.rt
	async.Go(rt.logger, "title:"+sessionID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), ancillaryTimeout)
		defer cancel()
		if err := rt.GenerateTitle(ctx, sessionID); err != nil {
			rt.logger.Warn("title generation for %s: %v", sessionID, err)
		}
	})
}

func (t *turn) finishDone(msg *session.Message) (*session.Message, error) {
	t.setState(stateFinalizing)
	t.setState(stateDone)
	t.logger.Info("turn done: session=%s agent=%s elapsed=%s",
		t.sess.ID, t.agent.Name, time.Since(t.startedAt).Round(time.Millisecond))
	return msg, nil
}

func (t *turn) finishFailed(msg *session.Message, err error) (*session.Message, error) {
	t.setState(stateFailed)
	t.rt.publishError(t.sess.ID, err)
	t.logger.Error("turn failed: session=%s agent=%s: %v", t.sess.ID, t.agent.Name, err)
	return msg, err
}

func (t *turn) finishAborted(msg *session.Message) (*session.Message, error) {
	t.setState(stateAborted)
	t.logger.Info("turn aborted: session=%s agent=%s", t.sess.ID, t.agent.Name)
	return msg, fmt.Errorf("%w: %v", ErrAborted, context.Cause(t.ctx))
}

// errorResultBody renders a dispatch-internal failure as a tool result
// body the model can react to.
func errorResultBody(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Aborted"
	}
	return logging.Redact(err.Error())
}
