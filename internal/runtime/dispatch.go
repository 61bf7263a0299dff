package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"codecoder/internal/bus"
	errs "codecoder/internal/errors"
	"codecoder/internal/hooks"
	"codecoder/internal/memory"
	"codecoder/internal/memory/causal"
	"codecoder/internal/permission"
	"codecoder/internal/session"
	"codecoder/internal/token"
	"codecoder/internal/tools"
)

// doomLoopThreshold is how many identical calls one turn tolerates before
// requiring confirmation to continue.
const doomLoopThreshold = 3

// dispatchCalls runs the assistant message's tool calls through the
// dispatch chain and appends one message carrying their results in
// emission order. Runs of non-mutating calls execute in parallel; each
// mutating call is a barrier so file effects keep emission order. On
// abort the finished results are persisted and the rest are marked
// Aborted.
func (t *turn) dispatchCalls(assistant *session.Message, calls []session.Part) error {
	t.ensureDecision(assistant)

	results := make([]*tools.Result, len(calls))
	for _, group := range t.groupCalls(calls) {
		if t.aborted() {
			break
		}
		g, gctx := errgroup.WithContext(t.ctx)
		for _, i := range group {
			i := i
			g.Go(func() error {
				results[i] = t.executeCall(gctx, assistant, calls[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	parts := make([]session.Part, len(calls))
	for i, call := range calls {
		result := results[i]
		if result == nil {
			result = &tools.Result{CallID: call.CallID, Content: "Aborted", IsError: true}
		}
		parts[i] = session.Part{
			Type:    session.PartToolResult,
			CallID:  call.CallID,
			Tool:    call.Tool,
			Output:  result.Content,
			IsError: result.IsError,
			Tokens:  token.Count(result.Content),
		}
	}

	resultMsg := &session.Message{
		SessionID: t.sess.ID,
		Role:      session.RoleUser,
		Agent:     t.agent.Name,
		Parts:     parts,
	}
	if err := t.rt.sessions.Append(context.WithoutCancel(t.ctx), resultMsg); err != nil {
		return errs.WithKind(errs.KindStorage, err)
	}
	return t.ctx.Err()
}

// groupCalls partitions call indices into execution groups: consecutive
// non-mutating calls share a group, every mutating call stands alone.
func (t *turn) groupCalls(calls []session.Part) [][]int {
	var groups [][]int
	var batch []int
	for i := range calls {
		if t.isMutating(calls[i].Tool) {
			if len(batch) > 0 {
				groups = append(groups, batch)
				batch = nil
			}
			groups = append(groups, []int{i})
			continue
		}
		batch = append(batch, i)
	}
	if len(batch) > 0 {
		groups = append(groups, batch)
	}
	return groups
}

func (t *turn) isMutating(toolName string) bool {
	executor, err := t.rt.tools.Get(toolName)
	if err != nil {
		return false
	}
	return executor.Definition().Mutating
}

// executeCall runs one call through the chain: PreToolUse hooks, the
// permission check, the executor under its timeout, output truncation,
// PostToolUse hooks, then bookkeeping. Problems surface in-band as error
// results; a nil return means the turn was aborted and the caller fills
// in the Aborted result.
func (t *turn) executeCall(ctx context.Context, assistant *session.Message, part session.Part) *tools.Result {
	started := time.Now()
	raw := string(part.Input)

	ctx, span := tracer.Start(ctx, "tool."+part.Tool,
		trace.WithAttributes(attribute.String("call.id", part.CallID)))
	defer span.End()

	fail := func(format string, args ...any) *tools.Result {
		return &tools.Result{CallID: part.CallID, Content: fmt.Sprintf(format, args...), IsError: true}
	}
	done := func(result *tools.Result) *tools.Result {
		span.SetAttributes(attribute.Bool("tool.error", result.IsError))
		t.publishToolCompleted(part, result, time.Since(started))
		return result
	}

	t.rt.events.Publish(bus.Event{
		Type:      bus.EventToolExecutionStarted,
		SessionID: t.sess.ID,
		Payload: map[string]any{
			"callId": part.CallID,
			"tool":   part.Tool,
			"input":  raw,
		},
	})

	executor, err := t.rt.tools.View(t.agent.Tools).Get(part.Tool)
	if err != nil {
		return done(fail("%v", err))
	}
	def := executor.Definition()

	args, err := tools.ParseArguments(def, raw)
	if err != nil {
		return done(fail("%v", err))
	}
	call := tools.Call{
		ID:        part.CallID,
		Name:      part.Tool,
		Arguments: args,
		SessionID: t.sess.ID,
		MessageID: assistant.ID,
	}

	if t.rt.hooks != nil {
		verdict := t.rt.hooks.Evaluate(ctx, hooks.Input{
			Event:     hooks.PreToolUse,
			SessionID: t.sess.ID,
			ToolName:  call.Name,
			FilePath:  callFilePath(call),
			Content:   raw,
			Command:   call.StringArg("command"),
		})
		if verdict.Blocked {
			t.logger.Info("hook %s blocked %s pre-execution", verdict.HookName, call.Name)
			return done(fail("%s", verdict.Message))
		}
	}

	outcome, err := t.checkPermission(ctx, def, call)
	if err != nil {
		if isCancelled(err) {
			return nil
		}
		return done(fail("%v", err))
	}
	if outcome.Verdict == permission.ActionDeny {
		message := outcome.Message
		if message == "" {
			message = deniedMessage(def, call)
		}
		return done(fail("%s", message))
	}

	execCtx, cancel := context.WithTimeout(ctx, def.EffectiveTimeout())
	result, execErr := executor.Execute(execCtx, call)
	timedOut := execCtx.Err() != nil && ctx.Err() == nil && (execErr != nil || result == nil)
	cancel()
	if ctx.Err() != nil {
		// Session abort mid-tool: no result, no edit record.
		return nil
	}
	if timedOut {
		result = fail("tool %s timed out after %s", call.Name, def.EffectiveTimeout())
	} else if execErr != nil {
		result = fail("%s", errorResultBody(execErr))
	}
	if result == nil {
		result = fail("tool %s returned no result", call.Name)
	}

	result = tools.TruncateResult(result, def, t.rt.truncationDir)

	if t.rt.hooks != nil {
		verdict := t.rt.hooks.Evaluate(ctx, hooks.Input{
			Event:     hooks.PostToolUse,
			SessionID: t.sess.ID,
			ToolName:  call.Name,
			FilePath:  callFilePath(call),
			Content:   result.Content,
			Command:   call.StringArg("command"),
		})
		if verdict.Blocked {
			t.logger.Info("hook %s blocked %s post-execution", verdict.HookName, call.Name)
			result.Content = verdict.Message
			result.IsError = true
		}
	}

	t.recordExecution(ctx, def, call, result, time.Since(started))
	return done(result)
}

// checkPermission resolves the call against the session ruleset, with a
// doom-loop confirmation in front once the same call has repeated enough.
func (t *turn) checkPermission(ctx context.Context, def tools.Definition, call tools.Call) (permission.Outcome, error) {
	if count := t.noteRepeat(call); count >= doomLoopThreshold {
		outcome, err := t.askEngine(ctx, permission.CheckRequest{
			SessionID: t.sess.ID,
			ToolName:  call.Name,
			Kind:      permission.KindDoomLoop,
			Value:     call.Name,
			Input:     call.Arguments,
		})
		if err != nil {
			return outcome, err
		}
		if outcome.Verdict == permission.ActionDeny {
			if outcome.Message == "" {
				outcome.Message = fmt.Sprintf("%s was called %d times with identical arguments; stopping the loop", call.Name, count)
			}
			return outcome, nil
		}
	}
	return t.askEngine(ctx, permission.CheckRequest{
		SessionID: t.sess.ID,
		ToolName:  call.Name,
		Kind:      def.Kind,
		Value:     def.Scope(call),
		Input:     call.Arguments,
	})
}

// askEngine runs one engine check, flipping the turn to
// awaiting_permission for the duration of a user prompt.
func (t *turn) askEngine(ctx context.Context, req permission.CheckRequest) (permission.Outcome, error) {
	if rs := t.rt.permissions.RulesetFor(req.SessionID); rs != nil && rs.Decide(req.Kind, req.Value) == permission.ActionAsk {
		t.setState(stateAwaitingPermission)
		defer t.setState(stateAwaitingTool)
	}
	return t.rt.permissions.Check(ctx, req)
}

// noteRepeat counts this call's signature within the turn and returns the
// running total.
func (t *turn) noteRepeat(call tools.Call) int {
	signature := call.Name
	if encoded, err := json.Marshal(call.Arguments); err == nil {
		signature += string(encoded)
	}
	t.callMu.Lock()
	defer t.callMu.Unlock()
	t.callCounts[signature]++
	return t.callCounts[signature]
}

// ensureDecision opens the causal chain for this turn: one decision node
// the dispatched actions hang off.
func (t *turn) ensureDecision(assistant *session.Message) {
	if t.rt.recorder == nil || t.decisionDone {
		return
	}
	t.decisionDone = true
	reasoning := clipText(assistant.Text(), 200)
	if _, err := t.rt.recorder.RecordDecision(t.ctx, t.sess.ID, t.agent.Name, clipText(t.userPrompt, 200), reasoning, decisionConfidence); err != nil {
		t.logger.Warn("record decision for %s: %v", t.sess.ID, err)
	}
}

// recordExecution writes the post-execution bookkeeping: causal action
// and outcome nodes, the edit record for write-class tools, and a style
// observation for accepted code. Best effort; failures are logged.
func (t *turn) recordExecution(ctx context.Context, def tools.Definition, call tools.Call, result *tools.Result, duration time.Duration) {
	ctx = context.WithoutCancel(ctx)
	t.recordCausal(ctx, call, result, duration)
	if def.Mutating && !result.IsError {
		t.recordEdit(ctx, call, result, duration)
		t.recordStyle(ctx, call)
	}
}

func (t *turn) recordCausal(ctx context.Context, call tools.Call, result *tools.Result, duration time.Duration) {
	if t.rt.recorder == nil {
		return
	}
	action, err := t.rt.recorder.RecordAction(ctx, t.sess.ID, call.Name, call.Arguments, result.Content, duration)
	if err != nil {
		t.logger.Debug("record action %s: %v", call.Name, err)
		return
	}

	status := causal.StatusSuccess
	description := "completed"
	switch {
	case result.IsError:
		status = causal.StatusFailure
		description = clipText(result.Content, 200)
	case result.Metadata["truncated"] == true:
		status = causal.StatusPartial
		description = "completed with truncated output"
	}
	metrics := map[string]float64{
		"duration_ms":  float64(duration.Milliseconds()),
		"output_bytes": float64(len(result.Content)),
	}
	if _, err := t.rt.recorder.RecordOutcome(ctx, action.ID, status, description, metrics); err != nil {
		t.logger.Debug("record outcome for %s: %v", call.Name, err)
	}
}

// recordEdit turns the executor's edit metadata into an EditRecord.
func (t *turn) recordEdit(ctx context.Context, call tools.Call, result *tools.Result, duration time.Duration) {
	if t.rt.edits == nil || result.Metadata == nil {
		return
	}
	path, _ := result.Metadata["path"].(string)
	if path == "" {
		return
	}
	op, _ := result.Metadata["op"].(string)
	hash, _ := result.Metadata["hash"].(string)
	record := memory.EditRecord{
		SessionID: t.sess.ID,
		Files: []memory.EditFile{{
			Path:      path,
			Op:        memory.EditOp(op),
			Additions: metaInt(result.Metadata["additions"]),
			Deletions: metaInt(result.Metadata["deletions"]),
			AfterHash: hash,
		}},
		Agent:    t.agent.Name,
		Model:    t.model,
		Duration: duration,
	}
	if _, err := t.rt.edits.Append(ctx, record); err != nil {
		t.logger.Warn("append edit record for %s: %v", path, err)
	}
	t.refreshIndex(ctx, call, path)
}

// refreshIndex keeps the code index current with what was just written.
// A full write replaces the entry; an edit only merges the replacement
// text's declarations into it.
func (t *turn) refreshIndex(ctx context.Context, call tools.Call, path string) {
	if t.rt.index == nil {
		return
	}
	content := call.StringArg("content")
	replace := true
	if content == "" {
		content = call.StringArg("new_string")
		replace = false
	}
	if content == "" {
		return
	}
	if err := t.rt.index.IndexSource(ctx, path, content, replace); err != nil {
		t.logger.Debug("refresh code index for %s: %v", path, err)
	}
}

// recordStyle feeds the written code to the style learner as an accepted
// edit.
func (t *turn) recordStyle(ctx context.Context, call tools.Call) {
	if t.rt.style == nil {
		return
	}
	code := call.StringArg("content")
	if code == "" {
		code = call.StringArg("new_string")
	}
	if code == "" {
		return
	}
	choice := memory.EditChoice{
		Type:      memory.ChoiceAccept,
		FileType:  strings.TrimPrefix(filepath.Ext(call.StringArg("file_path")), "."),
		FinalCode: code,
	}
	if err := t.rt.style.RecordEditChoice(ctx, choice); err != nil {
		t.logger.Debug("record style: %v", err)
	}
}

func (t *turn) publishToolCompleted(part session.Part, result *tools.Result, duration time.Duration) {
	t.rt.events.Publish(bus.Event{
		Type:      bus.EventToolExecutionCompleted,
		SessionID: t.sess.ID,
		Payload: map[string]any{
			"callId":     part.CallID,
			"tool":       part.Tool,
			"isError":    result.IsError,
			"durationMs": duration.Milliseconds(),
			"preview":    resultPreview(result.Content),
		},
	})
}

// resultPreview clips a result body to one display line for subscribers.
func resultPreview(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	const limit = 160
	runes := []rune(content)
	if len(runes) > limit {
		content = string(runes[:limit-1]) + "…"
	}
	return content
}

// callFilePath extracts the path argument hooks match file patterns on.
func callFilePath(call tools.Call) string {
	if p := call.StringArg("file_path"); p != "" {
		return p
	}
	return call.StringArg("path")
}

// deniedMessage is the standard body for rule-based denies; user denies
// carry their reply message instead.
func deniedMessage(def tools.Definition, call tools.Call) string {
	if scope := def.Scope(call); scope != "" {
		return fmt.Sprintf("Permission denied: %s %s", call.Name, scope)
	}
	return fmt.Sprintf("Permission denied: %s", call.Name)
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func metaInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
