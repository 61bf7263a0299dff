package causal

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// Recorder bridges the runtime's tool lifecycle into the causal graph.
// It tracks each session's active decision so PostToolUse actions land
// under the decision that motivated them.
type Recorder struct {
	store  *Store
	mu     sync.Mutex
	active map[string]string // session → decision id
}

// NewRecorder wraps a causal store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store, active: make(map[string]string)}
}

// RecordDecision emits a decision node and makes it the session's
// active decision.
func (r *Recorder) RecordDecision(ctx context.Context, sessionID, agentID, prompt, reasoning string, confidence float64) (DecisionNode, error) {
	decision, err := r.store.AddDecision(ctx, DecisionNode{
		SessionID:  sessionID,
		AgentID:    agentID,
		Prompt:     prompt,
		Reasoning:  reasoning,
		Confidence: confidence,
	})
	if err != nil {
		return DecisionNode{}, err
	}
	r.mu.Lock()
	r.active[sessionID] = decision.ID
	r.mu.Unlock()
	return decision, nil
}

// ActiveDecision returns the session's current decision, if any.
func (r *Recorder) ActiveDecision(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[sessionID]
	return id, ok
}

// RecordAction emits an action node under the session's active
// decision, deriving the action type from the tool name and a short
// description from the tool input.
func (r *Recorder) RecordAction(ctx context.Context, sessionID, toolName string, input map[string]any, output string, duration time.Duration) (ActionNode, error) {
	r.mu.Lock()
	decisionID, ok := r.active[sessionID]
	r.mu.Unlock()
	if !ok {
		return ActionNode{}, fmt.Errorf("causal: no active decision for session %s", sessionID)
	}

	action := ActionNode{
		DecisionID:  decisionID,
		Type:        ClassifyTool(toolName),
		Description: describeCall(toolName, input),
		Output:      clip(output, 200),
		Duration:    duration,
	}
	if len(input) > 0 {
		if raw, err := json.Marshal(input); err == nil {
			action.Input = clip(string(raw), 200)
		}
	}
	return r.store.AddAction(ctx, action)
}

// RecordOutcome grades a previously recorded action. Repeating the
// same action and status is a no-op.
func (r *Recorder) RecordOutcome(ctx context.Context, actionID string, status OutcomeStatus, description string, metrics map[string]float64) (OutcomeNode, error) {
	return r.store.AddOutcome(ctx, OutcomeNode{
		ActionID:    actionID,
		Status:      status,
		Description: clip(description, 200),
		Metrics:     metrics,
	})
}

// EndSession forgets the session's active decision.
func (r *Recorder) EndSession(sessionID string) {
	r.mu.Lock()
	delete(r.active, sessionID)
	r.mu.Unlock()
}

// ClassifyTool maps a tool name onto the kind of action it performs.
func ClassifyTool(name string) ActionType {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "write", "edit", "read":
		return ActionFileOperation
	case "grep", "glob", "websearch", "codesearch", "list":
		return ActionSearch
	case "bash":
		return ActionToolExecution
	case "webfetch":
		return ActionAPICall
	}
	if strings.HasPrefix(n, "mcp_") {
		return ActionToolExecution
	}
	if strings.Contains(n, "code") || strings.Contains(n, "lint") || strings.Contains(n, "format") {
		return ActionCodeChange
	}
	return ActionOther
}

// describeCall derives a short label from the tool input: the last two
// path segments for file tools, a truncated command or query for the
// rest.
func describeCall(tool string, input map[string]any) string {
	if p := stringArg(input, "file_path", "path", "filePath"); p != "" {
		return tool + " " + shortPath(p)
	}
	if cmd := stringArg(input, "command"); cmd != "" {
		return tool + ": " + clip(cmd, 50)
	}
	if q := stringArg(input, "pattern", "query", "url"); q != "" {
		return tool + ": " + clip(q, 50)
	}
	return tool
}

func stringArg(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := input[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// shortPath keeps the last two segments of a path.
func shortPath(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	segments := strings.Split(p, "/")
	if len(segments) > 2 {
		segments = segments[len(segments)-2:]
	}
	return strings.Join(segments, "/")
}
