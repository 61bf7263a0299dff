package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"codecoder/internal/bus"
	errs "codecoder/internal/errors"
	"codecoder/internal/logging"
	"codecoder/internal/storage"
	"codecoder/internal/utils/id"
)

// Reply errors.
var (
	ErrUnknownRequestID = errors.New("unknown permission request id")
	ErrAlreadyAnswered  = errors.New("permission request already answered")
)

// Request statuses.
const (
	StatusPending   = "pending"
	StatusAnswered  = "answered"
	StatusCancelled = "cancelled"
)

// Request is a suspended tool invocation awaiting a user verdict. It is
// persisted on creation and published on the bus as a
// permission.updated event.
type Request struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Kind       Kind           `json:"kind"`
	ToolName   string         `json:"tool_name"`
	Value      string         `json:"value,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Status     string         `json:"status"`
	Reply      Reply          `json:"reply,omitempty"`
	Message    string         `json:"message,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}

// CheckRequest describes one tool invocation to be decided.
type CheckRequest struct {
	SessionID string
	ToolName  string
	Kind      Kind
	Value     string
	Input     map[string]any
}

// Outcome is the resolved verdict: allow or deny, with the denier's
// message when one was given.
type Outcome struct {
	Verdict Action
	Message string
}

type pendingRequest struct {
	request Request
	done    chan replyAnswer
}

type replyAnswer struct {
	reply   Reply
	message string
}

// Engine owns per-session rulesets and the ask/reply cycle. One instance
// serves the whole process.
type Engine struct {
	store  *storage.Store
	events *bus.Bus
	logger logging.Logger

	mu       sync.Mutex
	requests map[string]*pendingRequest
	sessions map[string]*Ruleset
	plansDir string
}

// NewEngine wires the engine to its collaborators. store may be nil in
// tests that do not exercise persistence.
func NewEngine(store *storage.Store, events *bus.Bus, logger logging.Logger) *Engine {
	return &Engine{
		store:    store,
		events:   events,
		logger:   logging.OrNop(logger),
		requests: make(map[string]*pendingRequest),
		sessions: make(map[string]*Ruleset),
	}
}

// SetPlansDir fixes the directory plan-mode edits are confined to.
func (e *Engine) SetPlansDir(dir string) {
	e.mu.Lock()
	e.plansDir = dir
	e.mu.Unlock()
}

// EnterPlanMode swaps the session's ruleset for its plan-mode overlay:
// edits outside plan markdown are denied until ExitPlanMode.
func (e *Engine) EnterPlanMode(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs := e.sessions[sessionID]; rs != nil {
		e.sessions[sessionID] = rs.WithPlanMode(e.plansDir)
	}
}

// ExitPlanMode lifts the planning restriction for the session.
func (e *Engine) ExitPlanMode(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs := e.sessions[sessionID]; rs != nil {
		e.sessions[sessionID] = rs.WithoutPlanMode()
	}
}

// Bind installs the compiled ruleset a session's checks are decided
// against. Rebinding replaces the previous ruleset.
func (e *Engine) Bind(sessionID string, rs *Ruleset) {
	e.mu.Lock()
	e.sessions[sessionID] = rs
	e.mu.Unlock()
}

// Unbind drops the session's ruleset and forgets its answered requests.
func (e *Engine) Unbind(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	for reqID, pend := range e.requests {
		if pend.request.SessionID == sessionID && pend.request.Status != StatusPending {
			delete(e.requests, reqID)
		}
	}
	e.mu.Unlock()
}

// RulesetFor returns the session's current ruleset snapshot. The returned
// value is immutable; allow_always replies swap in a new one.
func (e *Engine) RulesetFor(sessionID string) *Ruleset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[sessionID]
}

// Check resolves a tool invocation to allow or deny, suspending on ask
// until Reply or context cancellation.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (Outcome, error) {
	verdict := e.RulesetFor(req.SessionID).Decide(req.Kind, req.Value)
	switch verdict {
	case ActionAllow:
		return Outcome{Verdict: ActionAllow}, nil
	case ActionDeny:
		return Outcome{Verdict: ActionDeny}, nil
	}
	return e.ask(ctx, req)
}

func (e *Engine) ask(ctx context.Context, req CheckRequest) (Outcome, error) {
	request := Request{
		ID:        id.NewRequestID(),
		SessionID: req.SessionID,
		Kind:      req.Kind,
		ToolName:  req.ToolName,
		Value:     req.Value,
		Input:     req.Input,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	pend := &pendingRequest{request: request, done: make(chan replyAnswer, 1)}

	e.mu.Lock()
	e.requests[request.ID] = pend
	e.mu.Unlock()

	if err := e.persist(ctx, request); err != nil {
		e.mu.Lock()
		delete(e.requests, request.ID)
		e.mu.Unlock()
		return Outcome{}, err
	}
	e.publish(request)
	e.logger.Info("permission ask: id=%s session=%s tool=%s kind=%s value=%s",
		request.ID, req.SessionID, req.ToolName, req.Kind, req.Value)

	select {
	case <-ctx.Done():
		e.cancel(request.ID)
		return Outcome{}, errs.WithKind(errs.KindCancellation, ctx.Err())
	case ans := <-pend.done:
		if ans.reply == ReplyDeny {
			return Outcome{Verdict: ActionDeny, Message: ans.message}, nil
		}
		if ans.reply == ReplyAllowAlways {
			e.appendSessionRule(req.SessionID, req.Kind, req.Value)
		}
		return Outcome{Verdict: ActionAllow}, nil
	}
}

// Reply answers a pending request. allow_once resolves just this check;
// allow_always additionally appends a session rule so identical checks
// pass without asking; deny resolves with the optional message as the
// tool result body.
func (e *Engine) Reply(ctx context.Context, requestID string, reply Reply, message string) error {
	if _, ok := ParseReply(string(reply)); !ok {
		return errs.WithKind(errs.KindPermission, fmt.Errorf("invalid permission reply %q", reply))
	}

	e.mu.Lock()
	pend, ok := e.requests[requestID]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownRequestID
	}
	if pend.request.Status != StatusPending {
		e.mu.Unlock()
		return ErrAlreadyAnswered
	}
	now := time.Now()
	pend.request.Status = StatusAnswered
	pend.request.Reply = reply
	pend.request.Message = message
	pend.request.AnsweredAt = &now
	snapshot := pend.request
	e.mu.Unlock()

	pend.done <- replyAnswer{reply: reply, message: message}

	if err := e.persist(ctx, snapshot); err != nil {
		e.logger.Warn("permission request %s: persist answer: %v", requestID, err)
	}
	e.publish(snapshot)
	e.logger.Info("permission reply: id=%s reply=%s", requestID, reply)
	return nil
}

// Pending lists the session's unanswered requests, oldest first.
func (e *Engine) Pending(sessionID string) []Request {
	e.mu.Lock()
	var out []Request
	for _, pend := range e.requests {
		if pend.request.SessionID == sessionID && pend.request.Status == StatusPending {
			out = append(out, pend.request)
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (e *Engine) appendSessionRule(sessionID string, kind Kind, value string) {
	pattern := value
	if pattern == "" {
		pattern = "*"
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.sessions[sessionID]
	if rs == nil {
		return
	}
	updated, err := rs.WithRule(kind, pattern, ActionAllow)
	if err != nil {
		e.logger.Warn("session %s: append allow rule for %s %q: %v", sessionID, kind, pattern, err)
		return
	}
	e.sessions[sessionID] = updated
}

func (e *Engine) cancel(requestID string) {
	e.mu.Lock()
	pend, ok := e.requests[requestID]
	if ok {
		pend.request.Status = StatusCancelled
		delete(e.requests, requestID)
	}
	var snapshot Request
	if ok {
		snapshot = pend.request
	}
	e.mu.Unlock()
	if ok {
		if err := e.persist(context.Background(), snapshot); err != nil {
			e.logger.Warn("permission request %s: persist cancellation: %v", requestID, err)
		}
		e.publish(snapshot)
	}
}

func (e *Engine) persist(ctx context.Context, request Request) error {
	if e.store == nil {
		return nil
	}
	return e.store.Write(ctx, []string{"permission", "request", request.ID}, request)
}

func (e *Engine) publish(request Request) {
	if e.events == nil {
		return
	}
	e.events.Publish(bus.Event{
		Type:      bus.EventPermissionUpdated,
		SessionID: request.SessionID,
		Payload:   request,
	})
}
