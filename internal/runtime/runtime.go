// Package runtime drives session turns: it composes prompts, streams
// completions from the provider, dispatches tool calls through the hook
// and permission chain, compacts context when the model's window fills,
// and publishes progress on the bus throughout.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codecoder/internal/agent"
	"codecoder/internal/bus"
	"codecoder/internal/config"
	errs "codecoder/internal/errors"
	"codecoder/internal/hooks"
	"codecoder/internal/logging"
	"codecoder/internal/memory"
	"codecoder/internal/memory/causal"
	"codecoder/internal/permission"
	"codecoder/internal/provider"
	"codecoder/internal/session"
	"codecoder/internal/tools"
	"codecoder/internal/writer"
)

// tracer is the noop tracer unless observability.Setup installed a real
// provider.
var tracer = otel.Tracer("codecoder/runtime")

var (
	// ErrTurnActive is returned when Prompt is called for a session whose
	// previous turn has not finished.
	ErrTurnActive = errors.New("a turn is already running for this session")
	// ErrModelUnavailable is returned when no provider client is wired or
	// no model resolves for the agent.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrAborted is the terminal error of a cancelled turn.
	ErrAborted = errors.New("turn aborted")
)

// Options tune the turn loop. Zero values select the defaults.
type Options struct {
	// ContextLimit is the model's context window in tokens.
	ContextLimit int
	// ProtectedRecentTokens is the most-recent span compaction never prunes.
	ProtectedRecentTokens int
	// MaxOutputTokens caps one provider response.
	MaxOutputTokens int
	// DisableTitles turns off async title generation; tests use it to keep
	// the scripted provider deterministic.
	DisableTitles bool
}

const (
	defaultContextLimit    = 200_000
	defaultProtectedRecent = 40_000
	defaultMaxOutput       = 8_192
	// minPruneTokens is the floor for one compaction pass.
	minPruneTokens = 20_000
	// contextBudgetTokens caps the memory-context prompt addition.
	contextBudgetTokens = 4_000
	// decisionConfidence grades turn-start decisions in the causal graph.
	decisionConfidence = 0.8
)

func (o Options) withDefaults() Options {
	if o.ContextLimit <= 0 {
		o.ContextLimit = defaultContextLimit
	}
	if o.ProtectedRecentTokens <= 0 {
		o.ProtectedRecentTokens = defaultProtectedRecent
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = defaultMaxOutput
	}
	return o
}

// Deps are the collaborators a Runtime is composed from. Config, Agents,
// Sessions, Provider, Tools, Permissions, and Bus are required; the rest
// degrade to no-ops when nil.
type Deps struct {
	Config      *config.Config
	Agents      *agent.Registry
	Sessions    *session.Store
	Provider    provider.Client
	Tools       *tools.Registry
	Permissions *permission.Engine
	Hooks       *hooks.Pipeline
	Context     *memory.Builder
	Recorder    *causal.Recorder
	Edits       *memory.EditLog
	Index       *memory.CodeIndex
	Style       *memory.StyleLearner
	Supervisor  *writer.Supervisor
	Bus         *bus.Bus
	Logger      logging.Logger

	// TruncationDir receives spilled oversized tool output.
	TruncationDir string
	Options       Options
}

// Runtime owns the turn state machines of every live session. One
// instance serves the whole process.
type Runtime struct {
	cfg         *config.Config
	agents      *agent.Registry
	sessions    *session.Store
	provider    provider.Client
	tools       *tools.Registry
	permissions *permission.Engine
	hooks       *hooks.Pipeline
	contextSrc  *memory.Builder
	recorder    *causal.Recorder
	edits       *memory.EditLog
	index       *memory.CodeIndex
	style       *memory.StyleLearner
	supervisor  *writer.Supervisor
	events      *bus.Bus
	logger      logging.Logger

	truncationDir string
	opts          Options

	mu     sync.Mutex
	active map[string]*turn
}

// New validates the dependency set and registers the subagent spawn tool.
func New(deps Deps) (*Runtime, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("runtime: config is required")
	case deps.Agents == nil:
		return nil, fmt.Errorf("runtime: agent registry is required")
	case deps.Sessions == nil:
		return nil, fmt.Errorf("runtime: session store is required")
	case deps.Tools == nil:
		return nil, fmt.Errorf("runtime: tool registry is required")
	case deps.Permissions == nil:
		return nil, fmt.Errorf("runtime: permission engine is required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("runtime: bus is required")
	}

	r := &Runtime{
		cfg:           deps.Config,
		agents:        deps.Agents,
		sessions:      deps.Sessions,
		provider:      deps.Provider,
		tools:         deps.Tools,
		permissions:   deps.Permissions,
		hooks:         deps.Hooks,
		contextSrc:    deps.Context,
		recorder:      deps.Recorder,
		edits:         deps.Edits,
		index:         deps.Index,
		style:         deps.Style,
		supervisor:    deps.Supervisor,
		events:        deps.Bus,
		logger:        logging.OrNop(deps.Logger),
		truncationDir: deps.TruncationDir,
		opts:          deps.Options.withDefaults(),
		active:        make(map[string]*turn),
	}
	if err := r.tools.Register(newSubagentTool(r)); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	return r, nil
}

// PromptRequest is one turn's input.
type PromptRequest struct {
	SessionID string
	// Agent selects the agent by name; empty uses the registry default.
	Agent string
	// Text is the user input. Parts, when set, carries richer content and
	// takes precedence.
	Text  string
	Parts []session.Part
	// Model overrides the resolved model for this turn.
	Model string
}

// Prompt runs one turn to completion and returns the final assistant
// message. Streamed updates are published on the bus while it runs. The
// turn ends in done, failed, or aborted; tool and permission problems
// surface to the model as tool results and do not fail the turn.
func (r *Runtime) Prompt(ctx context.Context, req PromptRequest) (*session.Message, error) {
	info, err := r.resolveAgent(req.Agent)
	if err != nil {
		return nil, err
	}
	if r.provider == nil {
		return nil, fmt.Errorf("%w: no provider configured", ErrModelUnavailable)
	}

	sess, err := r.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.ParentID == "" && !info.Primary() {
		return nil, fmt.Errorf("agent %s only runs as a subagent", info.Name)
	}

	model := req.Model
	if model == "" {
		model = r.cfg.ModelFor(info.Model)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: agent %s resolves no model", ErrModelUnavailable, info.Name)
	}

	ctx, span := tracer.Start(ctx, "runtime.turn", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("agent.name", info.Name),
		attribute.String("model", model),
	))
	defer span.End()

	t, err := r.beginTurn(ctx, sess, info, model)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer r.endTurn(t)

	msg, err := t.run(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "turn failed")
	}
	return msg, err
}

// Abort cancels the session's running turn, if any. Idempotent: aborting
// an idle session is a no-op.
func (r *Runtime) Abort(sessionID string) {
	r.mu.Lock()
	t := r.active[sessionID]
	r.mu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// Busy reports whether the session has a running turn.
func (r *Runtime) Busy(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Compact forces one compaction pass regardless of context pressure. It
// fails when a turn is running; the running turn compacts on its own.
func (r *Runtime) Compact(ctx context.Context, sessionID string) error {
	if r.Busy(sessionID) {
		return ErrTurnActive
	}
	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	c := &compactor{rt: r, sess: sess}
	return c.run(ctx, true)
}

// Fork copies the session up to and including atMessageID into a new
// session and returns it. The fork is isolated from later writes to the
// original.
func (r *Runtime) Fork(ctx context.Context, sessionID, atMessageID string) (*session.Session, error) {
	return r.sessions.Fork(ctx, sessionID, atMessageID)
}

// resolveAgent maps a request's agent name onto a registry entry, falling
// back to the default. Hidden agents cannot drive a turn directly.
func (r *Runtime) resolveAgent(name string) (*agent.Info, error) {
	if name == "" {
		return r.agents.Default(), nil
	}
	info, err := r.agents.Get(name)
	if err != nil {
		return nil, err
	}
	if info.Hidden {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, name)
	}
	return info, nil
}

// beginTurn registers the session's turn, binding its permission ruleset
// when the session has none yet.
func (r *Runtime) beginTurn(ctx context.Context, sess *session.Session, info *agent.Info, model string) (*turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.active[sess.ID]; running {
		return nil, ErrTurnActive
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		rt:         r,
		ctx:        turnCtx,
		cancelFn:   cancel,
		sess:       sess,
		agent:      info,
		model:      model,
		state:      stateIdle,
		logger:     r.logger,
		startedAt:  time.Now(),
		callCounts: make(map[string]int),
	}
	r.active[sess.ID] = t

	if r.permissions.RulesetFor(sess.ID) == nil {
		r.permissions.Bind(sess.ID, info.Ruleset)
	}
	return t, nil
}

func (r *Runtime) endTurn(t *turn) {
	r.mu.Lock()
	delete(r.active, t.sess.ID)
	r.mu.Unlock()
	t.cancel()

	r.events.Publish(bus.Event{
		Type:      bus.EventSessionIdle,
		SessionID: t.sess.ID,
		Payload:   map[string]any{"state": string(t.currentState())},
	})
}

// publishError reports a turn failure on the bus with secrets masked.
func (r *Runtime) publishError(sessionID string, err error) {
	r.events.Publish(bus.Event{
		Type:      bus.EventSessionError,
		SessionID: sessionID,
		Payload: map[string]any{
			"error": logging.Redact(err.Error()),
			"kind":  string(errs.KindOf(err)),
		},
	})
}

// userFacing renders a provider failure for the message error field:
// secrets masked, rate limits annotated with the wait that was honored.
func userFacing(err error) string {
	msg := logging.Redact(err.Error())
	var transient *errs.TransientError
	if errors.As(err, &transient) && transient.StatusCode == 429 {
		if transient.RetryAfter > 0 {
			return fmt.Sprintf("%s Rate limited; honored Retry-After of %ds before giving up.", msg, transient.RetryAfter)
		}
		return msg + " Rate limited; retried with exponential backoff before giving up."
	}
	return msg
}

// clipText bounds a string for logs and causal descriptions.
func clipText(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
