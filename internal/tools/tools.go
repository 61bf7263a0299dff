// Package tools defines the tool contract the runtime dispatches against:
// executors, their schemas, and the registry that resolves calls by name.
package tools

import (
	"context"
	"fmt"
	"time"

	"codecoder/internal/permission"
)

// Call is one tool invocation emitted by the model.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	SessionID string         `json:"sessionId,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
}

// StringArg returns a string argument, empty when absent or mistyped.
func (c Call) StringArg(name string) string {
	v, _ := c.Arguments[name].(string)
	return v
}

// IntArg returns an integer argument; JSON numbers arrive as float64.
func (c Call) IntArg(name string) int {
	switch v := c.Arguments[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// BoolArg returns a boolean argument, false when absent.
func (c Call) BoolArg(name string) bool {
	v, _ := c.Arguments[name].(bool)
	return v
}

// Result is what an executor hands back. Errors are carried in-band so
// the model sees them as tool output rather than the turn failing.
type Result struct {
	CallID   string         `json:"callId"`
	Content  string         `json:"content"`
	IsError  bool           `json:"isError,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ok builds a successful result for the call.
func Ok(call Call, content string) *Result {
	return &Result{CallID: call.ID, Content: content}
}

// Fail builds an in-band error result for the call.
func Fail(call Call, err error) *Result {
	return &Result{CallID: call.ID, Content: err.Error(), IsError: true}
}

// Failf builds an in-band error result from a message.
func Failf(call Call, format string, args ...any) *Result {
	return &Result{CallID: call.ID, Content: fmt.Sprintf(format, args...), IsError: true}
}

// Definition describes a tool to the model and to the dispatch chain.
// Kind and ScopeArg drive the permission check; FixedScope supplies the
// scope for tools whose target is static (skills gate on their source
// file). Mutating marks write-class tools whose side effects must keep
// emission order and produce edit records; Protected exempts the tool's
// calls from compaction pruning.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"schema"`

	Kind       permission.Kind `json:"kind"`
	ScopeArg   string          `json:"scopeArg,omitempty"`
	FixedScope string          `json:"fixedScope,omitempty"`
	Mutating   bool            `json:"mutating,omitempty"`
	Protected  bool            `json:"protected,omitempty"`

	MaxOutputBytes int           `json:"maxOutputBytes,omitempty"`
	Timeout        time.Duration `json:"timeout,omitempty"`
}

// Scope extracts the permission scope value for a call.
func (d Definition) Scope(call Call) string {
	if d.ScopeArg != "" {
		return call.StringArg(d.ScopeArg)
	}
	return d.FixedScope
}

// Executor runs one tool. Implementations report execution problems
// in-band via Result.IsError; a non-nil error means the dispatch itself
// broke (cancellation, registry misuse) and aborts the turn.
type Executor interface {
	Execute(ctx context.Context, call Call) (*Result, error)
	Definition() Definition
}

// Lookup is the read side of a registry, what the runtime and agents see.
type Lookup interface {
	Get(name string) (Executor, error)
	List() []Definition
}

const (
	// DefaultMaxOutputBytes caps tool output sent back to the model.
	DefaultMaxOutputBytes = 50_000
	// DefaultTimeout bounds a single executor run.
	DefaultTimeout = 2 * time.Minute
)

// effectiveCap returns the tool's output cap with the default applied.
func (d Definition) effectiveCap() int {
	if d.MaxOutputBytes > 0 {
		return d.MaxOutputBytes
	}
	return DefaultMaxOutputBytes
}

// EffectiveTimeout returns the tool's executor timeout with the default
// applied.
func (d Definition) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}
