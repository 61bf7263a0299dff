// Package provider defines the model-provider port. The runtime drives a
// turn through the Client interface and consumes a flat stream of typed
// events; vendor adapters live in subpackages and translate their SSE
// wire format into this vocabulary.
package provider

import (
	"context"
	"strings"

	"codecoder/internal/session"
	"codecoder/internal/tools"
)

// Request is one streaming completion call.
type Request struct {
	Model       string
	System      string
	Messages    []*session.Message
	Tools       []tools.Definition
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// EventType enumerates the stream events adapters emit.
type EventType string

const (
	// EventMessageStart opens a response: provider message id, resolved
	// model, and input-token usage.
	EventMessageStart EventType = "message_start"
	// EventTextDelta appends Text to the current text part.
	EventTextDelta EventType = "text_delta"
	// EventReasoningDelta appends Text to the current reasoning part.
	EventReasoningDelta EventType = "reasoning_delta"
	// EventToolCallStart opens a tool call: CallID and Tool are set.
	EventToolCallStart EventType = "tool_call_start"
	// EventToolCallDelta appends ArgsDelta to the call's argument JSON.
	EventToolCallDelta EventType = "tool_call_delta"
	// EventToolCallEnd closes a tool call; Args carries the full JSON.
	EventToolCallEnd EventType = "tool_call_end"
	// EventMessageEnd closes the response with StopReason and output usage.
	EventMessageEnd EventType = "message_end"
)

// StopReason is why the model stopped emitting.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// Event is one unit of streamed response. Which fields are meaningful
// depends on Type; unused fields are zero.
type Event struct {
	Type       EventType
	Text       string
	CallID     string
	Tool       string
	ArgsDelta  string
	Args       string
	MessageID  string
	Model      string
	StopReason StopReason
	Usage      session.TokenUsage
}

// Stream iterates provider events. The pattern mirrors SSE decoders:
// call Next until it returns false, read the event with Current, then
// check Err for the terminal condition.
type Stream interface {
	Next() bool
	Current() Event
	Err() error
	Close() error
}

// Client opens streaming completions against one provider.
type Client interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ToolCall is a completed tool invocation assembled from stream events.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Response is a fully drained stream.
type Response struct {
	MessageID  string
	Model      string
	Text       string
	Reasoning  string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      session.TokenUsage
}

// Collect drains stream into a single response. Hidden generations
// (titles, summaries, compaction) use this; interactive turns consume
// events directly so deltas reach the UI.
func Collect(stream Stream) (*Response, error) {
	defer stream.Close()

	resp := &Response{}
	var text, reasoning strings.Builder
	var args strings.Builder
	open := -1

	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case EventMessageStart:
			resp.MessageID = ev.MessageID
			resp.Model = ev.Model
			resp.Usage.InputTokens = ev.Usage.InputTokens
			resp.Usage.CacheReadTokens = ev.Usage.CacheReadTokens
			resp.Usage.CacheWriteTokens = ev.Usage.CacheWriteTokens
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventReasoningDelta:
			reasoning.WriteString(ev.Text)
		case EventToolCallStart:
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: ev.CallID, Name: ev.Tool})
			open = len(resp.ToolCalls) - 1
			args.Reset()
		case EventToolCallDelta:
			args.WriteString(ev.ArgsDelta)
		case EventToolCallEnd:
			if open >= 0 {
				resp.ToolCalls[open].Arguments = ev.Args
				if resp.ToolCalls[open].Arguments == "" {
					resp.ToolCalls[open].Arguments = args.String()
				}
				open = -1
			}
		case EventMessageEnd:
			resp.StopReason = ev.StopReason
			resp.Usage.OutputTokens = ev.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	resp.Text = text.String()
	resp.Reasoning = reasoning.String()
	return resp, nil
}

// IsContextOverflow reports whether err is the provider rejecting the
// request because the prompt no longer fits the model's context window.
// The runtime treats this as a compaction trigger rather than a retry.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"prompt is too long",
		"max_tokens",
		"context_length",
		"context length",
		"token limit",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
