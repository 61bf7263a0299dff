package provider

import (
	"context"
	"fmt"
	"sync"

	"codecoder/internal/session"
)

// Script is one provider exchange a ScriptedClient plays back: either an
// immediate open error, a sequence of events, or events followed by a
// mid-stream failure.
type Script struct {
	OpenErr   error
	Events    []Event
	StreamErr error
}

// TextScript builds a complete single-text exchange ending in end_turn.
func TextScript(text string) Script {
	return Script{Events: []Event{
		{Type: EventMessageStart, MessageID: "msg-scripted", Model: "scripted"},
		{Type: EventTextDelta, Text: text},
		{Type: EventMessageEnd, StopReason: StopEndTurn, Usage: tokenUsageOut(len(text) / 4)},
	}}
}

// ToolCallScript builds an exchange that emits one tool call and stops
// with tool_use.
func ToolCallScript(callID, tool, args string) Script {
	return Script{Events: []Event{
		{Type: EventMessageStart, MessageID: "msg-scripted", Model: "scripted"},
		{Type: EventToolCallStart, CallID: callID, Tool: tool},
		{Type: EventToolCallDelta, CallID: callID, ArgsDelta: args},
		{Type: EventToolCallEnd, CallID: callID, Args: args},
		{Type: EventMessageEnd, StopReason: StopToolUse, Usage: tokenUsageOut(len(args) / 4)},
	}}
}

// ScriptedClient replays queued scripts in order, one per Stream call,
// and records every request it receives. It is the test double for the
// runtime's provider port.
type ScriptedClient struct {
	mu       sync.Mutex
	scripts  []Script
	requests []Request
}

// NewScriptedClient queues scripts for playback.
func NewScriptedClient(scripts ...Script) *ScriptedClient {
	return &ScriptedClient{scripts: scripts}
}

// Push appends another script to the queue.
func (c *ScriptedClient) Push(s Script) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, s)
}

// Requests returns a copy of every request seen so far.
func (c *ScriptedClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls returns how many times Stream was invoked.
func (c *ScriptedClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *ScriptedClient) Stream(ctx context.Context, req Request) (Stream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	if len(c.scripts) == 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("scripted client: no script for request %d", len(c.requests))
	}
	script := c.scripts[0]
	c.scripts = c.scripts[1:]
	c.mu.Unlock()

	if script.OpenErr != nil {
		return nil, script.OpenErr
	}
	return &scriptedStream{ctx: ctx, events: script.Events, terminal: script.StreamErr}, nil
}

type scriptedStream struct {
	ctx      context.Context
	events   []Event
	terminal error
	pos      int
	current  Event
	err      error
}

func (s *scriptedStream) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.pos >= len(s.events) {
		s.err = s.terminal
		return false
	}
	s.current = s.events[s.pos]
	s.pos++
	return true
}

func (s *scriptedStream) Current() Event { return s.current }

func (s *scriptedStream) Err() error { return s.err }

func (s *scriptedStream) Close() error { return nil }

func tokenUsageOut(n int) session.TokenUsage {
	return session.TokenUsage{OutputTokens: n}
}
