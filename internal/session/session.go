// Package session defines the persistent conversation model: sessions,
// their append-only messages, and the typed parts inside each message.
package session

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a message on the provider wire.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode distinguishes ordinary conversation messages from the synthetic
// pair inserted by context compaction.
type Mode string

const (
	ModeNormal     Mode = "normal"
	ModeCompaction Mode = "compaction"
	ModeContinue   Mode = "continue"
)

// PartType enumerates the content kinds a message may carry.
type PartType string

const (
	PartText       PartType = "text"
	PartReasoning  PartType = "reasoning"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
)

// Part is one unit of message content. Text and reasoning parts use Text;
// tool-call parts carry CallID/Tool/Input; tool-result parts carry
// CallID/Output and the error flag. A call part and its result part share
// the same CallID.
type Part struct {
	Type    PartType        `json:"type"`
	Text    string          `json:"text,omitempty"`
	CallID  string          `json:"callId,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"isError,omitempty"`
	Tokens  int             `json:"tokens,omitempty"`
}

// TokenUsage is the provider-reported accounting for one request.
type TokenUsage struct {
	InputTokens      int `json:"inputTokens,omitempty"`
	OutputTokens     int `json:"outputTokens,omitempty"`
	CacheReadTokens  int `json:"cacheReadTokens,omitempty"`
	CacheWriteTokens int `json:"cacheWriteTokens,omitempty"`
}

// Message is one entry in a session transcript. Messages are appended in
// Seq order and never rewritten; compaction may remove old ones and insert
// replacements that reuse freed Seq slots.
type Message struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	Seq       int        `json:"seq"`
	Role      Role       `json:"role"`
	Mode      Mode       `json:"mode"`
	Agent     string     `json:"agent,omitempty"`
	Model     string     `json:"model,omitempty"`
	Parts     []Part     `json:"parts"`
	Usage     TokenUsage `json:"usage"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ContentText renders every part as plain text, used for token estimation.
func (m *Message) ContentText() string {
	var b strings.Builder
	for _, p := range m.Parts {
		switch p.Type {
		case PartText, PartReasoning:
			b.WriteString(p.Text)
		case PartToolCall:
			b.WriteString(p.Tool)
			b.Write(p.Input)
		case PartToolResult:
			b.WriteString(p.Output)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ToolCalls returns the tool-call parts in emission order.
func (m *Message) ToolCalls() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// HasToolResults reports whether the message carries any tool-result part.
func (m *Message) HasToolResults() bool {
	for _, p := range m.Parts {
		if p.Type == PartToolResult {
			return true
		}
	}
	return false
}

// PartTokens sums the per-part token counts.
func (m *Message) PartTokens() int {
	total := 0
	for _, p := range m.Parts {
		total += p.Tokens
	}
	return total
}

// Session groups the messages of one conversation. Sub-agent runs get a
// child session pointing at the parent; forks record their origin.
type Session struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"projectId"`
	ParentID   string    `json:"parentId,omitempty"`
	ForkedFrom string    `json:"forkedFrom,omitempty"`
	Title      string    `json:"title,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	NextSeq    int       `json:"nextSeq"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
