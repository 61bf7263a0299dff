package anthropic

import (
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"codecoder/internal/provider"
	"codecoder/internal/session"
)

// blockState tracks one content block between its start and stop events.
type blockState struct {
	kind   string
	callID string
	tool   string
	args   strings.Builder
}

// stream translates the SDK's SSE events into port events. One SSE event
// can yield zero or one port event, so Next pulls until it has something
// to hand out.
type stream struct {
	sse        *ssestream.Stream[anthropic.MessageStreamEventUnion]
	blocks     map[int64]*blockState
	stopReason provider.StopReason
	usage      session.TokenUsage
	current    provider.Event
	err        error
	done       bool
}

func newStream(sse *ssestream.Stream[anthropic.MessageStreamEventUnion]) *stream {
	return &stream{sse: sse, blocks: make(map[int64]*blockState)}
}

func (s *stream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	for s.sse.Next() {
		if ev, ok := s.translate(s.sse.Current()); ok {
			s.current = ev
			return true
		}
	}
	s.done = true
	s.err = classifyError(s.sse.Err())
	return false
}

func (s *stream) Current() provider.Event { return s.current }

func (s *stream) Err() error { return s.err }

func (s *stream) Close() error { return s.sse.Close() }

func (s *stream) translate(event anthropic.MessageStreamEventUnion) (provider.Event, bool) {
	switch e := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		return provider.Event{
			Type:      provider.EventMessageStart,
			MessageID: e.Message.ID,
			Model:     string(e.Message.Model),
			Usage: session.TokenUsage{
				InputTokens:      int(e.Message.Usage.InputTokens),
				CacheReadTokens:  int(e.Message.Usage.CacheReadInputTokens),
				CacheWriteTokens: int(e.Message.Usage.CacheCreationInputTokens),
			},
		}, true

	case anthropic.ContentBlockStartEvent:
		block := &blockState{}
		switch content := e.ContentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			block.kind = "text"
			s.blocks[e.Index] = block
			if content.Text != "" {
				return provider.Event{Type: provider.EventTextDelta, Text: content.Text}, true
			}
		case anthropic.ToolUseBlock:
			block.kind = "tool_use"
			block.callID = content.ID
			block.tool = content.Name
			s.blocks[e.Index] = block
			return provider.Event{
				Type:   provider.EventToolCallStart,
				CallID: content.ID,
				Tool:   content.Name,
			}, true
		}

	case anthropic.ContentBlockDeltaEvent:
		block, ok := s.blocks[e.Index]
		if !ok {
			break
		}
		switch delta := e.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return provider.Event{Type: provider.EventTextDelta, Text: delta.Text}, true
		case anthropic.InputJSONDelta:
			block.args.WriteString(delta.PartialJSON)
			return provider.Event{
				Type:      provider.EventToolCallDelta,
				CallID:    block.callID,
				Tool:      block.tool,
				ArgsDelta: delta.PartialJSON,
			}, true
		}

	case anthropic.ContentBlockStopEvent:
		block, ok := s.blocks[e.Index]
		if !ok {
			break
		}
		delete(s.blocks, e.Index)
		if block.kind == "tool_use" {
			args := block.args.String()
			if args == "" {
				args = "{}"
			}
			return provider.Event{
				Type:   provider.EventToolCallEnd,
				CallID: block.callID,
				Tool:   block.tool,
				Args:   args,
			}, true
		}

	case anthropic.MessageDeltaEvent:
		s.stopReason = provider.StopReason(e.Delta.StopReason)
		s.usage.OutputTokens = int(e.Usage.OutputTokens)

	case anthropic.MessageStopEvent:
		return provider.Event{
			Type:       provider.EventMessageEnd,
			StopReason: s.stopReason,
			Usage:      s.usage,
		}, true
	}

	return provider.Event{}, false
}
