package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/require"

	"codecoder/internal/provider"
)

// wireEvent decodes one SSE data payload the way the SDK's decoder does.
func wireEvent(t *testing.T, raw string) anthropic.MessageStreamEventUnion {
	t.Helper()
	var ev anthropic.MessageStreamEventUnion
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	return ev
}

func newTestStream() *stream {
	return &stream{blocks: make(map[int64]*blockState)}
}

func TestTranslateMessageStart(t *testing.T) {
	s := newTestStream()
	ev, ok := s.translate(wireEvent(t, `{"type":"message_start","message":{"id":"msg_01","type":"message","role":"assistant","model":"claude-sonnet-4-5","content":[],"usage":{"input_tokens":120,"output_tokens":1,"cache_read_input_tokens":25,"cache_creation_input_tokens":10}}}`))
	require.True(t, ok)
	require.Equal(t, provider.EventMessageStart, ev.Type)
	require.Equal(t, "msg_01", ev.MessageID)
	require.Equal(t, "claude-sonnet-4-5", ev.Model)
	require.Equal(t, 120, ev.Usage.InputTokens)
	require.Equal(t, 25, ev.Usage.CacheReadTokens)
	require.Equal(t, 10, ev.Usage.CacheWriteTokens)
}

func TestTranslateTextFlow(t *testing.T) {
	s := newTestStream()

	_, ok := s.translate(wireEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`))
	require.False(t, ok, "empty opening text yields no event")

	ev, ok := s.translate(wireEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`))
	require.True(t, ok)
	require.Equal(t, provider.EventTextDelta, ev.Type)
	require.Equal(t, "Hello", ev.Text)

	_, ok = s.translate(wireEvent(t, `{"type":"content_block_stop","index":0}`))
	require.False(t, ok, "closing a text block yields no event")
}

func TestTranslateToolCallFlow(t *testing.T) {
	s := newTestStream()

	ev, ok := s.translate(wireEvent(t, `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"read","input":{}}}`))
	require.True(t, ok)
	require.Equal(t, provider.EventToolCallStart, ev.Type)
	require.Equal(t, "toolu_01", ev.CallID)
	require.Equal(t, "read", ev.Tool)

	ev, ok = s.translate(wireEvent(t, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"file_path\":"}}`))
	require.True(t, ok)
	require.Equal(t, provider.EventToolCallDelta, ev.Type)
	require.Equal(t, `{"file_path":`, ev.ArgsDelta)

	_, ok = s.translate(wireEvent(t, `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`))
	require.True(t, ok)

	ev, ok = s.translate(wireEvent(t, `{"type":"content_block_stop","index":1}`))
	require.True(t, ok)
	require.Equal(t, provider.EventToolCallEnd, ev.Type)
	require.Equal(t, "toolu_01", ev.CallID)
	require.JSONEq(t, `{"file_path":"a.txt"}`, ev.Args)
}

func TestTranslateEmptyToolArgsBecomeObject(t *testing.T) {
	s := newTestStream()

	_, ok := s.translate(wireEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_02","name":"todoread","input":{}}}`))
	require.True(t, ok)

	ev, ok := s.translate(wireEvent(t, `{"type":"content_block_stop","index":0}`))
	require.True(t, ok)
	require.Equal(t, "{}", ev.Args)
}

func TestTranslateMessageEndCarriesStopReason(t *testing.T) {
	s := newTestStream()

	_, ok := s.translate(wireEvent(t, `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":42}}`))
	require.False(t, ok, "message_delta only updates state")

	ev, ok := s.translate(wireEvent(t, `{"type":"message_stop"}`))
	require.True(t, ok)
	require.Equal(t, provider.EventMessageEnd, ev.Type)
	require.Equal(t, provider.StopToolUse, ev.StopReason)
	require.Equal(t, 42, ev.Usage.OutputTokens)
}

func TestTranslateIgnoresUnknownIndexes(t *testing.T) {
	s := newTestStream()
	_, ok := s.translate(wireEvent(t, `{"type":"content_block_delta","index":9,"delta":{"type":"text_delta","text":"orphan"}}`))
	require.False(t, ok)
	_, ok = s.translate(wireEvent(t, `{"type":"content_block_stop","index":9}`))
	require.False(t, ok)
}
