package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectText(t *testing.T) {
	client := NewScriptedClient(TextScript("hello world"))
	stream, err := client.Stream(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	resp, err := Collect(stream)
	require.NoError(t, err)
	require.Equal(t, "hello world", resp.Text)
	require.Equal(t, StopEndTurn, resp.StopReason)
	require.Empty(t, resp.ToolCalls)
}

func TestCollectToolCall(t *testing.T) {
	client := NewScriptedClient(ToolCallScript("call-1", "read", `{"file_path":"a.txt"}`))
	stream, err := client.Stream(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	resp, err := Collect(stream)
	require.NoError(t, err)
	require.Equal(t, StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "call-1", resp.ToolCalls[0].ID)
	require.Equal(t, "read", resp.ToolCalls[0].Name)
	require.JSONEq(t, `{"file_path":"a.txt"}`, resp.ToolCalls[0].Arguments)
}

func TestCollectAssemblesArgsFromDeltas(t *testing.T) {
	script := Script{Events: []Event{
		{Type: EventMessageStart, MessageID: "msg-1", Model: "m"},
		{Type: EventToolCallStart, CallID: "call-2", Tool: "bash"},
		{Type: EventToolCallDelta, CallID: "call-2", ArgsDelta: `{"comm`},
		{Type: EventToolCallDelta, CallID: "call-2", ArgsDelta: `and":"ls"}`},
		{Type: EventToolCallEnd, CallID: "call-2"},
		{Type: EventMessageEnd, StopReason: StopToolUse},
	}}
	client := NewScriptedClient(script)
	stream, err := client.Stream(context.Background(), Request{})
	require.NoError(t, err)

	resp, err := Collect(stream)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, `{"command":"ls"}`, resp.ToolCalls[0].Arguments)
}

func TestCollectSurfacesStreamError(t *testing.T) {
	wantErr := errors.New("connection reset")
	client := NewScriptedClient(Script{
		Events:    []Event{{Type: EventTextDelta, Text: "partial"}},
		StreamErr: wantErr,
	})
	stream, err := client.Stream(context.Background(), Request{})
	require.NoError(t, err)

	_, err = Collect(stream)
	require.ErrorIs(t, err, wantErr)
}

func TestScriptedClientRecordsRequests(t *testing.T) {
	client := NewScriptedClient(TextScript("a"), TextScript("b"))

	_, err := client.Stream(context.Background(), Request{Model: "first"})
	require.NoError(t, err)
	_, err = client.Stream(context.Background(), Request{Model: "second"})
	require.NoError(t, err)

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, "first", reqs[0].Model)
	require.Equal(t, "second", reqs[1].Model)

	_, err = client.Stream(context.Background(), Request{Model: "third"})
	require.Error(t, err, "no script queued for a third call")
}

func TestScriptedStreamObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := NewScriptedClient(TextScript("never read"))
	stream, err := client.Stream(ctx, Request{})
	require.NoError(t, err)

	cancel()
	require.False(t, stream.Next())
	require.ErrorIs(t, stream.Err(), context.Canceled)
}

func TestIsContextOverflow(t *testing.T) {
	require.True(t, IsContextOverflow(errors.New("400: prompt is too long: 210000 tokens > 200000 maximum")))
	require.True(t, IsContextOverflow(errors.New("context_length_exceeded")))
	require.False(t, IsContextOverflow(errors.New("rate limited")))
	require.False(t, IsContextOverflow(nil))
}
