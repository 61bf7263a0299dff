package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codecoder/internal/permission"
)

func TestParseApproval(t *testing.T) {
	cases := []struct {
		answer  string
		reply   permission.Reply
		message string
	}{
		{"y", permission.ReplyAllowOnce, ""},
		{"yes", permission.ReplyAllowOnce, ""},
		{"once", permission.ReplyAllowOnce, ""},
		{"a", permission.ReplyAllowAlways, ""},
		{"always", permission.ReplyAllowAlways, ""},
		{"n", permission.ReplyDeny, ""},
		{"no", permission.ReplyDeny, ""},
		{"n use the staging bucket", permission.ReplyDeny, "use the staging bucket"},
		{"", permission.ReplyDeny, ""},
		{"whatever", permission.ReplyDeny, ""},
		{"  Y  ", permission.ReplyAllowOnce, ""},
	}
	for _, tc := range cases {
		reply, message := parseApproval(tc.answer)
		assert.Equal(t, tc.reply, reply, "answer %q", tc.answer)
		assert.Equal(t, tc.message, message, "answer %q", tc.answer)
	}
}

func TestOptionIndex(t *testing.T) {
	idx, ok := optionIndex("2", 3)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = optionIndex("4", 3)
	assert.False(t, ok)
	_, ok = optionIndex("0", 3)
	assert.False(t, ok)
	_, ok = optionIndex("the second one", 3)
	assert.False(t, ok)
	_, ok = optionIndex("1", 0)
	assert.False(t, ok)
}

func TestConsoleAskReturnsSelectedOption(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("2\n"), &out, true)

	answer, err := c.Ask(context.Background(), "ses_1", "Which file?", []string{"a.go", "b.go"})
	require.NoError(t, err)
	assert.Equal(t, "b.go", answer)
	assert.Contains(t, out.String(), "Which file?")
	assert.Contains(t, out.String(), "1. a.go")
}

func TestConsoleAskFreeformAnswer(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("the green one\n"), &out, true)

	answer, err := c.Ask(context.Background(), "ses_1", "Pick a color", nil)
	require.NoError(t, err)
	assert.Equal(t, "the green one", answer)
}

func TestConsoleAskWithoutTerminalErrors(t *testing.T) {
	c := newConsole(strings.NewReader(""), &bytes.Buffer{}, false)
	_, err := c.Ask(context.Background(), "ses_1", "Anyone there?", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestApproverAutoApprove(t *testing.T) {
	c := newConsole(strings.NewReader(""), &bytes.Buffer{}, false)
	c.autoApprove = true
	a := &approver{console: c}

	reply, message := a.decide(permission.Request{ToolName: "write", Kind: permission.KindEdit})
	assert.Equal(t, permission.ReplyAllowOnce, reply)
	assert.Empty(t, message)
}

func TestApproverDeniesWithoutTerminal(t *testing.T) {
	c := newConsole(strings.NewReader(""), &bytes.Buffer{}, false)
	a := &approver{console: c}

	reply, message := a.decide(permission.Request{ToolName: "bash", Kind: permission.KindBash})
	assert.Equal(t, permission.ReplyDeny, reply)
	assert.Contains(t, message, "no interactive terminal")
}

func TestApproverPromptsAndParses(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("a\n"), &out, true)
	a := &approver{console: c}

	reply, _ := a.decide(permission.Request{ToolName: "bash", Kind: permission.KindBash, Value: "rm -rf build"})
	assert.Equal(t, permission.ReplyAllowAlways, reply)
	assert.Contains(t, out.String(), "bash")
	assert.Contains(t, out.String(), "rm -rf build")
}
