package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"codecoder/internal/bus"
	"codecoder/internal/permission"
)

// console serializes interactive reads: the permission approver and the
// question tool share stdin, and only one prompt may own it at a time.
type console struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	tty         bool
	autoApprove bool
}

func newConsole(in io.Reader, out io.Writer, tty bool) *console {
	return &console{in: bufio.NewReader(in), out: out, tty: tty}
}

// readLine prints the prompt and blocks for one line of input.
func (c *console) readLine(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask implements the question tool: it prints the question with its
// numbered options and returns the user's answer. Without a terminal the
// model gets an error result instead of a hang.
func (c *console) Ask(ctx context.Context, sessionID, question string, options []string) (string, error) {
	if !c.tty {
		return "", fmt.Errorf("no interactive terminal to answer the question")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s\n", yellow("?"), question)
	for i, option := range options {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, option)
	}
	b.WriteString("> ")

	answer, err := c.readLine(b.String())
	if err != nil {
		return "", err
	}
	if idx, ok := optionIndex(answer, len(options)); ok {
		return options[idx], nil
	}
	return answer, nil
}

// optionIndex maps a numeric answer onto the option list.
func optionIndex(answer string, count int) (int, bool) {
	if count == 0 {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(answer, "%d", &idx); err != nil {
		return 0, false
	}
	if idx < 1 || idx > count {
		return 0, false
	}
	return idx - 1, true
}

// approver answers permission.updated events. Pending requests prompt
// the user (or auto-approve under --yes); answered events are ignored.
type approver struct {
	console *console
	engine  *permission.Engine
}

func (a *approver) handle(ev bus.Event) {
	if ev.Type != bus.EventPermissionUpdated {
		return
	}
	req, ok := ev.Payload.(permission.Request)
	if !ok || req.Status != permission.StatusPending {
		return
	}

	reply, message := a.decide(req)
	if err := a.engine.Reply(context.Background(), req.ID, reply, message); err != nil {
		fmt.Fprintf(a.console.out, "%s reply %s: %v\n", red("✗"), req.ID, err)
	}
}

func (a *approver) decide(req permission.Request) (permission.Reply, string) {
	if a.console.autoApprove {
		return permission.ReplyAllowOnce, ""
	}
	if !a.console.tty {
		return permission.ReplyDeny, "no interactive terminal to approve this request"
	}

	prompt := fmt.Sprintf("\n%s %s wants %s %s\n%s ",
		yellow("!"), bold(req.ToolName), req.Kind, req.Value,
		gray("[y] once  [a] always  [n] deny (n <reason> to explain)  >"))
	answer, err := a.console.readLine(prompt)
	if err != nil {
		return permission.ReplyDeny, "approval prompt closed"
	}
	return parseApproval(answer)
}

// parseApproval maps a console answer to a reply. Anything that is not
// an explicit allow denies, with the rest of the line as the reason.
func parseApproval(answer string) (permission.Reply, string) {
	verb, rest, _ := strings.Cut(strings.TrimSpace(answer), " ")
	switch strings.ToLower(verb) {
	case "y", "yes", "once":
		return permission.ReplyAllowOnce, ""
	case "a", "always":
		return permission.ReplyAllowAlways, ""
	default:
		return permission.ReplyDeny, strings.TrimSpace(rest)
	}
}
