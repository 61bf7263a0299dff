package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"codecoder/internal/bus"
	"codecoder/internal/session"
	"codecoder/internal/writer"
)

const inlinePreviewLimit = 80

// printer renders bus events for one session as terminal lines: text
// deltas stream raw, tool calls get a dot line with an argument preview,
// completions a result line. It is driven from a single goroutine.
type printer struct {
	out     io.Writer
	verbose bool
	active  map[string]time.Time
	midLine bool
}

func newPrinter(out io.Writer, verbose bool) *printer {
	return &printer{out: out, verbose: verbose, active: make(map[string]time.Time)}
}

// flush terminates a dangling delta line.
func (p *printer) flush() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

// breakLine ends streaming text before a status line is printed.
func (p *printer) breakLine() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}

func (p *printer) handle(ev bus.Event) {
	switch ev.Type {
	case bus.EventSessionMessagePartUpdated:
		p.onDelta(ev)
	case bus.EventToolExecutionStarted:
		p.onToolStarted(ev)
	case bus.EventToolExecutionCompleted:
		p.onToolCompleted(ev)
	case bus.EventHookNotification:
		p.onHookNotification(ev)
	case bus.EventWriterProgress:
		p.onWriterProgress(ev)
	case bus.EventSessionError:
		p.onError(ev)
	}
}

func (p *printer) onDelta(ev bus.Event) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	delta, _ := payload["delta"].(string)
	if delta == "" {
		return
	}
	switch payload["partType"] {
	case string(session.PartText):
		fmt.Fprint(p.out, delta)
		p.midLine = !strings.HasSuffix(delta, "\n")
	case string(session.PartReasoning):
		if p.verbose {
			fmt.Fprint(p.out, gray(delta))
			p.midLine = !strings.HasSuffix(delta, "\n")
		}
	}
}

func (p *printer) onToolStarted(ev bus.Event) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	callID, _ := payload["callId"].(string)
	tool, _ := payload["tool"].(string)
	input, _ := payload["input"].(string)
	p.active[callID] = time.Now()

	p.breakLine()
	if preview := argsPreview(input, p.verbose); preview != "" {
		fmt.Fprintf(p.out, "%s %s(%s)\n", green("●"), bold(tool), preview)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", green("●"), bold(tool))
}

func (p *printer) onToolCompleted(ev bus.Event) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	callID, _ := payload["callId"].(string)
	tool, _ := payload["tool"].(string)
	isError, _ := payload["isError"].(bool)
	preview, _ := payload["preview"].(string)

	var elapsed string
	if started, tracked := p.active[callID]; tracked {
		elapsed = " " + gray(formatDuration(time.Since(started)))
		delete(p.active, callID)
	}

	p.breakLine()
	if isError {
		fmt.Fprintf(p.out, "  %s\n", red(fmt.Sprintf("✗ %s: %s", tool, preview)))
		return
	}
	if preview == "" {
		preview = "ok"
	}
	fmt.Fprintf(p.out, "  %s %s%s\n", gray("⎿"), gray(preview), elapsed)
}

func (p *printer) onHookNotification(ev bus.Event) {
	payload, ok := ev.Payload.(map[string]string)
	if !ok {
		return
	}
	p.breakLine()
	fmt.Fprintf(p.out, "%s hook %s: %s\n", yellow("!"), payload["hook"], payload["message"])
}

func (p *printer) onWriterProgress(ev bus.Event) {
	progress, ok := ev.Payload.(writer.ProgressEvent)
	if !ok {
		return
	}
	switch progress.Action {
	case writer.ActionError:
		p.breakLine()
		fmt.Fprintf(p.out, "%s %s\n", red("✗"), progress.Message)
	case writer.ActionChapterComplete, writer.ActionComplete:
		if p.verbose {
			p.breakLine()
			fmt.Fprintf(p.out, "%s writing %d/%d\n", gray("*"), progress.Completed, progress.Total)
		}
	}
}

func (p *printer) onError(ev bus.Event) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	message, _ := payload["error"].(string)
	p.breakLine()
	fmt.Fprintf(p.out, "%s %s\n", red("✗"), message)
}

// previewKeys orders which argument to surface in the tool line.
var previewKeys = []string{"command", "file_path", "path", "pattern", "query", "url", "agent", "description", "prompt", "question"}

// argsPreview renders a one-line summary of a tool's JSON arguments.
// Non-verbose output clips it to a terminal-friendly width.
func argsPreview(raw string, verbose bool) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || len(args) == 0 {
		return ""
	}

	preview := ""
	for _, key := range previewKeys {
		if v, ok := args[key].(string); ok && v != "" {
			preview = v
			break
		}
	}
	if preview == "" {
		pairs := make([]string, 0, len(args))
		for k, v := range args {
			pairs = append(pairs, fmt.Sprintf("%s: %v", k, v))
			if len(pairs) == 2 {
				break
			}
		}
		preview = strings.Join(pairs, ", ")
	}

	preview = strings.ReplaceAll(preview, "\n", " ")
	if !verbose {
		preview = clipRunes(preview, inlinePreviewLimit)
	}
	return preview
}

func clipRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
