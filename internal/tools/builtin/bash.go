package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"codecoder/internal/logging"
	"codecoder/internal/permission"
	"codecoder/internal/tools"
)

type bashTool struct {
	workDir string
	logger  logging.Logger
}

func NewBash(cfg Config, logger logging.Logger) tools.Executor {
	return &bashTool{workDir: cfg.WorkDir, logger: logger}
}

func (t *bashTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "bash",
		Description: "Run a shell command in the worktree and return its combined output.",
		Kind:        permission.KindBash,
		ScopeArg:    "command",
		Mutating:    true,
		Timeout:     5 * time.Minute,
		Schema: tools.ObjectSchema(map[string]tools.Property{
			"command": {Type: "string", Description: "Command to execute with bash -c"},
		}, "command"),
	}
}

func (t *bashTool) Execute(ctx context.Context, call tools.Call) (*tools.Result, error) {
	command := call.StringArg("command")

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = t.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return tools.Failf(call, "command cancelled after %s: %v", elapsed.Round(time.Millisecond), ctx.Err()), nil
		} else {
			return tools.Fail(call, runErr), nil
		}
	}

	text := strings.TrimSpace(stdout.String())
	if errText := strings.TrimSpace(stderr.String()); errText != "" {
		if text == "" {
			text = errText
		} else {
			text += "\n" + errText
		}
	}
	if text == "" {
		text = fmt.Sprintf("(no output, exit code %d)", exitCode)
	}

	t.logger.Debug("bash exit=%d elapsed=%s command=%q", exitCode, elapsed.Round(time.Millisecond), command)

	result := &tools.Result{
		CallID:  call.ID,
		Content: text,
		IsError: exitCode != 0,
		Metadata: map[string]any{
			"exitCode":   exitCode,
			"durationMs": elapsed.Milliseconds(),
		},
	}
	return result, nil
}
