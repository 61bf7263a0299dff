package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"codecoder/internal/runtime"
	"codecoder/internal/session"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// CLI holds command state. The container is built lazily so commands
// that only print help never touch the data root.
type CLI struct {
	container *Container
	console   *console

	worktree  string
	agentName string
	resumeID  string
	model     string
	verbose   bool
	yes       bool
	plan      bool
}

// NewCLI returns an empty CLI; Root builds the command tree.
func NewCLI() *CLI {
	return &CLI{console: newConsole(os.Stdin, os.Stdout, isTTY())}
}

// Close releases the container if one was built.
func (c *CLI) Close() {
	if c.container == nil {
		return
	}
	if err := c.container.Cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup error: %v\n", err)
	}
	c.container = nil
}

// ensureContainer builds the dependency graph on first use.
func (c *CLI) ensureContainer() (*Container, error) {
	if c.container != nil {
		return c.container, nil
	}
	c.console.autoApprove = c.yes
	container, err := buildContainer(c.worktree, c.console)
	if err != nil {
		return nil, err
	}
	c.container = container
	return container, nil
}

// Root builds the cobra command tree.
func (c *CLI) Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "codecoder [prompt...]",
		Short: "Coding assistant runtime: agents, tools, permissions, memory",
		Long: fmt.Sprintf(`%s drives coding sessions against a local project:
the model's tool calls run through hooks and the permission engine, long
conversations compact themselves, and every decision lands in the causal
memory graph.

Examples:
  codecoder                          interactive session
  codecoder "explain cmd/main.go"    one prompt, then exit
  codecoder -r ses_xxx "continue"    resume a session
  codecoder --plan "add caching"     plan mode (read-only tools)
  codecoder sessions                 list sessions for this project
  codecoder causal graph             decision graph as Mermaid`, bold("codecoder")),
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return c.runOnce(cmd.Context(), strings.Join(args, " "))
			}
			if !isTTY() {
				return cmd.Help()
			}
			return c.runInteractive(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.worktree, "worktree", "C", ".", "Project directory")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Show reasoning and full tool output")
	root.Flags().StringVarP(&c.agentName, "agent", "a", "", "Agent to run (default from config)")
	root.Flags().StringVarP(&c.resumeID, "resume", "r", "", "Resume session by ID")
	root.Flags().StringVarP(&c.model, "model", "m", "", "Model override")
	root.Flags().BoolVarP(&c.yes, "yes", "y", false, "Approve permission prompts automatically")
	root.Flags().BoolVar(&c.plan, "plan", false, "Run the plan agent")

	root.AddCommand(
		c.newSessionsCommand(),
		c.newCompactCommand(),
		c.newMemoryCommand(),
		c.newCausalCommand(),
		c.newAgentsCommand(),
		c.newSkillsCommand(),
		c.newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

func (c *CLI) agentFlag() string {
	if c.plan {
		return "plan"
	}
	return c.agentName
}

// resolveSession returns the session to drive: the resumed one when -r
// was given, else a fresh session for this project.
func (c *CLI) resolveSession(ctx context.Context, container *Container) (*session.Session, error) {
	if c.resumeID != "" {
		sess, err := container.Sessions.Get(ctx, c.resumeID)
		if err != nil {
			return nil, fmt.Errorf("resume session %s: %w", c.resumeID, err)
		}
		fmt.Printf("%s resumed session %s\n", gray("*"), sess.ID)
		return sess, nil
	}
	return container.Sessions.Create(ctx, container.Paths.ProjectID())
}

// runOnce executes a single prompt and exits.
func (c *CLI) runOnce(ctx context.Context, prompt string) error {
	container, err := c.ensureContainer()
	if err != nil {
		return err
	}
	sess, err := c.resolveSession(ctx, container)
	if err != nil {
		return err
	}
	return c.runTurn(ctx, container, sess.ID, prompt)
}

// runInteractive reads prompts line by line until /exit or EOF.
func (c *CLI) runInteractive(ctx context.Context) error {
	container, err := c.ensureContainer()
	if err != nil {
		return err
	}
	sess, err := c.resolveSession(ctx, container)
	if err != nil {
		return err
	}

	fmt.Printf("%s session %s in %s\n", bold("codecoder"), gray(sess.ID), container.Paths.Worktree)
	fmt.Printf("%s\n", gray("/new starts a session, /compact compacts it, /exit quits"))

	in := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("\n%s ", cyan(">"))
		line, err := in.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := c.slashCommand(ctx, container, &sess, line)
			if err != nil {
				fmt.Printf("%s %v\n", red("✗"), err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := c.runTurn(ctx, container, sess.ID, line); err != nil {
			if errors.Is(err, runtime.ErrAborted) {
				fmt.Printf("%s\n", yellow("(aborted)"))
				continue
			}
			fmt.Printf("%s %v\n", red("✗"), err)
		}
	}
}

// slashCommand handles the interactive meta commands. The bool reports
// whether the loop should exit.
func (c *CLI) slashCommand(ctx context.Context, container *Container, sess **session.Session, line string) (bool, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/exit", "/quit":
		return true, nil
	case "/new":
		fresh, err := container.Sessions.Create(ctx, container.Paths.ProjectID())
		if err != nil {
			return false, err
		}
		*sess = fresh
		fmt.Printf("%s session %s\n", gray("*"), fresh.ID)
		return false, nil
	case "/compact":
		if err := container.Runtime.Compact(ctx, (*sess).ID); err != nil {
			return false, err
		}
		fmt.Printf("%s compacted\n", gray("*"))
		return false, nil
	case "/fork":
		messageID := strings.TrimSpace(rest)
		if messageID == "" {
			return false, fmt.Errorf("usage: /fork <message-id>")
		}
		fork, err := container.Runtime.Fork(ctx, (*sess).ID, messageID)
		if err != nil {
			return false, err
		}
		*sess = fork
		fmt.Printf("%s forked into %s\n", gray("*"), fork.ID)
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
}

// runTurn drives one prompt through the runtime, streaming bus events to
// the terminal and answering permission asks from the console. Ctrl+C
// aborts the turn; a second Ctrl+C exits the process.
func (c *CLI) runTurn(ctx context.Context, container *Container, sessionID, prompt string) error {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := container.Bus.Watch(turnCtx, sessionID, 256)
	printer := newPrinter(os.Stdout, c.verbose)
	approver := &approver{console: c.console, engine: container.Permissions}
	go func() {
		for ev := range sub.Events() {
			approver.handle(ev)
			printer.handle(ev)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		interrupted := false
		for {
			select {
			case <-signals:
				if !interrupted {
					interrupted = true
					fmt.Fprintf(os.Stderr, "\n%s\n", yellow("interrupt: aborting turn (Ctrl+C again to quit)"))
					container.Runtime.Abort(sessionID)
				} else {
					os.Exit(1)
				}
			case <-turnCtx.Done():
				return
			}
		}
	}()

	started := time.Now()
	msg, err := container.Runtime.Prompt(turnCtx, runtime.PromptRequest{
		SessionID: sessionID,
		Agent:     c.agentFlag(),
		Model:     c.model,
		Text:      prompt,
	})
	printer.flush()
	if err != nil {
		return err
	}

	fmt.Printf("\n%s %s", green("done"), gray(formatDuration(time.Since(started))))
	if usage := msg.Usage; usage.InputTokens+usage.OutputTokens > 0 {
		fmt.Printf(" %s", gray(fmt.Sprintf("(in: %d, out: %d tokens)", usage.InputTokens, usage.OutputTokens)))
	}
	fmt.Println()
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("codecoder %s\n", Version)
		},
	}
}
