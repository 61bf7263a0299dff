package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"codecoder/internal/session"
)

func (c *CLI) newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and inspect this project's sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.listSessions(cmd)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.showSession(cmd, args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fork <session-id> <message-id>",
		Short: "Copy a session up to a message into a new session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			fork, err := container.Runtime.Fork(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("forked %s at %s into %s\n", args[0], args[1], bold(fork.ID))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			if err := container.Sessions.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func (c *CLI) listSessions(cmd *cobra.Command) error {
	container, err := c.ensureContainer()
	if err != nil {
		return err
	}
	sessions, err := container.Sessions.List(cmd.Context(), container.Paths.ProjectID())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions for this project yet")
		return nil
	}
	for _, sess := range sessions {
		title := sess.Title
		if title == "" {
			title = gray("(untitled)")
		}
		marks := ""
		if sess.ForkedFrom != "" {
			marks = gray(" fork of " + sess.ForkedFrom)
		}
		if sess.ParentID != "" {
			marks += gray(" child of " + sess.ParentID)
		}
		fmt.Printf("%s  %s  %s%s\n", bold(sess.ID), sess.UpdatedAt.Format("2006-01-02 15:04"), title, marks)
	}
	return nil
}

func (c *CLI) showSession(cmd *cobra.Command, sessionID string) error {
	container, err := c.ensureContainer()
	if err != nil {
		return err
	}
	sess, err := container.Sessions.Get(cmd.Context(), sessionID)
	if err != nil {
		return err
	}
	msgs, err := container.Sessions.Messages(cmd.Context(), sessionID)
	if err != nil {
		return err
	}

	if sess.Title != "" {
		fmt.Printf("%s\n", bold(sess.Title))
	}
	for _, msg := range msgs {
		printMessage(msg, c.verbose)
	}
	return nil
}

func printMessage(msg *session.Message, verbose bool) {
	label := string(msg.Role)
	if msg.Mode != session.ModeNormal && msg.Mode != "" {
		label += " " + string(msg.Mode)
	}
	fmt.Printf("\n%s %s\n", cyan("["+label+"]"), gray(msg.ID))

	for _, part := range msg.Parts {
		switch part.Type {
		case session.PartText:
			fmt.Println(strings.TrimRight(part.Text, "\n"))
		case session.PartReasoning:
			if verbose {
				fmt.Println(gray(strings.TrimRight(part.Text, "\n")))
			}
		case session.PartToolCall:
			fmt.Printf("%s %s(%s)\n", green("●"), bold(part.Tool), argsPreview(string(part.Input), verbose))
		case session.PartToolResult:
			preview := resultLine(part.Output, verbose)
			if part.IsError {
				fmt.Printf("  %s\n", red("✗ "+preview))
			} else {
				fmt.Printf("  %s %s\n", gray("⎿"), gray(preview))
			}
		}
	}
	if msg.Error != "" {
		fmt.Printf("%s %s\n", red("✗"), msg.Error)
	}
}

func resultLine(output string, verbose bool) string {
	output = strings.TrimSpace(output)
	if verbose {
		return output
	}
	if i := strings.IndexByte(output, '\n'); i >= 0 {
		output = output[:i] + " …"
	}
	return clipRunes(output, 120)
}

func (c *CLI) newCompactCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compact <session-id>",
		Short: "Summarize and prune a session's oldest exchanges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			if err := container.Runtime.Compact(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("compacted %s\n", args[0])
			return nil
		},
	}
}
