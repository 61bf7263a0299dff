package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"codecoder/internal/memory"
	"codecoder/internal/memory/causal"
	"codecoder/internal/storage"
)

func (c *CLI) newMemoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and move the memory stores",
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot every memory record as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			entries, err := container.DB.Export(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			if exportPath == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(exportPath, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("exported %d records to %s\n", len(entries), exportPath)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&exportPath, "output", "o", "", "Write the snapshot to a file instead of stdout")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Load a snapshot back into the record store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var entries []storage.Entry
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse snapshot %s: %w", args[0], err)
			}
			if err := container.DB.Import(cmd.Context(), entries); err != nil {
				return err
			}
			fmt.Printf("imported %d records\n", len(entries))
			return nil
		},
	})

	var noteType, noteTitle string
	noteCmd := &cobra.Command{
		Use:   "note <content...>",
		Short: "Write one memory entry through the router",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			entry := memory.WriteEntry{
				Type:    memory.EntryType(noteType),
				Title:   noteTitle,
				Content: strings.Join(args, " "),
			}
			results := container.Memory.Write(cmd.Context(), entry)
			for _, result := range results {
				if result.Err != nil {
					return result.Err
				}
				fmt.Printf("stored %s as %s\n", result.Entry.Type, result.Key)
			}
			return nil
		},
	}
	noteCmd.Flags().StringVar(&noteType, "type", string(memory.TypeLesson), "Entry type: preference, decision, lesson, context, daily")
	noteCmd.Flags().StringVar(&noteTitle, "title", "", "Optional entry title")
	cmd.AddCommand(noteCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "style",
		Short: "Show the learned code style preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			summary := container.Style.Summary(cmd.Context())
			if summary == "" {
				fmt.Println("no style preferences learned yet")
				return nil
			}
			fmt.Println(summary)
			return nil
		},
	})

	return cmd
}

func (c *CLI) newCausalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "causal",
		Short: "Query the decision graph",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count decisions, actions, and outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			stats, err := container.Causal.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("decisions: %d\nactions:   %d\noutcomes:  %d\nsessions:  %d\n",
				stats.Decisions, stats.Actions, stats.Outcomes, stats.Sessions)
			if stats.Outcomes > 0 {
				fmt.Printf("success:   %.0f%%\n", stats.SuccessRate*100)
			}
			for actionType, n := range stats.ByType {
				fmt.Printf("  %-18s %d\n", actionType, n)
			}
			return nil
		},
	})

	var graphSession, graphDecision string
	graphCmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the decision graph as a Mermaid flowchart",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			diagram, err := container.Causal.ToMermaid(cmd.Context(), causal.MermaidOptions{
				SessionID:  graphSession,
				DecisionID: graphDecision,
			})
			if err != nil {
				return err
			}
			fmt.Println(diagram)
			return nil
		},
	}
	graphCmd.Flags().StringVar(&graphSession, "session", "", "Limit to one session")
	graphCmd.Flags().StringVar(&graphDecision, "decision", "", "Limit to one decision chain")
	cmd.AddCommand(graphCmd)

	var rateAgent string
	rateCmd := &cobra.Command{
		Use:   "rate",
		Short: "Show an agent's decision success rate",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			agentID := rateAgent
			if agentID == "" {
				agentID = container.Agents.Default().Name
			}
			rate, err := container.Causal.GetSuccessRate(cmd.Context(), agentID)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %.0f%% of graded outcomes succeeded\n", agentID, rate*100)
			return nil
		},
	}
	rateCmd.Flags().StringVar(&rateAgent, "agent", "", "Agent to grade (default: the default agent)")
	cmd.AddCommand(rateCmd)

	return cmd
}
