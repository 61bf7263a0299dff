package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func (c *CLI) newAgentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List the configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			defaultName := container.Agents.Default().Name
			for _, info := range container.Agents.List() {
				mark := " "
				if info.Name == defaultName {
					mark = green("*")
				}
				mode := gray(string(info.Mode))
				if info.Hidden {
					mode += gray(" hidden")
				}
				fmt.Printf("%s %-16s %s  %s\n", mark, bold(info.Name), mode, info.Description)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate <description...>",
		Short: "Draft a new agent definition from a description",
		Long: `Asks the model for a name, description, and system prompt matching
the described specialty, then prints the codecoder.json snippet to add.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			generated, err := container.Runtime.GenerateAgent(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n%s\n\n", bold(generated.Name), gray("(add under \"agent\" in codecoder.json)"), generated.Description)
			fmt.Printf("  \"%s\": {\n    \"description\": %q,\n    \"prompt\": %q\n  }\n",
				generated.Name, generated.Description, generated.Prompt)
			return nil
		},
	})

	return cmd
}

func (c *CLI) newSkillsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List the discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			skills := container.Skills.List()
			if len(skills) == 0 {
				roots := container.Paths.SkillRoots()
				fmt.Printf("no skills found; checked %s\n", strings.Join(roots, ", "))
				return nil
			}
			for _, skill := range skills {
				fmt.Printf("%-24s %s\n", bold(skill.Name), skill.Description)
				if c.verbose {
					fmt.Printf("  %s\n", gray(skill.SourcePath))
				}
			}
			return nil
		},
	}
}
