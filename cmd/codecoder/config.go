package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codecoder/internal/config"
)

func (c *CLI) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit codecoder.json",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.ensureContainer()
			if err != nil {
				return err
			}
			conf := container.Config
			fmt.Printf("worktree:      %s\n", container.Paths.Worktree)
			fmt.Printf("project id:    %s\n", container.Paths.ProjectID())
			fmt.Printf("data root:     %s\n", container.Paths.DataRoot)
			fmt.Printf("model:         %s\n", conf.ModelFor(""))
			fmt.Printf("small model:   %s\n", conf.SmallModelFor(""))
			fmt.Printf("default agent: %s\n", container.Agents.Default().Name)
			fmt.Printf("telemetry:     %v\n", conf.Experimental.OpenTelemetry)

			names := make([]string, 0, len(conf.Provider))
			for name := range conf.Provider {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("provider %s: key %s\n", name, maskKey(conf.Provider[name].APIKey))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one setting to the user config",
		Long: `Writes to <data-root>/codecoder.json. Dotted keys nest, so
"experimental.openTelemetry true" lands under the experimental object.

Examples:
  codecoder config set model claude-sonnet-4-5
  codecoder config set default_agent plan
  codecoder config set experimental.openTelemetry true`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := writeUserConfig(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("set %s in %s\n", args[0], path)
			return nil
		},
	})

	return cmd
}

// writeUserConfig sets one key in the data-root codecoder.json, creating
// the file on first use. Returns the file written.
func writeUserConfig(key, value string) (string, error) {
	dataRoot, err := config.DefaultDataRoot()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dataRoot, config.FileName)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if _, missing := err.(viper.ConfigFileNotFoundError); !missing && !os.IsNotExist(err) {
			return "", fmt.Errorf("read %s: %w", path, err)
		}
	}
	v.Set(key, parseConfigValue(value))
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// parseConfigValue keeps booleans typed so json encodes true, not "true".
func parseConfigValue(value string) any {
	switch value {
	case "true":
		return true
	case "false":
		return false
	default:
		return value
	}
}

// maskKey hides all but a short prefix of a credential.
func maskKey(key string) string {
	if key == "" {
		return gray("not set")
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:6] + "***"
}
