package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/crview/crview-cli/internal/config"
)

// ConfigCommand represents the config command group
type ConfigCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewConfigCommand creates a new config command
func NewConfigCommand(root *RootCommand) *ConfigCommand {
	c := &ConfigCommand{root: root}

	c.cmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the crview configuration file",
		Long: `Manage the crview configuration file (default ~/.crview/config.toml).

Settings are read from the file, then CRVIEW_* environment variables
(CRVIEW_API__BASE_URL sets api.base_url), then command-line flags.`,
		// Config commands must work even when the current file is invalid.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE:  c.runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  c.runShow,
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the config file",
		Long: `Set a value in the config file. The result must be a valid configuration.

Examples:
  crview config set api.base_url https://review.example.com
  crview config set auth.storage keyring
  crview config set jira.monitor_interval 2m`,
		Args: cobra.ExactArgs(2),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return config.Keys(), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: c.runSet,
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE:  c.runPath,
	}

	c.cmd.AddCommand(initCmd, show, set, path)

	return c
}

// Command returns the underlying cobra command
func (c *ConfigCommand) Command() *cobra.Command {
	return c.cmd
}

func (c *ConfigCommand) manager(cmd *cobra.Command) (*config.Manager, error) {
	if container := c.root.Container(); container != nil && container.ConfigManager() != nil {
		return container.ConfigManager(), nil
	}
	return c.root.configManager(cmd)
}

func (c *ConfigCommand) runInit(cmd *cobra.Command, args []string) error {
	manager, err := c.manager(cmd)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	if _, err := manager.Init(force); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Config file written to %s\n", manager.Path())
	return nil
}

func (c *ConfigCommand) runShow(cmd *cobra.Command, args []string) error {
	manager, err := c.manager(cmd)
	if err != nil {
		return err
	}

	cfg, err := manager.Load(c.root.overrides(cmd))
	if err != nil {
		return err
	}
	values := cfg.Values()

	p := c.root.printer(cmd)
	return p.Print(values, func(w io.Writer) error {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([][2]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, [2]string{k, fmt.Sprint(values[k])})
		}
		return p.Fields(pairs...)
	})
}

func (c *ConfigCommand) runSet(cmd *cobra.Command, args []string) error {
	manager, err := c.manager(cmd)
	if err != nil {
		return err
	}

	if err := manager.Set(args[0], args[1]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s = %s\n", args[0], args[1])
	return nil
}

func (c *ConfigCommand) runPath(cmd *cobra.Command, args []string) error {
	manager, err := c.manager(cmd)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), manager.Path())
	return nil
}
