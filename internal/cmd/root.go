// Package cmd provides the command-line interface for the crview CLI.
// It contains all cobra commands and their implementations.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/crview/crview-cli/internal/config"
	"github.com/crview/crview-cli/internal/di"
	"github.com/crview/crview-cli/internal/logging"
	"github.com/crview/crview-cli/internal/render"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// isInteractive reports whether prompts can be shown. Tests replace it.
var isInteractive = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// flagOverrides maps global flags to the config keys they override.
var flagOverrides = map[string]string{
	"api-url":          "api.base_url",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"metrics-textfile": "metrics.textfile",
	"output":           "output",
}

// RootCommand represents the root CLI command
type RootCommand struct {
	container *di.Container
	cmd       *cobra.Command
	closeLog  func() error

	// Subcommands
	loginCmd    *LoginCommand
	logoutCmd   *LogoutCommand
	registerCmd *RegisterCommand
	whoamiCmd   *WhoamiCommand
	authCmd     *AuthCommand
	reviewsCmd  *ReviewsCommand
	apiKeysCmd  *APIKeysCommand
	jiraCmd     *JiraCommand
	chatCmd     *ChatCommand
	configCmd   *ConfigCommand
}

// NewRootCommand creates a new root command
func NewRootCommand() *RootCommand {
	r := &RootCommand{}

	r.cmd = &cobra.Command{
		Use:   "crview",
		Short: "crview - Command line client for the code review platform",
		Long: `crview is a command-line tool for the AI code review platform.

Read pull request reviews, chat with the review copilot, manage API keys
and keep Jira connections authorized from your terminal.

To get started, run:
  crview login            - Authenticate with your account
  crview reviews latest   - Show your most recent review`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return r.initialize(cmd)
		},
	}

	// Global flags
	flags := r.cmd.PersistentFlags()
	flags.StringP("output", "o", "text", "Output format (text, json, yaml)")
	flags.String("config", "", "Config file (default ~/.crview/config.toml)")
	flags.String("api-url", "", "Review API base URL")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")
	flags.String("metrics-textfile", "", "Write prometheus metrics to this file on exit")

	// Initialize subcommands (will be wired after container init)
	r.loginCmd = NewLoginCommand(r)
	r.logoutCmd = NewLogoutCommand(r)
	r.registerCmd = NewRegisterCommand(r)
	r.whoamiCmd = NewWhoamiCommand(r)
	r.authCmd = NewAuthCommand(r)
	r.reviewsCmd = NewReviewsCommand(r)
	r.apiKeysCmd = NewAPIKeysCommand(r)
	r.jiraCmd = NewJiraCommand(r)
	r.chatCmd = NewChatCommand(r)
	r.configCmd = NewConfigCommand(r)

	// Add subcommands
	r.cmd.AddCommand(r.loginCmd.Command())
	r.cmd.AddCommand(r.logoutCmd.Command())
	r.cmd.AddCommand(r.registerCmd.Command())
	r.cmd.AddCommand(r.whoamiCmd.Command())
	r.cmd.AddCommand(r.authCmd.Command())
	r.cmd.AddCommand(r.reviewsCmd.Command())
	r.cmd.AddCommand(r.apiKeysCmd.Command())
	r.cmd.AddCommand(r.jiraCmd.Command())
	r.cmd.AddCommand(r.chatCmd.Command())
	r.cmd.AddCommand(r.configCmd.Command())

	return r
}

// initialize loads configuration, sets up logging and builds the DI container
func (r *RootCommand) initialize(cmd *cobra.Command) error {
	// Skip if container is already set (e.g., for testing)
	if r.container != nil {
		return nil
	}

	manager, err := r.configManager(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	cfg, err := manager.Load(r.overrides(cmd))
	if err != nil {
		return err
	}

	_, closeLog, err := logging.Setup(logging.Config{
		Level:  cfg.Log.Level,
		Format: string(cfg.Log.Format),
		File:   cfg.Log.File,
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	r.closeLog = closeLog

	r.container, err = di.NewContainer(manager, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return nil
}

func (r *RootCommand) configManager(cmd *cobra.Command) (*config.Manager, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.NewManagerWithPath(path), nil
	}
	return config.NewManager()
}

// overrides collects explicitly set global flags as config keys.
func (r *RootCommand) overrides(cmd *cobra.Command) map[string]any {
	out := map[string]any{}
	for name, key := range flagOverrides {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		out[key] = flag.Value.String()
	}
	return out
}

// printer returns a printer honouring -o when given, else the configured output format.
func (r *RootCommand) printer(cmd *cobra.Command) *render.Printer {
	format, theme := string(config.DefaultOutput), config.DefaultTheme
	if r.container != nil {
		cfg := r.container.Config()
		format, theme = string(cfg.Output), cfg.Render.Theme
	}

	if flag := cmd.Flags().Lookup("output"); flag != nil && flag.Changed {
		format = flag.Value.String()
	}
	return render.NewPrinter(cmd.OutOrStdout(), format, theme)
}

// Execute runs the root command
func (r *RootCommand) Execute() error {
	err := r.cmd.Execute()
	return errors.Join(err, r.Close())
}

// Close flushes metrics and closes the log file.
func (r *RootCommand) Close() error {
	var errs []error
	if r.container != nil {
		errs = append(errs, r.container.Close())
	}
	if r.closeLog != nil {
		errs = append(errs, r.closeLog())
		r.closeLog = nil
	}
	return errors.Join(errs...)
}

// Command returns the underlying cobra command
func (r *RootCommand) Command() *cobra.Command {
	return r.cmd
}

// Container returns the DI container
func (r *RootCommand) Container() *di.Container {
	return r.container
}

// SetContainer sets a custom container (for testing)
func (r *RootCommand) SetContainer(c *di.Container) {
	r.container = c
}

// Execute is the main entry point for the CLI
func Execute() error {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
