package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/render"
)

// APIKeysCommand represents the apikeys command group
type APIKeysCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewAPIKeysCommand creates a new apikeys command
func NewAPIKeysCommand(root *RootCommand) *APIKeysCommand {
	a := &APIKeysCommand{root: root}

	a.cmd = &cobra.Command{
		Use:     "apikeys",
		Aliases: []string{"apikey", "keys"},
		Short:   "Manage API keys",
		Long: `Manage the API keys used by the GitHub Action to submit reviews.

A new key's secret is shown only once, when it is created.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE:  a.runList,
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key",
		Long: `Create an API key. The full key is printed once and cannot be retrieved later.

Example:
  crview apikeys create github-action`,
		Args: cobra.ExactArgs(1),
		RunE: a.runCreate,
	}

	a.cmd.AddCommand(list, create,
		a.statusCommand("enable", "Activate an API key", api.APIKeyActive),
		a.statusCommand("disable", "Deactivate an API key", api.APIKeyInactive),
		a.statusCommand("revoke", "Revoke an API key permanently", api.APIKeyRevoked),
	)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runDelete,
	}
	del.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	a.cmd.AddCommand(del)

	return a
}

// Command returns the underlying cobra command
func (a *APIKeysCommand) Command() *cobra.Command {
	return a.cmd
}

func (a *APIKeysCommand) statusCommand(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.root.Container().APIKeyService().UpdateStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ API key %s is now %s\n", args[0], status)
			return nil
		},
	}
}

func (a *APIKeysCommand) runList(cmd *cobra.Command, args []string) error {
	keys, err := a.root.Container().APIKeyService().List(cmd.Context())
	if err != nil {
		return err
	}

	p := a.root.printer(cmd)
	return p.Print(keys, func(w io.Writer) error {
		if len(keys) == 0 {
			fmt.Fprintln(w, "No API keys found.")
			fmt.Fprintln(w, "\nCreate one with: crview apikeys create <name>")
			return nil
		}

		rows := make([][]string, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, []string{
				key.ID,
				key.Name,
				key.Status,
				render.OrDash(key.KeyPreview),
				strconv.Itoa(key.UsageCount),
				key.LastUsed.String(),
				key.ExpiresAt.String(),
			})
		}
		return p.Table([]string{"ID", "NAME", "STATUS", "KEY", "USES", "LAST USED", "EXPIRES"}, rows)
	})
}

func (a *APIKeysCommand) runCreate(cmd *cobra.Command, args []string) error {
	key, err := a.root.Container().APIKeyService().Create(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	p := a.root.printer(cmd)
	return p.Print(key, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ API key %q created\n\n", key.Name)
		if err := p.Fields(
			[2]string{"ID", key.ID},
			[2]string{"Key", key.APIKey},
			[2]string{"Expires", key.ExpiresAt.String()},
		); err != nil {
			return err
		}
		fmt.Fprintln(w, "\nStore this key now. It will not be shown again.")
		return nil
	})
}

func (a *APIKeysCommand) runDelete(cmd *cobra.Command, args []string) error {
	id := args[0]
	skipConfirm, _ := cmd.Flags().GetBool("yes")

	if !skipConfirm {
		if !isInteractive() {
			return fmt.Errorf("refusing to delete API key %s without confirmation (use --yes)", id)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n⚠️  Deleting API key %s. Clients using it will stop working.\n\n", id)

		var confirm bool
		if err := survey.AskOne(&survey.Confirm{
			Message: fmt.Sprintf("Are you sure you want to delete API key %q?", id),
			Default: false,
		}, &confirm); err != nil {
			return err
		}
		if !confirm {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := a.root.Container().APIKeyService().Delete(cmd.Context(), id); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ API key %s deleted\n", id)
	return nil
}
