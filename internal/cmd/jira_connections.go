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

// JiraConnectionsCommand represents the jira connections command group
type JiraConnectionsCommand struct {
	parent *JiraCommand
	cmd    *cobra.Command
}

// NewJiraConnectionsCommand creates a new jira connections command
func NewJiraConnectionsCommand(parent *JiraCommand) *JiraConnectionsCommand {
	c := &JiraConnectionsCommand{parent: parent}

	c.cmd = &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn", "connection"},
		Short:   "Manage Jira connections",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List Jira connections",
		Args:  cobra.NoArgs,
		RunE:  c.runList,
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a Jira connection",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runGet,
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a Jira connection",
		Long: `Create a Jira connection. Missing name and URL are prompted for when
the terminal is interactive. Authorize it afterwards with 'crview jira connect'.

Example:
  crview jira connections create --name acme --jira-url https://acme.atlassian.net --project-key CR`,
		Args: cobra.NoArgs,
		RunE: c.runCreate,
	}
	addConnectionFlags(create)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a Jira connection",
		Long: `Update a Jira connection. Only the flags you pass are changed.

Example:
  crview jira connections update c1 --project-key OPS`,
		Args: cobra.ExactArgs(1),
		RunE: c.runUpdate,
	}
	addConnectionFlags(update)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a Jira connection",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runDelete,
	}
	del.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")

	test := &cobra.Command{
		Use:   "test",
		Short: "Test Jira credentials without saving them",
		Args:  cobra.NoArgs,
		RunE:  c.runTest,
	}
	test.Flags().String("jira-url", "", "Jira site URL")
	test.Flags().String("access-token", "", "Access token to test")
	test.Flags().String("auth-type", "oauth2", "Authentication type")
	test.Flags().Bool("cloud", true, "Jira Cloud site")

	c.cmd.AddCommand(list, get, create, update, del, test)

	return c
}

// Command returns the underlying cobra command
func (c *JiraConnectionsCommand) Command() *cobra.Command {
	return c.cmd
}

func (c *JiraConnectionsCommand) root() *RootCommand {
	return c.parent.Root()
}

func addConnectionFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Connection name")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("jira-url", "", "Jira site URL")
	cmd.Flags().String("project-key", "", "Default Jira project key")
	cmd.Flags().String("auth-type", "oauth2", "Authentication type")
	cmd.Flags().String("client-id", "", "Atlassian OAuth client ID")
	cmd.Flags().String("client-secret", "", "Atlassian OAuth client secret")
	cmd.Flags().Bool("cloud", true, "Jira Cloud site")
}

// connectionInput collects the connection flags. With onlyChanged, unset flags stay empty.
func connectionInput(cmd *cobra.Command, onlyChanged bool) *api.JiraConnectionInput {
	get := func(name string) string {
		if onlyChanged && !cmd.Flags().Changed(name) {
			return ""
		}
		v, _ := cmd.Flags().GetString(name)
		return v
	}

	input := &api.JiraConnectionInput{
		Name:         get("name"),
		Description:  get("description"),
		JiraURL:      get("jira-url"),
		ProjectKey:   get("project-key"),
		AuthType:     get("auth-type"),
		ClientID:     get("client-id"),
		ClientSecret: get("client-secret"),
	}
	if !onlyChanged || cmd.Flags().Changed("cloud") {
		cloud, _ := cmd.Flags().GetBool("cloud")
		input.IsCloud = &cloud
	}
	return input
}

func printConnection(p *render.Printer, conn *api.JiraConnection) error {
	return p.Fields(
		[2]string{"ID", conn.ID},
		[2]string{"Name", conn.Name},
		[2]string{"Jira URL", conn.JiraURL},
		[2]string{"Project", render.OrDash(conn.ProjectKey)},
		[2]string{"Auth type", render.OrDash(conn.AuthType)},
		[2]string{"Cloud", strconv.FormatBool(conn.IsCloud)},
		[2]string{"Token expires", conn.TokenExpiresAt.String()},
		[2]string{"Description", render.OrDash(conn.Description)},
	)
}

func (c *JiraConnectionsCommand) runList(cmd *cobra.Command, args []string) error {
	conns, err := c.root().Container().JiraService().ListConnections(cmd.Context())
	if err != nil {
		return err
	}

	p := c.root().printer(cmd)
	return p.Print(conns, func(w io.Writer) error {
		if len(conns) == 0 {
			fmt.Fprintln(w, "No Jira connections found.")
			fmt.Fprintln(w, "\nCreate one with: crview jira connections create")
			return nil
		}

		rows := make([][]string, 0, len(conns))
		for _, conn := range conns {
			rows = append(rows, []string{
				conn.ID,
				conn.Name,
				conn.JiraURL,
				render.OrDash(conn.ProjectKey),
				conn.TokenExpiresAt.String(),
			})
		}
		return p.Table([]string{"ID", "NAME", "URL", "PROJECT", "TOKEN EXPIRES"}, rows)
	})
}

func (c *JiraConnectionsCommand) runGet(cmd *cobra.Command, args []string) error {
	conn, err := c.root().Container().JiraService().GetConnection(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	p := c.root().printer(cmd)
	return p.Print(conn, func(io.Writer) error {
		return printConnection(p, conn)
	})
}

func (c *JiraConnectionsCommand) runCreate(cmd *cobra.Command, args []string) error {
	input := connectionInput(cmd, false)

	if input.Name == "" && isInteractive() {
		if err := survey.AskOne(&survey.Input{
			Message: "Connection name:",
		}, &input.Name, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	if input.JiraURL == "" && isInteractive() {
		if err := survey.AskOne(&survey.Input{
			Message: "Jira URL:",
			Help:    "e.g. https://your-company.atlassian.net",
		}, &input.JiraURL, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	conn, err := c.root().Container().JiraService().CreateConnection(cmd.Context(), input)
	if err != nil {
		return err
	}

	p := c.root().printer(cmd)
	return p.Print(conn, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Connection %q created\n\n", conn.Name)
		return printConnection(p, conn)
	})
}

func (c *JiraConnectionsCommand) runUpdate(cmd *cobra.Command, args []string) error {
	conn, err := c.root().Container().JiraService().UpdateConnection(cmd.Context(), args[0], connectionInput(cmd, true))
	if err != nil {
		return err
	}

	p := c.root().printer(cmd)
	return p.Print(conn, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Connection %q updated\n\n", conn.Name)
		return printConnection(p, conn)
	})
}

func (c *JiraConnectionsCommand) runDelete(cmd *cobra.Command, args []string) error {
	jiraService := c.root().Container().JiraService()
	id := args[0]
	skipConfirm, _ := cmd.Flags().GetBool("yes")

	if !skipConfirm {
		if !isInteractive() {
			return fmt.Errorf("refusing to delete connection %s without confirmation (use --yes)", id)
		}

		conn, err := jiraService.GetConnection(cmd.Context(), id)
		if err != nil {
			return err
		}

		var confirm bool
		if err := survey.AskOne(&survey.Confirm{
			Message: fmt.Sprintf("Delete Jira connection %q (%s)?", conn.Name, conn.JiraURL),
			Default: false,
		}, &confirm); err != nil {
			return err
		}
		if !confirm {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := jiraService.DeleteConnection(cmd.Context(), id); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Connection %s deleted\n", id)
	return nil
}

func (c *JiraConnectionsCommand) runTest(cmd *cobra.Command, args []string) error {
	input := &api.JiraConnectionTest{}
	input.JiraURL, _ = cmd.Flags().GetString("jira-url")
	input.AccessToken, _ = cmd.Flags().GetString("access-token")
	input.AuthType, _ = cmd.Flags().GetString("auth-type")
	input.IsCloud, _ = cmd.Flags().GetBool("cloud")

	result, err := c.root().Container().JiraService().TestConnection(cmd.Context(), input)
	if err != nil {
		return err
	}

	p := c.root().printer(cmd)
	return p.Print(result, func(w io.Writer) error {
		if !result.Success {
			return fmt.Errorf("connection test failed: %s", render.OrDash(result.Message))
		}
		fmt.Fprintf(w, "✓ %s\n", render.OrDash(result.Message))
		return nil
	})
}
