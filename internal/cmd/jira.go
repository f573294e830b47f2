package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/auth"
	"github.com/crview/crview-cli/internal/jiramonitor"
	"github.com/crview/crview-cli/internal/render"
)

// JiraCommand represents the jira command group
type JiraCommand struct {
	root *RootCommand
	cmd  *cobra.Command

	// Subcommands
	connectionsCmd *JiraConnectionsCommand
}

// NewJiraCommand creates a new jira command
func NewJiraCommand(root *RootCommand) *JiraCommand {
	j := &JiraCommand{root: root}

	j.cmd = &cobra.Command{
		Use:   "jira",
		Short: "Manage Jira connections and their OAuth tokens",
		Long: `Manage the Jira connections used to turn review issues into Jira issues.

Connections are authorized with Atlassian OAuth. Tokens expire, so crview
can check their status, refresh them and keep watching them.`,
	}

	j.connectionsCmd = NewJiraConnectionsCommand(j)

	connect := &cobra.Command{
		Use:   "connect",
		Short: "Authorize a Jira site in the browser",
		Long: `Authorize a Jira Cloud site with Atlassian OAuth.

A local callback server receives the authorization code, which the review
platform exchanges for a stored connection.

Examples:
  crview jira connect --client-id abc123
  crview jira connect --client-id abc123 --no-browser`,
		Args: cobra.NoArgs,
		RunE: j.runConnect,
	}
	connect.Flags().String("client-id", "", "Atlassian OAuth client ID")
	connect.Flags().Int("port", auth.DefaultCallbackPort, "First local port tried for the OAuth callback (0 for any)")
	connect.Flags().Duration("timeout", auth.DefaultFlowTimeout, "How long to wait for the browser")
	connect.Flags().Bool("no-browser", false, "Print the authorization URL instead of opening a browser")
	_ = connect.MarkFlagRequired("client-id")

	authURL := &cobra.Command{
		Use:   "auth-url",
		Short: "Ask the platform for an authorization URL",
		Args:  cobra.NoArgs,
		RunE:  j.runAuthURL,
	}
	authURL.Flags().String("jira-url", "", "Jira site URL")
	authURL.Flags().String("client-id", "", "Atlassian OAuth client ID")
	authURL.Flags().String("redirect-uri", "", "OAuth redirect URI")
	_ = authURL.MarkFlagRequired("client-id")
	_ = authURL.MarkFlagRequired("redirect-uri")

	refresh := &cobra.Command{
		Use:   "refresh [connection-id...]",
		Short: "Refresh connection tokens",
		Long: `Refresh the OAuth tokens of one or more connections, in order.

With --client-id, --client-secret and --refresh-token the raw refresh
token is exchanged instead and the new access token is printed.

Examples:
  crview jira refresh c1 c2
  crview jira refresh --client-id id --client-secret secret --refresh-token rt`,
		RunE: j.runRefresh,
	}
	refresh.Flags().String("client-id", "", "Atlassian OAuth client ID")
	refresh.Flags().String("client-secret", "", "Atlassian OAuth client secret")
	refresh.Flags().String("refresh-token", "", "Refresh token to exchange")
	refresh.MarkFlagsRequiredTogether("client-id", "client-secret", "refresh-token")

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke an OAuth token",
		Args:  cobra.NoArgs,
		RunE:  j.runRevoke,
	}
	revoke.Flags().String("token", "", "Token to revoke")
	revoke.Flags().String("client-id", "", "Atlassian OAuth client ID")
	revoke.Flags().String("client-secret", "", "Atlassian OAuth client secret")

	resources := &cobra.Command{
		Use:   "resources <connection-id>",
		Short: "List the Jira sites a connection can access",
		Args:  cobra.ExactArgs(1),
		RunE:  j.runResources,
	}

	switchCmd := &cobra.Command{
		Use:   "switch <connection-id> <resource-id>",
		Short: "Point a connection at another accessible Jira site",
		Args:  cobra.ExactArgs(2),
		RunE:  j.runSwitch,
	}

	status := &cobra.Command{
		Use:   "status [connection-id...]",
		Short: "Check token health of connections",
		Long: `Check the token health of the given connections, or of all connections.

Expired or expiring tokens are refreshed as part of the check.`,
		RunE: j.runStatus,
	}

	watch := &cobra.Command{
		Use:   "watch <connection-id...>",
		Short: "Keep connection tokens fresh until interrupted",
		Long: `Check the given connections now and then on every interval, refreshing
tokens that are expired or about to expire. Runs until Ctrl-C.

Example:
  crview jira watch c1 --interval 2m`,
		Args: cobra.MinimumNArgs(1),
		RunE: j.runWatch,
	}
	watch.Flags().Duration("interval", 0, "Time between checks (default from config jira.monitor_interval)")

	config := &cobra.Command{
		Use:   "config",
		Short: "Show the Jira options supported by the platform",
		Args:  cobra.NoArgs,
		RunE:  j.runConfig,
	}

	j.cmd.AddCommand(j.connectionsCmd.Command(), connect, authURL, refresh, revoke,
		resources, switchCmd, status, watch, config)

	return j
}

// Command returns the underlying cobra command
func (j *JiraCommand) Command() *cobra.Command {
	return j.cmd
}

// Root returns the parent root command
func (j *JiraCommand) Root() *RootCommand {
	return j.root
}

func (j *JiraCommand) runConnect(cmd *cobra.Command, args []string) error {
	clientID, _ := cmd.Flags().GetString("client-id")
	port, _ := cmd.Flags().GetInt("port")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	noBrowser, _ := cmd.Flags().GetBool("no-browser")

	opts := []auth.FlowOption{
		auth.WithCallbackPort(port),
		auth.WithFlowTimeout(timeout),
		auth.WithOutput(cmd.ErrOrStderr()),
	}
	if noBrowser {
		opts = append(opts, auth.WithBrowser(func(string) error { return nil }))
	}

	flow := auth.NewJiraOAuthFlow(j.root.Container().JiraService(), clientID, opts...)
	resp, err := flow.Connect(cmd.Context())
	if err != nil {
		return err
	}

	conn := resp.Connection
	p := j.root.printer(cmd)
	return p.Print(conn, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Connected Jira site %s\n\n", render.OrDash(conn.JiraURL))
		return printConnection(p, &conn)
	})
}

func (j *JiraCommand) runAuthURL(cmd *cobra.Command, args []string) error {
	input := &api.AuthURLRequest{}
	input.JiraURL, _ = cmd.Flags().GetString("jira-url")
	input.ClientID, _ = cmd.Flags().GetString("client-id")
	input.RedirectURI, _ = cmd.Flags().GetString("redirect-uri")

	u, err := j.root.Container().JiraService().AuthURL(cmd.Context(), input)
	if err != nil {
		return err
	}

	p := j.root.printer(cmd)
	return p.Print(api.AuthURLResponse{AuthURL: u}, func(w io.Writer) error {
		fmt.Fprintln(w, u)
		return nil
	})
}

func (j *JiraCommand) runRefresh(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("refresh-token") {
		return j.refreshWithCredentials(cmd)
	}
	if len(args) == 0 {
		return errors.New("at least one connection ID is required")
	}

	results := j.root.Container().NewMonitor().RefreshAll(cmd.Context(), args)

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}

	p := j.root.printer(cmd)
	if err := p.Print(results, func(w io.Writer) error {
		for _, r := range results {
			if r.Success {
				fmt.Fprintf(w, "✓ %s refreshed\n", r.ConnectionID)
			} else {
				fmt.Fprintf(w, "✗ %s: %s\n", r.ConnectionID, r.Error)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d refreshes failed", failed, len(results))
	}
	return nil
}

func (j *JiraCommand) refreshWithCredentials(cmd *cobra.Command) error {
	input := &api.RefreshCredentialsRequest{}
	input.ClientID, _ = cmd.Flags().GetString("client-id")
	input.ClientSecret, _ = cmd.Flags().GetString("client-secret")
	input.RefreshToken, _ = cmd.Flags().GetString("refresh-token")

	resp, err := j.root.Container().JiraService().RefreshTokenWithCredentials(cmd.Context(), input)
	if err != nil {
		return err
	}

	p := j.root.printer(cmd)
	return p.Print(resp, func(w io.Writer) error {
		fmt.Fprintln(w, resp.AccessToken)
		return nil
	})
}

func (j *JiraCommand) runRevoke(cmd *cobra.Command, args []string) error {
	input := &api.RevokeTokenRequest{}
	input.Token, _ = cmd.Flags().GetString("token")
	input.ClientID, _ = cmd.Flags().GetString("client-id")
	input.ClientSecret, _ = cmd.Flags().GetString("client-secret")

	if err := j.root.Container().JiraService().RevokeToken(cmd.Context(), input); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Token revoked")
	return nil
}

func (j *JiraCommand) runResources(cmd *cobra.Command, args []string) error {
	resources, err := j.root.Container().JiraService().AccessibleResources(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	p := j.root.printer(cmd)
	return p.Print(resources, func(w io.Writer) error {
		if len(resources) == 0 {
			fmt.Fprintln(w, "No accessible Jira sites.")
			return nil
		}
		rows := make([][]string, 0, len(resources))
		for _, r := range resources {
			rows = append(rows, []string{r.ID, r.Name, r.URL})
		}
		return p.Table([]string{"ID", "NAME", "URL"}, rows)
	})
}

func (j *JiraCommand) runSwitch(cmd *cobra.Command, args []string) error {
	if err := j.root.Container().JiraService().SwitchResource(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Connection %s now uses resource %s\n", args[0], args[1])
	return nil
}

func (j *JiraCommand) runStatus(cmd *cobra.Command, args []string) error {
	ids := args
	if len(ids) == 0 {
		conns, err := j.root.Container().JiraService().ListConnections(cmd.Context())
		if err != nil {
			return err
		}
		for _, c := range conns {
			ids = append(ids, c.ID)
		}
	}

	p := j.root.printer(cmd)
	if len(ids) == 0 {
		return p.Print([]jiramonitor.Health{}, func(w io.Writer) error {
			fmt.Fprintln(w, "No Jira connections found.")
			return nil
		})
	}

	health, err := j.root.Container().NewMonitor().Health(cmd.Context(), ids)
	if err != nil {
		return err
	}

	return p.Print(health, func(w io.Writer) error {
		rows := make([][]string, 0, len(health))
		for _, h := range health {
			rows = append(rows, []string{
				h.ConnectionID,
				h.Status,
				h.ExpiresAt.String(),
				h.LastSync.String(),
				h.Message,
			})
		}
		return p.Table([]string{"CONNECTION", "STATUS", "EXPIRES", "LAST SYNC", "MESSAGE"}, rows)
	})
}

func (j *JiraCommand) runWatch(cmd *cobra.Command, args []string) error {
	var opts []jiramonitor.Option
	if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
		opts = append(opts, jiramonitor.WithInterval(interval))
	}
	monitor := j.root.Container().NewMonitor(opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, id := range args {
		monitor.Start(ctx, id)
	}
	defer monitor.StopAll()

	out := cmd.OutOrStdout()
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d connection(s). Press Ctrl-C to stop.\n", len(args))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-monitor.Events():
			printEvent(out, ev)
		}
	}
}

func printEvent(w io.Writer, ev jiramonitor.Event) {
	ts := ev.Time.Local().Format(time.TimeOnly)
	switch ev.Kind {
	case jiramonitor.KindStatus:
		if ev.Err != nil {
			fmt.Fprintf(w, "%s  %s  status check failed: %v\n", ts, ev.ConnectionID, ev.Err)
			return
		}
		fmt.Fprintf(w, "%s  %s  %s (%s)\n", ts, ev.ConnectionID, ev.Status, jiramonitor.StatusMessage(ev.Status))
	case jiramonitor.KindRefreshed:
		fmt.Fprintf(w, "%s  %s  token refreshed\n", ts, ev.ConnectionID)
	case jiramonitor.KindRefreshFailed:
		fmt.Fprintf(w, "%s  %s  token refresh failed: %v\n", ts, ev.ConnectionID, ev.Err)
	}
}

func (j *JiraCommand) runConfig(cmd *cobra.Command, args []string) error {
	jiraService := j.root.Container().JiraService()

	authTypes, err := jiraService.AuthTypes(cmd.Context())
	if err != nil {
		return err
	}
	fields, err := jiraService.Fields(cmd.Context())
	if err != nil {
		return err
	}

	out := struct {
		AuthTypes []string        `json:"auth_types" yaml:"auth_types"`
		Fields    []api.JiraField `json:"fields" yaml:"fields"`
	}{authTypes, fields}

	p := j.root.printer(cmd)
	return p.Print(out, func(w io.Writer) error {
		fmt.Fprintf(w, "Auth types: %v\n\n", authTypes)
		rows := make([][]string, 0, len(fields))
		for _, f := range fields {
			required := ""
			if f.Required {
				required = "yes"
			}
			rows = append(rows, []string{f.Name, f.Label, f.Type, required})
		}
		return p.Table([]string{"FIELD", "LABEL", "TYPE", "REQUIRED"}, rows)
	})
}
