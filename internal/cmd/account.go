package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/render"
)

// LogoutCommand represents the logout command
type LogoutCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewLogoutCommand creates a new logout command
func NewLogoutCommand(root *RootCommand) *LogoutCommand {
	l := &LogoutCommand{root: root}

	l.cmd = &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session credential",
		Args:  cobra.NoArgs,
		RunE:  l.Run,
	}

	return l
}

// Command returns the underlying cobra command
func (l *LogoutCommand) Command() *cobra.Command {
	return l.cmd
}

// Run executes the logout command
func (l *LogoutCommand) Run(cmd *cobra.Command, args []string) error {
	if err := l.root.Container().AuthService().Logout(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Logged out, stored credential removed")
	return nil
}

// RegisterCommand represents the register command
type RegisterCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewRegisterCommand creates a new register command
func NewRegisterCommand(root *RootCommand) *RegisterCommand {
	r := &RegisterCommand{root: root}

	r.cmd = &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		Long: `Create a new account on the review platform.

Missing values are prompted for when the terminal is interactive.
Registering does not log you in; run 'crview login' afterwards.

Examples:
  crview register
  crview register --email dev@example.com --username dev --password s3cret`,
		Args: cobra.NoArgs,
		RunE: r.Run,
	}

	r.cmd.Flags().String("email", "", "Account email")
	r.cmd.Flags().String("username", "", "Username")
	r.cmd.Flags().String("password", "", "Password (at least 6 characters)")

	return r
}

// Command returns the underlying cobra command
func (r *RegisterCommand) Command() *cobra.Command {
	return r.cmd
}

// Run executes the register command
func (r *RegisterCommand) Run(cmd *cobra.Command, args []string) error {
	input := &api.RegisterRequest{}
	input.Email, _ = cmd.Flags().GetString("email")
	input.Username, _ = cmd.Flags().GetString("username")
	input.Password, _ = cmd.Flags().GetString("password")

	if isInteractive() {
		var qs []*survey.Question
		if input.Email == "" {
			qs = append(qs, &survey.Question{Name: "email", Prompt: &survey.Input{Message: "Email:"}, Validate: survey.Required})
		}
		if input.Username == "" {
			qs = append(qs, &survey.Question{Name: "username", Prompt: &survey.Input{Message: "Username:"}, Validate: survey.Required})
		}
		if input.Password == "" {
			qs = append(qs, &survey.Question{Name: "password", Prompt: &survey.Password{Message: "Password:"}, Validate: survey.MinLength(6)})
		}
		if len(qs) > 0 {
			if err := survey.Ask(qs, input); err != nil {
				return err
			}
		}
	}

	user, err := r.root.Container().AuthService().Register(cmd.Context(), input)
	if err != nil {
		return err
	}

	p := r.root.printer(cmd)
	return p.Print(user, func(w io.Writer) error {
		fmt.Fprintf(w, "✓ Account %s created for %s\n", user.Username, user.Email)
		fmt.Fprintln(w, "Run 'crview login' to start a session.")
		return nil
	})
}

// WhoamiCommand represents the whoami command
type WhoamiCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewWhoamiCommand creates a new whoami command
func NewWhoamiCommand(root *RootCommand) *WhoamiCommand {
	w := &WhoamiCommand{root: root}

	w.cmd = &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE:  w.Run,
	}

	return w
}

// Command returns the underlying cobra command
func (w *WhoamiCommand) Command() *cobra.Command {
	return w.cmd
}

// Run executes the whoami command
func (w *WhoamiCommand) Run(cmd *cobra.Command, args []string) error {
	user, err := w.root.Container().AuthService().Me(cmd.Context())
	if err != nil {
		return err
	}

	p := w.root.printer(cmd)
	return p.Print(user, func(io.Writer) error {
		return printUser(p, user)
	})
}

func printUser(p *render.Printer, user *api.User) error {
	return p.Fields(
		[2]string{"ID", user.ID},
		[2]string{"Email", user.Email},
		[2]string{"Username", user.Username},
	)
}

// AuthCommand represents the auth command group
type AuthCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewAuthCommand creates a new auth command
func NewAuthCommand(root *RootCommand) *AuthCommand {
	a := &AuthCommand{root: root}

	a.cmd = &cobra.Command{
		Use:   "auth",
		Short: "Inspect and manage the session",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether a session credential is stored and when it expires",
		Args:  cobra.NoArgs,
		RunE:  a.runStatus,
	}

	update := &cobra.Command{
		Use:   "update",
		Short: "Update the account email or username",
		Long: `Update the account email or username.

Examples:
  crview auth update --username new-name`,
		Args: cobra.NoArgs,
		RunE: a.runUpdate,
	}
	update.Flags().String("email", "", "New email")
	update.Flags().String("username", "", "New username")

	passwd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the account password",
		Args:  cobra.NoArgs,
		RunE:  a.runPasswd,
	}
	passwd.Flags().String("current", "", "Current password")
	passwd.Flags().String("new", "", "New password")

	a.cmd.AddCommand(status, update, passwd)

	return a
}

// Command returns the underlying cobra command
func (a *AuthCommand) Command() *cobra.Command {
	return a.cmd
}

func (a *AuthCommand) runStatus(cmd *cobra.Command, args []string) error {
	status, err := a.root.Container().AuthService().Status(cmd.Context())
	if err != nil {
		return err
	}

	p := a.root.printer(cmd)
	return p.Print(status, func(w io.Writer) error {
		if !status.LoggedIn {
			fmt.Fprintf(w, "Not logged in (storage: %s)\n", status.Storage)
			return nil
		}

		expires := "unknown"
		if !status.ExpiresAt.IsZero() {
			expires = status.ExpiresAt.Local().Format(time.RFC3339)
			if status.Expired {
				expires += " (expired)"
			}
		}
		return p.Fields(
			[2]string{"Logged in", "yes"},
			[2]string{"Subject", render.OrDash(status.Subject)},
			[2]string{"Expires", expires},
			[2]string{"Storage", status.Storage},
		)
	})
}

func (a *AuthCommand) runUpdate(cmd *cobra.Command, args []string) error {
	input := &api.UpdateUserRequest{}
	input.Email, _ = cmd.Flags().GetString("email")
	input.Username, _ = cmd.Flags().GetString("username")
	if input.Email == "" && input.Username == "" {
		return errors.New("nothing to update: pass --email or --username")
	}

	user, err := a.root.Container().AuthService().UpdateMe(cmd.Context(), input)
	if err != nil {
		return err
	}

	p := a.root.printer(cmd)
	return p.Print(user, func(w io.Writer) error {
		fmt.Fprintln(w, "✓ Account updated")
		return printUser(p, user)
	})
}

func (a *AuthCommand) runPasswd(cmd *cobra.Command, args []string) error {
	current, _ := cmd.Flags().GetString("current")
	next, _ := cmd.Flags().GetString("new")

	if current == "" && isInteractive() {
		if err := survey.AskOne(&survey.Password{Message: "Current password:"}, &current, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	if next == "" && isInteractive() {
		if err := survey.AskOne(&survey.Password{Message: "New password:"}, &next, survey.WithValidator(survey.MinLength(6))); err != nil {
			return err
		}
	}

	if err := a.root.Container().AuthService().ChangePassword(cmd.Context(), current, next); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "✓ Password changed")
	return nil
}
