package cmd

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
)

// LoginCommand represents the login command
type LoginCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewLoginCommand creates a new login command
func NewLoginCommand(root *RootCommand) *LoginCommand {
	l := &LoginCommand{
		root: root,
	}

	l.cmd = &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the review platform",
		Long: `Authenticate with the review platform using your email and password.

When --email or --password is omitted and the terminal is interactive,
you will be prompted for it. The session token is stored in the configured
credential storage (file, keyring, env or memory).

Examples:
  crview login
  crview login --email dev@example.com`,
		RunE: l.Run,
	}

	l.cmd.Flags().StringP("email", "e", "", "Account email")
	l.cmd.Flags().StringP("password", "p", "", "Account password")

	return l
}

// Command returns the underlying cobra command
func (l *LoginCommand) Command() *cobra.Command {
	return l.cmd
}

// Run executes the login command
func (l *LoginCommand) Run(cmd *cobra.Command, args []string) error {
	// Get auth service from DI container
	authService := l.root.Container().AuthService()

	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")

	email, password, err := promptCredentials(email, password)
	if err != nil {
		return err
	}

	// Perform login
	user, err := authService.Login(cmd.Context(), email, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Successfully logged in as %s\n", user.Email)
	return nil
}

// promptCredentials asks for whatever is missing when running interactively.
func promptCredentials(email, password string) (string, string, error) {
	if email == "" && isInteractive() {
		if err := survey.AskOne(&survey.Input{
			Message: "Email:",
		}, &email, survey.WithValidator(survey.Required)); err != nil {
			return "", "", err
		}
	}

	if password == "" && isInteractive() {
		if err := survey.AskOne(&survey.Password{
			Message: "Password:",
		}, &password, survey.WithValidator(survey.Required)); err != nil {
			return "", "", err
		}
	}

	if email == "" || password == "" {
		return "", "", errors.New("email and password are required (use --email and --password)")
	}
	return email, password, nil
}
