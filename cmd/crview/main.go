// Package main is the entry point for the crview CLI.
// crview provides command-line access to the AI code review platform:
// reviews, the review copilot, API keys and Jira connections.
package main

import (
	"os"

	"github.com/crview/crview-cli/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
