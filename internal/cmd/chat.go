package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/crview/crview-cli/internal/api"
)

// ChatCommand represents the chat command group
type ChatCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewChatCommand creates a new chat command
func NewChatCommand(root *RootCommand) *ChatCommand {
	c := &ChatCommand{root: root}

	c.cmd = &cobra.Command{
		Use:   "chat",
		Short: "Talk to the review copilot about a review",
	}

	send := &cobra.Command{
		Use:   "send <review-id> <message>",
		Short: "Ask the copilot a question about a review",
		Long: `Send a message to the review copilot. The answer is streamed as it arrives.

With --render the answer is collected first and rendered as markdown.
With -o json or -o yaml the complete reply is printed as one document.

Examples:
  crview chat send 665f1c2e "Why is issue 3 a problem?"
  crview chat send 665f1c2e "Suggest a fix for issue 1" --render`,
		Args: cobra.MinimumNArgs(2),
		RunE: c.runSend,
	}
	send.Flags().Bool("render", false, "Render the answer as markdown")

	history := &cobra.Command{
		Use:   "history <review-id>",
		Short: "Show the chat history of a review",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runHistory,
	}
	history.Flags().Bool("render", false, "Render messages as markdown")

	c.cmd.AddCommand(send, history)

	return c
}

// Command returns the underlying cobra command
func (c *ChatCommand) Command() *cobra.Command {
	return c.cmd
}

func (c *ChatCommand) runSend(cmd *cobra.Command, args []string) error {
	copilot := c.root.Container().CopilotService()
	reviewID := args[0]
	message := strings.Join(args[1:], " ")
	renderMD, _ := cmd.Flags().GetBool("render")
	p := c.root.printer(cmd)

	if p.Structured() {
		reply, err := copilot.SendAndWait(cmd.Context(), reviewID, message)
		if err != nil {
			return err
		}
		return p.Print(reply, nil)
	}

	stream, err := copilot.Send(cmd.Context(), reviewID, message)
	if err != nil {
		return err
	}

	out := p.Writer()
	var sb strings.Builder
	for ev, err := range stream.All() {
		if err != nil {
			if !renderMD && sb.Len() > 0 {
				fmt.Fprintln(out)
			}
			return err
		}
		sb.WriteString(ev.Content)
		if !renderMD {
			fmt.Fprint(out, ev.Content)
		}
	}

	if renderMD {
		return p.Markdown(sb.String())
	}
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		fmt.Fprintln(out)
	}
	return nil
}

func (c *ChatCommand) runHistory(cmd *cobra.Command, args []string) error {
	messages, err := c.root.Container().CopilotService().ChatHistory(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	renderMD, _ := cmd.Flags().GetBool("render")

	p := c.root.printer(cmd)
	return p.Print(messages, func(w io.Writer) error {
		if len(messages) == 0 {
			fmt.Fprintln(w, "No messages yet.")
			return nil
		}
		if renderMD {
			return p.Markdown(historyMarkdown(messages))
		}

		var errs []error
		for i, m := range messages {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "[%s] %s\n", m.Role, m.Timestamp)
			_, err := fmt.Fprintln(w, strings.TrimRight(m.Content, "\n"))
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
}

func historyMarkdown(messages []api.ChatMessage) string {
	var b strings.Builder
	for _, m := range messages {
		when := ""
		if !m.Timestamp.IsZero() {
			when = " · " + m.Timestamp.Local().Format(time.DateTime)
		}
		fmt.Fprintf(&b, "### %s%s\n\n%s\n\n", m.Role, when, m.Content)
	}
	return b.String()
}
