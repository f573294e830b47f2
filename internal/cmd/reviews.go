package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crview/crview-cli/internal/api"
	"github.com/crview/crview-cli/internal/render"
	iface "github.com/crview/crview-cli/internal/service/interface"
)

// ReviewsCommand represents the reviews command group
type ReviewsCommand struct {
	root *RootCommand
	cmd  *cobra.Command
}

// NewReviewsCommand creates a new reviews command
func NewReviewsCommand(root *RootCommand) *ReviewsCommand {
	r := &ReviewsCommand{root: root}

	r.cmd = &cobra.Command{
		Use:     "reviews",
		Aliases: []string{"review"},
		Short:   "Read and triage pull request reviews",
		Long: `Read pull request reviews produced by the review agents.

Use subcommands to show a review, browse your history, mark issues
as handled or push an issue to Jira.`,
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a review",
		Long: `Show a review by its ID, or by the GitHub Action run ID with --github-action.

The view selects how much is fetched: base (summary and issues), detail
(adds the PR body and comments) or full (adds the diff and agent outputs).

Examples:
  crview reviews get 665f1c2e9b1e8a0012345678
  crview reviews get 9876543210 --github-action --view detail
  crview reviews get 665f1c2e9b1e8a0012345678 --issues -o json`,
		Args: cobra.ExactArgs(1),
		RunE: r.runGet,
	}
	addViewFlags(get)
	get.Flags().Bool("github-action", false, "Treat the argument as a GitHub Action run ID")

	latest := &cobra.Command{
		Use:   "latest",
		Short: "Show your most recent review",
		Args:  cobra.NoArgs,
		RunE:  r.runLatest,
	}
	addViewFlags(latest)

	history := &cobra.Command{
		Use:   "history",
		Short: "List past reviews",
		Long: `List past reviews, newest first.

Examples:
  crview reviews history
  crview reviews history --repo acme/api --status completed --limit 5`,
		Args: cobra.NoArgs,
		RunE: r.runHistory,
	}
	history.Flags().String("author", "", "Filter by PR author")
	history.Flags().String("repo", "", "Filter by repository (owner/name)")
	history.Flags().String("status", "", "Filter by status (pending, processing, completed, failed)")
	history.Flags().Int("skip", 0, "Number of reviews to skip")
	history.Flags().Int("limit", 20, "Maximum number of reviews")

	mark := &cobra.Command{
		Use:   "mark <review-id> <issue-id>",
		Short: "Mark an issue as handled",
		Args:  cobra.ExactArgs(2),
		RunE:  r.runMark,
	}
	mark.Flags().Bool("unmark", false, "Clear the mark instead of setting it")

	sync := &cobra.Command{
		Use:   "sync-jira <review-id> <issue-id>",
		Short: "Create a Jira issue from a review issue",
		Long: `Create a Jira issue from a review issue using one of your Jira connections.

Extra Jira fields can be passed as key=value pairs.

Example:
  crview reviews sync-jira 665f1c2e 3 --connection c1 --field priority=High`,
		Args: cobra.ExactArgs(2),
		RunE: r.runSyncJira,
	}
	sync.Flags().StringP("connection", "c", "", "Jira connection ID")
	sync.Flags().StringToString("field", nil, "Jira field as key=value (repeatable)")
	_ = sync.MarkFlagRequired("connection")

	r.cmd.AddCommand(get, latest, history, mark, sync)

	return r
}

// Command returns the underlying cobra command
func (r *ReviewsCommand) Command() *cobra.Command {
	return r.cmd
}

func addViewFlags(cmd *cobra.Command) {
	cmd.Flags().String("view", string(iface.ViewBase), "Review view (base, detail, full)")
	cmd.Flags().Bool("issues", false, "Print every issue in full")
}

func (r *ReviewsCommand) runGet(cmd *cobra.Command, args []string) error {
	reviewService := r.root.Container().ReviewService()
	view, _ := cmd.Flags().GetString("view")
	byAction, _ := cmd.Flags().GetBool("github-action")

	var (
		review *api.Review
		err    error
	)
	if byAction {
		review, err = reviewService.GetReviewByGitHubAction(cmd.Context(), args[0], iface.ReviewView(view))
	} else {
		review, err = reviewService.GetReview(cmd.Context(), args[0], iface.ReviewView(view))
	}
	if err != nil {
		return err
	}

	return r.printReview(cmd, review)
}

func (r *ReviewsCommand) runLatest(cmd *cobra.Command, args []string) error {
	view, _ := cmd.Flags().GetString("view")

	review, err := r.root.Container().ReviewService().Latest(cmd.Context(), iface.ReviewView(view))
	if err != nil {
		return err
	}

	return r.printReview(cmd, review)
}

func (r *ReviewsCommand) printReview(cmd *cobra.Command, review *api.Review) error {
	full, _ := cmd.Flags().GetBool("issues")
	p := r.root.printer(cmd)

	return p.Print(review, func(w io.Writer) error {
		if err := p.Fields(
			[2]string{"ID", review.ID},
			[2]string{"Repository", review.Repository()},
			[2]string{"Pull request", fmt.Sprintf("#%d %s", review.PRNumber, review.PRTitle)},
			[2]string{"Author", render.OrDash(review.Author)},
			[2]string{"Status", review.Status},
			[2]string{"Created", review.CreatedAt.String()},
		); err != nil {
			return err
		}

		issues := review.Issues()
		fmt.Fprintln(w)
		if len(issues) == 0 {
			fmt.Fprintln(w, "No issues found.")
			return nil
		}

		if full {
			return p.Markdown(issuesMarkdown(issues))
		}

		rows := make([][]string, 0, len(issues))
		for _, issue := range issues {
			marked := ""
			if issue.Marked {
				marked = "✓"
			}
			rows = append(rows, []string{
				issue.ID,
				render.OrDash(issue.Severity),
				location(issue),
				render.OrDash(issue.BugType),
				marked,
			})
		}
		return p.Table([]string{"#", "SEVERITY", "LOCATION", "TYPE", "MARKED"}, rows)
	})
}

func location(issue api.Issue) string {
	if issue.Line == "" {
		return render.OrDash(issue.File)
	}
	return issue.File + ":" + issue.Line
}

// issuesMarkdown formats issues as one markdown document.
func issuesMarkdown(issues []api.Issue) string {
	var b strings.Builder
	for _, issue := range issues {
		fmt.Fprintf(&b, "## #%s %s `%s`\n\n", issue.ID, strings.ToUpper(render.OrDash(issue.Severity)), location(issue))
		if issue.HistoricalMention {
			b.WriteString("> Reported in an earlier review as well.\n\n")
		}
		if issue.Marked {
			b.WriteString("*Marked as handled.*\n\n")
		}
		if issue.Description != "" {
			b.WriteString(issue.Description + "\n\n")
		}
		if issue.Suggestion != "" {
			b.WriteString("**Suggestion:** " + issue.Suggestion + "\n\n")
		}
		if issue.BugCodeExample != "" {
			b.WriteString("```\n" + issue.BugCodeExample + "\n```\n\n")
		}
		if issue.OptimizedCodeExample != "" {
			b.WriteString("```\n" + issue.OptimizedCodeExample + "\n```\n\n")
		}
	}
	return b.String()
}

func (r *ReviewsCommand) runHistory(cmd *cobra.Command, args []string) error {
	filters := iface.ReviewFilters{}
	filters.Author, _ = cmd.Flags().GetString("author")
	filters.Repo, _ = cmd.Flags().GetString("repo")
	filters.Status, _ = cmd.Flags().GetString("status")
	filters.Skip, _ = cmd.Flags().GetInt("skip")
	filters.Limit, _ = cmd.Flags().GetInt("limit")

	list, err := r.root.Container().ReviewService().History(cmd.Context(), filters)
	if err != nil {
		return err
	}

	p := r.root.printer(cmd)
	return p.Print(list, func(w io.Writer) error {
		if len(list.Reviews) == 0 {
			fmt.Fprintln(w, "No reviews found.")
			return nil
		}

		rows := make([][]string, 0, len(list.Reviews))
		for _, review := range list.Reviews {
			rows = append(rows, []string{
				review.ID,
				review.Repository(),
				"#" + strconv.Itoa(review.PRNumber),
				review.Status,
				strconv.Itoa(len(review.Issues())),
				review.CreatedAt.String(),
			})
		}
		if err := p.Table([]string{"ID", "REPOSITORY", "PR", "STATUS", "ISSUES", "CREATED"}, rows); err != nil {
			return err
		}
		if list.Total > len(list.Reviews) {
			fmt.Fprintf(w, "\nShowing %d of %d reviews.\n", len(list.Reviews), list.Total)
		}
		return nil
	})
}

func (r *ReviewsCommand) runMark(cmd *cobra.Command, args []string) error {
	unmark, _ := cmd.Flags().GetBool("unmark")

	if err := r.root.Container().ReviewService().MarkIssue(cmd.Context(), args[0], args[1], !unmark); err != nil {
		return err
	}

	if unmark {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Issue %s unmarked\n", args[1])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Issue %s marked as handled\n", args[1])
	}
	return nil
}

func (r *ReviewsCommand) runSyncJira(cmd *cobra.Command, args []string) error {
	connectionID, _ := cmd.Flags().GetString("connection")
	raw, _ := cmd.Flags().GetStringToString("field")

	var fields map[string]interface{}
	if len(raw) > 0 {
		fields = make(map[string]interface{}, len(raw))
		for k, v := range raw {
			fields[k] = v
		}
	}

	resp, err := r.root.Container().ReviewService().SyncIssueToJira(cmd.Context(), args[0], args[1], connectionID, fields)
	if err != nil {
		return err
	}

	p := r.root.printer(cmd)
	return p.Print(resp, func(w io.Writer) error {
		if !resp.Success {
			return fmt.Errorf("jira sync failed: %s", render.OrDash(resp.Message))
		}
		fmt.Fprintf(w, "✓ Created Jira issue %s\n", render.OrDash(resp.IssueKey))
		if resp.IssueURL != "" {
			fmt.Fprintln(w, resp.IssueURL)
		}
		return nil
	})
}
