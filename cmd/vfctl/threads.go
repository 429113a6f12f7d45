package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
)

func newThreadCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Process and inspect threads",
	}
	cmd.AddCommand(
		newProcessCmd(opts),
		newCandidatesCmd(opts),
		newLinkCmd(opts),
	)
	return cmd
}

func newProcessCmd(opts *options) *cobra.Command {
	var force, async bool
	cmd := &cobra.Command{
		Use:   "process <thread-id>",
		Short: "Run the pipeline for a thread",
		Long: `Analyze a thread, link it to a project and decide status changes for
each vendor relationship it touches.

Examples:
  # Process synchronously and print the report
  vfctl thread process 3f1c...

  # Re-analyze even if the stored analysis is current, in the background
  vfctl thread process --force --async 3f1c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if force {
				q.Set("force", "true")
			}
			if async {
				q.Set("async", "true")
			}
			var resp httpserver.ProcessResponse
			if err := opts.call(http.MethodPost, "/api/v1/threads/"+url.PathEscape(args[0])+"/process", q, nil, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			if resp.Queued {
				fmt.Fprintf(out, "thread %s queued\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "thread %s processed, %d mutations\n", args[0], resp.Mutations)
			if resp.Report == nil {
				return nil
			}
			if resp.Report.Link != nil {
				fmt.Fprintf(out, "link: %s %s (%.2f)\n", resp.Report.Link.Decision, resp.Report.Link.ProjectID, resp.Report.Link.Confidence)
			}
			for _, o := range resp.Report.Outcomes {
				fmt.Fprintf(out, "  relationship %s: %s %s\n", o.RelationshipID, o.Kind, o.ToStatus)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-analyze even when the stored analysis is current")
	cmd.Flags().BoolVar(&async, "async", false, "queue the run instead of waiting for it")
	return cmd
}

func newCandidatesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <thread-id>",
		Short: "Show ranked project candidates for a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.CandidatesResponse
			if err := opts.call(http.MethodGet, "/api/v1/threads/"+url.PathEscape(args[0])+"/candidates", nil, nil, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "decision: %s\n", resp.Decision)
			for _, c := range resp.Candidates {
				fmt.Fprintf(out, "  %.2f  %s  %s  [%s]\n", c.Score, c.ProjectID, c.Name, strings.Join(c.Reasons, ", "))
			}
			return nil
		},
	}
}

func newLinkCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "link <thread-id> <project-id>",
		Short: "Link a thread to a project by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.ProcessResponse
			body := httpserver.LinkRequest{ProjectID: args[1]}
			if err := opts.call(http.MethodPost, "/api/v1/threads/"+url.PathEscape(args[0])+"/link", nil, body, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s linked to %s, %d mutations\n", args[0], args[1], resp.Mutations)
			return nil
		},
	}
}
