package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

func newProposalsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "proposals",
		Aliases: []string{"proposal"},
		Short:   "Review status proposals",
	}
	cmd.AddCommand(
		newProposalsListCmd(opts),
		newResolveCmd(opts, "accept", "Apply a pending proposal"),
		newResolveCmd(opts, "reject", "Reject a pending proposal"),
		&cobra.Command{
			Use:   "expire",
			Short: "Expire every pending proposal past its deadline",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var resp httpserver.ExpireResponse
				if err := opts.call(http.MethodPost, "/api/v1/proposals/expire", nil, nil, &resp); err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d proposals\n", resp.Expired)
				return nil
			},
		},
	)
	return cmd
}

func newProposalsListCmd(opts *options) *cobra.Command {
	var (
		state, thread, relationship string
		limit, offset               int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		Long: `List proposals, newest first.

Examples:
  # Everything waiting for review
  vfctl proposals list --state pending

  # Proposals raised from one thread
  vfctl proposals list --thread 3f1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if state != "" {
				q.Set("state", state)
			}
			if thread != "" {
				q.Set("thread_id", thread)
			}
			if relationship != "" {
				q.Set("relationship_id", relationship)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}

			var resp httpserver.ProposalsResponse
			if err := opts.call(http.MethodGet, "/api/v1/proposals", q, nil, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			return printProposals(cmd.OutOrStdout(), resp.Proposals)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending, accepted, rejected, expired)")
	cmd.Flags().StringVar(&thread, "thread", "", "filter by thread id")
	cmd.Flags().StringVar(&relationship, "relationship", "", "filter by relationship id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum proposals to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "proposals to skip")
	return cmd
}

func newResolveCmd(opts *options, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <proposal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.user == "" {
				return errors.New("--user is required")
			}
			path := "/api/v1/proposals/" + url.PathEscape(args[0]) + "/" + action
			body := httpserver.UserRequest{User: opts.user}

			var resp httpserver.AcceptResponse
			var out any = &resp
			var rejected store.Proposal
			if action == "reject" {
				out = &rejected
			}
			if err := opts.call(http.MethodPost, path, nil, body, out); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := cmd.OutOrStdout()
			if action == "reject" {
				fmt.Fprintf(w, "proposal %s rejected by %s\n", rejected.ID, rejected.ResolvedBy)
				return nil
			}
			fmt.Fprintf(w, "proposal %s accepted\n", args[0])
			if resp.Change != nil {
				fmt.Fprintf(w, "relationship %s: %s -> %s\n", resp.Change.RelationshipID, resp.Change.FromStatus, resp.Change.ToStatus)
			}
			return nil
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <relationship-id>",
		Short: "Show the status history of a vendor relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp httpserver.HistoryResponse
			if err := opts.call(http.MethodGet, "/api/v1/relationships/"+url.PathEscape(args[0])+"/history", nil, nil, &resp); err != nil {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHANGED AT\tFROM\tTO\tBY\tREASON")
			for _, c := range resp.Changes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ChangedAt.Format(time.RFC3339), dash(c.FromStatus), c.ToStatus, c.ChangedBy, c.Reason)
			}
			return tw.Flush()
		},
	}
}

func printProposals(w io.Writer, proposals []store.Proposal) error {
	if len(proposals) == 0 {
		_, err := fmt.Fprintln(w, "no proposals")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tFROM\tTO\tCONFIDENCE\tEXPIRES")
	for _, p := range proposals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n", p.ID, p.State, dash(p.FromStatus), p.ToStatus, p.Confidence, p.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
