package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
)

func newDefinitionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definitions",
		Aliases: []string{"defs"},
		Short:   "Manage status definitions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List status definitions in lifecycle order",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				var resp httpserver.DefinitionsResponse
				if err := opts.call(http.MethodGet, "/api/v1/definitions", nil, nil, &resp); err != nil {
					return err
				}
				if opts.asJSON {
					return printJSON(cmd.OutOrStdout(), resp)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ORDER\tSLUG\tNAME\tINBOUND\tOUTBOUND\tEXCLUSIONS")
				for _, d := range resp.Definitions {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n", d.Order, d.Slug, d.Name,
						len(d.InboundSignals), len(d.OutboundSignals), len(d.ExclusionSignals))
				}
				return tw.Flush()
			},
		},
		newDefinitionsApplyCmd(opts),
		&cobra.Command{
			Use:   "invalidate",
			Short: "Drop the server's cached definition table",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := opts.call(http.MethodPost, "/api/v1/definitions/invalidate", nil, nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "definition cache invalidated")
				return nil
			},
		},
	)
	return cmd
}

func newDefinitionsApplyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <file.toml>",
		Short: "Create or update definitions from a TOML file",
		Long: `Upload every definition in a TOML file. The file uses the same layout as
a file-backed definitions source:

  [[definitions]]
  slug = "booked"
  name = "Booked"
  order = 50
  inbound_signals = ["booking confirmed"]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file %s: %w", args[0], err)
			}
			var doc struct {
				Definitions []signals.Definition `toml:"definitions"`
			}
			if _, err := toml.Decode(string(data), &doc); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			if err := signals.ValidateDefinitions(doc.Definitions); err != nil {
				return err
			}
			for _, d := range doc.Definitions {
				if err := opts.call(http.MethodPut, "/api/v1/definitions/"+url.PathEscape(d.Slug), nil, d, nil); err != nil {
					return fmt.Errorf("applying %s: %w", d.Slug, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", d.Slug)
			}
			return nil
		},
	}
}
