// Vendorflowd is the vendor-conversation lifecycle daemon.
//
// It analyzes vendor email threads, links them to projects and keeps the
// status of every vendor relationship current, either by applying
// high-confidence detections directly or by raising proposals for review.
//
// Usage:
//
//	# Start the daemon with ~/.config/vendorflow/config.yaml
//	vendorflowd
//
//	# Override settings through the environment
//	VENDORFLOW_SERVER_HTTP_PORT=9090 VENDORFLOW_DATABASE_DRIVER=postgres vendorflowd
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vendorflow/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vendorflowd",
		Short: "Vendor conversation lifecycle daemon",
		Long: `vendorflowd analyzes vendor email threads, links them to projects and
tracks each vendor relationship through its lifecycle.

Running it without a subcommand is the same as "vendorflowd serve".`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/vendorflow/config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API, workers and expiry sweep",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema migrations and seed status definitions",
			RunE:  runMigrate,
		},
		newReprocessCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				printVersion(cmd)
			},
		},
	)
	return root
}

func newReprocessCmd() *cobra.Command {
	var limit, concurrency int
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-run the pipeline for threads analyzed under an older version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := buildApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			reports, err := a.pipeline.ProcessStale(ctx, limit, concurrency)
			mutations := 0
			for _, r := range reports {
				if r != nil {
					mutations += r.Mutations()
				}
			}
			a.logger.Info("reprocess finished",
				zap.Int("threads", len(reports)),
				zap.Int("mutations", mutations),
				zap.Error(err))
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d threads, %d mutations\n", len(reports), mutations)
			return err
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum threads to reprocess")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "threads processed in parallel")
	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := buildApp(ctx, configPath)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cmd.Context(), cfg, logger.Underlying(), true)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "vendorflowd by Fyrsmith Labs\n")
	fmt.Fprintf(out, "Version:    %s\n", version)
	fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(out, "Build Date: %s\n", buildDate)
}
