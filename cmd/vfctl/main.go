// Package main implements vfctl, the command-line client for the
// vendorflowd HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
)

var version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	server  string
	user    string
	asJSON  bool
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "vfctl",
		Short: "CLI for vendorflowd",
		Long: `vfctl talks to a running vendorflowd. It can trigger thread processing,
review status proposals and manage status definitions.`,
		Version:      version,
		SilenceUsage: true,
	}

	defaultUser := os.Getenv("USER")
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "vendorflowd server URL")
	root.PersistentFlags().StringVar(&opts.user, "user", defaultUser, "user recorded on accepted and rejected proposals")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON responses")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newHealthCmd(opts),
		newThreadCmd(opts),
		newProposalsCmd(opts),
		newHistoryCmd(opts),
		newDefinitionsCmd(opts),
	)
	return root
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check vendorflowd health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp httpserver.HealthResponse
			// A degraded server answers 503 with a body worth showing.
			err := opts.call(http.MethodGet, "/health", nil, nil, &resp)
			if err != nil && resp.Status == "" {
				return err
			}
			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
			fmt.Fprintf(out, "Server URL: %s\n", opts.server)
			if resp.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", resp.Version)
			}
			for name, state := range resp.Services {
				fmt.Fprintf(out, "  %s: %s\n", name, state)
			}
			return err
		},
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *apiError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("server returned status %d: %s (retryable)", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

// call sends body as JSON and decodes a 2xx response into out. Error
// responses are returned as *apiError and, when out is non-nil, also
// decoded into out.
func (o *options) call(method, path string, query url.Values, body, out any) error {
	target := o.server + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.user != "" {
		req.Header.Set(httpserver.HeaderUser, o.user)
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		var er httpserver.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Retryable = er.Retryable
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
