// Package querypilotctl implements the querypilotctl command tree over the
// HTTP API.
package querypilotctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL     string
	SessionID   string
	ProviderKey string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Stdout      io.Writer
	Stderr      io.Writer
}

// requestError marks failures that happen after argument parsing so Run can
// tell them apart from usage mistakes.
type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

type client struct {
	baseURL     string
	sessionID   string
	providerKey string
	timeout     time.Duration
	http        *http.Client
	stdout      io.Writer
}

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request fails and 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	c := &client{stdout: stdout, http: defaults.HTTPClient}
	root := newRootCommand(c, defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
	_, _ = fmt.Fprint(stderr, root.UsageString())
	return 2
}

func newRootCommand(c *client, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "querypilotctl",
		Short:         "Load datasets and ask questions against a querypilot server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return errors.New("a command is required")
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if c.http == nil {
				c.http = &http.Client{Timeout: c.timeout}
			}
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "querypilot API base URL")
	flags.StringVar(&c.sessionID, "session", firstNonEmpty(defaults.SessionID, "default"), "session identifier")
	flags.StringVar(&c.providerKey, "provider-key", defaults.ProviderKey, "model provider credential forwarded with ask")
	flags.DurationVar(&c.timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/health", nil, "")
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/ready", nil, "")
			},
		},
		newLoadCommand(c),
		newLoadObjectCommand(c),
		newObjectsCommand(c),
		&cobra.Command{
			Use:   "schema",
			Short: "Show the schema of the session's dataset",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, c.sessionPath("/schema"), nil, "")
			},
		},
		newAskCommand(c),
		newRunsCommand(c),
		&cobra.Command{
			Use:   "run <run-id>",
			Short: "Show one recorded run with its steps",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/runs/"+url.PathEscape(args[0]), nil, "")
			},
		},
		&cobra.Command{
			Use:   "end",
			Short: "End the session and release its dataset",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodDelete, c.sessionPath(""), nil, "")
			},
		},
	)
	return root
}

func newLoadCommand(c *client) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Upload a CSV, XLSX or Parquet file into the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return requestError{err: fmt.Errorf("read %s: %w", args[0], err)}
			}
			query := url.Values{}
			query.Set("name", filepath.Base(args[0]))
			if format != "" {
				query.Set("format", format)
			}
			return c.call(cmd.Context(), http.MethodPut, c.sessionPath("/dataset")+"?"+query.Encode(), body, "application/octet-stream")
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "csv, xlsx or parquet; detected from the name when empty")
	return cmd
}

func newLoadObjectCommand(c *client) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load-object <key>",
		Short: "Load a dataset from the configured object store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"key": args[0], "format": format})
			if err != nil {
				return requestError{err: err}
			}
			return c.call(cmd.Context(), http.MethodPost, c.sessionPath("/dataset/object"), payload, "application/json")
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "csv, xlsx or parquet; detected from the key when empty")
	return cmd
}

func newObjectsCommand(c *client) *cobra.Command {
	var prefix string
	var limit int
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "List dataset objects in the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if prefix != "" {
				query.Set("prefix", prefix)
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/objects"
			if len(query) > 0 {
				path += "?" + query.Encode()
			}
			return c.call(cmd.Context(), http.MethodGet, path, nil, "")
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "key prefix filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of objects")
	return cmd
}

func newAskCommand(c *client) *cobra.Command {
	var includeSteps bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a natural-language question about the session's dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]any{
				"question":      strings.Join(args, " "),
				"include_steps": includeSteps,
			})
			if err != nil {
				return requestError{err: err}
			}
			return c.call(cmd.Context(), http.MethodPost, c.sessionPath("/ask"), payload, "application/json")
		},
	}
	cmd.Flags().BoolVar(&includeSteps, "steps", false, "include the agent's step trace in the response")
	return cmd
}

func newRunsCommand(c *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs for the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.sessionPath("/runs")
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return c.call(cmd.Context(), http.MethodGet, path, nil, "")
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of runs")
	return cmd
}

func (c *client) sessionPath(suffix string) string {
	return "/v1/sessions/" + url.PathEscape(c.sessionID) + suffix
}

func (c *client) call(ctx context.Context, method, path string, body []byte, contentType string) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	code, responseBody, err := c.doRequest(ctx, method, endpoint, body, contentType)
	if err != nil {
		return requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return requestError{err: fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func (c *client) doRequest(ctx context.Context, method, endpoint string, body []byte, contentType string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if key := strings.TrimSpace(c.providerKey); key != "" {
		req.Header.Set("X-Provider-Key", key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
