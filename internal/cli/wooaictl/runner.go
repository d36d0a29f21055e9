// Package wooaictl implements the operator CLI for the question API.
package wooaictl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures after the command line was accepted; they
// exit with 1 instead of the usage code.
type requestError struct {
	err error
}

func (e requestError) Error() string {
	return e.err.Error()
}

type connection struct {
	baseURL  string
	apiKey   string
	tenantID string
	timeout  time.Duration
	client   *http.Client
	stdout   io.Writer
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

	conn := &connection{stdout: stdout, client: defaults.HTTPClient}
	root := newRootCommand(conn, defaults)
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

func newRootCommand(conn *connection, defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "wooaictl",
		Short:         "Ask questions and inspect the wooai API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("a command is required")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&conn.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "wooai API base URL")
	flags.StringVar(&conn.apiKey, "api-key", defaults.APIKey, "API key for authenticated requests")
	flags.StringVar(&conn.tenantID, "tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	flags.DurationVar(&conn.timeout, "timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return conn.call(cmd.Context(), http.MethodGet, "/v1/health", nil)
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return conn.call(cmd.Context(), http.MethodGet, "/v1/ready", nil)
			},
		},
		newAskCommand(conn),
		&cobra.Command{
			Use:   "schema",
			Short: "GET /v1/schema",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return conn.call(cmd.Context(), http.MethodGet, "/v1/schema", nil)
			},
		},
		&cobra.Command{
			Use:   "conversation <id>",
			Short: "GET /v1/conversations/{id}",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return conn.call(cmd.Context(), http.MethodGet, "/v1/conversations/"+url.PathEscape(args[0]), nil)
			},
		},
	)
	return root
}

func newAskCommand(conn *connection) *cobra.Command {
	var conversationID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "POST /v1/ask",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question is required")
			}
			payload := map[string]string{"question": question}
			if id := strings.TrimSpace(conversationID); id != "" {
				payload["conversation_id"] = id
			}
			body, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return conn.call(cmd.Context(), http.MethodPost, "/v1/ask", body)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	return cmd
}

func (c *connection) call(ctx context.Context, method, path string, body []byte) error {
	client := c.client
	if client == nil {
		client = &http.Client{Timeout: c.timeout}
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, c.apiKey, c.tenantID, body)
	if err != nil {
		return requestError{fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return requestError{fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
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

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, tenantID string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(tenantID))
	}

	resp, err := client.Do(req)
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
