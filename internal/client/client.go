// Package client provides the HTTP caller for the Valyent platform API and
// the stateless resource services built on it (fleets, machines, gateways,
// and the per-machine initd API).
//
// Request/response calls go through hashicorp/go-retryablehttp. Retries are
// off unless Options.RetryMax is set, and they never apply to streaming
// calls: those use a separate client without a timeout, whose lifetime is
// governed by the caller's stream.Controller.
//
// Usage:
//
//	c, err := client.New(client.Options{Namespace: "acme", Token: token}, logger)
//	fleets, err := c.Fleets.List(ctx)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/valyent/valyent-go/internal/stream"
	"github.com/valyent/valyent-go/internal/version"
)

// DefaultEndpoint is the public Valyent API.
const DefaultEndpoint = "https://api.valyent.dev"

// DefaultTimeout bounds a single request/response call.
const DefaultTimeout = 30 * time.Second

// ErrMissingToken is returned by New when no API token is configured.
var ErrMissingToken = errors.New("api token is required")

// Options configures a Client.
type Options struct {
	// Endpoint is the API base URL. Default: DefaultEndpoint.
	Endpoint string

	// Namespace is sent as the namespace query parameter on every call.
	Namespace string

	// Token is the bearer token for the Authorization header.
	Token string

	// RetryMax is the number of retries for request/response calls.
	// Default: 0 (no retries).
	RetryMax int

	// Timeout bounds each request/response call. Default: DefaultTimeout.
	Timeout time.Duration
}

// Client is the Valyent API caller. It is safe for concurrent use; it holds
// no per-call state.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	endpoint     *url.URL
	namespace    string
	token        string
	logger       *slog.Logger

	Fleets   *Fleets
	Machines *Machines
	Gateways *Gateways
}

// New creates a Client from opts. The logger is used for request-level
// debug logging; nil means slog.Default().
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Token == "" {
		return nil, ErrMissingToken
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	endpoint, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", opts.Endpoint, err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme and host are required", opts.Endpoint)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Backoff = retryablehttp.DefaultBackoff

	// We log through slog ourselves
	retryClient.Logger = nil

	// Hand the final response back instead of a "giving up" error so that
	// stream.CheckResponse can extract the server's error payload.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	retryClient.HTTPClient.Timeout = opts.Timeout

	c := &Client{
		httpClient: retryClient.StandardClient(),
		// Streaming calls share the pooled transport but carry no overall
		// timeout; their budgets come from the request context.
		streamClient: &http.Client{Transport: retryClient.HTTPClient.Transport},
		endpoint:     endpoint,
		namespace:    opts.Namespace,
		token:        opts.Token,
		logger:       logger.With(slog.String("component", "client")),
	}
	c.Fleets = &Fleets{client: c}
	c.Machines = &Machines{client: c}
	c.Gateways = &Gateways{client: c}

	return c, nil
}

// Namespace returns the namespace the client is bound to.
func (c *Client) Namespace() string {
	return c.namespace
}

// Token returns the bearer token, for façades that call URLs outside the
// API endpoint (sandbox execution URLs).
func (c *Client) Token() string {
	return c.token
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// NewRequest builds an authenticated request for path, resolved against
// the API endpoint. path may carry its own query string; query values are
// merged on top and the namespace parameter is always set when configured.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := c.endpoint.ResolveReference(ref)

	q := u.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	if c.namespace != "" {
		q.Set("namespace", c.namespace)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.Authorize(req)
	return req, nil
}

// Authorize sets the bearer token and client identification headers.
func (c *Client) Authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", version.UserAgent())
}

// Stream sends a request on the streaming client. The caller owns the
// response body and is responsible for status checking.
func (c *Client) Stream(req *http.Request) (*http.Response, error) {
	return c.streamClient.Do(req)
}

// Call performs a request/response call. payload, when non-nil, is sent as
// JSON. out receives the decoded JSON response; a *string receives the raw
// body text; nil discards the body.
//
// Non-2xx responses return a *stream.StatusError carrying the server's
// error payload. Transport failures return *stream.ConnectionError, or
// *stream.AbortedError when ctx was cancelled.
func (c *Client) Call(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := c.NewRequest(ctx, method, path, nil, reqBody)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, out)
}

// do sends req on the request/response client and decodes the result.
func (c *Client) do(req *http.Request, out any) error {
	c.logger.Debug("calling api",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return &stream.AbortedError{Phase: stream.PhaseConnecting, Cause: context.Cause(req.Context())}
		}
		return &stream.ConnectionError{Phase: stream.PhaseConnecting, Err: err}
	}
	// Always close response body to prevent connection leaks
	defer resp.Body.Close()

	if err := stream.CheckResponse(resp); err != nil {
		c.logger.Debug("api call failed",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", resp.StatusCode),
		)
		return err
	}

	switch dst := out.(type) {
	case nil:
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	case *string:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		*dst = string(data)
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			// Ensure body is drained even on decode error
			_, _ = io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}

// escape path-escapes a resource identifier for use in a URL path.
func escape(segment string) string {
	return url.PathEscape(strings.TrimSpace(segment))
}
