package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// initdEndpointFormat is the per-machine initd API host.
const initdEndpointFormat = "https://%s-initd.valyent.dev"

// ExecOptions is the body of a one-shot command execution.
type ExecOptions struct {
	Cmd       []string `json:"cmd"`
	TimeoutMS int64    `json:"timeout_ms"`
}

// ExecResult is the buffered outcome of a one-shot command.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Initd talks to the init daemon running inside a single machine.
type Initd struct {
	client *Client

	FS *Filesystem
}

// Initd returns the initd service of machineID, authenticated with the
// client's token.
func (c *Client) Initd(machineID string) *Initd {
	// The format always yields an absolute URL
	u, _ := url.Parse(fmt.Sprintf(initdEndpointFormat, url.PathEscape(machineID)))
	return newInitd(c.derive(u))
}

// InitdAt returns an initd service rooted at endpoint, for machines reached
// through a custom host.
func (c *Client) InitdAt(endpoint string) (*Initd, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid initd endpoint %q: %w", endpoint, err)
	}
	return newInitd(c.derive(u)), nil
}

func newInitd(c *Client) *Initd {
	return &Initd{client: c, FS: &Filesystem{client: c}}
}

// derive returns a copy of c bound to endpoint. The initd API is not
// namespaced, so the namespace parameter is dropped.
func (c *Client) derive(endpoint *url.URL) *Client {
	d := &Client{
		httpClient:   c.httpClient,
		streamClient: c.streamClient,
		endpoint:     endpoint,
		token:        c.token,
		logger:       c.logger,
	}
	d.Fleets = &Fleets{client: d}
	d.Machines = &Machines{client: d}
	d.Gateways = &Gateways{client: d}
	return d
}

// Exec runs a command to completion and returns its buffered output.
func (s *Initd) Exec(ctx context.Context, opts ExecOptions) (*ExecResult, error) {
	var res ExecResult
	if err := s.client.Call(ctx, http.MethodPost, "/exec", opts, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
