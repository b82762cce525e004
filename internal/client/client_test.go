// client_test.go exercises the API caller against an httptest server:
// URL and header construction, error payload extraction, and retry policy.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valyent/valyent-go/internal/stream"
)

// nopLogger returns a logger that discards all output, suitable for tests.
func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts.Endpoint = srv.URL
	if opts.Token == "" {
		opts.Token = "secret"
	}
	c, err := New(opts, nopLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults", opts: Options{Token: "t"}},
		{name: "missing token", opts: Options{}, wantErr: true},
		{name: "relative endpoint", opts: Options{Token: "t", Endpoint: "api.valyent.dev"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts, nopLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.endpoint.String() != DefaultEndpoint {
				t.Errorf("endpoint = %s, want %s", c.endpoint, DefaultEndpoint)
			}
		})
	}
}

func TestCall_RequestShape(t *testing.T) {
	var gotAuth, gotNamespace, gotContentType, gotPath string
	var gotBody map[string]any

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotNamespace = r.URL.Query().Get("namespace")
		gotContentType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(Fleet{ID: "flt_1", Name: "web", Status: FleetActive})
	}, Options{Namespace: "acme", Token: "secret"})

	fleet, err := c.Fleets.Create(context.Background(), CreateFleetPayload{Name: "web"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotNamespace != "acme" {
		t.Errorf("namespace = %q, want acme", gotNamespace)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotPath != "/fleets" {
		t.Errorf("path = %q, want /fleets", gotPath)
	}
	if gotBody["name"] != "web" {
		t.Errorf("body = %v", gotBody)
	}
	if fleet.ID != "flt_1" || fleet.Status != FleetActive {
		t.Errorf("fleet = %+v", fleet)
	}
}

func TestCall_PathQueryMerged(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte("[]"))
	}, Options{Namespace: "acme"})

	if _, err := c.Machines.Logs(context.Background(), "web", "m 1"); err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if !strings.Contains(gotQuery, "follow=false") || !strings.Contains(gotQuery, "namespace=acme") {
		t.Errorf("query = %q, want follow and namespace", gotQuery)
	}
}

func TestCall_StatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"fleet not found"}`))
	}, Options{})

	_, err := c.Fleets.List(context.Background())

	var statusErr *stream.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %T %v, want *stream.StatusError", err, err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
	if statusErr.Payload == nil || statusErr.Payload.Error != "fleet not found" {
		t.Errorf("Payload = %+v", statusErr.Payload)
	}
}

func TestCall_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c, err := New(Options{Endpoint: endpoint, Token: "t"}, nopLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Fleets.List(context.Background())
	var connErr *stream.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %T %v, want *stream.ConnectionError", err, err)
	}
}

func TestCall_Cancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.Fleets.List(ctx)
	var abortErr *stream.AbortedError
	if !errors.As(err, &abortErr) {
		t.Fatalf("error = %T %v, want *stream.AbortedError", err, err)
	}
}

func TestCall_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Options{})

	if _, err := c.Fleets.List(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1", n)
	}
}

func TestCall_RetriesExhaustedKeepsPayload(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	}, Options{RetryMax: 2})

	_, err := c.Fleets.List(context.Background())
	var statusErr *stream.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %T %v, want *stream.StatusError", err, err)
	}
	if statusErr.Payload == nil || statusErr.Payload.Error != "maintenance" {
		t.Errorf("Payload = %+v", statusErr.Payload)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d calls, want 3", n)
	}
}

func TestCall_RetryReturnsLastStatus(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Retry-After keeps the backoff at zero
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"flt_1"}]`))
	}, Options{RetryMax: 1})

	fleets, err := c.Fleets.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(fleets) != 1 || calls.Load() != 2 {
		t.Errorf("fleets = %+v after %d calls", fleets, calls.Load())
	}
}

func TestStream_NoOverallTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte("done\n"))
	}, Options{Timeout: 10 * time.Millisecond})

	req, err := c.NewRequest(context.Background(), http.MethodGet, "/stream", nil, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := c.Stream(req)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "done\n" {
		t.Errorf("body = %q", body)
	}
}
