package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/sandbox"
)

// cliResult is the outcome of one CLI invocation.
type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeTestConfig writes a config file pointing at endpoint and returns
// its path.
func writeTestConfig(t *testing.T, endpoint string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("endpoint: %s\nnamespace: acme\ntoken: secret\nlog_level: error\nstate_dir: %s\n",
		endpoint, filepath.Join(dir, "state"))
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeCodeFile(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "main.py")
	if err := os.WriteFile(path, []byte(code), 0600); err != nil {
		t.Fatalf("write code: %v", err)
	}
	return path
}

func TestRun_Version(t *testing.T) {
	res := runCLI(t, "version")
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.HasPrefix(res.stdout, "valyent ") {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{"no command", nil, 2, "Usage:"},
		{"unknown command", []string{"flets"}, 1, `unknown command "flets"`},
		{"missing argument", []string{"machines", "list"}, 2, "valyent machines list FLEET"},
		{"unknown flag", []string{"fleets", "list", "--bogus"}, 1, "unknown flag"},
		{"help", []string{"fleets", "--help"}, 0, "Commands:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, tt.args...)
			if res.code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", res.code, tt.wantCode)
			}
			if !strings.Contains(res.stderr, tt.wantErr) {
				t.Errorf("stderr = %q, want it to contain %q", res.stderr, tt.wantErr)
			}
		})
	}
}

func TestRun_FleetsList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fleets" || r.URL.Query().Get("namespace") != "acme" {
			t.Errorf("request = %s", r.URL)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewEncoder(w).Encode([]client.Fleet{
			{ID: "flt_1", Name: "web", Status: client.FleetActive},
		})
	}))
	defer srv.Close()
	cfgPath := writeTestConfig(t, srv.URL)

	res := runCLI(t, "--config", cfgPath, "fleets", "list")
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", res.code, res.stderr)
	}
	if !strings.Contains(res.stdout, "flt_1") || !strings.Contains(res.stdout, "active") {
		t.Errorf("stdout = %q", res.stdout)
	}

	res = runCLI(t, "--config", cfgPath, "fleets", "list", "--json")
	var fleets []client.Fleet
	if err := json.Unmarshal([]byte(res.stdout), &fleets); err != nil {
		t.Fatalf("--json output is not JSON: %v", err)
	}
	if len(fleets) != 1 || fleets[0].Name != "web" {
		t.Errorf("fleets = %+v", fleets)
	}
}

func TestRun_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"fleet not found"}`)
	}))
	defer srv.Close()

	res := runCLI(t, "--config", writeTestConfig(t, srv.URL), "machines", "list", "ghost")
	if res.code != 1 {
		t.Errorf("exit code = %d, want 1", res.code)
	}
	if !strings.Contains(res.stderr, "fleet not found") {
		t.Errorf("stderr = %q", res.stderr)
	}
}

func TestRun_MachineLogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fleets/web/machines/m-1/logs" || r.URL.Query().Get("follow") != "false" {
			t.Errorf("request = %s", r.URL)
		}
		_ = json.NewEncoder(w).Encode([]client.LogEntry{
			{Timestamp: 1, Level: "info", Message: "booting"},
			{Timestamp: 2, Level: "error", Message: "crashed"},
		})
	}))
	defer srv.Close()

	res := runCLI(t, "--config", writeTestConfig(t, srv.URL), "machines", "logs", "web", "m-1", "--since", "2")
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", res.code, res.stderr)
	}
	if strings.Contains(res.stdout, "booting") {
		t.Errorf("record before --since printed: %q", res.stdout)
	}
	if !strings.Contains(res.stdout, "2 ERROR crashed") {
		t.Errorf("stdout = %q", res.stdout)
	}
}

// newSandboxServer serves sandbox sbx_1 whose execution endpoint streams
// body.
func newSandboxServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/organizations/acme/ai/sandboxes/sbx_1":
			_ = json.NewEncoder(w).Encode(sandbox.Record{ID: "sbx_1", Type: sandbox.TypeCodeInterpreter, URL: srv.URL})
		case r.Method == http.MethodPost && r.URL.Path == "/execute":
			var req struct {
				Code     string `json:"code"`
				Language string `json:"language"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Code != "print('hi')" || req.Language != "python" {
				t.Errorf("execute request = %+v", req)
			}
			_, _ = io.WriteString(w, body)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_SandboxRun(t *testing.T) {
	srv := newSandboxServer(t, `{"stdout":"hi\n"}`+"\n"+`{"result":42}`+"\n")
	code := writeCodeFile(t, "print('hi')")

	res := runCLI(t, "--config", writeTestConfig(t, srv.URL), "sandbox", "run", "sbx_1", "--language", "python", "--file", code)
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", res.code, res.stderr)
	}
	if res.stdout != "hi\n42\n" {
		t.Errorf("stdout = %q, want %q", res.stdout, "hi\n42\n")
	}
}

func TestRun_SandboxRunCodeError(t *testing.T) {
	srv := newSandboxServer(t, `{"stderr":"Traceback\n"}`+"\n"+`{"error":"NameError: x"}`+"\n")
	code := writeCodeFile(t, "print('hi')")

	res := runCLI(t, "--config", writeTestConfig(t, srv.URL), "sandbox", "run", "sbx_1", "-l", "python", "-f", code)
	if res.code != 3 {
		t.Errorf("exit code = %d, want 3", res.code)
	}
	if !strings.Contains(res.stderr, "Traceback") || !strings.Contains(res.stderr, "NameError: x") {
		t.Errorf("stderr = %q", res.stderr)
	}
}

func TestRun_SandboxHistoryEmpty(t *testing.T) {
	res := runCLI(t, "--config", writeTestConfig(t, "https://api.example.com"), "sandbox", "history", "--json")
	if res.code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", res.code, res.stderr)
	}
	if strings.TrimSpace(res.stdout) != "null" {
		t.Errorf("stdout = %q, want null", res.stdout)
	}
}

func TestRun_ConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "valyent", "config.yaml")

	res := runCLI(t, "--config", path, "config", "init", "--token", "tok_123", "--namespace", "acme")
	if res.code != 0 {
		t.Fatalf("init exit code = %d, stderr = %s", res.code, res.stderr)
	}

	res = runCLI(t, "--config", path, "config", "init", "--token", "tok_123")
	if res.code != 1 || !strings.Contains(res.stderr, "already exists") {
		t.Errorf("second init: code = %d, stderr = %q", res.code, res.stderr)
	}

	res = runCLI(t, "--config", path, "config", "show")
	if res.code != 0 {
		t.Fatalf("show exit code = %d, stderr = %s", res.code, res.stderr)
	}
	if strings.Contains(res.stdout, "tok_123") {
		t.Error("token printed in clear")
	}
	if !strings.Contains(res.stdout, "namespace: acme") || !strings.Contains(res.stdout, "********") {
		t.Errorf("stdout = %q", res.stdout)
	}
}

func TestRun_LogdRequiresTargets(t *testing.T) {
	res := runCLI(t, "--config", writeTestConfig(t, "https://api.example.com"), "logd")
	if res.code != 1 || !strings.Contains(res.stderr, "no machines to follow") {
		t.Errorf("code = %d, stderr = %q", res.code, res.stderr)
	}
}

func TestRunLogd_StartupFailureClosesStore(t *testing.T) {
	// Hold the port so the metrics listener cannot bind.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	path := writeTestConfig(t, "https://api.example.com")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	fmt.Fprintf(f, "metrics_addr: %s\nfollow:\n  - fleet: web\n    machine: m-1\n", ln.Addr().String())
	f.Close()

	a := &app{configPath: path, stdout: io.Discard, stderr: io.Discard}
	err = a.runLogd(context.Background())
	if err == nil || !strings.Contains(err.Error(), "metrics listener") {
		t.Fatalf("runLogd error = %v, want metrics listener failure", err)
	}
	if a.state != nil {
		t.Error("checkpoint store left open after failed startup")
	}
	if _, err := os.Stat(a.cfg.CheckpointPath()); err != nil {
		t.Errorf("checkpoint store was never opened: %v", err)
	}
}
