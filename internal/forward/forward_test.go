package forward

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/valyent/valyent-go/internal/logtail"
	"github.com/valyent/valyent-go/internal/metrics"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubject(t *testing.T) {
	f := New(Config{}, nopLogger())

	tests := []struct {
		fleet, machine string
		want           string
	}{
		{"web", "m-1", "valyent.logs.web.m-1"},
		{"my.fleet", "m*1", "valyent.logs.my_fleet.m_1"},
		{"a b", "x>", "valyent.logs.a_b.x_"},
		{"", "m", "valyent.logs._.m"},
	}
	for _, tt := range tests {
		if got := f.Subject(tt.fleet, tt.machine); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.fleet, tt.machine, got, tt.want)
		}
	}

	custom := New(Config{SubjectPrefix: "acme.logs"}, nopLogger())
	if got := custom.Subject("web", "m-1"); got != "acme.logs.web.m-1" {
		t.Errorf("custom prefix Subject = %q", got)
	}
}

func TestPublish_NotConnected(t *testing.T) {
	f := New(Config{}, nopLogger())
	before := testutil.ToFloat64(metrics.ForwardedTotal.WithLabelValues("error"))

	err := f.Publish(context.Background(), "web", "m-1", logtail.Record{Timestamp: 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("error = %v, want ErrNotConnected", err)
	}
	if f.IsConnected() {
		t.Error("IsConnected = true before Connect")
	}
	if got := testutil.ToFloat64(metrics.ForwardedTotal.WithLabelValues("error")) - before; got != 1 {
		t.Errorf("error count delta = %v, want 1", got)
	}
}

func TestPublish_Envelope(t *testing.T) {
	f := New(Config{}, nopLogger())

	var gotSubject string
	var gotData []byte
	f.publish = func(_ context.Context, subject string, data []byte) error {
		gotSubject = subject
		gotData = data
		return nil
	}
	before := testutil.ToFloat64(metrics.ForwardedTotal.WithLabelValues("ok"))

	rec := logtail.Record{Timestamp: 1700000000, InstanceID: "i-1", Source: "stdout", Level: "info", Message: "hello"}
	if err := f.Publish(context.Background(), "web", "m-1", rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if gotSubject != "valyent.logs.web.m-1" {
		t.Errorf("subject = %q", gotSubject)
	}
	var env Envelope
	if err := json.Unmarshal(gotData, &env); err != nil {
		t.Fatalf("envelope is not JSON: %v", err)
	}
	if env.Type != "log" || env.Fleet != "web" || env.Machine != "m-1" {
		t.Errorf("envelope = %+v", env)
	}
	if env.Record != rec {
		t.Errorf("record = %+v, want %+v", env.Record, rec)
	}
	if env.Timestamp == "" {
		t.Error("envelope timestamp not set")
	}
	if got := testutil.ToFloat64(metrics.ForwardedTotal.WithLabelValues("ok")) - before; got != 1 {
		t.Errorf("ok count delta = %v, want 1", got)
	}
}

func TestPublish_Error(t *testing.T) {
	f := New(Config{}, nopLogger())
	boom := errors.New("slow consumer")
	f.publish = func(context.Context, string, []byte) error { return boom }

	err := f.Publish(context.Background(), "web", "m-1", logtail.Record{})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if !strings.Contains(err.Error(), "valyent.logs.web.m-1") {
		t.Errorf("error %q does not name the subject", err)
	}
}

func TestConnect_InvalidSeed(t *testing.T) {
	f := New(Config{Servers: "nats://127.0.0.1:1", NKeySeed: "not-a-seed"}, nopLogger())
	err := f.Connect(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid nkey seed") {
		t.Fatalf("error = %v, want invalid nkey seed", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := New(Config{Servers: "nats://127.0.0.1:1"}, nopLogger())
	if err := f.Connect(context.Background()); err == nil {
		t.Fatal("Connect to a closed port succeeded")
	}
	if f.IsConnected() {
		t.Error("IsConnected = true after failed Connect")
	}
}

func TestShutdown_WithoutConnect(t *testing.T) {
	f := New(Config{}, nopLogger())
	if err := f.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
