// Package forward publishes followed log records to NATS.
//
// Each record is wrapped in an envelope and published to
// "<prefix>.<fleet>.<machine>". Core NATS is used by default; with
// Config.JetStream the publish waits for a stream acknowledgement, so
// records survive a subscriber outage as long as a JetStream stream covers
// the subject.
//
// Usage:
//
//	fwd := forward.New(forward.Config{Servers: "nats://localhost:4222"}, logger)
//	if err := fwd.Connect(ctx); err != nil { ... }
//	defer fwd.Shutdown(ctx)
//	fwd.Publish(ctx, "web", "m-1", rec)
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nats-io/nkeys"

	"github.com/valyent/valyent-go/internal/logtail"
	"github.com/valyent/valyent-go/internal/metrics"
	"github.com/valyent/valyent-go/internal/version"
)

// ErrNotConnected is returned by Publish before Connect or after Shutdown.
var ErrNotConnected = errors.New("forwarder is not connected")

// Config holds the NATS connection configuration.
type Config struct {
	Servers       string // Comma-separated list of NATS server URLs
	NKeySeed      string // Optional NKey seed (starts with SU)
	SubjectPrefix string // Default: "valyent.logs"
	JetStream     bool   // Publish through JetStream and wait for the ack
}

// Envelope is the message published for each record.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Fleet     string         `json:"fleet"`
	Machine   string         `json:"machine"`
	Record    logtail.Record `json:"record"`
}

// publishFunc sends one message; it is the seam between the forwarder and
// the connection.
type publishFunc func(ctx context.Context, subject string, data []byte) error

// Forwarder publishes log records to NATS. It is safe for concurrent use by
// the daemon's followers.
type Forwarder struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	nc        *nats.Conn
	publish   publishFunc
	connected bool
}

// New creates a Forwarder. Call Connect before publishing.
func New(cfg Config, logger *slog.Logger) *Forwarder {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "valyent.logs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "forward")),
	}
}

// Connect dials the NATS servers. The connection reconnects on its own
// after a disconnect; Publish fails while it is down.
func (f *Forwarder) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name("valyent-logd/" + version.Version),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.PingInterval(30 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			f.setConnected(false)
			if err != nil {
				f.logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			} else {
				f.logger.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			f.setConnected(true)
			f.logger.Info("NATS reconnected", slog.String("server", nc.ConnectedUrl()))
		}),
	}

	if f.cfg.NKeySeed != "" {
		opt, err := nkeyOption(f.cfg.NKeySeed)
		if err != nil {
			return err
		}
		opts = append(opts, opt)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	nc, err := nats.Connect(f.cfg.Servers, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	publish := func(_ context.Context, subject string, data []byte) error {
		return nc.Publish(subject, data)
	}
	if f.cfg.JetStream {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return fmt.Errorf("jetstream init: %w", err)
		}
		publish = func(ctx context.Context, subject string, data []byte) error {
			_, err := js.Publish(ctx, subject, data)
			return err
		}
	}

	f.mu.Lock()
	f.nc = nc
	f.publish = publish
	f.connected = true
	f.mu.Unlock()

	f.logger.Info("NATS connected",
		slog.String("server", nc.ConnectedUrl()),
		slog.Bool("jetstream", f.cfg.JetStream),
	)
	return nil
}

// nkeyOption builds the NKey authentication option from a user seed.
func nkeyOption(seed string) (nats.Option, error) {
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("invalid nkey seed: %w", err)
	}
	pubKey, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	return nats.Nkey(pubKey, func(nonce []byte) ([]byte, error) {
		return kp.Sign(nonce)
	}), nil
}

func (f *Forwarder) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// IsConnected reports whether records can currently be published.
func (f *Forwarder) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Subject returns the subject records of a machine are published to.
// Characters NATS treats as separators or wildcards are replaced.
func (f *Forwarder) Subject(fleet, machine string) string {
	return f.cfg.SubjectPrefix + "." + token(fleet) + "." + token(machine)
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// Publish forwards one record.
func (f *Forwarder) Publish(ctx context.Context, fleet, machine string, rec logtail.Record) error {
	f.mu.RLock()
	publish := f.publish
	f.mu.RUnlock()
	if publish == nil {
		metrics.ForwardedTotal.WithLabelValues("error").Inc()
		return ErrNotConnected
	}

	data, err := json.Marshal(Envelope{
		Type:      "log",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Fleet:     fleet,
		Machine:   machine,
		Record:    rec,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := f.Subject(fleet, machine)
	if err := publish(ctx, subject, data); err != nil {
		metrics.ForwardedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	metrics.ForwardedTotal.WithLabelValues("ok").Inc()
	return nil
}

// Shutdown drains the connection so buffered records are delivered, then
// closes it.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	nc := f.nc
	f.nc = nil
	f.publish = nil
	f.connected = false
	f.mu.Unlock()

	if nc == nil {
		return nil
	}

	done := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(done) })
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		nc.Close()
		return ctx.Err()
	}
}
