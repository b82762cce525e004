package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/valyent/valyent-go/internal/follower"
	"github.com/valyent/valyent-go/internal/forward"
	"github.com/valyent/valyent-go/internal/logtail"
	"github.com/valyent/valyent-go/internal/shutdown"
	"github.com/valyent/valyent-go/internal/systemd"
	"github.com/valyent/valyent-go/internal/version"
)

// Default shutdown timeout - how long to wait for graceful shutdown
const shutdownTimeout = 30 * time.Second

func (a *app) logdCommand() *command {
	return &command{
		Name:    "logd",
		Summary: "Follow machine logs, checkpoint them and forward them to NATS",
		Run: func(ctx context.Context, args []string) error {
			return a.runLogd(ctx)
		},
	}
}

// runLogd is the log daemon lifecycle:
//  1. Open the checkpoint database
//  2. Connect the NATS forwarder when configured
//  3. Serve /metrics when configured
//  4. Notify systemd and start the watchdog
//  5. Follow every configured machine until SIGTERM/SIGINT
//  6. Coordinated shutdown with timeout
func (a *app) runLogd(ctx context.Context) error {
	if err := a.setup(); err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger
	if len(cfg.Follow) == 0 {
		return errors.New("no machines to follow: add entries under follow in the config file")
	}

	logger.Info("log daemon starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("config_path", a.configPath),
		slog.String("endpoint", cfg.Endpoint),
		slog.Int("targets", len(cfg.Follow)),
		slog.Bool("forward", cfg.Forward.Enabled()),
		slog.Bool("systemd", systemd.IsRunningUnderSystemd()),
	)

	st, err := a.store()
	if err != nil {
		return err
	}

	// Components shut down in reverse registration order: followers first,
	// then the metrics server, then the forwarder drains and the checkpoint
	// database closes last.
	coordinator := shutdown.NewCoordinator(logger)
	coordinator.Register("checkpoints", shutdown.Func(a.closeStore))

	// abort releases what is already registered when startup fails.
	abort := func(err error) error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := coordinator.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("cleanup after failed startup", slog.String("error", serr.Error()))
		}
		return err
	}

	var publisher follower.Publisher
	if cfg.Forward.Enabled() {
		fwd := forward.New(cfg.ForwardOptions(), logger)
		if err := fwd.Connect(ctx); err != nil {
			return abort(err)
		}
		coordinator.Register("forward", fwd)
		publisher = fwd
	}

	if cfg.MetricsAddr != "" {
		srv, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return abort(err)
		}
		coordinator.Register("metrics", srv)
	}

	targets := make([]follower.Target, 0, len(cfg.Follow))
	for _, t := range cfg.Follow {
		targets = append(targets, follower.Target{Fleet: t.Fleet, Machine: t.Machine})
	}
	f := follower.New(logtail.NewTailer(a.api, logger), st, publisher, targets,
		cfg.ReconnectDelay.Std(), cfg.ReconnectJitter.Std(), logger)
	coordinator.Register("follower", f)

	notifier := systemd.NewNotifier(logger)
	go f.Run(ctx)

	notifier.Ready()
	notifier.Status(fmt.Sprintf("following %d machines", len(targets)))
	logger.Info("log daemon ready")

	// Health check uses the follower's running state
	notifier.StartWatchdog(ctx, f.IsHealthy)

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown signal received, starting graceful shutdown")
	notifier.Stopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// serveMetrics starts the Prometheus endpoint. The listener is bound before
// returning so address errors surface at startup.
func serveMetrics(addr string, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("metrics endpoint listening", slog.String("addr", ln.Addr().String()))
	return srv, nil
}
