// Package systemd integrates the log daemon with systemd.
//
// It wraps coreos/go-systemd to send sd_notify READY, STATUS and STOPPING
// messages for Type=notify units and to ping the watchdog while the
// daemon's followers are healthy. Every call degrades to a no-op when the
// process is not running under systemd.
package systemd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// HealthCheckFunc reports whether the daemon is healthy. The watchdog
// skips its ping when it returns false, letting systemd restart the unit.
type HealthCheckFunc func() bool

// Notifier sends sd_notify messages.
type Notifier struct {
	logger *slog.Logger

	// notify is daemon.SdNotify; replaced in tests.
	notify func(unsetEnvironment bool, state string) (bool, error)
}

// NewNotifier creates a Notifier. A nil logger means slog.Default().
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger.With(slog.String("component", "systemd")),
		notify: daemon.SdNotify,
	}
}

func (n *Notifier) send(state, what string) bool {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("failed to send systemd notification",
			slog.String("notification", what),
			slog.String("error", err.Error()),
		)
		return false
	}
	if sent {
		n.logger.Debug("sent systemd notification", slog.String("notification", what))
	}
	return sent
}

// Ready sends READY=1. It returns false when systemd is not listening.
func (n *Notifier) Ready() bool {
	return n.send(daemon.SdNotifyReady, "ready")
}

// Status sends a free-form STATUS= line shown by systemctl status.
func (n *Notifier) Status(status string) bool {
	return n.send("STATUS="+status, "status")
}

// Stopping sends STOPPING=1 so systemd waits for the process to exit.
func (n *Notifier) Stopping() bool {
	return n.send(daemon.SdNotifyStopping, "stopping")
}

// StartWatchdog pings the systemd watchdog every half WatchdogSec while
// healthCheck passes. It returns immediately when the unit has no
// watchdog; otherwise the ping loop runs until ctx is cancelled.
func (n *Notifier) StartWatchdog(ctx context.Context, healthCheck HealthCheckFunc) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		n.logger.Debug("watchdog not enabled")
		return
	}

	// Ping every half-interval as per systemd documentation
	pingInterval := interval / 2
	n.logger.Info("starting systemd watchdog",
		slog.Duration("watchdog_interval", interval),
		slog.Duration("ping_interval", pingInterval),
	)

	go n.watchdogLoop(ctx, pingInterval, healthCheck)
}

func (n *Notifier) watchdogLoop(ctx context.Context, interval time.Duration, healthCheck HealthCheckFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthCheck() {
				n.logger.Warn("health check failed, skipping watchdog ping")
				continue
			}
			n.send(daemon.SdNotifyWatchdog, "watchdog")
		}
	}
}

// IsRunningUnderSystemd returns true if the process was started by systemd
// with a notification socket.
func IsRunningUnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
