// Package systemd reports service state to the systemd manager through
// sd_notify. Every call is a no-op when the process was not started by
// systemd with NOTIFY_SOCKET set.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "jiranotifier/pkg/logx"
)

type Notifier struct {
	log logx.Logger
	// unset removes NOTIFY_SOCKET after Stopping so children don't inherit it.
	unset bool
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log}
}

// Ready sends READY=1. It reports whether the notification was delivered.
func (n *Notifier) Ready() bool { return n.send(daemon.SdNotifyReady) }

// Stopping sends STOPPING=1.
func (n *Notifier) Stopping() bool {
	ok := n.send(daemon.SdNotifyStopping)
	n.unset = true
	return ok
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

func (n *Notifier) send(state string) bool {
	ok, err := daemon.SdNotify(n.unset, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return false
	}
	return ok
}

// WatchdogInterval is the keepalive period, half the configured watchdog
// timeout. Zero means the watchdog is disabled.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings systemd until ctx is done. It returns immediately when the
// watchdog is disabled.
func (n *Notifier) Watchdog(ctx context.Context) error {
	every := WatchdogInterval()
	if every <= 0 {
		return nil
	}
	n.log.Debug("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
