package app

import (
	"context"
	"sync/atomic"
	"time"

	logx "gcpacer/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// sdNotifier speaks the systemd notify protocol. Every call is a no-op when
// disabled or when NOTIFY_SOCKET is unset.
type sdNotifier struct {
	enabled atomic.Bool
	log     logx.Logger
	send    func(state string) (bool, error)
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	n := &sdNotifier{
		log:  log,
		send: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	n.enabled.Store(enabled)
	return n
}

func (n *sdNotifier) SetEnabled(v bool) { n.enabled.Store(v) }

func (n *sdNotifier) notify(state string) {
	if !n.enabled.Load() {
		return
	}
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify sent", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()             { n.notify(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping()          { n.notify(daemon.SdNotifyStopping) }
func (n *sdNotifier) Reloading()         { n.notify(daemon.SdNotifyReloading) }
func (n *sdNotifier) Status(line string) { n.notify("STATUS=" + line) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx is
// done. It returns at once when no watchdog is configured.
func (n *sdNotifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("sd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	n.log.Info("sd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
