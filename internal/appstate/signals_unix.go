//go:build unix

package appstate

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logx "gcpacer/pkg/logx"
)

// ListenSignals maps SIGUSR1 to Background and SIGUSR2 to Foreground until
// ctx is done.
func (t *Tracker) ListenSignals(ctx context.Context, log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			next := Foreground
			if sig == syscall.SIGUSR1 {
				next = Background
			}
			if t.Set(next) {
				log.Info("app state changed", logx.String("state", next.String()), logx.String("signal", sig.String()))
			}
		}
	}
}
