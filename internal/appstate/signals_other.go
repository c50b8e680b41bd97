//go:build !unix

package appstate

import (
	"context"

	logx "gcpacer/pkg/logx"
)

// ListenSignals is a no-op where SIGUSR1/SIGUSR2 do not exist; the state can
// still be changed through the debug server.
func (t *Tracker) ListenSignals(ctx context.Context, log logx.Logger) {
	_ = log
	<-ctx.Done()
}
