// Package sigcontext ties the agent's lifetime to process signals.
package sigcontext

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/amazonlinux/bottlerocket/otaboot/pkg/logging"
)

// WithSignalCancel returns a context cancelled by the first of sigs sent to
// the process. The signal handlers are released on that first signal, so a
// second one gets the runtime's default handling and terminates a process
// that is stuck winding down. The returned cancel must be called.
func WithSignalCancel(ctx context.Context, log logging.Logger, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	sigctx, ctxcancel := context.WithCancel(ctx)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, sigs...)

	var once sync.Once
	release := func() {
		once.Do(func() { signal.Stop(sigchan) })
	}

	go func() {
		defer release()
		select {
		case <-sigctx.Done():
		case sig := <-sigchan:
			log.WithField("signal", sig.String()).Info("received signal, shutting down")
			ctxcancel()
		}
	}()

	return sigctx, func() {
		ctxcancel()
		release()
	}
}
