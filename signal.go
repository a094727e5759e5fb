package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownSignals stop a command. The first one cancels, the second exits.
var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// Canceling stops a sign-in poll at its next wait and lets the upload in
// flight finish its request; later tasks are reported as canceled. A second
// signal exits immediately.
//
// stop releases the signal handler and cancels the context. Commands defer
// it so the handler does not outlive them.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals...)

	released := make(chan struct{})
	var once sync.Once

	stop = func() {
		once.Do(func() {
			close(released)
			cancel()
		})
	}

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("interrupted, finishing current request",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-parent.Done():
			cancel()
			return
		case <-released:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("interrupted again, exiting now",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
		case <-released:
		}
	}()

	return ctx, stop
}
