package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// The cancel cause names the signal. A second signal exits the process
// without waiting for in-flight downloads.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return watchSignals(parent, sigCh, func() { signal.Stop(sigCh) }, os.Exit, logger)
}

// watchSignals implements shutdownContext over an arbitrary signal source.
// stop is called once the watcher goroutine is done; exit is called with 1
// on the second signal.
func watchSignals(
	parent context.Context, sigCh <-chan os.Signal, stop func(), exit func(int), logger *slog.Logger,
) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	go func() {
		defer stop()

		select {
		case sig := <-sigCh:
			logger.Info("draining in-flight downloads",
				slog.String("signal", sig.String()),
			)
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, aborting in-flight downloads",
				slog.String("signal", sig.String()),
			)
			exit(1)
		case <-parent.Done():
		}
	}()

	return ctx
}
