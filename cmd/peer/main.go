// Command peer runs a single Ricart-Agrawala peer process: it serves
// RequestAccess/ReleaseAccess to the other peers named on its -clients
// flag and periodically contends for the printer named on -server,
// per spec.md 6.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/printlock/internal/peerconfig"
	"github.com/sincronizacion-distribuida/printlock/internal/peerhttp"
	"github.com/sincronizacion-distribuida/printlock/internal/peernode"
)

// bootstrapSettle is the pragmatic delay (spec.md 6) between bringing
// up the peer's own server and starting the requester loop, giving the
// rest of the membership time to come up too.
const bootstrapSettle = 3 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := peerconfig.Parse("peer", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, peerconfig.Usage("peer"))
		return 1
	}

	entry := log.WithField("peer_id", cfg.ID)
	node := peernode.New(cfg, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.ListenPort,
		Handler: peerhttp.NewRouter(node, entry),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		entry.WithField("port", cfg.ListenPort).Info("peer RPC server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case <-time.After(bootstrapSettle):
	case <-ctx.Done():
		return 0
	case err := <-serverErrCh:
		entry.WithError(err).Error("peer RPC server failed to start")
		return 1
	}

	loopErrCh := make(chan error, 1)
	go func() {
		loopErrCh <- node.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		entry.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		return 0
	case err := <-loopErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			entry.WithError(err).Error("requester loop exited")
			return 1
		}
		return 0
	case err := <-serverErrCh:
		entry.WithError(err).Error("peer RPC server failed")
		return 1
	}
}
