// Command printer runs the "dumb" printer resource service of
// spec.md 1/6: a single endpoint that accepts print jobs and confirms
// them, with no awareness of mutual exclusion.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sincronizacion-distribuida/printlock/internal/printer"
	"github.com/sincronizacion-distribuida/printlock/internal/printerhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("printer", flag.ContinueOnError)
	port := fs.String("port", "50051", "listen endpoint for inbound print jobs")
	mongoURI := fs.String("mongo-uri", "", "MongoDB connection URI for the receive log (optional; falls back to an in-memory log)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 1
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	entry := log.WithField("component", "printer")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var store printer.Store
	if *mongoURI != "" {
		mongoStore, client, err := printer.Connect(ctx, *mongoURI)
		if err != nil {
			entry.WithError(err).Error("failed to connect to mongo")
			return 1
		}
		defer client.Disconnect(context.Background())
		store = mongoStore
		entry.Info("persisting receive log to mongo")
	} else {
		entry.Warn("no -mongo-uri given; receive log is in-memory only")
	}

	svc := printer.NewService(store, log)
	httpServer := &http.Server{
		Addr:    ":" + *port,
		Handler: printerhttp.NewRouter(svc, entry),
	}

	serverErrCh := make(chan error, 1)
	go func() {
		entry.WithField("port", *port).Info("printer server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		entry.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		return 0
	case err := <-serverErrCh:
		entry.WithError(err).Error("printer server failed")
		return 1
	}
}
