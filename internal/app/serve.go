package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/qualimetry/ansible-analyzer/internal/activation"
	"github.com/qualimetry/ansible-analyzer/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

// exiter is implemented by clients that report process exit.
type exiter interface {
	Exited() <-chan struct{}
}

// Serve activates the server and blocks until ctx is done or the server
// process exits. A disabled extension returns nil right away; a failed
// activation returns its diagnostic.
//
// When metricsAddr is set, Prometheus metrics are exposed there for the
// lifetime of the call.
func (app *Application) Serve(ctx context.Context, metricsAddr string) error {
	if metricsAddr != "" {
		stop, err := app.serveMetrics(metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		defer stop()
	}

	switch app.Activate(ctx) {
	case activation.StateIdle:
		return nil
	case activation.StateFailed:
		return app.activationError()
	case activation.StateRunning:
	default:
		return ErrNotRunning
	}

	var exited <-chan struct{}
	if e, ok := app.controller.Client().(exiter); ok {
		exited = e.Exited()
	}

	select {
	case <-ctx.Done():
		app.log.Debug("serve: %v", ctx.Err())
		return nil
	case <-exited:
		app.log.Warn("language server exited")
		return ErrNotRunning
	}
}

// activationError returns the failure recorded by the controller.
func (app *Application) activationError() error {
	if f := app.controller.Failure(); f != nil {
		return f
	}
	return ErrNotRunning
}

func (app *Application) serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(app.registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("metrics server: %v", err)
		}
	}()
	app.log.Info("metrics available at http://%s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
