// Package httpserver runs an Echo instance under the process supervisor.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/robbyt/go-supervisor/supervisor"
)

var _ supervisor.Runnable = (*Runner)(nil)

// Runner serves e on addr until its context ends or Stop is called, then
// shuts down gracefully within ShutdownTimeout.
type Runner struct {
	e    *echo.Echo
	addr string
	log  *slog.Logger

	ShutdownTimeout time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRunner returns a Runner.  The Echo banner and port message are turned
// off; startup is logged through logger.
func NewRunner(e *echo.Echo, addr string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	e.HideBanner = true
	e.HidePort = true
	return &Runner{e: e, addr: addr, log: logger.With("component", "http"), ShutdownTimeout: 10 * time.Second}
}

func (r *Runner) String() string { return "http-server" }

// Run implements supervisor.Runnable.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- r.e.Start(r.addr) }()
	r.log.Info("listening", "addr", r.addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, scancel := context.WithTimeout(context.Background(), r.ShutdownTimeout)
	defer scancel()
	if err := r.e.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	r.log.Info("http server stopped")
	return nil
}

// Stop implements supervisor.Runnable.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}
