// Package app holds the lifecycle shared by the service binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner is a long-lived worker that stops when ctx ends, such as an
// events.Consumer.
type Runner interface {
	Run(ctx context.Context) error
}

// Serve runs srv and every runner until ctx ends or one of them fails, then
// shuts the server down within shutdownTimeout.
func Serve(ctx context.Context, log *zap.Logger, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, runners ...Runner) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, r := range runners {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Listen opens the TCP listener for addr so that bind errors surface before
// any worker starts.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

// Closers releases resources in reverse order of registration and reports
// every failure, not just the first.
type Closers struct {
	fns []func() error
}

func (c *Closers) Add(fn func() error) {
	c.fns = append(c.fns, fn)
}

func (c *Closers) Close() error {
	var result *multierror.Error
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.fns = nil
	return result.ErrorOrNil()
}
