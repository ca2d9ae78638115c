package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"oobind/internal/config"
)

const shutdownTimeout = 10 * time.Second

func NewHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run serves deps until ctx is done, then shuts down gracefully. Session
// and stream janitors run alongside the listener.
func Run(ctx context.Context, deps Deps) error {
	cfg := deps.Config
	srv := NewHTTPServer(cfg, NewRouter(deps))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return deps.Ceremony.Run(ctx, cfg.SweepInterval)
	})

	if deps.Relay != nil {
		g.Go(func() error {
			return deps.Relay.Run(ctx, cfg.SweepInterval, cfg.SessionTTL)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
