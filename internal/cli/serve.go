package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	appLog "taskfeed/internal/log"
	"taskfeed/internal/schedule"
	"taskfeed/internal/web"
)

const shutdownTimeout = 10 * time.Second

type ServeCmd struct {
	Listen string `help:"HTTP listen address (overrides config if set)."`
}

func (c *ServeCmd) Run(ctx *Context) error {
	addr := ctx.Config.Listen
	if c.Listen != "" {
		addr = c.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln)
}

// serve runs the HTTP API on ln until ctx.Ctx is done, then shuts down
// gracefully.
func serve(ctx *Context, ln net.Listener) error {
	if spec := ctx.Config.SyncCron; spec != "" {
		sched, err := schedule.New(spec, ctx.App)
		if err != nil {
			_ = ln.Close()
			return err
		}
		sched.Start(ctx.Ctx)
		defer func() { <-sched.Stop().Done() }()
	}

	srv := &http.Server{
		Handler:           web.NewServer(ctx.App, ctx.Config.BasicAuth).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Sync and events requests may wait on an upstream fetch.
		WriteTimeout: ctx.Config.FetchTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Ctx.Done():
	}

	appLog.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
