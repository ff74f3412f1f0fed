package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/fieldsync/internal/httpapi"
	"github.com/agentworkforce/fieldsync/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const spoolRefreshInterval = 5 * time.Second

func newServeCommand(root *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with its local API and connectivity watcher",
		Long: `Run the sync engine in the foreground.

The local API accepts mutations from UI processes, reports queue state and
streams state changes. Connectivity comes from the configured source; in
manual mode it is set with PUT /v1/connectivity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides api.addr)")
	return cmd
}

func runServe(ctx context.Context, root *RootOptions, addrOverride string) error {
	a, err := buildApp(root, appOptions{deferToSpool: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, err := signalSource(a.cfg, a.logger)
	if err != nil {
		return err
	}
	addr := a.cfg.API.Addr
	if addrOverride != "" {
		addr = addrOverride
	}
	if a.cfg.API.Token == "" {
		a.logger.Warn("api.token is empty; the local API accepts unauthenticated requests")
	}
	server := &http.Server{
		Addr: addr,
		Handler: httpapi.NewServer(a.engine, httpapi.ServerConfig{
			Token:    a.cfg.API.Token,
			Gatherer: a.registry,
			Logger:   logging.Printf(a.logger, "httpapi"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("fieldsync listening", zap.String("addr", addr), zap.String("connectivity", a.cfg.Connectivity.Mode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if source != nil {
		g.Go(func() error {
			return a.engine.Watch(gctx, source)
		})
	}
	if a.cfg.Background.SpoolDir != "" {
		// The agent drains in another process; keep the pending count current.
		g.Go(func() error {
			ticker := time.NewTicker(spoolRefreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					a.engine.Refresh(gctx)
				}
			}
		})
	}
	if state := a.engine.State(); state.Online && state.Pending > 0 {
		g.Go(func() error {
			result := a.engine.Dispatch(gctx)
			a.logger.Info("startup dispatch", zap.String("outcome", string(result.Outcome)))
			return nil
		})
	}

	err = g.Wait()
	a.logger.Info("fieldsync stopped")
	return err
}
