package commands

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"homebuh/internal/cache"
	"homebuh/internal/cli"
	"homebuh/internal/config"
	apphttp "homebuh/internal/http"
)

func newServeCommand() *cobra.Command {
	var (
		port   string
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, port, dbPath)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (selects the sqlite backend)")

	return cmd
}

func runServe(cmd *cobra.Command, port, dbPath string) error {
	cfg, logger, err := bootstrap(cmd, dbOverride(dbPath), func(cfg *config.Config) {
		if port != "" {
			cfg.Port = port
		}
	})
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	app, err := cli.NewApp(ctx, cfg, logger, cli.AppOptions{Events: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("Failed to release resources", "error", err)
		}
	}()

	caches := cache.NewManager(logger)
	for _, c := range app.Query.Caches() {
		caches.Register(c)
	}
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Accounts:  app.Accounts,
		Transfers: app.Transfers,
		Query:     app.Query,
		Catalog:   app.Catalog,
		Ready:     app.Ready,
	}, apphttp.Options{}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting homebuh server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
