package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"homebuh/internal/cli"
	"homebuh/internal/worker"
)

func newWorkerCommand() *cobra.Command {
	var (
		dbPath        string
		reconcileOnce bool
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume transfer events, mirror legs to Google Sheets and reconcile balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reconcileOnce {
				return runReconcileOnce(cmd, dbPath)
			}
			return runWorker(cmd, dbPath)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (selects the sqlite backend)")
	cmd.Flags().BoolVar(&reconcileOnce, "reconcile-once", false, "check every account against its ledger once and exit")

	return cmd
}

func runWorker(cmd *cobra.Command, dbPath string) error {
	cfg, logger, err := bootstrap(cmd, dbOverride(dbPath))
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

	mirror, err := cli.InitSheets(ctx, cfg, logger)
	if err != nil {
		return err
	}

	w := worker.New(app.Backend, mirror, worker.Config{ReconcileInterval: cfg.ReconcileInterval}, logger)
	if err := w.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if app.Events != nil {
		g.Go(func() error {
			err := app.Events.ConsumeTransferCompleted(gctx, w.HandleTransferCompleted)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		logger.Warn("AMQP disabled - running periodic reconciliation only")
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if stopErr := w.Stop(shutdownCtx); stopErr != nil {
		logger.Warn("Ledger worker did not stop cleanly", "error", stopErr)
	}
	if err != nil {
		return fmt.Errorf("consume transfer events: %w", err)
	}
	logger.Info("Worker shutdown complete")
	return nil
}

func runReconcileOnce(cmd *cobra.Command, dbPath string) error {
	cfg, logger, err := bootstrap(cmd, dbOverride(dbPath))
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	res, err := cli.InitStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer res.Cleanup()

	report, err := worker.New(res.Backend, nil, worker.Config{ReconcileInterval: cfg.ReconcileInterval}, logger).ReconcileAll(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "checked %d accounts, %d drifted\n", report.Checked, len(report.Drifted))
	for _, d := range report.Drifted {
		fmt.Fprintf(out, "account %d: balance %s, ledger %s\n", d.AccountID, d.Balance, d.LedgerTotal)
	}
	if len(report.Drifted) > 0 {
		return fmt.Errorf("%d accounts drifted from their ledger", len(report.Drifted))
	}
	return nil
}
