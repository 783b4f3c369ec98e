package cli

import (
	"context"
	"errors"

	"homebuh/internal/amqp"
	"homebuh/internal/config"
	"homebuh/internal/ledger"
	"homebuh/internal/lock"
	"homebuh/internal/log"
	"homebuh/internal/services"
	"homebuh/internal/transfer"
)

// App is the wired application: one backend, one lock table shared by
// postings and transfers, and the services on top.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Backend ledger.Backend
	Events  *amqp.Client // nil when AMQP is disabled

	Accounts  *services.AccountService
	Transfers *services.TransferService
	Query     *services.QueryService
	Catalog   *services.CatalogService

	closers []func() error
}

// AppOptions selects optional collaborators.
type AppOptions struct {
	// Events connects to AMQP (when configured) so committed transfers are
	// published.
	Events bool
}

// NewApp opens storage and wires the services. Close releases everything
// NewApp acquired.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger, opts AppOptions) (*App, error) {
	res, err := InitStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger, Backend: res.Backend}
	if res.Cleanup != nil {
		app.closers = append(app.closers, res.Cleanup)
	}

	var publisher services.TransferPublisher
	if opts.Events {
		client, err := InitAMQP(cfg, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		if client != nil {
			app.Events = client
			publisher = client
			app.closers = append(app.closers, client.Close)
		}
	}

	locks := lock.NewAccounts()
	app.Query = services.NewQueryService(res.Backend, services.QueryConfig{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}, logger)
	orchestrator := transfer.New(res.Backend, locks, transfer.Options{
		MaxRetries:  cfg.TransferMaxRetries,
		LockTimeout: cfg.LockTimeout,
		Logger:      logger,
	})
	app.Accounts = services.NewAccountService(res.Backend, res.Backend, locks, app.Query, logger)
	app.Transfers = services.NewTransferService(orchestrator, publisher, app.Query, logger)
	app.Catalog = services.NewCatalogService(res.Backend, app.Query, logger)
	return app, nil
}

// Ready pings the backend when it supports it.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.Backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
