package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"homebuh/internal/amqp"
	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/log"
	"homebuh/internal/sheets"
)

// Config holds configuration for the ledger worker
type Config struct {
	// ReconcileInterval is how often every account is checked against its
	// ledger (default: 1h)
	ReconcileInterval time.Duration
}

func DefaultConfig() Config {
	return Config{ReconcileInterval: time.Hour}
}

// Drift is an account whose stored balance differs from its ledger total.
type Drift struct {
	AccountID   int64
	Balance     string
	LedgerTotal string
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked int
	Drifted []Drift
}

// LedgerWorker reacts to committed transfers: it re-checks the balance
// invariant of both accounts and mirrors the two legs to a spreadsheet. It
// also reconciles every account periodically.
type LedgerWorker struct {
	store  ledger.Store
	mirror sheets.LedgerWriter
	config Config
	logger *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a ledger worker. mirror may be nil.
func New(store ledger.Store, mirror sheets.LedgerWriter, config Config, logger *log.Logger) *LedgerWorker {
	if config.ReconcileInterval <= 0 {
		config.ReconcileInterval = DefaultConfig().ReconcileInterval
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &LedgerWorker{
		store:  store,
		mirror: mirror,
		config: config,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleTransferCompleted processes a single transfer event from AMQP.
func (w *LedgerWorker) HandleTransferCompleted(ctx context.Context, msg *amqp.TransferCompletedMessage) error {
	w.logger.InfoContext(ctx, "Processing transfer event",
		"from_tx", msg.FromTxID,
		"to_tx", msg.ToTxID,
		log.FieldAmount, msg.Amount)

	from, err := w.store.GetTransaction(ctx, msg.FromTxID)
	if err != nil {
		return fmt.Errorf("get debit leg: %w", err)
	}
	to, err := w.store.GetTransaction(ctx, msg.ToTxID)
	if err != nil {
		return fmt.Errorf("get credit leg: %w", err)
	}
	if !from.Amount.Neg().Equal(to.Amount) {
		w.logger.ErrorContext(ctx, "Transfer legs are not symmetric",
			"from_tx", from.ID, "to_tx", to.ID,
			"debit", from.Amount.String(), "credit", to.Amount.String())
	}

	for _, id := range []int64{from.AccountID, to.AccountID} {
		if _, err := w.reconcile(ctx, id); err != nil {
			return fmt.Errorf("reconcile account %d: %w", id, err)
		}
	}

	return w.mirrorLegs(ctx, from, to)
}

func (w *LedgerWorker) mirrorLegs(ctx context.Context, legs ...core.Transaction) error {
	if w.mirror == nil {
		return nil
	}
	entries := make([]sheets.Entry, 0, len(legs))
	for _, tx := range legs {
		acc, err := w.store.GetAccount(ctx, tx.AccountID)
		if err != nil {
			return fmt.Errorf("get account %d: %w", tx.AccountID, err)
		}
		entries = append(entries, sheets.Entry{
			TxID:        tx.ID,
			AccountID:   tx.AccountID,
			Account:     acc.Name,
			Timestamp:   tx.Timestamp,
			Description: tx.Description,
			Amount:      tx.Amount,
			Currency:    tx.Currency,
		})
	}

	ref, err := w.mirror.AppendEntries(ctx, entries)
	if err != nil {
		return fmt.Errorf("append to sheets: %w", err)
	}
	w.logger.InfoContext(ctx, "Transfer mirrored", "sheets_ref", ref, "rows", len(entries))
	return nil
}

// reconcile checks one account. A mismatch is read twice before it is
// reported, since a concurrent write can land between the two reads.
func (w *LedgerWorker) reconcile(ctx context.Context, accountID int64) (*Drift, error) {
	var (
		acc   core.Account
		total string
		ok    bool
	)
	for range 2 {
		a, t, balanced, err := ledger.CheckInvariant(ctx, w.store, accountID)
		if err != nil {
			return nil, err
		}
		acc, total, ok = a, t.String(), balanced
		if ok {
			return nil, nil
		}
	}

	w.logger.ErrorContext(ctx, "Account balance drifted from ledger",
		log.FieldAccountID, accountID,
		"balance", acc.Balance.String(),
		"ledger_total", total)
	return &Drift{AccountID: accountID, Balance: acc.Balance.String(), LedgerTotal: total}, nil
}

// ReconcileAll checks every account against its ledger.
func (w *LedgerWorker) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	accounts, err := w.store.ListAccounts(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list accounts: %w", err)
	}

	var report ReconcileReport
	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		drift, err := w.reconcile(ctx, acc.ID)
		if err != nil {
			if errors.Is(err, core.ErrAccountNotFound) {
				continue
			}
			return report, fmt.Errorf("reconcile account %d: %w", acc.ID, err)
		}
		report.Checked++
		if drift != nil {
			report.Drifted = append(report.Drifted, *drift)
		}
	}

	w.logger.InfoContext(ctx, "Reconciliation completed",
		"checked", report.Checked,
		"drifted", len(report.Drifted))
	return report, nil
}

// Start begins periodic reconciliation. Returns an error if already running.
func (w *LedgerWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("ledger worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	go w.runLoop(ctx, stopCh, doneCh)

	w.logger.InfoContext(ctx, "Ledger worker started", "reconcile_interval", w.config.ReconcileInterval)
	return nil
}

// Stop gracefully stops the worker and waits for the current pass.
func (w *LedgerWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		w.logger.InfoContext(ctx, "Ledger worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Ledger worker stop timed out")
		return ctx.Err()
	}
}

func (w *LedgerWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// runLoop owns stopCh and doneCh for one Start/Stop cycle.
func (w *LedgerWorker) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.ReconcileInterval)
	defer ticker.Stop()

	// reconcile once on startup
	w.runPass(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runPass(ctx)
		}
	}
}

func (w *LedgerWorker) runPass(ctx context.Context) {
	if _, err := w.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
		w.logger.ErrorContext(ctx, "Periodic reconciliation failed", log.FieldError, err)
	}
}
