// Package transfer moves money between two accounts of the same currency.
//
// A transfer debits the source and credits the destination by the same
// amount and appends one ledger entry per leg, all inside a single storage
// unit. Account locks are always taken in ascending id order, so concurrent
// transfers over the same pair in opposite directions serialize instead of
// deadlocking.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/lock"
	"homebuh/internal/log"
)

const (
	DefaultMaxRetries = 3
	defaultBackoff    = 10 * time.Millisecond
	maxBackoff        = 500 * time.Millisecond
)

// Request describes one transfer. Currency defaults to the source account's
// currency when empty. A non-empty IdempotencyKey makes the request safe to
// resend.
type Request struct {
	FromAccountID  int64
	ToAccountID    int64
	Amount         decimal.Decimal
	Currency       string
	Description    string
	IdempotencyKey string
}

// Result holds both legs. Replayed is set when the legs were produced by an
// earlier request carrying the same idempotency key.
type Result struct {
	From     core.Transaction
	To       core.Transaction
	Replayed bool
}

type Options struct {
	// MaxRetries bounds how many times a Conflict is retried. Zero disables
	// retries.
	MaxRetries int
	// LockTimeout bounds the wait for account locks. Zero waits as long as
	// the request context allows.
	LockTimeout time.Duration
	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration
	Logger  *log.Logger
}

func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries, Backoff: defaultBackoff}
}

type Orchestrator struct {
	store  ledger.Store
	locks  lock.Locker
	opts   Options
	logger *log.Logger
}

func New(store ledger.Store, locks lock.Locker, opts Options) *Orchestrator {
	if locks == nil {
		locks = lock.NewAccounts()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Orchestrator{
		store:  store,
		locks:  locks,
		opts:   opts,
		logger: logger.WithComponent(log.ComponentTransfer),
	}
}

// Transfer validates req and applies it atomically. Precondition failures are
// reported without touching storage; Conflict is retried with exponential
// backoff up to Options.MaxRetries times.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	var (
		res Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = o.attempt(ctx, req)
		if err == nil || !core.IsRetryable(err) || attempt >= o.opts.MaxRetries {
			break
		}
		delay := exponentialBackoff(attempt, o.opts.Backoff)
		o.logger.DebugContext(ctx, "Transfer conflict, retrying",
			log.FieldAttempt, attempt+1,
			"delay", delay.String(),
			log.FieldError, err.Error())
		select {
		case <-ctx.Done():
			return Result{}, core.Conflict("transfer", "request cancelled while retrying", errors.Join(err, ctx.Err()))
		case <-time.After(delay):
		}
	}

	fields := log.NewFields().
		WithTransfer(req.FromAccountID, req.ToAccountID, req.Amount.StringFixed(2), req.Currency).
		WithOperation(log.OpTransfer)
	if err != nil {
		kind := core.KindOf(err)
		fields = fields.WithError(err).WithErrorKind(kind.String())
		if kind == core.KindPersistence {
			o.logger.ErrorContext(ctx, "Transfer failed", fields.ToSlice()...)
		} else {
			o.logger.InfoContext(ctx, "Transfer rejected", fields.ToSlice()...)
		}
		return Result{}, err
	}
	o.logger.InfoContext(ctx, "Transfer committed",
		append(fields.ToSlice(), "from_tx", res.From.ID, "to_tx", res.To.ID, "replayed", res.Replayed)...)
	return res, nil
}

func validate(req Request) error {
	const op = "transfer"
	if !req.Amount.IsPositive() {
		return core.InvalidAmount(op, "amount must be greater than zero")
	}
	if req.FromAccountID == req.ToAccountID {
		return core.SameAccount(op, req.FromAccountID)
	}
	return nil
}

func (o *Orchestrator) attempt(ctx context.Context, req Request) (Result, error) {
	lockCtx := ctx
	if o.opts.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, o.opts.LockTimeout)
		defer cancel()
	}
	release, err := o.locks.Acquire(lockCtx, req.FromAccountID, req.ToAccountID)
	if err != nil {
		return Result{}, core.Conflict("transfer", "timed out waiting for account lock", err)
	}
	defer release()

	var res Result
	err = o.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		var err error
		res, err = apply(ctx, u, req)
		return err
	})
	return res, err
}

// apply runs inside the unit. Both accounts are read in ascending id order.
func apply(ctx context.Context, u ledger.Unit, req Request) (Result, error) {
	const op = "transfer"
	fingerprint := req.fingerprint()

	if req.IdempotencyKey != "" {
		rec, ok, err := u.LookupIdempotency(ctx, req.IdempotencyKey)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return replay(ctx, u, rec, fingerprint)
		}
	}

	lo, hi := ledger.Ordered(req.FromAccountID, req.ToAccountID)
	first, err := u.GetAccount(ctx, lo)
	if err != nil {
		return Result{}, err
	}
	second, err := u.GetAccount(ctx, hi)
	if err != nil {
		return Result{}, err
	}
	src, dst := first, second
	if src.ID != req.FromAccountID {
		src, dst = second, first
	}

	currency := core.NormalizeCurrency(req.Currency)
	if currency == "" {
		currency = src.Currency
	}
	if src.Currency != currency {
		return Result{}, core.CurrencyMismatch(op, src.Currency, currency)
	}
	if dst.Currency != currency {
		return Result{}, core.CurrencyMismatch(op, dst.Currency, currency)
	}
	if src.Balance.LessThan(req.Amount) {
		return Result{}, core.InsufficientFunds(op, src.ID)
	}

	if _, _, err := u.AdjustPair(ctx,
		core.Adjustment{AccountID: src.ID, Delta: req.Amount.Neg(), Version: src.Version},
		core.Adjustment{AccountID: dst.ID, Delta: req.Amount, Version: dst.Version},
		currency,
	); err != nil {
		return Result{}, err
	}

	outDesc, inDesc := "Transfer to "+dst.Name, "Transfer from "+src.Name
	if d := strings.TrimSpace(req.Description); d != "" {
		outDesc, inDesc = d, d
	}
	out, err := u.Append(ctx, core.Transaction{
		AccountID:   src.ID,
		Amount:      req.Amount.Neg(),
		Currency:    currency,
		Description: outDesc,
	})
	if err != nil {
		return Result{}, err
	}
	in, err := u.Append(ctx, core.Transaction{
		AccountID:   dst.ID,
		Amount:      req.Amount,
		Currency:    currency,
		Description: inDesc,
	})
	if err != nil {
		return Result{}, err
	}

	if req.IdempotencyKey != "" {
		if err := u.SaveIdempotency(ctx, core.IdempotencyRecord{
			Key:         req.IdempotencyKey,
			Fingerprint: fingerprint,
			FromTxID:    out.ID,
			ToTxID:      in.ID,
		}); err != nil {
			return Result{}, err
		}
	}
	return Result{From: out, To: in}, nil
}

func replay(ctx context.Context, u ledger.Unit, rec core.IdempotencyRecord, fingerprint string) (Result, error) {
	if rec.Fingerprint != fingerprint {
		return Result{}, core.Invalid("transfer", "idempotency key reused with a different request")
	}
	out, err := u.GetTransaction(ctx, rec.FromTxID)
	if err != nil {
		return Result{}, err
	}
	in, err := u.GetTransaction(ctx, rec.ToTxID)
	if err != nil {
		return Result{}, err
	}
	return Result{From: out, To: in, Replayed: true}, nil
}

func (r Request) fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%s",
		r.FromAccountID, r.ToAccountID, r.Amount.String(),
		core.NormalizeCurrency(r.Currency), strings.TrimSpace(r.Description))
	return hex.EncodeToString(h.Sum(nil))
}

// exponentialBackoff returns base * 2^attempt capped at maxBackoff.
func exponentialBackoff(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
