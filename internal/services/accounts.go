package services

import (
	"context"
	"strings"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/lock"
	"homebuh/internal/log"
)

// AccountService creates accounts and posts single-account income and
// expense entries. Every balance change goes through a ledger unit together
// with the entry that explains it.
type AccountService struct {
	store      ledger.Store
	categories ledger.CategoryStore
	locks      lock.Locker
	cache      Invalidator
	logger     *log.Logger
}

func NewAccountService(store ledger.Store, categories ledger.CategoryStore, locks lock.Locker, cache Invalidator, logger *log.Logger) *AccountService {
	if locks == nil {
		locks = lock.NewAccounts()
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &AccountService{
		store:      store,
		categories: categories,
		locks:      locks,
		cache:      cache,
		logger:     logger.WithComponent(log.ComponentPosting),
	}
}

// Create opens an account. A non-zero opening balance is booked as an
// "Opening balance" entry in the same unit.
func (s *AccountService) Create(ctx context.Context, in core.NewAccount) (core.Account, error) {
	if err := in.Validate(); err != nil {
		return core.Account{}, err
	}
	name := strings.TrimSpace(in.Name)
	currency := core.NormalizeCurrency(in.Currency)
	if currency == "" {
		currency = core.DefaultCurrency
	}
	opening := core.RoundAmount(in.OpeningBalance)

	var acc core.Account
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		var err error
		acc, err = u.InsertAccount(ctx, name, currency)
		if err != nil || opening.IsZero() {
			return err
		}
		acc, err = u.AdjustOne(ctx, core.Adjustment{
			AccountID: acc.ID,
			Delta:     opening,
			Version:   acc.Version,
			Overdraft: true,
		}, currency)
		if err != nil {
			return err
		}
		_, err = u.Append(ctx, core.Transaction{
			AccountID:   acc.ID,
			Amount:      opening,
			Currency:    currency,
			Description: "Opening balance",
		})
		return err
	})
	if err != nil {
		return core.Account{}, err
	}

	s.cache.Invalidate()
	s.logger.InfoContext(ctx, "Account created",
		log.FieldAccountID, acc.ID,
		log.FieldCurrency, acc.Currency,
		log.FieldAmount, acc.Balance.StringFixed(2))
	return acc, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (core.Account, error) {
	return s.store.GetAccount(ctx, id)
}

func (s *AccountService) List(ctx context.Context) ([]core.Account, error) {
	return s.store.ListAccounts(ctx)
}

// Post books a single income (positive) or expense (negative) entry. The
// balance may go negative: only transfers are bound by available funds.
func (s *AccountService) Post(ctx context.Context, in core.NewTransaction) (core.Transaction, error) {
	const op = "post transaction"
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if in.CategoryID != nil && s.categories != nil {
		if _, err := s.categories.GetCategory(ctx, *in.CategoryID); err != nil {
			return core.Transaction{}, err
		}
	}
	amount := core.RoundAmount(in.Amount)
	if amount.IsZero() {
		return core.Transaction{}, core.InvalidAmount(op, "amount rounds to zero")
	}

	release, err := s.locks.Acquire(ctx, in.AccountID)
	if err != nil {
		return core.Transaction{}, core.Conflict(op, "timed out waiting for account lock", err)
	}
	defer release()

	var tx core.Transaction
	err = s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		acc, err := u.GetAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		currency := core.NormalizeCurrency(in.Currency)
		if currency == "" {
			currency = acc.Currency
		}
		if _, err := u.AdjustOne(ctx, core.Adjustment{
			AccountID: acc.ID,
			Delta:     amount,
			Version:   acc.Version,
			Overdraft: true,
		}, currency); err != nil {
			return err
		}
		tx, err = u.Append(ctx, core.Transaction{
			AccountID:   acc.ID,
			Amount:      amount,
			Currency:    currency,
			Description: strings.TrimSpace(in.Description),
			CategoryID:  in.CategoryID,
		})
		return err
	})
	if err != nil {
		return core.Transaction{}, err
	}

	s.cache.Invalidate()
	s.logger.InfoContext(ctx, "Transaction posted",
		log.FieldAccountID, tx.AccountID,
		log.FieldTransactionID, tx.ID,
		log.FieldAmount, tx.Amount.StringFixed(2))
	return tx, nil
}
