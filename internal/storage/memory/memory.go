package memory

import (
	"bufio"
	"context"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"homebuh/internal/core"
	"homebuh/internal/ledger"
)

// Store is an in-memory ledger.Backend. Units run one at a time under the
// store's write lock and stage their writes until commit.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	accounts   map[int64]core.Account
	txs        []core.Transaction // insertion order
	txIndex    map[int64]int
	idem       map[string]core.IdempotencyRecord
	categories []core.Category
	budgets    []core.Budget
	planned    []core.PlannedItem

	nextAccountID  int64
	nextTxID       int64
	nextCategoryID int64
	nextBudgetID   int64
	nextPlannedID  int64
	lastTimestamp  time.Time
}

var _ ledger.Backend = (*Store)(nil)

func New() *Store {
	return &Store{
		now:      time.Now,
		accounts: make(map[int64]core.Account),
		txIndex:  make(map[int64]int),
		idem:     make(map[string]core.IdempotencyRecord),
	}
}

// NewFromFiles seeds categories from base/seed_categories.txt. Each line is
// either "Parent" or "Parent/Child".
func NewFromFiles(base string) *Store {
	s := New()
	lines := readLines(filepath.Join(base, "seed_categories.txt"))
	if len(lines) == 0 {
		lines = []string{"Home", "Food", "Food/Groceries", "Food/Restaurants", "Transport"}
	}
	byName := map[string]int64{}
	for _, line := range lines {
		parent, child, nested := strings.Cut(line, "/")
		parent = strings.TrimSpace(parent)
		pid, ok := byName[parent]
		if !ok {
			c, _ := s.CreateCategory(context.Background(), core.Category{Name: parent})
			pid = c.ID
			byName[parent] = pid
		}
		if nested && strings.TrimSpace(child) != "" {
			_, _ = s.CreateCategory(context.Background(), core.Category{Name: strings.TrimSpace(child), ParentID: &pid})
		}
	}
	return s
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Close() error { return nil }

func (s *Store) GetAccount(_ context.Context, id int64) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return core.Account{}, core.AccountNotFound("get account", id)
	}
	return acc, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b core.Account) int { return int(a.ID - b.ID) })
	return out, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.txIndex[id]
	if !ok {
		return core.Transaction{}, core.NotFound("get transaction", "transaction", id)
	}
	return s.txs[i], nil
}

// ListByAccount snapshots the account's entries when iteration starts.
func (s *Store) ListByAccount(ctx context.Context, accountID int64) iter.Seq2[core.Transaction, error] {
	return func(yield func(core.Transaction, error) bool) {
		s.mu.RLock()
		var snapshot []core.Transaction
		for _, tx := range s.txs {
			if tx.AccountID == accountID {
				snapshot = append(snapshot, tx)
			}
		}
		s.mu.RUnlock()

		for _, tx := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(core.Transaction{}, err)
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
	}
}

func (s *Store) ListTransactions(_ context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		tx := s.txs[i]
		if f.AccountID != nil && tx.AccountID != *f.AccountID {
			continue
		}
		if !f.Since.IsZero() && tx.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !tx.Timestamp.Before(f.Until) {
			continue
		}
		out = append(out, tx)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// WithinUnit runs fn with exclusive write access. Staged writes are applied
// only if fn returns nil.
func (s *Store) WithinUnit(ctx context.Context, fn ledger.UnitFunc) error {
	if err := ctx.Err(); err != nil {
		return core.Conflict("begin unit", "request cancelled before commit", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &unit{
		s:             s,
		accounts:      make(map[int64]core.Account),
		idem:          make(map[string]core.IdempotencyRecord),
		nextAccountID: s.nextAccountID,
		nextTxID:      s.nextTxID,
		lastTimestamp: s.lastTimestamp,
	}
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return core.Conflict("commit unit", "request cancelled before commit", err)
	}
	u.commit()
	return nil
}

type unit struct {
	s *Store

	accounts map[int64]core.Account
	txs      []core.Transaction
	idem     map[string]core.IdempotencyRecord

	nextAccountID int64
	nextTxID      int64
	lastTimestamp time.Time
}

func (u *unit) commit() {
	s := u.s
	for id, a := range u.accounts {
		s.accounts[id] = a
	}
	for _, tx := range u.txs {
		s.txIndex[tx.ID] = len(s.txs)
		s.txs = append(s.txs, tx)
	}
	for k, rec := range u.idem {
		s.idem[k] = rec
	}
	s.nextAccountID = u.nextAccountID
	s.nextTxID = u.nextTxID
	s.lastTimestamp = u.lastTimestamp
}

func (u *unit) GetAccount(_ context.Context, id int64) (core.Account, error) {
	if a, ok := u.accounts[id]; ok {
		return a, nil
	}
	if a, ok := u.s.accounts[id]; ok {
		return a, nil
	}
	return core.Account{}, core.AccountNotFound("get account", id)
}

func (u *unit) GetTransaction(_ context.Context, id int64) (core.Transaction, error) {
	if i, ok := u.s.txIndex[id]; ok {
		return u.s.txs[i], nil
	}
	for _, tx := range u.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, core.NotFound("get transaction", "transaction", id)
}

func (u *unit) InsertAccount(_ context.Context, name, currency string) (core.Account, error) {
	u.nextAccountID++
	a := core.Account{
		ID:        u.nextAccountID,
		Name:      name,
		Balance:   decimal.Zero,
		Currency:  currency,
		CreatedAt: u.s.now().UTC(),
	}
	u.accounts[a.ID] = a
	return a, nil
}

func (u *unit) AdjustPair(ctx context.Context, a, b core.Adjustment, currency string) (core.Account, core.Account, error) {
	const op = "adjust pair"
	if a.AccountID == b.AccountID {
		return core.Account{}, core.Account{}, core.SameAccount(op, a.AccountID)
	}
	first, second := a, b
	if second.AccountID < first.AccountID {
		first, second = second, first
	}
	nf, err := u.adjust(ctx, op, first, currency)
	if err != nil {
		return core.Account{}, core.Account{}, err
	}
	ns, err := u.adjust(ctx, op, second, currency)
	if err != nil {
		return core.Account{}, core.Account{}, err
	}
	u.accounts[nf.ID] = nf
	u.accounts[ns.ID] = ns
	if nf.ID == a.AccountID {
		return nf, ns, nil
	}
	return ns, nf, nil
}

func (u *unit) AdjustOne(ctx context.Context, adj core.Adjustment, currency string) (core.Account, error) {
	next, err := u.adjust(ctx, "adjust account", adj, currency)
	if err != nil {
		return core.Account{}, err
	}
	u.accounts[next.ID] = next
	return next, nil
}

func (u *unit) adjust(ctx context.Context, op string, adj core.Adjustment, currency string) (core.Account, error) {
	current, err := u.GetAccount(ctx, adj.AccountID)
	if err != nil {
		return core.Account{}, err
	}
	return ledger.ApplyAdjustment(op, current, adj, currency)
}

func (u *unit) Append(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	ts := u.s.now().UTC()
	if ts.Before(u.lastTimestamp) {
		ts = u.lastTimestamp
	}
	u.lastTimestamp = ts
	u.nextTxID++
	tx.ID = u.nextTxID
	tx.Timestamp = ts
	u.txs = append(u.txs, tx)
	return tx, nil
}

func (u *unit) LookupIdempotency(_ context.Context, key string) (core.IdempotencyRecord, bool, error) {
	if rec, ok := u.idem[key]; ok {
		return rec, true, nil
	}
	rec, ok := u.s.idem[key]
	return rec, ok, nil
}

func (u *unit) SaveIdempotency(_ context.Context, rec core.IdempotencyRecord) error {
	if _, ok, _ := u.LookupIdempotency(context.Background(), rec.Key); ok {
		return core.Conflict("save idempotency key", "idempotency key already used", nil)
	}
	rec.CreatedAt = u.s.now().UTC()
	u.idem[rec.Key] = rec
	return nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
