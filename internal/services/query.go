package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"homebuh/internal/cache"
	"homebuh/internal/core"
	"homebuh/internal/ledger"
	"homebuh/internal/log"
)

const uncategorized = "Uncategorized"

// ReadStore is everything the query service may touch. It has no write
// methods.
type ReadStore interface {
	ledger.AccountReader
	ledger.TransactionReader
	GetCategory(ctx context.Context, id int64) (core.Category, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	ListBudgets(ctx context.Context, yearMonth string) ([]core.Budget, error)
}

type QueryConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// QueryService answers read-only questions about accounts and the ledger.
// Reports are cached until the next Invalidate.
type QueryService struct {
	store  ReadStore
	logger *log.Logger

	overviews  *cache.Loader[core.MonthOverview]
	budgets    *cache.Loader[core.BudgetReport]
	statements *cache.Loader[core.Statement]
	cleaners   []cache.Cleaner
}

func NewQueryService(store ReadStore, cfg QueryConfig, logger *log.Logger) *QueryService {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 64
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Discard()
	}
	ov := cache.NewLRUCache[core.MonthOverview](cfg.CacheSize, cfg.CacheTTL)
	bu := cache.NewLRUCache[core.BudgetReport](cfg.CacheSize, cfg.CacheTTL)
	st := cache.NewLRUCache[core.Statement](cfg.CacheSize, cfg.CacheTTL)
	return &QueryService{
		store:      store,
		logger:     logger.WithComponent(log.ComponentReport),
		overviews:  cache.NewLoader[core.MonthOverview](ov),
		budgets:    cache.NewLoader[core.BudgetReport](bu),
		statements: cache.NewLoader[core.Statement](st),
		cleaners:   []cache.Cleaner{ov, bu, st},
	}
}

// Caches exposes the underlying caches for periodic expiry sweeps.
func (q *QueryService) Caches() []cache.Cleaner {
	return q.cleaners
}

// Invalidate drops every cached report.
func (q *QueryService) Invalidate() {
	q.overviews.Invalidate()
	q.budgets.Invalidate()
	q.statements.Invalidate()
}

func (q *QueryService) ListTransactions(ctx context.Context, f core.TransactionFilter) ([]core.Transaction, error) {
	return q.store.ListTransactions(ctx, f)
}

// AccountTransactions returns an account's entries, newest first.
func (q *QueryService) AccountTransactions(ctx context.Context, accountID int64, limit int) ([]core.Transaction, error) {
	if _, err := q.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return q.store.ListTransactions(ctx, core.TransactionFilter{AccountID: &accountID, Limit: limit})
}

// Descendants returns id followed by every category below it, breadth first.
func (q *QueryService) Descendants(ctx context.Context, id int64) ([]int64, error) {
	if _, err := q.store.GetCategory(ctx, id); err != nil {
		return nil, err
	}
	cats, err := q.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	return descendants(cats, id), nil
}

func descendants(cats []core.Category, root int64) []int64 {
	children := make(map[int64][]int64)
	for _, c := range cats {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}
	out := []int64{root}
	seen := map[int64]bool{root: true}
	for i := 0; i < len(out); i++ {
		for _, child := range children[out[i]] {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out
}

// topLevel maps every category id to its root ancestor.
func topLevel(cats []core.Category) map[int64]core.Category {
	byID := make(map[int64]core.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}
	roots := make(map[int64]core.Category, len(cats))
	for _, c := range cats {
		cur := c
		for hops := 0; cur.ParentID != nil && hops < len(cats); hops++ {
			parent, ok := byID[*cur.ParentID]
			if !ok {
				break
			}
			cur = parent
		}
		roots[c.ID] = cur
	}
	return roots
}

// MonthOverview totals a month's income and outflow and rolls amounts up to
// top-level categories.
func (q *QueryService) MonthOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	if month < 1 || month > 12 {
		return core.MonthOverview{}, core.Invalid("month overview", "month must be between 1 and 12")
	}
	return q.overviews.Get(ctx, cache.Key("overview/", year, "/", month), func(ctx context.Context) (core.MonthOverview, error) {
		return q.monthOverview(ctx, year, month)
	})
}

func (q *QueryService) monthOverview(ctx context.Context, year, month int) (core.MonthOverview, error) {
	start, end := core.MonthRange(year, month)
	txs, err := q.store.ListTransactions(ctx, core.TransactionFilter{Since: start, Until: end})
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list transactions: %w", err)
	}
	cats, err := q.store.ListCategories(ctx)
	if err != nil {
		return core.MonthOverview{}, fmt.Errorf("list categories: %w", err)
	}
	roots := topLevel(cats)

	ov := core.MonthOverview{Year: year, Month: month, Income: decimal.Zero, Outflow: decimal.Zero}
	buckets := make(map[string]*core.CategoryAmount)
	for _, tx := range txs {
		if tx.Amount.IsPositive() {
			ov.Income = ov.Income.Add(tx.Amount)
		} else {
			ov.Outflow = ov.Outflow.Add(tx.Amount.Neg())
		}

		name, id := uncategorized, (*int64)(nil)
		if tx.CategoryID != nil {
			if root, ok := roots[*tx.CategoryID]; ok {
				rid := root.ID
				name, id = root.Name, &rid
			}
		}
		b, ok := buckets[name]
		if !ok {
			b = &core.CategoryAmount{CategoryID: id, Name: name, Amount: decimal.Zero}
			buckets[name] = b
		}
		b.Amount = b.Amount.Add(tx.Amount)
	}

	for _, b := range buckets {
		ov.ByCategory = append(ov.ByCategory, *b)
	}
	slices.SortFunc(ov.ByCategory, func(a, b core.CategoryAmount) int {
		switch {
		case a.Name == uncategorized:
			return 1
		case b.Name == uncategorized:
			return -1
		}
		return strings.Compare(a.Name, b.Name)
	})

	q.logger.DebugContext(ctx, "Month overview computed",
		log.FieldYear, year, log.FieldMonth, month, "transactions", len(txs))
	return ov, nil
}

// BudgetReport compares each budget of yearMonth with the month's outflow in
// the budget's category subtree. A budget without a category covers every
// outflow of the month.
func (q *QueryService) BudgetReport(ctx context.Context, yearMonth string) (core.BudgetReport, error) {
	first, err := core.ParseYearMonth(yearMonth)
	if err != nil {
		return core.BudgetReport{}, core.Invalid("budget report", "year_month must be formatted as YYYY-MM")
	}
	ym := first.Format("2006-01")
	return q.budgets.Get(ctx, cache.Key("budget/", ym), func(ctx context.Context) (core.BudgetReport, error) {
		return q.budgetReport(ctx, ym, first)
	})
}

func (q *QueryService) budgetReport(ctx context.Context, ym string, first time.Time) (core.BudgetReport, error) {
	budgets, err := q.store.ListBudgets(ctx, ym)
	if err != nil {
		return core.BudgetReport{}, fmt.Errorf("list budgets: %w", err)
	}
	start, end := core.MonthRange(first.Year(), int(first.Month()))
	txs, err := q.store.ListTransactions(ctx, core.TransactionFilter{Since: start, Until: end})
	if err != nil {
		return core.BudgetReport{}, fmt.Errorf("list transactions: %w", err)
	}
	cats, err := q.store.ListCategories(ctx)
	if err != nil {
		return core.BudgetReport{}, fmt.Errorf("list categories: %w", err)
	}
	names := make(map[int64]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}

	report := core.BudgetReport{YearMonth: ym}
	for _, b := range budgets {
		line := core.BudgetLine{Budget: b, Category: "All", Spent: decimal.Zero}
		var scope map[int64]bool
		if b.CategoryID != nil {
			line.Category = names[*b.CategoryID]
			scope = make(map[int64]bool)
			for _, id := range descendants(cats, *b.CategoryID) {
				scope[id] = true
			}
		}
		for _, tx := range txs {
			if !tx.Amount.IsNegative() {
				continue
			}
			if scope != nil && (tx.CategoryID == nil || !scope[*tx.CategoryID]) {
				continue
			}
			line.Spent = line.Spent.Add(tx.Amount.Neg())
		}
		line.Remaining = b.Amount.Sub(line.Spent)
		report.Lines = append(report.Lines, line)
	}
	return report, nil
}

// Statement returns an account with its full ledger and whether the stored
// balance matches the ledger.
func (q *QueryService) Statement(ctx context.Context, accountID int64) (core.Statement, error) {
	return q.statements.Get(ctx, cache.Key("statement/", accountID), func(ctx context.Context) (core.Statement, error) {
		acc, err := q.store.GetAccount(ctx, accountID)
		if err != nil {
			return core.Statement{}, err
		}
		txs, err := ledger.Collect(q.store.ListByAccount(ctx, accountID))
		if err != nil {
			return core.Statement{}, err
		}
		total := core.Sum(txs)
		st := core.Statement{
			Account:      acc,
			Transactions: txs,
			LedgerTotal:  total,
			Balanced:     acc.Balance.Equal(total),
		}
		if !st.Balanced {
			q.logger.WarnContext(ctx, "Account balance does not match ledger",
				log.FieldAccountID, accountID,
				"balance", acc.Balance.String(),
				"ledger_total", total.String())
		}
		return st, nil
	})
}
