package http

import (
	"time"

	"github.com/shopspring/decimal"

	"homebuh/internal/core"
	"homebuh/internal/transfer"
)

// Amounts are rendered as fixed two-decimal strings so clients never see
// binary floating point.
func money(d decimal.Decimal) string { return d.StringFixed(2) }

type accountView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

func newAccountView(a core.Account) accountView {
	return accountView{
		ID:        a.ID,
		Name:      a.Name,
		Balance:   money(a.Balance),
		Currency:  a.Currency,
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
	}
}

type transactionView struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	CategoryID  *int64    `json:"category_id"`
}

func newTransactionView(t core.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Amount:      money(t.Amount),
		Currency:    t.Currency,
		Timestamp:   t.Timestamp,
		Description: t.Description,
		CategoryID:  t.CategoryID,
	}
}

func newTransactionViews(txs []core.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionView(t))
	}
	return out
}

type transferView struct {
	Status   string          `json:"status"`
	FromTx   transactionView `json:"from_tx"`
	ToTx     transactionView `json:"to_tx"`
	Replayed bool            `json:"replayed"`
}

func newTransferView(res transfer.Result) transferView {
	return transferView{
		Status:   "ok",
		FromTx:   newTransactionView(res.From),
		ToTx:     newTransactionView(res.To),
		Replayed: res.Replayed,
	}
}

type categoryView struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

func newCategoryView(c core.Category) categoryView {
	return categoryView{ID: c.ID, Name: c.Name, ParentID: c.ParentID}
}

type budgetView struct {
	ID         int64  `json:"id"`
	YearMonth  string `json:"year_month"`
	CategoryID *int64 `json:"category_id"`
	Amount     string `json:"amount"`
}

func newBudgetView(b core.Budget) budgetView {
	return budgetView{ID: b.ID, YearMonth: b.YearMonth, CategoryID: b.CategoryID, Amount: money(b.Amount)}
}

type plannedView struct {
	ID         int64   `json:"id"`
	Title      string  `json:"title"`
	Amount     string  `json:"amount"`
	DueDate    *string `json:"due_date"`
	Type       string  `json:"type"`
	CategoryID *int64  `json:"category_id"`
}

func newPlannedView(p core.PlannedItem) plannedView {
	return plannedView{
		ID:         p.ID,
		Title:      p.Title,
		Amount:     money(p.Amount),
		DueDate:    formatDate(p.DueDate),
		Type:       string(p.Type),
		CategoryID: p.CategoryID,
	}
}

func newPlannedViews(items []core.PlannedItem) []plannedView {
	out := make([]plannedView, 0, len(items))
	for _, p := range items {
		out = append(out, newPlannedView(p))
	}
	return out
}

type categoryAmountView struct {
	CategoryID *int64 `json:"category_id"`
	Name       string `json:"name"`
	Amount     string `json:"amount"`
}

type overviewView struct {
	Year       int                  `json:"year"`
	Month      int                  `json:"month"`
	Income     string               `json:"income"`
	Outflow    string               `json:"outflow"`
	ByCategory []categoryAmountView `json:"by_category"`
}

func newOverviewView(o core.MonthOverview) overviewView {
	v := overviewView{
		Year:       o.Year,
		Month:      o.Month,
		Income:     money(o.Income),
		Outflow:    money(o.Outflow),
		ByCategory: make([]categoryAmountView, 0, len(o.ByCategory)),
	}
	for _, c := range o.ByCategory {
		v.ByCategory = append(v.ByCategory, categoryAmountView{CategoryID: c.CategoryID, Name: c.Name, Amount: money(c.Amount)})
	}
	return v
}

type budgetLineView struct {
	Budget    budgetView `json:"budget"`
	Category  string     `json:"category"`
	Spent     string     `json:"spent"`
	Remaining string     `json:"remaining"`
}

type budgetReportView struct {
	YearMonth string           `json:"year_month"`
	Lines     []budgetLineView `json:"lines"`
}

func newBudgetReportView(r core.BudgetReport) budgetReportView {
	v := budgetReportView{YearMonth: r.YearMonth, Lines: make([]budgetLineView, 0, len(r.Lines))}
	for _, l := range r.Lines {
		v.Lines = append(v.Lines, budgetLineView{
			Budget:    newBudgetView(l.Budget),
			Category:  l.Category,
			Spent:     money(l.Spent),
			Remaining: money(l.Remaining),
		})
	}
	return v
}

type statementView struct {
	Account      accountView       `json:"account"`
	Transactions []transactionView `json:"transactions"`
	LedgerTotal  string            `json:"ledger_total"`
	Balanced     bool              `json:"balanced"`
}

func newStatementView(s core.Statement) statementView {
	return statementView{
		Account:      newAccountView(s.Account),
		Transactions: newTransactionViews(s.Transactions),
		LedgerTotal:  money(s.LedgerTotal),
		Balanced:     s.Balanced,
	}
}

// expensesByCategoryView is the report produced by POST /api/report.
type expensesByCategoryView struct {
	Type         string               `json:"type"`
	YearMonth    string               `json:"year_month"`
	TotalOutflow string               `json:"total_outflow"`
	Categories   []categoryAmountView `json:"categories"`
}
