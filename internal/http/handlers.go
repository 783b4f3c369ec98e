package http

import (
	"net/http"
	"strings"
	"time"

	"homebuh/internal/core"
	"homebuh/internal/log"
)

const reportExpensesByCategory = "expenses_by_category"

// fail writes the error envelope for err. Server-side failures are logged
// at error level with their cause; client errors at debug.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorResponse(err)
	ctx := r.Context()
	logger := log.FromContext(ctx)
	kind := core.KindOf(err)
	fields := log.NewFields().
		WithOperation(op).
		WithErrorKind(kind.String()).
		WithError(err).
		ToSlice()
	if statusForKind(kind) >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "Request failed", fields...)
	} else {
		logger.DebugContext(ctx, "Request rejected", fields...)
	}
	resp.Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Data(v).Write(w)
}

// Accounts

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	acc, err := s.svc.Accounts.Create(r.Context(), req.toDomain())
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAccountView(acc))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.svc.Accounts.List(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	acc, err := s.svc.Accounts.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (s *Server) handleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	limit, err := parseIntParam(r.URL.Query(), "limit", 0, 0, 1000)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	txs, err := s.svc.Query.AccountTransactions(r.Context(), id, limit)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionViews(txs))
}

func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpReconcile, err)
		return
	}
	st, err := s.svc.Query.Statement(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpReconcile, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatementView(st))
}

// Transfers

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var body transferRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, log.OpTransfer, err)
		return
	}
	req, err := body.toDomain(r.Header.Get("Idempotency-Key"))
	if err != nil {
		s.fail(w, r, log.OpTransfer, err)
		return
	}

	res, err := s.svc.Transfers.Transfer(r.Context(), req)
	if err != nil {
		s.fail(w, r, log.OpTransfer, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, newTransferView(res))
}

// Transactions

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var body createTransactionRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	in, err := body.toDomain()
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	tx, err := s.svc.Accounts.Post(r.Context(), in)
	if err != nil {
		s.fail(w, r, log.OpAppend, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionView(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseTransactionFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	txs, err := s.svc.Query.ListTransactions(r.Context(), f)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionViews(txs))
}

// Categories

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var body createCategoryRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	c, err := s.svc.Catalog.CreateCategory(r.Context(), core.Category{Name: sanitizeInput(body.Name), ParentID: body.ParentID})
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCategoryView(c))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.svc.Catalog.ListCategories(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	out := make([]categoryView, 0, len(cats))
	for _, c := range cats {
		out = append(out, newCategoryView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDescendants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	ids, err := s.svc.Query.Descendants(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category_id": id, "ids": ids})
}

// Budgets

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var body createBudgetRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	b, err := s.svc.Catalog.CreateBudget(r.Context(), core.Budget{
		YearMonth:  strings.TrimSpace(body.YearMonth),
		CategoryID: body.CategoryID,
		Amount:     body.Amount,
	})
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBudgetView(b))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	ym := strings.TrimSpace(r.URL.Query().Get("year_month"))
	if ym != "" {
		if _, err := core.ParseYearMonth(ym); err != nil {
			s.fail(w, r, log.OpList, core.Invalid("list budgets", "year_month must be formatted as YYYY-MM"))
			return
		}
	}
	budgets, err := s.svc.Catalog.ListBudgets(r.Context(), ym)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	out := make([]budgetView, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, newBudgetView(b))
	}
	writeJSON(w, http.StatusOK, out)
}

// Planned items

func (s *Server) handleCreatePlanned(w http.ResponseWriter, r *http.Request) {
	var body createPlannedRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	in, err := body.toDomain()
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	p, err := s.svc.Catalog.CreatePlanned(r.Context(), in)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, newPlannedView(p))
}

func (s *Server) handleListPlanned(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.Catalog.ListPlanned(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlannedViews(items))
}

func (s *Server) handleDuePlanned(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntParam(r.URL.Query(), "days", 7, 0, 366)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	items, err := s.svc.Catalog.DuePlanned(r.Context(), s.now().UTC(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlannedViews(items))
}

// Reports

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var body reportRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	kind := strings.TrimSpace(body.Type)
	if kind == "" {
		kind = reportExpensesByCategory
	}
	if kind != reportExpensesByCategory {
		s.fail(w, r, log.OpRead, core.Invalid("report", "unsupported report type "+kind))
		return
	}

	ym := strings.TrimSpace(body.YearMonth)
	if ym == "" {
		ym = s.now().UTC().Format("2006-01")
	}
	first, err := core.ParseYearMonth(ym)
	if err != nil {
		s.fail(w, r, log.OpRead, core.Invalid("report", "year_month must be formatted as YYYY-MM"))
		return
	}
	ov, err := s.svc.Query.MonthOverview(r.Context(), first.Year(), int(first.Month()))
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}

	view := expensesByCategoryView{
		Type:         kind,
		YearMonth:    ym,
		TotalOutflow: money(ov.Outflow),
		Categories:   []categoryAmountView{},
	}
	for _, c := range ov.ByCategory {
		if c.Amount.IsNegative() {
			view.Categories = append(view.Categories, categoryAmountView{
				CategoryID: c.CategoryID,
				Name:       c.Name,
				Amount:     money(c.Amount.Neg()),
			})
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleMonthOverview(w http.ResponseWriter, r *http.Request) {
	mp, err := ParseMonthParams(r.URL.Query(), s.now().UTC())
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	ov, err := s.svc.Query.MonthOverview(r.Context(), mp.Year, mp.Month)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newOverviewView(ov))
}

func (s *Server) handleBudgetReport(w http.ResponseWriter, r *http.Request) {
	ym := strings.TrimSpace(r.URL.Query().Get("year_month"))
	if ym == "" {
		ym = s.now().UTC().Format("2006-01")
	}
	rep, err := s.svc.Query.BudgetReport(r.Context(), ym)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, newBudgetReportView(rep))
}
