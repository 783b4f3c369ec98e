// Package http provides the JSON API server and its handlers.
//
// This file implements request decoding: JSON bodies into request types and
// query strings into filters, failing with core Invalid errors so handlers
// can map every parse problem to a 400.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"homebuh/internal/core"
	"homebuh/internal/transfer"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields, trailing data and bodies over 1MB are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return core.Invalid("decode body", "request body is required")
		case errors.As(err, &maxErr):
			return core.Invalid("decode body", "request body too large")
		default:
			return core.Invalid("decode body", "malformed JSON: "+err.Error())
		}
	}
	if dec.More() {
		return core.Invalid("decode body", "request body must contain a single JSON object")
	}
	return nil
}

type createAccountRequest struct {
	Name     string          `json:"name"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

func (req createAccountRequest) toDomain() core.NewAccount {
	return core.NewAccount{
		Name:           sanitizeInput(req.Name),
		OpeningBalance: req.Balance,
		Currency:       req.Currency,
	}
}

type transferRequest struct {
	FromAccountID  int64           `json:"from_account_id"`
	ToAccountID    int64           `json:"to_account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// toDomain requires both account ids and merges the Idempotency-Key header
// into the request. A header and body key that disagree are rejected.
func (req transferRequest) toDomain(header string) (transfer.Request, error) {
	if req.FromAccountID <= 0 {
		return transfer.Request{}, core.Invalid("transfer", "from_account_id is required")
	}
	if req.ToAccountID <= 0 {
		return transfer.Request{}, core.Invalid("transfer", "to_account_id is required")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if h := strings.TrimSpace(header); h != "" {
		if key != "" && key != h {
			return transfer.Request{}, core.Invalid("transfer", "Idempotency-Key header and idempotency_key field differ")
		}
		key = h
	}
	if len(key) > 255 {
		return transfer.Request{}, core.Invalid("transfer", "idempotency key too long (max 255 characters)")
	}
	return transfer.Request{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    sanitizeInput(req.Description),
		IdempotencyKey: key,
	}, nil
}

type createTransactionRequest struct {
	AccountID   int64           `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	CategoryID  *int64          `json:"category_id"`
}

func (req createTransactionRequest) toDomain() (core.NewTransaction, error) {
	if req.AccountID <= 0 {
		return core.NewTransaction{}, core.Invalid("post transaction", "account_id is required")
	}
	return core.NewTransaction{
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: sanitizeInput(req.Description),
		CategoryID:  req.CategoryID,
	}, nil
}

type createCategoryRequest struct {
	Name     string `json:"name"`
	ParentID *int64 `json:"parent_id"`
}

type createBudgetRequest struct {
	YearMonth  string          `json:"year_month"`
	CategoryID *int64          `json:"category_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type createPlannedRequest struct {
	Title      string          `json:"title"`
	Amount     decimal.Decimal `json:"amount"`
	DueDate    string          `json:"due_date"`
	Type       string          `json:"type"`
	CategoryID *int64          `json:"category_id"`
}

func (req createPlannedRequest) toDomain() (core.PlannedItem, error) {
	p := core.PlannedItem{
		Title:      sanitizeInput(req.Title),
		Amount:     req.Amount,
		Type:       core.PlannedType(strings.ToLower(strings.TrimSpace(req.Type))),
		CategoryID: req.CategoryID,
	}
	if p.Type == "" {
		p.Type = core.PlannedExpense
	}
	if raw := strings.TrimSpace(req.DueDate); raw != "" {
		due, err := parseDueDate(raw)
		if err != nil {
			return core.PlannedItem{}, err
		}
		p.DueDate = &due
	}
	return p, nil
}

// parseDueDate accepts YYYY-MM-DD or RFC 3339.
func parseDueDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, core.Invalid("create planned item", "due_date must be YYYY-MM-DD or RFC 3339")
}

type reportRequest struct {
	Type      string `json:"type"`
	YearMonth string `json:"year_month"`
}

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using the
// current month when both are absent. Supplying only one of them, or a
// value that is not a number, is an error.
func ParseMonthParams(query url.Values, now time.Time) (MonthParams, error) {
	ys := strings.TrimSpace(query.Get("year"))
	ms := strings.TrimSpace(query.Get("month"))
	if ys == "" && ms == "" {
		return MonthParams{Year: now.Year(), Month: int(now.Month())}, nil
	}
	if ys == "" || ms == "" {
		return MonthParams{}, core.Invalid("parse query", "year and month must be given together")
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return MonthParams{}, core.Invalid("parse query", "year must be a number")
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 1 || m > 12 {
		return MonthParams{}, core.Invalid("parse query", "month must be between 1 and 12")
	}
	return MonthParams{Year: y, Month: m}, nil
}

// parseIntParam reads an optional integer query parameter within [min, max].
func parseIntParam(query url.Values, name string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(query.Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, core.Invalid("parse query", fmt.Sprintf("%s must be an integer between %d and %d", name, min, max))
	}
	return n, nil
}

// parseTransactionFilter builds a ledger filter from account_id, year,
// month and limit. Month bounds apply only when year or month is given.
func parseTransactionFilter(query url.Values) (core.TransactionFilter, error) {
	var f core.TransactionFilter
	if raw := strings.TrimSpace(query.Get("account_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return f, core.Invalid("parse query", "account_id must be a positive integer")
		}
		f.AccountID = &id
	}
	if query.Get("year") != "" || query.Get("month") != "" {
		mp, err := ParseMonthParams(query, time.Time{})
		if err != nil {
			return f, err
		}
		f.Since, f.Until = core.MonthRange(mp.Year, mp.Month)
	}
	limit, err := parseIntParam(query, "limit", 0, 0, 1000)
	if err != nil {
		return f, err
	}
	f.Limit = limit
	return f, nil
}
