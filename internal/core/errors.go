package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can tell "fix your request" from
// "try again" from "contact support".
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidAmount
	KindSameAccount
	KindAccountNotFound
	KindCurrencyMismatch
	KindInsufficientFunds
	KindConflict
	KindPersistence
	KindInvalid
	KindNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindInvalidAmount:     "invalid_amount",
	KindSameAccount:       "same_account",
	KindAccountNotFound:   "account_not_found",
	KindCurrencyMismatch:  "currency_mismatch",
	KindInsufficientFunds: "insufficient_funds",
	KindConflict:          "conflict",
	KindPersistence:       "persistence_failure",
	KindInvalid:           "invalid_request",
	KindNotFound:          "not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Retryable reports whether resubmitting the identical request may succeed.
func (k Kind) Retryable() bool {
	return k == KindConflict
}

// Error is the domain error carried across package boundaries.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidAmount     = &Error{Kind: KindInvalidAmount, Msg: "amount must be positive"}
	ErrSameAccount       = &Error{Kind: KindSameAccount, Msg: "source and destination must differ"}
	ErrAccountNotFound   = &Error{Kind: KindAccountNotFound, Msg: "account not found"}
	ErrCurrencyMismatch  = &Error{Kind: KindCurrencyMismatch, Msg: "currency mismatch"}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Msg: "insufficient funds"}
	ErrConflict          = &Error{Kind: KindConflict, Msg: "concurrent modification, retry the request"}
	ErrPersistence       = &Error{Kind: KindPersistence, Msg: "persistence failure"}
	ErrInvalid           = &Error{Kind: KindInvalid, Msg: "invalid request"}
	ErrNotFound          = &Error{Kind: KindNotFound, Msg: "not found"}
)

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func InvalidAmount(op, msg string) error { return newError(KindInvalidAmount, op, msg, nil) }

func SameAccount(op string, id int64) error {
	return newError(KindSameAccount, op, fmt.Sprintf("source and destination must differ (account %d)", id), nil)
}

func AccountNotFound(op string, id int64) error {
	return newError(KindAccountNotFound, op, fmt.Sprintf("account %d not found", id), nil)
}

func CurrencyMismatch(op, want, got string) error {
	return newError(KindCurrencyMismatch, op, fmt.Sprintf("currency %s does not match account currency %s", got, want), nil)
}

func InsufficientFunds(op string, id int64) error {
	return newError(KindInsufficientFunds, op, fmt.Sprintf("insufficient funds in account %d", id), nil)
}

func Conflict(op, msg string, err error) error { return newError(KindConflict, op, msg, err) }

func Persistence(op string, err error) error {
	return newError(KindPersistence, op, "persistence failure", err)
}

func Invalid(op, msg string) error { return newError(KindInvalid, op, msg, nil) }

func NotFound(op, what string, id int64) error {
	return newError(KindNotFound, op, fmt.Sprintf("%s %d not found", what, id), nil)
}

// KindOf extracts the Kind of err. Errors that are not domain errors are
// reported as KindPersistence: they came from somewhere below the domain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsRetryable reports whether err is a retryable domain error.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// Message returns the user-facing message of err without wrapped causes.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.String()
	}
	return "internal error"
}
