package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homebuh/internal/core"
)

func TestJSONResponseBuilder(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Test", "yes").
		Data(map[string]int{"id": 7}).
		Write(w)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "yes", w.Header().Get("X-Test"))
	assert.JSONEq(t, `{"id":7}`, w.Body.String())
}

func TestJSONResponseBuilderWithoutBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestJSONResponseBuilderUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Data(map[string]any{"f": func() {}}).Write(w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestErrorResponseMapping(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		kind      string
		message   string
		retryable bool
	}{
		{core.InvalidAmount("transfer", "amount must be greater than zero"), http.StatusBadRequest, "invalid_amount", "amount must be greater than zero", false},
		{core.SameAccount("transfer", 1), http.StatusBadRequest, "same_account", "source and destination must differ (account 1)", false},
		{core.CurrencyMismatch("transfer", "USD", "EUR"), http.StatusBadRequest, "currency_mismatch", "currency EUR does not match account currency USD", false},
		{core.InsufficientFunds("transfer", 2), http.StatusBadRequest, "insufficient_funds", "insufficient funds in account 2", false},
		{core.Invalid("decode body", "bad"), http.StatusBadRequest, "invalid_request", "bad", false},
		{core.AccountNotFound("transfer", 9), http.StatusNotFound, "account_not_found", "account 9 not found", false},
		{core.NotFound("get category", "category", 4), http.StatusNotFound, "not_found", "category 4 not found", false},
		{core.Conflict("transfer", "version moved", nil), http.StatusConflict, "conflict", "version moved", true},
		{core.Persistence("append", errors.New("disk I/O error: /var/lib/x")), http.StatusInternalServerError, "persistence_failure", "persistence failure", false},
		{fmt.Errorf("wrapped: %w", errors.New("driver exploded")), http.StatusInternalServerError, "persistence_failure", "persistence failure", false},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.message, func(t *testing.T) {
			w := httptest.NewRecorder()
			ErrorResponse(tt.err).Write(w)

			require.Equal(t, tt.status, w.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Error.Kind)
			assert.Equal(t, tt.message, body.Error.Message)
			assert.Equal(t, tt.retryable, body.Error.Retryable)
			assert.NotContains(t, w.Body.String(), "disk I/O")
			if tt.retryable {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			} else {
				assert.Empty(t, w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestTooManyRequestsError(t *testing.T) {
	w := httptest.NewRecorder()
	TooManyRequestsError("60").Write(w)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}
