// Package http provides the JSON API server and its handlers.
//
// This file implements the Builder Pattern for JSON responses and the
// mapping from domain error kinds to HTTP status codes.

package http

import (
	"encoding/json"
	"net/http"

	"homebuh/internal/core"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	data       any
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Data sets the value encoded as the response body.
func (b *JSONResponseBuilder) Data(v any) *JSONResponseBuilder {
	b.data = v
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.data == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	body, err := json.Marshal(b.data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"kind":"unknown","message":"internal error","retryable":false}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(b.statusCode)
	_, _ = w.Write(append(body, '\n'))
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// statusForKind maps a domain error kind to its HTTP status.
func statusForKind(k core.Kind) int {
	switch k {
	case core.KindInvalidAmount, core.KindSameAccount, core.KindCurrencyMismatch,
		core.KindInsufficientFunds, core.KindInvalid:
		return http.StatusBadRequest
	case core.KindAccountNotFound, core.KindNotFound:
		return http.StatusNotFound
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse builds the error envelope for err. Persistence and unknown
// failures never leak their cause to the client.
func ErrorResponse(err error) *JSONResponseBuilder {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	msg := core.Message(err)
	if status == http.StatusInternalServerError {
		msg = "internal error"
		if kind == core.KindPersistence {
			msg = "persistence failure"
		}
	}
	b := NewJSONResponse().
		Status(status).
		Data(errorBody{Error: errorDetail{Kind: kind.String(), Message: msg, Retryable: kind.Retryable()}})
	if kind.Retryable() {
		b.Header("Retry-After", "1")
	}
	return b
}

// TooManyRequestsError creates a 429 response.
func TooManyRequestsError(retryAfter string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusTooManyRequests).
		Header("Retry-After", retryAfter).
		Data(errorBody{Error: errorDetail{Kind: "rate_limited", Message: "rate limit exceeded, try again later", Retryable: true}})
}
