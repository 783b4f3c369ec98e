package transfer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	base := 10 * time.Millisecond
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Millisecond},
		{1, 20 * time.Millisecond},
		{3, 80 * time.Millisecond},
		{10, maxBackoff},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exponentialBackoff(tt.attempt, base), "attempt %d", tt.attempt)
	}
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	a := Request{FromAccountID: 1, ToAccountID: 2, Amount: decimal.RequireFromString("10.00"), Currency: "usd"}
	b := Request{FromAccountID: 1, ToAccountID: 2, Amount: decimal.RequireFromString("10"), Currency: "USD "}
	assert.Equal(t, a.fingerprint(), b.fingerprint())

	c := b
	c.ToAccountID = 3
	assert.NotEqual(t, a.fingerprint(), c.fingerprint())
}
