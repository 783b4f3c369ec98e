package amqp

import (
	"encoding/json"
	"time"
)

// TransferCompletedMessage announces a committed transfer. It carries ids
// only; consumers read the legs back from storage.
type TransferCompletedMessage struct {
	FromTxID      int64     `json:"from_tx_id"`
	ToTxID        int64     `json:"to_tx_id"`
	FromAccountID int64     `json:"from_account_id"`
	ToAccountID   int64     `json:"to_account_id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m *TransferCompletedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransferCompletedMessageFromJSON decodes a message body.
func TransferCompletedMessageFromJSON(data []byte) (*TransferCompletedMessage, error) {
	var msg TransferCompletedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
