// Package services wires accounts, transfers, postings and reports over a
// ledger backend for the HTTP and CLI surfaces.
package services

import (
	"context"

	"homebuh/internal/amqp"
)

// TransferPublisher announces committed transfers. Implemented by *amqp.Client.
type TransferPublisher interface {
	PublishTransferCompleted(ctx context.Context, msg amqp.TransferCompletedMessage) error
}

// Invalidator drops derived read models after a mutation.
type Invalidator interface {
	Invalidate()
}

type nopInvalidator struct{}

func (nopInvalidator) Invalidate() {}
