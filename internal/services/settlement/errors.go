package settlement

import "errors"

var (
	// ErrUnknownCorrelation means a provider event references no known
	// donation or batch. Retries cannot manufacture a missing reference, so
	// callers log and discard.
	ErrUnknownCorrelation = errors.New("no record matches the provider correlation id")

	// ErrBatchNotCollectable means collection was requested for a batch that
	// is not PENDING or READY.
	ErrBatchNotCollectable = errors.New("batch is not in a collectable state")

	// ErrNoPaymentMethod means the batch's user has no collection customer or
	// payment method on file.
	ErrNoPaymentMethod = errors.New("user has no collection payment method configured")
)
