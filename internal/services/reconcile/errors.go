package reconcile

import "errors"

var (
	// ErrInvalidOrderLine rejects a line before any state is touched.
	ErrInvalidOrderLine = errors.New("invalid order line")
	// ErrInvalidQuantity is a quantity RoundToPack cannot round: non-positive
	// or above MaxRoundable.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrSequenceExhausted means a release-order counter passed 999. The line
	// is not marked processed and may be retried.
	ErrSequenceExhausted = errors.New("sequence exhausted")
	// ErrStateUnavailable is any failure of the engine's state store. It is
	// fatal to the batch.
	ErrStateUnavailable = errors.New("engine state unavailable")
)

// IsLineLocal reports whether err affects only the line that produced it,
// so a batch may continue with the next line.
func IsLineLocal(err error) bool {
	if err == nil || errors.Is(err, ErrStateUnavailable) {
		return false
	}
	return errors.Is(err, ErrInvalidOrderLine) ||
		errors.Is(err, ErrSequenceExhausted) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsRetryable reports whether reprocessing the same line later may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSequenceExhausted) || errors.Is(err, ErrStateUnavailable)
}
