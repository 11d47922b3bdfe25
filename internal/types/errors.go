package types

import "errors"

// Sentinel errors for the execution engine.
var (
	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidParams = errors.New("invalid strategy parameters")

	// Pre-flight errors
	ErrSliceRejected = errors.New("slice rejected pre-flight")

	// Exchange errors
	ErrExchangeTransient   = errors.New("transient exchange error")
	ErrExchangeRejected    = errors.New("order rejected by exchange")
	ErrExchangeUnavailable = errors.New("exchange unavailable")

	// Data errors
	ErrStaleData       = errors.New("market data is stale")
	ErrDataUnavailable = errors.New("market data unavailable")

	// State errors
	ErrDuplicateOrder    = errors.New("duplicate client order id")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrTriggerExpired    = errors.New("trigger expired before firing")
)

// IsTransient reports whether an error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrExchangeTransient)
}
