package aigate

import "errors"

var (
	// ErrInvalidInput is returned for bad tenant IDs or quota types,
	// rejected before the store is touched
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAmount is returned for negative amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrStoreUnavailable is returned when the backing store fails or
	// times out; gate checks fail closed on it
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLimitExceeded is returned by Store.ReserveUsage when the
	// increment would cross the period ceiling. The gate translates it
	// into a denied Verdict; it never escapes to gate callers.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInvalidPeriod is returned for unknown period types
	ErrInvalidPeriod = errors.New("invalid period")
)
