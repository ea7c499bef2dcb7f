package types

import "errors"

// Engine error taxonomy. All errors are synchronous and non-retryable by the
// engine itself; retry policy (e.g. re-fetching a stale quote) belongs to the
// calling service.
var (
	// ErrMathOverflow is returned when any checked arithmetic operation
	// overflows 64 bits or divides by zero. Always fatal to the current
	// operation, never retried automatically.
	ErrMathOverflow = errors.New("math overflow")

	// ErrInvalidPrice is returned for non-positive or economically
	// implausible prices, or when normalization produces a non-positive
	// value for a supposedly positive quote.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrStaleQuote is returned when an oracle quote is older than the
	// configured maximum age. The caller must refresh oracle input.
	ErrStaleQuote = errors.New("stale quote")

	// ErrInvalidQuote is returned when oracle feed data cannot be decoded.
	ErrInvalidQuote = errors.New("invalid oracle quote")

	// ErrInsufficientShares is returned when a withdrawal requests more
	// shares than outstanding or than the holder owns.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInsufficientBalance is returned when a withdrawal or rebalance
	// would release more of an asset than the vault holds.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Composition-time validation failures, raised before any mutation.
	ErrInvalidWeights    = errors.New("asset weights must all be positive and sum to 100")
	ErrInvalidAssetCount = errors.New("asset count must be between 1 and 10")
	ErrInvalidName       = errors.New("vault name must be 1-32 characters")

	// ErrInvalidAmount is returned for zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrUndefinedSharePrice is returned when TVL is zero or negative while
	// shares are outstanding. This indicates assets were lost or
	// undercounted and must never be papered over with a default price.
	ErrUndefinedSharePrice = errors.New("share price undefined: non-positive TVL with shares outstanding")

	// ErrUnauthorized is returned when a caller is not the configured
	// authority for a privileged operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInputMismatch is returned when parallel input slices (balances,
	// prices, decimals) disagree in length with the vault composition.
	ErrInputMismatch = errors.New("input slice lengths do not match composition")
)
