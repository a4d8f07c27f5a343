package tokenbucket

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid.
	// Every construction-time error wraps it.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrZeroRate is returned when the rate is zero (time per token undefined)
	ErrZeroRate = errors.New("rate must be positive")

	// ErrRateTooHigh is returned when one token would cost less than a nanosecond
	ErrRateTooHigh = errors.New("rate exceeds one token per nanosecond")

	// ErrZeroBurst is returned when the burst capacity is zero
	ErrZeroBurst = errors.New("burst capacity must be positive")

	// ErrBurstOverflow is returned when burst × time per token does not fit in a time.Duration
	ErrBurstOverflow = errors.New("burst capacity overflows the representable duration")

	// ErrInvalidTokens is returned when a caller asks for zero tokens
	ErrInvalidTokens = errors.New("token count must be positive")

	// ErrExceedsBurst is returned when a request asks for more tokens than the
	// burst capacity. Such a request can never succeed, so it is not reported
	// as a plain rejection.
	ErrExceedsBurst = errors.New("token count exceeds burst capacity")

	// ErrInvalidKey is returned when the registry key is empty
	ErrInvalidKey = errors.New("rate limit key cannot be empty")
)
