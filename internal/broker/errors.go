package broker

import "errors"

// Sentinel errors the classifier's pattern matching recognizes (internal/classify).
// Wrapped with fmt.Errorf("... %w", ...) by adapters so errors.Is still works
// alongside message-based classification for brokers that don't return typed errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrMarketClosed      = errors.New("market closed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrRejected          = errors.New("order rejected")
	ErrNotFound          = errors.New("order not found")
)
