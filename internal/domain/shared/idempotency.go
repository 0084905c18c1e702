package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed save tokens to prevent duplicate application
type IdempotencyStore interface {
	// MarkProcessed marks a token as processed with a TTL
	// Returns true if the token was newly marked, false if it was already processed
	MarkProcessed(ctx context.Context, token string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a token has already been processed
	IsProcessed(ctx context.Context, token string) (bool, error)

	// Remove releases a token so it can be marked again. Used to undo a
	// reservation when the operation it fenced did not go through.
	Remove(ctx context.Context, token string) error

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed tokens
	// After this duration, the same token is accepted again
	// Default: 24 hours
	TTL time.Duration

	// Enabled determines whether idempotency checking is enabled
	// Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
