// Package kv provides the replicated key/value persistence used by the
// session core: independent storage tiers written redundantly, read with a
// first-present-wins policy.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the key is absent from the tier.
	ErrNotFound = errors.New("kv: not found")
	// ErrMalformed indicates the tier holds a value that failed to
	// deserialize or verify; callers treat the tier as absent.
	ErrMalformed = errors.New("kv: malformed record")
)

// Tier is one independent key/value storage channel. Writes set or clear a
// full record atomically from the caller's point of view; no tier offers
// multi-key transactions.
type Tier interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}
