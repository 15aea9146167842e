package kv

import (
	"context"
	"errors"
	"time"
)

// Replicated composes independent tiers into one last-writer-wins store:
// writes and removals go to every tier, reads return the first present
// value in tier order. There is no transactional guarantee across tiers;
// redundancy plus periodic reconciliation stand in for one.
type Replicated struct {
	tiers []Tier
}

// NewReplicated composes tiers in read-priority order.
func NewReplicated(tiers ...Tier) *Replicated {
	return &Replicated{tiers: tiers}
}

// Tiers exposes the underlying tiers in read order.
func (r *Replicated) Tiers() []Tier {
	return r.tiers
}

// Get returns the first present value in tier order. Malformed records are
// removed from their tier and skipped.
func (r *Replicated) Get(ctx context.Context, key string) (string, error) {
	for _, tier := range r.tiers {
		value, err := tier.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrMalformed) {
			_ = tier.Remove(ctx, key)
		}
	}
	return "", ErrNotFound
}

// Set writes the value to every tier. The write succeeds if at least one
// tier accepted it; reconciliation repairs the rest.
func (r *Replicated) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var errs []error
	for _, tier := range r.tiers {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(r.tiers) {
		return errors.Join(errs...)
	}
	return nil
}

// Remove clears the key from every tier, attempting all of them even when
// one fails.
func (r *Replicated) Remove(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range r.tiers {
		if err := tier.Remove(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
