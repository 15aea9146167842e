package session

import (
	"context"
	"encoding/json"
	"errors"

	"opsdesk.org/internal/idp"
	"opsdesk.org/internal/kv"
)

const tokenKey = "session.token"

// TokenStore is the typed accessor over the durable tier for the session
// token triple. A stored record missing any of its three fields reads as
// absent and is removed.
type TokenStore struct {
	tier kv.Tier
}

// NewTokenStore wraps the durable tier.
func NewTokenStore(tier kv.Tier) *TokenStore {
	return &TokenStore{tier: tier}
}

// Save persists the full token triple.
func (s *TokenStore) Save(ctx context.Context, token idp.Token) error {
	if !token.Valid() {
		return errors.New("session: refusing to store incomplete token")
	}
	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.tier.Set(ctx, tokenKey, string(data), 0)
}

// Load returns the stored token, or ErrNoSession when absent or
// incomplete.
func (s *TokenStore) Load(ctx context.Context) (idp.Token, error) {
	raw, err := s.tier.Get(ctx, tokenKey)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) || errors.Is(err, kv.ErrMalformed) {
			return idp.Token{}, ErrNoSession
		}
		return idp.Token{}, err
	}
	var token idp.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		_ = s.tier.Remove(ctx, tokenKey)
		return idp.Token{}, ErrNoSession
	}
	if !token.Valid() {
		_ = s.tier.Remove(ctx, tokenKey)
		return idp.Token{}, ErrNoSession
	}
	return token, nil
}

// Clear removes the stored token.
func (s *TokenStore) Clear(ctx context.Context) error {
	return s.tier.Remove(ctx, tokenKey)
}
