// Package idp adapts the external identity provider. The session core only
// consumes already-issued sessions; login and credential verification live
// entirely on the provider side.
package idp

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the provider could not be reached or answered
// with an unexpected status.
var ErrUnavailable = errors.New("idp: provider unavailable")

// Token is the session token triple issued by the provider. Only the
// expiry is interpreted by the session core; the opaque strings pass
// through to storage untouched.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Valid reports whether all three fields of the triple are present.
func (t Token) Valid() bool {
	return t.AccessToken != "" && t.RefreshToken != "" && t.ExpiresAt > 0
}

// Session is a live provider session with its owning identity.
type Session struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Token       Token     `json:"token"`
}

// EventKind enumerates the auth events delivered by the provider.
type EventKind string

const (
	EventInitialSession EventKind = "initial-session"
	EventSignedIn       EventKind = "signed-in"
	EventSignedOut      EventKind = "signed-out"
	EventTokenRefreshed EventKind = "token-refreshed"
)

// Event is one provider-side auth transition with the attached session,
// nil for signed-out.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session"`
}

// Gateway is the thin adapter consumed by the session coordinator.
// GetSession returns (nil, nil) when no session exists.
type Gateway interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (Token, error)
	SignOut(ctx context.Context) error
	SubscribeAuthEvents(ctx context.Context) <-chan Event
}
