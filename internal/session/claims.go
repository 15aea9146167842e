package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodeIdentity extracts the identity carried in an access token payload
// without verifying the signature. The decode exists solely to seed a
// provisional identity before any network call; nothing privilege-gated
// may rely on it (the coordinator keeps permissions empty until the role
// resolver answers).
func DecodeIdentity(accessToken string) (Identity, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return Identity{}, fmt.Errorf("decode access token: %w", err)
	}

	id, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if id == "" || email == "" {
		return Identity{}, fmt.Errorf("decode access token: missing subject or email")
	}

	identity := Identity{ID: id, Email: email}
	if name, ok := claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if avatar, ok := claims["picture"].(string); ok {
		identity.AvatarURL = avatar
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.CreatedAt = iat.Time
	}
	return identity, nil
}

// TokenExpiry returns the exp claim of an access token without verifying
// the signature, zero when absent.
func TokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
