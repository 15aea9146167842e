// Package session implements the identity, role, and session-continuity
// core: token persistence, background refresh, role-simulation overlay,
// and the coordinator state machine that composes them into one
// observable auth state.
package session

import (
	"errors"
	"time"
)

var (
	// ErrNoSession indicates no usable session token is stored.
	ErrNoSession = errors.New("session: no session")
	// ErrInvalidSnapshot indicates a simulation snapshot is missing
	// required fields.
	ErrInvalidSnapshot = errors.New("session: invalid simulation snapshot")
	// ErrSimulationInactive is returned when stopping without an active
	// simulation.
	ErrSimulationInactive = errors.New("session: simulation not active")
)

// Identity describes the current real actor. It is replaced wholesale on
// sign-in and sign-out; only DisplayName may be refined once directory
// data arrives.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
