package session

import (
	"context"
	"errors"
	"time"

	"opsdesk.org/internal/idp"
	"opsdesk.org/internal/obs"
)

const (
	// refreshInterval is the cadence of the background refresh loop.
	refreshInterval = 30 * time.Minute
	// refreshThreshold renews tokens expiring within this window.
	refreshThreshold = time.Hour
)

// Refresher renews the session token before expiry. It runs only while a
// real (non-simulated) session is active; the coordinator tears it down on
// sign-out and simulation start.
type Refresher struct {
	tokens *TokenStore
	gw     idp.Gateway
	now    func() time.Time
}

// NewRefresher builds the scheduler over the token store and provider.
func NewRefresher(tokens *TokenStore, gw idp.Gateway) *Refresher {
	return &Refresher{tokens: tokens, gw: gw, now: time.Now}
}

// Tick performs one refresh pass. A failed refresh is logged and retried
// on the next tick; repeated failures eventually surface as an expired
// session on next use.
func (r *Refresher) Tick(ctx context.Context) error {
	token, err := r.tokens.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			obs.ObserveTokenRefresh("skipped")
			return nil
		}
		return err
	}
	if token.ExpiresAt > r.now().Unix()+int64(refreshThreshold.Seconds()) {
		obs.ObserveTokenRefresh("skipped")
		return nil
	}

	renewed, err := r.gw.RefreshSession(ctx, token.RefreshToken)
	if err != nil {
		obs.ObserveTokenRefresh("error")
		obs.LogEvent(map[string]any{
			"ts":    r.now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "token refresh failed",
			"error": err.Error(),
		})
		return err
	}
	if err := r.tokens.Save(ctx, renewed); err != nil {
		obs.ObserveTokenRefresh("error")
		return err
	}
	obs.ObserveTokenRefresh("ok")
	return nil
}

// Run ticks on the given interval until the context ends.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Tick(ctx)
		}
	}
}
