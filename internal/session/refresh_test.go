package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsdesk.org/internal/idp"
	"opsdesk.org/internal/kv"
)

type fakeGateway struct {
	mu           sync.Mutex
	session      *idp.Session
	sessionErr   error
	refreshed    idp.Token
	refreshErr   error
	refreshCalls int
	signOutCalls int

	getSessionCalls int
	events          chan idp.Event
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{events: make(chan idp.Event, 16)}
}

func (f *fakeGateway) GetSession(ctx context.Context) (*idp.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getSessionCalls++
	return f.session, f.sessionErr
}

func (f *fakeGateway) RefreshSession(ctx context.Context, refreshToken string) (idp.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.refreshed, f.refreshErr
}

func (f *fakeGateway) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return nil
}

func (f *fakeGateway) SubscribeAuthEvents(ctx context.Context) <-chan idp.Event {
	return f.events
}

func (f *fakeGateway) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

func TestTickRefreshesNearExpiry(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(kv.NewMemory())
	gw := newFakeGateway()
	gw.refreshed = idp.Token{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresAt: time.Now().Add(24 * time.Hour).Unix()}

	// Expires in 30 minutes, inside the one-hour threshold.
	if err := tokens.Save(ctx, idp.Token{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresAt: time.Now().Add(30 * time.Minute).Unix()}); err != nil {
		t.Fatal(err)
	}

	r := NewRefresher(tokens, gw)
	if err := r.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if gw.refreshCount() != 1 {
		t.Fatalf("expected one refresh call, got %d", gw.refreshCount())
	}
	got, err := tokens.Load(ctx)
	if err != nil || got != gw.refreshed {
		t.Fatalf("token not overwritten: %#v, %v", got, err)
	}
}

func TestTickSkipsDistantExpiry(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(kv.NewMemory())
	gw := newFakeGateway()

	// Expires in two hours, outside the threshold.
	if err := tokens.Save(ctx, idp.Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(2 * time.Hour).Unix()}); err != nil {
		t.Fatal(err)
	}

	r := NewRefresher(tokens, gw)
	if err := r.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if gw.refreshCount() != 0 {
		t.Fatalf("expected no refresh call, got %d", gw.refreshCount())
	}
}

func TestTickSkipsWithoutSession(t *testing.T) {
	gw := newFakeGateway()
	r := NewRefresher(NewTokenStore(kv.NewMemory()), gw)
	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("Tick without session must not fail: %v", err)
	}
	if gw.refreshCount() != 0 {
		t.Fatal("unexpected refresh call")
	}
}

func TestTickFailureKeepsOldToken(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokenStore(kv.NewMemory())
	gw := newFakeGateway()
	gw.refreshErr = errors.New("provider down")

	old := idp.Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(10 * time.Minute).Unix()}
	if err := tokens.Save(ctx, old); err != nil {
		t.Fatal(err)
	}

	r := NewRefresher(tokens, gw)
	if err := r.Tick(ctx); err == nil {
		t.Fatal("expected refresh error")
	}
	// A single failed refresh is not fatal: the old token stays for the
	// next tick.
	got, err := tokens.Load(ctx)
	if err != nil || got != old {
		t.Fatalf("old token lost: %#v, %v", got, err)
	}
}
