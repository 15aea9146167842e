package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientGetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/session" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(Session{
			UserID: "u-1",
			Email:  "ops@example.com",
			Token:  Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: 123},
		})
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL, "key-1").GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session == nil || session.UserID != "u-1" || !session.Token.Valid() {
		t.Fatalf("unexpected session: %#v", session)
	}
}

func TestClientGetSessionAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	session, err := NewClient(srv.URL, "").GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session != nil {
		t.Fatalf("expected absent session, got %#v", session)
	}
}

func TestClientRefreshSessionRejectsIncompleteToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Token{AccessToken: "at"})
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, "").RefreshSession(context.Background(), "rt"); err == nil {
		t.Fatal("expected error for incomplete token")
	}
}

func TestClientSubscribeAuthEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") != "0" {
			json.NewEncoder(w).Encode(map[string]any{"events": []Event{}, "next": 1})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"events": []Event{{Kind: EventTokenRefreshed, Session: &Session{UserID: "u-1"}}},
			"next":   1,
		})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := NewClient(srv.URL, "", WithPollInterval(10*time.Millisecond)).SubscribeAuthEvents(ctx)
	select {
	case evt := <-events:
		if evt.Kind != EventTokenRefreshed || evt.Session == nil || evt.Session.UserID != "u-1" {
			t.Fatalf("unexpected event: %#v", evt)
		}
	case <-ctx.Done():
		t.Fatal("no event delivered before deadline")
	}
}
