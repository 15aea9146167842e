package kv

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"sync"
	"time"
)

var _ Tier = (*CookieJar)(nil)

// CookieJar is the signed-cookie tier. Values are stored as
// base64(value).base64(hmac-sha256) so a record tampered with (or written
// by another secret) fails verification and reads as malformed. The Path
// attribute scopes every record, mirroring cookie semantics.
type CookieJar struct {
	mu      sync.Mutex
	secret  []byte
	Path    string
	entries map[string]cookieEntry
	now     func() time.Time
}

type cookieEntry struct {
	raw       string
	path      string
	expiresAt time.Time
}

// NewCookieJar creates a signed tier scoped to path ("/" when empty).
func NewCookieJar(secret []byte, path string) *CookieJar {
	if path == "" {
		path = "/"
	}
	return &CookieJar{
		secret:  secret,
		Path:    path,
		entries: make(map[string]cookieEntry),
		now:     time.Now,
	}
}

func (c *CookieJar) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || entry.path != c.Path {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", ErrNotFound
	}
	value, err := c.verify(entry.raw)
	if err != nil {
		delete(c.entries, key)
		return "", err
	}
	return value, nil
}

func (c *CookieJar) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := cookieEntry{raw: c.sign(value), path: c.Path}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *CookieJar) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *CookieJar) sign(value string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString([]byte(value)) +
		"." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *CookieJar) verify(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 {
		return "", ErrMalformed
	}
	value, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformed
	}
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(value)
	if subtle.ConstantTimeCompare(sig, mac.Sum(nil)) != 1 {
		return "", ErrMalformed
	}
	return string(value), nil
}
