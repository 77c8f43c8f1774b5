// Package auth holds the access token used by chatlink and attaches it to
// outbound operations.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenProvider supplies the current access token. Implementations must be
// safe for concurrent use and must not block.
type TokenProvider interface {
	// AccessToken returns the current token, or "" when unauthenticated.
	AccessToken() string
	// IsLoggedIn reports whether a usable token is present.
	IsLoggedIn() bool
}

// MemoryProvider keeps the token in memory and optionally mirrors it to a
// file so later CLI invocations reuse it.
type MemoryProvider struct {
	mu    sync.RWMutex
	token string
	path  string
	now   func() time.Time
}

// NewMemoryProvider creates a provider holding token (may be empty).
func NewMemoryProvider(token string) *MemoryProvider {
	return &MemoryProvider{token: token, now: time.Now}
}

// NewFileProvider creates a provider backed by path. A missing file means
// unauthenticated; any other read error is returned.
func NewFileProvider(path string) (*MemoryProvider, error) {
	p := &MemoryProvider{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("auth: read token file %q: %w", path, err)
	}
	p.token = strings.TrimSpace(string(data))
	return p, nil
}

// AccessToken returns the current token.
func (p *MemoryProvider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// IsLoggedIn is true when a token is present and, if it is a JWT carrying an
// exp claim, that claim lies in the future. Opaque tokens count as valid.
func (p *MemoryProvider) IsLoggedIn() bool {
	token := p.AccessToken()
	if token == "" {
		return false
	}
	exp, ok := ExpiresAt(token)
	if !ok {
		return true
	}
	return p.now().Before(exp)
}

// SetToken replaces the token (login). With a backing file the token is
// persisted with 0600 permissions.
func (p *MemoryProvider) SetToken(token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
	if p.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("auth: create token dir: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("auth: write token file: %w", err)
	}
	return nil
}

// Clear drops the token (logout). A backing file is removed.
func (p *MemoryProvider) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	if p.path == "" {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("auth: remove token file: %w", err)
	}
	return nil
}

// ExpiresAt returns the exp claim of a JWT without verifying its signature.
// The second result is false for opaque tokens or tokens without exp.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

var _ TokenProvider = (*MemoryProvider)(nil)
