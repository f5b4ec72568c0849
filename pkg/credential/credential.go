// Package credential owns the access credential used by sync sessions and
// refreshes it at most once at a time.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoCredential is returned when no token has ever been obtained.
	ErrNoCredential = errors.New("no credential available")

	// ErrStaticCredential is returned when a fixed token would need a refresh.
	ErrStaticCredential = errors.New("static credential cannot be refreshed")
)

// Credential is an access token with an optional expiry.
// A zero ExpiresAt means the token does not expire.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// IsZero reports whether the credential carries no token.
func (c Credential) IsZero() bool {
	return c.Token == ""
}

// Expired reports whether the credential is expired at now, treating it as
// expired skew before ExpiresAt.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// AuthError means no usable credential exists. It is the only credential
// failure surfaced to callers.
type AuthError struct {
	Identity string
	Err      error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Identity != "" {
		return fmt.Sprintf("auth error for %q: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("auth error: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// StaticProvider serves a fixed access token and cannot refresh it.
type StaticProvider struct {
	Credential Credential
}

// Current returns the fixed credential.
func (p StaticProvider) Current() Credential {
	return p.Credential
}

// Refresh always fails.
func (p StaticProvider) Refresh(ctx context.Context) (Credential, error) {
	return Credential{}, ErrStaticCredential
}
