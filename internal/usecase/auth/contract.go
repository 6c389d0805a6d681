package auth

import (
	"context"
	"time"
)

// Identity is an authenticated user with its tokens.
type Identity struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Provider is the login provider adapter.
type Provider interface {
	// Configured reports whether the provider has everything needed to log in.
	Configured() bool
	// Init checks that the provider is reachable.
	Init(ctx context.Context) error
	// LoginURL returns the provider's login page for the given state nonce.
	LoginURL(state string) string
	// Exchange trades an authorization code for an identity.
	Exchange(ctx context.Context, code string) (*Identity, error)
	// Refresh renews the access token of id.
	Refresh(ctx context.Context, id Identity) (*Identity, error)
	// Logout ends the provider-side session of id.
	Logout(ctx context.Context, id Identity) error
}
