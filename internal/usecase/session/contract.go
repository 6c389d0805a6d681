package session

import (
	"context"

	"github.com/kailas-cloud/kgbrowse/internal/domain/group"
	"github.com/kailas-cloud/kgbrowse/internal/domain/instance"
	"github.com/kailas-cloud/kgbrowse/internal/domain/search"
	"github.com/kailas-cloud/kgbrowse/internal/domain/settings"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/auth"
)

// Backend fetches KG data for one session, through its request cache.
type Backend interface {
	Settings(ctx context.Context) (settings.Settings, error)
	Groups(ctx context.Context) ([]group.Option, error)
	Search(ctx context.Context, req search.Request) (search.Response, error)
	Instance(ctx context.Context, group, id string) (*instance.Instance, error)
	Favorites(ctx context.Context) ([]string, error)
	// InvalidateIdentity drops every cached response that depends on the identity.
	InvalidateIdentity(ctx context.Context) error
}

// Authenticator is the auth state machine of one session.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	Login(ctx context.Context) (string, error)
	LoginState() string
	CompleteLogin(ctx context.Context, state, code string) error
	Logout(ctx context.Context) error
	ContinueAnonymously() error
	Expire(ctx context.Context)
	Status() auth.Status
	OnTokenExpired(fn func(ctx context.Context))
}

// GroupPreferences remembers the last selected group per browser.
type GroupPreferences interface {
	Group(ctx context.Context, browserID string) (string, error)
	SetGroup(ctx context.Context, browserID, group string) error
}
