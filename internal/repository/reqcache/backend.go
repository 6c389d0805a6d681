package reqcache

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/kgbrowse/internal/domain/group"
	"github.com/kailas-cloud/kgbrowse/internal/domain/instance"
	"github.com/kailas-cloud/kgbrowse/internal/domain/search"
	"github.com/kailas-cloud/kgbrowse/internal/domain/settings"
)

// backend is the consumer interface for the wrapped KG API client (ISP).
type backend interface {
	Settings(ctx context.Context) (settings.Settings, error)
	Groups(ctx context.Context) ([]group.Option, error)
	Search(ctx context.Context, req search.Request) (search.Response, error)
	Instance(ctx context.Context, group, id string) (*instance.Instance, error)
	Favorites(ctx context.Context) ([]string, error)
}

// Backend caches the identity-sensitive KG API calls of one session.
// Settings are public and always fetched.
type Backend struct {
	inner backend
	cache *Cache
}

// NewBackend wraps inner with cache.
func NewBackend(inner backend, cache *Cache) *Backend {
	return &Backend{inner: inner, cache: cache}
}

// Settings fetches the settings document.
func (b *Backend) Settings(ctx context.Context) (settings.Settings, error) {
	s, err := b.inner.Settings(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// Groups returns the groups visible to the current identity.
func (b *Backend) Groups(ctx context.Context) ([]group.Option, error) {
	return Do(ctx, b.cache, TagGroups, "groups", b.inner.Groups)
}

// Search runs a search request.
func (b *Backend) Search(ctx context.Context, req search.Request) (search.Response, error) {
	return Do(ctx, b.cache, TagSearch, req.CacheKey(), func(ctx context.Context) (search.Response, error) {
		return b.inner.Search(ctx, req)
	})
}

// Instance fetches an instance of a group.
func (b *Backend) Instance(ctx context.Context, g, id string) (*instance.Instance, error) {
	return Do(ctx, b.cache, TagInstance, g+"/"+id, func(ctx context.Context) (*instance.Instance, error) {
		return b.inner.Instance(ctx, g, id)
	})
}

// Favorites returns the bookmarked instance ids of the current identity.
func (b *Backend) Favorites(ctx context.Context) ([]string, error) {
	return Do(ctx, b.cache, TagFavorites, "favorites", b.inner.Favorites)
}

// InvalidateIdentity drops every identity-sensitive entry.
func (b *Backend) InvalidateIdentity(ctx context.Context) error {
	return b.cache.InvalidateTags(ctx, IdentitySensitive...)
}
