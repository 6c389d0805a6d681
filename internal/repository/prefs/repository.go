// Package prefs persists per-browser preferences (last group, theme, consent).
// Writes are last-writer-wins.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/kgbrowse/internal/db"
)

// Preferences are remembered across tabs and reloads of one browser.
type Preferences struct {
	Group   string `json:"group,omitempty"`
	Theme   string `json:"theme,omitempty"`
	Consent *bool  `json:"consent,omitempty"`
}

// store is the consumer interface for the preferences repository (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Repository stores preferences keyed by a browser id.
type Repository struct {
	store  store
	prefix string
}

// New creates a repository.
func New(s store, prefix string) *Repository {
	return &Repository{store: s, prefix: prefix}
}

func (r *Repository) key(browserID string) string {
	return r.prefix + "prefs:" + browserID
}

// Load returns the stored preferences. Unknown browsers get zero preferences.
func (r *Repository) Load(ctx context.Context, browserID string) (Preferences, error) {
	if browserID == "" {
		return Preferences{}, nil
	}
	data, err := r.store.Get(ctx, r.key(browserID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

// Save replaces the stored preferences.
func (r *Repository) Save(ctx context.Context, browserID string, p Preferences) error {
	if browserID == "" {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := r.store.Set(ctx, r.key(browserID), data); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Update loads, modifies and saves preferences.
func (r *Repository) Update(ctx context.Context, browserID string, fn func(p *Preferences)) (Preferences, error) {
	p, err := r.Load(ctx, browserID)
	if err != nil {
		return Preferences{}, err
	}
	fn(&p)
	if err := r.Save(ctx, browserID, p); err != nil {
		return Preferences{}, err
	}
	return p, nil
}

// Group returns the last selected group of a browser.
func (r *Repository) Group(ctx context.Context, browserID string) (string, error) {
	p, err := r.Load(ctx, browserID)
	if err != nil {
		return "", err
	}
	return p.Group, nil
}

// SetGroup remembers the selected group of a browser.
func (r *Repository) SetGroup(ctx context.Context, browserID, group string) error {
	_, err := r.Update(ctx, browserID, func(p *Preferences) { p.Group = group })
	return err
}
