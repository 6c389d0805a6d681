// Package keycloak adapts a Keycloak realm to the auth provider contract using the
// OAuth2 authorization-code flow.
package keycloak

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/auth"
)

// Config holds the realm and client settings.
type Config struct {
	URL          string
	Realm        string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration
	Logger       *zap.Logger
}

// Provider implements auth.Provider for a Keycloak realm.
type Provider struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu        sync.RWMutex
	oauth     *oauth2.Config
	logoutURL string
}

var _ auth.Provider = (*Provider)(nil)

// NewProvider creates a provider. It is unusable until Init succeeds.
func NewProvider(cfg Config) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"openid", "profile"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

// Configured reports whether a realm and client are set.
func (p *Provider) Configured() bool {
	return p.cfg.URL != "" && p.cfg.Realm != "" && p.cfg.ClientID != ""
}

func (p *Provider) realmURL() string {
	return strings.TrimRight(p.cfg.URL, "/") + "/realms/" + url.PathEscape(p.cfg.Realm)
}

// Init loads the realm's OpenID discovery document. Calling it again refreshes the
// endpoints.
func (p *Provider) Init(ctx context.Context) error {
	if !p.Configured() {
		return domain.ErrLoginNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.realmURL()+"/.well-known/openid-configuration", http.NoBody)
	if err != nil {
		return fmt.Errorf("build discovery request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("discovery: %w", errors.Join(domain.ErrUnavailable, err))
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read discovery: %w", errors.Join(domain.ErrUnavailable, err))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discovery: %w", domain.NewStatusError(resp.StatusCode))
	}
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("discovery: %w", domain.ErrMalformed)
	}

	doc := gjson.ParseBytes(raw)
	authURL := doc.Get("authorization_endpoint").String()
	tokenURL := doc.Get("token_endpoint").String()
	if authURL == "" || tokenURL == "" {
		return fmt.Errorf("discovery without endpoints: %w", domain.ErrMalformed)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.oauth = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		RedirectURL:  p.cfg.RedirectURL,
		Scopes:       p.cfg.Scopes,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
	}
	p.logoutURL = doc.Get("end_session_endpoint").String()
	p.logger.Info("Login provider initialized", zap.String("realm", p.cfg.Realm))
	return nil
}

func (p *Provider) config() (*oauth2.Config, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.oauth == nil {
		return nil, errors.New("login provider not initialized")
	}
	return p.oauth, nil
}

// LoginURL returns the realm login page for state. Empty before Init.
func (p *Provider) LoginURL(state string) string {
	cfg, err := p.config()
	if err != nil {
		return ""
	}
	return cfg.AuthCodeURL(state)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}

// Exchange trades an authorization code for tokens.
func (p *Provider) Exchange(ctx context.Context, code string) (*auth.Identity, error) {
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	return identity(tok), nil
}

// Refresh renews the tokens of id using its refresh token.
func (p *Provider) Refresh(ctx context.Context, id auth.Identity) (*auth.Identity, error) {
	if id.RefreshToken == "" {
		return nil, fmt.Errorf("refresh: no refresh token: %w", domain.ErrTokenExpired)
	}
	cfg, err := p.config()
	if err != nil {
		return nil, err
	}
	stale := &oauth2.Token{RefreshToken: id.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := cfg.TokenSource(p.clientContext(ctx), stale).Token()
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	renewed := identity(tok)
	if renewed.UserID == "" {
		renewed.UserID = id.UserID
	}
	return renewed, nil
}

// Logout ends the realm session of id.
func (p *Provider) Logout(ctx context.Context, id auth.Identity) error {
	p.mu.RLock()
	endpoint := p.logoutURL
	p.mu.RUnlock()
	if endpoint == "" || id.RefreshToken == "" {
		return nil
	}

	form := url.Values{
		"client_id":     {p.cfg.ClientID},
		"refresh_token": {id.RefreshToken},
	}
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", errors.Join(domain.ErrUnavailable, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout: %w", domain.NewStatusError(resp.StatusCode))
	}
	return nil
}

func identity(tok *oauth2.Token) *auth.Identity {
	id := &auth.Identity{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		id.UserID = subject(raw)
	}
	if id.UserID == "" {
		id.UserID = subject(tok.AccessToken)
	}
	return id
}

// subject reads the "sub" claim of a JWT received directly from the token endpoint.
// The signature is not checked; the claim is only used for display and logging.
func subject(jwt string) string {
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	claims := gjson.ParseBytes(payload)
	if u := claims.Get("preferred_username").String(); u != "" {
		return u
	}
	return claims.Get("sub").String()
}
