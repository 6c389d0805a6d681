// Package auth implements the login state machine of a browser session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
)

// State is a state of the auth machine.
type State string

// Auth states.
const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
	StateTokenExpired  State = "token_expired"
	StateError         State = "error"
	StateLoggingOut    State = "logging_out"
)

// DefaultRefreshLeeway is how long before expiry an access token is renewed.
const DefaultRefreshLeeway = 30 * time.Second

// Status is a snapshot of the machine.
type Status struct {
	State         State  `json:"state"`
	Error         string `json:"error,omitempty"`
	LoginRequired bool   `json:"loginRequired"`
	UserID        string `json:"userId,omitempty"`
	TokenExpired  bool   `json:"tokenExpired"`
}

// IsUninitialized reports whether authentication has not started.
func (s Status) IsUninitialized() bool { return s.State == StateUninitialized }

// IsInitializing reports whether authentication is in progress.
func (s Status) IsInitializing() bool { return s.State == StateInitializing }

// IsError reports whether initialization failed.
func (s Status) IsError() bool { return s.State == StateError }

// IsAuthenticated reports whether a user is logged in.
func (s Status) IsAuthenticated() bool { return s.State == StateAuthenticated }

// Options configure a Machine.
type Options struct {
	LoginRequired bool
	RefreshLeeway time.Duration
	// Transitions counts transitions by target state. Optional.
	Transitions *prometheus.CounterVec
	Logger      *zap.Logger
	// Now is used for token expiry. Defaults to time.Now.
	Now func() time.Time
}

// Machine is the auth state machine. Safe for concurrent use.
// Provider round-trips happen without holding the lock.
type Machine struct {
	provider Provider
	opts     Options
	refresh  singleflight.Group

	mu           sync.Mutex
	state        State
	errMsg       string
	identity     *Identity
	tokenExpired bool
	loginState   string
	listeners    []func(ctx context.Context)
}

// New creates a machine in the uninitialized state.
func New(provider Provider, opts Options) *Machine {
	if opts.RefreshLeeway <= 0 {
		opts.RefreshLeeway = DefaultRefreshLeeway
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{provider: provider, opts: opts, state: StateUninitialized}
}

// OnTokenExpired registers fn to run whenever the token-expired signal is raised.
// Listeners run synchronously before the triggering call returns.
func (m *Machine) OnTokenExpired(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{
		State:         m.state,
		Error:         m.errMsg,
		LoginRequired: m.opts.LoginRequired,
		TokenExpired:  m.tokenExpired,
	}
	if m.identity != nil {
		s.UserID = m.identity.UserID
	}
	return s
}

// setState must be called with mu held.
func (m *Machine) setState(s State) {
	if m.state == s {
		return
	}
	m.opts.Logger.Debug("auth transition", zap.String("from", string(m.state)), zap.String("to", string(s)))
	m.state = s
	if m.opts.Transitions != nil {
		m.opts.Transitions.WithLabelValues(string(s)).Inc()
	}
}

// raiseTokenExpired must be called with mu held. It returns the listeners to notify
// when the signal rose.
func (m *Machine) raiseTokenExpired() []func(ctx context.Context) {
	if m.tokenExpired {
		return nil
	}
	m.tokenExpired = true
	return append([]func(ctx context.Context){}, m.listeners...)
}

func notify(ctx context.Context, listeners []func(ctx context.Context)) {
	for _, fn := range listeners {
		fn(ctx)
	}
}

func illegal(op string, s State) error {
	return fmt.Errorf("%s in state %s: %w", op, s, domain.ErrIllegalTransition)
}

// Authenticate initializes the provider. It is valid only from uninitialized or error
// and ends anonymous: an identity is only ever obtained through CompleteLogin.
func (m *Machine) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized && m.state != StateError {
		defer m.mu.Unlock()
		return illegal("authenticate", m.state)
	}
	if m.provider == nil || !m.provider.Configured() {
		m.errMsg = domain.ErrLoginNotConfigured.Error()
		m.setState(StateError)
		m.mu.Unlock()
		return domain.ErrLoginNotConfigured
	}
	m.errMsg = ""
	m.setState(StateInitializing)
	m.mu.Unlock()

	initErr := m.provider.Init(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateInitializing {
		return illegal("authenticate", m.state)
	}
	if initErr != nil {
		m.errMsg = initErr.Error()
		m.setState(StateError)
		return fmt.Errorf("init login provider: %w", initErr)
	}
	m.setState(StateAnonymous)
	return nil
}

func (m *Machine) loginAllowed(op string) error {
	switch m.state {
	case StateUninitialized, StateInitializing, StateError, StateLoggingOut:
		return illegal(op, m.state)
	}
	return nil
}

// Login starts the provider login and returns the URL to redirect the browser to.
func (m *Machine) Login(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loginAllowed("login"); err != nil {
		return "", err
	}
	if m.provider == nil || !m.provider.Configured() {
		return "", domain.ErrLoginNotConfigured
	}
	m.loginState = uuid.NewString()
	return m.provider.LoginURL(m.loginState), nil
}

// LoginState returns the nonce of the pending login, if any.
func (m *Machine) LoginState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginState
}

// CompleteLogin finishes a login started by Login.
func (m *Machine) CompleteLogin(ctx context.Context, state, code string) error {
	m.mu.Lock()
	if err := m.loginAllowed("complete login"); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.loginState == "" || state != m.loginState {
		m.mu.Unlock()
		return fmt.Errorf("login state mismatch: %w", domain.ErrInvalidArgument)
	}
	m.loginState = ""
	m.mu.Unlock()

	id, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", errors.Join(domain.ErrUnauthorized, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loginAllowed("complete login"); err != nil {
		return err
	}
	m.identity = id
	m.errMsg = ""
	m.tokenExpired = false
	m.setState(StateAuthenticated)
	return nil
}

// Token returns the access token to send to the API, renewing it when it is about to
// expire. Without a login it returns "". A failed renewal moves to token_expired.
func (m *Machine) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.identity == nil {
		m.mu.Unlock()
		return "", nil
	}
	id := *m.identity
	if id.Expiry.IsZero() || m.opts.Now().Add(m.opts.RefreshLeeway).Before(id.Expiry) {
		m.mu.Unlock()
		return id.AccessToken, nil
	}
	m.mu.Unlock()

	v, err, _ := m.refresh.Do(id.RefreshToken, func() (any, error) {
		return m.provider.Refresh(ctx, id)
	})
	if err != nil {
		m.opts.Logger.Warn("token refresh failed", zap.Error(err))
		m.expire(ctx, id.RefreshToken)
		return "", fmt.Errorf("refresh token: %w", domain.ErrTokenExpired)
	}
	renewed, _ := v.(*Identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated || m.identity == nil || m.identity.RefreshToken != id.RefreshToken {
		return "", fmt.Errorf("identity changed during refresh: %w", domain.ErrTokenExpired)
	}
	if renewed == nil {
		return id.AccessToken, nil
	}
	if renewed.UserID == "" {
		renewed.UserID = id.UserID
	}
	m.identity = renewed
	return renewed.AccessToken, nil
}

// Expire reacts to an authorization error from the API.
func (m *Machine) Expire(ctx context.Context) {
	m.expire(ctx, "")
}

// expire moves authenticated to token_expired. A non-empty refreshToken limits it to
// that identity.
func (m *Machine) expire(ctx context.Context, refreshToken string) {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.identity == nil ||
		(refreshToken != "" && m.identity.RefreshToken != refreshToken) {
		m.mu.Unlock()
		return
	}
	m.identity.AccessToken = ""
	m.setState(StateTokenExpired)
	listeners := m.raiseTokenExpired()
	m.mu.Unlock()

	notify(ctx, listeners)
}

// ContinueAnonymously leaves token_expired or error for anonymous browsing.
func (m *Machine) ContinueAnonymously() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateTokenExpired && m.state != StateError {
		return illegal("continue anonymously", m.state)
	}
	m.identity = nil
	m.errMsg = ""
	m.setState(StateAnonymous)
	return nil
}

// Logout signs the user out at the provider, then clears the identity and raises the
// token-expired signal. It ends in uninitialized.
func (m *Machine) Logout(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateUninitialized, StateInitializing, StateError, StateLoggingOut:
		defer m.mu.Unlock()
		return illegal("logout", m.state)
	}
	id := m.identity
	m.loginState = ""
	m.setState(StateLoggingOut)
	m.mu.Unlock()

	if id != nil {
		if err := m.provider.Logout(ctx, *id); err != nil {
			m.opts.Logger.Warn("provider logout failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.identity = nil
	listeners := m.raiseTokenExpired()
	m.setState(StateUninitialized)
	m.mu.Unlock()

	notify(ctx, listeners)
	return nil
}
