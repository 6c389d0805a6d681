package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
)

// --- Mocks ---

type mockProvider struct {
	configured  bool
	initErr     error
	exchangeFn  func(ctx context.Context, code string) (*Identity, error)
	refreshFn   func(ctx context.Context, id Identity) (*Identity, error)
	logoutErr   error
	logoutCalls int
	refreshes   int
}

func (m *mockProvider) Configured() bool { return m.configured }

func (m *mockProvider) Init(_ context.Context) error { return m.initErr }

func (m *mockProvider) LoginURL(state string) string {
	return "https://idp.example/auth?state=" + state
}

func (m *mockProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return &Identity{UserID: "u-" + code, AccessToken: "at", RefreshToken: "rt"}, nil
}

func (m *mockProvider) Refresh(ctx context.Context, id Identity) (*Identity, error) {
	m.refreshes++
	if m.refreshFn != nil {
		return m.refreshFn(ctx, id)
	}
	return nil, errors.New("refresh not configured")
}

func (m *mockProvider) Logout(_ context.Context, _ Identity) error {
	m.logoutCalls++
	return m.logoutErr
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// --- Helpers ---

func newTestMachine(t *testing.T, p *mockProvider) *Machine {
	t.Helper()
	return New(p, Options{})
}

func login(t *testing.T, m *Machine) {
	t.Helper()
	redirect, err := m.Login(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	state := redirect[strings.Index(redirect, "state=")+len("state="):]
	if err := m.CompleteLogin(context.Background(), state, "code"); err != nil {
		t.Fatalf("complete login: %v", err)
	}
}

// --- Tests ---

func TestAuthenticate_Anonymous(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := m.Status(); s.State != StateAnonymous || s.Error != "" {
		t.Errorf("status = %+v", s)
	}
}

func TestAuthenticate_NotConfigured(t *testing.T) {
	m := New(&mockProvider{}, Options{LoginRequired: true})
	err := m.Authenticate(context.Background())
	if !errors.Is(err, domain.ErrLoginNotConfigured) {
		t.Fatalf("expected ErrLoginNotConfigured, got %v", err)
	}
	s := m.Status()
	if !s.IsError() || s.Error != "login provider is not configured" || !s.LoginRequired {
		t.Errorf("status = %+v", s)
	}
}

func TestAuthenticate_InitFailure(t *testing.T) {
	p := &mockProvider{configured: true, initErr: errors.New("realm unreachable")}
	m := newTestMachine(t, p)
	if err := m.Authenticate(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s := m.Status(); !s.IsError() || !strings.Contains(s.Error, "realm unreachable") {
		t.Errorf("status = %+v", s)
	}

	// error -> authenticate is allowed again
	p.initErr = nil
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.Status().State != StateAnonymous {
		t.Errorf("state = %s", m.Status().State)
	}
}

func TestAuthenticate_DoesNotRefresh(t *testing.T) {
	p := &mockProvider{configured: true, refreshFn: func(context.Context, Identity) (*Identity, error) {
		t.Error("authenticate must not refresh")
		return &Identity{UserID: "alice"}, nil
	}}
	m := newTestMachine(t, p)
	if err := m.Authenticate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := m.Status(); s.State != StateAnonymous || s.UserID != "" {
		t.Errorf("status = %+v", s)
	}
}

func TestAuthenticate_IllegalWhenAuthenticated(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	_ = m.Authenticate(context.Background())
	err := m.Authenticate(context.Background())
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestLoginLogout_IllegalStates(t *testing.T) {
	ctx := context.Background()

	uninit := newTestMachine(t, &mockProvider{configured: true})
	if _, err := uninit.Login(ctx); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("login from uninitialized: %v", err)
	}
	if err := uninit.Logout(ctx); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("logout from uninitialized: %v", err)
	}

	failed := newTestMachine(t, &mockProvider{configured: true, initErr: errors.New("x")})
	_ = failed.Authenticate(ctx)
	if _, err := failed.Login(ctx); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("login from error: %v", err)
	}
	if err := failed.Logout(ctx); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("logout from error: %v", err)
	}
}

func TestCompleteLogin(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	_ = m.Authenticate(context.Background())
	login(t, m)

	s := m.Status()
	if !s.IsAuthenticated() || s.UserID != "u-code" || s.TokenExpired {
		t.Errorf("status = %+v", s)
	}
	if m.LoginState() != "" {
		t.Error("login state must be consumed")
	}
}

func TestCompleteLogin_StateMismatch(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	_ = m.Authenticate(context.Background())
	if _, err := m.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	err := m.CompleteLogin(context.Background(), "forged", "code")
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if m.Status().IsAuthenticated() {
		t.Error("forged state authenticated")
	}
}

func TestCompleteLogin_ExchangeFailure(t *testing.T) {
	p := &mockProvider{configured: true, exchangeFn: func(context.Context, string) (*Identity, error) {
		return nil, errors.New("invalid_grant")
	}}
	m := newTestMachine(t, p)
	_ = m.Authenticate(context.Background())
	redirect, _ := m.Login(context.Background())
	state := redirect[strings.Index(redirect, "state=")+len("state="):]

	err := m.CompleteLogin(context.Background(), state, "bad")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if m.Status().State != StateAnonymous {
		t.Errorf("state = %s", m.Status().State)
	}
}

func TestToken_FreshTokenNotRefreshed(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	p := &mockProvider{configured: true, exchangeFn: func(context.Context, string) (*Identity, error) {
		return &Identity{UserID: "u", AccessToken: "at", RefreshToken: "rt", Expiry: c.now.Add(time.Hour)}, nil
	}}
	m := New(p, Options{Now: c.Now})
	_ = m.Authenticate(context.Background())
	login(t, m)

	tok, err := m.Token(context.Background())
	if err != nil || tok != "at" {
		t.Fatalf("token=%q err=%v", tok, err)
	}
	if p.refreshes != 0 {
		t.Errorf("refreshes = %d", p.refreshes)
	}
}

func TestToken_RefreshWithinLeeway(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	p := &mockProvider{
		configured: true,
		exchangeFn: func(context.Context, string) (*Identity, error) {
			return &Identity{UserID: "u", AccessToken: "at", RefreshToken: "rt", Expiry: c.now.Add(10 * time.Second)}, nil
		},
		refreshFn: func(_ context.Context, id Identity) (*Identity, error) {
			return &Identity{AccessToken: "at2", RefreshToken: "rt2", Expiry: c.now.Add(time.Hour)}, nil
		},
	}
	m := New(p, Options{Now: c.Now, RefreshLeeway: 30 * time.Second})
	_ = m.Authenticate(context.Background())
	login(t, m)

	tok, err := m.Token(context.Background())
	if err != nil || tok != "at2" {
		t.Fatalf("token=%q err=%v", tok, err)
	}
	if s := m.Status(); s.UserID != "u" {
		t.Errorf("user id lost on refresh: %+v", s)
	}
}

func TestToken_RefreshFailureExpires(t *testing.T) {
	c := &clock{now: time.Unix(1000, 0)}
	p := &mockProvider{
		configured: true,
		exchangeFn: func(context.Context, string) (*Identity, error) {
			return &Identity{UserID: "u", AccessToken: "at", RefreshToken: "rt", Expiry: c.now}, nil
		},
	}
	m := New(p, Options{Now: c.Now})
	_ = m.Authenticate(context.Background())
	login(t, m)

	var fired int
	m.OnTokenExpired(func(context.Context) {
		fired++
		// Listeners run before Token returns and may read the machine.
		if !m.Status().TokenExpired {
			t.Error("signal not raised before listener")
		}
	})

	_, err := m.Token(context.Background())
	if !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if fired != 1 {
		t.Errorf("listener fired %d times", fired)
	}
	s := m.Status()
	if s.State != StateTokenExpired || !s.TokenExpired {
		t.Errorf("status = %+v", s)
	}
}

func TestToken_Anonymous(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	_ = m.Authenticate(context.Background())
	tok, err := m.Token(context.Background())
	if err != nil || tok != "" {
		t.Errorf("token=%q err=%v", tok, err)
	}
}

func TestExpire_RisingEdgeOnly(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	_ = m.Authenticate(context.Background())
	login(t, m)

	var fired int
	m.OnTokenExpired(func(context.Context) { fired++ })

	m.Expire(context.Background())
	m.Expire(context.Background())
	if fired != 1 {
		t.Errorf("fired = %d", fired)
	}

	if err := m.ContinueAnonymously(); err != nil {
		t.Fatalf("continue anonymously: %v", err)
	}
	if s := m.Status(); s.State != StateAnonymous || s.UserID != "" {
		t.Errorf("status = %+v", s)
	}

	// A new login clears the signal so the next expiry fires again.
	login(t, m)
	m.Expire(context.Background())
	if fired != 2 {
		t.Errorf("fired = %d", fired)
	}
}

func TestExpire_IgnoredWhenAnonymous(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	_ = m.Authenticate(context.Background())
	m.Expire(context.Background())
	if s := m.Status(); s.State != StateAnonymous || s.TokenExpired {
		t.Errorf("status = %+v", s)
	}
}

func TestContinueAnonymously_Illegal(t *testing.T) {
	m := newTestMachine(t, &mockProvider{configured: true})
	if err := m.ContinueAnonymously(); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	p := &mockProvider{configured: true, logoutErr: errors.New("idp down")}
	m := newTestMachine(t, p)
	_ = m.Authenticate(context.Background())
	login(t, m)

	var seen []State
	m.OnTokenExpired(func(context.Context) { seen = append(seen, m.Status().State) })

	if err := m.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if p.logoutCalls != 1 {
		t.Errorf("provider logout calls = %d", p.logoutCalls)
	}
	s := m.Status()
	if !s.IsUninitialized() || s.UserID != "" || !s.TokenExpired {
		t.Errorf("status = %+v", s)
	}
	if len(seen) != 1 || seen[0] != StateUninitialized {
		t.Errorf("listener saw %v", seen)
	}
}

func TestTransitionsMetric(t *testing.T) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "t"}, []string{"state"})
	m := New(&mockProvider{configured: true}, Options{Transitions: vec})
	_ = m.Authenticate(context.Background())

	if v := testutil.ToFloat64(vec.WithLabelValues(string(StateInitializing))); v != 1 {
		t.Errorf("initializing = %v", v)
	}
	if v := testutil.ToFloat64(vec.WithLabelValues(string(StateAnonymous))); v != 1 {
		t.Errorf("anonymous = %v", v)
	}
}
