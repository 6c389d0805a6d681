// Package session orchestrates the search, instance, group and auth state of one
// browser tab and keeps it in sync with the tab's location.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/domain/query"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/group"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/instance"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/search"
)

// ErrNotStarted is returned by actions on a session whose tab never reported its location.
var ErrNotStarted = fmt.Errorf("session not started: %w", domain.ErrInvalidArgument)

// Config holds per-session settings.
type Config struct {
	DefaultGroup string
	HitsPerPage  int
}

// Deps are the collaborators of one session.
type Deps struct {
	Backend Backend
	Auth    Authenticator
	// Prefs is optional.
	Prefs  GroupPreferences
	Logger *zap.Logger
	// Superseded counts discarded responses with label "kind". Optional.
	Superseded *prometheus.CounterVec
}

// Session is the state of one tab. Actions are serialized on the state, while
// fetches run without holding the lock so a newer action can supersede them.
type Session struct {
	id        string
	browserID string
	cfg       Config
	deps      Deps

	mu              sync.Mutex
	started         bool
	configured      bool
	search          *search.Machine
	instance        *instance.Navigator
	groups          *group.Service
	favorites       []string
	favoritesLoaded bool
	url             urlSync
	lastSeen        time.Time
}

// New creates a session. The auth machine's token-expired signal is bound to the
// identity invalidation of the backend cache.
func New(id, browserID string, cfg Config, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Session{
		id:        id,
		browserID: browserID,
		cfg:       cfg,
		deps:      deps,
		search:    search.New(cfg.HitsPerPage),
		instance:  instance.NewNavigator(),
		groups:    group.NewService(cfg.DefaultGroup),
		lastSeen:  time.Now(),
	}
	deps.Auth.OnTokenExpired(s.invalidateIdentity)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// BrowserID returns the browser the session was created for.
func (s *Session) BrowserID() string { return s.browserID }

// LoginState returns the nonce of a pending login.
func (s *Session) LoginState() string { return s.deps.Auth.LoginState() }

func (s *Session) invalidateIdentity(ctx context.Context) {
	if err := s.deps.Backend.InvalidateIdentity(ctx); err != nil {
		s.deps.Logger.Warn("Failed to invalidate identity-sensitive cache", zap.String("session", s.id), zap.Error(err))
	}
}

// Start bootstraps the session from the location the tab was loaded with. It may be
// called again after a reload of the same tab.
func (s *Session) Start(ctx context.Context, loc Location) (View, error) {
	s.mu.Lock()
	configured := s.configured
	s.mu.Unlock()

	if !configured {
		st, err := s.deps.Backend.Settings(ctx)
		if err != nil {
			return View{}, fmt.Errorf("load settings: %w", err)
		}
		s.mu.Lock()
		s.search.Configure(st.Types, st.HitsPerPage)
		s.configured = true
		s.mu.Unlock()
	}

	q := query.Parse(loc.Search)
	initialGroup, _ := q.Get(ParamGroup)
	if initialGroup == "" && s.deps.Prefs != nil {
		g, err := s.deps.Prefs.Group(ctx, s.browserID)
		if err != nil {
			s.deps.Logger.Warn("Failed to load group preference", zap.Error(err))
		}
		initialGroup = g
	}

	st := s.deps.Auth.Status()
	if st.IsUninitialized() || st.IsError() {
		if err := s.deps.Auth.Authenticate(ctx); err != nil {
			s.deps.Logger.Info("Authentication unavailable", zap.String("session", s.id), zap.Error(err))
		}
	}

	return s.run(ctx, false, func() error {
		s.started = true
		s.groups.SetInitialGroup(initialGroup)
		s.search.Initialize(q)
		s.instance.Reset()
		if id := loc.InstanceID(); id != "" {
			s.instance.Request(id, nil)
		}
		s.url.load(loc)
		return nil
	})
}

// PopState rebuilds the state from a location reached through browser navigation.
// Pending outbound writes are dropped and nothing is written back.
func (s *Session) PopState(ctx context.Context, loc Location) (View, error) {
	return s.act(ctx, func() error {
		q := query.Parse(loc.Search)
		g, _ := q.Get(ParamGroup)
		if g == "" {
			g = s.groups.State().DefaultGroup
		}
		if s.groups.SetGroup(g) {
			// Entries loaded under the previous group must not be restored.
			s.instance.Reset()
		}
		s.search.Sync(q)
		s.instance.SyncHistory(loc.InstanceID())
		s.url.popped(loc)
		return nil
	})
}

// View returns the current state without changing it.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(nil)
}

// SetQueryString changes the free-text query.
func (s *Session) SetQueryString(ctx context.Context, q string) (View, error) {
	return s.act(ctx, func() error {
		s.search.SetQueryString(q)
		s.url.mark()
		return nil
	})
}

// SelectType selects a search category.
func (s *Session) SelectType(ctx context.Context, typeID string) (View, error) {
	return s.act(ctx, func() error {
		if !s.search.SetType(typeID) {
			return fmt.Errorf("unknown type %q: %w", typeID, domain.ErrInvalidArgument)
		}
		s.url.mark()
		return nil
	})
}

// ToggleFacet adds or removes keywords of a facet of the selected type.
func (s *Session) ToggleFacet(ctx context.Context, name string, active bool, keywords ...string) (View, error) {
	return s.act(ctx, func() error {
		if !s.search.SetFacet(name, active, keywords...) {
			return fmt.Errorf("unknown facet %q: %w", name, domain.ErrInvalidArgument)
		}
		s.url.mark()
		return nil
	})
}

// SetFacetSize changes how many candidates a facet lists.
func (s *Session) SetFacetSize(ctx context.Context, name string, size int) (View, error) {
	return s.act(ctx, func() error {
		if !s.search.SetFacetSize(name, size) {
			return fmt.Errorf("unknown facet %q: %w", name, domain.ErrInvalidArgument)
		}
		return nil
	})
}

// ResetFacets clears every facet.
func (s *Session) ResetFacets(ctx context.Context) (View, error) {
	return s.act(ctx, func() error {
		s.search.ResetFacets()
		s.url.mark()
		return nil
	})
}

// SetPage moves to a result page.
func (s *Session) SetPage(ctx context.Context, page int) (View, error) {
	return s.act(ctx, func() error {
		s.search.SetPage(page)
		s.url.mark()
		return nil
	})
}

// Retry refetches after a retryable search or instance failure.
func (s *Session) Retry(ctx context.Context) (View, error) {
	return s.act(ctx, func() error {
		s.search.Retry()
		st := s.instance.State()
		if st.Failure != nil && st.Failure.Retryable {
			s.instance.Request(st.InstanceID, &instance.Context{Tab: st.Tab})
		}
		return nil
	})
}

// SelectGroup changes the tenancy scope. The instance is closed and pagination reset.
func (s *Session) SelectGroup(ctx context.Context, g string) (View, error) {
	v, err := s.act(ctx, func() error {
		if s.groups.SetGroup(g) {
			s.search.GroupChanged()
			s.instance.Reset()
			s.url.mark()
		}
		return nil
	})
	if err == nil && s.deps.Prefs != nil {
		if err := s.deps.Prefs.SetGroup(ctx, s.browserID, v.Group.Group); err != nil {
			s.deps.Logger.Warn("Failed to save group preference", zap.Error(err))
		}
	}
	return v, err
}

// OpenInstance shows an instance.
func (s *Session) OpenInstance(ctx context.Context, id string) (View, error) {
	if id == "" {
		return View{}, fmt.Errorf("empty instance id: %w", domain.ErrInvalidArgument)
	}
	return s.act(ctx, func() error {
		s.instance.Request(id, nil)
		s.url.mark()
		return nil
	})
}

// CloseInstance closes the open instance.
func (s *Session) CloseInstance(ctx context.Context) (View, error) {
	return s.act(ctx, func() error {
		s.instance.Reset()
		s.url.mark()
		return nil
	})
}

// SelectTab switches the sub-view of the open instance.
func (s *Session) SelectTab(ctx context.Context, tab string) (View, error) {
	return s.act(ctx, func() error {
		s.instance.SetTab(tab)
		return nil
	})
}

// Login starts a login and returns the provider URL to redirect to.
func (s *Session) Login(ctx context.Context) (string, error) {
	if err := s.ensureStarted(); err != nil {
		return "", err
	}
	u, err := s.deps.Auth.Login(ctx)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return u, nil
}

// CompleteLogin finishes a login with the provider callback parameters.
func (s *Session) CompleteLogin(ctx context.Context, state, code string) (View, error) {
	if err := s.ensureStarted(); err != nil {
		return View{}, err
	}
	if err := s.deps.Auth.CompleteLogin(ctx, state, code); err != nil {
		return View{}, fmt.Errorf("complete login: %w", err)
	}
	return s.act(ctx, func() error { return nil })
}

// Logout signs out, then continues anonymously with the instance closed.
func (s *Session) Logout(ctx context.Context) (View, error) {
	if err := s.ensureStarted(); err != nil {
		return View{}, err
	}
	if err := s.deps.Auth.Logout(ctx); err != nil {
		return View{}, fmt.Errorf("logout: %w", err)
	}
	if err := s.deps.Auth.Authenticate(ctx); err != nil {
		s.deps.Logger.Info("Authentication unavailable after logout", zap.String("session", s.id), zap.Error(err))
	}
	return s.act(ctx, s.dropIdentityLocked)
}

// ContinueAnonymously leaves an expired or failed login for anonymous browsing.
func (s *Session) ContinueAnonymously(ctx context.Context) (View, error) {
	if err := s.ensureStarted(); err != nil {
		return View{}, err
	}
	if err := s.deps.Auth.ContinueAnonymously(); err != nil {
		return View{}, fmt.Errorf("continue anonymously: %w", err)
	}
	return s.act(ctx, s.dropIdentityLocked)
}

// dropIdentityLocked resets everything that belonged to the previous identity.
func (s *Session) dropIdentityLocked() error {
	s.groups.Reset()
	s.search.GroupChanged()
	s.instance.Reset()
	s.favorites = nil
	s.favoritesLoaded = false
	s.url.mark()
	return nil
}

func (s *Session) ensureStarted() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// act applies mutate to a started session, fetches what became stale and flushes
// the location once.
func (s *Session) act(ctx context.Context, mutate func() error) (View, error) {
	return s.run(ctx, true, mutate)
}

func (s *Session) run(ctx context.Context, requireStarted bool, mutate func() error) (View, error) {
	s.mu.Lock()
	if requireStarted && !s.started {
		s.mu.Unlock()
		return View{}, ErrNotStarted
	}
	s.lastSeen = time.Now()
	if err := mutate(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	defer s.mu.Unlock()
	s.fetchLocked(ctx)
	return s.viewLocked(s.url.flush(s.locationLocked())), nil
}

// locationLocked renders the state as a browser location.
func (s *Session) locationLocked() Location {
	q := s.search.ToQuery(query.Parse(s.url.current.Search))

	gs := s.groups.State()
	g := gs.Group
	if gs.HasInitialGroup {
		g = gs.InitialGroup
	}
	q = query.Update(q, ParamGroup, g != gs.DefaultGroup, g, false)

	loc := Location{Search: q.Encode()}
	if id := s.instance.State().InstanceID; id != "" {
		loc.Hash = "#" + id
	}
	return loc
}

func (s *Session) viewLocked(nav *Navigation) View {
	gs := s.groups.State()
	v := View{
		SessionID:  s.id,
		Search:     newSearchView(s.search.State()),
		Instance:   newInstanceView(s.instance.State()),
		Group:      GroupView{Group: gs.Group, DefaultGroup: gs.DefaultGroup, Groups: gs.Groups},
		Auth:       s.deps.Auth.Status(),
		Favorites:  append([]string{}, s.favorites...),
		Navigation: nav,
	}
	return v
}

// Location returns the location last written to or reported by the tab.
func (s *Session) Location() Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url.current
}

// LastSeen returns when the session last handled an action.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func isUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized)
}
