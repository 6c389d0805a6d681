package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	domgroup "github.com/kailas-cloud/kgbrowse/internal/domain/group"
	dominstance "github.com/kailas-cloud/kgbrowse/internal/domain/instance"
	domsearch "github.com/kailas-cloud/kgbrowse/internal/domain/search"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/auth"
	"github.com/kailas-cloud/kgbrowse/internal/usecase/search"
)

type searchJob struct {
	ticket search.Ticket
	req    domsearch.Request
}

type instanceJob struct {
	id    string
	group string
}

// plan is the set of fetches one round of an action performs.
type plan struct {
	groups    bool
	favorites bool
	search    *searchJob
	instance  *instanceJob
}

func (p plan) pending() bool {
	return p.groups || p.favorites || p.search != nil || p.instance != nil
}

// identity reports whether the round only loads identity-scoped data.
func (p plan) identity() bool {
	return (p.groups || p.favorites) && p.search == nil && p.instance == nil
}

type result struct {
	groups       []domgroup.Option
	groupsErr    error
	favorites    []string
	favoritesErr error
	search       domsearch.Response
	searchErr    error
	instance     *dominstance.Instance
	instanceErr  error
}

// fetchAllowed reports whether data may be fetched in auth status st.
func fetchAllowed(st auth.Status) bool {
	switch st.State {
	case auth.StateInitializing, auth.StateLoggingOut:
		return false
	}
	return !st.LoginRequired || st.IsAuthenticated()
}

// planLocked decides what to fetch next. Identity-scoped data is loaded in a round
// of its own because it can change the active group.
func (s *Session) planLocked() plan {
	var p plan
	st := s.deps.Auth.Status()
	if st.IsAuthenticated() {
		p.groups = !s.groups.State().Loaded
		p.favorites = !s.favoritesLoaded
		if p.groups || p.favorites {
			return p
		}
	}
	if !fetchAllowed(st) {
		return p
	}
	g := s.groups.Current()
	if s.search.NeedsFetch() {
		p.search = &searchJob{ticket: s.search.Ticket(), req: s.search.Request(g)}
	}
	if s.instance.NeedsFetch() {
		p.instance = &instanceJob{id: s.instance.State().InstanceID, group: g}
	}
	return p
}

// fetchLocked runs planned rounds until nothing is pending. It is entered and left
// with mu held and releases it while fetching.
func (s *Session) fetchLocked(ctx context.Context) {
	p := s.planLocked()
	for round := 0; round < 2 && p.pending(); round++ {
		s.mu.Unlock()
		r := s.execute(ctx, p)
		s.mu.Lock()

		s.applyLocked(p, r)
		if !p.identity() {
			return
		}
		p = s.planLocked()
	}
}

// execute performs the planned fetches concurrently. Authorization errors expire
// the login before the results are applied.
func (s *Session) execute(ctx context.Context, p plan) result {
	var r result
	var g errgroup.Group
	if p.groups {
		g.Go(func() error {
			r.groups, r.groupsErr = s.deps.Backend.Groups(ctx)
			return nil
		})
	}
	if p.favorites {
		g.Go(func() error {
			r.favorites, r.favoritesErr = s.deps.Backend.Favorites(ctx)
			return nil
		})
	}
	if j := p.search; j != nil {
		g.Go(func() error {
			r.search, r.searchErr = s.deps.Backend.Search(ctx, j.req)
			return nil
		})
	}
	if j := p.instance; j != nil {
		g.Go(func() error {
			r.instance, r.instanceErr = s.deps.Backend.Instance(ctx, j.group, j.id)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range []error{r.groupsErr, r.favoritesErr, r.searchErr, r.instanceErr} {
		if isUnauthorized(err) {
			s.deps.Logger.Info("API rejected the session token", zap.String("session", s.id), zap.Error(err))
			s.deps.Auth.Expire(ctx)
			break
		}
	}
	return r
}

func (s *Session) applyLocked(p plan, r result) {
	if p.groups {
		if r.groupsErr != nil {
			s.deps.Logger.Warn("Failed to load groups", zap.String("session", s.id), zap.Error(r.groupsErr))
		}
		if s.groups.SetGroups(r.groups) {
			s.search.Invalidate()
			s.url.mark()
		}
	}
	if p.favorites {
		if r.favoritesErr != nil {
			s.deps.Logger.Warn("Failed to load favorites", zap.String("session", s.id), zap.Error(r.favoritesErr))
		}
		s.favorites = r.favorites
		s.favoritesLoaded = true
	}
	if j := p.search; j != nil {
		var applied bool
		if r.searchErr != nil {
			applied = s.search.ApplyFailure(j.ticket, r.searchErr)
		} else {
			applied = s.search.ApplyResults(j.ticket, r.search)
		}
		if !applied {
			s.superseded("search")
		}
	}
	if j := p.instance; j != nil {
		s.applyInstanceLocked(j, r.instance, r.instanceErr)
	}
}

func (s *Session) applyInstanceLocked(j *instanceJob, payload *dominstance.Instance, err error) {
	if s.instance.State().InstanceID != j.id || s.groups.Current() != j.group {
		s.superseded("instance")
		return
	}
	switch {
	case err != nil:
		s.instance.SetFailure(j.id, err, s.groups.IsDefault())
	case payload == nil:
		s.instance.SetFailure(j.id, fmt.Errorf("empty instance payload: %w", domain.ErrMalformed), s.groups.IsDefault())
	default:
		s.instance.SetInstance(payload)
	}
}

func (s *Session) superseded(kind string) {
	s.deps.Logger.Debug("Discarded superseded response", zap.String("session", s.id), zap.String("kind", kind))
	if s.deps.Superseded != nil {
		s.deps.Superseded.WithLabelValues(kind).Inc()
	}
}
