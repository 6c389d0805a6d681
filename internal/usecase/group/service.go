// Package group holds the tenancy scope of a browser session.
package group

import (
	"slices"

	domgroup "github.com/kailas-cloud/kgbrowse/internal/domain/group"
)

// State is the group state. Group is always the default group or one of Groups.
type State struct {
	Group           string            `json:"group"`
	DefaultGroup    string            `json:"defaultGroup"`
	Groups          []domgroup.Option `json:"groups"`
	InitialGroup    string            `json:"-"`
	HasInitialGroup bool              `json:"-"`
	Loaded          bool              `json:"loaded"`
}

// Service owns the group state. Not safe for concurrent use.
type Service struct {
	state State
}

// NewService creates a service scoped to defaultGroup.
func NewService(defaultGroup string) *Service {
	if defaultGroup == "" {
		defaultGroup = domgroup.Public
	}
	return &Service{state: State{Group: defaultGroup, DefaultGroup: defaultGroup}}
}

// SetInitialGroup remembers the group requested by the URL or preferences until the
// group list is known.
func (s *Service) SetInitialGroup(g string) {
	if g == "" {
		return
	}
	s.state.InitialGroup = g
	s.state.HasInitialGroup = true
	if s.state.Loaded {
		s.applyInitial()
	}
}

// SetGroups replaces the available groups and re-validates the current one.
// It reports whether the current group changed.
func (s *Service) SetGroups(opts []domgroup.Option) bool {
	before := s.state.Group
	s.state.Groups = slices.Clone(opts)
	s.state.Loaded = true
	if s.state.HasInitialGroup {
		s.applyInitial()
	} else {
		s.state.Group = s.resolve(s.state.Group)
	}
	return s.state.Group != before
}

func (s *Service) applyInitial() {
	s.state.Group = s.resolve(s.state.InitialGroup)
	s.state.InitialGroup = ""
	s.state.HasInitialGroup = false
}

// SetGroup selects g. An unknown group resolves to the default one.
func (s *Service) SetGroup(g string) (changed bool) {
	if !s.state.Loaded {
		s.SetInitialGroup(g)
		return false
	}
	next := s.resolve(g)
	if next == s.state.Group {
		return false
	}
	s.state.Group = next
	return true
}

func (s *Service) resolve(g string) string {
	if g == s.state.DefaultGroup || domgroup.Contains(s.state.Groups, g) {
		return g
	}
	return s.state.DefaultGroup
}

// Reset returns to the default group and forgets the group list.
func (s *Service) Reset() (changed bool) {
	changed = s.state.Group != s.state.DefaultGroup
	s.state = State{Group: s.state.DefaultGroup, DefaultGroup: s.state.DefaultGroup}
	return changed
}

// Current returns the active group.
func (s *Service) Current() string { return s.state.Group }

// IsDefault reports whether the active group is the default one.
func (s *Service) IsDefault() bool { return s.state.Group == s.state.DefaultGroup }

// State returns a copy of the current state.
func (s *Service) State() State {
	st := s.state
	st.Groups = slices.Clone(s.state.Groups)
	return st
}
