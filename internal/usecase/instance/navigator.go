// Package instance tracks the open detail record and the in-memory stack that
// browser back navigation walks.
package instance

import (
	"github.com/kailas-cloud/kgbrowse/internal/domain"
	dominstance "github.com/kailas-cloud/kgbrowse/internal/domain/instance"
)

// Entry is a previously displayed instance.
type Entry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tab   string `json:"tab"`
}

// Context carries navigation details that apply to the next payload only.
type Context struct {
	Tab string `json:"tab,omitempty"`
}

// Failure describes why the requested instance could not be shown.
type Failure struct {
	Kind      domain.Kind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	// Hint is set when the record may exist in a more privileged group.
	Hint string `json:"hint,omitempty"`
}

// State is the instance navigation state. InstanceID is the requested id;
// Data, when set, always carries the same id.
type State struct {
	InstanceID string
	Data       *dominstance.Instance
	Title      string
	Tab        string
	History    []Entry
	Context    *Context
	Failure    *Failure
}

// Navigator owns the instance state. Not safe for concurrent use.
type Navigator struct {
	state State
}

// NewNavigator creates a navigator with nothing open.
func NewNavigator() *Navigator {
	return &Navigator{}
}

// Request declares the intent to show id. It does not fetch.
func (n *Navigator) Request(id string, ctx *Context) {
	n.state.InstanceID = id
	n.state.Context = ctx
	n.state.Failure = nil
}

// SetInstance applies a fetched payload. A payload for another id than the requested
// one resets the whole state and returns false.
func (n *Navigator) SetInstance(payload *dominstance.Instance) bool {
	if payload == nil || payload.ID != n.state.InstanceID {
		n.Reset()
		return false
	}
	s := &n.state
	if prev := s.Data; prev != nil && prev.ID != payload.ID {
		s.History = append(s.History, Entry{ID: prev.ID, Title: prev.Title, Tab: s.Tab})
		s.Tab = ""
	}
	if s.Context != nil {
		s.Tab = s.Context.Tab
	}
	s.Data = payload
	s.Title = payload.Title
	s.Context = nil
	s.Failure = nil
	return true
}

// SetFailure records a failed fetch for id. Failures for other ids are dropped.
// The instance displayed until now is kept on the stack so back navigation can
// return to it. inDefaultGroup adds a hint to not-found failures.
func (n *Navigator) SetFailure(id string, err error, inDefaultGroup bool) bool {
	if id == "" || id != n.state.InstanceID {
		return false
	}
	s := &n.state
	if prev := s.Data; prev != nil && prev.ID != id {
		s.History = append(s.History, Entry{ID: prev.ID, Title: prev.Title, Tab: s.Tab})
		s.Tab = ""
	}
	s.Data = nil
	s.Failure = newFailure(err, inDefaultGroup)
	return true
}

func newFailure(err error, inDefaultGroup bool) *Failure {
	kind := domain.Classify(err)
	switch kind {
	case domain.KindNotFound:
		f := &Failure{Kind: kind, Message: "The requested instance could not be found."}
		if inDefaultGroup {
			f.Hint = "It may exist in another group. Please log in or switch the group."
		}
		return f
	case domain.KindNoData:
		return &Failure{Kind: kind, Message: "No data available."}
	case domain.KindUnauthorized:
		return &Failure{Kind: kind, Message: "Your session has expired. Please log in again.", Retryable: true}
	default:
		return &Failure{
			Kind:      domain.KindUnavailable,
			Message:   "The service is temporarily not available. Please retry in a moment.",
			Retryable: true,
		}
	}
}

// SyncHistory rebuilds the state for the id found in the URL after browser navigation.
//
// An empty target closes the instance. Otherwise entries are popped until the target is
// found; it becomes current with its stored title and tab, and its data must be
// fetched again. When the stack runs out the target is opened as a fresh navigation.
func (n *Navigator) SyncHistory(targetID string) {
	if targetID == "" {
		n.Reset()
		return
	}
	s := &n.state
	if targetID == s.InstanceID {
		return
	}
	if s.Data != nil && s.Data.ID == targetID {
		// Back from a request that never loaded; the displayed data is still current.
		s.InstanceID = targetID
		s.Context = nil
		s.Failure = nil
		return
	}
	for len(s.History) > 0 {
		e := s.History[len(s.History)-1]
		s.History = s.History[:len(s.History)-1]
		if e.ID == targetID {
			s.InstanceID = e.ID
			s.Title = e.Title
			s.Tab = e.Tab
			s.Context = &Context{Tab: e.Tab}
			s.Data = nil
			s.Failure = nil
			return
		}
	}
	s.InstanceID = targetID
	s.Title = ""
	s.Tab = ""
	s.Context = nil
	s.Data = nil
	s.Failure = nil
}

// SetTab switches the sub-view of the open instance.
func (n *Navigator) SetTab(tab string) {
	n.state.Tab = tab
	n.state.Context = nil
}

// Reset closes the instance and forgets the stack.
func (n *Navigator) Reset() {
	n.state = State{}
}

// IsOpen reports whether an instance is requested.
func (n *Navigator) IsOpen() bool {
	return n.state.InstanceID != ""
}

// NeedsFetch reports whether the requested instance still has to be fetched.
func (n *Navigator) NeedsFetch() bool {
	s := &n.state
	return s.InstanceID != "" && s.Failure == nil && (s.Data == nil || s.Data.ID != s.InstanceID)
}

// State returns a copy of the current state.
func (n *Navigator) State() State {
	s := n.state
	s.History = append([]Entry(nil), n.state.History...)
	if n.state.Context != nil {
		c := *n.state.Context
		s.Context = &c
	}
	if n.state.Failure != nil {
		f := *n.state.Failure
		s.Failure = &f
	}
	return s
}
