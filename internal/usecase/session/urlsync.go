package session

import (
	"strings"

	"github.com/kailas-cloud/kgbrowse/internal/domain/query"
)

// ParamGroup is the URL parameter holding a non-default group.
const ParamGroup = "group"

// Location is the part of the browser location the engine reads and writes.
type Location struct {
	Search string `json:"search"`
	Hash   string `json:"hash"`
}

// normalized re-encodes the search string so equal queries compare equal.
func (l Location) normalized() Location {
	hash := strings.TrimPrefix(l.Hash, "#")
	if hash != "" {
		hash = "#" + hash
	}
	return Location{Search: query.Parse(l.Search).Encode(), Hash: hash}
}

// InstanceID returns the instance id held by the hash.
func (l Location) InstanceID() string {
	return strings.TrimPrefix(l.Hash, "#")
}

// Action is a History API method.
type Action string

// History actions.
const (
	ActionReplace Action = "replace"
	ActionPush    Action = "push"
)

// Navigation instructs the tab to write its location.
type Navigation struct {
	Action Action `json:"action"`
	Search string `json:"search"`
	Hash   string `json:"hash"`
}

// urlSync coalesces outbound location writes. Any number of marks between two
// flushes produce at most one write.
type urlSync struct {
	current Location
	dirty   bool
	// replace makes the next flush rewrite the current entry instead of adding one.
	replace bool
}

// load records the location the tab was loaded with. The next flush replaces it.
func (u *urlSync) load(loc Location) {
	u.current = loc.normalized()
	u.dirty = true
	u.replace = true
}

// popped records a location reached by browser navigation and drops pending writes.
func (u *urlSync) popped(loc Location) {
	u.current = loc.normalized()
	u.dirty = false
	u.replace = false
}

func (u *urlSync) mark() { u.dirty = true }

// flush returns the navigation needed to bring the browser to target, if any.
func (u *urlSync) flush(target Location) *Navigation {
	if !u.dirty {
		return nil
	}
	u.dirty = false
	action := ActionPush
	if u.replace {
		action = ActionReplace
		u.replace = false
	}
	if target == u.current {
		return nil
	}
	u.current = target
	return &Navigation{Action: action, Search: target.Search, Hash: target.Hash}
}
