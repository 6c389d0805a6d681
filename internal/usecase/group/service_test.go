package group

import (
	"testing"

	domgroup "github.com/kailas-cloud/kgbrowse/internal/domain/group"
)

var testGroups = []domgroup.Option{
	{Label: "Public", Value: "public"},
	{Label: "Curated", Value: "curated"},
}

func TestNewService_DefaultsToPublic(t *testing.T) {
	s := NewService("")
	if s.Current() != domgroup.Public || !s.IsDefault() {
		t.Errorf("current = %q", s.Current())
	}
}

func TestSetInitialGroup_AppliedWhenGroupsLoad(t *testing.T) {
	s := NewService("public")
	s.SetInitialGroup("curated")
	if s.Current() != "public" {
		t.Fatalf("initial group applied before groups loaded: %q", s.Current())
	}

	if !s.SetGroups(testGroups) {
		t.Error("expected change")
	}
	st := s.State()
	if st.Group != "curated" || st.HasInitialGroup || !st.Loaded {
		t.Errorf("state = %+v", st)
	}
}

func TestSetInitialGroup_UnknownResolvesToDefault(t *testing.T) {
	s := NewService("public")
	s.SetInitialGroup("secret")
	s.SetGroups(testGroups)
	if s.Current() != "public" {
		t.Errorf("current = %q", s.Current())
	}
}

func TestSetGroups_RevalidatesCurrent(t *testing.T) {
	s := NewService("public")
	s.SetGroups(testGroups)
	s.SetGroup("curated")

	if !s.SetGroups([]domgroup.Option{{Label: "Public", Value: "public"}}) {
		t.Error("expected change")
	}
	if s.Current() != "public" {
		t.Errorf("current = %q", s.Current())
	}
}

func TestSetGroup(t *testing.T) {
	tests := []struct {
		name    string
		group   string
		want    string
		changed bool
	}{
		{"known", "curated", "curated", true},
		{"same", "public", "public", false},
		{"unknown", "nope", "public", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewService("public")
			s.SetGroups(testGroups)
			if got := s.SetGroup(tc.group); got != tc.changed {
				t.Errorf("changed = %v, want %v", got, tc.changed)
			}
			if s.Current() != tc.want {
				t.Errorf("current = %q, want %q", s.Current(), tc.want)
			}
		})
	}
}

func TestSetGroup_BeforeLoadIsDeferred(t *testing.T) {
	s := NewService("public")
	if s.SetGroup("curated") {
		t.Error("unexpected change before load")
	}
	s.SetGroups(testGroups)
	if s.Current() != "curated" {
		t.Errorf("current = %q", s.Current())
	}
}

func TestReset(t *testing.T) {
	s := NewService("public")
	s.SetGroups(testGroups)
	s.SetGroup("curated")

	if !s.Reset() {
		t.Error("expected change")
	}
	st := s.State()
	if st.Group != "public" || st.Loaded || len(st.Groups) != 0 {
		t.Errorf("state = %+v", st)
	}
}
