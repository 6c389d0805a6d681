package memory

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/kailas-cloud/kgbrowse/internal/db"
)

func newTestStore(t *testing.T, maxKeys int) (*Store, *time.Time) {
	t.Helper()
	s, err := NewStore(maxKeys)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestGetSet(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()

	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("get = %q, %v", got, err)
	}
}

func TestSetWithTTL_Expires(t *testing.T) {
	s, now := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.SetWithTTL(ctx, "k", []byte("v"), time.Minute)
	*now = now.Add(59 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("expired early: %v", err)
	}
	*now = now.Add(time.Second)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Errorf("expected expiry, got %v", err)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := newTestStore(t, 2)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"))
	_ = s.Set(ctx, "b", []byte("2"))
	_, _ = s.Get(ctx, "a")
	_ = s.Set(ctx, "c", []byte("3"))

	if _, err := s.Get(ctx, "b"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Error("expected b evicted")
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Error("expected a kept")
	}
}

func TestSets(t *testing.T) {
	s, now := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.SAdd(ctx, "tag", "x", "y")
	_ = s.SAdd(ctx, "tag", "y", "z")
	members, _ := s.SMembers(ctx, "tag")
	slices.Sort(members)
	if !slices.Equal(members, []string{"x", "y", "z"}) {
		t.Errorf("members = %v", members)
	}

	_ = s.Expire(ctx, "tag", time.Second)
	*now = now.Add(time.Second)
	if members, _ := s.SMembers(ctx, "tag"); len(members) != 0 {
		t.Errorf("expected expired set, got %v", members)
	}
}

func TestDel(t *testing.T) {
	s, _ := newTestStore(t, 10)
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"))
	_ = s.SAdd(ctx, "b", "m")
	if err := s.Del(ctx, "a", "b", "missing"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, db.ErrKeyNotFound) {
		t.Error("a not deleted")
	}
	if members, _ := s.SMembers(ctx, "b"); len(members) != 0 {
		t.Error("b not deleted")
	}
}
