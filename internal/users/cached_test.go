package users

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type countingDirectory struct {
	calls atomic.Int32
	user  *User
	err   error
}

func (d *countingDirectory) FindByEmail(context.Context, string) (*User, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	if d.user == nil {
		return nil, ErrNotFound
	}
	u := *d.user
	return &u, nil
}

func TestCachedDirectoryReusesFoundUser(t *testing.T) {
	next := &countingDirectory{user: &User{ID: 7, DisplayName: "alice", Email: "alice@example.com"}}
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "user_cache_lookups_total"}, []string{"result"})
	opts := DefaultCacheOptions()
	opts.Lookups = lookups
	dir := NewCachedDirectory(next, opts)

	for _, email := range []string{"alice@example.com", " Alice@Example.com "} {
		u, err := dir.FindByEmail(context.Background(), email)
		if err != nil {
			t.Fatalf("FindByEmail(%q): %v", email, err)
		}
		if u.DisplayName != "alice" {
			t.Fatalf("unexpected user %+v", u)
		}
	}
	if next.calls.Load() != 1 {
		t.Fatalf("expected one directory lookup, got %d", next.calls.Load())
	}
	if got := testutil.ToFloat64(lookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
}

func TestCachedDirectoryReturnsCopies(t *testing.T) {
	next := &countingDirectory{user: &User{ID: 7, DisplayName: "alice"}}
	dir := NewCachedDirectory(next, DefaultCacheOptions())

	u, _ := dir.FindByEmail(context.Background(), "alice@example.com")
	u.DisplayName = "mallory"

	again, _ := dir.FindByEmail(context.Background(), "alice@example.com")
	if again.DisplayName != "alice" {
		t.Fatalf("cached user was mutated: %+v", again)
	}
}

func TestCachedDirectoryDoesNotCacheMisses(t *testing.T) {
	next := &countingDirectory{}
	dir := NewCachedDirectory(next, DefaultCacheOptions())

	for i := 0; i < 2; i++ {
		if _, err := dir.FindByEmail(context.Background(), "new@example.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if next.calls.Load() != 2 {
		t.Fatalf("expected misses to reach the directory, got %d calls", next.calls.Load())
	}

	next.user = &User{ID: 9, DisplayName: "new"}
	if u, err := dir.FindByEmail(context.Background(), "new@example.com"); err != nil || u.ID != 9 {
		t.Fatalf("expected newly created user, got %+v %v", u, err)
	}
}

func TestCachedDirectoryPropagatesErrors(t *testing.T) {
	boom := errors.New("db down")
	dir := NewCachedDirectory(&countingDirectory{err: boom}, DefaultCacheOptions())

	if _, err := dir.FindByEmail(context.Background(), "a@b.com"); !errors.Is(err, boom) {
		t.Fatalf("expected db error, got %v", err)
	}
	if _, err := dir.FindByEmail(context.Background(), "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank email, got %v", err)
	}
}
