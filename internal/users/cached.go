package users

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vinugawade/sender.net/pkg/cache"
)

// CachedDirectory remembers found users for a short while. Misses and
// lookup errors are not cached, so a newly created account is visible
// on the next submission.
type CachedDirectory struct {
	next  Directory
	users *cache.Cache[User]
}

type CacheOptions struct {
	TTL        time.Duration
	MaxEntries int
	// Lookups is optional; labels: result (hit, miss, stale).
	Lookups *prometheus.CounterVec
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{TTL: time.Minute, MaxEntries: 1024}
}

func NewCachedDirectory(next Directory, opts CacheOptions) *CachedDirectory {
	count := func(result string) func() {
		if opts.Lookups == nil {
			return nil
		}
		return func() { opts.Lookups.WithLabelValues(result).Inc() }
	}
	return &CachedDirectory{
		next: next,
		users: cache.New[User](cache.Options{
			TTL:        opts.TTL,
			MaxEntries: opts.MaxEntries,
		}, cache.MetricsHooks{
			OnHit:   count("hit"),
			OnMiss:  count("miss"),
			OnStale: count("stale"),
		}),
	}
}

func (d *CachedDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return nil, ErrNotFound
	}

	u, ok, err := d.users.Get(ctx, key, func(ctx context.Context, _ string) (User, bool, error) {
		found, err := d.next.FindByEmail(ctx, email)
		if err != nil {
			return User{}, false, err
		}
		return *found, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
