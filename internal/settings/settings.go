// Package settings persists the sender.net configuration record.
package settings

import (
	"context"
	"errors"
	"strings"

	"github.com/vinugawade/sender.net/pkg/clients/sendernet"
)

// Key names the single configuration record.
const Key = "sender_net.settings"

// ErrNotFound is returned by Load before the record has been saved once.
var ErrNotFound = errors.New("settings record not found")

// Record is the stored configuration.
type Record struct {
	APIAccessTokens string   `json:"api_access_tokens"`
	APIBaseURL      string   `json:"api_base_url"`
	UserGroup       []string `json:"user_group"`
}

// Store loads and saves the configuration record.
type Store interface {
	Load(ctx context.Context) (Record, error)
	Save(ctx context.Context, rec Record) error
}

// Normalize trims the scalar fields and filters the group selection down to
// non-empty, unique ids in submission order.
func Normalize(rec Record) Record {
	out := Record{
		APIAccessTokens: strings.TrimSpace(rec.APIAccessTokens),
		APIBaseURL:      strings.TrimSpace(rec.APIBaseURL),
		UserGroup:       FilterGroups(rec.UserGroup),
	}
	return out
}

// FilterGroups drops empty and repeated ids. The result is never nil.
func FilterGroups(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == "0" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// LoadOrEmpty returns the stored record, or an empty one when nothing has
// been saved yet.
func LoadOrEmpty(ctx context.Context, store Store) (Record, error) {
	rec, err := store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		return Record{UserGroup: []string{}}, nil
	}
	return rec, err
}

// Credentials exposes a Store as the API client's credentials source so the
// record is read on every call.
func Credentials(store Store) sendernet.CredentialsSource {
	return sendernet.CredentialsFunc(func(ctx context.Context) (sendernet.Credentials, error) {
		rec, err := LoadOrEmpty(ctx, store)
		if err != nil {
			return sendernet.Credentials{}, err
		}
		return sendernet.Credentials{
			Token:   rec.APIAccessTokens,
			BaseURL: rec.APIBaseURL,
		}, nil
	})
}
