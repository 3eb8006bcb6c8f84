package settings

import (
	"context"
	"sync"
)

// MemoryStore keeps the record in process. Used when no database is configured.
type MemoryStore struct {
	mu  sync.RWMutex
	rec *Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rec == nil {
		return Record{}, ErrNotFound
	}
	return clone(*s.rec), nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	rec = clone(rec)
	if rec.UserGroup == nil {
		rec.UserGroup = []string{}
	}
	s.mu.Lock()
	s.rec = &rec
	s.mu.Unlock()
	return nil
}

func clone(rec Record) Record {
	if rec.UserGroup != nil {
		rec.UserGroup = append([]string(nil), rec.UserGroup...)
	}
	return rec
}
