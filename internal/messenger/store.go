// Package messenger queues one-shot status and error messages for the next
// page render of a browser session.
package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Level is the severity of a message.
type Level string

const (
	LevelStatus Level = "status"
	LevelError  Level = "error"
)

type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Store keeps pending messages per session.
type Store interface {
	Push(ctx context.Context, session string, msg Message) error
	// Pop returns and removes every pending message of the session.
	Pop(ctx context.Context, session string) ([]Message, error)
}

const (
	keyPrefix  = "sendernet:flash:"
	defaultTTL = 10 * time.Minute
)

// RedisStore shares pending messages across instances.
type RedisStore struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client goredis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Push(ctx context.Context, session string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal flash message: %w", err)
	}

	key := keyPrefix + session
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push flash message: %w", err)
	}
	return nil
}

func (s *RedisStore) Pop(ctx context.Context, session string) ([]Message, error) {
	key := keyPrefix + session
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pop flash messages: %w", err)
	}

	raw := rangeCmd.Val()
	msgs := make([]Message, 0, len(raw))
	for _, item := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore keeps pending messages in process.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	msgs    []Message
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		pending: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Push(_ context.Context, session string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	entry, ok := s.pending[session]
	if !ok {
		entry = &memoryEntry{}
		s.pending[session] = entry
	}
	entry.msgs = append(entry.msgs, msg)
	entry.expires = now.Add(s.ttl)
	return nil
}

func (s *MemoryStore) Pop(_ context.Context, session string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[session]
	delete(s.pending, session)
	if !ok || s.now().After(entry.expires) {
		return []Message{}, nil
	}
	return entry.msgs, nil
}

func (s *MemoryStore) evictLocked(now time.Time) {
	for session, entry := range s.pending {
		if now.After(entry.expires) {
			delete(s.pending, session)
		}
	}
}
