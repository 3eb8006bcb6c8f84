package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore keeps the record as JSONB in sender_net_config.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (Record, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data
		FROM sender_net_config
		WHERE name = $1
	`, Key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load settings: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode settings: %w", err)
	}
	if rec.UserGroup == nil {
		rec.UserGroup = []string{}
	}
	return rec, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if rec.UserGroup == nil {
		rec.UserGroup = []string{}
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sender_net_config (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET data = EXCLUDED.data, updated_at = NOW()
	`, Key, raw)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Ping reports whether the backing database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
