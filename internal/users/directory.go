// Package users looks up local accounts by email.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("user not found")

// User is a local account.
type User struct {
	ID          int64
	DisplayName string
	Email       string
}

type Directory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// PostgresDirectory reads the users table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}

	var u User
	err := d.db.QueryRowContext(ctx, `
		SELECT uid, name, mail
		FROM users
		WHERE LOWER(mail) = LOWER($1)
		ORDER BY uid
		LIMIT 1
	`, email).Scan(&u.ID, &u.DisplayName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &u, nil
}

// NoopDirectory has no users. Used when no database is configured.
type NoopDirectory struct{}

func (NoopDirectory) FindByEmail(context.Context, string) (*User, error) {
	return nil, ErrNotFound
}
