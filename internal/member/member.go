// Package member stores society members and their credentials.
package member

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no member matches the lookup.
var ErrNotFound = errors.New("member: not found")

// Member is a registered member of the society.
type Member struct {
	ID           string
	FullName     string
	Email        string
	Mobile       string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// Store persists members in Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

// Create inserts a member with an argon2id-hashed password and returns its id.
func (s *Store) Create(ctx context.Context, fullName, email, mobile, role, password string) (string, error) {
	if s == nil || s.Pool == nil {
		return "", errors.New("member: store not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errors.New("member: email is required")
	}
	hash := ""
	if password != "" {
		var err error
		hash, err = argon2id.CreateHash(password, argon2id.DefaultParams)
		if err != nil {
			return "", err
		}
	}
	var id string
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO members (full_name, email, mobile, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		strings.TrimSpace(fullName), email, strings.TrimSpace(mobile), roleOrDefault(role), hash,
	).Scan(&id)
	return id, err
}

// GetByID fetches a member by id.
func (s *Store) GetByID(ctx context.Context, id string) (Member, error) {
	return s.get(ctx, `SELECT id, full_name, email, mobile, role, password_hash, created_at
		FROM members WHERE id = $1`, id)
}

// GetByEmail fetches a member by email, case-insensitively.
func (s *Store) GetByEmail(ctx context.Context, email string) (Member, error) {
	return s.get(ctx, `SELECT id, full_name, email, mobile, role, password_hash, created_at
		FROM members WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

// VerifyPassword checks a candidate password against the stored hash.
func (m Member) VerifyPassword(password string) bool {
	if m.PasswordHash == "" {
		return false
	}
	ok, err := argon2id.ComparePasswordAndHash(password, m.PasswordHash)
	return err == nil && ok
}

func (s *Store) get(ctx context.Context, query, arg string) (Member, error) {
	var m Member
	if s == nil || s.Pool == nil {
		return m, errors.New("member: store not configured")
	}
	err := s.Pool.QueryRow(ctx, query, arg).Scan(
		&m.ID, &m.FullName, &m.Email, &m.Mobile, &m.Role, &m.PasswordHash, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func roleOrDefault(role string) string {
	trimmed := strings.TrimSpace(strings.ToLower(role))
	if trimmed == "" {
		return "member"
	}
	return trimmed
}
