package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReaderToken is an opaque token minted by ClientLogin or the token endpoint.
// A client presents it as "Authorization: GoogleLogin auth=<token>".
// Revocation is deletion.
type ReaderToken struct {
	Token     string     `json:"-"`
	UserID    uuid.UUID  `json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ReaderTokenStore provides data access methods for reader auth tokens.
type ReaderTokenStore struct {
	pool *pgxpool.Pool
}

// NewReaderTokenStore creates a new ReaderTokenStore.
func NewReaderTokenStore(pool *pgxpool.Pool) *ReaderTokenStore {
	return &ReaderTokenStore{pool: pool}
}

// Create inserts a new token.
func (s *ReaderTokenStore) Create(ctx context.Context, token *ReaderToken) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO greader_tokens (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, token.Token, token.UserID, token.ExpiresAt).Scan(&token.CreatedAt)
	if err != nil {
		return fmt.Errorf("token create: %w", err)
	}
	return nil
}

// GetByToken returns a token row, expired ones included; the caller decides
// what an expiry means.
func (s *ReaderTokenStore) GetByToken(ctx context.Context, token string) (*ReaderToken, error) {
	var t ReaderToken
	err := s.pool.QueryRow(ctx, `
		SELECT token, user_id, expires_at, created_at
		FROM greader_tokens
		WHERE token = $1
	`, token).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("token get: %w", err)
	}
	return &t, nil
}

// Delete revokes a token.
func (s *ReaderTokenStore) Delete(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM greader_tokens WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("token delete: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens whose expiry has passed. Tokens without an
// expiry are never purged.
func (s *ReaderTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM greader_tokens
		WHERE expires_at IS NOT NULL AND expires_at < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("token delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
