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

// FeedGroup is a per-user named label grouping feeds. It surfaces as a reader
// label (user/-/label/<name>).
type FeedGroup struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedGroupStore provides data access methods for feed groups.
type FeedGroupStore struct {
	pool *pgxpool.Pool
}

// NewFeedGroupStore creates a new FeedGroupStore.
func NewFeedGroupStore(pool *pgxpool.Pool) *FeedGroupStore {
	return &FeedGroupStore{pool: pool}
}

// ListByOwner returns a user's groups ordered by name.
func (s *FeedGroupStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]FeedGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, owner_id, created_at
		FROM feed_groups
		WHERE owner_id = $1
		ORDER BY name ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("group list: %w", err)
	}
	defer rows.Close()

	var groups []FeedGroup
	for rows.Next() {
		var g FeedGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("group scan: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetByID returns one group.
func (s *FeedGroupStore) GetByID(ctx context.Context, id int64) (*FeedGroup, error) {
	var g FeedGroup
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at FROM feed_groups WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("group get: %w", err)
	}
	return &g, nil
}

// GetByName returns a user's group by its label name.
func (s *FeedGroupStore) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (*FeedGroup, error) {
	var g FeedGroup
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, created_at
		FROM feed_groups
		WHERE owner_id = $1 AND name = $2
	`, ownerID, name).Scan(&g.ID, &g.Name, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("group get by name: %w", err)
	}
	return &g, nil
}

// GetOrCreate returns the user's group with the given name, creating it if
// missing. Label adds in subscription/edit go through this.
func (s *FeedGroupStore) GetOrCreate(ctx context.Context, ownerID uuid.UUID, name string) (*FeedGroup, error) {
	g, err := s.GetByName(ctx, ownerID, name)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	g = &FeedGroup{Name: name, OwnerID: ownerID}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO feed_groups (name, owner_id)
		VALUES ($1, $2)
		ON CONFLICT (name, owner_id) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at
	`, g.Name, g.OwnerID).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("group create: %w", err)
	}
	return g, nil
}

// Delete removes a group; feeds referencing it fall back to no group.
func (s *FeedGroupStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM feed_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("group delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %d: %w", id, ErrNotFound)
	}
	return nil
}
