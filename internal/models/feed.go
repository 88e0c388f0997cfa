package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Feed is a configured subscription. Identifier is opaque and adapter-specific
// (a URL, a subreddit, a channel ID or handle). OwnerID nil means the feed is
// shared: visible to every user, mutable only by admins.
type Feed struct {
	ID            int64          `json:"id"`
	Identifier    string         `json:"identifier"`
	AggregatorTag string         `json:"aggregator_tag"`
	Name          string         `json:"name"`
	Icon          []byte         `json:"-"`
	IconType      string         `json:"icon_type,omitempty"`
	DailyLimit    int            `json:"daily_limit"`
	Enabled       bool           `json:"enabled"`
	OwnerID       *uuid.UUID     `json:"owner_id,omitempty"`
	GroupID       *int64         `json:"group_id,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Shared reports whether the feed has no owner.
func (f *Feed) Shared() bool { return f.OwnerID == nil }

// OwnedBy reports whether the feed belongs to the given user.
func (f *Feed) OwnedBy(userID uuid.UUID) bool {
	return f.OwnerID != nil && *f.OwnerID == userID
}

// OptString returns a string option or the fallback.
func (f *Feed) OptString(key, fallback string) string {
	if v, ok := f.Options[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// OptInt returns an integer option or the fallback. JSON numbers decode as
// float64, so both forms are accepted.
func (f *Feed) OptInt(key string, fallback int) int {
	switch v := f.Options[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// OptBool returns a boolean option or the fallback.
func (f *Feed) OptBool(key string, fallback bool) bool {
	if v, ok := f.Options[key].(bool); ok {
		return v
	}
	return fallback
}

// FeedStore provides data access methods for feeds.
type FeedStore struct {
	pool *pgxpool.Pool
}

// NewFeedStore creates a new FeedStore.
func NewFeedStore(pool *pgxpool.Pool) *FeedStore {
	return &FeedStore{pool: pool}
}

const feedColumns = `id, identifier, aggregator_tag, name, icon, icon_type,
       daily_limit, enabled, owner_id, group_id, options, created_at, updated_at`

// scannable abstracts pgx.Row and pgx.Rows for the scan helper.
type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*Feed, error) {
	var f Feed
	var iconType *string
	var optionsJSON []byte
	err := row.Scan(
		&f.ID, &f.Identifier, &f.AggregatorTag, &f.Name, &f.Icon, &iconType,
		&f.DailyLimit, &f.Enabled, &f.OwnerID, &f.GroupID, &optionsJSON,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if iconType != nil {
		f.IconType = *iconType
	}
	if optionsJSON != nil {
		if err := json.Unmarshal(optionsJSON, &f.Options); err != nil {
			return nil, fmt.Errorf("feed unmarshal options: %w", err)
		}
	}
	return &f, nil
}

// GetByID returns one feed.
func (s *FeedStore) GetByID(ctx context.Context, id int64) (*Feed, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)
	f, err := scanFeed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("feed get: %w", err)
	}
	return f, nil
}

// ListEnabled returns every enabled feed, shared and owned alike. The worker
// iterates this set.
func (s *FeedStore) ListEnabled(ctx context.Context) ([]Feed, error) {
	return s.list(ctx, `SELECT `+feedColumns+` FROM feeds WHERE enabled = true ORDER BY id ASC`)
}

// ListAll returns every feed.
func (s *FeedStore) ListAll(ctx context.Context) ([]Feed, error) {
	return s.list(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY id ASC`)
}

// ListAccessible returns the enabled feeds a user may read: their own plus
// shared ones.
func (s *FeedStore) ListAccessible(ctx context.Context, userID uuid.UUID) ([]Feed, error) {
	return s.list(ctx, `
		SELECT `+feedColumns+`
		FROM feeds
		WHERE enabled = true AND (owner_id = $1 OR owner_id IS NULL)
		ORDER BY name ASC
	`, userID)
}

func (s *FeedStore) list(ctx context.Context, query string, args ...any) ([]Feed, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feed list: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("feed scan: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// Create inserts a new feed.
func (s *FeedStore) Create(ctx context.Context, feed *Feed) error {
	optionsJSON, err := json.Marshal(feed.Options)
	if err != nil {
		return fmt.Errorf("feed marshal options: %w", err)
	}
	if feed.DailyLimit <= 0 {
		feed.DailyLimit = 48
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO feeds (identifier, aggregator_tag, name, icon, icon_type,
		                   daily_limit, enabled, owner_id, group_id, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`,
		feed.Identifier, feed.AggregatorTag, feed.Name, feed.Icon, nullIfEmpty(feed.IconType),
		feed.DailyLimit, feed.Enabled, feed.OwnerID, feed.GroupID, optionsJSON,
	).Scan(&feed.ID, &feed.CreatedAt, &feed.UpdatedAt)
	if err != nil {
		return fmt.Errorf("feed create: %w", err)
	}
	return nil
}

// Update modifies an existing feed.
func (s *FeedStore) Update(ctx context.Context, feed *Feed) error {
	optionsJSON, err := json.Marshal(feed.Options)
	if err != nil {
		return fmt.Errorf("feed marshal options: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE feeds
		SET identifier = $1, aggregator_tag = $2, name = $3, daily_limit = $4,
		    enabled = $5, group_id = $6, options = $7, updated_at = now()
		WHERE id = $8
	`,
		feed.Identifier, feed.AggregatorTag, feed.Name, feed.DailyLimit,
		feed.Enabled, feed.GroupID, optionsJSON, feed.ID,
	)
	if err != nil {
		return fmt.Errorf("feed update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", feed.ID, ErrNotFound)
	}
	return nil
}

// SetEnabled flips only the enabled flag. Unsubscribe in the reader protocol
// is a soft delete through this method.
func (s *FeedStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE feeds SET enabled = $2, updated_at = now() WHERE id = $1
	`, id, enabled)
	if err != nil {
		return fmt.Errorf("feed set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

// Rename sets only the display name.
func (s *FeedStore) Rename(ctx context.Context, id int64, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE feeds SET name = $2, updated_at = now() WHERE id = $1
	`, id, name)
	if err != nil {
		return fmt.Errorf("feed rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetGroup moves the feed into a group; nil clears the group.
func (s *FeedStore) SetGroup(ctx context.Context, id int64, groupID *int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE feeds SET group_id = $2, updated_at = now() WHERE id = $1
	`, id, groupID)
	if err != nil {
		return fmt.Errorf("feed set group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetIcon stores the fetched favicon bytes and content type.
func (s *FeedStore) SetIcon(ctx context.Context, id int64, icon []byte, iconType string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE feeds SET icon = $2, icon_type = $3, updated_at = now() WHERE id = $1
	`, id, icon, nullIfEmpty(iconType))
	if err != nil {
		return fmt.Errorf("feed set icon: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

// Delete removes a feed and, via cascade, its articles.
func (s *FeedStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("feed delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
