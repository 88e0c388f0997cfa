package models

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArticleState is the per-user read/star state of one article. No row means
// unread and unstarred; rows where both flags are false are deleted.
type ArticleState struct {
	UserID    uuid.UUID `json:"user_id"`
	ArticleID int64     `json:"article_id"`
	Read      bool      `json:"read"`
	Starred   bool      `json:"starred"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateStore provides data access methods for per-user article state.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore creates a new StateStore.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// SetRead upserts the read flag for a batch of articles. Each boolean field
// is last-writer-wins independently; the other flag is left untouched.
func (s *StateStore) SetRead(ctx context.Context, userID uuid.UUID, articleIDs []int64, read bool) error {
	if len(articleIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_article_states (user_id, article_id, read, starred)
		SELECT $1, id, $3, false FROM unnest($2::bigint[]) AS id
		ON CONFLICT (user_id, article_id)
		DO UPDATE SET read = EXCLUDED.read, updated_at = now()
	`, userID, articleIDs, read)
	if err != nil {
		return fmt.Errorf("state set read: %w", err)
	}
	return s.pruneEmpty(ctx, userID, articleIDs)
}

// SetStarred upserts the starred flag for a batch of articles.
func (s *StateStore) SetStarred(ctx context.Context, userID uuid.UUID, articleIDs []int64, starred bool) error {
	if len(articleIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_article_states (user_id, article_id, read, starred)
		SELECT $1, id, false, $3 FROM unnest($2::bigint[]) AS id
		ON CONFLICT (user_id, article_id)
		DO UPDATE SET starred = EXCLUDED.starred, updated_at = now()
	`, userID, articleIDs, starred)
	if err != nil {
		return fmt.Errorf("state set starred: %w", err)
	}
	return s.pruneEmpty(ctx, userID, articleIDs)
}

// pruneEmpty deletes rows where both flags returned to false.
func (s *StateStore) pruneEmpty(ctx context.Context, userID uuid.UUID, articleIDs []int64) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM user_article_states
		WHERE user_id = $1 AND article_id = ANY($2) AND read = false AND starred = false
	`, userID, articleIDs)
	if err != nil {
		return fmt.Errorf("state prune: %w", err)
	}
	return nil
}

// GetForArticles returns the user's state rows for the given articles, keyed
// by article ID. Articles without a row are simply absent.
func (s *StateStore) GetForArticles(ctx context.Context, userID uuid.UUID, articleIDs []int64) (map[int64]ArticleState, error) {
	if len(articleIDs) == 0 {
		return map[int64]ArticleState{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, article_id, read, starred, updated_at
		FROM user_article_states
		WHERE user_id = $1 AND article_id = ANY($2)
	`, userID, articleIDs)
	if err != nil {
		return nil, fmt.Errorf("state get for articles: %w", err)
	}
	defer rows.Close()

	states := make(map[int64]ArticleState, len(articleIDs))
	for rows.Next() {
		var st ArticleState
		if err := rows.Scan(&st.UserID, &st.ArticleID, &st.Read, &st.Starred, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("state scan: %w", err)
		}
		states[st.ArticleID] = st
	}
	return states, rows.Err()
}
