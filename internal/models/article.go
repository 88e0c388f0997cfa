package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Article is a finalized item produced by an aggregation run. Identifier is
// unique per feed (URL or upstream ID). Date carries the jittered sort
// timestamp; OriginalDate keeps the source's publication time. Icon holds the
// extracted header element as an HTML fragment.
type Article struct {
	ID           int64      `json:"id"`
	FeedID       int64      `json:"feed_id"`
	Identifier   string     `json:"identifier"`
	Name         string     `json:"name"`
	RawContent   string     `json:"-"`
	Content      string     `json:"content"`
	Date         time.Time  `json:"date"`
	OriginalDate *time.Time `json:"original_date,omitempty"`
	Author       string     `json:"author,omitempty"`
	Icon         string     `json:"icon,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ArticleStore provides data access methods for articles.
type ArticleStore struct {
	pool *pgxpool.Pool
}

// NewArticleStore creates a new ArticleStore.
func NewArticleStore(pool *pgxpool.Pool) *ArticleStore {
	return &ArticleStore{pool: pool}
}

const articleColumns = `id, feed_id, identifier, name, raw_content, content,
       date, original_date, author, icon, created_at, updated_at`

func scanArticle(row scannable) (*Article, error) {
	var a Article
	var author, icon *string
	err := row.Scan(
		&a.ID, &a.FeedID, &a.Identifier, &a.Name, &a.RawContent, &a.Content,
		&a.Date, &a.OriginalDate, &author, &icon, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if author != nil {
		a.Author = *author
	}
	if icon != nil {
		a.Icon = *icon
	}
	return &a, nil
}

// Create inserts a new article. Re-running aggregation over an unchanged
// source is idempotent: an existing (feed, identifier) pair is left alone and
// reported as not created.
func (s *ArticleStore) Create(ctx context.Context, a *Article) (bool, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO articles (feed_id, identifier, name, raw_content, content,
		                      date, original_date, author, icon)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (feed_id, identifier) DO NOTHING
		RETURNING id, created_at, updated_at
	`,
		a.FeedID, a.Identifier, a.Name, a.RawContent, a.Content,
		a.Date, a.OriginalDate, nullIfEmpty(a.Author), nullIfEmpty(a.Icon),
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("article create: %w", err)
	}
	return true, nil
}

// GetByID returns one article.
func (s *ArticleStore) GetByID(ctx context.Context, id int64) (*Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)
	a, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("article get: %w", err)
	}
	return a, nil
}

// ExistsByIdentifier reports whether the feed already carries an article with
// the given identifier.
func (s *ArticleStore) ExistsByIdentifier(ctx context.Context, feedID int64, identifier string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM articles WHERE feed_id = $1 AND identifier = $2)
	`, feedID, identifier).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("article exists: %w", err)
	}
	return exists, nil
}

// CountToday returns how many articles a feed has collected in the current
// UTC day. The run limiter works from this number.
func (s *ArticleStore) CountToday(ctx context.Context, feedID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM articles
		WHERE feed_id = $1
		  AND created_at >= date_trunc('day', now() AT TIME ZONE 'UTC')
	`, feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("article count today: %w", err)
	}
	return count, nil
}

// ListByIDs returns the given articles in the input order. Unknown IDs are
// skipped rather than failing the batch.
func (s *ArticleStore) ListByIDs(ctx context.Context, ids []int64) ([]Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+articleColumns+` FROM articles WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("article list by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]Article, len(ids))
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("article scan: %w", err)
		}
		byID[a.ID] = *a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(ids))
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			articles = append(articles, a)
		}
	}
	return articles, nil
}

// DeleteOlderThan removes articles dated before the horizon. Articles starred
// by anyone are kept.
func (s *ArticleStore) DeleteOlderThan(ctx context.Context, horizon time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM articles a
		WHERE a.date < $1
		  AND NOT EXISTS (
			SELECT 1 FROM user_article_states st
			WHERE st.article_id = a.id AND st.starred = true
		  )
	`, horizon)
	if err != nil {
		return 0, fmt.Errorf("article delete older than: %w", err)
	}
	return tag.RowsAffected(), nil
}
