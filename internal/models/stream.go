package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StreamFilter narrows a stream query. The zero value (with UserID set)
// selects the user's whole reading list, newest first.
type StreamFilter struct {
	UserID         uuid.UUID
	FeedID         *int64
	GroupID        *int64
	AggregatorTag  *string
	RequireRead    bool
	RequireStars   bool
	ExcludeRead    bool
	ExcludeStarred bool
	MinDate        *time.Time
	MaxDate        *time.Time
	Ascending      bool
	Limit          int
	Offset         int
}

// StreamItem is one article reference in stream order.
type StreamItem struct {
	ID   int64
	Date time.Time
}

// UnreadCount is the per-feed unread tally for one user.
type UnreadCount struct {
	FeedID int64
	Count  int
	Newest time.Time
}

// StreamStore runs the read-state-aware article queries behind the stream
// endpoints. Every query is scoped to feeds the user may access: enabled
// feeds that are shared or owned by the user.
type StreamStore struct {
	pool *pgxpool.Pool
}

// NewStreamStore creates a new StreamStore.
func NewStreamStore(pool *pgxpool.Pool) *StreamStore {
	return &StreamStore{pool: pool}
}

const streamJoin = `
	FROM articles a
	JOIN feeds f ON f.id = a.feed_id
	LEFT JOIN user_article_states s ON s.article_id = a.id AND s.user_id = $1`

// buildWhere assembles the WHERE clause for a filter. $1 is always the user
// ID; additional arguments are numbered from $2.
func buildWhere(f StreamFilter) (string, []any) {
	conditions := []string{
		"f.enabled",
		"(f.owner_id = $1 OR f.owner_id IS NULL)",
	}
	args := []any{f.UserID}
	argN := 2

	if f.FeedID != nil {
		conditions = append(conditions, fmt.Sprintf("a.feed_id = $%d", argN))
		args = append(args, *f.FeedID)
		argN++
	}
	if f.GroupID != nil {
		conditions = append(conditions, fmt.Sprintf("f.group_id = $%d", argN))
		args = append(args, *f.GroupID)
		argN++
	}
	if f.AggregatorTag != nil {
		conditions = append(conditions, fmt.Sprintf("f.aggregator_tag = $%d", argN))
		args = append(args, *f.AggregatorTag)
		argN++
	}
	if f.RequireStars {
		conditions = append(conditions, "COALESCE(s.starred, false)")
	}
	if f.RequireRead {
		conditions = append(conditions, "COALESCE(s.read, false)")
	}
	if f.ExcludeRead {
		conditions = append(conditions, "NOT COALESCE(s.read, false)")
	}
	if f.ExcludeStarred {
		conditions = append(conditions, "NOT COALESCE(s.starred, false)")
	}
	if f.MinDate != nil {
		conditions = append(conditions, fmt.Sprintf("a.date >= $%d", argN))
		args = append(args, *f.MinDate)
		argN++
	}
	if f.MaxDate != nil {
		conditions = append(conditions, fmt.Sprintf("a.date <= $%d", argN))
		args = append(args, *f.MaxDate)
		argN++
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func orderClause(f StreamFilter) string {
	if f.Ascending {
		return "ORDER BY a.date ASC, a.id ASC"
	}
	return "ORDER BY a.date DESC, a.id DESC"
}

// SelectIDs returns article references matching the filter, in stream order.
func (s *StreamStore) SelectIDs(ctx context.Context, f StreamFilter) ([]StreamItem, error) {
	where, args := buildWhere(f)
	query := "SELECT a.id, a.date" + streamJoin + "\n\t" + where + "\n\t" + orderClause(f)
	query += fmt.Sprintf("\n\tLIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stream ids: %w", err)
	}
	defer rows.Close()

	var items []StreamItem
	for rows.Next() {
		var it StreamItem
		if err := rows.Scan(&it.ID, &it.Date); err != nil {
			return nil, fmt.Errorf("stream ids scan: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// SelectArticles returns full articles matching the filter, in stream order.
func (s *StreamStore) SelectArticles(ctx context.Context, f StreamFilter) ([]Article, error) {
	where, args := buildWhere(f)
	cols := "a." + strings.ReplaceAll(articleColumns, ", ", ", a.")
	query := "SELECT " + cols + streamJoin + "\n\t" + where + "\n\t" + orderClause(f)
	query += fmt.Sprintf("\n\tLIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stream articles: %w", err)
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("stream articles scan: %w", err)
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// UnreadCounts tallies unread accessible articles per feed, with the date of
// the newest unread item in each.
func (s *StreamStore) UnreadCounts(ctx context.Context, userID uuid.UUID) ([]UnreadCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.feed_id, COUNT(*), MAX(a.date)`+streamJoin+`
		WHERE f.enabled
		  AND (f.owner_id = $1 OR f.owner_id IS NULL)
		  AND NOT COALESCE(s.read, false)
		GROUP BY a.feed_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}
	defer rows.Close()

	var counts []UnreadCount
	for rows.Next() {
		var c UnreadCount
		if err := rows.Scan(&c.FeedID, &c.Count, &c.Newest); err != nil {
			return nil, fmt.Errorf("unread counts scan: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// MarkAllRead marks every article matching the filter's scope as read for
// the user. MaxDate bounds the write so items that arrived after the client
// last refreshed stay unread. Returns the number of state rows written.
func (s *StreamStore) MarkAllRead(ctx context.Context, f StreamFilter) (int64, error) {
	f.RequireRead = false
	f.RequireStars = false
	f.ExcludeStarred = false
	f.ExcludeRead = true
	where, args := buildWhere(f)

	query := `
		INSERT INTO user_article_states (user_id, article_id, read, starred, updated_at)
		SELECT $1, a.id, true, false, now()` + streamJoin + `
		` + where + `
		ON CONFLICT (user_id, article_id) DO UPDATE SET read = true, updated_at = now()`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}
