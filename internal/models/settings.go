package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserSettings holds a user's external-integration credentials. The Reddit
// and YouTube adapters refuse to run for a user whose block is disabled.
type UserSettings struct {
	UserID             uuid.UUID `json:"user_id"`
	RedditClientID     string    `json:"reddit_client_id,omitempty"`
	RedditClientSecret string    `json:"-"`
	RedditUserAgent    string    `json:"reddit_user_agent,omitempty"`
	RedditEnabled      bool      `json:"reddit_enabled"`
	YouTubeAPIKey      string    `json:"-"`
	YouTubeEnabled     bool      `json:"youtube_enabled"`
}

// AIProvider is one configured rewrite backend. At most one provider per user
// is active; Finalize uses the active one.
type AIProvider struct {
	ID             int64     `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	Active         bool      `json:"active"`
	APIKey         string    `json:"-"`
	BaseURL        string    `json:"base_url"`
	Model          string    `json:"model"`
	Temperature    float64   `json:"temperature"`
	MaxTokens      int       `json:"max_tokens"`
	MaxRetries     int       `json:"max_retries"`
	RetryBaseDelay int       `json:"retry_base_delay_seconds"`
	MaxRetryTime   int       `json:"max_retry_seconds"`
}

// SettingsStore provides data access for user settings and AI providers.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Get returns the user's settings; a user without a row gets zero values
// with both integrations disabled.
func (s *SettingsStore) Get(ctx context.Context, userID uuid.UUID) (*UserSettings, error) {
	var st UserSettings
	var rcid, rcsecret, rua, ykey *string
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, reddit_client_id, reddit_client_secret, reddit_user_agent,
		       reddit_enabled, youtube_api_key, youtube_enabled
		FROM user_settings
		WHERE user_id = $1
	`, userID).Scan(&st.UserID, &rcid, &rcsecret, &rua, &st.RedditEnabled, &ykey, &st.YouTubeEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return &UserSettings{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings get: %w", err)
	}
	if rcid != nil {
		st.RedditClientID = *rcid
	}
	if rcsecret != nil {
		st.RedditClientSecret = *rcsecret
	}
	if rua != nil {
		st.RedditUserAgent = *rua
	}
	if ykey != nil {
		st.YouTubeAPIKey = *ykey
	}
	return &st, nil
}

// Upsert writes the full settings row.
func (s *SettingsStore) Upsert(ctx context.Context, st *UserSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, reddit_client_id, reddit_client_secret,
		                           reddit_user_agent, reddit_enabled,
		                           youtube_api_key, youtube_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			reddit_client_id = EXCLUDED.reddit_client_id,
			reddit_client_secret = EXCLUDED.reddit_client_secret,
			reddit_user_agent = EXCLUDED.reddit_user_agent,
			reddit_enabled = EXCLUDED.reddit_enabled,
			youtube_api_key = EXCLUDED.youtube_api_key,
			youtube_enabled = EXCLUDED.youtube_enabled
	`, st.UserID, nullIfEmpty(st.RedditClientID), nullIfEmpty(st.RedditClientSecret),
		nullIfEmpty(st.RedditUserAgent), st.RedditEnabled,
		nullIfEmpty(st.YouTubeAPIKey), st.YouTubeEnabled)
	if err != nil {
		return fmt.Errorf("settings upsert: %w", err)
	}
	return nil
}

const providerColumns = `id, user_id, name, enabled, active, api_key, base_url, model,
       temperature, max_tokens, max_retries, retry_base_delay_seconds, max_retry_seconds`

func scanProvider(row scannable) (*AIProvider, error) {
	var p AIProvider
	var key, base *string
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Enabled, &p.Active, &key, &base, &p.Model,
		&p.Temperature, &p.MaxTokens, &p.MaxRetries, &p.RetryBaseDelay, &p.MaxRetryTime,
	)
	if err != nil {
		return nil, err
	}
	if key != nil {
		p.APIKey = *key
	}
	if base != nil {
		p.BaseURL = *base
	}
	return &p, nil
}

// GetActiveProvider returns the user's active, enabled AI provider.
func (s *SettingsStore) GetActiveProvider(ctx context.Context, userID uuid.UUID) (*AIProvider, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+providerColumns+`
		FROM ai_providers
		WHERE user_id = $1 AND active = true AND enabled = true
	`, userID)
	p, err := scanProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active provider: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("provider get active: %w", err)
	}
	return p, nil
}

// ListProviders returns all of a user's providers.
func (s *SettingsStore) ListProviders(ctx context.Context, userID uuid.UUID) ([]AIProvider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+` FROM ai_providers WHERE user_id = $1 ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("provider list: %w", err)
	}
	defer rows.Close()

	var providers []AIProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("provider scan: %w", err)
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// UpsertProvider creates or updates a provider. Marking one active demotes
// the user's other providers inside the same transaction.
func (s *SettingsStore) UpsertProvider(ctx context.Context, p *AIProvider) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("provider upsert: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.Active {
		if _, err := tx.Exec(ctx, `
			UPDATE ai_providers SET active = false WHERE user_id = $1
		`, p.UserID); err != nil {
			return fmt.Errorf("provider demote: %w", err)
		}
	}

	if p.ID == 0 {
		err = tx.QueryRow(ctx, `
			INSERT INTO ai_providers (user_id, name, enabled, active, api_key, base_url,
			                          model, temperature, max_tokens, max_retries,
			                          retry_base_delay_seconds, max_retry_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`, p.UserID, p.Name, p.Enabled, p.Active, nullIfEmpty(p.APIKey), nullIfEmpty(p.BaseURL),
			p.Model, p.Temperature, p.MaxTokens, p.MaxRetries, p.RetryBaseDelay, p.MaxRetryTime,
		).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("provider insert: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE ai_providers
			SET name = $2, enabled = $3, active = $4, api_key = $5, base_url = $6,
			    model = $7, temperature = $8, max_tokens = $9, max_retries = $10,
			    retry_base_delay_seconds = $11, max_retry_seconds = $12
			WHERE id = $1 AND user_id = $13
		`, p.ID, p.Name, p.Enabled, p.Active, nullIfEmpty(p.APIKey), nullIfEmpty(p.BaseURL),
			p.Model, p.Temperature, p.MaxTokens, p.MaxRetries, p.RetryBaseDelay, p.MaxRetryTime,
			p.UserID)
		if err != nil {
			return fmt.Errorf("provider update: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("provider %d: %w", p.ID, ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("provider upsert: commit: %w", err)
	}
	return nil
}
