package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkoeder/gleaner/internal/aggregate"
	"github.com/dkoeder/gleaner/internal/fetch"
	"github.com/dkoeder/gleaner/internal/images"
	"github.com/dkoeder/gleaner/internal/middleware"
	"github.com/dkoeder/gleaner/internal/models"
)

// AdminHandler groups the management endpoints: feeds, groups, users,
// aggregator metadata, integration settings, and AI providers. All of them
// sit behind SessionAuth + RequireAdmin except FeedIcon, which is public so
// reader clients can load subscription icons.
type AdminHandler struct {
	Feeds    *models.FeedStore
	Groups   *models.FeedGroupStore
	Users    *models.UserStore
	Settings *models.SettingsStore
	Registry *aggregate.Registry
	Runner   *aggregate.Runner
	Fetch    *fetch.Client
	Images   *images.Service
}

// feedRequest is the create/update body for feeds.
type feedRequest struct {
	Identifier    string         `json:"identifier"`
	AggregatorTag string         `json:"aggregator_tag"`
	Name          string         `json:"name"`
	DailyLimit    int            `json:"daily_limit"`
	Enabled       *bool          `json:"enabled"`
	Shared        bool           `json:"shared"`
	GroupID       *int64         `json:"group_id"`
	Options       map[string]any `json:"options"`
}

// ListFeeds handles GET /api/admin/feeds.
func (h *AdminHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.Feeds.ListAll(r.Context())
	if err != nil {
		slog.Error("admin: list feeds", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list feeds"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds})
}

// CreateFeed handles POST /api/admin/feeds.
// Validates the aggregator tag against the registry and normalizes the
// identifier through the adapter before storing. The site favicon is fetched
// in the background.
func (h *AdminHandler) CreateFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	adapter, ok := h.Registry.Get(req.AggregatorTag)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown aggregator tag"})
		return
	}

	if req.Identifier == "" {
		req.Identifier = adapter.DefaultIdentifier()
	}
	identifier, err := adapter.NormalizeIdentifier(req.Identifier)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	feed := &models.Feed{
		Identifier:    identifier,
		AggregatorTag: req.AggregatorTag,
		Name:          req.Name,
		DailyLimit:    req.DailyLimit,
		Enabled:       req.Enabled == nil || *req.Enabled,
		GroupID:       req.GroupID,
		Options:       req.Options,
	}
	if !req.Shared {
		user := middleware.UserFromContext(r.Context())
		feed.OwnerID = &user.ID
	}

	if err := h.Feeds.Create(r.Context(), feed); err != nil {
		slog.Error("admin: create feed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create feed"})
		return
	}

	go h.refreshIcon(feed)

	writeJSON(w, http.StatusCreated, feed)
}

// UpdateFeed handles PUT /api/admin/feeds/{id}.
func (h *AdminHandler) UpdateFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feedFromPath(w, r)
	if !ok {
		return
	}

	var req feedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.AggregatorTag != "" {
		feed.AggregatorTag = req.AggregatorTag
	}
	adapter, ok := h.Registry.Get(feed.AggregatorTag)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown aggregator tag"})
		return
	}

	identifierChanged := false
	if req.Identifier != "" && req.Identifier != feed.Identifier {
		identifier, err := adapter.NormalizeIdentifier(req.Identifier)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		identifierChanged = identifier != feed.Identifier
		feed.Identifier = identifier
	}
	if req.Name != "" {
		feed.Name = req.Name
	}
	if req.DailyLimit > 0 {
		feed.DailyLimit = req.DailyLimit
	}
	if req.Enabled != nil {
		feed.Enabled = *req.Enabled
	}
	feed.GroupID = req.GroupID
	if req.Options != nil {
		feed.Options = req.Options
	}

	if err := h.Feeds.Update(r.Context(), feed); err != nil {
		h.storeError(w, "update feed", err)
		return
	}

	if identifierChanged {
		go h.refreshIcon(feed)
	}

	writeJSON(w, http.StatusOK, feed)
}

// ToggleFeed handles PATCH /api/admin/feeds/{id}/toggle.
func (h *AdminHandler) ToggleFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feedFromPath(w, r)
	if !ok {
		return
	}
	if err := h.Feeds.SetEnabled(r.Context(), feed.ID, !feed.Enabled); err != nil {
		h.storeError(w, "toggle feed", err)
		return
	}
	feed.Enabled = !feed.Enabled
	writeJSON(w, http.StatusOK, feed)
}

// DeleteFeed handles DELETE /api/admin/feeds/{id}.
func (h *AdminHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feedFromPath(w, r)
	if !ok {
		return
	}
	if err := h.Feeds.Delete(r.Context(), feed.ID); err != nil {
		h.storeError(w, "delete feed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// RunFeed handles POST /api/admin/feeds/{id}/run.
// Triggers one aggregation run in the background.
func (h *AdminHandler) RunFeed(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feedFromPath(w, r)
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.Runner.RunFeed(ctx, feed); err != nil {
			slog.Error("admin: manual run failed", "feed", feed.ID, "err", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// FeedIcon handles GET /api/feeds/{id}/icon.
// Serves the stored favicon bytes; public, since reader clients and <img>
// tags fetch it without headers.
func (h *AdminHandler) FeedIcon(w http.ResponseWriter, r *http.Request) {
	feed, ok := h.feedFromPath(w, r)
	if !ok {
		return
	}
	if len(feed.Icon) == 0 {
		http.NotFound(w, r)
		return
	}

	contentType := feed.IconType
	if contentType == "" {
		contentType = http.DetectContentType(feed.Icon)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(feed.Icon)
}

// ListGroups handles GET /api/admin/groups.
func (h *AdminHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	groups, err := h.Groups.ListByOwner(r.Context(), user.ID)
	if err != nil {
		slog.Error("admin: list groups", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list groups"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// CreateGroup handles POST /api/admin/groups.
func (h *AdminHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	user := middleware.UserFromContext(r.Context())
	group, err := h.Groups.GetOrCreate(r.Context(), user.ID, strings.TrimSpace(req.Name))
	if err != nil {
		slog.Error("admin: create group", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create group"})
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// DeleteGroup handles DELETE /api/admin/groups/{id}.
// Scoped to the caller's own groups.
func (h *AdminHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid group id"})
		return
	}

	user := middleware.UserFromContext(r.Context())
	group, err := h.Groups.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, "get group", err)
		return
	}
	if group.OwnerID != user.ID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	if err := h.Groups.Delete(r.Context(), id); err != nil {
		h.storeError(w, "delete group", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ListUsers handles GET /api/admin/users.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.List(r.Context())
	if err != nil {
		slog.Error("admin: list users", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list users"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// CreateUser handles POST /api/admin/users.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		IsAdmin  bool   `json:"is_admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("admin: hash password", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		IsAdmin:      req.IsAdmin,
	}
	if err := h.Users.Create(r.Context(), user); err != nil {
		slog.Error("admin: create user", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create user"})
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// UpdateUserPassword handles PUT /api/admin/users/{id}/password.
func (h *AdminHandler) UpdateUserPassword(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password is required"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("admin: hash password", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if err := h.Users.UpdatePassword(r.Context(), id, string(hash)); err != nil {
		h.storeError(w, "update password", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteUser handles DELETE /api/admin/users/{id}.
// Deleting your own account is refused.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return
	}

	user := middleware.UserFromContext(r.Context())
	if user.ID == id {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot delete the current user"})
		return
	}

	if err := h.Users.Delete(r.Context(), id); err != nil {
		h.storeError(w, "delete user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// aggregatorInfo describes one registered adapter for the admin form.
type aggregatorInfo struct {
	Tag               string                       `json:"tag"`
	DefaultIdentifier string                       `json:"default_identifier,omitempty"`
	IdentifierChoices []aggregate.IdentifierChoice `json:"identifier_choices,omitempty"`
	ConfigFields      []aggregate.ConfigField      `json:"config_fields,omitempty"`
}

// Aggregators handles GET /api/admin/aggregators.
// Lists every registered adapter with its capability set.
func (h *AdminHandler) Aggregators(w http.ResponseWriter, r *http.Request) {
	infos := make([]aggregatorInfo, 0)
	for _, tag := range h.Registry.Tags() {
		adapter, ok := h.Registry.Get(tag)
		if !ok {
			continue
		}
		infos = append(infos, aggregatorInfo{
			Tag:               adapter.Tag(),
			DefaultIdentifier: adapter.DefaultIdentifier(),
			IdentifierChoices: adapter.IdentifierChoices(),
			ConfigFields:      adapter.ConfigFields(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"aggregators": infos})
}

// GetSettings handles GET /api/admin/settings.
// Returns the caller's integration settings; secrets are never serialized.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	settings, err := h.Settings.Get(r.Context(), user.ID)
	if err != nil {
		slog.Error("admin: get settings", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load settings"})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/admin/settings.
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RedditClientID     string `json:"reddit_client_id"`
		RedditClientSecret string `json:"reddit_client_secret"`
		RedditUserAgent    string `json:"reddit_user_agent"`
		RedditEnabled      bool   `json:"reddit_enabled"`
		YouTubeAPIKey      string `json:"youtube_api_key"`
		YouTubeEnabled     bool   `json:"youtube_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user := middleware.UserFromContext(r.Context())
	settings := &models.UserSettings{
		UserID:             user.ID,
		RedditClientID:     req.RedditClientID,
		RedditClientSecret: req.RedditClientSecret,
		RedditUserAgent:    req.RedditUserAgent,
		RedditEnabled:      req.RedditEnabled,
		YouTubeAPIKey:      req.YouTubeAPIKey,
		YouTubeEnabled:     req.YouTubeEnabled,
	}
	if err := h.Settings.Upsert(r.Context(), settings); err != nil {
		slog.Error("admin: update settings", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// ListProviders handles GET /api/admin/providers.
func (h *AdminHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	providers, err := h.Settings.ListProviders(r.Context(), user.ID)
	if err != nil {
		slog.Error("admin: list providers", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list providers"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

// UpsertProvider handles PUT /api/admin/providers.
func (h *AdminHandler) UpsertProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID             int64   `json:"id"`
		Name           string  `json:"name"`
		Enabled        bool    `json:"enabled"`
		Active         bool    `json:"active"`
		APIKey         string  `json:"api_key"`
		BaseURL        string  `json:"base_url"`
		Model          string  `json:"model"`
		Temperature    float64 `json:"temperature"`
		MaxTokens      int     `json:"max_tokens"`
		MaxRetries     int     `json:"max_retries"`
		RetryBaseDelay int     `json:"retry_base_delay_seconds"`
		MaxRetryTime   int     `json:"max_retry_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.Model == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and model are required"})
		return
	}

	user := middleware.UserFromContext(r.Context())
	provider := &models.AIProvider{
		ID:             req.ID,
		UserID:         user.ID,
		Name:           req.Name,
		Enabled:        req.Enabled,
		Active:         req.Active,
		APIKey:         req.APIKey,
		BaseURL:        req.BaseURL,
		Model:          req.Model,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		MaxRetries:     req.MaxRetries,
		RetryBaseDelay: req.RetryBaseDelay,
		MaxRetryTime:   req.MaxRetryTime,
	}
	if err := h.Settings.UpsertProvider(r.Context(), provider); err != nil {
		h.storeError(w, "upsert provider", err)
		return
	}
	writeJSON(w, http.StatusOK, provider)
}

// feedFromPath loads the feed named by the {id} URL parameter, writing the
// error response on failure.
func (h *AdminHandler) feedFromPath(w http.ResponseWriter, r *http.Request) (*models.Feed, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid feed id"})
		return nil, false
	}
	feed, err := h.Feeds.GetByID(r.Context(), id)
	if err != nil {
		h.storeError(w, "get feed", err)
		return nil, false
	}
	return feed, true
}

// storeError maps store errors to 404/500 JSON responses.
func (h *AdminHandler) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	slog.Error("admin: "+op, "err", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// refreshIcon fetches and stores a feed's favicon: /favicon.ico against the
// adapter's site URL first, then any icon <link> in the homepage HTML.
// Best-effort.
func (h *AdminHandler) refreshIcon(feed *models.Feed) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	adapter, ok := h.Registry.Get(feed.AggregatorTag)
	if !ok {
		return
	}
	site, err := url.Parse(adapter.SourceURL(feed))
	if err != nil || (site.Scheme != "http" && site.Scheme != "https") {
		return
	}

	origin := site.Scheme + "://" + site.Host
	if h.storeIconFrom(ctx, feed, origin+"/favicon.ico") {
		return
	}

	doc, err := h.Fetch.GetDocument(ctx, origin)
	if err != nil {
		slog.Debug("admin: icon homepage fetch failed", "feed", feed.ID, "err", err)
		return
	}
	href := iconLinkHref(doc)
	if href == "" {
		return
	}
	if ref, err := site.Parse(href); err == nil {
		h.storeIconFrom(ctx, feed, ref.String())
	}
}

// storeIconFrom downloads, recompresses and persists one icon candidate.
func (h *AdminHandler) storeIconFrom(ctx context.Context, feed *models.Feed, iconURL string) bool {
	data, contentType, err := h.Fetch.GetImage(ctx, iconURL)
	if err != nil {
		return false
	}
	result := h.Images.Process(data, contentType, false)
	if result == nil {
		return false
	}
	if err := h.Feeds.SetIcon(ctx, feed.ID, result.Bytes, result.ContentType); err != nil {
		slog.Warn("admin: store icon", "feed", feed.ID, "err", err)
		return false
	}
	slog.Debug("admin: icon stored", "feed", feed.ID, "source", iconURL)
	return true
}

// iconLinkHref returns the first usable icon link of a page.
func iconLinkHref(doc *goquery.Document) string {
	var href string
	doc.Find(`link[rel]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		rel := strings.ToLower(s.AttrOr("rel", ""))
		if !strings.Contains(rel, "icon") {
			return true
		}
		if v := strings.TrimSpace(s.AttrOr("href", "")); v != "" {
			href = v
			return false
		}
		return true
	})
	return href
}
