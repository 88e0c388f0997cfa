package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dkoeder/gleaner/internal/greader"
	"github.com/dkoeder/gleaner/internal/middleware"
	"github.com/dkoeder/gleaner/internal/models"
)

// GReaderHandler exposes the Google Reader compatible API. Authentication is
// handled by middleware.GReaderAuth on everything except ClientLogin; the
// protocol work lives in the greader package, this file only translates
// requests and responses.
type GReaderHandler struct {
	Service *greader.Service
}

// ClientLogin handles POST /accounts/ClientLogin.
// Reads the form fields Email and Passwd and answers in the legacy
// line-oriented text format reader clients parse.
func (h *GReaderHandler) ClientLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeText(w, http.StatusBadRequest, "Error=BadRequest\n")
		return
	}

	token, err := h.Service.Login(r.Context(), r.FormValue("Email"), r.FormValue("Passwd"))
	if err != nil {
		if errors.Is(err, greader.ErrBadAuth) {
			writeText(w, http.StatusForbidden, "Error=BadAuthentication\n")
			return
		}
		slog.Error("greader: client login", "err", err)
		writeText(w, http.StatusInternalServerError, "Error=Unknown\n")
		return
	}

	writeText(w, http.StatusOK, "SID="+token+"\nLSID=\nAuth="+token+"\n")
}

// Token handles GET /reader/api/0/token.
// Returns a fresh short-lived token as plain text.
func (h *GReaderHandler) Token(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	token, err := h.Service.MintToken(r.Context(), user.ID)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeText(w, http.StatusOK, token)
}

// UserInfo handles GET /reader/api/0/user-info.
func (h *GReaderHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, greader.UserInfoFor(user))
}

// SubscriptionList handles GET /reader/api/0/subscription/list.
func (h *GReaderHandler) SubscriptionList(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	subs, err := h.Service.Subscriptions(r.Context(), user)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// SubscriptionEdit handles POST /reader/api/0/subscription/edit.
// Form: s (stream), ac (action), t (title), a/r (labels to add/remove).
func (h *GReaderHandler) SubscriptionEdit(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	err := h.Service.EditSubscription(r.Context(), user, greader.SubscriptionEdit{
		StreamID:     r.FormValue("s"),
		Action:       r.FormValue("ac"),
		Title:        r.FormValue("t"),
		AddLabels:    r.Form["a"],
		RemoveLabels: r.Form["r"],
	})
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// TagList handles GET /reader/api/0/tag/list.
func (h *GReaderHandler) TagList(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	tags, err := h.Service.Tags(r.Context(), user)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

// EditTag handles POST /reader/api/0/edit-tag.
// Form: i (item IDs, repeated), a/r (state tags to add/remove).
func (h *GReaderHandler) EditTag(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	ids, err := greader.ParseItemIDs(r.Form["i"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Service.EditTags(r.Context(), user, ids, r.Form["a"], r.Form["r"]); err != nil {
		h.error(w, r, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// MarkAllRead handles POST /reader/api/0/mark-all-as-read.
// Form: s (stream), ts (optional upper bound, seconds or microseconds).
func (h *GReaderHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := h.Service.MarkAllRead(r.Context(), user, r.FormValue("s"), parseMarkTimestamp(r.FormValue("ts"))); err != nil {
		h.error(w, r, err)
		return
	}
	writeText(w, http.StatusOK, "OK")
}

// UnreadCount handles GET /reader/api/0/unread-count.
func (h *GReaderHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	all := r.FormValue("all")
	page, err := h.Service.UnreadCounts(r.Context(), user, all == "1" || all == "true")
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// StreamItemIDs handles GET /reader/api/0/stream/items/ids.
func (h *GReaderHandler) StreamItemIDs(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	page, err := h.Service.StreamItemIDs(r.Context(), user, streamQuery(r))
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// StreamContents handles /reader/api/0/stream/contents[/<stream>] and
// /reader/api/0/stream/items/contents, GET or POST. A stream ID may arrive
// URL-escaped in the path or as the s parameter; repeated i parameters switch
// to a by-ID lookup.
func (h *GReaderHandler) StreamContents(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	q := streamQuery(r)
	if rest := chi.URLParam(r, "*"); rest != "" {
		unescaped, err := url.PathUnescape(rest)
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		q.StreamID = unescaped
	}
	if raw := r.Form["i"]; len(raw) > 0 {
		ids, err := greader.ParseItemIDs(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.ItemIDs = ids
	}

	page, err := h.Service.StreamContents(r.Context(), user, q)
	if err != nil {
		h.error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// streamQuery reads the shared stream parameters: s, n, c, ot, xt, it, r.
func streamQuery(r *http.Request) greader.StreamQuery {
	q := greader.StreamQuery{
		StreamID:   r.FormValue("s"),
		ExcludeTag: r.FormValue("xt"),
		IncludeTag: r.FormValue("it"),
		Ascending:  r.FormValue("r") == "o",
	}
	if n, err := strconv.Atoi(r.FormValue("n")); err == nil {
		q.Count = n
	}
	if c, err := strconv.Atoi(r.FormValue("c")); err == nil && c > 0 {
		q.Continuation = c
	}
	if ot, err := strconv.ParseInt(r.FormValue("ot"), 10, 64); err == nil && ot > 0 {
		t := time.Unix(ot, 0)
		q.MinTime = &t
	}
	return q
}

// parseMarkTimestamp reads the ts bound of mark-all-as-read. Clients send
// seconds or microseconds depending on vintage; anything above 1e11 cannot
// be seconds.
func parseMarkTimestamp(raw string) *time.Time {
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts <= 0 {
		return nil
	}
	var t time.Time
	if ts > 100_000_000_000 {
		t = time.UnixMicro(ts)
	} else {
		t = time.Unix(ts, 0)
	}
	return &t
}

// error maps service errors onto the protocol's plain-text status responses.
func (h *GReaderHandler) error(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, greader.ErrBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, greader.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	default:
		slog.Error("greader: request failed", "path", r.URL.Path, "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
