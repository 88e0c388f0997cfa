// Package middleware provides HTTP middleware for the Gleaner API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkoeder/gleaner/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// SessionAuth returns middleware that validates the session_token cookie,
// looks up the session and user in the database, and injects the user
// into the request context. Requests without a valid session receive 401.
func SessionAuth(sessions *models.SessionStore, users *models.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie("session_token")
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			session, err := sessions.GetByToken(r.Context(), cookie.Value)
			if err != nil {
				slog.Debug("session lookup failed", "err", err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			if session.ExpiresAt.Before(time.Now()) {
				// Session expired — clean it up.
				_ = sessions.Delete(r.Context(), session.ID)
				http.Error(w, `{"error":"session expired"}`, http.StatusUnauthorized)
				return
			}

			user, err := users.GetByID(r.Context(), session.UserID)
			if err != nil {
				slog.Error("user lookup failed for valid session", "user_id", session.UserID, "err", err)
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GReaderAuth returns middleware for the Google Reader compatible endpoints.
// It accepts the protocol's "Authorization: GoogleLogin auth=<token>" header
// and, as a convenience for the web frontend, a valid session cookie.
func GReaderAuth(tokens *models.ReaderTokenStore, sessions *models.SessionStore, users *models.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := readerIdentity(r, tokens, sessions)
			if !ok {
				readerUnauthorized(w, r)
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				slog.Error("user lookup failed for valid reader token", "user_id", userID, "err", err)
				readerUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// readerUnauthorized writes a 401 in the shape the client asked for. Reader
// clients calling JSON endpoints send output=json or a JSON Accept header;
// everything else gets the protocol's plain text.
func readerUnauthorized(w http.ResponseWriter, r *http.Request) {
	if readerWantsJSON(r) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

func readerWantsJSON(r *http.Request) bool {
	if r.URL.Query().Get("output") == "json" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// readerIdentity resolves the request to a user ID via GoogleLogin header or
// session cookie.
func readerIdentity(r *http.Request, tokens *models.ReaderTokenStore, sessions *models.SessionStore) (uuid.UUID, bool) {
	if raw := googleLoginToken(r.Header.Get("Authorization")); raw != "" {
		token, err := tokens.GetByToken(r.Context(), raw)
		if err != nil {
			slog.Debug("reader token lookup failed", "err", err)
			return uuid.Nil, false
		}
		if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
			_ = tokens.Delete(r.Context(), token.Token)
			return uuid.Nil, false
		}
		return token.UserID, true
	}

	cookie, err := r.Cookie("session_token")
	if err != nil {
		return uuid.Nil, false
	}
	session, err := sessions.GetByToken(r.Context(), cookie.Value)
	if err != nil || session.ExpiresAt.Before(time.Now()) {
		return uuid.Nil, false
	}
	return session.UserID, true
}

// googleLoginToken extracts the token from a "GoogleLogin auth=<tok>" header.
func googleLoginToken(header string) string {
	const scheme = "GoogleLogin auth="
	if rest, ok := strings.CutPrefix(strings.TrimSpace(header), scheme); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

// RequireAdmin returns middleware that checks the user's admin flag.
// Must be placed after SessionAuth in the middleware chain.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil || !user.IsAdmin {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext extracts the authenticated user from the request context.
// Returns nil if no user is set (i.e., the request is unauthenticated).
func UserFromContext(ctx context.Context) *models.User {
	u, _ := ctx.Value(userContextKey).(*models.User)
	return u
}
