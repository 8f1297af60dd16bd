package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agixt/agixt-web/internal/models"
	"github.com/agixt/agixt-web/internal/services"
)

type sessionContextKey struct{}

// invitationMaxAge is the lifetime of the invitation cookies, in seconds.
const invitationMaxAge = 86400

// WithSession returns a copy of ctx carrying session.
func WithSession(ctx context.Context, session models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext returns the session stored by the authentication middleware.
func SessionFromContext(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(models.Session)
	return s, ok
}

func isPublicPath(path string) bool {
	return strings.HasPrefix(path, "/user") ||
		strings.HasPrefix(path, "/static/") ||
		strings.HasPrefix(path, "/docs")
}

// TokenFromRequest returns the jwt cookie of r with any "Bearer " prefixes removed.
func TokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(models.CookieJWT)
	if err != nil {
		return ""
	}
	token := strings.TrimSpace(c.Value)
	for strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	}
	return token
}

// Authenticate verifies the token of every request to a protected path and stores the resulting session in
// the request context. Requests without a valid token are redirected to the authentication page with the
// token cookie cleared. Invitation links and email verification codes found in the query are handled on the
// way.
func (m Main) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		q := r.URL.Query()
		if invitation := q.Get("invitation_id"); invitation != "" {
			m.setCookie(w, models.CookieInvitation, invitation, invitationMaxAge)
			if email := q.Get("email"); email != "" {
				m.setCookie(w, models.CookieEmail, email, invitationMaxAge)
			}
			if company := q.Get("company"); company != "" {
				m.setCookie(w, models.CookieCompany, company, invitationMaxAge)
			}
		}
		if code := q.Get("verify_email"); code != "" {
			if err := m.api.VerifyEmail(r.Context(), q.Get("email"), code); err != nil {
				m.logger.Warn("Failed to verify email",
					slog.String("email", q.Get("email")),
					slog.String(errLoggerKey, err.Error()))
			}
		}

		token := TokenFromRequest(r)
		if token == "" {
			m.redirectToAuth(w, r)
			return
		}

		user, err := m.api.User(r.Context(), token)
		if err != nil {
			if errors.Is(err, services.ErrUnauthorized) {
				m.redirectToAuth(w, r)
				return
			}
			m.logger.Error("Failed to verify user", slog.String(errLoggerKey, err.Error()))
			http.Error(w, "AGiXT server unavailable", http.StatusServiceUnavailable)
			return
		}

		session := models.Session{
			JWT:   token,
			User:  user,
			Flags: make(map[string]string, len(models.FlagCookies)),
		}
		if c, err := r.Cookie(models.CookieAgent); err == nil {
			session.Agent = c.Value
		}
		for flag, cookie := range models.FlagCookies {
			if c, err := r.Cookie(cookie); err == nil {
				session.Flags[flag] = c.Value
			}
		}

		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

// HandleLogout clears the token cookie and sends the user to the authentication page.
func (m Main) HandleLogout(w http.ResponseWriter, r *http.Request) {
	m.clearCookie(w, models.CookieJWT)
	http.Redirect(w, r, m.cfg.AuthURI, http.StatusFound)
}

func (m Main) redirectToAuth(w http.ResponseWriter, r *http.Request) {
	m.clearCookie(w, models.CookieJWT)
	// Event streams and background requests can't follow a redirect into a page.
	if r.Header.Get("X-Requested-With") != "" || r.Header.Get("Accept") == "text/event-stream" {
		w.Header().Set("X-Redirect", m.cfg.AuthURI)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, m.cfg.AuthURI, http.StatusFound)
}

func (m Main) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   m.cfg.CookieDomain,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m Main) clearCookie(w http.ResponseWriter, name string) {
	m.setCookie(w, name, "", -1)
}
