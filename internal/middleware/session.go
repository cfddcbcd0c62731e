// Package middleware provides HTTP middleware for the companion API.
//
// Middleware in this package:
//   - Session guard backed by the session manager
//   - Structured request/response logging with correlation IDs
//   - Prometheus metrics collection
//   - Rate limiting per IP address
//
// All middleware is composable with the chi router.
package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/ieraasyl/PsoriScan/internal/identity"
	"github.com/ieraasyl/PsoriScan/internal/models"
	"github.com/ieraasyl/PsoriScan/pkg/utils"
	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// SessionKey is the context key for the active session, set by
// RequireSession.
const SessionKey contextKey = "session"

// SessionSource returns the active, fresh session or an error when signed
// out. *services.SessionManager implements it.
type SessionSource interface {
	GetCurrentSession(ctx context.Context) (*models.Session, error)
}

// RequireSession rejects requests with 401 unless a session is active. The
// process holds a single session so no request credential is inspected;
// the check also refreshes tokens that are about to expire.
//
// Usage:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(middleware.RequireSession(sessions))
//	    r.Get("/api/history", h.History)
//	})
//
// A refresh that failed in transit answers 502 with remediation "retry"; any
// other error answers 401. Handlers read the session with GetSession.
func RequireSession(sessions SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sessions.GetCurrentSession(r.Context())
			if errors.Is(err, identity.ErrUnknownAuth) {
				log.Warn().Err(err).Str("path", r.URL.Path).Msg("Session refresh unavailable")
				utils.RespondWithErrorRemediation(w, r, http.StatusBadGateway,
					"Could not refresh the session, please try again", "retry")
				return
			}
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request without active session")
				utils.RespondWithErrorRemediation(w, r, http.StatusUnauthorized,
					"Not signed in", "sign_in")
				return
			}

			ctx := context.WithValue(r.Context(), SessionKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the session stored by RequireSession.
func GetSession(ctx context.Context) (*models.Session, bool) {
	session, ok := ctx.Value(SessionKey).(*models.Session)
	return session, ok && session != nil
}
