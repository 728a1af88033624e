package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/access"
	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
)

type contextKey string

const AuthContextKey contextKey = "auth_context"

// Authorizer decides whether a request may proceed
type Authorizer interface {
	Authorize(r *http.Request) (access.Decision, error)
}

// Gate runs the authorizer on every request. Authorized requests carry the
// AuthContext downstream, redirects are answered with 303 and collaborator
// failures with a generic 500/503.
func Gate(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := authorizer.Authorize(r)
			if err != nil {
				if r.Context().Err() != nil {
					// client went away; nobody is listening for the answer
					log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request cancelled during authorization")
					return
				}

				status := apperrors.HTTPStatus(err)
				event := log.Error()
				if errors.Is(err, apperrors.ErrIntegrityViolation) {
					event = event.Bool("integrity_violation", true)
				}
				event.Err(err).
					Str("path", r.URL.Path).
					Str("request_id", requestID(r)).
					Int("status", status).
					Msg("Authorization failed")

				http.Error(w, apperrors.ClientMessage(err), status)
				return
			}

			switch decision.Outcome {
			case access.Authorized:
				next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), decision.Context)))
			case access.Redirected:
				log.Debug().
					Str("path", r.URL.Path).
					Str("target", decision.Redirect.Target).
					AnErr("reason", decision.Reason).
					Msg("Request redirected by gate")
				http.Redirect(w, r, decision.Redirect.Target, decision.Redirect.Status)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// WithAuthContext attaches ac to ctx
func WithAuthContext(ctx context.Context, ac *models.AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// GetAuthContext extracts the authorized context
func GetAuthContext(ctx context.Context) (*models.AuthContext, bool) {
	ac, ok := ctx.Value(AuthContextKey).(*models.AuthContext)
	return ac, ok && ac != nil
}

// GetTenantID extracts the bound tenant ID from context
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	ac, ok := GetAuthContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return ac.TenantID(), true
}
