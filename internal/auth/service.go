package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
)

// Service runs the sign-in, sign-up and sign-out flows
type Service struct {
	idp      *IdentityClient
	sessions *JWTSessionProvider
}

// NewService creates a new auth service
func NewService(idp *IdentityClient, sessions *JWTSessionProvider) *Service {
	return &Service{
		idp:      idp,
		sessions: sessions,
	}
}

// SignIn authenticates with the provider and verifies the issued token before
// handing it out, so a misconfigured secret fails here and not on every
// later request.
func (s *Service) SignIn(ctx context.Context, email, password string) (*TokenResponse, *models.Session, error) {
	token, err := s.idp.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign in: %w", err)
	}

	session, err := s.sessions.Verify(token.AccessToken)
	if err != nil {
		log.Error().Err(err).Msg("Identity provider issued a token this service cannot verify")
		return nil, nil, apperrors.Upstream("verify issued token", err)
	}

	log.Info().Str("user_id", session.UserID.String()).Msg("User signed in")
	return token, session, nil
}

// SignUp registers a user for the tenant identified by tenantSlug
func (s *Service) SignUp(ctx context.Context, email, password, tenantSlug string) (*ProviderUser, error) {
	user, err := s.idp.SignUp(ctx, strings.TrimSpace(email), password, strings.TrimSpace(tenantSlug))
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	log.Info().Str("user_id", user.ID).Str("tenant_slug", tenantSlug).Msg("User signed up")
	return user, nil
}

// SignOut revokes the session locally and then at the provider. The local
// revocation is what the gate enforces; a provider failure is only logged.
func (s *Service) SignOut(ctx context.Context, session *models.Session) error {
	if session == nil {
		return nil
	}

	if err := s.sessions.Revoke(ctx, session); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}

	if err := s.idp.Logout(ctx, session.Token); err != nil {
		log.Warn().Err(err).Str("user_id", session.UserID.String()).Msg("Identity provider logout failed")
	}

	log.Info().Str("user_id", session.UserID.String()).Msg("User signed out")
	return nil
}

// Sessions returns the session provider used by the gate
func (s *Service) Sessions() *JWTSessionProvider {
	return s.sessions
}
