package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/metrics"
	"github.com/otcheredev/usg-registry/internal/models"
)

// ProfileStore is the persistence the resolver depends on
type ProfileStore interface {
	FindActiveByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.Profile, error)
	SwitchActiveTenant(ctx context.Context, userID, tenantID uuid.UUID) error
}

// ProfileService resolves a user to the single active profile and its tenant
type ProfileService struct {
	store   ProfileStore
	timeout time.Duration
}

// NewProfileService creates a new profile service
func NewProfileService(store ProfileStore, timeout time.Duration) *ProfileService {
	return &ProfileService{
		store:   store,
		timeout: timeout,
	}
}

// Resolve returns the user's active profile with its tenant, or nil when the
// user has none. Two active profiles, or one whose tenant row is gone, is an
// integrity violation; neither row is returned.
func (s *ProfileService) Resolve(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// two rows are enough to see a duplicate
	profiles, err := s.store.FindActiveByUserID(ctx, userID, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile: %w", err)
	}

	switch len(profiles) {
	case 0:
		return nil, nil
	case 1:
	default:
		metrics.IntegrityViolations.Inc()
		log.Error().
			Str("user_id", userID.String()).
			Int("active_profiles", len(profiles)).
			Msg("User has more than one active profile")
		return nil, apperrors.Integrity("user %s has more than one active profile", userID)
	}

	profile := profiles[0]
	if profile.Tenant == nil {
		metrics.IntegrityViolations.Inc()
		log.Error().
			Str("user_id", userID.String()).
			Str("profile_id", profile.ID.String()).
			Str("tenant_id", profile.TenantID.String()).
			Msg("Active profile references a missing tenant")
		return nil, apperrors.Integrity("profile %s references missing tenant %s", profile.ID, profile.TenantID)
	}

	return &profile, nil
}

// SwitchTenant activates the caller's own profile in tenantID and resolves it
// again. Only owners may switch, and only to a tenant where they already hold
// a profile. A failure after the write is returned as is; the switch stays
// committed and the next request resolves the new tenant.
func (s *ProfileService) SwitchTenant(ctx context.Context, ac *models.AuthContext, tenantID uuid.UUID) (*models.Profile, error) {
	if ac == nil {
		return nil, apperrors.ErrUnauthenticated
	}
	if ac.Profile.Role != models.RoleOwner {
		return nil, fmt.Errorf("%w: role %s cannot switch tenant", apperrors.ErrForbidden, ac.Profile.Role)
	}
	if tenantID == uuid.Nil {
		return nil, apperrors.Invalid("tenant_id is required")
	}

	switchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		switchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.store.SwitchActiveTenant(switchCtx, ac.UserID(), tenantID); err != nil {
		switch {
		case apperrors.IsFault(err):
			log.Error().Err(err).Str("user_id", ac.UserID().String()).Msg("Tenant switch failed")
		case errors.Is(err, apperrors.ErrForbidden):
			log.Warn().
				Str("user_id", ac.UserID().String()).
				Str("from_tenant", ac.TenantID().String()).
				Str("to_tenant", tenantID.String()).
				Msg("Tenant switch outside the user's memberships refused")
		}
		return nil, fmt.Errorf("failed to switch tenant: %w", err)
	}

	log.Info().
		Str("user_id", ac.UserID().String()).
		Str("from_tenant", ac.TenantID().String()).
		Str("to_tenant", tenantID.String()).
		Msg("Active tenant switched")

	profile, err := s.Resolve(ctx, ac.UserID())
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, apperrors.ErrNoTenantBinding
	}
	return profile, nil
}
