package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
)

// ProfileRepository reads and reassigns user profiles
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// FindActiveByUserID loads up to limit active profiles for a user with their
// tenant preloaded. Callers pass limit 2 to detect duplicates without
// scanning every row.
func (r *ProfileRepository) FindActiveByUserID(ctx context.Context, userID uuid.UUID, limit int) ([]models.Profile, error) {
	var profiles []models.Profile
	if err := r.db.WithContext(ctx).
		Preload("Tenant").
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at ASC").
		Limit(limit).
		Find(&profiles).Error; err != nil {
		return nil, classify("load active profiles", err)
	}
	return profiles, nil
}

// Create inserts a profile
func (r *ProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return classify("create profile", err)
	}
	return nil
}

// SwitchActiveTenant makes the user's existing profile in tenantID the
// active one and deactivates the current one, in one transaction. A user
// without a profile in tenantID is refused; more than one active profile
// rolls back.
func (r *ProfileRepository) SwitchActiveTenant(ctx context.Context, userID, tenantID uuid.UUID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenants int64
		if err := tx.Model(&models.Tenant{}).Where("id = ?", tenantID).Count(&tenants).Error; err != nil {
			return apperrors.Upstream("check tenant", err)
		}
		if tenants == 0 {
			return fmt.Errorf("%w: %s", apperrors.ErrTenantNotFound, tenantID)
		}

		var active []models.Profile
		if err := tx.Where("user_id = ? AND is_active = ?", userID, true).
			Limit(2).
			Find(&active).Error; err != nil {
			return apperrors.Upstream("load active profile", err)
		}
		switch {
		case len(active) == 0:
			return apperrors.ErrNoTenantBinding
		case len(active) > 1:
			return apperrors.Integrity("user %s has more than one active profile", userID)
		}
		if active[0].TenantID == tenantID {
			return nil
		}

		var target models.Profile
		err := tx.Where("user_id = ? AND tenant_id = ?", userID, tenantID).
			Order("created_at ASC").
			Take(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %s has no profile in tenant %s", apperrors.ErrForbidden, userID, tenantID)
		}
		if err != nil {
			return apperrors.Upstream("load target profile", err)
		}

		// deactivate first so at most one row is ever active
		if err := tx.Model(&models.Profile{}).
			Where("id = ?", active[0].ID).
			Update("is_active", false).Error; err != nil {
			return apperrors.Upstream("deactivate profile", err)
		}
		res := tx.Model(&models.Profile{}).
			Where("id = ? AND user_id = ?", target.ID, userID).
			Update("is_active", true)
		if res.Error != nil {
			return apperrors.Upstream("activate profile", res.Error)
		}
		if res.RowsAffected != 1 {
			return apperrors.Integrity("profile %s changed during tenant switch", target.ID)
		}
		return nil
	})

	return classify("switch tenant", err)
}
