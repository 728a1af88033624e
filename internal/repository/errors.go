package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/apperrors"
)

// classify passes domain errors through and tags anything else as a store failure
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	// a concurrent writer can win between the id check and the insert
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w: %v", op, apperrors.ErrConflict, err)
	}
	for _, known := range []error{
		apperrors.ErrNotFound,
		apperrors.ErrConflict,
		apperrors.ErrScopeViolation,
		apperrors.ErrInvalidInput,
		apperrors.ErrNoTenantBinding,
		apperrors.ErrTenantNotFound,
		apperrors.ErrForbidden,
		apperrors.ErrIntegrityViolation,
		apperrors.ErrUpstreamUnavailable,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return apperrors.Upstream(op, err)
}
