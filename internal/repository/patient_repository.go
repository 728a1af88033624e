package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
)

// PatientRepository is the tenant-scoped patient store. Every method takes the
// tenant explicitly and puts it in the WHERE clause or the written row.
type PatientRepository struct {
	db *gorm.DB
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *gorm.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

func (r *PatientRepository) scoped(ctx context.Context, tenantID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Patient{}).Where("tenant_id = ?", tenantID)
}

// FindByID retrieves one record of the tenant
func (r *PatientRepository) FindByID(ctx context.Context, tenantID uuid.UUID, patientID int64) (*models.Patient, error) {
	var patient models.Patient
	err := r.scoped(ctx, tenantID).Where("patient_id = ?", patientID).Take(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("patient %d: %w", patientID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, classify("get patient", err)
	}
	return &patient, nil
}

// List retrieves all records of the tenant ordered by patient id
func (r *PatientRepository) List(ctx context.Context, tenantID uuid.UUID, ascending bool) ([]models.Patient, error) {
	order := "patient_id ASC"
	if !ascending {
		order = "patient_id DESC"
	}

	var patients []models.Patient
	if err := r.scoped(ctx, tenantID).Order(order).Find(&patients).Error; err != nil {
		return nil, classify("list patients", err)
	}
	return patients, nil
}

// ListPage retrieves a window of the newest records plus the tenant's total
func (r *PatientRepository) ListPage(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]models.Patient, int64, error) {
	var count int64
	if err := r.scoped(ctx, tenantID).Count(&count).Error; err != nil {
		return nil, 0, classify("count patients", err)
	}

	var patients []models.Patient
	if err := r.scoped(ctx, tenantID).
		Order("patient_id DESC").
		Offset(offset).
		Limit(limit).
		Find(&patients).Error; err != nil {
		return nil, 0, classify("list patient page", err)
	}

	return patients, count, nil
}

// ListFiltered applies a report predicate on top of the tenant and the
// inclusive date_of_usg range
func (r *PatientRepository) ListFiltered(ctx context.Context, tenantID uuid.UUID, q models.PatientQuery) ([]models.Patient, error) {
	query := r.scoped(ctx, tenantID).
		Where("date_of_usg >= ? AND date_of_usg <= ?", q.From, q.To)

	switch q.Filter {
	case models.FilterFull:
	case models.FilterFemaleChildrenOnly:
		query = query.Where("number_of_male_children = ? AND number_of_female_children > ?", 0, 0)
	case models.FilterRPOCFlagged:
		if q.GAPattern == "" {
			return nil, apperrors.Invalid("gestational age pattern is required")
		}
		query = query.Where("LOWER(gestational_age) NOT LIKE LOWER(?)", q.GAPattern)
	default:
		return nil, apperrors.Invalid("unknown filter %q", q.Filter)
	}

	var patients []models.Patient
	if err := query.Order("patient_id ASC").Find(&patients).Error; err != nil {
		return nil, classify("filter patients", err)
	}
	return patients, nil
}

// Create inserts a record under tenantID, overwriting whatever tenant the
// payload carried
func (r *PatientRepository) Create(ctx context.Context, tenantID uuid.UUID, patient *models.Patient) error {
	patient.TenantID = tenantID

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if err := tx.Model(&models.Patient{}).
			Where("tenant_id = ? AND patient_id = ?", tenantID, patient.PatientID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return fmt.Errorf("patient id %d already in use: %w", patient.PatientID, apperrors.ErrConflict)
		}
		return tx.Create(patient).Error
	})

	return classify("create patient", err)
}

// Update rewrites the record originalID of tenantID. A changed patient id is
// applied in the same statement, so there is no delete/insert window. Zero
// matched rows means the target is not in this tenant.
func (r *PatientRepository) Update(ctx context.Context, tenantID uuid.UUID, originalID int64, patient *models.Patient) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if patient.PatientID != originalID {
			var taken int64
			if err := tx.Model(&models.Patient{}).
				Where("tenant_id = ? AND patient_id = ?", tenantID, patient.PatientID).
				Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return fmt.Errorf("patient id %d already in use: %w", patient.PatientID, apperrors.ErrConflict)
			}
		}

		res := tx.Model(&models.Patient{}).
			Where("tenant_id = ? AND patient_id = ?", tenantID, originalID).
			Updates(map[string]any{
				"patient_id":                patient.PatientID,
				"date_of_usg":               patient.DateOfUSG,
				"patient_name":              patient.PatientName,
				"husband_name":              patient.HusbandName,
				"patient_age":               patient.PatientAge,
				"number_of_male_children":   patient.NumberOfMaleChildren,
				"number_of_female_children": patient.NumberOfFemaleChildren,
				"male_children_ages":        patient.MaleChildrenAges,
				"female_children_ages":      patient.FemaleChildrenAges,
				"address":                   patient.Address,
				"mobile_no":                 patient.MobileNo,
				"referred_by":               patient.ReferredBy,
				"last_menstrual_period":     patient.LastMenstrualPeriod,
				"gestational_age":           patient.GestationalAge,
				"rch_id":                    patient.RCHID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("patient %d: %w", originalID, apperrors.ErrScopeViolation)
		}
		return nil
	})

	if err == nil {
		patient.TenantID = tenantID
	}
	return classify("update patient", err)
}

// Delete removes the listed ids that belong to tenantID and reports how many
// rows went. Ids of other tenants simply do not match.
func (r *PatientRepository) Delete(ctx context.Context, tenantID uuid.UUID, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := r.db.WithContext(ctx).
		Where("tenant_id = ? AND patient_id IN ?", tenantID, ids).
		Delete(&models.Patient{})
	if res.Error != nil {
		return 0, classify("delete patients", res.Error)
	}
	return res.RowsAffected, nil
}

// MaxID returns the highest patient id of the tenant. The flag is false when
// the tenant has no records.
func (r *PatientRepository) MaxID(ctx context.Context, tenantID uuid.UUID) (int64, bool, error) {
	var v sql.NullInt64
	if err := r.scoped(ctx, tenantID).Select("MAX(patient_id)").Row().Scan(&v); err != nil {
		return 0, false, classify("max patient id", err)
	}
	return v.Int64, v.Valid, nil
}
