package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/metrics"
	"github.com/otcheredev/usg-registry/internal/models"
)

// PatientStore is the tenant-scoped record store. Every method takes the
// tenant explicitly.
type PatientStore interface {
	FindByID(ctx context.Context, tenantID uuid.UUID, patientID int64) (*models.Patient, error)
	List(ctx context.Context, tenantID uuid.UUID, ascending bool) ([]models.Patient, error)
	ListPage(ctx context.Context, tenantID uuid.UUID, offset, limit int) ([]models.Patient, int64, error)
	ListFiltered(ctx context.Context, tenantID uuid.UUID, q models.PatientQuery) ([]models.Patient, error)
	Create(ctx context.Context, tenantID uuid.UUID, patient *models.Patient) error
	Update(ctx context.Context, tenantID uuid.UUID, originalID int64, patient *models.Patient) error
	Delete(ctx context.Context, tenantID uuid.UUID, ids []int64) (int64, error)
	MaxID(ctx context.Context, tenantID uuid.UUID) (int64, bool, error)
}

// AuditStore persists audit entries
type AuditStore interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// PatientServiceConfig holds the data layer settings
type PatientServiceConfig struct {
	RPOCPattern  string
	PageSize     int
	StoreTimeout time.Duration
}

// PatientService hands out tenant-bound views of the patient store
type PatientService struct {
	store PatientStore
	audit AuditStore
	cfg   PatientServiceConfig
}

// NewPatientService creates a new patient service
func NewPatientService(store PatientStore, audit AuditStore, cfg PatientServiceConfig) *PatientService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = models.DefaultPageSize
	}
	return &PatientService{
		store: store,
		audit: audit,
		cfg:   cfg,
	}
}

// Scoped binds the service to the tenant of an authorized request. The
// returned value is per request and must not be shared.
func (s *PatientService) Scoped(ac *models.AuthContext) (*ScopedPatients, error) {
	if ac == nil {
		return nil, apperrors.ErrUnauthenticated
	}
	if ac.TenantID() == uuid.Nil {
		return nil, apperrors.ErrNoTenantBinding
	}
	return &ScopedPatients{
		svc:      s,
		tenantID: ac.TenantID(),
		userID:   ac.UserID(),
		role:     ac.Profile.Role,
	}, nil
}

// ScopedPatients is the patient data layer bound to one tenant
type ScopedPatients struct {
	svc      *PatientService
	tenantID uuid.UUID
	userID   uuid.UUID
	role     models.Role
}

// TenantID returns the bound tenant
func (p *ScopedPatients) TenantID() uuid.UUID {
	return p.tenantID
}

func (p *ScopedPatients) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.svc.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.svc.cfg.StoreTimeout)
}

// Fetch returns the record with id, or every record ordered by id when id is nil
func (p *ScopedPatients) Fetch(ctx context.Context, id *int64) ([]models.Patient, error) {
	if id == nil {
		return p.FetchAll(ctx, true)
	}
	patient, err := p.Get(ctx, *id)
	if err != nil {
		return nil, err
	}
	return []models.Patient{*patient}, nil
}

// Get returns one record of the tenant
func (p *ScopedPatients) Get(ctx context.Context, id int64) (*models.Patient, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	patient, err := p.svc.store.FindByID(ctx, p.tenantID, id)
	metrics.ObserveStore("get", start, ignoreNotFound(err))
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return patient, nil
}

// FetchAll returns every record of the tenant ordered by id
func (p *ScopedPatients) FetchAll(ctx context.Context, ascending bool) ([]models.Patient, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	patients, err := p.svc.store.List(ctx, p.tenantID, ascending)
	metrics.ObserveStore("list", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

// FetchPage returns the page-th window of newest records, pages starting at 1
func (p *ScopedPatients) FetchPage(ctx context.Context, page int) (*models.PatientPage, error) {
	if page < 1 {
		page = 1
	}
	size := p.svc.cfg.PageSize

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	patients, count, err := p.svc.store.ListPage(ctx, p.tenantID, (page-1)*size, size)
	metrics.ObserveStore("page", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient page: %w", err)
	}

	return &models.PatientPage{
		Patients: patients,
		Page:     page,
		PageSize: size,
		Count:    count,
	}, nil
}

// FetchFiltered applies a report filter over an inclusive date range
func (p *ScopedPatients) FetchFiltered(ctx context.Context, filter models.ListFilter, from, to time.Time) ([]models.Patient, error) {
	if from.IsZero() || to.IsZero() {
		return nil, apperrors.Invalid("both from and to dates are required")
	}
	if to.Before(from) {
		return nil, apperrors.Invalid("date range ends before it starts")
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	patients, err := p.svc.store.ListFiltered(ctx, p.tenantID, models.PatientQuery{
		Filter:    filter,
		From:      from,
		To:        to,
		GAPattern: p.svc.cfg.RPOCPattern,
	})
	metrics.ObserveStore("filter", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to filter patients: %w", err)
	}
	return patients, nil
}

// Insert stores a new record under the bound tenant, whatever tenant the
// payload carried.
func (p *ScopedPatients) Insert(ctx context.Context, patient *models.Patient) error {
	if patient == nil {
		return apperrors.Invalid("patient is required")
	}
	if patient.TenantID != uuid.Nil && patient.TenantID != p.tenantID {
		log.Warn().
			Str("tenant_id", p.tenantID.String()).
			Str("payload_tenant_id", patient.TenantID.String()).
			Str("user_id", p.userID.String()).
			Msg("Insert payload carried a foreign tenant id; overridden")
	}

	storeCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := p.svc.store.Create(storeCtx, p.tenantID, patient)
	metrics.ObserveStore("insert", start, err)

	p.record(ctx, "patient.insert", strconv.FormatInt(patient.PatientID, 10), start, err)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

// Update rewrites record originalID of the bound tenant. A target outside
// the tenant is refused as a scope violation and logged.
func (p *ScopedPatients) Update(ctx context.Context, originalID int64, patient *models.Patient) error {
	if patient == nil {
		return apperrors.Invalid("patient is required")
	}

	storeCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	err := p.svc.store.Update(storeCtx, p.tenantID, originalID, patient)
	metrics.ObserveStore("update", start, err)

	if errors.Is(err, apperrors.ErrScopeViolation) {
		metrics.ScopeViolations.WithLabelValues("update").Inc()
		log.Warn().
			Str("tenant_id", p.tenantID.String()).
			Str("user_id", p.userID.String()).
			Int64("patient_id", originalID).
			Msg("Update targeted a record outside the tenant")
	}

	p.record(ctx, "patient.update", strconv.FormatInt(originalID, 10), start, err)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	return nil
}

// Delete removes the listed records of the bound tenant. Ids owned by other
// tenants, or already gone, are skipped; the shortfall is logged.
func (p *ScopedPatients) Delete(ctx context.Context, ids []int64) (int64, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	storeCtx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	deleted, err := p.svc.store.Delete(storeCtx, p.tenantID, ids)
	metrics.ObserveStore("delete", start, err)

	resource := joinIDs(ids)
	if err != nil {
		p.record(ctx, "patient.delete", resource, start, err)
		return 0, fmt.Errorf("failed to delete patients: %w", err)
	}

	if skipped := int64(len(ids)) - deleted; skipped > 0 {
		metrics.ScopeViolations.WithLabelValues("delete").Inc()
		log.Warn().
			Str("tenant_id", p.tenantID.String()).
			Str("user_id", p.userID.String()).
			Int("requested", len(ids)).
			Int64("deleted", deleted).
			Msg("Delete skipped ids outside the tenant")
		p.record(ctx, "patient.delete", resource, start,
			fmt.Errorf("%w: %d of %d ids not in tenant", apperrors.ErrScopeViolation, skipped, len(ids)))
		return deleted, nil
	}

	p.record(ctx, "patient.delete", resource, start, nil)
	return deleted, nil
}

// NextID returns the id to suggest for a new record
func (p *ScopedPatients) NextID(ctx context.Context) (int64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	maxID, ok, err := p.svc.store.MaxID(ctx, p.tenantID)
	metrics.ObserveStore("next_id", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get next patient id: %w", err)
	}
	if !ok {
		return models.FirstPatientID, nil
	}
	return maxID + 1, nil
}

// AuditTrail lists the tenant's audit entries, newest first. Owners and
// admins only.
func (p *ScopedPatients) AuditTrail(ctx context.Context, limit, offset int) ([]models.AuditLog, error) {
	if !p.role.CanManageTenant() {
		return nil, fmt.Errorf("%w: role %s cannot read the audit trail", apperrors.ErrForbidden, p.role)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	logs, err := p.svc.audit.ListByTenant(ctx, p.tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

// record writes an audit entry. It outlives request cancellation and never
// fails the operation it describes.
func (p *ScopedPatients) record(ctx context.Context, action, resource string, start time.Time, opErr error) {
	if p.svc.audit == nil {
		return
	}

	entry := &models.AuditLog{
		TenantID:     p.tenantID,
		UserID:       p.userID,
		Action:       action,
		ResourceType: "patient",
		ResourceUID:  resource,
		Status:       models.AuditSuccess,
		Duration:     time.Since(start).Milliseconds(),
	}
	switch {
	case opErr == nil:
	case errors.Is(opErr, apperrors.ErrScopeViolation):
		entry.Status = models.AuditDenied
		entry.ErrorMessage = opErr.Error()
	default:
		entry.Status = models.AuditFailure
		entry.ErrorMessage = opErr.Error()
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()

	if err := p.svc.audit.Create(auditCtx, entry); err != nil {
		log.Error().Err(err).
			Str("tenant_id", p.tenantID.String()).
			Str("action", action).
			Msg("Failed to write audit log")
	}
}

const auditTimeout = 5 * time.Second

func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	s := strings.Join(parts, ",")
	if len(s) > 255 {
		s = s[:252] + "..."
	}
	return s
}
