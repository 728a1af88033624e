package handlers

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
	"github.com/otcheredev/usg-registry/internal/services"
)

// ProfileHandler exposes the caller's binding and the tenant switch
type ProfileHandler struct {
	profiles *services.ProfileService
	patients *services.PatientService
	validate *validator.Validate
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(profiles *services.ProfileService, patients *services.PatientService, validate *validator.Validate) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		patients: patients,
		validate: validate,
	}
}

type switchTenantRequest struct {
	TenantID string `json:"tenant_id" validate:"required,uuid"`
}

type meResponse struct {
	UserID  uuid.UUID      `json:"user_id"`
	Email   string         `json:"email,omitempty"`
	Profile models.Profile `json:"profile"`
	Tenant  models.Tenant  `json:"tenant"`
}

func newMeResponse(ac *models.AuthContext) meResponse {
	return meResponse{
		UserID:  ac.UserID(),
		Email:   ac.Session.Email,
		Profile: ac.Profile,
		Tenant:  ac.Tenant,
	}
}

// Me handles GET /api/v1/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMeResponse(ac))
}

// SwitchTenant handles POST /api/v1/profile/tenant
func (h *ProfileHandler) SwitchTenant(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req switchTenantRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		writeError(w, r, apperrors.Invalid("tenant_id must be a uuid"))
		return
	}

	profile, err := h.profiles.SwitchTenant(r.Context(), ac, tenantID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	next := *ac
	next.Tenant = *profile.Tenant
	next.Profile = *profile
	next.Profile.Tenant = nil
	writeJSON(w, http.StatusOK, newMeResponse(&next))
}

type dashboardResponse struct {
	meResponse
	PatientCount int64 `json:"patient_count"`
	NextID       int64 `json:"next_id"`
}

// Dashboard handles GET /dashboard
func (h *ProfileHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	scoped, err := h.patients.Scoped(ac)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page, err := scoped.FetchPage(r.Context(), 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	next, err := scoped.NextID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		meResponse:   newMeResponse(ac),
		PatientCount: page.Count,
		NextID:       next,
	})
}
