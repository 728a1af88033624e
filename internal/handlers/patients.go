package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/models"
	"github.com/otcheredev/usg-registry/internal/services"
)

// PatientHandler serves the tenant-scoped patient record endpoints
type PatientHandler struct {
	patients *services.PatientService
	validate *validator.Validate
}

// NewPatientHandler creates a new patient handler
func NewPatientHandler(patients *services.PatientService, validate *validator.Validate) *PatientHandler {
	return &PatientHandler{
		patients: patients,
		validate: validate,
	}
}

func (h *PatientHandler) scoped(r *http.Request) (*services.ScopedPatients, error) {
	ac, err := authContext(r)
	if err != nil {
		return nil, err
	}
	return h.patients.Scoped(ac)
}

// ListPage handles GET /patients?page=N
func (h *PatientHandler) ListPage(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, r, apperrors.Invalid("page must be a positive integer"))
			return
		}
	}

	result, err := scoped.FetchPage(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAll handles GET /patients/all?order=asc|desc
func (h *PatientHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ascending := true
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "asc":
	case "desc":
		ascending = false
	default:
		writeError(w, r, apperrors.Invalid("order must be asc or desc"))
		return
	}

	patients, err := scoped.FetchAll(r.Context(), ascending)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patients": patients,
		"count":    len(patients),
	})
}

// Get handles GET /patients/{id}
func (h *PatientHandler) Get(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	id, err := patientIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	patient, err := scoped.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

// Filter handles GET /patients/filter?kind=&from=&to=
func (h *PatientHandler) Filter(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	kind, ok := models.ParseListFilter(q.Get("kind"))
	if !ok {
		writeError(w, r, apperrors.Invalid("kind must be one of full, female_children_only, rpoc_flagged"))
		return
	}
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	patients, err := scoped.FetchFiltered(r.Context(), kind, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     kind,
		"from":     from.Format(models.DateLayout),
		"to":       to.Format(models.DateLayout),
		"patients": patients,
		"count":    len(patients),
	})
}

// NextID handles GET /patients/next-id
func (h *PatientHandler) NextID(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	next, err := scoped.NextID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"next_id": next})
}

// Create handles POST /add-form
func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	patient, err := h.decodePatient(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := scoped.Insert(r.Context(), patient); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

// Update handles POST /update_record/{id}. The id in the path is the record
// being edited; the payload may carry a new id.
func (h *PatientHandler) Update(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	originalID, err := patientIDParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	patient, err := h.decodePatient(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := scoped.Update(r.Context(), originalID, patient); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

// Delete handles POST /patients/delete
func (h *PatientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	scoped, err := h.scoped(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.DeleteRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	deleted, err := scoped.Delete(r.Context(), req.IDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *PatientHandler) decodePatient(w http.ResponseWriter, r *http.Request) (*models.Patient, error) {
	var req models.PatientRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		return nil, err
	}
	patient, err := req.ToPatient()
	if err != nil {
		return nil, apperrors.Invalid("invalid date: %v", err)
	}
	return patient, nil
}

func patientIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Invalid("patient id must be a positive integer")
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperrors.Invalid("%s is required", field)
	}
	d, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, apperrors.Invalid("%s must be a date in %s format", field, models.DateLayout)
	}
	return d, nil
}
