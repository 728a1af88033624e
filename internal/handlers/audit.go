package handlers

import (
	"net/http"
	"strconv"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/services"
)

// AuditHandler lists the tenant's audit trail
type AuditHandler struct {
	patients *services.PatientService
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(patients *services.PatientService) *AuditHandler {
	return &AuditHandler{patients: patients}
}

// List handles GET /api/v1/audit?limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
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

	limit, err := intQuery(r, "limit", 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logs, err := scoped.AuditTrail(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": logs,
		"limit":   limit,
		"offset":  offset,
	})
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Invalid("%s must be a non-negative integer", name)
	}
	return n, nil
}
