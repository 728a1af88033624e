package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/middleware"
	"github.com/otcheredev/usg-registry/internal/models"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// NewValidator returns a validator that reports fields by their JSON names
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps err to a status and a client-safe message. Faults are
// logged in full; the client only sees a generic text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)

	if status >= http.StatusInternalServerError {
		if r.Context().Err() != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request cancelled")
			return
		}
		event := log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("request_id", chimiddleware.GetReqID(r.Context()))
		if tenantID, ok := middleware.GetTenantID(r.Context()); ok {
			event = event.Str("tenant_id", tenantID.String())
		}
		event.Msg("Request failed")
	}

	writeJSON(w, status, errorResponse{Error: apperrors.ClientMessage(err)})
}

// decodeAndValidate reads a JSON body into dst and runs struct validation
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) error {
	// unknown fields such as a client supplied tenant_id are ignored
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return apperrors.Invalid("invalid request body: %v", err)
	}
	if err := v.Struct(dst); err != nil {
		return apperrors.Invalid("%s", formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "datetime":
			msgs = append(msgs, fmt.Sprintf("%s must be a date in %s format", field, fe.Param()))
		case "min", "max", "gte", "lte", "gt":
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}

// authContext returns the gate's context for the request. Handlers on
// protected routes never run without one; a missing context is treated as
// unauthenticated rather than trusted.
func authContext(r *http.Request) (*models.AuthContext, error) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		return nil, apperrors.ErrUnauthenticated
	}
	return ac, nil
}
