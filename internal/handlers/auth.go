package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/otcheredev/usg-registry/internal/auth"
)

// AuthHandler serves sign-in, sign-up and sign-out
type AuthHandler struct {
	auth         *auth.Service
	validate     *validator.Validate
	cookieName   string
	cookieSecure bool
	loginPath    string
}

// AuthHandlerConfig holds the cookie and redirect settings
type AuthHandlerConfig struct {
	CookieName   string
	CookieSecure bool
	LoginPath    string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(svc *auth.Service, validate *validator.Validate, cfg AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		auth:         svc,
		validate:     validate,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
		loginPath:    cfg.LoginPath,
	}
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signUpRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6,max=72"`
	TenantSlug string `json:"tenant_slug" validate:"required,max=100"`
}

type signInResponse struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type nextStepResponse struct {
	Message string `json:"message"`
	Next    string `json:"next"`
}

// LoginPage handles GET /auth/login, the target of the unauthenticated redirect
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nextStepResponse{
		Message: "Sign in to continue",
		Next:    "POST /auth/login with email and password",
	})
}

// SetupPage handles GET /auth/setup, where users without a clinic land
func (h *AuthHandler) SetupPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nextStepResponse{
		Message: "Your account is not linked to an active clinic",
		Next:    "Ask a clinic owner to add you, or POST /auth/signup with a tenant_slug",
	})
}

// SignIn handles POST /auth/login
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	token, session, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token.AccessToken,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, signInResponse{
		UserID:       session.UserID.String(),
		Email:        session.Email,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
	})
}

// SignUp handles POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeAndValidate(w, r, h.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.TenantSlug)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// SignOut handles POST /auth/logout. It always clears the cookie and sends
// the caller to the login page.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	session, err := h.auth.Sessions().GetSession(r.Context(), r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.auth.SignOut(r.Context(), session); err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
}
