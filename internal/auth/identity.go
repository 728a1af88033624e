package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/otcheredev/usg-registry/internal/apperrors"
)

// ErrInvalidCredentials is returned when the provider rejects the credentials
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthenticated)

// TokenResponse is the provider's answer to a password grant
type TokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	RefreshToken string       `json:"refresh_token"`
	User         ProviderUser `json:"user"`
}

// ProviderUser is the user object returned by the provider
type ProviderUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// IdentityClient talks to a GoTrue compatible identity provider
type IdentityClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewIdentityClient creates a new identity provider client. baseURL points
// at the auth API root, e.g. https://project.supabase.co/auth/v1.
func NewIdentityClient(baseURL, apiKey string) *IdentityClient {
	return &IdentityClient{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// SignIn exchanges email and password for a session
func (c *IdentityClient) SignIn(ctx context.Context, email, password string) (*TokenResponse, error) {
	body := map[string]string{"email": email, "password": password}

	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignUp registers a user. tenantSlug is stored as user metadata so the
// onboarding flow can attach the first profile.
func (c *IdentityClient) SignUp(ctx context.Context, email, password, tenantSlug string) (*ProviderUser, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"tenant_slug": tenantSlug},
	}

	// the provider returns either a session (auto-confirm) or the bare user
	var out struct {
		ProviderUser
		User *ProviderUser `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &out); err != nil {
		return nil, err
	}
	if out.User != nil {
		return out.User, nil
	}
	return &out.ProviderUser, nil
}

// Logout ends the session at the provider
func (c *IdentityClient) Logout(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
}

func (c *IdentityClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.Upstream("identity provider "+path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return ErrInvalidCredentials
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return apperrors.Invalid("identity provider rejected the request: %s", providerMessage(resp.Body))
	case resp.StatusCode >= 300:
		return apperrors.Upstream("identity provider "+path,
			fmt.Errorf("provider returned status %d: %s", resp.StatusCode, providerMessage(resp.Body)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.Upstream("identity provider "+path, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// providerMessage extracts the error text GoTrue puts in msg,
// error_description or message
func providerMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))

	var body struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, s := range []string{body.Msg, body.ErrorDescription, body.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(raw))
}
