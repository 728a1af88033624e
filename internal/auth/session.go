// Package auth verifies identity provider sessions and proxies the sign-in,
// sign-up and sign-out calls to the provider.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/cache"
	"github.com/otcheredev/usg-registry/internal/models"
)

// Claims is the access token payload issued by the identity provider
type Claims struct {
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionConfig configures token verification
type SessionConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	CookieName string
}

// JWTSessionProvider reads HS256 access tokens from the session cookie or a
// bearer header and checks them against the revocation list.
type JWTSessionProvider struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
	revoked    cache.Cache
}

// NewJWTSessionProvider creates a session provider. revoked may be nil, in
// which case sign-out relies on token expiry alone.
func NewJWTSessionProvider(cfg SessionConfig, revoked cache.Cache) *JWTSessionProvider {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTSessionProvider{
		secret:     []byte(cfg.Secret),
		cookieName: cfg.CookieName,
		parser:     jwt.NewParser(opts...),
		revoked:    revoked,
	}
}

// TokenFromRequest returns the raw access token, preferring the cookie
func (p *JWTSessionProvider) TokenFromRequest(r *http.Request) string {
	if p.cookieName != "" {
		if c, err := r.Cookie(p.cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}

	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// GetSession verifies the request's token. Absent, malformed, expired,
// wrongly signed and revoked tokens all yield (nil, nil); only a failing
// revocation store is an error.
func (p *JWTSessionProvider) GetSession(ctx context.Context, r *http.Request) (*models.Session, error) {
	raw := p.TokenFromRequest(r)
	if raw == "" {
		return nil, nil
	}

	session, err := p.Verify(raw)
	if err != nil {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected session token")
		return nil, nil
	}

	if p.revoked != nil {
		revoked, err := p.revoked.Exists(ctx, cache.RevocationKey(session.SessionID))
		if err != nil {
			return nil, apperrors.Upstream("check session revocation", err)
		}
		if revoked {
			return nil, nil
		}
	}

	return session, nil
}

// Verify parses and validates a raw token without consulting the
// revocation list.
func (p *JWTSessionProvider) Verify(raw string) (*models.Session, error) {
	claims := &Claims{}
	token, err := p.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return nil, fmt.Errorf("invalid token subject %q", claims.Subject)
	}

	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = claims.ID
	}
	if sessionID == "" {
		// no session claim: revoke by token identity
		sessionID = userID.String() + ":" + claims.ExpiresAt.Time.UTC().Format(time.RFC3339)
	}

	return &models.Session{
		Token:     raw,
		SessionID: sessionID,
		UserID:    userID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke marks the session as signed out until its token expires
func (p *JWTSessionProvider) Revoke(ctx context.Context, session *models.Session) error {
	if p.revoked == nil || session == nil {
		return nil
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := p.revoked.Set(ctx, cache.RevocationKey(session.SessionID), ttl); err != nil {
		return apperrors.Upstream("revoke session", err)
	}
	return nil
}
