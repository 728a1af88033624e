// Package access decides, per request, whether a caller may reach a route and
// which tenant every downstream data call is bound to.
package access

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/usg-registry/internal/apperrors"
	"github.com/otcheredev/usg-registry/internal/metrics"
	"github.com/otcheredev/usg-registry/internal/models"
)

// SessionProvider reads the caller's session from request credentials. A
// missing or invalid session is (nil, nil); errors mean the provider itself
// failed.
type SessionProvider interface {
	GetSession(ctx context.Context, r *http.Request) (*models.Session, error)
}

// ProfileResolver loads the single active profile of a user with its tenant,
// or nil when there is none.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// Outcome is the kind of decision the gate reached
type Outcome int

const (
	// PassThrough is an open route; no context is attached
	PassThrough Outcome = iota
	// Authorized carries a complete AuthContext
	Authorized
	// Redirected sends the caller elsewhere
	Redirected
)

func (o Outcome) String() string {
	switch o {
	case PassThrough:
		return "pass_through"
	case Authorized:
		return "authorized"
	case Redirected:
		return "redirect"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Redirect is the target and status handed back to the HTTP layer
type Redirect struct {
	Target string
	Status int
}

// Decision is the result of Authorize. Exactly one of Context and Redirect
// is set for Authorized and Redirected; both are nil for PassThrough.
type Decision struct {
	Outcome  Outcome
	Context  *models.AuthContext
	Redirect *Redirect
	// Reason is the taxonomy error behind a redirect
	Reason error
}

// Config drives route classification and the redirect targets
type Config struct {
	ProtectedPrefixes []string
	LoginPath         string
	SetupPath         string
	SuspendedPath     string
	DeniedStatuses    []models.SubscriptionStatus
	Timeout           time.Duration
}

// Gate is the access gate. It holds no per-request state and is safe for
// concurrent use.
type Gate struct {
	routes   *RouteTable
	sessions SessionProvider
	profiles ProfileResolver
	cfg      Config
	denied   map[models.SubscriptionStatus]struct{}
}

// NewGate creates a new access gate
func NewGate(cfg Config, sessions SessionProvider, profiles ProfileResolver) *Gate {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}
	if cfg.SetupPath == "" {
		cfg.SetupPath = "/auth/setup"
	}
	if cfg.SuspendedPath == "" {
		cfg.SuspendedPath = cfg.SetupPath
	}

	denied := make(map[models.SubscriptionStatus]struct{}, len(cfg.DeniedStatuses))
	for _, s := range cfg.DeniedStatuses {
		denied[s] = struct{}{}
	}

	// the redirect targets must stay reachable or a redirect would loop
	routes := NewRouteTable(cfg.ProtectedPrefixes)
	routes.Exempt(cfg.LoginPath, cfg.SetupPath, cfg.SuspendedPath)

	return &Gate{
		routes:   routes,
		sessions: sessions,
		profiles: profiles,
		cfg:      cfg,
		denied:   denied,
	}
}

// Authorize classifies r and, for protected routes, resolves session, profile
// and tenant. Only collaborator failures are returned as errors; missing
// credentials or bindings come back as redirect decisions.
func (g *Gate) Authorize(r *http.Request) (Decision, error) {
	if !g.routes.Protected(r.URL.Path) {
		metrics.GateDecisions.WithLabelValues(metrics.OutcomePass).Inc()
		return Decision{Outcome: PassThrough}, nil
	}

	ctx := r.Context()
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	session, err := g.sessions.GetSession(ctx, r)
	if err != nil {
		return g.fault("get session", err)
	}
	if session == nil || session.UserID == uuid.Nil {
		metrics.GateDecisions.WithLabelValues(metrics.OutcomeLogin).Inc()
		return g.redirect(g.cfg.LoginPath, apperrors.ErrUnauthenticated), nil
	}

	profile, err := g.profiles.Resolve(ctx, session.UserID)
	if err != nil {
		return g.fault("resolve profile", err)
	}
	if profile == nil || profile.Tenant == nil || profile.TenantID == uuid.Nil {
		metrics.GateDecisions.WithLabelValues(metrics.OutcomeSetup).Inc()
		return g.redirect(g.cfg.SetupPath, apperrors.ErrNoTenantBinding), nil
	}

	tenant := *profile.Tenant
	if _, blocked := g.denied[tenant.SubscriptionStatus]; blocked {
		metrics.GateDecisions.WithLabelValues(metrics.OutcomeSuspended).Inc()
		log.Info().
			Str("user_id", session.UserID.String()).
			Str("tenant_id", tenant.ID.String()).
			Str("subscription_status", string(tenant.SubscriptionStatus)).
			Msg("Access denied by tenant subscription status")
		return g.redirect(g.cfg.SuspendedPath, apperrors.ErrTenantSuspended), nil
	}

	bound := *profile
	bound.Tenant = nil

	metrics.GateDecisions.WithLabelValues(metrics.OutcomeAuthorized).Inc()
	return Decision{
		Outcome: Authorized,
		Context: &models.AuthContext{
			Session: *session,
			Profile: bound,
			Tenant:  tenant,
		},
	}, nil
}

// Protected reports whether path requires authorization
func (g *Gate) Protected(path string) bool {
	return g.routes.Protected(path)
}

func (g *Gate) redirect(target string, reason error) Decision {
	return Decision{
		Outcome:  Redirected,
		Redirect: &Redirect{Target: target, Status: http.StatusSeeOther},
		Reason:   reason,
	}
}

// fault keeps integrity and upstream errors distinct and tags anything else
// as an upstream failure so it can never read as "unauthenticated".
func (g *Gate) fault(op string, err error) (Decision, error) {
	metrics.GateDecisions.WithLabelValues(metrics.OutcomeFault).Inc()
	if apperrors.IsFault(err) {
		return Decision{}, err
	}
	return Decision{}, apperrors.Upstream(op, err)
}
