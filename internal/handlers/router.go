package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otcheredev/usg-registry/internal/middleware"
)

// RouterConfig carries the handlers and cross-cutting settings
type RouterConfig struct {
	Gate           middleware.Authorizer
	Health         *HealthHandler
	Auth           *AuthHandler
	Patients       *PatientHandler
	Profiles       *ProfileHandler
	Audit          *AuditHandler
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	AuthPerMinute  int
	Metrics        bool
}

// NewRouter builds the HTTP surface. The gate runs on every request and
// decides from the path alone whether a route is protected.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.Gate(cfg.Gate))

	// Health endpoints (no authentication required)
	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Health)
		r.Get("/ready", cfg.Health.Ready)
	}

	// Metrics endpoint
	if cfg.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	if cfg.Auth != nil {
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthPerMinute > 0 {
				r.Use(httprate.LimitByIP(cfg.AuthPerMinute, time.Minute))
			}
			r.Get("/login", cfg.Auth.LoginPage)
			r.Get("/setup", cfg.Auth.SetupPage)
			r.Post("/login", cfg.Auth.SignIn)
			r.Post("/signup", cfg.Auth.SignUp)
			r.Post("/logout", cfg.Auth.SignOut)
		})
	}

	// Protected pages
	r.Get("/dashboard", cfg.Profiles.Dashboard)

	r.Route("/patients", func(r chi.Router) {
		r.Get("/", cfg.Patients.ListPage)
		r.Get("/all", cfg.Patients.ListAll)
		r.Get("/filter", cfg.Patients.Filter)
		r.Get("/next-id", cfg.Patients.NextID)
		r.Post("/delete", cfg.Patients.Delete)
		r.Get("/{id}", cfg.Patients.Get)
	})

	r.Post("/add-form", cfg.Patients.Create)
	r.Post("/update_record/{id}", cfg.Patients.Update)

	// JSON API
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", cfg.Profiles.Me)
		r.Post("/profile/tenant", cfg.Profiles.SwitchTenant)
		r.Get("/audit", cfg.Audit.List)
	})

	return r
}
