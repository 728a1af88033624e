package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/otcheredev/usg-registry/internal/access"
	"github.com/otcheredev/usg-registry/internal/auth"
	"github.com/otcheredev/usg-registry/internal/cache"
	"github.com/otcheredev/usg-registry/internal/config"
	"github.com/otcheredev/usg-registry/internal/database"
	"github.com/otcheredev/usg-registry/internal/handlers"
	"github.com/otcheredev/usg-registry/internal/repository"
	"github.com/otcheredev/usg-registry/internal/services"
	"github.com/otcheredev/usg-registry/pkg/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "usg-registry",
		Short: "Multi-tenant ultrasound patient registry",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger.Init(cfg.Log.Level, cfg.Log.Format)

			db, err := connect(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			log.Info().Msg("Migrations applied")
			return nil
		},
	}
}

func connect(cfg *config.Config) (*gorm.DB, error) {
	return database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	})
}

func runServer() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting USG registry")

	// Connect to database
	db, err := connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close(db)

	// Revocation list
	var revoked cache.Cache
	if cfg.Cache.Type == "redis" {
		addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
		revoked, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info().Msg("Redis revocation list initialized")
	} else {
		revoked = cache.NewMemoryCache()
		log.Warn().Msg("Memory revocation list in use; sign-outs are not shared between instances")
	}
	defer revoked.Close()

	// Initialize repositories
	patientRepo := repository.NewPatientRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize services
	profileService := services.NewProfileService(profileRepo, cfg.Gate.Timeout)
	patientService := services.NewPatientService(patientRepo, auditRepo, services.PatientServiceConfig{
		RPOCPattern:  cfg.Patients.RPOCPattern,
		PageSize:     cfg.Patients.PageSize,
		StoreTimeout: cfg.Patients.StoreTimeout,
	})

	sessions := auth.NewJWTSessionProvider(auth.SessionConfig{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		CookieName: cfg.Auth.CookieName,
	}, revoked)
	authService := auth.NewService(auth.NewIdentityClient(cfg.Auth.ProviderURL, cfg.Auth.ProviderKey), sessions)

	gate := access.NewGate(access.Config{
		ProtectedPrefixes: cfg.Gate.ProtectedPrefixes,
		LoginPath:         cfg.Gate.LoginPath,
		SetupPath:         cfg.Gate.SetupPath,
		SuspendedPath:     cfg.Gate.SuspendedPath,
		DeniedStatuses:    cfg.Gate.DeniedSubscriptionStatuses(),
		Timeout:           cfg.Gate.Timeout,
	}, sessions, profileService)

	// Initialize handlers
	validate := handlers.NewValidator()
	router := handlers.NewRouter(handlers.RouterConfig{
		Gate:   gate,
		Health: handlers.NewHealthHandler(db, revoked),
		Auth: handlers.NewAuthHandler(authService, validate, handlers.AuthHandlerConfig{
			CookieName:   cfg.Auth.CookieName,
			CookieSecure: cfg.Auth.CookieSecure,
			LoginPath:    cfg.Gate.LoginPath,
		}),
		Patients:       handlers.NewPatientHandler(patientService, validate),
		Profiles:       handlers.NewProfileHandler(profileService, patientService, validate),
		Audit:          handlers.NewAuditHandler(patientService),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		AuthPerMinute:  cfg.RateLimit.AuthPerMinute,
		Metrics:        cfg.Metrics.Enabled,
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Strs("protected_prefixes", cfg.Gate.ProtectedPrefixes).
			Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
