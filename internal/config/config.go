package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/otcheredev/usg-registry/internal/models"
)

// Config holds all service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gate      GateConfig      `mapstructure:"gate"`
	Patients  PatientsConfig  `mapstructure:"patients"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	LogLevel string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig selects the revocation list backend: "redis" or "memory"
type CacheConfig struct {
	Type string `mapstructure:"type"`
}

// AuthConfig describes the identity provider whose tokens we verify
type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	Issuer       string `mapstructure:"issuer"`
	Audience     string `mapstructure:"audience"`
	CookieName   string `mapstructure:"cookie_name"`
	CookieSecure bool   `mapstructure:"cookie_secure"`
	ProviderURL  string `mapstructure:"provider_url"`
	ProviderKey  string `mapstructure:"provider_key"`
}

// GateConfig drives route classification and redirects
type GateConfig struct {
	ProtectedPrefixes []string      `mapstructure:"protected_prefixes"`
	LoginPath         string        `mapstructure:"login_path"`
	SetupPath         string        `mapstructure:"setup_path"`
	SuspendedPath     string        `mapstructure:"suspended_path"`
	DeniedStatuses    []string      `mapstructure:"denied_statuses"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type PatientsConfig struct {
	RPOCPattern  string        `mapstructure:"rpoc_pattern"`
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
	PageSize     int           `mapstructure:"page_size"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type RateLimitConfig struct {
	AuthPerMinute int `mapstructure:"auth_per_minute"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"server.host":          "0.0.0.0",
	"server.port":          8080,
	"server.read_timeout":  "15s",
	"server.write_timeout": "30s",

	"database.host":      "localhost",
	"database.port":      5432,
	"database.user":      "postgres",
	"database.password":  "",
	"database.dbname":    "usg_registry",
	"database.sslmode":   "disable",
	"database.log_level": "warn",

	"redis.host":     "localhost",
	"redis.port":     6379,
	"redis.password": "",
	"redis.db":       0,

	"cache.type": "redis",

	"auth.jwt_secret":    "",
	"auth.issuer":        "",
	"auth.audience":      "authenticated",
	"auth.cookie_name":   "sb-access-token",
	"auth.cookie_secure": true,
	"auth.provider_url":  "",
	"auth.provider_key":  "",

	"gate.protected_prefixes": []string{"/dashboard", "/patients", "/add-form", "/update_record", "/api/v1"},
	"gate.login_path":         "/auth/login",
	"gate.setup_path":         "/auth/setup",
	"gate.suspended_path":     "/auth/setup",
	"gate.denied_statuses":    []string{},
	"gate.timeout":            "5s",

	"patients.rpoc_pattern":  "%w%d",
	"patients.store_timeout": "10s",
	"patients.page_size":     models.DefaultPageSize,

	"cors.allowed_origins": []string{"http://localhost:5173"},
	"cors.allowed_methods": []string{"GET", "POST", "OPTIONS"},
	"cors.allowed_headers": []string{"Accept", "Authorization", "Content-Type"},

	"ratelimit.auth_per_minute": 20,

	"metrics.enabled": true,

	"log.level":  "info",
	"log.format": "json",
}

// Load reads configuration from .env, the environment and defaults.
// Keys map to env vars by upper-casing and replacing dots, e.g.
// gate.protected_prefixes -> GATE_PROTECTED_PREFIXES.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Gate.ProtectedPrefixes = splitList(cfg.Gate.ProtectedPrefixes)
	cfg.Gate.DeniedStatuses = splitList(cfg.Gate.DeniedStatuses)
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	cfg.CORS.AllowedMethods = splitList(cfg.CORS.AllowedMethods)
	cfg.CORS.AllowedHeaders = splitList(cfg.CORS.AllowedHeaders)

	return cfg, nil
}

// Validate checks values the service cannot run without
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}
	if c.Cache.Type != "redis" && c.Cache.Type != "memory" {
		return fmt.Errorf("invalid CACHE_TYPE: %q", c.Cache.Type)
	}
	if len(c.Gate.ProtectedPrefixes) == 0 {
		return fmt.Errorf("GATE_PROTECTED_PREFIXES must not be empty")
	}
	for _, p := range c.Gate.ProtectedPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("protected prefix %q must start with /", p)
		}
		if strings.Trim(p, "/") == "" {
			return fmt.Errorf("protected prefix %q would cover the login and health routes", p)
		}
	}
	for _, s := range c.Gate.DeniedStatuses {
		if !models.SubscriptionStatus(s).Valid() {
			return fmt.Errorf("unknown subscription status in GATE_DENIED_STATUSES: %q", s)
		}
	}
	if c.Gate.Timeout <= 0 || c.Patients.StoreTimeout <= 0 {
		return fmt.Errorf("gate and store timeouts must be positive")
	}
	if c.Patients.PageSize <= 0 {
		return fmt.Errorf("PATIENTS_PAGE_SIZE must be positive")
	}
	if c.Patients.RPOCPattern == "" {
		return fmt.Errorf("PATIENTS_RPOC_PATTERN must not be empty")
	}
	return nil
}

// DeniedSubscriptionStatuses returns the configured statuses as typed values
func (g GateConfig) DeniedSubscriptionStatuses() []models.SubscriptionStatus {
	out := make([]models.SubscriptionStatus, 0, len(g.DeniedStatuses))
	for _, s := range g.DeniedStatuses {
		out = append(out, models.SubscriptionStatus(s))
	}
	return out
}

// splitList flattens comma separated entries coming from env vars
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
