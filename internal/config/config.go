// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Database      DatabaseConfig      `yaml:"database"`
	Approvals     ApprovalsConfig     `yaml:"approvals"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT validation and role resolution settings.
type IdentityConfig struct {
	Issuer         string            `yaml:"issuer"`
	Audience       string            `yaml:"audience"`
	JWKSURL        string            `yaml:"jwks_url"`
	JWKSCacheTTL   time.Duration     `yaml:"jwks_cache_ttl"`
	Algorithms     []string          `yaml:"algorithms"`
	ClaimPaths     map[string]string `yaml:"claim_paths"`
	RolePolicyFile string            `yaml:"role_policy_file"`
	RoleCacheTTL   time.Duration     `yaml:"role_cache_ttl"`
}

// DatabaseConfig describes PostgreSQL settings. The DSN is always read from
// an environment variable so credentials stay out of config files.
type DatabaseConfig struct {
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

// ApprovalsConfig describes workflow engine settings.
type ApprovalsConfig struct {
	// FlowDirectories are scanned for YAML flow seed files at startup.
	FlowDirectories []string `yaml:"flow_directories"`
	// DefaultSLAHours applies to seeded steps that leave the SLA unset.
	DefaultSLAHours int `yaml:"default_sla_hours"`
}

// NotificationsConfig describes SLA notification settings.
type NotificationsConfig struct {
	WarningThreshold time.Duration `yaml:"warning_threshold"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
	Dedup            DedupConfig   `yaml:"dedup"`
}

// DedupConfig describes notification dedup persistence settings.
type DedupConfig struct {
	Driver  string `yaml:"driver"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
}

// AuditConfig describes audit sink settings.
type AuditConfig struct {
	Sink       string        `yaml:"sink"`
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	QueueSize  int           `yaml:"queue_size"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig describes audit delivery breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
			ClaimPaths: map[string]string{
				"subject_id": "sub",
				"email":      "email",
				"name":       "name",
				"roles":      "roles",
			},
			RoleCacheTTL: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSNEnv:          "ROLLOUT_DATABASE_DSN",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			EnsureSchema:    true,
		},
		Approvals: ApprovalsConfig{
			DefaultSLAHours: 24,
		},
		Notifications: NotificationsConfig{
			WarningThreshold: 4 * time.Hour,
			ReminderInterval: 24 * time.Hour,
			Dedup: DedupConfig{
				Driver:  "memory",
				AddrEnv: "ROLLOUT_REDIS_ADDR",
			},
		},
		Audit: AuditConfig{
			Sink:      "log",
			Timeout:   5 * time.Second,
			QueueSize: 256,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Cooldown:         30 * time.Second,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file over the defaults, applies ROLLOUT_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and valid. All
// problems are reported in one error rather than the first found.
func (c *Config) Validate() error {
	var problems []string
	fail := func(msg string) { problems = append(problems, msg) }

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		fail("server.port must be between 1 and 65535")
	}
	for field, value := range map[string]string{
		"identity.issuer":   c.Identity.Issuer,
		"identity.jwks_url": c.Identity.JWKSURL,
		"identity.audience": c.Identity.Audience,
		"database.dsn_env":  c.Database.DSNEnv,
	} {
		if value == "" {
			fail(field + " is required")
		}
	}
	if c.Audit.Sink == "webhook" && c.Audit.WebhookURL == "" {
		fail("audit.webhook_url is required for the webhook sink")
	}
	switch c.Notifications.Dedup.Driver {
	case "", "memory", "redis":
	default:
		fail(fmt.Sprintf("notifications.dedup.driver %q is not supported", c.Notifications.Dedup.Driver))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// applyEnvOverrides covers the fields most often set per environment;
// everything else stays file-driven.
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"ROLLOUT_IDENTITY_ISSUER":            &cfg.Identity.Issuer,
		"ROLLOUT_IDENTITY_JWKS_URL":          &cfg.Identity.JWKSURL,
		"ROLLOUT_IDENTITY_AUDIENCE":          &cfg.Identity.Audience,
		"ROLLOUT_OBSERVABILITY_LOG_LEVEL":    &cfg.Observability.LogLevel,
		"ROLLOUT_AUDIT_SINK":                 &cfg.Audit.Sink,
		"ROLLOUT_NOTIFICATIONS_DEDUP_DRIVER": &cfg.Notifications.Dedup.Driver,
	}
	for name, target := range overrides {
		if v := os.Getenv(name); v != "" {
			*target = v
		}
	}
	if v := os.Getenv("ROLLOUT_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}
