package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalYAML = `identity:
  issuer: https://id.example.com
  audience: rollout
  jwks_url: https://id.example.com/jwks.json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_appliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.DSNEnv != "ROLLOUT_DATABASE_DSN" {
		t.Errorf("Database.DSNEnv = %s", cfg.Database.DSNEnv)
	}
	if cfg.Approvals.DefaultSLAHours != 24 {
		t.Errorf("DefaultSLAHours = %d, want 24", cfg.Approvals.DefaultSLAHours)
	}
	if cfg.Notifications.WarningThreshold != 4*time.Hour {
		t.Errorf("WarningThreshold = %v, want 4h", cfg.Notifications.WarningThreshold)
	}
	if cfg.Audit.Sink != "log" {
		t.Errorf("Audit.Sink = %s, want log", cfg.Audit.Sink)
	}
}

func TestLoad_overridesFromFile(t *testing.T) {
	yaml := minimalYAML + `server:
  port: 9090
approvals:
  flow_directories: ["/etc/rollout/flows"]
  default_sla_hours: 72
notifications:
  warning_threshold: 8h
  dedup:
    driver: redis
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Approvals.FlowDirectories) != 1 || cfg.Approvals.FlowDirectories[0] != "/etc/rollout/flows" {
		t.Errorf("FlowDirectories = %v", cfg.Approvals.FlowDirectories)
	}
	if cfg.Approvals.DefaultSLAHours != 72 {
		t.Errorf("DefaultSLAHours = %d, want 72", cfg.Approvals.DefaultSLAHours)
	}
	if cfg.Notifications.WarningThreshold != 8*time.Hour {
		t.Errorf("WarningThreshold = %v, want 8h", cfg.Notifications.WarningThreshold)
	}
	if cfg.Notifications.Dedup.Driver != "redis" {
		t.Errorf("Dedup.Driver = %s, want redis", cfg.Notifications.Dedup.Driver)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("ROLLOUT_SERVER_PORT", "7070")
	t.Setenv("ROLLOUT_OBSERVABILITY_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing issuer", "identity:\n  audience: rollout\n  jwks_url: https://id/jwks\n"},
		{"missing audience", "identity:\n  issuer: https://id\n  jwks_url: https://id/jwks\n"},
		{"missing jwks", "identity:\n  issuer: https://id\n  audience: rollout\n"},
		{"webhook without url", minimalYAML + "audit:\n  sink: webhook\n"},
		{"bad dedup driver", minimalYAML + "notifications:\n  dedup:\n    driver: dynamo\n"},
		{"bad port", minimalYAML + "server:\n  port: 70000\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
