package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Email = "agent@example.com"
	cfg.Password = "secret"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad email",
			mutate:  func(cfg *Config) { cfg.Email = "not-an-email" },
			wantErr: "email",
		},
		{
			name:    "empty password",
			mutate:  func(cfg *Config) { cfg.Password = "" },
			wantErr: "password",
		},
		{
			name:    "max results too large",
			mutate:  func(cfg *Config) { cfg.MaxResults = 10001 },
			wantErr: "max results",
		},
		{
			name:    "zero max results",
			mutate:  func(cfg *Config) { cfg.MaxResults = 0 },
			wantErr: "max results",
		},
		{
			name:    "request delay too short",
			mutate:  func(cfg *Config) { cfg.RequestDelay = 100 * time.Millisecond },
			wantErr: "request delay",
		},
		{
			name:    "request delay too long",
			mutate:  func(cfg *Config) { cfg.RequestDelay = 11 * time.Second },
			wantErr: "request delay",
		},
		{
			name:    "too many retries",
			mutate:  func(cfg *Config) { cfg.RetryAttempts = 6 },
			wantErr: "retry attempts",
		},
		{
			name:    "specific mode without unit",
			mutate:  func(cfg *Config) { cfg.ScrapeMode = ModeSpecific },
			wantErr: "specific unit",
		},
		{
			name:    "unknown mode",
			mutate:  func(cfg *Config) { cfg.ScrapeMode = "everything" },
			wantErr: "scrape mode",
		},
		{
			name:    "invalid portal url",
			mutate:  func(cfg *Config) { cfg.PortalURL = "http://" },
			wantErr: "portal URL",
		},
		{
			name:    "unknown output format",
			mutate:  func(cfg *Config) { cfg.OutputFormat = "xml" },
			wantErr: "output format",
		},
		{
			name:    "zero parallelism",
			mutate:  func(cfg *Config) { cfg.Parallelism = 0 },
			wantErr: "parallelism",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateAggregatesViolations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Email = "not-an-email"
	cfg.Password = ""

	err := cfg.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T (%v)", err, err)
	}
	if len(verr.Violations) != 2 {
		t.Fatalf("violations = %v, want 2 entries", verr.Violations)
	}
	if !strings.Contains(verr.Violations[0], "email") || !strings.Contains(verr.Violations[1], "password") {
		t.Fatalf("unexpected violations: %v", verr.Violations)
	}
}

func TestDefaultConfigWithCredentialsValid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default config with credentials should validate, got %v", err)
	}
}

func TestEffectiveMaxDelayNeverBelowBase(t *testing.T) {
	cfg := validConfig()
	cfg.RequestDelay = 5 * time.Second
	cfg.MaxDelay = time.Second
	if got := cfg.EffectiveMaxDelay(); got != 5*time.Second {
		t.Fatalf("effective max delay = %s, want 5s", got)
	}
}

func TestURLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PortalURL = "https://portal.test/"
	cfg.LoginPath = "s/login/"
	cfg.ListingPath = "/s/units"

	if got := cfg.LoginURL(); got != "https://portal.test/s/login/" {
		t.Fatalf("login url = %q", got)
	}
	if got := cfg.ListingURL(); got != "https://portal.test/s/units" {
		t.Fatalf("listing url = %q", got)
	}
}

func TestLoadMergesLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "scrape.yaml")
	local := filepath.Join(dir, "scrape.local.yaml")

	writeFile(t, base, `
portal_url: https://portal.test
email: base@example.com
password: base-secret
max_results: 50
request_delay: 1.5
enable_stealth: false
filters:
  project: Creek
`)
	writeFile(t, local, `
password: local-secret
max_results: 25
`)

	t.Setenv("PORTAL_EMAIL", "")
	t.Setenv("PORTAL_PASSWORD", "")

	cfg, err := Load(base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Email != "base@example.com" {
		t.Fatalf("email = %q", cfg.Email)
	}
	if cfg.Password != "local-secret" {
		t.Fatalf("password = %q, want local override", cfg.Password)
	}
	if cfg.MaxResults != 25 {
		t.Fatalf("max results = %d, want 25", cfg.MaxResults)
	}
	if cfg.RequestDelay != 1500*time.Millisecond {
		t.Fatalf("request delay = %s, want 1.5s", cfg.RequestDelay)
	}
	if cfg.EnableStealth {
		t.Fatalf("stealth should be disabled by the file")
	}
	if cfg.Filters["project"] != "Creek" {
		t.Fatalf("filters = %v", cfg.Filters)
	}
}

func TestLoadEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "scrape.yaml")
	writeFile(t, base, "email: file@example.com\npassword: file\n")

	t.Setenv("PORTAL_EMAIL", "env@example.com")
	t.Setenv("SCRAPER_PARALLEL", "4")

	cfg, err := Load(base)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Email != "env@example.com" {
		t.Fatalf("email = %q, want env override", cfg.Email)
	}
	if cfg.Parallelism != 4 {
		t.Fatalf("parallelism = %d, want 4", cfg.Parallelism)
	}
}

func TestLoadRejectsBadEnvInt(t *testing.T) {
	t.Setenv("SCRAPER_MAX_RESULTS", "lots")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "SCRAPER_MAX_RESULTS") {
		t.Fatalf("expected env parse error, got %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
