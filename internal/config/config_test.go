package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:        AppConfig{Env: "local", Port: 8080},
		DB:         DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "office"},
		Redis:      RedisConfig{Host: "localhost", Port: 6379},
		Auth:       AuthConfig{JWTSecret: "secret"},
		Engagement: EngagementConfig{EnrolledPhaseID: "331", DroppedPhaseID: "332"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "JWT_SECRET", "ENROLLED_PHASE_ID", "DROPPED_PHASE_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in aggregated error, got %v", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLModeAndCallbackSecret(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "office"
	c.Auth.JWTAudience = "dashboard"
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
	if !strings.Contains(err.Error(), "AUTH_CALLBACK_SECRET") {
		t.Fatalf("expected callback secret error, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Engagement.OverdueAfter != 48*time.Hour {
		t.Fatalf("expected 48h overdue default, got %s", c.Engagement.OverdueAfter)
	}
	if c.Engagement.MaxScheduleAhead != 30*24*time.Hour {
		t.Fatalf("expected 30d schedule window default, got %s", c.Engagement.MaxScheduleAhead)
	}
	if c.Refresh.Interval != 180*time.Second {
		t.Fatalf("expected 180s refresh default, got %s", c.Refresh.Interval)
	}
	if c.Refresh.ReconcileInterval != c.Refresh.Interval {
		t.Fatalf("expected reconcile interval to follow refresh interval, got %s", c.Refresh.ReconcileInterval)
	}
	if c.Refresh.PageSize != 50 || c.Store.ReadTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v %+v", c.Refresh, c.Store)
	}
}

func TestValidate_PhaseIDsMustDiffer(t *testing.T) {
	c := validConfig()
	c.Engagement.DroppedPhaseID = c.Engagement.EnrolledPhaseID
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for identical phase ids")
	}
}

func TestLoad_ReadsEnvFileAndReportsBadDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	body := strings.Join([]string{
		"APP_ENV=local",
		"APP_PORT=8080",
		"DB_HOST=localhost",
		"DB_PORT=5432",
		"DB_USER=postgres",
		"DB_NAME=office",
		"REDIS_HOST=localhost",
		"REDIS_PORT=6379",
		"JWT_SECRET=secret",
		"ENROLLED_PHASE_ID=331",
		"DROPPED_PHASE_ID=332",
		"READY_TO_BOOK_PHASE_IDS=310, 311,,",
		"OVERDUE_AFTER=72h",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that are already set.
	t.Setenv("APP_PORT", "9090")
	for _, k := range []string{"APP_ENV", "DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "REDIS_HOST", "REDIS_PORT", "JWT_SECRET", "ENROLLED_PHASE_ID", "DROPPED_PHASE_ID", "READY_TO_BOOK_PHASE_IDS", "OVERDUE_AFTER", "REFRESH_INTERVAL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 {
		t.Fatalf("expected process env to win, got port %d", c.App.Port)
	}
	if c.Engagement.OverdueAfter != 72*time.Hour {
		t.Fatalf("expected 72h, got %s", c.Engagement.OverdueAfter)
	}
	if len(c.Engagement.ReadyToBookPhaseIDs) != 2 || c.Engagement.ReadyToBookPhaseIDs[1] != "311" {
		t.Fatalf("unexpected ready phases: %v", c.Engagement.ReadyToBookPhaseIDs)
	}

	t.Setenv("REFRESH_INTERVAL", "soon")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "REFRESH_INTERVAL") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}
