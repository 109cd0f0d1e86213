package config

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/vidora")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("HEYGEN_API_KEY", "hg-test")
	t.Setenv("SUPABASE_URL", "https://proj.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("BILLING_WEBHOOK_SECRET", "whsec")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.APIPort != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.APIPort)
	}
	if !cfg.WorkerEnabled {
		t.Error("worker should default to enabled")
	}
	if cfg.MaxConcurrentJobs != 5 {
		t.Errorf("expected default concurrency 5, got %d", cfg.MaxConcurrentJobs)
	}
	if cfg.SupabaseStorageBucket != "vidora-media" {
		t.Errorf("unexpected default bucket: %s", cfg.SupabaseStorageBucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("MAX_CONCURRENT_JOBS", "12")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.APIPort != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.APIPort)
	}
	if cfg.WorkerEnabled {
		t.Error("worker should be disabled")
	}
	if cfg.MaxConcurrentJobs != 12 {
		t.Errorf("expected concurrency 12, got %d", cfg.MaxConcurrentJobs)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when JWT_SECRET is missing")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SOME_BOOL", "not-a-bool")
	if got := getEnvBool("SOME_BOOL", true); !got {
		t.Error("unparseable bool should fall back to default")
	}

	t.Setenv("SOME_INT", "abc")
	if got := getEnvInt("SOME_INT", 7); got != 7 {
		t.Errorf("unparseable int should fall back to default, got %d", got)
	}
}
