package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/loveaihub?parseTime=true")
	t.Setenv("PROVIDER_API_KEY", "test-key")
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPListenAddr != ":8080" {
		t.Errorf("unexpected listen addr: %s", cfg.HTTPListenAddr)
	}
	if cfg.ProviderBaseURL != "https://api.a4f.co/v1" {
		t.Errorf("unexpected provider base url: %s", cfg.ProviderBaseURL)
	}
	if cfg.ProviderTimeout != 2*time.Minute {
		t.Errorf("unexpected provider timeout: %s", cfg.ProviderTimeout)
	}
	if cfg.FreeGenerationsLimit != 50 {
		t.Errorf("unexpected free limit: %d", cfg.FreeGenerationsLimit)
	}
	if cfg.StalePendingAfter != 30*time.Minute {
		t.Errorf("unexpected stale threshold: %s", cfg.StalePendingAfter)
	}
	if cfg.AssetStorageEnabled() {
		t.Error("asset storage must be off without a bucket")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("PROVIDER_API_KEY", "")
	t.Setenv("AUTH_JWT_SECRET", "secret")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, name := range []string{"MYSQL_DSN", "PROVIDER_API_KEY"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error must name %s, got: %v", name, err)
		}
	}
}

func TestLoadStripeRequiresPrice(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("STRIPE_PREMIUM_PRICE_ID", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when stripe is configured without a price")
	}
}

func TestLoadS3RequiresCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_BUCKET", "assets")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when a bucket is set without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PROVIDER_BASE_URL", "https://proxy.internal/v1/")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://loveaihub.com, https://staging.loveaihub.com")
	t.Setenv("PROVIDER_TIMEOUT_SECONDS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProviderBaseURL != "https://proxy.internal/v1" {
		t.Errorf("trailing slash must be trimmed: %s", cfg.ProviderBaseURL)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://staging.loveaihub.com" {
		t.Errorf("unexpected origins: %v", cfg.CORSOrigins)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.ProviderTimeout)
	}
}
