package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Success(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected App.Env to be production, got %q", cfg.App.Env)
	}
	if cfg.App.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.App.Port)
	}
	if cfg.Remote.BaseURL != "https://api.example.test" {
		t.Fatalf("unexpected remote base url %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout != 15*time.Second {
		t.Fatalf("expected default remote timeout 15s, got %v", cfg.Remote.Timeout)
	}
	if cfg.Cart.ComboRootPrefix != "COMBO-" {
		t.Fatalf("unexpected combo prefix %q", cfg.Cart.ComboRootPrefix)
	}
	if cfg.Cart.SnapshotTTL != 24*time.Hour {
		t.Fatalf("unexpected snapshot ttl %v", cfg.Cart.SnapshotTTL)
	}
	if cfg.Redis.Enabled() {
		t.Fatalf("redis should be disabled without url or address")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvRemoteTimeout, "3s")
	t.Setenv(EnvComboRootPrefix, "BUNDLE_")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %v", cfg.Remote.Timeout)
	}
	if cfg.Cart.ComboRootPrefix != "BUNDLE_" {
		t.Fatalf("expected overridden prefix, got %q", cfg.Cart.ComboRootPrefix)
	}
	if !cfg.Redis.Enabled() {
		t.Fatalf("redis should be enabled with a url")
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setMinimalEnv(t)
	if err := os.Unsetenv(EnvAppEnv); err != nil {
		t.Fatalf("failed to unset %s: %v", EnvAppEnv, err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected missing required env to return an error")
	}
}

func TestLoad_RejectsNonHTTPRemote(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv(EnvRemoteBaseURL, "ftp://cart.example.test")

	if _, err := Load(); err == nil {
		t.Fatal("expected non-http remote url to be rejected")
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()

	t.Setenv(EnvAppEnv, "production")
	t.Setenv(EnvRemoteBaseURL, "https://api.example.test")
	t.Setenv(EnvJWTSecret, "secret")
	t.Setenv(EnvJWTIssuer, "cartsync")
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
	if prodConfig.IsDev() {
		t.Fatalf("expected IsDev false for %q", prodConfig.Env)
	}
}
