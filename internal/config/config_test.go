package config

import (
	"strings"
	"testing"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/outreach")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("default port = %q, want 8000", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("expected development default")
	}
	if cfg.DBMaxConns != 20 || cfg.DBMinConns != 5 {
		t.Errorf("pool defaults = %d/%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestValidate_ProductionRequiresKeys(t *testing.T) {
	cfg := &Config{Env: "production", JWTSigningKey: "secret"}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "PHI_ENCRYPTION_KEY") {
		t.Fatalf("expected PHI key error, got %v", err)
	}

	cfg.PHIEncryptionKey = strings.Repeat("ab", 32)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with valid key: %v", err)
	}
}

func TestValidate_RequiresSigningKeyOutsideDev(t *testing.T) {
	cfg := &Config{Env: "staging"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected signing key error outside development")
	}
	cfg = &Config{Env: "development"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error in development: %v", err)
	}
}

func TestValidate_PHIKeyFormat(t *testing.T) {
	cfg := &Config{Env: "development", PHIEncryptionKey: "not-hex"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-hex key")
	}
	cfg.PHIEncryptionKey = "abcd"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestPHIKey_Decode(t *testing.T) {
	cfg := &Config{PHIEncryptionKey: strings.Repeat("0f", 32)}
	key, err := cfg.PHIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	cfg = &Config{}
	key, err = cfg.PHIKey()
	if err != nil || key != nil {
		t.Errorf("expected nil key when unset, got %v err=%v", key, err)
	}
}
