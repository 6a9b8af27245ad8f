package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REELDRAFT_PORT", "REELDRAFT_ENV", "REELDRAFT_DATA_DIR",
		"REELDRAFT_API_TOKEN", "REELDRAFT_SCORING_BASE_URL",
		"REELDRAFT_SCORING_API_KEY", "REELDRAFT_LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("REELDRAFT_SCORING_BASE_URL", "https://scoring.example.com")
	t.Setenv("REELDRAFT_SCORING_API_KEY", "sk-test-1234567890")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load returned errors: %v", errs)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Env != DefaultEnv {
		t.Errorf("Env = %q, want %q", cfg.Env, DefaultEnv)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should have a default")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`port: 9999
env: production
scoring_base_url: https://file.example.com
scoring_api_key: sk-file-1234567890
log_level: debug
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("Load returned errors: %v", errs)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if cfg.ScoringBaseURL != "https://file.example.com" {
		t.Errorf("ScoringBaseURL = %q", cfg.ScoringBaseURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`port: 9999
scoring_base_url: https://file.example.com
scoring_api_key: sk-file-1234567890
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("REELDRAFT_PORT", "7001")
	t.Setenv("REELDRAFT_SCORING_BASE_URL", "https://env.example.com")

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("Load returned errors: %v", errs)
	}
	if cfg.Port != 7001 {
		t.Errorf("Port = %d, want env value 7001", cfg.Port)
	}
	if cfg.ScoringBaseURL != "https://env.example.com" {
		t.Errorf("ScoringBaseURL = %q, want env value", cfg.ScoringBaseURL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)

	if _, errs := Load("/does/not/exist.yaml"); len(errs) == 0 {
		t.Error("missing config file should produce an error")
	}
}

func TestInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("REELDRAFT_SCORING_BASE_URL", "https://scoring.example.com")
	t.Setenv("REELDRAFT_SCORING_API_KEY", "sk-test-1234567890")
	t.Setenv("REELDRAFT_PORT", "not-a-port")

	_, errs := Load("")
	found := false
	for _, err := range errs {
		if errors.Is(err, ErrInvalidPort) {
			found = true
		}
	}
	if !found {
		t.Errorf("errors = %v, want ErrInvalidPort", errs)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	clearEnv(t)

	_, errs := Load("")
	wantMissing := []error{ErrMissingScoringBaseURL, ErrMissingScoringAPIKey}
	for _, want := range wantMissing {
		found := false
		for _, err := range errs {
			if errors.Is(err, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("errors = %v, want %v", errs, want)
		}
	}
}

func TestLogSummaryMasksSecrets(t *testing.T) {
	cfg := &Config{
		Port:           DefaultPort,
		APIToken:       "token-abcdef-123456",
		ScoringAPIKey:  "sk-live-secret-value",
		ScoringBaseURL: "https://scoring.example.com",
	}

	summary := cfg.LogSummary()
	if summary["api_token"] != "toke****" {
		t.Errorf("api_token = %q, want masked", summary["api_token"])
	}
	if summary["scoring_api_key"] != "sk-l****" {
		t.Errorf("scoring_api_key = %q, want masked", summary["scoring_api_key"])
	}
	if summary["scoring_base_url"] != "https://scoring.example.com" {
		t.Errorf("scoring_base_url = %q, should not be masked", summary["scoring_base_url"])
	}
}

func TestMaskSecret(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "<not set>"},
		{"short", "****"},
		{"longenoughsecret", "long****"},
	}
	for _, tc := range cases {
		if got := maskSecret(tc.in); got != tc.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
