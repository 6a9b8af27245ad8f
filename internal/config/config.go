// Package config provides configuration loading and validation for the
// reeldraft daemon. It uses koanf to merge environment variables with an
// optional YAML file; environment variables take precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the daemon.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage
	DataDir string `koanf:"data_dir"`

	// API authentication (bearer token expected from clients)
	APIToken string `koanf:"api_token"`

	// Scoring service
	ScoringBaseURL string `koanf:"scoring_base_url"`
	ScoringAPIKey  string `koanf:"scoring_api_key"`

	// Logging
	LogLevel string `koanf:"log_level"`
}

// Configuration validation errors.
var (
	ErrMissingScoringBaseURL = errors.New("REELDRAFT_SCORING_BASE_URL is required")
	ErrMissingScoringAPIKey  = errors.New("REELDRAFT_SCORING_API_KEY is required")
	ErrInvalidPort           = errors.New("REELDRAFT_PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort     = 8787
	DefaultEnv      = "development"
	DefaultLogLevel = "info"
)

// Load reads configuration from environment variables and an optional config
// file. Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be loaded, an
// error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// File values load first so env vars can override them.
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefault("REELDRAFT_PORT", k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	cfg := &Config{
		Port:           port,
		Env:            getEnvOrDefault("REELDRAFT_ENV", k.String("env"), DefaultEnv),
		DataDir:        getEnvOrDefault("REELDRAFT_DATA_DIR", k.String("data_dir"), defaultDataDir()),
		APIToken:       getEnvOrKoanf("REELDRAFT_API_TOKEN", k, "api_token"),
		ScoringBaseURL: getEnvOrKoanf("REELDRAFT_SCORING_BASE_URL", k, "scoring_base_url"),
		ScoringAPIKey:  getEnvOrKoanf("REELDRAFT_SCORING_API_KEY", k, "scoring_api_key"),
		LogLevel:       getEnvOrDefault("REELDRAFT_LOG_LEVEL", k.String("log_level"), DefaultLogLevel),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// defaultDataDir places the database under the user home, falling back to the
// working directory when the home cannot be resolved.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reeldraft"
	}
	return home + "/.reeldraft"
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the
// koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise
// the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the environment
// variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.ScoringBaseURL == "" {
		errs = append(errs, ErrMissingScoringBaseURL)
	}
	if c.ScoringAPIKey == "" {
		errs = append(errs, ErrMissingScoringAPIKey)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// Secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":             fmt.Sprintf("%d", c.Port),
		"env":              c.Env,
		"data_dir":         c.DataDir,
		"api_token":        maskSecret(c.APIToken),
		"scoring_base_url": c.ScoringBaseURL,
		"scoring_api_key":  maskSecret(c.ScoringAPIKey),
		"log_level":        c.LogLevel,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters.
// Secrets shorter than 8 characters are fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}
