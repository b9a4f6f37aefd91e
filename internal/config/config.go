package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/nkhunters/tool-calls-sanitizer/internal/sanitize"
)

type Config struct {
	Port    string
	DataDir string

	RateLimitPerMinute int

	DeduplicationEnabled bool
	DeduplicationWindow  int
	PreserveFailedCalls  bool
	StrictValidation     bool
	MaxContextLength     int
	Debug                bool
	RetryScope           sanitize.RetryScope
	// Templates are merged over the built-in summary templates.
	Templates map[string]string
}

func Load() (*Config, error) {
	// .env is optional; variables may come from the environment instead
	_ = godotenv.Load()

	defaults := sanitize.DefaultConfig()
	cfg := &Config{
		Port:    os.Getenv("PORT"),
		DataDir: os.Getenv("DATA_DIR"),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}

	var err error
	if cfg.RateLimitPerMinute, err = intEnv("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.DeduplicationEnabled, err = boolEnv("SANITIZER_DEDUP_ENABLED", defaults.DeduplicationEnabled); err != nil {
		return nil, err
	}
	if cfg.DeduplicationWindow, err = intEnv("SANITIZER_DEDUP_WINDOW", defaults.DeduplicationWindow); err != nil {
		return nil, err
	}
	if cfg.PreserveFailedCalls, err = boolEnv("SANITIZER_PRESERVE_FAILED_CALLS", defaults.PreserveFailedCalls); err != nil {
		return nil, err
	}
	if cfg.StrictValidation, err = boolEnv("SANITIZER_STRICT_VALIDATION", defaults.StrictValidation); err != nil {
		return nil, err
	}
	if cfg.MaxContextLength, err = intEnv("SANITIZER_MAX_CONTEXT_LENGTH", defaults.MaxContextLength); err != nil {
		return nil, err
	}
	if cfg.Debug, err = boolEnv("SANITIZER_DEBUG", defaults.DebugMode); err != nil {
		return nil, err
	}
	if cfg.RetryScope, err = sanitize.ParseRetryScope(os.Getenv("SANITIZER_RETRY_SCOPE")); err != nil {
		return nil, fmt.Errorf("SANITIZER_RETRY_SCOPE: %w", err)
	}

	if path := os.Getenv("SANITIZER_TEMPLATES_FILE"); path != "" {
		cfg.Templates, err = loadTemplates(path)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Sanitizer builds the pipeline configuration described by cfg.
func (c *Config) Sanitizer() sanitize.Config {
	sc := sanitize.DefaultConfig()
	sc.DeduplicationEnabled = c.DeduplicationEnabled
	sc.DeduplicationWindow = c.DeduplicationWindow
	sc.PreserveFailedCalls = c.PreserveFailedCalls
	sc.StrictValidation = c.StrictValidation
	sc.MaxContextLength = c.MaxContextLength
	sc.DebugMode = c.Debug
	sc.RetryScope = c.RetryScope
	if len(c.Templates) > 0 {
		sanitize.WithTemplates(c.Templates)(&sc)
	}
	return sc
}

func loadTemplates(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading templates file: %w", err)
	}
	var templates map[string]string
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parsing templates file %s: %w", path, err)
	}
	return templates, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("env var %s must be an integer: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("env var %s must be a boolean: %w", key, err)
	}
	return b, nil
}
