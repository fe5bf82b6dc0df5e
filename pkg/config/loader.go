package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates configuration from devradar.yaml in
// configDir, falling back to built-in defaults for anything the file omits.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load .env (if present) so ${VAR} expansion below can see it
//  2. Read devradar.yaml, expanding environment variables
//  3. Parse YAML into a Config overlay
//  4. Merge the overlay onto DefaultConfig (non-zero overlay fields win)
//  5. Apply programmatic overrides (CLI flags)
//  6. Validate the result
func Initialize(_ context.Context, configDir string, overrides ...func(*Config)) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	cfg := DefaultConfig()
	overlay, err := loadYAMLOverlay(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if overlay != nil {
		if err := mergo.Merge(cfg, overlay, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration: %w", err)
		}
	}

	for _, apply := range overrides {
		apply(cfg)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration initialized",
		"watch_path", cfg.Watcher.WatchPath,
		"worker_concurrency", cfg.Worker.Concurrency,
		"queue_name", cfg.Queue.Name)
	return cfg, nil
}

func loadYAMLOverlay(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "devradar.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &overlay, nil
}

func validate(cfg *Config) error {
	if cfg.Watcher.WatchPath == "" {
		return NewValidationError("watcher", "watch_path", ErrMissingRequiredField)
	}
	if cfg.Watcher.Depth < 0 {
		return NewValidationError("watcher", "depth", ErrInvalidValue)
	}
	if cfg.Worker.Concurrency <= 0 {
		return NewValidationError("worker", "concurrency", ErrInvalidValue)
	}
	if cfg.RateLimiter.MaxConcurrent <= 0 || cfg.RateLimiter.RequestsPerMinute <= 0 {
		return NewValidationError("rate_limiter", "", ErrInvalidValue)
	}
	if cfg.Database.URL == "" {
		return NewValidationError("database", "url", ErrMissingRequiredField)
	}
	return nil
}
