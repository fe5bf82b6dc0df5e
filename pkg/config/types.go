package config

import "time"

// WatcherConfig controls the debounced filesystem observer.
type WatcherConfig struct {
	WatchPath          string        `yaml:"watch_path"`
	Depth              int           `yaml:"depth"`
	IgnorePatterns     []string      `yaml:"ignore_patterns,omitempty"`
	DebounceDelay      time.Duration `yaml:"debounce_delay"`
	StabilityThreshold time.Duration `yaml:"stability_threshold"`
	StartupDelay       time.Duration `yaml:"startup_delay,omitempty"`
}

// WorkerConfig controls the worker pool and per-job analysis behavior.
type WorkerConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	CacheTTLHours    int           `yaml:"cache_ttl_hours"`
	MaxContextTokens int           `yaml:"max_context_tokens"`
	AITimeout        time.Duration `yaml:"ai_timeout"`
	ContextTimeout   time.Duration `yaml:"context_timeout"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float32       `yaml:"temperature"`
}

// RateLimiterConfig controls the rate-limited executor wrapping LLM calls.
type RateLimiterConfig struct {
	MaxConcurrent     int           `yaml:"max_concurrent"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
}

// FanoutConfig controls the realtime WebSocket fan-out.
type FanoutConfig struct {
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// QueueConfig controls the priority analysis queue and its retention policy.
type QueueConfig struct {
	Name                string        `yaml:"name"`
	DefaultAttempts     int           `yaml:"default_attempts"`
	BackoffBase         time.Duration `yaml:"backoff_base"`
	BackoffMultiplier   float64       `yaml:"backoff_multiplier"`
	BackoffMax          time.Duration `yaml:"backoff_max"`
	CompletedRetention  time.Duration `yaml:"completed_retention"`
	CompletedKeepLast   int           `yaml:"completed_keep_last"`
	FailedKeepLast      int           `yaml:"failed_keep_last"`
	ShutdownDrainPeriod time.Duration `yaml:"shutdown_drain_period"`
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path,omitempty"`
}

// RedisConfig controls the result cache backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// GenAIConfig controls the external LLM analyzer client.
type GenAIConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
}

// AdminConfig controls operator-triggered maintenance behavior.
type AdminConfig struct {
	ResetDeleted bool `yaml:"reset_deleted"`
}

// RetentionConfig controls background cleanup cadence (pkg/cleanup).
type RetentionConfig struct {
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	CacheSweepJitter time.Duration `yaml:"cache_sweep_jitter"`
	EventTTL         time.Duration `yaml:"event_ttl"`
}

// Config is the fully resolved, validated application configuration.
type Config struct {
	Watcher     *WatcherConfig     `yaml:"watcher"`
	Worker      *WorkerConfig      `yaml:"worker"`
	RateLimiter *RateLimiterConfig `yaml:"rate_limiter"`
	Fanout      *FanoutConfig      `yaml:"fanout"`
	Queue       *QueueConfig       `yaml:"queue"`
	Database    *DatabaseConfig    `yaml:"database"`
	Redis       *RedisConfig       `yaml:"redis"`
	GenAI       *GenAIConfig       `yaml:"genai"`
	Admin       *AdminConfig       `yaml:"admin"`
	Retention   *RetentionConfig   `yaml:"retention"`
	HTTPAddr    string             `yaml:"http_addr"`
}
