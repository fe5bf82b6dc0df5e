package config

import "time"

// DefaultWatcherConfig returns the built-in watcher defaults.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		Depth:              1,
		DebounceDelay:      2000 * time.Millisecond,
		StabilityThreshold: 2000 * time.Millisecond,
	}
}

// DefaultWorkerConfig returns the built-in worker pool defaults.
func DefaultWorkerConfig() *WorkerConfig {
	return &WorkerConfig{
		Concurrency:      5,
		CacheTTLHours:    24,
		MaxContextTokens: 10000,
		AITimeout:        180 * time.Second,
		ContextTimeout:   30 * time.Second,
		Model:            "gemini-2.5-flash",
		MaxTokens:        4096,
		Temperature:      0.2,
	}
}

// DefaultRateLimiterConfig returns the built-in rate limiter defaults.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxConcurrent:     3,
		RequestsPerMinute: 10,
		BackoffMultiplier: 2,
		MaxRetries:        3,
		InitialDelay:      2000 * time.Millisecond,
	}
}

// DefaultFanoutConfig returns the built-in realtime fan-out defaults.
func DefaultFanoutConfig() *FanoutConfig {
	return &FanoutConfig{
		KeepaliveInterval: 30 * time.Second,
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Name:                "project-analysis",
		DefaultAttempts:     1,
		BackoffBase:         2 * time.Second,
		BackoffMultiplier:   2,
		BackoffMax:          60 * time.Second,
		CompletedRetention:  24 * time.Hour,
		CompletedKeepLast:   100,
		FailedKeepLast:      500,
		ShutdownDrainPeriod: 5 * time.Second,
	}
}

// DefaultDatabaseConfig returns the built-in database pool defaults.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxConns:        10,
		MinConns:        2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultRedisConfig returns the built-in Redis defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr: "localhost:6379",
	}
}

// DefaultGenAIConfig returns the built-in analyzer client defaults.
func DefaultGenAIConfig() *GenAIConfig {
	return &GenAIConfig{
		APIKeyEnv: "GOOGLE_API_KEY",
		Model:     "gemini-2.5-flash",
	}
}

// DefaultRetentionConfig returns the built-in background cleanup defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CleanupInterval:  1 * time.Hour,
		CacheSweepJitter: 5 * time.Minute,
		EventTTL:         7 * 24 * time.Hour,
	}
}

// DefaultConfig assembles the complete built-in default configuration.
func DefaultConfig() *Config {
	return &Config{
		Watcher:     DefaultWatcherConfig(),
		Worker:      DefaultWorkerConfig(),
		RateLimiter: DefaultRateLimiterConfig(),
		Fanout:      DefaultFanoutConfig(),
		Queue:       DefaultQueueConfig(),
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		GenAI:       DefaultGenAIConfig(),
		Admin:       &AdminConfig{},
		Retention:   DefaultRetentionConfig(),
		HTTPAddr:    ":8080",
	}
}
