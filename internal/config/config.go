package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the inferq server.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Queue      QueueConfig
	Worker     WorkerConfig
	Reconciler ReconcilerConfig
	AI         AIConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QueueConfig names the two broker topics. The requests stream carries
// job-execution instructions; the notifications stream carries completion
// events for external listeners and is never consumed here.
type QueueConfig struct {
	RequestsStream      string
	NotificationsStream string
	Group               string
	Consumer            string
}

type WorkerConfig struct {
	PoolSize int
}

type ReconcilerConfig struct {
	Interval       time.Duration
	PendingGrace   time.Duration
	StuckThreshold time.Duration
	RetryWindow    time.Duration
	MaxRetries     int
	RepublishBatch int
}

type AIConfig struct {
	RequestTimeout      time.Duration
	ContinuationRetries int
	ContinuationBackoff time.Duration
	ResultCacheTTL      time.Duration
	OpenAI              OpenAIConfig
	Anthropic           AnthropicConfig
	Gemini              GeminiConfig
}

type OpenAIConfig struct {
	BaseURL string
}

type AnthropicConfig struct {
	BaseURL string
}

type GeminiConfig struct {
	BaseURL string
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid. Provider API keys are not
// configured here; they live on the provider model records.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("INFERQ_PORT", 8080),
			Env:  envString("INFERQ_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Queue: QueueConfig{
			RequestsStream:      envString("QUEUE_REQUESTS_STREAM", "llm_requests"),
			NotificationsStream: envString("QUEUE_NOTIFICATIONS_STREAM", "llm_notifications"),
			Group:               envString("QUEUE_GROUP", "inferq_workers"),
			Consumer:            envString("QUEUE_CONSUMER", "worker-1"),
		},
		Worker: WorkerConfig{
			PoolSize: envInt("WORKER_POOL_SIZE", 16),
		},
		Reconciler: ReconcilerConfig{
			Interval:       envDuration("RECONCILER_INTERVAL", 30*time.Second),
			PendingGrace:   envDuration("RECONCILER_PENDING_GRACE", 10*time.Second),
			StuckThreshold: envDuration("RECONCILER_STUCK_THRESHOLD", 30*time.Minute),
			RetryWindow:    envDuration("RECONCILER_RETRY_WINDOW", time.Hour),
			MaxRetries:     envInt("RECONCILER_MAX_RETRIES", 3),
			RepublishBatch: envInt("RECONCILER_REPUBLISH_BATCH", 10),
		},
		AI: AIConfig{
			RequestTimeout:      envDurationSecs("AI_REQUEST_TIMEOUT_SECS", 120*time.Second),
			ContinuationRetries: envInt("AI_CONTINUATION_RETRIES", 3),
			ContinuationBackoff: envDuration("AI_CONTINUATION_BACKOFF", time.Second),
			ResultCacheTTL:      envDuration("AI_RESULT_CACHE_TTL", time.Hour),
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
			},
			Gemini: GeminiConfig{
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Worker.PoolSize <= 0 {
		return fmt.Errorf("WORKER_POOL_SIZE must be positive, got %d", c.Worker.PoolSize)
	}

	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("RECONCILER_INTERVAL must be positive, got %s", c.Reconciler.Interval)
	}

	for name, url := range map[string]string{
		"OPENAI_BASE_URL":    c.AI.OpenAI.BaseURL,
		"ANTHROPIC_BASE_URL": c.AI.Anthropic.BaseURL,
		"GEMINI_BASE_URL":    c.AI.Gemini.BaseURL,
	} {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, url)
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
