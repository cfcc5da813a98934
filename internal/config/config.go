package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Raven server.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Store    StoreConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SQLite   SQLiteConfig
	NATS     NATSConfig
	Worker   WorkerConfig
	LLM      LLMConfig
	Filing   FilingConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	CORSOrigins []string
	// RateLimit is the per-key request budget per minute. Zero disables it.
	RateLimit int
}

type AuthConfig struct {
	APIKeyHash string
}

type StoreConfig struct {
	Backend string
	Prefix  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type SQLiteConfig struct {
	Path string
}

type NATSConfig struct {
	URL           string
	StatusSubject string
	SubmitSubject string
}

type WorkerConfig struct {
	PoolSize       int
	MaxAttempts    int
	BackoffBase    time.Duration
	RecoverOnStart bool
}

type LLMConfig struct {
	Provider       string
	MaxRPM         int
	MaxTPM         int
	Window         time.Duration
	Workers        int
	MaxAttempts    int
	RequestTimeout time.Duration
	Ollama         OllamaConfig
	VLLM           VLLMConfig
	OpenAI         OpenAIConfig
	Anthropic      AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type AnthropicConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type FilingConfig struct {
	SourceDir string
	// ArchiveURL, when set, replaces SourceDir with an HTTP filing archive.
	ArchiveURL     string
	ArchiveToken   string
	UserAgent      string
	ArchiveTimeout time.Duration
	OutputDir      string
	DataVersion    string
	ContextWindow  int
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"postgres": true,
	"redis":    true,
	"sqlite":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        envInt("RAVEN_PORT", 8080),
			Env:         envString("RAVEN_ENV", "development"),
			CORSOrigins: envList("RAVEN_CORS_ORIGINS", []string{"*"}),
			RateLimit:   envInt("RAVEN_RATE_LIMIT_PER_MINUTE", 0),
		},
		Auth: AuthConfig{
			APIKeyHash: os.Getenv("RAVEN_API_KEY_HASH"),
		},
		Store: StoreConfig{
			Backend: envString("STORE_BACKEND", "sqlite"),
			Prefix:  envString("STORE_PREFIX", "jobs/"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		SQLite: SQLiteConfig{
			Path: envString("SQLITE_PATH", "raven.db"),
		},
		NATS: NATSConfig{
			URL:           os.Getenv("NATS_URL"),
			StatusSubject: envString("NATS_STATUS_SUBJECT", "raven.jobs.status"),
			SubmitSubject: envString("NATS_SUBMIT_SUBJECT", "raven.jobs.submit"),
		},
		Worker: WorkerConfig{
			PoolSize:       envInt("WORKER_POOL_SIZE", 2),
			MaxAttempts:    envInt("WORKER_MAX_ATTEMPTS", 3),
			BackoffBase:    envDuration("WORKER_BACKOFF_BASE", time.Second),
			RecoverOnStart: envBool("WORKER_RECOVER_ON_START", true),
		},
		LLM: LLMConfig{
			Provider:       os.Getenv("LLM_PROVIDER"),
			MaxRPM:         envInt("LLM_MAX_RPM", 200),
			MaxTPM:         envInt("LLM_MAX_TPM", 40000),
			Window:         envDurationSecs("LLM_WINDOW_SECS", 60*time.Second),
			Workers:        envInt("LLM_WORKERS", 8),
			MaxAttempts:    envInt("LLM_MAX_ATTEMPTS", 3),
			RequestTimeout: envDurationSecs("LLM_REQUEST_TIMEOUT_SECS", 60*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Filing: FilingConfig{
			SourceDir:      envString("FILING_SOURCE_DIR", "data/filings"),
			ArchiveURL:     os.Getenv("FILING_ARCHIVE_URL"),
			ArchiveToken:   os.Getenv("FILING_ARCHIVE_TOKEN"),
			UserAgent:      envString("FILING_USER_AGENT", "raven/1.0"),
			ArchiveTimeout: envDurationSecs("FILING_ARCHIVE_TIMEOUT_SECS", 30*time.Second),
			OutputDir:      envString("FILING_OUTPUT_DIR", "data/output"),
			DataVersion:    envString("FILING_DATA_VERSION", "1"),
			ContextWindow:  envInt("FILING_CONTEXT_WINDOW", 5),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) validate() error {
	if c.Auth.APIKeyHash == "" {
		return fmt.Errorf("RAVEN_API_KEY_HASH is required")
	}

	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis, sqlite; got %q", c.Store.Backend)
	}
	if c.Store.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
	}
	if c.Store.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when STORE_BACKEND is redis")
	}
	if c.Server.RateLimit > 0 && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when RAVEN_RATE_LIMIT_PER_MINUTE is set")
	}

	if c.NATS.URL != "" && !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.NATS.URL)
	}

	if c.Filing.ArchiveURL != "" && !strings.HasPrefix(c.Filing.ArchiveURL, "http://") && !strings.HasPrefix(c.Filing.ArchiveURL, "https://") {
		return fmt.Errorf("FILING_ARCHIVE_URL must be an http(s) URL, got %q", c.Filing.ArchiveURL)
	}

	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1, got %d", c.Worker.PoolSize)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1, got %d", c.Worker.MaxAttempts)
	}

	if c.LLM.Provider == "" {
		return fmt.Errorf("LLM_PROVIDER is required")
	}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("LLM_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER is openai")
	}
	if c.LLM.Provider == "anthropic" && c.LLM.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER is anthropic")
	}
	if c.LLM.Provider == "vllm" && c.LLM.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when LLM_PROVIDER is vllm")
	}
	if c.LLM.Workers < 1 {
		return fmt.Errorf("LLM_WORKERS must be at least 1, got %d", c.LLM.Workers)
	}
	if c.LLM.MaxRPM < 0 || c.LLM.MaxTPM < 0 {
		return fmt.Errorf("LLM_MAX_RPM and LLM_MAX_TPM must not be negative")
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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
