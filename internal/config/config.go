// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. Empty DatabaseURL selects the in-memory job store
	// (single-binary dev mode; job history does not survive a restart).
	DatabaseURL string

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Bootstrap API key for the initial admin client.
	AdminAPIKey string

	// Query normalizer settings (OpenAI-compatible chat completions).
	NormalizerURL     string
	NormalizerModel   string
	NormalizerAPIKey  string
	NormalizerTimeout time.Duration

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Catalog settings.
	KaggleUsername   string
	KaggleKey        string
	HuggingFaceToken string // Optional; public datasets work without it.
	OpenMLEnabled    bool
	SourceLimit      int           // Max candidates fetched per source.
	SourceTimeout    time.Duration // Per-source search timeout.
	RankTopK         int

	// Job settings.
	DataDir         string // Root for per-job working directories and artifacts.
	JobWorkers      int
	EventBufferSize int // Per-subscriber event channel capacity.

	// Rate limiting (in-process token bucket).
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("DATASCOUT_PORT", 8080),
		ReadTimeout:         envDuration("DATASCOUT_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("DATASCOUT_WRITE_TIMEOUT", 30*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		JWTPrivateKeyPath:   envStr("DATASCOUT_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("DATASCOUT_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("DATASCOUT_JWT_EXPIRATION", 24*time.Hour),
		AdminAPIKey:         envStr("DATASCOUT_ADMIN_API_KEY", ""),
		NormalizerURL:       envStr("DATASCOUT_NORMALIZER_URL", "https://api.openai.com/v1/chat/completions"),
		NormalizerModel:     envStr("DATASCOUT_NORMALIZER_MODEL", "gpt-4o-mini"),
		NormalizerAPIKey:    envStr("OPENAI_API_KEY", ""),
		NormalizerTimeout:   envDuration("DATASCOUT_NORMALIZER_TIMEOUT", 8*time.Second),
		EmbeddingProvider:   envStr("DATASCOUT_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:      envStr("DATASCOUT_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envInt("DATASCOUT_EMBEDDING_DIMENSIONS", 1536),
		OllamaURL:           envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		KaggleUsername:      envStr("KAGGLE_USERNAME", ""),
		KaggleKey:           envStr("KAGGLE_KEY", ""),
		HuggingFaceToken:    envStr("HF_TOKEN", ""),
		OpenMLEnabled:       envBool("DATASCOUT_OPENML_ENABLED", true),
		SourceLimit:         envInt("DATASCOUT_SOURCE_LIMIT", 15),
		SourceTimeout:       envDuration("DATASCOUT_SOURCE_TIMEOUT", 10*time.Second),
		RankTopK:            envInt("DATASCOUT_RANK_TOP_K", 5),
		DataDir:             envStr("DATASCOUT_DATA_DIR", "./data"),
		JobWorkers:          envInt("DATASCOUT_JOB_WORKERS", 4),
		EventBufferSize:     envInt("DATASCOUT_EVENT_BUFFER_SIZE", 64),
		RateLimitEnabled:    envBool("DATASCOUT_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:        envFloat("DATASCOUT_RATE_LIMIT_RPS", 10),
		RateLimitBurst:      envInt("DATASCOUT_RATE_LIMIT_BURST", 20),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "datascout"),
		LogLevel:            envStr("DATASCOUT_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("DATASCOUT_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: DATASCOUT_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.SourceLimit <= 0 {
		return fmt.Errorf("config: DATASCOUT_SOURCE_LIMIT must be positive")
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("config: DATASCOUT_SOURCE_TIMEOUT must be positive")
	}
	if c.RankTopK <= 0 {
		return fmt.Errorf("config: DATASCOUT_RANK_TOP_K must be positive")
	}
	if c.JobWorkers <= 0 {
		return fmt.Errorf("config: DATASCOUT_JOB_WORKERS must be positive")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: DATASCOUT_DATA_DIR is required")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: DATASCOUT_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: DATASCOUT_RATE_LIMIT_RPS and DATASCOUT_RATE_LIMIT_BURST must be positive")
	}
	if (c.KaggleUsername == "") != (c.KaggleKey == "") {
		return fmt.Errorf("config: KAGGLE_USERNAME and KAGGLE_KEY must be set together")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
