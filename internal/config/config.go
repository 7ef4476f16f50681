// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Generation providers.
const (
	ProviderGemini   = "gemini"
	ProviderGRPC     = "grpc"
	ProviderDisabled = "disabled"
)

// Profile store backends.
const (
	ProfileBackendSQLite    = "sqlite"
	ProfileBackendFirestore = "firestore"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	AllowedOrigins  []string
	BannerDelay     time.Duration
	SessionIdleTTL  time.Duration // idle view/chat sessions are evicted after this
	VisitorTTL      time.Duration // visitor rows and device sign-ins expire after this
	BcryptCost      int
	Profiles        ProfileConfig
	Generation      GenerationConfig
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	Timeout         TimeoutConfig
	Retry           RetryConfig
	ConversationLog ConversationLogConfig
}

// ProfileConfig selects the profile document store.
type ProfileConfig struct {
	Backend          string
	FirestoreProject string
}

// GenerationConfig selects and tunes the text-generation service.
type GenerationConfig struct {
	Provider       string
	Model          string
	APIKey         string
	GrpcAddr       string
	RequestTimeout time.Duration
}

// RateLimitConfig bounds chat submissions per visitor.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig tunes the view stream.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// TimeoutConfig holds timeouts for auxiliary operations.
type TimeoutConfig struct {
	HealthCheck time.Duration
}

// RetryConfig controls retries on SQLite contention.
type RetryConfig struct {
	DatabaseMaxRetries     int
	DatabaseRetryBaseDelay time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	apiKey := getEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		apiKey = getEnv("API_KEY", "")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		DBPath:         getEnv("DB_PATH", "./data/alphatech.db"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		BannerDelay:    getEnvDuration("BANNER_DELAY", 3*time.Second),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		VisitorTTL:     getEnvDuration("VISITOR_TTL", 30*24*time.Hour),
		BcryptCost:     getEnvInt("BCRYPT_COST", 10),
		Profiles: ProfileConfig{
			Backend:          strings.ToLower(getEnv("PROFILE_BACKEND", ProfileBackendSQLite)),
			FirestoreProject: getEnv("FIRESTORE_PROJECT", ""),
		},
		Generation: GenerationConfig{
			Provider:       strings.ToLower(getEnv("GENERATION_PROVIDER", ProviderGemini)),
			Model:          getEnv("GENERATION_MODEL", "gemini-3-flash-preview"),
			APIKey:         apiKey,
			GrpcAddr:       getEnv("GENERATION_GRPC_ADDR", "localhost:50051"),
			RequestTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		Timeout: TimeoutConfig{
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     getEnvInt("DB_MAX_RETRIES", 3),
			DatabaseRetryBaseDelay: getEnvDuration("DB_RETRY_BASE_DELAY", 50*time.Millisecond),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Flat list of independent checks.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BannerDelay <= 0 {
		return fmt.Errorf("BANNER_DELAY must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	switch c.Profiles.Backend {
	case ProfileBackendSQLite:
	case ProfileBackendFirestore:
		if c.Profiles.FirestoreProject == "" {
			return fmt.Errorf("FIRESTORE_PROJECT must be set when PROFILE_BACKEND=firestore")
		}
	default:
		return fmt.Errorf("unknown PROFILE_BACKEND %q", c.Profiles.Backend)
	}
	switch c.Generation.Provider {
	case ProviderGemini, ProviderGRPC, ProviderDisabled:
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.Generation.Provider)
	}
	if c.Generation.Provider == ProviderGRPC && c.Generation.GrpcAddr == "" {
		return fmt.Errorf("GENERATION_GRPC_ADDR cannot be empty")
	}
	if c.Generation.RequestTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
