package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LLMAdapterMode    string
	ModelScopeAPIKey  string
	ModelScopeBaseURL string
	ModelName         string
	ModelTemperature  float64
	ModelMaxTokens    int

	MemoryProvider   string
	QdrantHost       string
	QdrantGRPCPort   int
	QdrantAPIKey     string
	QdrantCollection string
	EmbeddingDims    int
	EmbeddingModel   string
	EmbeddingBaseURL string

	DatabaseURL string

	RetrieveLimit     int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	RateLimitCooldown time.Duration

	MinUtteranceRunes   int
	MinReplyRunes       int
	ShortUtteranceRunes int
	ShortReplyRunes     int
	GreetingReplyRunes  int
	Greetings           []string
	PersonalMarkers     []string

	PersonaText string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "yiyu"),
		AllowAnyOrigin:    false,
		LLMAdapterMode:    envOrDefault("LLM_ADAPTER_MODE", "auto"),
		ModelScopeAPIKey:  stringsTrimSpace("MODELSCOPE_API_KEY"),
		ModelScopeBaseURL: envOrDefault("MODELSCOPE_BASE_URL", "https://api-inference.modelscope.cn/v1"),
		ModelName:         envOrDefault("MODEL_NAME", "deepseek-ai/DeepSeek-V3.1"),
		ModelTemperature:  0.2,
		ModelMaxTokens:    2000,
		MemoryProvider:    envOrDefault("MEMORY_PROVIDER", "auto"),
		QdrantHost:        stringsTrimSpace("QDRANT_HOST"),
		QdrantGRPCPort:    6334,
		QdrantAPIKey:      stringsTrimSpace("QDRANT_API_KEY"),
		QdrantCollection:  envOrDefault("QDRANT_COLLECTION_NAME", "conversation_memories"),
		EmbeddingDims:     768,
		EmbeddingModel:    envOrDefault("EMBEDDING_MODEL", "moka-ai/m3e-base"),
		EmbeddingBaseURL:  stringsTrimSpace("EMBEDDING_BASE_URL"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		RetrieveLimit:     5,
		MaxAttempts:       3,
		RetryBaseDelay:    2 * time.Second,
		RateLimitCooldown: 2 * time.Minute,
		// Selective-write heuristic thresholds, counted in runes. The exact
		// cutoffs are tuned for short Chinese exchanges; keep them adjustable.
		MinUtteranceRunes:   5,
		MinReplyRunes:       10,
		ShortUtteranceRunes: 8,
		ShortReplyRunes:     25,
		GreetingReplyRunes:  30,
		Greetings:           listFromEnv("MEMORY_GREETINGS"),
		PersonalMarkers:     listFromEnv("MEMORY_PERSONAL_MARKERS"),
		PersonaText:         stringsTrimSpace("PERSONA_TEXT"),
		ShutdownTimeout:     15 * time.Second,
	}
	if cfg.EmbeddingBaseURL == "" {
		cfg.EmbeddingBaseURL = cfg.ModelScopeBaseURL
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RetryBaseDelay, err = durationFromEnv("API_RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitCooldown, err = durationFromEnv("API_RATE_LIMIT_COOLDOWN", cfg.RateLimitCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelTemperature, err = floatFromEnv("MODEL_TEMPERATURE", cfg.ModelTemperature)
	if err != nil {
		return Config{}, err
	}

	intKeys := []struct {
		key string
		dst *int
	}{
		{"MODEL_MAX_TOKENS", &cfg.ModelMaxTokens},
		{"QDRANT_GRPC_PORT", &cfg.QdrantGRPCPort},
		{"EMBEDDING_DIMS", &cfg.EmbeddingDims},
		{"MEMORY_RETRIEVE_LIMIT", &cfg.RetrieveLimit},
		{"API_MAX_ATTEMPTS", &cfg.MaxAttempts},
		{"MEMORY_MIN_USER_RUNES", &cfg.MinUtteranceRunes},
		{"MEMORY_MIN_REPLY_RUNES", &cfg.MinReplyRunes},
		{"MEMORY_SHORT_USER_RUNES", &cfg.ShortUtteranceRunes},
		{"MEMORY_SHORT_REPLY_RUNES", &cfg.ShortReplyRunes},
		{"MEMORY_GREETING_REPLY_RUNES", &cfg.GreetingReplyRunes},
	}
	for _, ik := range intKeys {
		*ik.dst, err = intFromEnv(ik.key, *ik.dst)
		if err != nil {
			return Config{}, err
		}
	}

	if cfg.ModelMaxTokens <= 0 {
		return Config{}, fmt.Errorf("MODEL_MAX_TOKENS must be positive")
	}
	if cfg.ModelTemperature < 0 || cfg.ModelTemperature > 2 {
		return Config{}, fmt.Errorf("MODEL_TEMPERATURE must be in [0, 2]")
	}
	if cfg.QdrantGRPCPort <= 0 || cfg.QdrantGRPCPort > 65535 {
		return Config{}, fmt.Errorf("QDRANT_GRPC_PORT must be a valid port")
	}
	if cfg.EmbeddingDims <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIMS must be positive")
	}
	if cfg.RetrieveLimit <= 0 {
		return Config{}, fmt.Errorf("MEMORY_RETRIEVE_LIMIT must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("API_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.RetryBaseDelay <= 0 {
		return Config{}, fmt.Errorf("API_RETRY_BASE_DELAY must be positive")
	}
	if cfg.RateLimitCooldown < 0 {
		return Config{}, fmt.Errorf("API_RATE_LIMIT_COOLDOWN must not be negative")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv parses a comma-separated env value; empty means "use defaults".
func listFromEnv(key string) []string {
	v := stringsTrimSpace(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
