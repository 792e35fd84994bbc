// Package config loads the fixbot runtime configuration from the process
// environment. A .env/.env.local file is honored for local development but
// never overrides variables already present in the environment.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LLMConfig configures the patch-generation endpoint.
type LLMConfig struct {
	BaseURL   string        // LLM_API_BASE_URL
	APIKey    string        // LLM_API_KEY
	Model     string        // LLM_API_MODEL
	MaxTokens int           // LLM_API_MAX_TOKENS
	Timeout   time.Duration // LLM_API_TIMEOUT_SECONDS
}

// ForgeConfig configures the hosting-provider REST client and git pushes.
type ForgeConfig struct {
	Token      string // PROVIDER_TOKEN
	APIBaseURL string // PROVIDER_API_BASE_URL
}

// WebhookConfig configures the ingress endpoint.
type WebhookConfig struct {
	ListenAddr          string // WEBHOOK_LISTEN_ADDR
	SignatureValidation bool   // WEBHOOK_SIGNATURE_VALIDATION_ENABLED
	Secret              string // WEBHOOK_SECRET
}

// Config is the full runtime configuration.
type Config struct {
	LLM     LLMConfig
	Forge   ForgeConfig
	Webhook WebhookConfig

	DatabaseURL string // DATABASE_URL (sqlite path or :memory:)

	WorkDir          string        // WORK_DIR
	WorkDirRetention time.Duration // WORK_DIR_RETENTION_DAYS

	MaxConcurrentTasks int           // ORCHESTRATOR_MAX_CONCURRENT_TASKS
	TaskMaxAttempts    int           // TASK_MAX_ATTEMPTS
	ValidationEnabled  bool          // VALIDATION_ENABLED
	BuildTimeout       time.Duration // BUILD_TOOL_TIMEOUT_SECONDS

	NATSURL string // NATS_URL (optional lifecycle events)
}

// Load reads configuration from the environment, applying defaults.
// A .env file, when present, fills in unset variables only.
func Load() (*Config, error) {
	// godotenv.Load never overrides existing environment variables.
	for _, p := range []string{".env", ".env.local"} {
		if err := godotenv.Load(p); err == nil {
			fmt.Fprintf(os.Stderr, "Loaded environment variables from %s\n", p)
			break
		}
	}

	cfg := &Config{
		LLM: LLMConfig{
			BaseURL:   envStr("LLM_API_BASE_URL", ""),
			APIKey:    envStr("LLM_API_KEY", ""),
			Model:     envStr("LLM_API_MODEL", ""),
			MaxTokens: envInt("LLM_API_MAX_TOKENS", 4096),
			Timeout:   time.Duration(envInt("LLM_API_TIMEOUT_SECONDS", 60)) * time.Second,
		},
		Forge: ForgeConfig{
			Token:      envStr("PROVIDER_TOKEN", ""),
			APIBaseURL: envStr("PROVIDER_API_BASE_URL", ""),
		},
		Webhook: WebhookConfig{
			ListenAddr:          envStr("WEBHOOK_LISTEN_ADDR", ":8080"),
			SignatureValidation: envBool("WEBHOOK_SIGNATURE_VALIDATION_ENABLED", false),
			Secret:              envStr("WEBHOOK_SECRET", ""),
		},
		DatabaseURL:        envStr("DATABASE_URL", "fixbot.db"),
		WorkDir:            envStr("WORK_DIR", defaultWorkDir()),
		WorkDirRetention:   time.Duration(envInt("WORK_DIR_RETENTION_DAYS", 7)) * 24 * time.Hour,
		MaxConcurrentTasks: envInt("ORCHESTRATOR_MAX_CONCURRENT_TASKS", defaultWorkers()),
		TaskMaxAttempts:    envInt("TASK_MAX_ATTEMPTS", 3),
		ValidationEnabled:  envBool("VALIDATION_ENABLED", true),
		BuildTimeout:       time.Duration(envInt("BUILD_TOOL_TIMEOUT_SECONDS", 600)) * time.Second,
		NATSURL:            envStr("NATS_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants required before startup.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_API_BASE_URL is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_API_MODEL is required")
	}
	if c.Forge.Token == "" {
		return fmt.Errorf("PROVIDER_TOKEN is required")
	}
	if c.Webhook.SignatureValidation && c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required when signature validation is enabled")
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("ORCHESTRATOR_MAX_CONCURRENT_TASKS must be >= 1")
	}
	if c.TaskMaxAttempts < 1 {
		return fmt.Errorf("TASK_MAX_ATTEMPTS must be >= 1")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_API_TIMEOUT_SECONDS must be > 0")
	}
	return nil
}

// Secrets returns every credential value that must never appear in logs.
func (c *Config) Secrets() []string {
	return []string{c.LLM.APIKey, c.Forge.Token, c.Webhook.Secret}
}

func defaultWorkers() int {
	n := runtime.NumCPU()
	if n < 2 {
		n = 2
	}
	return n
}

func defaultWorkDir() string {
	return os.TempDir() + string(os.PathSeparator) + "fixbot-work"
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
