// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/efisher/reviewflow/internal/domain/model"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	WebhookSecret string
	GitHubToken   string
	GenAIAPIKey   string
	SecretKey     []byte // 32-byte AES key; nil when REVIEWFLOW_SECRET_KEY is unset.

	CommentMode     model.CommentMode
	DryRun          bool
	MaxFiles        int
	MaxDiffBytes    int
	MaxOutputTokens int

	PlannerModel  string
	ReviewerModel string

	MaxReceiveCount int
	LeaseTimeout    time.Duration
	LedgerTTL       time.Duration
	Workers         int
	BatchSize       int
	ProcessTimeout  time.Duration
	PollInterval    time.Duration
}

// TwoStage reports whether both pipeline models are configured. With only
// REVIEWFLOW_MODEL set, the planner stage is skipped.
func (c *Config) TwoStage() bool {
	return c.PlannerModel != "" && c.ReviewerModel != ""
}

// Load reads configuration from environment variables and returns a validated Config.
//
// REVIEWFLOW_WEBHOOK_SECRET is required. REVIEWFLOW_GITHUB_TOKEN and
// REVIEWFLOW_GENAI_API_KEY may instead come from the encrypted secret store;
// the composition root resolves that, with stored values taking precedence.
// Model selection: REVIEWFLOW_PLANNER_MODEL plus REVIEWFLOW_REVIEWER_MODEL
// enable the two-stage pipeline; REVIEWFLOW_MODEL alone selects a single
// reviewer-only model.
func Load() (*Config, error) {
	secret := os.Getenv("REVIEWFLOW_WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("REVIEWFLOW_WEBHOOK_SECRET is required")
	}

	cfg := &Config{
		ListenAddr:    envDefault("REVIEWFLOW_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:        envDefault("REVIEWFLOW_DB_PATH", "reviewflow.db"),
		WebhookSecret: secret,
		GitHubToken:   os.Getenv("REVIEWFLOW_GITHUB_TOKEN"),
		GenAIAPIKey:   os.Getenv("REVIEWFLOW_GENAI_API_KEY"),
		PlannerModel:  os.Getenv("REVIEWFLOW_PLANNER_MODEL"),
		ReviewerModel: os.Getenv("REVIEWFLOW_REVIEWER_MODEL"),
	}

	if cfg.ReviewerModel == "" {
		cfg.ReviewerModel = os.Getenv("REVIEWFLOW_MODEL")
		// A reviewer from the legacy variable never pairs with a planner.
		cfg.PlannerModel = ""
	}

	mode, err := model.ParseCommentMode(envDefault("REVIEWFLOW_COMMENT_MODE", string(model.ModeInlineBestEffort)))
	if err != nil {
		return nil, fmt.Errorf("REVIEWFLOW_COMMENT_MODE: %w", err)
	}
	cfg.CommentMode = mode

	if cfg.DryRun, err = envBool("REVIEWFLOW_DRY_RUN", false); err != nil {
		return nil, err
	}

	if key, ok := os.LookupEnv("REVIEWFLOW_SECRET_KEY"); ok && key != "" {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("REVIEWFLOW_SECRET_KEY is not valid hex: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("REVIEWFLOW_SECRET_KEY must be 64 hex chars (32 bytes), got %d bytes", len(decoded))
		}
		cfg.SecretKey = decoded
	}

	if cfg.MaxFiles, err = envInt("REVIEWFLOW_MAX_REVIEW_FILES", 25); err != nil {
		return nil, err
	}
	if cfg.MaxDiffBytes, err = envInt("REVIEWFLOW_MAX_DIFF_BYTES", 262144); err != nil {
		return nil, err
	}
	if cfg.MaxOutputTokens, err = envInt("REVIEWFLOW_MAX_OUTPUT_TOKENS", 8192); err != nil {
		return nil, err
	}
	if cfg.MaxReceiveCount, err = envInt("REVIEWFLOW_MAX_RECEIVE_COUNT", 5); err != nil {
		return nil, err
	}
	if cfg.Workers, err = envInt("REVIEWFLOW_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = envInt("REVIEWFLOW_BATCH_SIZE", 8); err != nil {
		return nil, err
	}

	if cfg.LeaseTimeout, err = envDuration("REVIEWFLOW_LEASE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LedgerTTL, err = envDuration("REVIEWFLOW_LEDGER_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ProcessTimeout, err = envDuration("REVIEWFLOW_PROCESS_TIMEOUT", 4*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("REVIEWFLOW_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
