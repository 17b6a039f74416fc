package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents client configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	APIBaseURL        string
	WorkflowBaseURL   string
	WorkflowAPIKey    string
	TokenCachePath    string
	AuthTimeout       time.Duration
	PollQueryTimeout  time.Duration
	ChatTimeout       time.Duration
	AutoRefreshPeriod time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		APIBaseURL:        os.Getenv("API_BASE_URL"),
		WorkflowBaseURL:   os.Getenv("WORKFLOW_BASE_URL"),
		WorkflowAPIKey:    os.Getenv("WORKFLOW_API_KEY"),
		TokenCachePath:    getEnv("TOKEN_CACHE_PATH", defaultTokenCachePath()),
		AuthTimeout:       time.Second * time.Duration(getEnvInt("AUTH_TIMEOUT_SECONDS", 30)),
		PollQueryTimeout:  time.Second * time.Duration(getEnvInt("POLL_QUERY_TIMEOUT_SECONDS", 30)),
		ChatTimeout:       time.Second * time.Duration(getEnvInt("CHAT_TIMEOUT_SECONDS", 120)),
		AutoRefreshPeriod: time.Minute * time.Duration(getEnvInt("AUTO_REFRESH_MINUTES", 30)),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}

	return cfg, nil
}

func defaultTokenCachePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tokens.json"
	}
	return filepath.Join(dir, "genclient", "tokens.json")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
