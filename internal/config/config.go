package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/socialpulse/ig-insights/internal/trends"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port           string
	Debug          bool
	RequestTimeout time.Duration

	// Meta app and account
	AppID              string
	AppSecret          string
	AccessToken        string
	AccessTokenExpires time.Time // zero when unknown
	InstagramAccountID string
	PageID             string

	// Graph API client
	GraphBaseURL         string
	GraphAPIVersion      string
	GraphTimeout         time.Duration
	GraphRateLimit       float64 // requests per second
	GraphRateBurst       int
	GraphRateMaxWait     time.Duration
	GraphMaxRetries      int
	GraphBackoffInitial  time.Duration
	GraphBackoffMax      time.Duration
	GraphBreakerFailures int
	GraphBreakerTimeout  time.Duration

	// Credential lifecycle
	TokenRefreshMargin time.Duration
	TokenLifetime      time.Duration

	// Insights
	CaptionMaxLength int
	TopPostsMaxPages int

	// Storage for the refreshed credential
	StorageAccount   string
	StorageContainer string
	LocalStorageDir  string

	// Digest schedule configuration
	DigestSchedule string // "daily", "weekly" or "off"
	DigestPeriod   string
	DigestHistory  int // stored digests kept, 0 keeps all

	// Metrics requested by the token-check command to confirm insights access
	TokenCheckMetrics []string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8000"),
		Debug:          getBoolEnv("DEBUG", false),
		RequestTimeout: getDurationEnv("REQUEST_TIMEOUT", 30*time.Second),

		AppID:              getEnv("APP_ID", ""),
		AppSecret:          getEnv("APP_SECRET", ""),
		AccessToken:        getEnv("ACCESS_LONG_LIVED_TOKEN", ""),
		AccessTokenExpires: getUnixEnv("ACCESS_TOKEN_EXPIRES_AT"),
		InstagramAccountID: getEnv("INSTAGRAM_ACCOUNT_ID", ""),
		PageID:             getEnv("PAGE_ID", ""),

		GraphBaseURL:         strings.TrimRight(getEnv("GRAPH_BASE_URL", "https://graph.facebook.com"), "/"),
		GraphAPIVersion:      getEnv("GRAPH_API_VERSION", "v20.0"),
		GraphTimeout:         getDurationEnv("GRAPH_TIMEOUT", 30*time.Second),
		GraphRateLimit:       getFloatEnv("GRAPH_RATE_LIMIT", 3),
		GraphRateBurst:       getIntEnv("GRAPH_RATE_BURST", 5),
		GraphRateMaxWait:     getDurationEnv("GRAPH_RATE_MAX_WAIT", 10*time.Second),
		GraphMaxRetries:      getIntEnv("GRAPH_MAX_RETRIES", 3),
		GraphBackoffInitial:  getDurationEnv("GRAPH_BACKOFF_INITIAL", 500*time.Millisecond),
		GraphBackoffMax:      getDurationEnv("GRAPH_BACKOFF_MAX", 10*time.Second),
		GraphBreakerFailures: getIntEnv("GRAPH_BREAKER_FAILURES", 5),
		GraphBreakerTimeout:  getDurationEnv("GRAPH_BREAKER_TIMEOUT", time.Minute),

		TokenRefreshMargin: getDurationEnv("TOKEN_REFRESH_MARGIN", 7*24*time.Hour),
		TokenLifetime:      getDurationEnv("TOKEN_LIFETIME", 60*24*time.Hour),

		CaptionMaxLength: getIntEnv("CAPTION_MAX_LENGTH", 0),
		TopPostsMaxPages: getIntEnv("TOP_POSTS_MAX_PAGES", 10),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "insights"),
		LocalStorageDir:  getEnv("LOCAL_STORAGE_DIR", "./data"),

		DigestSchedule: getEnv("DIGEST_SCHEDULE", "weekly"),
		DigestPeriod:   getEnv("DIGEST_PERIOD", "7d"),
		DigestHistory:  getIntEnv("DIGEST_HISTORY", 12),

		TokenCheckMetrics: getSliceEnv("TOKEN_CHECK_METRICS", []string{"impressions", "reach", "profile_views"}),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AccessToken == "" {
		return fmt.Errorf("ACCESS_LONG_LIVED_TOKEN is required")
	}

	if c.InstagramAccountID == "" && c.PageID == "" {
		return fmt.Errorf("INSTAGRAM_ACCOUNT_ID or PAGE_ID is required")
	}

	if c.DigestSchedule != "daily" && c.DigestSchedule != "weekly" && c.DigestSchedule != "off" {
		return fmt.Errorf("DIGEST_SCHEDULE must be 'daily', 'weekly' or 'off'")
	}

	if _, err := trends.ParsePeriod(c.DigestPeriod); err != nil {
		return fmt.Errorf("DIGEST_PERIOD: %w", err)
	}

	if c.GraphRateLimit <= 0 || c.GraphRateBurst <= 0 {
		return fmt.Errorf("GRAPH_RATE_LIMIT and GRAPH_RATE_BURST must be positive")
	}

	if c.DigestHistory < 0 {
		return fmt.Errorf("DIGEST_HISTORY must not be negative")
	}

	if c.GraphMaxRetries < 0 {
		return fmt.Errorf("GRAPH_MAX_RETRIES must not be negative")
	}

	if c.TokenRefreshMargin >= c.TokenLifetime {
		return fmt.Errorf("TOKEN_REFRESH_MARGIN must be shorter than TOKEN_LIFETIME")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// CanRefresh reports whether the app credentials needed for token exchange are set
func (c *Config) CanRefresh() bool {
	return c.AppID != "" && c.AppSecret != ""
}

// NotificationsEnabled reports whether at least one notification channel is set
func (c *Config) NotificationsEnabled() bool {
	return c.TeamsWebhookURL != "" || c.NotificationEmail != ""
}

// GraphURL returns the versioned Graph API root
func (c *Config) GraphURL() string {
	return c.GraphBaseURL + "/" + c.GraphAPIVersion
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getUnixEnv(key string) time.Time {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return time.Unix(parsed, 0).UTC()
		}
	}
	return time.Time{}
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
