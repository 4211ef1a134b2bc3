package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fixed policy constants, not read from the environment
const (
	CacheTTL               = 10 * time.Minute
	SuspensionInactivity   = 90 * 24 * time.Hour
	DeletionInactivity     = 180 * 24 * time.Hour
	ActivityLookupInterval = 2 * time.Second
	MaxListingPages        = 100
)

// Config holds the application configuration
type Config struct {
	Environment  string
	ServerPort   int
	LogLevel     string
	JWTSecret    string
	OTLPEndpoint string

	Google    GoogleConfig
	GitHub    GitHubConfig
	Atlassian AtlassianConfig
	Slack     SlackConfig

	// RemoveStopList names source-control users that are never removed
	RemoveStopList []string
	// SuspendStopList names tenant emails that are never suspended or deleted
	SuspendStopList []string

	DryRun          bool
	GracePeriodDays int

	MemberSyncInterval      time.Duration
	SuspensionSyncInterval  time.Duration
	InactivityCheckInterval time.Duration
	RunOnStart              bool
}

// GoogleConfig configures the corporate directory client
type GoogleConfig struct {
	CredentialsFile string
	AdminEmail      string
	CustomerID      string
	GitHubSchema    string
	GitHubField     string
}

// GitHubConfig configures the source-control organization client
type GitHubConfig struct {
	Token   string
	Org     string
	BaseURL string
}

// AtlassianConfig configures the collaboration-suite admin API client
type AtlassianConfig struct {
	APIKey  string
	OrgID   string
	BaseURL string
}

// SlackConfig configures chat notifications
type SlackConfig struct {
	WebhookURL string
}

// GracePeriod returns the directory-absence grace window, zero when disabled
func (c *Config) GracePeriod() time.Duration {
	if c.GracePeriodDays <= 0 {
		return 0
	}
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	graceDays, err := strconv.Atoi(getEnv("GRACE_PERIOD_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid GRACE_PERIOD_DAYS: %w", err)
	}

	dryRun, err := parseBoolEnv("DRY_RUN", false)
	if err != nil {
		return nil, err
	}

	runOnStart, err := parseBoolEnv("RUN_ON_START", false)
	if err != nil {
		return nil, err
	}

	memberInterval, err := parseDurationEnv("MEMBER_SYNC_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	suspensionInterval, err := parseDurationEnv("SUSPENSION_SYNC_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	inactivityInterval, err := parseDurationEnv("INACTIVITY_CHECK_INTERVAL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &Config{
		Environment:  getEnv("ENVIRONMENT", "development"),
		ServerPort:   port,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Google: GoogleConfig{
			CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
			AdminEmail:      os.Getenv("GOOGLE_ADMIN_EMAIL"),
			CustomerID:      getEnv("GOOGLE_CUSTOMER_ID", "my_customer"),
			GitHubSchema:    getEnv("GOOGLE_GITHUB_SCHEMA", "GitHub"),
			GitHubField:     getEnv("GOOGLE_GITHUB_FIELD", "username"),
		},
		GitHub: GitHubConfig{
			Token:   os.Getenv("GITHUB_TOKEN"),
			Org:     os.Getenv("GITHUB_ORG"),
			BaseURL: os.Getenv("GITHUB_BASE_URL"),
		},
		Atlassian: AtlassianConfig{
			APIKey:  os.Getenv("ATLASSIAN_API_KEY"),
			OrgID:   os.Getenv("ATLASSIAN_ORG_ID"),
			BaseURL: getEnv("ATLASSIAN_BASE_URL", "https://api.atlassian.com"),
		},
		Slack: SlackConfig{
			WebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		},
		RemoveStopList:          parseCSVEnv("GITHUB_REMOVE_STOP_LIST", nil),
		SuspendStopList:         parseCSVEnv("ATLASSIAN_SUSPEND_STOP_LIST", nil),
		DryRun:                  dryRun,
		GracePeriodDays:         graceDays,
		MemberSyncInterval:      memberInterval,
		SuspensionSyncInterval:  suspensionInterval,
		InactivityCheckInterval: inactivityInterval,
		RunOnStart:              runOnStart,
	}, nil
}

// Validate reports every missing setting the server needs
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"GOOGLE_CREDENTIALS_FILE": c.Google.CredentialsFile,
		"GOOGLE_ADMIN_EMAIL":      c.Google.AdminEmail,
		"GITHUB_TOKEN":            c.GitHub.Token,
		"GITHUB_ORG":              c.GitHub.Org,
		"ATLASSIAN_API_KEY":       c.Atlassian.APIKey,
		"ATLASSIAN_ORG_ID":        c.Atlassian.OrgID,
		"JWT_SECRET":              c.JWTSecret,
	}
	for _, key := range []string{
		"GOOGLE_CREDENTIALS_FILE", "GOOGLE_ADMIN_EMAIL", "GITHUB_TOKEN", "GITHUB_ORG",
		"ATLASSIAN_API_KEY", "ATLASSIAN_ORG_ID", "JWT_SECRET",
	} {
		if required[key] == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	if c.GracePeriodDays < 0 {
		errs = append(errs, errors.New("GRACE_PERIOD_DAYS must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s: %q", key, value)
	}
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
