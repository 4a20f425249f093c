// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Extraction modes.
const (
	ModeHTML = "html"
	ModeFeed = "feed"
)

// Config holds the process configuration. Runtime-mutable settings live in
// the store instead.
type Config struct {
	ListingURL      string `envconfig:"LISTING_URL" default:"https://www.ptt.gov.tr/duyurular?page=1&announcementType=3"`
	ExtractMode     string `envconfig:"EXTRACT_MODE" default:"html"`
	ItemSelector    string `envconfig:"ITEM_SELECTOR" default:"a[href*=\"/duyuru/\"]"`
	ListingSelector string `envconfig:"LISTING_SELECTOR" default:"body"`
	EmptySelector   string `envconfig:"EMPTY_SELECTOR"`

	// Semicolon-separated filter rules, see filter.Split.
	ItemInclude string `envconfig:"ITEM_INCLUDE"`
	ItemExclude string `envconfig:"ITEM_EXCLUDE"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/watcher.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":5000"`
	UserAgent    string `envconfig:"USER_AGENT" default:"SiteWatcher/1.0"`

	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	CommitTimeout time.Duration `envconfig:"COMMIT_TIMEOUT" default:"10s"`
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"60s"`

	MassRemovalRatio      float64 `envconfig:"MASS_REMOVAL_RATIO" default:"0.5"`
	MassRemovalMinTracked int     `envconfig:"MASS_REMOVAL_MIN_TRACKED" default:"3"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockKey   string        `envconfig:"LOCK_KEY" default:"site_watcher:scan"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"5m"`

	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatIDs  []int64 `envconfig:"TELEGRAM_CHAT_IDS"`
	AllowedUsers     []int64 `envconfig:"ALLOWED_USERS"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.ListingURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("LISTING_URL must be an absolute http(s) URL, got %q", c.ListingURL)
	}
	switch c.ExtractMode {
	case ModeHTML:
		if c.ItemSelector == "" {
			return fmt.Errorf("ITEM_SELECTOR is required in html mode")
		}
	case ModeFeed:
	default:
		return fmt.Errorf("EXTRACT_MODE must be %q or %q, got %q", ModeHTML, ModeFeed, c.ExtractMode)
	}
	if c.MassRemovalRatio <= 0 || c.MassRemovalRatio > 1 {
		return fmt.Errorf("MASS_REMOVAL_RATIO must be in (0, 1], got %v", c.MassRemovalRatio)
	}
	if c.MassRemovalMinTracked < 0 {
		return fmt.Errorf("MASS_REMOVAL_MIN_TRACKED must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"FETCH_TIMEOUT":  c.FetchTimeout,
		"COMMIT_TIMEOUT": c.CommitTimeout,
		"NOTIFY_TIMEOUT": c.NotifyTimeout,
		"LOCK_TTL":       c.LockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// IsUserAllowed checks whether a Telegram user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}
