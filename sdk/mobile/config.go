package mobile

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shalom-calendar/upgradekit/internal/update"
)

// Config holds the SDK configuration.
// All fields use gomobile-compatible types (string, int, bool).
// JSON tags enable initialization from serialized config strings.
type Config struct {
	// DataPath is the app-private directory holding the settings database (required).
	DataPath string `json:"data_path"`

	// BuildVersion is the running app's version code (required, positive).
	BuildVersion int `json:"build_version"`

	// AppID is the store application identifier (required).
	AppID string `json:"app_id"`

	// StoreURL is opened when the user accepts an update (default: market://details?id=<app_id>).
	StoreURL string `json:"store_url,omitempty"`

	// NagCutoff is the RFC 3339 time or YYYY-MM-DD date after which every
	// build nags weekly (default: 2030-01-01).
	NagCutoff string `json:"nag_cutoff,omitempty"`

	// Locale is the initial device locale tag, e.g. "fr_FR". The native side
	// keeps it current with SetLocale.
	Locale string `json:"locale,omitempty"`

	// CacheSizeBytes sizes the in-memory settings cache (default: 524288).
	CacheSizeBytes int `json:"cache_size_bytes,omitempty"`

	// DedupWindowMs is how long a push message ID is remembered (default: 86400000 = 24h).
	DedupWindowMs int `json:"dedup_window_ms,omitempty"`

	// DebugMode enables verbose logging (default: false).
	DebugMode bool `json:"debug_mode,omitempty"`

	nagCutoff time.Time
}

// Default configuration values.
const (
	DefaultCacheSizeBytes = 512 * 1024
	DefaultDedupWindowMs  = 86400000 // 24 hours

	MinCacheSizeBytes = 64 * 1024
	MinDedupWindowMs  = 60000 // 1 minute
)

// SettingsFileName is the database file created under DataPath.
const SettingsFileName = "upgradekit.db"

var cutoffLayouts = []string{time.RFC3339, "2006-01-02"}

// validate checks that required fields are set and values are valid.
// Returns empty string on success, error message on failure.
func (c *Config) validate() string {
	if strings.TrimSpace(c.DataPath) == "" {
		return "data_path is required"
	}
	if strings.TrimSpace(c.AppID) == "" {
		return "app_id is required"
	}
	if c.BuildVersion <= 0 {
		return "build_version must be positive"
	}
	if c.CacheSizeBytes < 0 {
		return "cache_size_bytes must be non-negative"
	}
	if c.DedupWindowMs < 0 {
		return "dedup_window_ms must be non-negative"
	}

	if c.NagCutoff != "" {
		cutoff, ok := parseCutoff(c.NagCutoff)
		if !ok {
			return fmt.Sprintf("nag_cutoff %q is neither RFC 3339 nor YYYY-MM-DD", c.NagCutoff)
		}
		c.nagCutoff = cutoff
	}

	return ""
}

// applyDefaults fills in default values for unset optional fields.
func (c *Config) applyDefaults() {
	if c.StoreURL == "" {
		c.StoreURL = update.StoreURLForApp(c.AppID)
	}
	if c.nagCutoff.IsZero() {
		c.nagCutoff = update.DefaultNagCutoff
	}
	if c.CacheSizeBytes == 0 {
		c.CacheSizeBytes = DefaultCacheSizeBytes
	}
	if c.CacheSizeBytes < MinCacheSizeBytes {
		c.CacheSizeBytes = MinCacheSizeBytes
	}
	if c.DedupWindowMs == 0 {
		c.DedupWindowMs = DefaultDedupWindowMs
	}
	if c.DedupWindowMs < MinDedupWindowMs {
		c.DedupWindowMs = MinDedupWindowMs
	}
}

func parseCutoff(s string) (time.Time, bool) {
	for _, layout := range cutoffLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// configFromJSON parses a JSON config string and returns a validated Config.
func configFromJSON(jsonStr string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config JSON: %w", err)
	}

	if errMsg := cfg.validate(); errMsg != "" {
		return nil, fmt.Errorf("config validation failed: %s", errMsg)
	}

	cfg.applyDefaults()
	return &cfg, nil
}
