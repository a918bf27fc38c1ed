package update

import (
	"time"

	"github.com/shalom-calendar/upgradekit/internal/version"
)

// Throttle windows.
const (
	DefaultFetchInterval = 7 * 24 * time.Hour
	DefaultNagInterval   = 7 * 24 * time.Hour
	MajorDeclineWindow   = 7 * 24 * time.Hour
	MinorDeclineWindow   = 30 * 24 * time.Hour
)

// DefaultNagCutoff is the date after which every build nags for an update.
var DefaultNagCutoff = time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)

// Config holds the update policy configuration.
type Config struct {
	// OwnVersion is the running build.
	OwnVersion version.Code

	// StoreURL is opened when the user accepts an update.
	StoreURL string

	// NagCutoff starts the unconditional weekly nag.
	NagCutoff time.Time

	FetchInterval time.Duration
	NagInterval   time.Duration
}

// StoreURLForApp returns the Play Store deep link for an application ID.
func StoreURLForApp(appID string) string {
	return "market://details?id=" + appID
}

func (c *Config) applyDefaults() {
	if c.NagCutoff.IsZero() {
		c.NagCutoff = DefaultNagCutoff
	}
	if c.FetchInterval <= 0 {
		c.FetchInterval = DefaultFetchInterval
	}
	if c.NagInterval <= 0 {
		c.NagInterval = DefaultNagInterval
	}
}
