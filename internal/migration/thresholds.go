package migration

import "github.com/shalom-calendar/upgradekit/internal/version"

// Feature names a one-time migration.
type Feature string

const (
	SecondaryLocaleSupport   Feature = "secondary-locale-support"
	RegionHolidayDefaults    Feature = "region-holiday-defaults"
	LanguagePreferencePrompt Feature = "language-preference-prompt"
	TopicResubscription      Feature = "topic-resubscription"
)

// First builds that shipped each feature.
const (
	SecondaryLocaleVersion   version.Code = 75
	RegionHolidayVersion     version.Code = 75
	LanguagePromptVersion    version.Code = 75
	TopicSubscriptionVersion version.Code = 82
)

// Threshold pairs a feature with the first build that shipped it.
type Threshold struct {
	Feature    Feature
	MinVersion version.Code
}

// Due reports whether upgrading from previous to current crosses the
// threshold. A build never migrates to a feature newer than itself.
func (t Threshold) Due(previous, current version.Code) bool {
	return previous < t.MinVersion && t.MinVersion <= current
}

var thresholds = [...]Threshold{
	{Feature: SecondaryLocaleSupport, MinVersion: SecondaryLocaleVersion},
	{Feature: RegionHolidayDefaults, MinVersion: RegionHolidayVersion},
	{Feature: LanguagePreferencePrompt, MinVersion: LanguagePromptVersion},
	{Feature: TopicResubscription, MinVersion: TopicSubscriptionVersion},
}

// Thresholds returns the ordered threshold table. The returned slice is a
// copy.
func Thresholds() []Threshold {
	out := make([]Threshold, len(thresholds))
	copy(out, thresholds[:])
	return out
}
