package settings

import "fmt"

// Keys persisted by the upgrade core. Names are kept byte-compatible with the
// Android SharedPreferences file so existing installs migrate in place.
const (
	KeyCurrentVersion         = "current_version"
	KeyFirstTimeAccess        = "pref_key_first_time_access"
	KeyLatestAppUsedTime      = "pref_key_latest_app_used_time"
	KeyInstallationID         = "INSTALLATION_ID"
	KeyPreferenceOpenedCount  = "pref_key_user_preference_opened_count"
	KeyPrimaryLocale          = "pref_key_primary_locale"
	KeySecondaryLocale        = "pref_key_secondary_locale"
	KeySecondaryChronology    = "pref_key_chronology_secondary"
	KeyOrthodoxDayNameShown   = "pref_key_orthodox_day_name_shown"
	KeyOrthodoxOnlyHolidays   = "pref_key_orthodox_only_holiday_shown"
	KeyMuslimOnlyHolidays     = "pref_key_muslim_only_holiday_shown"
	KeyLanguagePromptRequired = "pref_key_language_prompt_requested"

	KeyUpdateCheckedTime = "pref_key_latest_update_availability_checked_time"
	KeyLastNagTime       = "pref_key_last_nag_time"
	KeyVersionUpgrade    = "VERSION_UPGRADE_INFO"
)

// UpdateAvailableKey is the per-build "update available" flag. Scoping it to
// the running build means a fresh upgrade starts with the flag cleared.
func UpdateAvailableKey(ownVersion int) string {
	return fmt.Sprintf("UPDATE_AVAILABLE_TO_VERSION_%d", ownVersion)
}

// UpdateDeclinedKey holds the last decline time for a released version.
func UpdateDeclinedKey(releasedVersion int) string {
	return fmt.Sprintf("pref_key_update_differed_time_%d", releasedVersion)
}

// TopicSubscribedKey is set once a push topic subscription succeeded.
func TopicSubscribedKey(topic string) string {
	return "SUBSCRIBED_TO_FIREBASE_TOPIC_" + topic
}

// HolidayAdjustmentKey holds the day offset for a holiday in a given
// Ethiopian year.
func HolidayAdjustmentKey(holidayID, ethiopianYear int) string {
	return fmt.Sprintf("HolidayDateAdjustment__%d__%d", holidayID, ethiopianYear)
}
