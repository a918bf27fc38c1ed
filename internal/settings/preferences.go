package settings

import (
	"context"
	"time"
)

// NoVersion is stored as the current version before the first launch
// completes.
const NoVersion = -1

// Preferences is the typed accessor layer over Store. Every domain setting is
// read and written through it.
type Preferences struct {
	store *Store
}

// NewPreferences wraps a Store.
func NewPreferences(store *Store) *Preferences {
	return &Preferences{store: store}
}

// Store returns the underlying typed store.
func (p *Preferences) Store() *Store {
	return p.store
}

// CurrentVersion returns the last version that completed migrations, or
// NoVersion on a fresh install.
func (p *Preferences) CurrentVersion(ctx context.Context) (int, error) {
	return p.store.GetInt(ctx, KeyCurrentVersion, NoVersion)
}

func (p *Preferences) SetCurrentVersion(ctx context.Context, v int) error {
	return p.store.SetInt(ctx, KeyCurrentVersion, v)
}

func (p *Preferences) FirstTimeAccess(ctx context.Context) (bool, error) {
	return p.store.GetBool(ctx, KeyFirstTimeAccess, true)
}

func (p *Preferences) SetFirstTimeAccess(ctx context.Context, v bool) error {
	return p.store.SetBool(ctx, KeyFirstTimeAccess, v)
}

// LastUsedAt returns the last launch time, zero if never recorded.
func (p *Preferences) LastUsedAt(ctx context.Context) (time.Time, error) {
	return p.getTime(ctx, KeyLatestAppUsedTime)
}

func (p *Preferences) SetLastUsedAt(ctx context.Context, t time.Time) error {
	return p.store.SetLong(ctx, KeyLatestAppUsedTime, t.UnixMilli())
}

// InstallationID returns the stored installation ID, or "" if none.
func (p *Preferences) InstallationID(ctx context.Context) (string, error) {
	return p.store.GetString(ctx, KeyInstallationID, "")
}

// EnsureInstallationID stores id unless an installation ID already exists and
// returns the effective value.
func (p *Preferences) EnsureInstallationID(ctx context.Context, id string) (string, error) {
	effective := id
	err := p.store.Backend().Update(ctx, KeyInstallationID, func(current string, ok bool) (string, error) {
		if ok && current != "" {
			effective = current
		}
		return effective, nil
	})
	if err != nil {
		return "", err
	}
	return effective, nil
}

// IncrementOpenedCount bumps the preference screen counter and returns the
// new value.
func (p *Preferences) IncrementOpenedCount(ctx context.Context) (int64, error) {
	return p.store.IncrementLong(ctx, KeyPreferenceOpenedCount, 0, 1)
}

func (p *Preferences) OpenedCount(ctx context.Context) (int64, error) {
	return p.store.GetLong(ctx, KeyPreferenceOpenedCount, 0)
}

func (p *Preferences) PrimaryLocale(ctx context.Context) (string, error) {
	return p.store.GetString(ctx, KeyPrimaryLocale, "")
}

func (p *Preferences) SetPrimaryLocale(ctx context.Context, lang string) error {
	return p.store.SetString(ctx, KeyPrimaryLocale, lang)
}

func (p *Preferences) SecondaryLocale(ctx context.Context) (string, error) {
	return p.store.GetString(ctx, KeySecondaryLocale, "")
}

func (p *Preferences) SecondaryChronology(ctx context.Context) (string, error) {
	return p.store.GetString(ctx, KeySecondaryChronology, "")
}

func (p *Preferences) OrthodoxDayNameShown(ctx context.Context) (bool, error) {
	return p.store.GetBool(ctx, KeyOrthodoxDayNameShown, true)
}

func (p *Preferences) OrthodoxOnlyHolidaysShown(ctx context.Context) (bool, error) {
	return p.store.GetBool(ctx, KeyOrthodoxOnlyHolidays, true)
}

func (p *Preferences) MuslimOnlyHolidaysShown(ctx context.Context) (bool, error) {
	return p.store.GetBool(ctx, KeyMuslimOnlyHolidays, false)
}

func (p *Preferences) LanguagePromptRequested(ctx context.Context) (bool, error) {
	return p.store.GetBool(ctx, KeyLanguagePromptRequired, false)
}

func (p *Preferences) SetLanguagePromptRequested(ctx context.Context, v bool) error {
	return p.store.SetBool(ctx, KeyLanguagePromptRequired, v)
}

// UpdateAvailable reports whether a newer release than ownVersion is known.
func (p *Preferences) UpdateAvailable(ctx context.Context, ownVersion int) (bool, error) {
	return p.store.GetBool(ctx, UpdateAvailableKey(ownVersion), false)
}

// UpdateCheckedAt returns when a descriptor was last evaluated, zero if never.
func (p *Preferences) UpdateCheckedAt(ctx context.Context) (time.Time, error) {
	return p.getTime(ctx, KeyUpdateCheckedTime)
}

func (p *Preferences) SetUpdateCheckedAt(ctx context.Context, t time.Time) error {
	return p.store.SetLong(ctx, KeyUpdateCheckedTime, t.UnixMilli())
}

// LastNagAt returns when the post-cutoff nag last fired, zero if never.
func (p *Preferences) LastNagAt(ctx context.Context) (time.Time, error) {
	return p.getTime(ctx, KeyLastNagTime)
}

func (p *Preferences) SetLastNagAt(ctx context.Context, t time.Time) error {
	return p.store.SetLong(ctx, KeyLastNagTime, t.UnixMilli())
}

// CachedDescriptor returns the raw cached version descriptor, "" if none.
func (p *Preferences) CachedDescriptor(ctx context.Context) (string, error) {
	return p.store.GetString(ctx, KeyVersionUpgrade, "")
}

// RecordUpdateAvailable marks a newer release as available, stamps the check
// time and caches its descriptor in one batch.
func (p *Preferences) RecordUpdateAvailable(ctx context.Context, ownVersion int, checkedAt time.Time, descriptor string) error {
	return p.store.SetAll(ctx,
		Bool(UpdateAvailableKey(ownVersion), true),
		Long(KeyUpdateCheckedTime, checkedAt.UnixMilli()),
		String(KeyVersionUpgrade, descriptor),
	)
}

// RecordUpToDate clears the availability flag and stamps the check time.
func (p *Preferences) RecordUpToDate(ctx context.Context, ownVersion int, checkedAt time.Time) error {
	return p.store.SetAll(ctx,
		Bool(UpdateAvailableKey(ownVersion), false),
		Long(KeyUpdateCheckedTime, checkedAt.UnixMilli()),
	)
}

// UpdateDeclinedAt returns the last decline time for releasedVersion, zero if
// it was never declined.
func (p *Preferences) UpdateDeclinedAt(ctx context.Context, releasedVersion int) (time.Time, error) {
	return p.getTime(ctx, UpdateDeclinedKey(releasedVersion))
}

func (p *Preferences) SetUpdateDeclinedAt(ctx context.Context, releasedVersion int, t time.Time) error {
	return p.store.SetLong(ctx, UpdateDeclinedKey(releasedVersion), t.UnixMilli())
}

func (p *Preferences) TopicSubscribed(ctx context.Context, topic string) (bool, error) {
	return p.store.GetBool(ctx, TopicSubscribedKey(topic), false)
}

func (p *Preferences) SetTopicSubscribed(ctx context.Context, topic string, v bool) error {
	return p.store.SetBool(ctx, TopicSubscribedKey(topic), v)
}

// HolidayAdjustment returns the stored day offset, 0 when none.
func (p *Preferences) HolidayAdjustment(ctx context.Context, holidayID, ethiopianYear int) (int, error) {
	return p.store.GetInt(ctx, HolidayAdjustmentKey(holidayID, ethiopianYear), 0)
}

func (p *Preferences) SetHolidayAdjustment(ctx context.Context, holidayID, ethiopianYear, days int) error {
	return p.store.SetInt(ctx, HolidayAdjustmentKey(holidayID, ethiopianYear), days)
}

// getTime decodes a unix-millisecond value. Values <= 0 mean "never".
func (p *Preferences) getTime(ctx context.Context, key string) (time.Time, error) {
	ms, err := p.store.GetLong(ctx, key, -1)
	if err != nil {
		return time.Time{}, err
	}
	if ms <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}
