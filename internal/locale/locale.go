// Package locale resolves the device locale and the region rules derived
// from it.
package locale

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrUnknownLocale is returned when the device locale cannot be determined.
var ErrUnknownLocale = errors.New("device locale unknown")

// Language codes used for display locales.
const (
	English = "en"
	French  = "fr"
)

// Calendar systems offered as the secondary chronology.
const (
	ChronologyGregorian = "gregorian"
	ChronologyIslamic   = "islamic"
)

// Ethiopia is the home country of the calendar.
const Ethiopia = "ET"

// Locale is a lowercase ISO-639 language and an uppercase ISO-3166 country.
type Locale struct {
	Language string
	Country  string
}

// Parse accepts "fr_FR", "fr-FR", "fr_FR.UTF-8" and bare "fr".
func Parse(tag string) (Locale, error) {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, ".@"); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" || tag == "C" || tag == "POSIX" {
		return Locale{}, ErrUnknownLocale
	}
	parts := strings.FieldsFunc(tag, func(r rune) bool { return r == '_' || r == '-' })
	if len(parts) == 0 {
		return Locale{}, ErrUnknownLocale
	}
	l := Locale{Language: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		l.Country = strings.ToUpper(parts[len(parts)-1])
	}
	return l, nil
}

func (l Locale) String() string {
	if l.Country == "" {
		return l.Language
	}
	return l.Language + "_" + l.Country
}

// SecondaryLanguage is the default secondary display language: French for
// French-speaking devices, English otherwise.
func (l Locale) SecondaryLanguage() string {
	if l.Language == French {
		return French
	}
	return English
}

// SecondaryChronology is Islamic in Arabic-speaking countries, Gregorian
// elsewhere.
func (l Locale) SecondaryChronology() string {
	if IsArabicSpeaking(l.Country) {
		return ChronologyIslamic
	}
	return ChronologyGregorian
}

// InEthiopia reports whether the device is set to Ethiopia.
func (l Locale) InEthiopia() bool {
	return l.Country == Ethiopia
}

var arabicSpeaking = map[string]struct{}{
	"AE": {}, "BH": {}, "DZ": {}, "EG": {}, "IQ": {}, "IL": {}, "JO": {},
	"KW": {}, "LB": {}, "LY": {}, "MA": {}, "OM": {}, "PS": {}, "QA": {},
	"SA": {}, "SD": {}, "SY": {}, "TN": {}, "YE": {},
}

// IsArabicSpeaking reports whether country (ISO-3166 alpha-2) is in the fixed
// set of countries that get the Islamic secondary calendar.
func IsArabicSpeaking(country string) bool {
	_, ok := arabicSpeaking[strings.ToUpper(country)]
	return ok
}

// Provider supplies the current device locale.
type Provider interface {
	CurrentLocale(ctx context.Context) (Locale, error)
}

// Static always returns the same locale.
type Static Locale

func (s Static) CurrentLocale(context.Context) (Locale, error) {
	if s.Language == "" && s.Country == "" {
		return Locale{}, ErrUnknownLocale
	}
	return Locale(s), nil
}

// PlatformProvider holds the locale pushed by the native host. It is safe
// for concurrent use.
type PlatformProvider struct {
	mu     sync.RWMutex
	locale Locale
	set    bool
}

// NewPlatformProvider returns a provider with no locale set.
func NewPlatformProvider() *PlatformProvider {
	return &PlatformProvider{}
}

// SetLocale records the device locale reported by the host.
func (p *PlatformProvider) SetLocale(tag string) error {
	l, err := Parse(tag)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.locale = l
	p.set = true
	p.mu.Unlock()
	return nil
}

func (p *PlatformProvider) CurrentLocale(context.Context) (Locale, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.set {
		return Locale{}, ErrUnknownLocale
	}
	return p.locale, nil
}

// EnvProvider reads the POSIX locale variables, in LC_ALL, LC_MESSAGES, LANG
// order. Used by headless hosts.
type EnvProvider struct{}

func (EnvProvider) CurrentLocale(context.Context) (Locale, error) {
	for _, name := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(name); v != "" {
			return Parse(v)
		}
	}
	return Locale{}, ErrUnknownLocale
}
