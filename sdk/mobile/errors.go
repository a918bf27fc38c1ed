package mobile

import (
	"errors"

	"github.com/shalom-calendar/upgradekit/internal/locale"
	"github.com/shalom-calendar/upgradekit/internal/push"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/update"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// ErrorSeverity indicates how critical an error is.
type ErrorSeverity int

const (
	// SeverityDebug is informational, logged in debug mode only.
	SeverityDebug ErrorSeverity = iota
	// SeverityWarning is non-critical, SDK continues operating.
	SeverityWarning
	// SeverityCritical is a serious issue, app should handle.
	SeverityCritical
	// SeverityFatal means SDK cannot operate, requires reinitialization.
	SeverityFatal
)

// Error codes for categorization.
const (
	ErrCodeNotInitialized    = "NOT_INITIALIZED"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeInvalidDescriptor = "INVALID_DESCRIPTOR"
	ErrCodeInvalidPayload    = "INVALID_PAYLOAD"
	ErrCodeInvalidLocale     = "INVALID_LOCALE"
	ErrCodeNotNewer          = "NOT_NEWER"
	ErrCodeStorage           = "STORAGE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// SDKError represents a structured error with severity and code.
type SDKError struct {
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Severity ErrorSeverity `json:"severity"`
}

// Error implements the error interface.
func (e *SDKError) Error() string {
	return e.Message
}

// newWarningError creates a warning-level error.
func newWarningError(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message, Severity: SeverityWarning}
}

// newCriticalError creates a critical-level error.
func newCriticalError(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message, Severity: SeverityCritical}
}

// newFatalError creates a fatal-level error.
func newFatalError(code, message string) *SDKError {
	return &SDKError{Code: code, Message: message, Severity: SeverityFatal}
}

// classify maps a core error onto an SDKError.
func classify(err error) *SDKError {
	var sdkErr *SDKError
	switch {
	case errors.As(err, &sdkErr):
		return sdkErr
	case errors.Is(err, version.ErrMalformedDescriptor):
		return newWarningError(ErrCodeInvalidDescriptor, err.Error())
	case errors.Is(err, push.ErrMalformedPayload), errors.Is(err, push.ErrUnknownTopic):
		return newWarningError(ErrCodeInvalidPayload, err.Error())
	case errors.Is(err, locale.ErrUnknownLocale):
		return newWarningError(ErrCodeInvalidLocale, err.Error())
	case errors.Is(err, update.ErrNotNewer):
		return newWarningError(ErrCodeNotNewer, err.Error())
	case errors.Is(err, settings.ErrClosed), errors.Is(err, settings.ErrMalformedValue):
		return newCriticalError(ErrCodeStorage, err.Error())
	default:
		return newCriticalError(ErrCodeInternal, err.Error())
	}
}

// wrapError returns empty string for nil, error message otherwise.
// Used by exported functions that return string instead of error.
func wrapError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
