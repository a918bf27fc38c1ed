// Package version defines version codes, update urgency levels and the
// remotely supplied release descriptor.
package version

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Code is a monotonically increasing build identifier.
type Code int

// NoVersion marks a fresh install with no stored version.
const NoVersion Code = -1

// UpdateLevel is the urgency tier of a release.
type UpdateLevel int

const (
	LevelUnknown UpdateLevel = iota
	Critical
	BigFeature
	MinorUpgrade
	NewFeature
)

var levelNames = map[UpdateLevel]string{
	Critical:     "Critical",
	BigFeature:   "BigFeature",
	MinorUpgrade: "MinorUpgrade",
	NewFeature:   "NewFeature",
}

func (l UpdateLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "Unknown"
}

// ParseUpdateLevel maps a wire name to its level. Matching ignores case.
func ParseUpdateLevel(s string) (UpdateLevel, bool) {
	s = strings.TrimSpace(s)
	for l, name := range levelNames {
		if strings.EqualFold(name, s) {
			return l, true
		}
	}
	return LevelUnknown, false
}

// Dismissible reports whether the user may decline a prompt at this level.
func (l UpdateLevel) Dismissible() bool {
	return l != Critical
}

// Wire field names, shared by the JSON and push map forms.
const (
	FieldReleasedVersion                = "releasedVersion"
	FieldReleasedVersionCode            = "releasedVersionCode"
	FieldReleasedVersionName            = "releasedVersionName"
	FieldUpdateLevel                    = "updateLevel"
	FieldUpdateSummary                  = "updateSummary"
	FieldReleaseChannel                 = "releaseChannel"
	FieldReleaseDate                    = "releaseDate"
	FieldNotificationDate               = "notificationDate"
	FieldPreviouslyReleasedVersion      = "previouslyReleasedVersion"
	FieldPreviouslyReleasedMajorVersion = "previouslyReleasedMajorVersion"
	FieldForceUpdateOsVersions          = "forceUpdateOsVersions"
	FieldForceUpdateDeviceModels        = "forceUpdateDeviceModels"
	FieldForceUpdateAppVersions         = "forceUpdateAppVersions"
)

// Descriptor is a release announcement. Only ReleasedVersion, Level and
// Summary drive decisions; the rest is provenance kept verbatim. Level is
// LevelUnknown for levels introduced after this build.
type Descriptor struct {
	ReleasedVersion Code
	Level           UpdateLevel
	Summary         string

	ReleasedVersionCode            string
	ReleasedVersionName            string
	ReleaseChannel                 string
	ReleaseDate                    string
	NotificationDate               string
	PreviouslyReleasedVersion      string
	PreviouslyReleasedMajorVersion string
	ForceUpdateOsVersions          string
	ForceUpdateDeviceModels        string
	ForceUpdateAppVersions         string
}

// wireDescriptor is the transport shape: every field is a string.
type wireDescriptor struct {
	ReleasedVersion                wireString `json:"releasedVersion"`
	ReleasedVersionCode            wireString `json:"releasedVersionCode,omitempty"`
	ReleasedVersionName            wireString `json:"releasedVersionName,omitempty"`
	UpdateLevel                    wireString `json:"updateLevel"`
	UpdateSummary                  wireString `json:"updateSummary,omitempty"`
	ReleaseChannel                 wireString `json:"releaseChannel,omitempty"`
	ReleaseDate                    wireString `json:"releaseDate,omitempty"`
	NotificationDate               wireString `json:"notificationDate,omitempty"`
	PreviouslyReleasedVersion      wireString `json:"previouslyReleasedVersion,omitempty"`
	PreviouslyReleasedMajorVersion wireString `json:"previouslyReleasedMajorVersion,omitempty"`
	ForceUpdateOsVersions          wireString `json:"forceUpdateOsVersions,omitempty"`
	ForceUpdateDeviceModels        wireString `json:"forceUpdateDeviceModels,omitempty"`
	ForceUpdateAppVersions         wireString `json:"forceUpdateAppVersions,omitempty"`
}

// wireString is a string field that also accepts bare JSON numbers and
// booleans, keeping their literal text. Older publishers emit
// "releasedVersion": 82.
type wireString string

func (s *wireString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = wireString(v)
	case data[0] == '{' || data[0] == '[':
		return fmt.Errorf("expected string or number, got %s", data[:1])
	default:
		*s = wireString(data)
	}
	return nil
}

// ParseJSON decodes a descriptor from its JSON text.
func ParseJSON(data []byte) (*Descriptor, error) {
	if len(data) == 0 {
		return nil, &ParseError{Reason: "empty payload"}
	}
	var w wireDescriptor
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &ParseError{Reason: "invalid JSON", Err: err}
	}
	return w.toDescriptor()
}

// ParseMap decodes a descriptor from a push payload of string fields.
func ParseMap(m map[string]string) (*Descriptor, error) {
	if m == nil {
		return nil, &ParseError{Reason: "empty payload"}
	}
	w := wireDescriptor{
		ReleasedVersion:                wireString(m[FieldReleasedVersion]),
		ReleasedVersionCode:            wireString(m[FieldReleasedVersionCode]),
		ReleasedVersionName:            wireString(m[FieldReleasedVersionName]),
		UpdateLevel:                    wireString(m[FieldUpdateLevel]),
		UpdateSummary:                  wireString(m[FieldUpdateSummary]),
		ReleaseChannel:                 wireString(m[FieldReleaseChannel]),
		ReleaseDate:                    wireString(m[FieldReleaseDate]),
		NotificationDate:               wireString(m[FieldNotificationDate]),
		PreviouslyReleasedVersion:      wireString(m[FieldPreviouslyReleasedVersion]),
		PreviouslyReleasedMajorVersion: wireString(m[FieldPreviouslyReleasedMajorVersion]),
		ForceUpdateOsVersions:          wireString(m[FieldForceUpdateOsVersions]),
		ForceUpdateDeviceModels:        wireString(m[FieldForceUpdateDeviceModels]),
		ForceUpdateAppVersions:         wireString(m[FieldForceUpdateAppVersions]),
	}
	return w.toDescriptor()
}

func (w wireDescriptor) toDescriptor() (*Descriptor, error) {
	raw := strings.TrimSpace(string(w.ReleasedVersion))
	if raw == "" {
		return nil, &ParseError{Field: FieldReleasedVersion, Reason: "missing"}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &ParseError{Field: FieldReleasedVersion, Reason: "not an integer", Err: err}
	}
	if n < 0 {
		return nil, &ParseError{Field: FieldReleasedVersion, Reason: "negative"}
	}

	if strings.TrimSpace(string(w.UpdateLevel)) == "" {
		return nil, &ParseError{Field: FieldUpdateLevel, Reason: "missing"}
	}
	// A level this build does not know still announces a release: it is
	// recorded as available but never prompts.
	level, _ := ParseUpdateLevel(string(w.UpdateLevel))

	return &Descriptor{
		ReleasedVersion:                Code(n),
		Level:                          level,
		Summary:                        string(w.UpdateSummary),
		ReleasedVersionCode:            string(w.ReleasedVersionCode),
		ReleasedVersionName:            string(w.ReleasedVersionName),
		ReleaseChannel:                 string(w.ReleaseChannel),
		ReleaseDate:                    string(w.ReleaseDate),
		NotificationDate:               string(w.NotificationDate),
		PreviouslyReleasedVersion:      string(w.PreviouslyReleasedVersion),
		PreviouslyReleasedMajorVersion: string(w.PreviouslyReleasedMajorVersion),
		ForceUpdateOsVersions:          string(w.ForceUpdateOsVersions),
		ForceUpdateDeviceModels:        string(w.ForceUpdateDeviceModels),
		ForceUpdateAppVersions:         string(w.ForceUpdateAppVersions),
	}, nil
}

func (d *Descriptor) wire() wireDescriptor {
	return wireDescriptor{
		ReleasedVersion:                wireString(strconv.Itoa(int(d.ReleasedVersion))),
		ReleasedVersionCode:            wireString(d.ReleasedVersionCode),
		ReleasedVersionName:            wireString(d.ReleasedVersionName),
		UpdateLevel:                    wireString(d.Level.String()),
		UpdateSummary:                  wireString(d.Summary),
		ReleaseChannel:                 wireString(d.ReleaseChannel),
		ReleaseDate:                    wireString(d.ReleaseDate),
		NotificationDate:               wireString(d.NotificationDate),
		PreviouslyReleasedVersion:      wireString(d.PreviouslyReleasedVersion),
		PreviouslyReleasedMajorVersion: wireString(d.PreviouslyReleasedMajorVersion),
		ForceUpdateOsVersions:          wireString(d.ForceUpdateOsVersions),
		ForceUpdateDeviceModels:        wireString(d.ForceUpdateDeviceModels),
		ForceUpdateAppVersions:         wireString(d.ForceUpdateAppVersions),
	}
}

// MarshalJSON encodes the descriptor in its wire form.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.wire())
}

// ToMap returns the push payload form of the descriptor. Empty fields are
// omitted.
func (d *Descriptor) ToMap() map[string]string {
	w := d.wire()
	m := map[string]string{
		FieldReleasedVersion: string(w.ReleasedVersion),
		FieldUpdateLevel:     string(w.UpdateLevel),
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put(FieldUpdateSummary, string(w.UpdateSummary))
	put(FieldReleasedVersionCode, string(w.ReleasedVersionCode))
	put(FieldReleasedVersionName, string(w.ReleasedVersionName))
	put(FieldReleaseChannel, string(w.ReleaseChannel))
	put(FieldReleaseDate, string(w.ReleaseDate))
	put(FieldNotificationDate, string(w.NotificationDate))
	put(FieldPreviouslyReleasedVersion, string(w.PreviouslyReleasedVersion))
	put(FieldPreviouslyReleasedMajorVersion, string(w.PreviouslyReleasedMajorVersion))
	put(FieldForceUpdateOsVersions, string(w.ForceUpdateOsVersions))
	put(FieldForceUpdateDeviceModels, string(w.ForceUpdateDeviceModels))
	put(FieldForceUpdateAppVersions, string(w.ForceUpdateAppVersions))
	return m
}
