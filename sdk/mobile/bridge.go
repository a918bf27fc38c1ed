package mobile

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/shalom-calendar/upgradekit/internal/migration"
	"github.com/shalom-calendar/upgradekit/internal/push"
	"github.com/shalom-calendar/upgradekit/internal/update"
)

// response is the envelope every JSON-returning function uses. Exactly one
// of Result and Error is set.
type response struct {
	Result any       `json:"result,omitempty"`
	Error  *SDKError `json:"error,omitempty"`
}

// LaunchView is the JSON shape of a launch.
type LaunchView struct {
	Kind            string         `json:"kind"`
	StoredVersion   int            `json:"stored_version"`
	BuildVersion    int            `json:"build_version"`
	InstallationID  string         `json:"installation_id"`
	PreviousUseAtMs int64          `json:"previous_use_at_ms,omitempty"`
	Migration       *MigrationView `json:"migration,omitempty"`
}

// MigrationView is the JSON shape of a migration run.
type MigrationView struct {
	Previous                int         `json:"previous"`
	Current                 int         `json:"current"`
	Applied                 []string    `json:"applied"`
	LanguagePromptRequested bool        `json:"language_prompt_requested,omitempty"`
	LocaleFallback          bool        `json:"locale_fallback,omitempty"`
	Topics                  []TopicView `json:"topics,omitempty"`
	Failures                []string    `json:"failures,omitempty"`
}

// TopicView is one topic subscription outcome.
type TopicView struct {
	Topic   string `json:"topic"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DecisionView is the JSON shape of an update decision.
type DecisionView struct {
	State           string `json:"state"`
	Prompt          bool   `json:"prompt"`
	Dismissible     bool   `json:"dismissible"`
	Nag             bool   `json:"nag,omitempty"`
	FetchDue        bool   `json:"fetch_due,omitempty"`
	ReleasedVersion int    `json:"released_version,omitempty"`
	UpdateLevel     string `json:"update_level,omitempty"`
	UpdateSummary   string `json:"update_summary,omitempty"`
	StoreURL        string `json:"store_url,omitempty"`
	CheckedAtMs     int64  `json:"checked_at_ms,omitempty"`
}

// PushView reports what happened to a push payload.
type PushView struct {
	Outcome string `json:"outcome"`
}

func encodeResponse(r response) string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":{"code":%q,"message":%q,"severity":%d}}`,
			ErrCodeInternal, err.Error(), SeverityCritical)
	}
	return string(data)
}

func okJSON(v any) string {
	return encodeResponse(response{Result: v})
}

func errJSON(err *SDKError) string {
	return encodeResponse(response{Error: err})
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// parseConfig unmarshals a JSON string into a validated Config.
func parseConfig(jsonStr string) (*Config, error) {
	return configFromJSON(jsonStr)
}

// parsePayload unmarshals a push payload, an object of string fields.
func parsePayload(jsonStr string) (map[string]string, error) {
	if jsonStr == "" {
		return map[string]string{}, nil
	}
	return push.DecodePayload([]byte(jsonStr))
}

func launchView(r migration.LaunchResult) LaunchView {
	v := LaunchView{
		Kind:            r.Kind.String(),
		StoredVersion:   int(r.StoredVersion),
		BuildVersion:    int(r.BuildVersion),
		InstallationID:  r.InstallationID,
		PreviousUseAtMs: unixMs(r.PreviousUseAt),
	}
	if r.Migration != nil {
		m := migrationView(*r.Migration)
		v.Migration = &m
	}
	return v
}

func migrationView(r migration.Result) MigrationView {
	v := MigrationView{
		Previous:                int(r.Previous),
		Current:                 int(r.Current),
		Applied:                 make([]string, 0, len(r.Applied)),
		LanguagePromptRequested: r.LanguagePromptRequested,
		LocaleFallback:          r.LocaleFallback,
	}
	for _, f := range r.Applied {
		v.Applied = append(v.Applied, string(f))
	}
	for _, o := range r.Topics {
		tv := TopicView{Topic: o.Topic, Skipped: o.Skipped}
		if o.Err != nil {
			tv.Error = o.Err.Error()
		}
		v.Topics = append(v.Topics, tv)
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, f.Error())
	}
	return v
}

func decisionView(d update.Decision) DecisionView {
	v := DecisionView{
		State:       d.State.String(),
		Prompt:      d.Prompt,
		Dismissible: d.Dismissible,
		Nag:         d.Nag,
		FetchDue:    d.FetchDue,
		StoreURL:    d.StoreURL,
		CheckedAtMs: unixMs(d.CheckedAt),
	}
	if d.Descriptor != nil {
		v.ReleasedVersion = int(d.Descriptor.ReleasedVersion)
		v.UpdateLevel = d.Descriptor.Level.String()
		v.UpdateSummary = d.Descriptor.Summary
	}
	return v
}
