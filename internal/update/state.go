package update

import (
	"time"

	"github.com/shalom-calendar/upgradekit/internal/version"
)

// State is where the policy stands for the running build.
type State int

const (
	// StateUnknown means no descriptor has been evaluated yet.
	StateUnknown State = iota
	// StateUpToDate means the last descriptor was not newer than the build.
	StateUpToDate
	// StateAvailable means a newer release is known.
	StateAvailable
	// StatePrompted means the caller should show the update prompt now.
	StatePrompted
)

func (s State) String() string {
	switch s {
	case StateUpToDate:
		return "up_to_date"
	case StateAvailable:
		return "available"
	case StatePrompted:
		return "prompted"
	default:
		return "unknown"
	}
}

// Decision is the outcome of handling a descriptor or evaluating the policy.
type Decision struct {
	State       State
	Prompt      bool
	Dismissible bool
	Descriptor  *version.Descriptor

	// Nag is set once the nag cutoff has passed and a weekly nag is due.
	Nag bool

	// FetchDue asks the caller to fetch a fresh descriptor.
	FetchDue bool

	CheckedAt time.Time
	StoreURL  string
}

// declineWindow returns how long a decline suppresses prompts at level, and
// false for levels that never prompt.
func declineWindow(level version.UpdateLevel) (time.Duration, bool) {
	switch level {
	case version.Critical, version.BigFeature:
		return MajorDeclineWindow, true
	case version.MinorUpgrade:
		return MinorDeclineWindow, true
	default:
		return 0, false
	}
}
