package migration

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// LaunchKind classifies an app start.
type LaunchKind int

const (
	LaunchNormal LaunchKind = iota
	LaunchFirstRun
	LaunchUpgrade
)

func (k LaunchKind) String() string {
	switch k {
	case LaunchFirstRun:
		return "first_run"
	case LaunchUpgrade:
		return "upgrade"
	default:
		return "normal"
	}
}

// LaunchResult describes one Launch call.
type LaunchResult struct {
	Kind           LaunchKind
	StoredVersion  version.Code
	BuildVersion   version.Code
	InstallationID string
	PreviousUseAt  time.Time

	// Migration is set for first runs and upgrades.
	Migration *Result
}

// Launch classifies the start of build and runs whatever migrations it owes.
// It also makes sure an installation ID exists and stamps the last-used
// time.
func (e *Engine) Launch(ctx context.Context, build version.Code) (LaunchResult, error) {
	stored, err := e.prefs.CurrentVersion(ctx)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("read current version: %w", err)
	}

	res := LaunchResult{
		StoredVersion: version.Code(stored),
		BuildVersion:  build,
	}

	switch {
	case stored == settings.NoVersion:
		res.Kind = LaunchFirstRun
	case version.Code(stored) < build:
		res.Kind = LaunchUpgrade
	default:
		res.Kind = LaunchNormal
	}

	if res.Kind != LaunchNormal {
		e.logger.Info("running migrations for launch",
			"kind", res.Kind.String(),
			"stored", stored,
			"build", build,
		)
		mig, err := e.RunMigrations(ctx, version.Code(stored), build)
		res.Migration = &mig
		if err != nil {
			return res, err
		}
		if res.Kind == LaunchFirstRun {
			if err := e.prefs.SetFirstTimeAccess(ctx, false); err != nil {
				return res, fmt.Errorf("clear first-time flag: %w", err)
			}
		}
	}

	id, err := e.prefs.EnsureInstallationID(ctx, e.newID())
	if err != nil {
		return res, fmt.Errorf("ensure installation id: %w", err)
	}
	res.InstallationID = id

	if res.PreviousUseAt, err = e.prefs.LastUsedAt(ctx); err != nil {
		e.logger.Warn("last-used time unreadable", "error", err)
	}
	if err := e.prefs.SetLastUsedAt(ctx, e.clockFunc()); err != nil {
		return res, fmt.Errorf("stamp last-used time: %w", err)
	}

	if e.metrics != nil {
		e.metrics.Launches.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("kind", res.Kind.String())))
	}
	return res, nil
}
