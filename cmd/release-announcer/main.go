// Command release-announcer publishes a version descriptor: on the NATS
// app-version-upgrade topic for devices listening now, and as an S3 object
// for devices that fetch weekly.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/shalom-calendar/upgradekit/internal/nats"
	"github.com/shalom-calendar/upgradekit/internal/remote"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// Config holds all release announcer configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text).
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// DescriptorFile, when set, is a JSON descriptor used instead of the
	// RELEASE_* variables.
	DescriptorFile string `env:"DESCRIPTOR_FILE"`

	Release ReleaseConfig `envPrefix:"RELEASE_"`

	// Targets lists where to announce: nats, s3.
	Targets []string `env:"ANNOUNCE_TARGETS" envDefault:"nats,s3"`

	Timeout time.Duration `env:"ANNOUNCE_TIMEOUT" envDefault:"30s"`

	NATS nats.Config     `envPrefix:""`
	S3   remote.S3Config `envPrefix:"S3_"`
}

// ReleaseConfig describes the release when no descriptor file is given.
type ReleaseConfig struct {
	Version           int    `env:"VERSION"`
	Level             string `env:"LEVEL" envDefault:"MinorUpgrade"`
	Summary           string `env:"SUMMARY"`
	VersionName       string `env:"VERSION_NAME"`
	Channel           string `env:"CHANNEL" envDefault:"production"`
	PreviousVersion   string `env:"PREVIOUS_VERSION"`
	ForceAppVersions  string `env:"FORCE_APP_VERSIONS"`
	ForceOsVersions   string `env:"FORCE_OS_VERSIONS"`
	ForceDeviceModels string `env:"FORCE_DEVICE_MODELS"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	d, err := loadDescriptor(cfg, time.Now())
	if err != nil {
		return err
	}
	logger.Info("announcing release",
		"released_version", d.ReleasedVersion,
		"level", d.Level.String(),
		"targets", cfg.Targets,
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	var errs []error
	for _, target := range cfg.Targets {
		var err error
		switch target {
		case "nats":
			err = announceNATS(ctx, cfg.NATS, d, logger)
		case "s3":
			err = announceS3(ctx, cfg.S3, d, logger)
		default:
			err = fmt.Errorf("unknown target %q", target)
		}
		if err != nil {
			logger.Error("announcement failed", "target", target, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("release announced", "released_version", d.ReleasedVersion)
	return nil
}

// loadDescriptor reads DESCRIPTOR_FILE or assembles the descriptor from the
// RELEASE_* variables. Either way it goes through the same parser devices
// use, so a descriptor that would be rejected is never published.
func loadDescriptor(cfg Config, now time.Time) (*version.Descriptor, error) {
	if cfg.DescriptorFile != "" {
		data, err := os.ReadFile(cfg.DescriptorFile)
		if err != nil {
			return nil, fmt.Errorf("read descriptor file: %w", err)
		}
		return checkLevel(version.ParseJSON(data))
	}

	r := cfg.Release
	if r.Version <= 0 {
		return nil, errors.New("RELEASE_VERSION must be a positive version code")
	}
	fields := map[string]string{
		version.FieldReleasedVersion:     strconv.Itoa(r.Version),
		version.FieldReleasedVersionCode: strconv.Itoa(r.Version),
		version.FieldUpdateLevel:         r.Level,
		version.FieldReleaseChannel:      r.Channel,
		version.FieldReleaseDate:         now.UTC().Format("2006-01-02"),
		version.FieldNotificationDate:    now.UTC().Format(time.RFC3339),
	}
	optional := map[string]string{
		version.FieldUpdateSummary:             r.Summary,
		version.FieldReleasedVersionName:       r.VersionName,
		version.FieldPreviouslyReleasedVersion: r.PreviousVersion,
		version.FieldForceUpdateAppVersions:    r.ForceAppVersions,
		version.FieldForceUpdateOsVersions:     r.ForceOsVersions,
		version.FieldForceUpdateDeviceModels:   r.ForceDeviceModels,
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return checkLevel(version.ParseMap(fields))
}

// checkLevel refuses to announce a level that no shipped build understands.
// Devices accept such descriptors but never prompt for them.
func checkLevel(d *version.Descriptor, err error) (*version.Descriptor, error) {
	if err != nil {
		return nil, err
	}
	if d.Level == version.LevelUnknown {
		return nil, &version.ParseError{Field: version.FieldUpdateLevel, Reason: "unknown level"}
	}
	return d, nil
}

func announceNATS(ctx context.Context, cfg nats.Config, d *version.Descriptor, logger *slog.Logger) error {
	client, err := nats.NewClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, err := client.Streams().EnsureStream(ctx); err != nil {
		return err
	}

	ack, err := client.Publisher().PublishDescriptor(ctx, d)
	if err != nil {
		return err
	}
	logger.Info("descriptor published to NATS",
		"stream", ack.Stream,
		"sequence", ack.Sequence,
		"duplicate", ack.Duplicate,
	)
	return client.Drain()
}

func announceS3(ctx context.Context, cfg remote.S3Config, d *version.Descriptor, logger *slog.Logger) error {
	client, err := remote.NewS3Client(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return err
	}
	data, err := d.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}
	return client.Publish(ctx, data)
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
