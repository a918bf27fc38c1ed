// Command upgrade-agent is the headless host of the update and migration
// core: it owns a settings database, consumes the push topics from NATS and
// runs the update policy on a schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/shalom-calendar/upgradekit/internal/locale"
	"github.com/shalom-calendar/upgradekit/internal/migration"
	"github.com/shalom-calendar/upgradekit/internal/nats"
	"github.com/shalom-calendar/upgradekit/internal/notify"
	"github.com/shalom-calendar/upgradekit/internal/observability"
	"github.com/shalom-calendar/upgradekit/internal/push"
	"github.com/shalom-calendar/upgradekit/internal/remote"
	"github.com/shalom-calendar/upgradekit/internal/scheduler"
	"github.com/shalom-calendar/upgradekit/internal/settings"
	"github.com/shalom-calendar/upgradekit/internal/topics"
	"github.com/shalom-calendar/upgradekit/internal/update"
	"github.com/shalom-calendar/upgradekit/internal/version"
)

// Config holds all upgrade agent configuration.
type Config struct {
	// LogLevel is the log level (debug, info, warn, error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text).
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// MetricsAddr serves /metrics, /health and /status.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9092"`

	// SettingsPath is the SQLite settings database.
	SettingsPath string `env:"SETTINGS_PATH" envDefault:"./data/upgradekit.db"`

	SettingsCacheBytes      int `env:"SETTINGS_CACHE_BYTES" envDefault:"524288"`
	SettingsCacheTTLSeconds int `env:"SETTINGS_CACHE_TTL_SECONDS" envDefault:"300"`

	// BuildVersion is the version code this agent runs as.
	BuildVersion int `env:"BUILD_VERSION,required"`

	AppID    string `env:"APP_ID" envDefault:"com.shalom.calendar"`
	StoreURL string `env:"STORE_URL"`

	// NagCutoff is an RFC 3339 time; unset keeps the built-in cutoff.
	NagCutoff time.Time `env:"NAG_CUTOFF"`

	// PrimaryLanguage answers the language prompt on hosts without a UI.
	PrimaryLanguage string `env:"PRIMARY_LANGUAGE"`

	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"1h"`

	// DescriptorSource selects the fetch path: s3, http or none.
	DescriptorSource string `env:"DESCRIPTOR_SOURCE" envDefault:"s3"`
	DescriptorURL    string `env:"DESCRIPTOR_URL"`

	// NotifyTransport selects where notifications go: nats or log.
	NotifyTransport string `env:"NOTIFY_TRANSPORT" envDefault:"nats"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	NATS      nats.Config               `envPrefix:""`
	S3        remote.S3Config           `envPrefix:"S3_"`
	Retry     remote.ExponentialBackoff `envPrefix:"FETCH_RETRY_"`
	RateLimit notify.RateLimitConfig    `envPrefix:"NOTIFY_RATE_"`
	Dedup     push.DedupConfig          `envPrefix:"PUSH_DEDUP_"`
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

	logger.Info("starting upgrade agent",
		"log_level", cfg.LogLevel,
		"build_version", cfg.BuildVersion,
		"settings", cfg.SettingsPath,
		"nats_url", cfg.NATS.URL,
		"descriptor_source", cfg.DescriptorSource,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.New("upgrade-agent")
	if err != nil {
		return err
	}
	defer func() {
		if shutErr := obs.Shutdown(context.Background()); shutErr != nil {
			logger.Error("observability shutdown error", "error", shutErr)
		}
	}()
	metrics := obs.Metrics()

	// Settings
	if err := os.MkdirAll(filepath.Dir(cfg.SettingsPath), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	backend, err := settings.OpenSQLite(cfg.SettingsPath)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()
	prefs := settings.NewPreferences(settings.NewStore(
		settings.NewCachedBackend(backend, cfg.SettingsCacheBytes, cfg.SettingsCacheTTLSeconds),
	))

	// The installation ID scopes the durable consumers, so it must exist
	// before the first subscription.
	installID, err := prefs.EnsureInstallationID(ctx, uuid.NewString())
	if err != nil {
		return fmt.Errorf("ensure installation id: %w", err)
	}

	// NATS
	natsClient, err := nats.NewClient(ctx, cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close()
	natsClient.ScopeToInstallation(installID)

	if _, err := natsClient.Streams().EnsureStream(ctx); err != nil {
		return err
	}

	// Notifications
	var sink notify.Dispatcher = notify.LogDispatcher{Logger: logger}
	if cfg.NotifyTransport == "nats" {
		sink = natsClient.Notifications()
	}
	dispatcher := notify.NewRateLimited(sink, cfg.RateLimit, metrics)

	// Update policy and push routing
	storeURL := cfg.StoreURL
	if storeURL == "" {
		storeURL = update.StoreURLForApp(cfg.AppID)
	}
	policy := update.NewPolicy(update.Config{
		OwnVersion: version.Code(cfg.BuildVersion),
		StoreURL:   storeURL,
		NagCutoff:  cfg.NagCutoff,
	}, prefs, dispatcher, metrics, logger)

	dedup := push.NewDeduplicator(cfg.Dedup, metrics, logger)
	dedup.Start(ctx)
	router := push.NewRouter(policy, prefs, dispatcher, dedup, metrics, logger)

	subscriber := natsClient.Subscriber(nats.RouterHandler(router))
	topicMgr := topics.NewManager(prefs, subscriber, metrics, logger)

	// Launch and migrations
	engine := migration.New(prefs, locale.EnvProvider{}, topicMgr, metrics, logger,
		migration.WithPrompter(languagePrompter{logger: logger}),
	)
	launch, err := engine.Launch(ctx, version.Code(cfg.BuildVersion))
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	logLaunch(logger, launch)

	if cfg.PrimaryLanguage != "" {
		if _, err := engine.SelectLanguage(ctx, cfg.PrimaryLanguage); err != nil {
			logger.Warn("PRIMARY_LANGUAGE ignored", "value", cfg.PrimaryLanguage, "error", err)
		}
	}

	resumeSubscriptions(ctx, prefs, subscriber, logger)

	// Scheduled update checks
	source, err := descriptorSource(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	prompter := scheduler.PrompterFunc(func(ctx context.Context, dec update.Decision) error {
		return dispatcher.Notify(ctx, update.PromptNotification(dec, time.Now()))
	})
	sched := scheduler.New(policy, source, prompter, cfg.TickInterval, logger)
	sched.Start(ctx)

	// Metrics, health and status
	mux := http.NewServeMux()
	mux.Handle("/metrics", obs.MetricsHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := healthCheck(r.Context(), natsClient, prefs); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", statusHandler(prefs, subscriber, cfg.BuildVersion, logger))
	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           observability.HTTPMetrics(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting metrics server", "addr", cfg.MetricsAddr)
		if srvErr := server.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", srvErr)
		}
	}()

	logger.Info("upgrade agent started", "installation_id", installID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	sched.Stop()
	subscriber.Stop()
	dedup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	if err := natsClient.Drain(); err != nil {
		logger.Error("NATS drain error", "error", err)
	}

	logger.Info("upgrade agent stopped")
	return nil
}

// languagePrompter stands in for the dialog a device would show.
type languagePrompter struct {
	logger *slog.Logger
}

func (p languagePrompter) RequestLanguagePrompt(context.Context) {
	p.logger.Info("language prompt requested; set PRIMARY_LANGUAGE on the host to answer it")
}

func logLaunch(logger *slog.Logger, res migration.LaunchResult) {
	attrs := []any{
		"kind", res.Kind.String(),
		"stored_version", res.StoredVersion,
		"build_version", res.BuildVersion,
	}
	if m := res.Migration; m != nil {
		attrs = append(attrs, "applied", len(m.Applied), "failed", len(m.Failures))
		if err := m.Err(); err != nil {
			logger.Warn("some migrations failed", "error", err)
		}
	}
	logger.Info("launch classified", attrs...)
}

// resumeSubscriptions reattaches consumers for topics subscribed in an
// earlier run. The flags are left alone: a failure here is transient.
func resumeSubscriptions(ctx context.Context, prefs *settings.Preferences, sub *nats.TopicSubscriber, logger *slog.Logger) {
	for _, topic := range topics.Default {
		subscribed, err := prefs.TopicSubscribed(ctx, topic)
		if err != nil || !subscribed {
			continue
		}
		if err := sub.Subscribe(ctx, topic); err != nil {
			logger.Warn("failed to resume topic", "topic", topic, "error", err)
		}
	}
}

func descriptorSource(ctx context.Context, cfg Config, metrics *observability.Metrics, logger *slog.Logger) (remote.Source, error) {
	var src remote.Source
	switch cfg.DescriptorSource {
	case "s3":
		client, err := remote.NewS3Client(ctx, cfg.S3, logger)
		if err != nil {
			return nil, err
		}
		src = client
	case "http":
		if cfg.DescriptorURL == "" {
			return nil, errors.New("DESCRIPTOR_URL is required for the http descriptor source")
		}
		src = remote.NewHTTPSource(cfg.DescriptorURL, &http.Client{Timeout: 30 * time.Second})
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown DESCRIPTOR_SOURCE %q", cfg.DescriptorSource)
	}
	retry := cfg.Retry
	return remote.NewInstrumented(cfg.DescriptorSource, src, &retry, metrics, logger), nil
}

func healthCheck(ctx context.Context, client *nats.Client, prefs *settings.Preferences) error {
	if err := client.HealthCheck(ctx); err != nil {
		return err
	}
	if _, err := prefs.CurrentVersion(ctx); err != nil {
		return fmt.Errorf("settings unavailable: %w", err)
	}
	return nil
}

type status struct {
	InstallationID  string   `json:"installation_id"`
	BuildVersion    int      `json:"build_version"`
	StoredVersion   int      `json:"stored_version"`
	UpdateAvailable bool     `json:"update_available"`
	CheckedAtMs     int64    `json:"checked_at_ms,omitempty"`
	ActiveTopics    []string `json:"active_topics"`
}

func statusHandler(prefs *settings.Preferences, sub *nats.TopicSubscriber, build int, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		st := status{BuildVersion: build, ActiveTopics: sub.Active()}

		var err error
		if st.InstallationID, err = prefs.InstallationID(ctx); err == nil {
			if st.StoredVersion, err = prefs.CurrentVersion(ctx); err == nil {
				st.UpdateAvailable, err = prefs.UpdateAvailable(ctx, build)
			}
		}
		if err != nil {
			logger.Error("status unavailable", "error", err)
			http.Error(w, "settings unavailable", http.StatusInternalServerError)
			return
		}
		if checked, err := prefs.UpdateCheckedAt(ctx); err == nil && !checked.IsZero() {
			st.CheckedAtMs = checked.UnixMilli()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			logger.Warn("status encode failed", "error", err)
		}
	}
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
