package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlasuniv/coursefeed/internal/config"
	"github.com/atlasuniv/coursefeed/internal/database"
	"github.com/atlasuniv/coursefeed/internal/feed"
	"github.com/atlasuniv/coursefeed/internal/logging"
	"github.com/atlasuniv/coursefeed/internal/metrics"
	"github.com/atlasuniv/coursefeed/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursefeed-api",
		Short: "Course timeline and publication engine",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().Int("cache-retention-minutes", defaults.GetInt("cache.retention_minutes"), "Timeline cache retention in minutes")
	cmd.PersistentFlags().Int("summary-max-chars", defaults.GetInt("summary.max_chars"), "Default digest length in characters")
	cmd.PersistentFlags().Float64("ratelimit-per-second", defaults.GetFloat64("ratelimit.per_second"), "Mutating requests per second per actor")
	cmd.PersistentFlags().Int("ratelimit-burst", defaults.GetInt("ratelimit.burst"), "Mutating request burst per actor")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "cache.retention_minutes", "cache-retention-minutes")
	bindFlag(cmd, "summary.max_chars", "summary-max-chars")
	bindFlag(cmd, "ratelimit.per_second", "ratelimit-per-second")
	bindFlag(cmd, "ratelimit.burst", "ratelimit-burst")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	events := feed.NewEventBus()

	store, err := feed.NewStore(feed.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Events:   events,
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := feed.NewDispatcher(feed.DispatcherConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: feed.NewUUIDProvider(),
		Events:     events,
		Metrics:    collector,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	timeline, err := feed.NewTimeline(feed.TimelineConfig{
		Database:   db,
		Visibility: feed.DefaultVisibility{},
		Metrics:    collector,
		Logger:     logger,
		Retention:  appConfig.CacheRetention,
		Clock:      time.Now,
	})
	if err != nil {
		return err
	}

	ledger, err := feed.NewLedger(feed.LedgerConfig{
		Database: db,
		Clock:    time.Now,
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	tracker, err := feed.NewTracker(store)
	if err != nil {
		return err
	}

	summarizer, err := feed.NewSummarizer(feed.StoredContentLookup{})
	if err != nil {
		return err
	}

	secret := []byte(appConfig.SigningSecret)
	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:           store,
		Dispatcher:      dispatcher,
		Timeline:        timeline,
		Ledger:          ledger,
		Tracker:         tracker,
		Summarizer:      summarizer,
		Tokens:          server.NewActorTokens(secret, time.Now),
		Cursors:         server.NewCursorCodec(secret),
		RateLimiter:     server.NewRateLimiter(appConfig.RateLimitPerSec, appConfig.RateLimitBurst, time.Now),
		MetricsHandler:  collector.Handler(),
		StatusRecorder:  collector,
		Logger:          logger,
		SummaryMaxChars: appConfig.SummaryMaxChars,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
