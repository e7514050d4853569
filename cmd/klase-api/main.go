package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klaseapp/klase/backend/internal/auth"
	"github.com/klaseapp/klase/backend/internal/config"
	"github.com/klaseapp/klase/backend/internal/database"
	"github.com/klaseapp/klase/backend/internal/drafts"
	"github.com/klaseapp/klase/backend/internal/flags"
	"github.com/klaseapp/klase/backend/internal/kvstore"
	"github.com/klaseapp/klase/backend/internal/logging"
	"github.com/klaseapp/klase/backend/internal/notifications"
	"github.com/klaseapp/klase/backend/internal/preferences"
	"github.com/klaseapp/klase/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "klase-api",
		Short: "Klase workspace persistence and notification service",
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
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the key-value backend (empty keeps SQLite)")
	cmd.PersistentFlags().String("session-issuer", defaults.GetString("session.issuer"), "Expected issuer of session tokens")
	cmd.PersistentFlags().String("session-cookie-name", defaults.GetString("session.cookie_name"), "Cookie carrying the session token")
	cmd.PersistentFlags().Int("draft-retention-hours", defaults.GetInt("drafts.retention_hours"), "Draft retention in hours")
	cmd.PersistentFlags().Int("draft-debounce-ms", defaults.GetInt("drafts.debounce_ms"), "Autosave quiet interval in milliseconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("session-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "session.issuer", "session-issuer")
	bindFlag(cmd, "session.cookie_name", "session-cookie-name")
	bindFlag(cmd, "drafts.retention_hours", "draft-retention-hours")
	bindFlag(cmd, "drafts.debounce_ms", "draft-debounce-ms")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "session.signing_secret", "session-secret")
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	var backend kvstore.Backend
	var sweeper *kvstore.SQLiteBackend
	if appConfig.RedisAddress != "" {
		redisBackend, err := kvstore.NewRedisBackend(ctx, appConfig.RedisAddress)
		if err != nil {
			return err
		}
		defer redisBackend.Close() //nolint:errcheck
		backend = redisBackend
		logger.Info("key-value backend ready", zap.String("backend", "redis"), zap.String("address", appConfig.RedisAddress))
	} else {
		sqliteBackend, err := kvstore.NewSQLiteBackend(kvstore.SQLiteBackendConfig{Database: db})
		if err != nil {
			return err
		}
		backend = sqliteBackend
		sweeper = sqliteBackend
		logger.Info("key-value backend ready", zap.String("backend", "sqlite"))
	}

	kv, err := kvstore.New(kvstore.Config{Backend: backend, Logger: logger})
	if err != nil {
		return err
	}

	draftStore, err := drafts.NewStore(drafts.StoreConfig{
		KV:        kv,
		Retention: appConfig.DraftRetention,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	autosave, err := server.NewAutosavePool(server.AutosavePoolConfig{
		Store:         draftStore,
		QuietInterval: appConfig.DraftDebounce,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	prefStore, err := preferences.NewStore(preferences.StoreConfig{
		KV:         kv,
		IDProvider: preferences.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	readMarks, err := flags.NewSetStore(flags.SetStoreConfig{KV: kv, Namespace: "read_marks", Logger: logger})
	if err != nil {
		return err
	}
	syncer, err := flags.NewDatabaseSyncer(flags.DatabaseSyncerConfig{Database: db})
	if err != nil {
		return err
	}
	saved, err := flags.NewSavedStore(flags.SavedStoreConfig{KV: kv, Remote: syncer, Logger: logger})
	if err != nil {
		return err
	}
	lastSeen, err := flags.NewLastSeenStore(kv, nil)
	if err != nil {
		return err
	}

	dispatcher := notifications.NewDispatcher(appConfig.StreamBuffer)
	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:   db,
		Dispatcher: dispatcher,
		IDProvider: notifications.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SessionSecret),
		Issuer:        appConfig.SessionIssuer,
		CookieName:    appConfig.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:      sessionValidator,
		Drafts:        draftStore,
		AutosavePool:  autosave,
		Preferences:   prefStore,
		ReadMarks:     readMarks,
		Saved:         saved,
		LastSeen:      lastSeen,
		Notifications: notificationService,
		Dispatcher:    dispatcher,
		Logger:        logger,
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

	if sweeper != nil && appConfig.SweepInterval > 0 {
		go runSweepLoop(signalCtx, sweeper, appConfig.SweepInterval, logger)
	}

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
		err := httpServer.Shutdown(shutdownCtx)
		autosave.Close(shutdownCtx)
		return err
	case err := <-errCh:
		return err
	}
}

// runSweepLoop periodically reclaims expired key-value rows. Redis expires
// entries natively, so the loop only runs on the SQLite backend.
func runSweepLoop(ctx context.Context, backend *kvstore.SQLiteBackend, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := backend.Sweep(ctx)
			if err != nil {
				logger.Warn("expired entry sweep failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("expired entries reclaimed", zap.Int64("count", removed))
			}
		}
	}
}
