package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "KLASE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "klase.db"
	defaultLogLevel     = "info"
	defaultCookieName   = "klase_session"
	defaultIssuer       = "klase-auth"

	defaultDraftRetentionHours = 24
	defaultSweepIntervalHours  = 168
	defaultDebounceMillis      = 1000
	defaultFocusRestoreMillis  = 150
	defaultStreamBuffer        = 16
)

// AppConfig captures runtime configuration for the workspace API server.
// The retention and debounce thresholds are tunables, not invariants: a
// deployment may tighten or relax them without touching store semantics.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	RedisAddress      string
	SessionSecret     string
	SessionIssuer     string
	SessionCookieName string
	LogLevel          string

	DraftRetention    time.Duration
	SweepInterval     time.Duration
	DraftDebounce     time.Duration
	FocusRestoreDelay time.Duration
	StreamBuffer      int
}

// NewViper returns a viper instance with defaults and env bindings
// configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("drafts.retention_hours", defaultDraftRetentionHours)
	configViper.SetDefault("drafts.sweep_interval_hours", defaultSweepIntervalHours)
	configViper.SetDefault("drafts.debounce_ms", defaultDebounceMillis)
	configViper.SetDefault("notifications.focus_restore_ms", defaultFocusRestoreMillis)
	configViper.SetDefault("notifications.stream_buffer", defaultStreamBuffer)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		RedisAddress:      configViper.GetString("redis.address"),
		SessionSecret:     configViper.GetString("session.signing_secret"),
		SessionIssuer:     configViper.GetString("session.issuer"),
		SessionCookieName: configViper.GetString("session.cookie_name"),
		LogLevel:          configViper.GetString("log.level"),
		DraftRetention:    time.Duration(configViper.GetInt("drafts.retention_hours")) * time.Hour,
		SweepInterval:     time.Duration(configViper.GetInt("drafts.sweep_interval_hours")) * time.Hour,
		DraftDebounce:     time.Duration(configViper.GetInt("drafts.debounce_ms")) * time.Millisecond,
		FocusRestoreDelay: time.Duration(configViper.GetInt("notifications.focus_restore_ms")) * time.Millisecond,
		StreamBuffer:      configViper.GetInt("notifications.stream_buffer"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.DraftRetention <= 0 {
		return fmt.Errorf("drafts.retention_hours must be positive")
	}
	if c.DraftDebounce <= 0 {
		return fmt.Errorf("drafts.debounce_ms must be positive")
	}
	return nil
}
