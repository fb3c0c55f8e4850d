package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Realtime transport modes.
const (
	RealtimeLocal     = "local"
	RealtimeRedis     = "redis"
	RealtimeWebsocket = "websocket"
)

// DatabaseConfig locates the local notification database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RealtimeConfig selects and configures the live channel transport.
type RealtimeConfig struct {
	// Mode is one of "local", "redis" or "websocket".
	Mode string `mapstructure:"mode" yaml:"mode"`

	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisDB      int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisChannel string `mapstructure:"redis_channel" yaml:"redis_channel"`

	// WSURL is the relay endpoint the client subscribes to in websocket mode.
	WSURL string `mapstructure:"ws_url" yaml:"ws_url"`

	// ListenAddr is where `notifier serve` accepts websocket subscribers.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// InboxConfig tunes the notification cache.
type InboxConfig struct {
	Limit                int `mapstructure:"limit" yaml:"limit"`
	MutationRetries      int `mapstructure:"mutation_retries" yaml:"mutation_retries"`
	RetryBackoffMs       int `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	ResubscribeBackoffMs int `mapstructure:"resubscribe_backoff_ms" yaml:"resubscribe_backoff_ms"`
}

// ToastConfig tunes the toast queue.
type ToastConfig struct {
	LifetimeSec int `mapstructure:"lifetime_sec" yaml:"lifetime_sec"`
	MaxVisible  int `mapstructure:"max_visible" yaml:"max_visible"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	UserID   string         `mapstructure:"user_id" yaml:"user_id"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Realtime RealtimeConfig `mapstructure:"realtime" yaml:"realtime"`
	Inbox    InboxConfig    `mapstructure:"inbox" yaml:"inbox"`
	Toast    ToastConfig    `mapstructure:"toast" yaml:"toast"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

// RetryBackoff returns the base delay between mutation retries.
func (c InboxConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// ResubscribeBackoff returns the delay before reopening a failed live channel.
func (c InboxConfig) ResubscribeBackoff() time.Duration {
	return time.Duration(c.ResubscribeBackoffMs) * time.Millisecond
}

// Lifetime returns how long a toast stays visible.
func (c ToastConfig) Lifetime() time.Duration {
	return time.Duration(c.LifetimeSec) * time.Second
}

// configDir returns ~/.config/notifier, or the working directory when the
// home directory cannot be resolved.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "notifier")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/notifier/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := configDir()
	return &AppConfig{
		Database: DatabaseConfig{
			Path: filepath.Join(dir, "notifier.db"),
		},
		Realtime: RealtimeConfig{
			Mode:         RealtimeLocal,
			RedisAddr:    "localhost:6379",
			RedisChannel: "notifier:notifications",
			WSURL:        "ws://localhost:8787/realtime",
			ListenAddr:   ":8787",
		},
		Inbox: InboxConfig{
			Limit:                50,
			MutationRetries:      2,
			RetryBackoffMs:       200,
			ResubscribeBackoffMs: 1000,
		},
		Toast: ToastConfig{
			LifetimeSec: 5,
			MaxVisible:  3,
		},
		Log: LogConfig{
			Path:       filepath.Join(dir, "notifier.log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	defaults := defaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("user_id", "")
	v.SetDefault("database.path", defaults.Database.Path)
	v.SetDefault("realtime.mode", defaults.Realtime.Mode)
	v.SetDefault("realtime.redis_addr", defaults.Realtime.RedisAddr)
	v.SetDefault("realtime.redis_db", 0)
	v.SetDefault("realtime.redis_channel", defaults.Realtime.RedisChannel)
	v.SetDefault("realtime.ws_url", defaults.Realtime.WSURL)
	v.SetDefault("realtime.listen_addr", defaults.Realtime.ListenAddr)
	v.SetDefault("inbox.limit", defaults.Inbox.Limit)
	v.SetDefault("inbox.mutation_retries", defaults.Inbox.MutationRetries)
	v.SetDefault("inbox.retry_backoff_ms", defaults.Inbox.RetryBackoffMs)
	v.SetDefault("inbox.resubscribe_backoff_ms", defaults.Inbox.ResubscribeBackoffMs)
	v.SetDefault("toast.lifetime_sec", defaults.Toast.LifetimeSec)
	v.SetDefault("toast.max_visible", defaults.Toast.MaxVisible)
	v.SetDefault("log.path", defaults.Log.Path)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.max_size_mb", defaults.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", defaults.Log.MaxBackups)
	v.SetDefault("log.max_age_days", defaults.Log.MaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaults, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	switch cfg.Realtime.Mode {
	case RealtimeLocal, RealtimeRedis, RealtimeWebsocket:
	default:
		return nil, fmt.Errorf("config %s: unknown realtime mode %q", path, cfg.Realtime.Mode)
	}
	if cfg.Inbox.Limit <= 0 {
		cfg.Inbox.Limit = defaults.Inbox.Limit
	}
	if cfg.Toast.MaxVisible <= 0 {
		cfg.Toast.MaxVisible = defaults.Toast.MaxVisible
	}
	if cfg.Toast.LifetimeSec <= 0 {
		cfg.Toast.LifetimeSec = defaults.Toast.LifetimeSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("user_id", cfg.UserID)
	v.Set("database", cfg.Database)
	v.Set("realtime", cfg.Realtime)
	v.Set("inbox", cfg.Inbox)
	v.Set("toast", cfg.Toast)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
