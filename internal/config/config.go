// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BackendConfig selects and configures the status backend.
type BackendConfig struct {
	// Provider is "postgres" or "memory".
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	StatusTable  string `mapstructure:"status_table"`
	HistoryTable string `mapstructure:"history_table"`
}

// FeedConfig configures the change-feed transport.
type FeedConfig struct {
	// Provider is "pubsub", "memory", or "none" (poll-only).
	Provider       string `mapstructure:"provider"`
	ProjectID      string `mapstructure:"project_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
}

// MonitorConfig governs watcher, poll, and reconciliation behavior.
type MonitorConfig struct {
	PollActiveInterval time.Duration `mapstructure:"poll_active_interval"`
	PollQueuedInterval time.Duration `mapstructure:"poll_queued_interval"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	FeedRetryBase      time.Duration `mapstructure:"feed_retry_base"`
	FeedRetryCap       time.Duration `mapstructure:"feed_retry_cap"`
	MaxFeedAttempts    int           `mapstructure:"max_feed_attempts"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
}

// DispatchConfig sizes the event fan-out buffer.
type DispatchConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STATUSWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("backend.provider", "memory")
	v.SetDefault("backend.max_conns", 4)
	v.SetDefault("backend.status_table", "entity_status")
	v.SetDefault("backend.history_table", "entity_transitions")
	v.SetDefault("feed.provider", "none")
	v.SetDefault("monitor.poll_active_interval", 3*time.Second)
	v.SetDefault("monitor.poll_queued_interval", 30*time.Second)
	v.SetDefault("monitor.sweep_interval", 30*time.Second)
	v.SetDefault("monitor.staleness_threshold", time.Minute)
	v.SetDefault("monitor.feed_retry_base", time.Second)
	v.SetDefault("monitor.feed_retry_cap", 2*time.Minute)
	v.SetDefault("monitor.max_feed_attempts", 5)
	v.SetDefault("monitor.query_timeout", 10*time.Second)
	v.SetDefault("dispatch.buffer_size", 1024)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Backend.Provider {
	case "postgres":
		if c.Backend.DSN == "" {
			return fmt.Errorf("backend.dsn is required when backend.provider is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown backend.provider %q", c.Backend.Provider)
	}
	switch c.Feed.Provider {
	case "pubsub":
		if c.Feed.ProjectID == "" || c.Feed.SubscriptionID == "" {
			return fmt.Errorf("feed.project_id and feed.subscription_id are required when feed.provider is pubsub")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("unknown feed.provider %q", c.Feed.Provider)
	}
	if c.Monitor.PollActiveInterval <= 0 || c.Monitor.PollQueuedInterval <= 0 {
		return fmt.Errorf("monitor poll intervals must be > 0")
	}
	if c.Monitor.PollQueuedInterval < c.Monitor.PollActiveInterval {
		return fmt.Errorf("monitor.poll_queued_interval must be >= monitor.poll_active_interval")
	}
	if c.Monitor.SweepInterval <= 0 {
		return fmt.Errorf("monitor.sweep_interval must be > 0")
	}
	if c.Monitor.StalenessThreshold < c.Monitor.SweepInterval {
		return fmt.Errorf("monitor.staleness_threshold must be >= monitor.sweep_interval")
	}
	if c.Monitor.MaxFeedAttempts <= 0 {
		return fmt.Errorf("monitor.max_feed_attempts must be > 0")
	}
	return nil
}
