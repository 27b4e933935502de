package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Cloud region; empty means ask instance metadata
	Region string `mapstructure:"region"`

	// Working directory for fetched artifacts and log bundles
	WorkDir string `mapstructure:"work-dir"`

	// Remote execution
	SSHUser    string        `mapstructure:"ssh-user"`
	SSHKey     string        `mapstructure:"ssh-key"`
	SSHTimeout time.Duration `mapstructure:"ssh-timeout"`

	// Rollout
	Service        string `mapstructure:"service"`
	RefreshCommand string `mapstructure:"refresh-command"`
	Parallelism    int    `mapstructure:"parallelism"`
	RemoteDir      string `mapstructure:"remote-dir"`

	// Refresh (on-host)
	InstallRoot         string  `mapstructure:"install-root"`
	MaxFileSize         int64   `mapstructure:"max-file-size"`
	MaxTotalSize        int64   `mapstructure:"max-total-size"`
	MaxCompressionRatio float64 `mapstructure:"max-compression-ratio"`

	// Volume preparation
	FSType    string `mapstructure:"fs-type"`
	HomeDir   string `mapstructure:"home-dir"`
	HomeOwner string `mapstructure:"home-owner"`

	// Health monitor
	ZooKeeperAddr    string        `mapstructure:"zookeeper-addr"`
	ActivationOffset time.Duration `mapstructure:"activation-offset"`

	// Metrics
	MetricsTextfile string `mapstructure:"metrics-textfile"`
	MetricsAddr     string `mapstructure:"metrics-addr"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("sqlite-path", "/var/lib/clusterops/clusterops.db")
	viper.SetDefault("fsm-db-path", "/var/lib/clusterops/fsm")
	viper.SetDefault("region", "")
	viper.SetDefault("work-dir", "/tmp/clusterops")
	viper.SetDefault("ssh-user", "ubuntu")
	viper.SetDefault("ssh-key", "")
	viper.SetDefault("ssh-timeout", 10*time.Minute)
	viper.SetDefault("service", "stardog")
	viper.SetDefault("refresh-command", "/usr/local/bin/stardog-refresh")
	viper.SetDefault("parallelism", 1)
	viper.SetDefault("remote-dir", "/tmp")
	viper.SetDefault("install-root", "/usr/local")
	viper.SetDefault("max-file-size", 1024*1024*1024)
	viper.SetDefault("max-total-size", 4*1024*1024*1024)
	viper.SetDefault("max-compression-ratio", 100.0)
	viper.SetDefault("fs-type", "ext4")
	viper.SetDefault("home-dir", "stardog-home")
	viper.SetDefault("home-owner", "ubuntu")
	viper.SetDefault("zookeeper-addr", "localhost:2181")
	viper.SetDefault("activation-offset", 10*time.Minute)
	viper.SetDefault("metrics-textfile", "")
	viper.SetDefault("metrics-addr", "")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "text")
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be CLUSTEROPS_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("CLUSTEROPS")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.clusterops")
	viper.AddConfigPath("/etc/clusterops")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.Service == "" {
		return fmt.Errorf("service cannot be empty")
	}
	if c.RefreshCommand == "" {
		return fmt.Errorf("refresh-command cannot be empty")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1")
	}
	if c.SSHTimeout <= 0 {
		return fmt.Errorf("ssh-timeout must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max-file-size must be positive")
	}
	if c.MaxTotalSize <= 0 {
		return fmt.Errorf("max-total-size must be positive")
	}
	if c.MaxCompressionRatio <= 0 {
		return fmt.Errorf("max-compression-ratio must be positive")
	}
	if c.ActivationOffset < 0 {
		return fmt.Errorf("activation-offset must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	return nil
}
