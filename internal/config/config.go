package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Inventory and output locations
	InventoryDir string `mapstructure:"inventory-dir"`
	ReportsDir   string `mapstructure:"reports-dir"`
	ImageFolder  string `mapstructure:"image-folder"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// S3 image repository
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`

	// Device credentials
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	FallbackUsername string `mapstructure:"fallback-username"`
	FallbackPassword string `mapstructure:"fallback-password"`

	// Monitoring system
	MonitorURL      string `mapstructure:"monitor-url"`
	MonitorUsername string `mapstructure:"monitor-username"`
	MonitorPassword string `mapstructure:"monitor-password"`

	// DNS domain appended to bare device names
	Domain string `mapstructure:"domain"`

	// Workflow tuning
	Concurrency   int  `mapstructure:"concurrency"`
	FSMMaxRetries int  `mapstructure:"fsm-max-retries"`
	SkipDNSCheck  bool `mapstructure:"skip-dns-check"`

	// Archive files last modified before this year are deleted during
	// flash cleanup. Zero disables archive cleanup.
	ArchiveCutoffYear int `mapstructure:"archive-cutoff-year"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("inventory-dir", "inventory")
	viper.SetDefault("reports-dir", "reports")
	viper.SetDefault("image-folder", "images")
	viper.SetDefault("sqlite-path", ".artifacts/hoststate.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("s3-bucket", "campus-netops-firmware")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("concurrency", 10)
	viper.SetDefault("fsm-max-retries", 3)
	viper.SetDefault("skip-dns-check", false)
	viper.SetDefault("archive-cutoff-year", 0)

	// Environment variables (will be FLEETUP_SQLITE_PATH, etc.)
	viper.SetEnvPrefix("FLEETUP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.fleetup")

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
	if c.InventoryDir == "" {
		return fmt.Errorf("inventory-dir cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.S3Bucket == "" {
		return fmt.Errorf("s3-bucket cannot be empty")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
