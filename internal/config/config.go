// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// VerifyConfig holds the screenshot verification pipeline configuration.
type VerifyConfig struct {
	// Download limits for submitted screenshots.
	MaxImageBytes   int64         `mapstructure:"max_image_bytes"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`

	// CacheDir is the root for the disk extraction cache and scoped
	// temporary download files.
	CacheDir       string        `mapstructure:"cache_dir"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MemoryCacheTTL time.Duration `mapstructure:"memory_cache_ttl"`

	// External vision-extraction service.
	ExtractorURL     string        `mapstructure:"extractor_url"`
	ExtractorAPIKey  string        `mapstructure:"extractor_api_key"`
	ExtractorModel   string        `mapstructure:"extractor_model"`
	ExtractorTimeout time.Duration `mapstructure:"extractor_timeout"`
	MockExtractor    bool          `mapstructure:"mock_extractor"`

	// Matching thresholds. These are empirically tuned against the
	// game's profile screen layout; they are best-effort, not exact.
	FuzzyCutoff       float64 `mapstructure:"fuzzy_cutoff"`
	LandmarkTolerance int     `mapstructure:"landmark_tolerance"`
	ReviewThreshold   float64 `mapstructure:"review_threshold"`

	// RanksFile is the hot-reloadable rank taxonomy file.
	RanksFile string `mapstructure:"ranks_file"`

	// Background cache cleanup budget: at most CleanupBudget removals
	// per CleanupWindow; the sweep stops early when exhausted.
	CleanupBudget   int           `mapstructure:"cleanup_budget"`
	CleanupWindow   time.Duration `mapstructure:"cleanup_window"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// AuditConfig holds the evidence-publishing configuration.
// A zero ChatID disables publishing; the pipeline still runs.
type AuditConfig struct {
	ChatID      int64 `mapstructure:"chat_id"`
	AttachImage bool  `mapstructure:"attach_image"`
}

// MetricsConfig holds the Prometheus exposition listener configuration.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., BOT_TOKEN, DATABASE_HOST, VERIFY_MOCK_EXTRACTOR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rankbot")
	v.SetDefault("database.name", "rankbot")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Verification pipeline defaults
	v.SetDefault("verify.max_image_bytes", 8*1024*1024)
	v.SetDefault("verify.download_timeout", "10s")
	v.SetDefault("verify.cache_dir", "data/cache")
	v.SetDefault("verify.cache_ttl", "720h")
	v.SetDefault("verify.memory_cache_ttl", "1h")
	v.SetDefault("verify.extractor_timeout", "30s")
	v.SetDefault("verify.mock_extractor", false)
	v.SetDefault("verify.fuzzy_cutoff", 0.6)
	v.SetDefault("verify.landmark_tolerance", 3)
	v.SetDefault("verify.review_threshold", 0.7)
	v.SetDefault("verify.ranks_file", "config/ranks.yaml")
	v.SetDefault("verify.cleanup_budget", 50)
	v.SetDefault("verify.cleanup_window", "1m")
	v.SetDefault("verify.cleanup_interval", "1h")

	// Audit defaults
	v.SetDefault("audit.attach_image", true)

	// Metrics defaults
	v.SetDefault("metrics.listen_addr", ":9090")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admin.IDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsChatAllowed checks if a chat ID is in the whitelist.
func (c *Config) IsChatAllowed(chatID int64) bool {
	// Empty whitelist means all chats are allowed
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	for _, id := range c.Whitelist.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}
