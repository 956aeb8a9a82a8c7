// Package config loads Sirannon's process-level configuration: pool sizing,
// lifecycle limits, CDC cadence, backup scheduling, and the HTTP/WS bind
// address. It is deliberately separate from any one Database's options —
// those are per-tenant and come from the TenantResolver / Registry.Open call.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level Sirannon process configuration.
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	DataDir string `mapstructure:"dataDir"`
	LogLevel string `mapstructure:"logLevel"`
	LogPath  string `mapstructure:"logPath"`

	LogMaxSizeMB   int `mapstructure:"logMaxSizeMb"`
	LogMaxBackups  int `mapstructure:"logMaxBackups"`
	LogMaxAgeDays  int `mapstructure:"logMaxAgeDays"`

	// Pool defaults applied to databases that don't override them.
	ReadPoolSize int  `mapstructure:"readPoolSize"`
	WALMode      bool `mapstructure:"walMode"`

	// Lifecycle manager defaults (spec §4.11).
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
	MaxOpen     int           `mapstructure:"maxOpen"`

	// CDC defaults (spec §4.9).
	CDCPollInterval time.Duration `mapstructure:"cdcPollInterval"`
	ChangeRetention time.Duration `mapstructure:"changeRetention"`
	PollBatchSize   int           `mapstructure:"pollBatchSize"`

	// Backup defaults (spec §4.7).
	BackupCron      string `mapstructure:"backupCron"`
	BackupDir       string `mapstructure:"backupDir"`
	BackupMaxFiles  int    `mapstructure:"backupMaxFiles"`

	// Transport.
	CORSEnabled bool     `mapstructure:"corsEnabled"`
	CORSOrigins []string `mapstructure:"corsOrigins"`

	MetricsEnabled bool `mapstructure:"metricsEnabled"`
}

// Addr returns the "host:port" listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8089)
	v.SetDefault("dataDir", "./data")
	v.SetDefault("logLevel", "info")
	v.SetDefault("logMaxSizeMb", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("logMaxAgeDays", 28)
	v.SetDefault("readPoolSize", 4)
	v.SetDefault("walMode", true)
	v.SetDefault("idleTimeout", 10*time.Minute)
	v.SetDefault("maxOpen", -1)
	v.SetDefault("cdcPollInterval", 50*time.Millisecond)
	v.SetDefault("changeRetention", time.Hour)
	v.SetDefault("pollBatchSize", 1000)
	v.SetDefault("backupCron", "0 */6 * * *")
	v.SetDefault("backupDir", "./data/backups")
	v.SetDefault("backupMaxFiles", 5)
	v.SetDefault("corsEnabled", false)
	v.SetDefault("metricsEnabled", true)
}

// Load reads configuration from (in order of precedence) environment
// variables prefixed SIRANNON_ and an optional config file, falling back to
// the defaults above. Pass an empty configPath to skip the file lookup; a
// configPath that does not exist also falls back to the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SIRANNON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ReadPoolSize < 1 {
		c.ReadPoolSize = 1
	}
	if c.PollBatchSize < 1 {
		c.PollBatchSize = 1000
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	return nil
}
