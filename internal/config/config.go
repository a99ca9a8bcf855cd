package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the bridge configuration.
type Config struct {
	// Object storage configuration
	CredentialsBucket string `mapstructure:"credentials_bucket"`
	OutputBucket      string `mapstructure:"output_bucket"`
	AWSRegion         string `mapstructure:"aws_region"`
	CredentialsPrefix string `mapstructure:"credentials_prefix"`
	OutputPrefix      string `mapstructure:"output_prefix"`
	PresignExpiry     int    `mapstructure:"presign_expiry"` // seconds

	// External tool configuration
	ActivateBinary    string `mapstructure:"activate_binary"`
	ConvertBinary     string `mapstructure:"convert_binary"`
	LibraryPath       string `mapstructure:"library_path"` // prepended to LD_LIBRARY_PATH
	ActivationTimeout int    `mapstructure:"activation_timeout"` // seconds
	ConversionTimeout int    `mapstructure:"conversion_timeout"` // seconds

	// Identity directory the external tools read and write
	IdentityDir string `mapstructure:"identity_dir"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// API server configuration
	APIServer APIServerConfig `mapstructure:"api_server"`

	// Run history configuration
	History HistoryConfig `mapstructure:"history"`

	// Result cache configuration
	Cache CacheConfig `mapstructure:"cache"`
}

// APIServerConfig holds HTTP server specific configuration.
type APIServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds; must cover a full conversion
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // seconds
	AuthEnabled  bool   `mapstructure:"auth_enabled"`
	AuthSecret   string `mapstructure:"auth_secret"`
}

// HistoryConfig selects the run journal backend.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // sqlite3 or postgres
	DSN     string `mapstructure:"dsn"`
}

// CacheConfig holds the optional redis result cache settings.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"database"`
	TTL      int    `mapstructure:"ttl"` // seconds; keep at or below presign_expiry
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		AWSRegion:         "us-east-1",
		CredentialsPrefix: "credentials/",
		OutputPrefix:      "converted/",
		PresignExpiry:     3600,
		ActivateBinary:    "/opt/knock/adept_activate",
		ConvertBinary:     "/opt/knock/knock",
		ActivationTimeout: 120,
		ConversionTimeout: 600,
		IdentityDir:       "/tmp/knock/acsm",
		LogLevel:          "info",
		LogFile:           "",
		APIServer: APIServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 900,
			IdleTimeout:  120,
		},
		History: HistoryConfig{
			Enabled: true,
			Driver:  "sqlite3",
			DSN:     "./acsm-bridge.db",
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     3600,
		},
	}
}

// Load loads configuration from file and environment variables.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/acsm-bridge")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".acsm-bridge"))
		}
	}

	v.SetEnvPrefix("ACSM_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("aws_region", cfg.AWSRegion)
	v.SetDefault("credentials_prefix", cfg.CredentialsPrefix)
	v.SetDefault("output_prefix", cfg.OutputPrefix)
	v.SetDefault("presign_expiry", cfg.PresignExpiry)
	v.SetDefault("activate_binary", cfg.ActivateBinary)
	v.SetDefault("convert_binary", cfg.ConvertBinary)
	v.SetDefault("library_path", cfg.LibraryPath)
	v.SetDefault("activation_timeout", cfg.ActivationTimeout)
	v.SetDefault("conversion_timeout", cfg.ConversionTimeout)
	v.SetDefault("identity_dir", cfg.IdentityDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("api_server.port", cfg.APIServer.Port)
	v.SetDefault("api_server.host", cfg.APIServer.Host)
	v.SetDefault("api_server.read_timeout", cfg.APIServer.ReadTimeout)
	v.SetDefault("api_server.write_timeout", cfg.APIServer.WriteTimeout)
	v.SetDefault("api_server.idle_timeout", cfg.APIServer.IdleTimeout)
	v.SetDefault("api_server.auth_enabled", cfg.APIServer.AuthEnabled)
	v.SetDefault("api_server.auth_secret", cfg.APIServer.AuthSecret)
	v.SetDefault("history.enabled", cfg.History.Enabled)
	v.SetDefault("history.driver", cfg.History.Driver)
	v.SetDefault("history.dsn", cfg.History.DSN)
	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.addr", cfg.Cache.Addr)
	v.SetDefault("cache.password", cfg.Cache.Password)
	v.SetDefault("cache.database", cfg.Cache.Database)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CredentialsBucket == "" {
		return fmt.Errorf("credentials_bucket is required")
	}

	if c.OutputBucket == "" {
		return fmt.Errorf("output_bucket is required")
	}

	if c.ActivateBinary == "" {
		return fmt.Errorf("activate_binary is required")
	}

	if c.ConvertBinary == "" {
		return fmt.Errorf("convert_binary is required")
	}

	if c.IdentityDir == "" {
		return fmt.Errorf("identity_dir is required")
	}

	if c.ActivationTimeout <= 0 {
		return fmt.Errorf("activation_timeout must be positive")
	}

	if c.ConversionTimeout <= 0 {
		return fmt.Errorf("conversion_timeout must be positive")
	}

	if c.PresignExpiry <= 0 {
		return fmt.Errorf("presign_expiry must be positive")
	}

	if c.History.Enabled {
		if c.History.Driver != "sqlite3" && c.History.Driver != "postgres" {
			return fmt.Errorf("history.driver must be one of: sqlite3, postgres")
		}
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn is required when history is enabled")
		}
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}

	// A cached entry must never outlive the presigned URLs it references.
	if c.Cache.Enabled && c.Cache.TTL > c.PresignExpiry {
		return fmt.Errorf("cache.ttl must not exceed presign_expiry")
	}

	if c.APIServer.AuthEnabled && c.APIServer.AuthSecret == "" {
		return fmt.Errorf("api_server.auth_secret is required when auth is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// ActivationTimeoutDuration returns the activation timeout as a duration.
func (c *Config) ActivationTimeoutDuration() time.Duration {
	return time.Duration(c.ActivationTimeout) * time.Second
}

// ConversionTimeoutDuration returns the conversion timeout as a duration.
func (c *Config) ConversionTimeoutDuration() time.Duration {
	return time.Duration(c.ConversionTimeout) * time.Second
}

// PresignExpiryDuration returns the presigned URL lifetime as a duration.
func (c *Config) PresignExpiryDuration() time.Duration {
	return time.Duration(c.PresignExpiry) * time.Second
}
