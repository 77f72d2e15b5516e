package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Fetch configuration
	Fetch FetchConfig `mapstructure:"fetch"`

	// Harvest configuration
	Harvest HarvestConfig `mapstructure:"harvest"`

	// Probe configuration
	Probe ProbeConfig `mapstructure:"probe"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// FetchConfig holds transport settings shared by every request of a run
type FetchConfig struct {
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	Concurrency       int           `mapstructure:"concurrency"`
}

// HarvestConfig holds bundle settings
type HarvestConfig struct {
	OutputDir    string `mapstructure:"output_dir"`
	ExtractText  bool   `mapstructure:"extract_text"`
	StrictScheme bool   `mapstructure:"strict_scheme"`
}

// ProbeConfig holds exclusion-manifest probe settings
type ProbeConfig struct {
	ManifestPath string `mapstructure:"manifest_path"`
	LogFile      string `mapstructure:"log_file"`
	SaveManifest bool   `mapstructure:"save_manifest"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load reads configuration from file and environment. Each call builds its
// own viper instance, so callers never share configuration state.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.sitesnap")
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults and env
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in configuration without touching disk or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&config)
	return &config
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Fetch defaults
	v.SetDefault("fetch.user_agent", "sitesnap/1.0")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.run_timeout", "10m")
	v.SetDefault("fetch.requests_per_second", 10)
	v.SetDefault("fetch.chunk_size", 8192)
	v.SetDefault("fetch.concurrency", 1)

	// Harvest defaults
	v.SetDefault("harvest.output_dir", ".")
	v.SetDefault("harvest.extract_text", false)
	v.SetDefault("harvest.strict_scheme", false)

	// Probe defaults
	v.SetDefault("probe.manifest_path", "robots.txt")
	v.SetDefault("probe.log_file", "directories.txt")
	v.SetDefault("probe.save_manifest", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// bindEnvVars binds SITESNAP_* environment variables
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("SITESNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be positive")
	}
	if c.Fetch.RequestsPerSecond <= 0 {
		return fmt.Errorf("fetch.requests_per_second must be positive")
	}
	if c.Fetch.ChunkSize <= 0 {
		return fmt.Errorf("fetch.chunk_size must be positive")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	if strings.TrimSpace(c.Probe.ManifestPath) == "" {
		return fmt.Errorf("probe.manifest_path must not be empty")
	}
	if strings.TrimSpace(c.Probe.LogFile) == "" {
		return fmt.Errorf("probe.log_file must not be empty")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "text":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
