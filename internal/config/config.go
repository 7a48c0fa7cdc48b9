// Package config loads pcappuller settings from a config file, the
// environment and defaults, in that order of precedence below CLI flags.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pcappuller/internal/paths"
)

// EnvPrefix is prepended to every environment override, e.g. PCAPPULLER_CACHE_ENABLED.
const EnvPrefix = "PCAPPULLER"

// ConfigPathEnvVar points at an explicit config file.
const ConfigPathEnvVar = "PCAPPULLER_CONFIG"

// Config represents the complete pcappuller configuration
type Config struct {
	// BatchSize and SlopMinutes of 0 mean "use the recommendation for the window duration".
	BatchSize   int    `yaml:"batchSize" mapstructure:"batchSize"`
	SlopMinutes int    `yaml:"slopMinutes" mapstructure:"slopMinutes"`
	Workers     string `yaml:"workers" mapstructure:"workers"`
	TmpDir      string `yaml:"tmpDir" mapstructure:"tmpDir"`
	OutFormat   string `yaml:"outFormat" mapstructure:"outFormat"`

	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Tools   ToolsConfig   `yaml:"tools" mapstructure:"tools"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// CacheConfig contains metadata cache configuration
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Path        string        `yaml:"path" mapstructure:"path"`
	NegativeTTL time.Duration `yaml:"negativeTtl" mapstructure:"negativeTtl"`
	MaxAge      time.Duration `yaml:"maxAge" mapstructure:"maxAge"`
}

// ToolsConfig names the external capture tools. Bare names are looked up on PATH.
type ToolsConfig struct {
	Mergecap string        `yaml:"mergecap" mapstructure:"mergecap"`
	Editcap  string        `yaml:"editcap" mapstructure:"editcap"`
	Capinfos string        `yaml:"capinfos" mapstructure:"capinfos"`
	Tshark   string        `yaml:"tshark" mapstructure:"tshark"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSize    string `yaml:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `yaml:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Workers:   "auto",
		OutFormat: "pcapng",
		Cache: CacheConfig{
			Enabled:     true,
			NegativeTTL: 24 * time.Hour,
			MaxAge:      30 * 24 * time.Hour,
		},
		Tools: ToolsConfig{
			Mergecap: "mergecap",
			Editcap:  "editcap",
			Capinfos: "capinfos",
			Tshark:   "tshark",
		},
		Logging: LoggingConfig{
			Level:      "warn",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadResult describes where a configuration came from.
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	UsedDefaults bool
}

// LoadConfig loads configuration. An explicit path must exist; otherwise
// config.{yaml,yml,json,toml} is searched in the user config directory and
// defaults are used when nothing is found. Environment overrides always apply.
func LoadConfig(explicitPath string) (*LoadResult, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath == "" {
		explicitPath = os.Getenv(ConfigPathEnvVar)
	}

	result := &LoadResult{}
	if explicitPath != "" {
		v.SetConfigFile(paths.Expand(explicitPath))
	} else {
		v.SetConfigName("config")
		if dir, err := paths.ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &ConfigError{Field: "file", Message: err.Error()}
		}
		result.UsedDefaults = true
	} else {
		result.ConfigPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Field: "file", Message: err.Error()}
	}
	result.Config = &cfg
	return result, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("batchSize", d.BatchSize)
	v.SetDefault("slopMinutes", d.SlopMinutes)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("tmpDir", d.TmpDir)
	v.SetDefault("outFormat", d.OutFormat)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.negativeTtl", d.Cache.NegativeTTL)
	v.SetDefault("cache.maxAge", d.Cache.MaxAge)

	v.SetDefault("tools.mergecap", d.Tools.Mergecap)
	v.SetDefault("tools.editcap", d.Tools.Editcap)
	v.SetDefault("tools.capinfos", d.Tools.Capinfos)
	v.SetDefault("tools.tshark", d.Tools.Tshark)
	v.SetDefault("tools.timeout", d.Tools.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// CachePath returns the configured cache path or the platform default.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return paths.Expand(c.Cache.Path), nil
	}
	return paths.DefaultCachePath()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.BatchSize < 0 {
		return &ConfigError{Field: "batchSize", Message: "must be >= 0"}
	}
	if c.SlopMinutes < 0 {
		return &ConfigError{Field: "slopMinutes", Message: "must be >= 0"}
	}
	if w := strings.TrimSpace(c.Workers); w != "" && !strings.EqualFold(w, "auto") {
		if _, err := strconv.Atoi(w); err != nil {
			return &ConfigError{Field: "workers", Message: "must be 'auto' or an integer"}
		}
	}
	switch strings.ToLower(c.OutFormat) {
	case "pcap", "pcapng":
	default:
		return &ConfigError{Field: "outFormat", Message: "unsupported format " + strconv.Quote(c.OutFormat)}
	}
	if c.Cache.NegativeTTL < 0 {
		return &ConfigError{Field: "cache.negativeTtl", Message: "must be >= 0"}
	}
	if c.Cache.MaxAge < 0 {
		return &ConfigError{Field: "cache.maxAge", Message: "must be >= 0"}
	}
	if c.Tools.Timeout < 0 {
		return &ConfigError{Field: "tools.timeout", Message: "must be >= 0"}
	}
	if c.Logging.MaxSize != "" {
		if _, err := humanize.ParseBytes(c.Logging.MaxSize); err != nil {
			return &ConfigError{Field: "logging.maxSize", Message: "must be a size such as 10MB"}
		}
	}
	if c.Logging.MaxBackups < 0 {
		return &ConfigError{Field: "logging.maxBackups", Message: "must be >= 0"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
