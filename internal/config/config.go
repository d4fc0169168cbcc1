package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"github.com/vjranagit/sampleby/pkg/sampleby"
	"github.com/vjranagit/sampleby/pkg/sampler"
	"github.com/vjranagit/sampleby/pkg/storage"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// SAMPLEBY_STORAGE_RETENTION_DAYS or SAMPLEBY_SERVER_LISTEN_ADDR.
const EnvPrefix = "sampleby"

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Sample  SampleConfig  `yaml:"sample"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr" split_words:"true"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string `yaml:"path"`
	RetentionDays    int    `yaml:"retention_days" split_words:"true"`
	CompressionLevel int    `yaml:"compression_level" split_words:"true"`
	EnableWAL        bool   `yaml:"enable_wal" envconfig:"enable_wal"`
	// BlockGranularity is a granularity token such as "1h" or "1d".
	BlockGranularity string        `yaml:"block_granularity" split_words:"true"`
	CacheCapacity    int           `yaml:"cache_capacity" split_words:"true"`
	CacheTTL         time.Duration `yaml:"cache_ttl" envconfig:"cache_ttl"`
}

// SampleConfig holds sample-by defaults
type SampleConfig struct {
	MaxBuckets   int    `yaml:"max_buckets" split_words:"true"`
	DefaultFill  string `yaml:"default_fill" split_words:"true"`
	DefaultAlign string `yaml:"default_align" split_words:"true"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             "./data",
			RetentionDays:    30,
			CompressionLevel: 3,
			EnableWAL:        true,
			BlockGranularity: "1h",
			CacheCapacity:    1024,
			CacheTTL:         time.Minute,
		},
		Sample: SampleConfig{
			MaxBuckets:   100_000,
			DefaultFill:  "none",
			DefaultAlign: "calendar",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (if path is not empty) and the environment, in that order, and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to read environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
		EnableWAL:        c.Storage.EnableWAL,
		BlockGranularity: c.Storage.BlockGranularity,
		MaxBuckets:       c.Sample.MaxBuckets,
		DefaultFill:      c.Sample.DefaultFill,
		DefaultAlign:     c.Sample.DefaultAlign,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server listen address is required")
	}

	if c.Storage.Path == "" {
		return errors.New("storage path is required")
	}

	if c.Storage.RetentionDays < 1 {
		return errors.New("retention days must be at least 1")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return errors.New("compression level must be between 1 and 4")
	}

	if _, err := sampler.Parse(c.Storage.BlockGranularity); err != nil {
		return errors.Wrap(err, "invalid block granularity")
	}

	if c.Storage.CacheCapacity < 0 {
		return errors.New("cache capacity must not be negative")
	}

	if c.Sample.MaxBuckets < 0 {
		return errors.New("max buckets must not be negative")
	}

	if _, err := sampleby.ParseFill(c.Sample.DefaultFill); err != nil {
		return errors.Wrap(err, "invalid default fill")
	}

	if _, err := sampleby.ParseAlign(c.Sample.DefaultAlign); err != nil {
		return errors.Wrap(err, "invalid default align")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Newf("log format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if c.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
