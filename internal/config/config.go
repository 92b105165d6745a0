package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	SourceHTTP = "http"
	SourceS3   = "s3"

	StoreFile  = "file"
	StoreRedis = "redis"

	EnvPrefix = "MANIFESTSYNC_"

	defaultListen           = "127.0.0.1:8787"
	defaultServerURL        = "http://localhost:3000/api"
	defaultRequestTimeout   = 10 * time.Second
	defaultBucket           = "game-assets"
	defaultStorePath        = "config.json"
	defaultWorkers          = 1
	defaultProgressInterval = time.Second
	defaultEnvFileName      = ".env"
)

type ServerConfig struct {
	URL      string        `yaml:"url"`
	GameName string        `yaml:"game"`
	Timeout  time.Duration `yaml:"timeout"`
}

type S3Config struct {
	URL    string `yaml:"url"` // s3+http://host:port or s3+https://host
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`

	AccessKeyID     string `yaml:"-"`
	SecretAccessKey string `yaml:"-"`
}

type StoreConfig struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

type SyncConfig struct {
	InstallDir       string        `yaml:"install_dir"`
	Workers          int           `yaml:"workers"`
	MaxTransferRate  uint64        `yaml:"max_transfer_rate"` // bytes/sec, 0 means unlimited
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

type Config struct {
	Listen   string       `yaml:"listen"`
	LogLevel string       `yaml:"log_level"`
	Source   string       `yaml:"source"`
	EnvFile  string       `yaml:"env_file"`
	Server   ServerConfig `yaml:"server"`
	S3       S3Config     `yaml:"s3"`
	Store    StoreConfig  `yaml:"store"`
	Sync     SyncConfig   `yaml:"sync"`
}

func (c *Config) SetDefaults() {
	c.Listen = defaultListen
	c.LogLevel = LogLevelInfo
	c.Source = SourceHTTP
	c.EnvFile = defaultEnvFileName
	c.Server.URL = defaultServerURL
	c.Server.Timeout = defaultRequestTimeout
	c.S3.Bucket = defaultBucket
	c.Store.Type = StoreFile
	c.Store.Path = defaultStorePath
	c.Sync.Workers = defaultWorkers
	c.Sync.ProgressInterval = defaultProgressInterval
}

func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("unknown log level: %s", c.LogLevel)
	}

	switch c.Source {
	case SourceHTTP:
		if c.Server.URL == "" {
			return fmt.Errorf("server url is required")
		}
	case SourceS3:
		if c.S3.URL == "" || c.S3.Bucket == "" {
			return fmt.Errorf("s3 url and bucket are required")
		}
	default:
		return fmt.Errorf("unknown content source: %s", c.Source)
	}

	switch c.Store.Type {
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store redis_url is required")
		}
	default:
		return fmt.Errorf("unknown store type: %s", c.Store.Type)
	}

	if c.Server.GameName == "" {
		return fmt.Errorf("server game is required")
	}

	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync workers must be positive")
	}

	if c.Sync.ProgressInterval <= 0 {
		return fmt.Errorf("sync progress_interval must be positive")
	}

	return nil
}

/*
Load reads the yaml config, then the optional env file next to it, then the process
environment. Later sources win.
*/
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	envFile := cfg.EnvFile
	if envFile != "" && !filepath.IsAbs(envFile) {
		envFile = filepath.Join(filepath.Dir(path), envFile)
	}

	if envFile != "" {
		// Missing env file is fine, godotenv never overrides variables that are already set.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot load env file %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str(EnvPrefix+"LISTEN", &c.Listen)
	str(EnvPrefix+"LOG_LEVEL", &c.LogLevel)
	str(EnvPrefix+"SOURCE", &c.Source)
	str(EnvPrefix+"SERVER_URL", &c.Server.URL)
	str(EnvPrefix+"GAME", &c.Server.GameName)
	str(EnvPrefix+"S3_URL", &c.S3.URL)
	str(EnvPrefix+"S3_BUCKET", &c.S3.Bucket)
	str(EnvPrefix+"STORE_PATH", &c.Store.Path)
	str(EnvPrefix+"REDIS_URL", &c.Store.RedisURL)
	str(EnvPrefix+"INSTALL_DIR", &c.Sync.InstallDir)
	str("AWS_ACCESS_KEY_ID", &c.S3.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &c.S3.SecretAccessKey)

	if v, ok := lookup(EnvPrefix + "MAX_TRANSFER_RATE"); ok && v != "" {
		rate, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("cannot parse %sMAX_TRANSFER_RATE: %w", EnvPrefix, err)
		}
		c.Sync.MaxTransferRate = rate
	}

	if v, ok := lookup(EnvPrefix + "WORKERS"); ok && v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("cannot parse %sWORKERS: %w", EnvPrefix, err)
		}
		c.Sync.Workers = workers
	}

	return nil
}
