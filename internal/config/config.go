package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// AppName names the config and cache directories
	AppName = "cmdcache"

	// EnvCacheDir overrides the cache folder
	EnvCacheDir = "CMDCACHE_DIR"

	DefaultTTL         = "60s"
	DefaultLockTimeout = "10s"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	TTL           string `yaml:"ttl"` // duration ("90s", "1h") or bare seconds ("3600")
	Folder        string `yaml:"folder"`
	CacheFailures bool   `yaml:"cache_failures"`
	LockTimeout   string `yaml:"lock_timeout"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			TTL:         DefaultTTL,
			Folder:      DefaultFolder(),
			LockTimeout: DefaultLockTimeout,
		},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Set defaults for keys the file left empty
	if config.Cache.TTL == "" {
		config.Cache.TTL = DefaultTTL
	}
	if config.Cache.Folder == "" {
		config.Cache.Folder = DefaultFolder()
	}
	if config.Cache.LockTimeout == "" {
		config.Cache.LockTimeout = DefaultLockTimeout
	}

	return config, nil
}

// LoadOptional behaves like Load but returns the defaults when path does not exist
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// DefaultPath returns the config file looked up when none is given
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, AppName, "config.yaml")
}

// DefaultFolder returns the cache namespace directory
func DefaultFolder() string {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, AppName)
}

// ParseTTL accepts a Go duration or a whole number of seconds
func ParseTTL(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: empty duration", ErrInvalidConfig)
	}

	var ttl time.Duration
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > int64(1<<63-1)/int64(time.Second) {
			return 0, fmt.Errorf("%w: duration %q out of range", ErrInvalidConfig, value)
		}
		ttl = time.Duration(seconds) * time.Second
	} else {
		ttl, err = time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	if ttl < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", ErrInvalidConfig, value)
	}
	return ttl, nil
}

// GetCacheTTL parses and returns the cache TTL duration
func (c *Config) GetCacheTTL() (time.Duration, error) {
	return ParseTTL(c.Cache.TTL)
}

// GetLockTimeout parses and returns how long to wait for a key lock.
// Zero means a single attempt without waiting.
func (c *Config) GetLockTimeout() (time.Duration, error) {
	return ParseTTL(c.Cache.LockTimeout)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.TTL == "" {
		return fmt.Errorf("%w: cache TTL is required", ErrInvalidConfig)
	}

	if _, err := c.GetCacheTTL(); err != nil {
		return fmt.Errorf("invalid cache TTL format: %w", err)
	}

	if c.Cache.Folder == "" {
		return fmt.Errorf("%w: cache folder is required", ErrInvalidConfig)
	}

	if _, err := c.GetLockTimeout(); err != nil {
		return fmt.Errorf("invalid lock timeout format: %w", err)
	}

	return nil
}
