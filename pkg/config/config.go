// Package config loads the settings of bookfetch.
// Values are layered with viper: built-in defaults, then the TOML config
// file, then BOOKFETCH_* environment variables. Default directories follow
// the XDG base directory layout.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"bookfetch/pkg/archive"
)

const (
	appName = "bookfetch"
	// EnvPrefix prefixes environment overrides, e.g. BOOKFETCH_CACHE_DIR.
	EnvPrefix = "BOOKFETCH"

	FormatAuto = "auto"
)

// Config holds the resolved settings.
type Config struct {
	CacheDir        string        `mapstructure:"cache_dir"`
	GitHubAPI       string        `mapstructure:"github_api"`
	GitHubToken     string        `mapstructure:"github_token"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PreferredFormat string        `mapstructure:"preferred_format"`
	MaxPages        int           `mapstructure:"max_pages"`
	Concurrency     int           `mapstructure:"concurrency"`
	MaxExtractBytes int64         `mapstructure:"max_extract_bytes"`
}

// DefaultPath is the config file read when Load is given no path.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.toml")
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		CacheDir:        filepath.Join(xdg.CacheHome, appName),
		GitHubAPI:       "https://api.github.com",
		HTTPTimeout:     0,
		LockTimeout:     5 * time.Minute,
		PollInterval:    time.Second,
		PreferredFormat: FormatAuto,
		MaxPages:        10,
		Concurrency:     4,
		MaxExtractBytes: archive.DefaultMaxBytes,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("github_api", d.GitHubAPI)
	v.SetDefault("github_token", "")
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("lock_timeout", d.LockTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("preferred_format", d.PreferredFormat)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("max_extract_bytes", d.MaxExtractBytes)
}

// Load resolves the configuration. An empty path reads DefaultPath if it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github_token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	file := path
	if file == "" {
		file = DefaultPath()
	}
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
	} else if path != "" || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.CacheDir) == "" {
		errs = append(errs, errors.New("cache_dir must not be empty"))
	}
	if u, err := url.Parse(c.GitHubAPI); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("github_api must be an http(s) URL, got %q", c.GitHubAPI))
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, errors.New("http_timeout must not be negative"))
	}
	if c.LockTimeout < 0 {
		errs = append(errs, errors.New("lock_timeout must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if _, err := c.Format(); err != nil {
		errs = append(errs, err)
	}
	if c.MaxPages <= 0 {
		errs = append(errs, errors.New("max_pages must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if c.MaxExtractBytes == 0 {
		errs = append(errs, errors.New("max_extract_bytes must not be zero; use a negative value for no limit"))
	}
	return errors.Join(errs...)
}

// Format resolves PreferredFormat, mapping "auto" to the platform default.
func (c *Config) Format() (archive.Format, error) {
	if c.PreferredFormat == "" || strings.EqualFold(c.PreferredFormat, FormatAuto) {
		return archive.PreferredFormat(runtime.GOOS), nil
	}
	f, err := archive.ParseFormat(c.PreferredFormat)
	if err != nil {
		return archive.FormatUnknown, fmt.Errorf("preferred_format: %w", err)
	}
	return f, nil
}

// fileConfig is the on-disk shape written by Save. Durations are kept as
// strings so the file stays readable.
type fileConfig struct {
	CacheDir        string `toml:"cache_dir"`
	GitHubAPI       string `toml:"github_api"`
	HTTPTimeout     string `toml:"http_timeout"`
	LockTimeout     string `toml:"lock_timeout"`
	PollInterval    string `toml:"poll_interval"`
	PreferredFormat string `toml:"preferred_format"`
	MaxPages        int    `toml:"max_pages"`
	Concurrency     int    `toml:"concurrency"`
	MaxExtractBytes int64  `toml:"max_extract_bytes"`
}

// Marshal encodes c as TOML. The GitHub token is never included.
func Marshal(c *Config) ([]byte, error) {
	data, err := toml.Marshal(fileConfig{
		CacheDir:        c.CacheDir,
		GitHubAPI:       c.GitHubAPI,
		HTTPTimeout:     c.HTTPTimeout.String(),
		LockTimeout:     c.LockTimeout.String(),
		PollInterval:    c.PollInterval.String(),
		PreferredFormat: c.PreferredFormat,
		MaxPages:        c.MaxPages,
		Concurrency:     c.Concurrency,
		MaxExtractBytes: c.MaxExtractBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// Save writes c to path as TOML.
func Save(path string, c *Config) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
