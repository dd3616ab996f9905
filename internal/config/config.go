// Package config handles TOML-based configuration loading and validation.
// Values are layered: defaults, then the config file, then VIDGRAB_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"vidgrab/internal/resolve"
)

// Config holds all application configuration.
type Config struct {
	Proxy        string        `toml:"proxy"`
	CookieFile   string        `toml:"cookie_file"`
	CookieTTL    time.Duration `toml:"cookie_ttl"`
	CookieSource string        `toml:"cookie_source"`
	CookieDomain string        `toml:"cookie_domain"`

	RateInterval time.Duration `toml:"rate_interval"`
	JitterMin    time.Duration `toml:"jitter_min"`
	JitterMax    time.Duration `toml:"jitter_max"`

	CacheCapacity int    `toml:"cache_capacity"`
	CacheBackend  string `toml:"cache_backend"`
	CacheDSN      string `toml:"cache_dsn"`

	Engine     string             `toml:"engine"`
	YtDlpPath  string             `toml:"ytdlp_path"`
	Strategies []resolve.Strategy `toml:"strategy"`

	PlaylistPreview   int           `toml:"playlist_preview"`
	QualityCeiling    int           `toml:"quality_ceiling"`
	DownloadDir       string        `toml:"download_dir"`
	Player            string        `toml:"player"`
	SubsLanguage      string        `toml:"subs_language"`
	Listen            string        `toml:"listen"`
	ProgressRetention time.Duration `toml:"progress_retention"`
	History           bool          `toml:"history"`
	Debug             bool          `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		CookieTTL:         time.Hour,
		CookieSource:      "http",
		CookieDomain:      "youtube.com",
		RateInterval:      2 * time.Second,
		JitterMin:         100 * time.Millisecond,
		JitterMax:         time.Second,
		CacheCapacity:     50,
		CacheBackend:      "none",
		Engine:            "ytdlp",
		YtDlpPath:         "yt-dlp",
		PlaylistPreview:   10,
		QualityCeiling:    720,
		DownloadDir:       "~/Videos/vidgrab",
		Player:            "mpv",
		Listen:            "127.0.0.1:8080",
		ProgressRetention: 10 * time.Minute,
		History:           true,
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vidgrab"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vidgrab"), nil
}

// dataDir returns the XDG-compliant data directory.
func dataDir() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "vidgrab"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "vidgrab"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file, merges it with defaults and applies
// environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("VIDGRAB_PROXY"); ok {
		c.Proxy = v
	}
	if v, ok := os.LookupEnv("VIDGRAB_ENGINE"); ok {
		c.Engine = v
	}
	if v, ok := os.LookupEnv("VIDGRAB_CACHE_DSN"); ok {
		c.CacheDSN = v
	}
	if v := os.Getenv("VIDGRAB_COOKIE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIDGRAB_COOKIE_TTL: %w", err)
		}
		c.CookieTTL = d
	}
	if v := os.Getenv("VIDGRAB_RATE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("VIDGRAB_RATE_INTERVAL: %w", err)
		}
		c.RateInterval = d
	}
	if v := os.Getenv("VIDGRAB_CACHE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VIDGRAB_CACHE_CAPACITY: %w", err)
		}
		c.CacheCapacity = n
	}
	return nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	validPlayers := map[string]bool{
		"mpv": true, "vlc": true, "iina": true, "celluloid": true,
	}
	if !validPlayers[strings.ToLower(c.Player)] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc, iina, celluloid)", c.Player)
	}

	switch strings.ToLower(c.Engine) {
	case "ytdlp", "native":
	default:
		return fmt.Errorf("unsupported engine %q (valid: ytdlp, native)", c.Engine)
	}

	switch strings.ToLower(c.CacheBackend) {
	case "", "none", "sqlite":
	case "redis":
		if c.CacheDSN == "" {
			return fmt.Errorf("cache_backend redis needs cache_dsn")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q (valid: none, sqlite, redis)", c.CacheBackend)
	}

	if c.CookieSource != "http" && !strings.HasPrefix(c.CookieSource, "import:") {
		return fmt.Errorf("unsupported cookie source %q (valid: http, import:<path>)", c.CookieSource)
	}
	if c.CookieSource == "import:" {
		return fmt.Errorf("cookie source import: needs a path")
	}

	if c.CookieTTL <= 0 {
		return fmt.Errorf("cookie_ttl must be positive, got %s", c.CookieTTL)
	}
	if c.RateInterval < 0 {
		return fmt.Errorf("rate_interval cannot be negative")
	}
	if c.JitterMin < 0 || c.JitterMax < c.JitterMin {
		return fmt.Errorf("jitter range %s..%s is invalid", c.JitterMin, c.JitterMax)
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1, got %d", c.CacheCapacity)
	}
	if c.PlaylistPreview < 1 {
		return fmt.Errorf("playlist_preview must be at least 1, got %d", c.PlaylistPreview)
	}
	if c.QualityCeiling < 0 {
		return fmt.Errorf("quality_ceiling cannot be negative")
	}
	if c.ProgressRetention <= 0 {
		return fmt.Errorf("progress_retention must be positive")
	}

	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy %d has no name", i+1)
		}
	}
	return nil
}

// StrategyList returns the configured strategies, or the built-in order.
func (c *Config) StrategyList() []resolve.Strategy {
	if len(c.Strategies) == 0 {
		return resolve.DefaultStrategies()
	}
	return c.Strategies
}

// ImportPath returns the jar path for an import: cookie source.
func (c *Config) ImportPath() (string, bool) {
	p, ok := strings.CutPrefix(c.CookieSource, "import:")
	if !ok {
		return "", false
	}
	return expandHome(p), true
}

// ExpandDownloadDir resolves ~ in the download directory path.
func (c *Config) ExpandDownloadDir() (string, error) {
	return filepath.Abs(expandHome(c.DownloadDir))
}

// CookiePath returns where the credential jar lives.
func (c *Config) CookiePath() (string, error) {
	if c.CookieFile != "" {
		return expandHome(c.CookieFile), nil
	}
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cookies.txt"), nil
}

// HistoryPath returns the path to the watch history file.
func HistoryPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.tsv"), nil
}

// CacheDSNOrDefault returns the cache DSN, defaulting the sqlite file into
// the data directory.
func (c *Config) CacheDSNOrDefault() (string, error) {
	if c.CacheDSN != "" {
		if strings.EqualFold(c.CacheBackend, "sqlite") {
			return expandHome(c.CacheDSN), nil
		}
		return c.CacheDSN, nil
	}
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "metadata.db"), nil
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
