package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Player != "mpv" {
		t.Errorf("default player = %q, want mpv", cfg.Player)
	}
	if cfg.CacheCapacity != 50 {
		t.Errorf("default cache capacity = %d, want 50", cfg.CacheCapacity)
	}
	if cfg.CookieTTL != time.Hour {
		t.Errorf("default cookie ttl = %s, want 1h", cfg.CookieTTL)
	}
	if cfg.RateInterval != 2*time.Second {
		t.Errorf("default rate interval = %s, want 2s", cfg.RateInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
	if got := len(cfg.StrategyList()); got != 3 {
		t.Errorf("default strategies = %d, want 3", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"invalid player", func(c *Config) { c.Player = "notepad" }, true},
		{"invalid engine", func(c *Config) { c.Engine = "pytube" }, true},
		{"native engine", func(c *Config) { c.Engine = "native" }, false},
		{"invalid backend", func(c *Config) { c.CacheBackend = "memcached" }, true},
		{"redis without dsn", func(c *Config) { c.CacheBackend = "redis" }, true},
		{"redis with dsn", func(c *Config) { c.CacheBackend = "redis"; c.CacheDSN = "redis://localhost:6379/0" }, false},
		{"zero capacity", func(c *Config) { c.CacheCapacity = 0 }, true},
		{"zero cookie ttl", func(c *Config) { c.CookieTTL = 0 }, true},
		{"inverted jitter", func(c *Config) { c.JitterMin = 2 * time.Second }, true},
		{"negative ceiling", func(c *Config) { c.QualityCeiling = -1 }, true},
		{"no ceiling", func(c *Config) { c.QualityCeiling = 0 }, false},
		{"import source", func(c *Config) { c.CookieSource = "import:/tmp/jar.txt" }, false},
		{"empty import", func(c *Config) { c.CookieSource = "import:" }, true},
		{"unknown source", func(c *Config) { c.CookieSource = "chrome" }, true},
		{"zero preview", func(c *Config) { c.PlaylistPreview = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	dir := filepath.Join(tmpDir, "vidgrab")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromTOML(t *testing.T) {
	writeConfig(t, `
player = "vlc"
proxy = "http://127.0.0.1:3128"
cookie_ttl = "30m"
rate_interval = "5s"
cache_capacity = 10
cache_backend = "sqlite"
engine = "native"
quality_ceiling = 1080

[[strategy]]
name = "tv"
use_cookies = false
user_agent = "TV"
formats = ["{requested}", "best"]

[strategy.headers]
X-Client = "tv"
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Player != "vlc" {
		t.Errorf("player = %q, want vlc", cfg.Player)
	}
	if cfg.Proxy != "http://127.0.0.1:3128" {
		t.Errorf("proxy = %q", cfg.Proxy)
	}
	if cfg.CookieTTL != 30*time.Minute {
		t.Errorf("cookie_ttl = %s, want 30m", cfg.CookieTTL)
	}
	if cfg.RateInterval != 5*time.Second {
		t.Errorf("rate_interval = %s, want 5s", cfg.RateInterval)
	}
	if cfg.CacheCapacity != 10 || cfg.CacheBackend != "sqlite" {
		t.Errorf("cache = %d %q", cfg.CacheCapacity, cfg.CacheBackend)
	}
	if cfg.QualityCeiling != 1080 {
		t.Errorf("quality_ceiling = %d", cfg.QualityCeiling)
	}
	// Unset keys keep their defaults.
	if cfg.JitterMax != time.Second {
		t.Errorf("jitter_max = %s, want default 1s", cfg.JitterMax)
	}

	strategies := cfg.StrategyList()
	if len(strategies) != 1 {
		t.Fatalf("strategies = %d, want 1", len(strategies))
	}
	s := strategies[0]
	if s.Name != "tv" || s.UseCookies || s.UserAgent != "TV" || s.Headers["X-Client"] != "tv" {
		t.Errorf("strategy = %+v", s)
	}
	if len(s.Formats) != 2 {
		t.Errorf("formats = %v", s.Formats)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() should not error on missing file: %v", err)
	}
	if cfg.Player != "mpv" {
		t.Errorf("missing file should return defaults, got player = %q", cfg.Player)
	}
}

func TestLoadInvalid(t *testing.T) {
	writeConfig(t, `engine = "pytube"`)
	if _, err := Load(); err == nil {
		t.Error("expected validation error")
	}

	writeConfig(t, `player = [`)
	if _, err := Load(); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	writeConfig(t, `
proxy = "http://file-proxy:1"
cache_capacity = 10
`)
	t.Setenv("VIDGRAB_PROXY", "socks5://env-proxy:1080")
	t.Setenv("VIDGRAB_COOKIE_TTL", "15m")
	t.Setenv("VIDGRAB_RATE_INTERVAL", "500ms")
	t.Setenv("VIDGRAB_CACHE_CAPACITY", "99")
	t.Setenv("VIDGRAB_ENGINE", "native")
	t.Setenv("VIDGRAB_CACHE_DSN", "/tmp/vidgrab.db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Proxy != "socks5://env-proxy:1080" {
		t.Errorf("proxy = %q, env should win over file", cfg.Proxy)
	}
	if cfg.CookieTTL != 15*time.Minute || cfg.RateInterval != 500*time.Millisecond {
		t.Errorf("durations = %s, %s", cfg.CookieTTL, cfg.RateInterval)
	}
	if cfg.CacheCapacity != 99 || cfg.Engine != "native" || cfg.CacheDSN != "/tmp/vidgrab.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("VIDGRAB_COOKIE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestPaths(t *testing.T) {
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	cfg := Default()
	got, err := cfg.CookiePath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(data, "vidgrab", "cookies.txt"); got != want {
		t.Errorf("CookiePath() = %q, want %q", got, want)
	}

	got, err = cfg.CacheDSNOrDefault()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(data, "vidgrab", "metadata.db"); got != want {
		t.Errorf("CacheDSNOrDefault() = %q, want %q", got, want)
	}

	got, err = HistoryPath()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(data, "vidgrab", "history.tsv"); got != want {
		t.Errorf("HistoryPath() = %q, want %q", got, want)
	}

	cfg.CookieSource = "import:/tmp/exported.txt"
	if p, ok := cfg.ImportPath(); !ok || p != "/tmp/exported.txt" {
		t.Errorf("ImportPath() = %q, %v", p, ok)
	}
}

func TestExpandDownloadDir(t *testing.T) {
	cfg := Default()
	cfg.DownloadDir = "/tmp/test-downloads"

	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		t.Fatalf("ExpandDownloadDir() error: %v", err)
	}
	if dir != "/tmp/test-downloads" {
		t.Errorf("got %q, want /tmp/test-downloads", dir)
	}
}
