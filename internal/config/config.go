package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"shroud/internal/support"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Verify    VerifyConfig    `yaml:"verify"`
	Filter    FilterConfig    `yaml:"filter"`
	Store     StoreConfig     `yaml:"store"`
	Relay     RelayConfig     `yaml:"relay"`
	Geo       GeoConfig       `yaml:"geo"`
	Intercept InterceptConfig `yaml:"intercept"`
	Admin     AdminConfig     `yaml:"admin"`
	Browser   BrowserConfig   `yaml:"browser"`
}

type ProxyConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type VerifyConfig struct {
	Attempts     int           `yaml:"attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Endpoint     string        `yaml:"endpoint"`
}

type FilterConfig struct {
	ExtraTrackerPatterns []string `yaml:"extra_tracker_patterns"`
	ExtraAdPatterns      []string `yaml:"extra_ad_patterns"`
	NetworkLogCapacity   int      `yaml:"network_log_capacity"`
}

type StoreConfig struct {
	// Driver is one of file, sqlite, postgres or redis.
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	SecretKey string `yaml:"-"`
}

type RelayConfig struct {
	// Driver is local or redis.
	Driver    string `yaml:"driver"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type GeoConfig struct {
	CityDBPath        string        `yaml:"city_db_path"`
	ReverseGeocodeURL string        `yaml:"reverse_geocode_url"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type InterceptConfig struct {
	Listen      string `yaml:"listen"`
	FirstParty  string `yaml:"first_party"`
	ActivityCap int    `yaml:"activity_capacity"`
	// Username enables Basic proxy authentication on the listener.
	Username string `yaml:"username"`
	Password string `yaml:"-"`
}

type AdminConfig struct {
	Listen string `yaml:"listen"`
}

type BrowserConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Headless bool   `yaml:"headless"`
	StartURL string `yaml:"start_url"`
}

var current atomic.Pointer[Config]

// GetConfig returns the process configuration, loading defaults on first use.
func GetConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	cfg := Default()
	current.CompareAndSwap(nil, cfg)
	return current.Load()
}

func SetConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	current.Store(cfg)
}

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment (a .env file in the working directory is honoured).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("config: failed to read .env", "error", err)
	}

	cfg := &Config{}
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.LogLevel = support.GetEnv("SHROUD_LOG_LEVEL", cfg.LogLevel)
	cfg.Verify.Endpoint = support.GetEnv("SHROUD_VERIFY_ENDPOINT", cfg.Verify.Endpoint)
	cfg.Verify.Attempts = support.GetEnvInt("SHROUD_VERIFY_ATTEMPTS", cfg.Verify.Attempts)
	cfg.Verify.RetryDelay = support.GetEnvDuration("SHROUD_VERIFY_RETRY_DELAY", cfg.Verify.RetryDelay)
	cfg.Store.Driver = support.GetEnv("SHROUD_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = support.GetEnv("SHROUD_STORE_PATH", cfg.Store.Path)
	cfg.Store.DSN = support.GetEnv("SHROUD_STORE_DSN", cfg.Store.DSN)
	cfg.Store.SecretKey = support.GetEnv("SHROUD_SECRET_KEY", cfg.Store.SecretKey)
	cfg.Relay.Driver = support.GetEnv("SHROUD_RELAY_DRIVER", cfg.Relay.Driver)
	cfg.Relay.RedisAddr = support.GetEnv("SHROUD_REDIS_ADDR", cfg.Relay.RedisAddr)
	cfg.Geo.CityDBPath = support.GetEnv("SHROUD_GEOIP_DB", cfg.Geo.CityDBPath)
	cfg.Intercept.Listen = support.GetEnv("SHROUD_LISTEN", cfg.Intercept.Listen)
	cfg.Intercept.Username = support.GetEnv("SHROUD_LISTEN_USER", cfg.Intercept.Username)
	cfg.Intercept.Password = support.GetEnv("SHROUD_LISTEN_PASSWORD", cfg.Intercept.Password)
	cfg.Admin.Listen = support.GetEnv("SHROUD_ADMIN_LISTEN", cfg.Admin.Listen)
	cfg.Browser.Enabled = support.GetEnvBool("SHROUD_BROWSER", cfg.Browser.Enabled)
	cfg.Browser.Headless = support.GetEnvBool("SHROUD_BROWSER_HEADLESS", cfg.Browser.Headless)
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Proxy.DialTimeout <= 0 {
		cfg.Proxy.DialTimeout = 10 * time.Second
	}

	if cfg.Verify.Attempts <= 0 {
		cfg.Verify.Attempts = 3
	}
	if cfg.Verify.RetryDelay <= 0 {
		cfg.Verify.RetryDelay = 1500 * time.Millisecond
	}
	if cfg.Verify.ProbeTimeout <= 0 {
		cfg.Verify.ProbeTimeout = 8 * time.Second
	}
	if cfg.Verify.Endpoint == "" {
		cfg.Verify.Endpoint = "https://api.myip.com"
	}

	if cfg.Filter.NetworkLogCapacity <= 0 {
		cfg.Filter.NetworkLogCapacity = 30
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "proxy-profiles.json"
	}

	if cfg.Relay.Driver == "" {
		cfg.Relay.Driver = "local"
	}
	if cfg.Relay.RedisAddr == "" {
		cfg.Relay.RedisAddr = "localhost:6379"
	}

	if cfg.Geo.ReverseGeocodeURL == "" {
		cfg.Geo.ReverseGeocodeURL = "https://nominatim.openstreetmap.org/reverse"
	}
	if cfg.Geo.CacheTTL <= 0 {
		cfg.Geo.CacheTTL = 10 * time.Minute
	}

	if cfg.Intercept.Listen == "" {
		cfg.Intercept.Listen = "127.0.0.1:8899"
	}
	if cfg.Intercept.ActivityCap <= 0 {
		cfg.Intercept.ActivityCap = 20
	}

	if cfg.Admin.Listen == "" {
		cfg.Admin.Listen = "127.0.0.1:8898"
	}

	if cfg.Browser.StartURL == "" {
		cfg.Browser.StartURL = "https://www.google.com"
	}
}

// Save writes the YAML representation of c to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
