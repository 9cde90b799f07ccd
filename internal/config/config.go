package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Primo    PrimoConfig    `yaml:"primo"`
	Keywords KeywordsConfig `yaml:"keywords"`
	Logging  LoggingConfig  `yaml:"logging"`

	trustedNets []net.IPNet
}

type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	BasePath        string        `yaml:"base_path"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	FrameAncestors  []string      `yaml:"frame_ancestors"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "sqlite" or "postgres"
	Path            string        `yaml:"path"`
	DSN             string        `yaml:"dsn"`
	MaxReadConns    int           `yaml:"max_read_conns"`
	RetentionDays   int           `yaml:"retention_days"` // 0 keeps measurements forever
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

type TrackerConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DelayMin        time.Duration `yaml:"delay_min"`
	DelayMax        time.Duration `yaml:"delay_max"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	ProxyURL        string        `yaml:"proxy_url"`
	AllowPrivate    bool          `yaml:"allow_private"`
}

// PrimoConfig describes how search requests are built. Params keep their
// configured order; a param without a value is taken from the target.
type PrimoConfig struct {
	Scheme     string  `yaml:"scheme"`
	Domain     string  `yaml:"domain"`
	HostSuffix string  `yaml:"host_suffix"`
	Params     []Param `yaml:"params"`
}

type Param struct {
	Key   string  `yaml:"key"`
	Value *string `yaml:"value"`
}

// FromTarget reports whether the param is left unset and must be filled
// from the target's own fields.
func (p Param) FromTarget() bool {
	return p.Value == nil || *p.Value == ""
}

type KeywordsConfig struct {
	File   string `yaml:"file"`
	Column string `yaml:"column"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func strPtr(s string) *string { return &s }

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:3001",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			MaxBodySize:     1 << 16,
			RateLimitPerSec: 10,
			RateLimitBurst:  20,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "primotiming.db",
			MaxReadConns:    4,
			RetentionPeriod: 6 * time.Hour,
		},
		Tracker: TrackerConfig{
			RequestTimeout: 30 * time.Second,
			DelayMin:       60 * time.Second,
			DelayMax:       720 * time.Second,
		},
		Primo: PrimoConfig{
			Scheme:     "https",
			Domain:     "primo.exlibrisgroup.com/primaws/rest/pub/pnxs",
			HostSuffix: "primo.exlibrisgroup.com",
			Params: []Param{
				{Key: "skipDelivery", Value: strPtr("Y")},
				{Key: "blendFacetsSeparately", Value: strPtr("false")},
				{Key: "inst"},
				{Key: "vid"},
				{Key: "scope"},
				{Key: "tab"},
			},
		},
		Keywords: KeywordsConfig{
			File:   "./data/primo_top_searches.csv",
			Column: "Search String",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefaults behaves like Load but falls back to Defaults when the file
// does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Defaults()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) finish() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	c.Server.BasePath = NormalizeBasePath(c.Server.BasePath)

	nets, err := parseTrustedProxies(c.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted_proxies: %w", err)
	}
	c.trustedNets = nets
	return nil
}

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateTracker(); err != nil {
		return err
	}
	if err := c.validatePrimo(); err != nil {
		return err
	}
	return validateLogLevel(c.Logging.Level)
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("server.max_body_size must be positive")
	}
	if c.Server.RateLimitPerSec <= 0 {
		return fmt.Errorf("server.rate_limit_per_sec must be positive")
	}
	if c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive")
	}
	if bp := c.Server.BasePath; bp != "" {
		if strings.Contains(bp, "..") || strings.Contains(bp, "?") || strings.Contains(bp, "#") || strings.Contains(bp, "\\") {
			return fmt.Errorf("server.base_path contains invalid characters")
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
		if c.Database.MaxReadConns <= 0 {
			return fmt.Errorf("database.max_read_conns must be positive")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be one of: sqlite, postgres")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	if c.Database.RetentionDays > 0 && c.Database.RetentionPeriod <= 0 {
		return fmt.Errorf("database.retention_period must be positive when retention is enabled")
	}
	return nil
}

func (c *Config) validateTracker() error {
	t := c.Tracker
	if t.RequestTimeout <= 0 {
		return fmt.Errorf("tracker.request_timeout must be positive")
	}
	if t.DelayMin < 0 {
		return fmt.Errorf("tracker.delay_min must not be negative")
	}
	if t.DelayMax < t.DelayMin {
		return fmt.Errorf("tracker.delay_max must be >= tracker.delay_min")
	}
	if t.DelayMin%time.Second != 0 || t.DelayMax%time.Second != 0 {
		return fmt.Errorf("tracker.delay_min and tracker.delay_max must be whole seconds")
	}
	if t.RateLimitPerSec < 0 {
		return fmt.Errorf("tracker.rate_limit_per_sec must not be negative")
	}
	if t.ProxyURL != "" {
		switch {
		case strings.HasPrefix(t.ProxyURL, "http://"),
			strings.HasPrefix(t.ProxyURL, "https://"),
			strings.HasPrefix(t.ProxyURL, "socks5://"):
		default:
			return fmt.Errorf("tracker.proxy_url must use http, https or socks5")
		}
	}
	return nil
}

func (c *Config) validatePrimo() error {
	if c.Primo.Scheme != "https" && c.Primo.Scheme != "http" {
		return fmt.Errorf("primo.scheme must be http or https")
	}
	if c.Primo.Domain == "" {
		return fmt.Errorf("primo.domain is required")
	}
	if c.Primo.HostSuffix == "" {
		return fmt.Errorf("primo.host_suffix is required")
	}
	seen := make(map[string]bool, len(c.Primo.Params))
	for i, p := range c.Primo.Params {
		if p.Key == "" {
			return fmt.Errorf("primo.params[%d].key is required", i)
		}
		if p.Key == "q" {
			return fmt.Errorf("primo.params[%d]: q is reserved for the search keyword", i)
		}
		if seen[p.Key] {
			return fmt.Errorf("primo.params[%d]: duplicate key %s", i, p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

func NormalizeBasePath(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return ""
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return strings.TrimRight(s, "/")
}

func (c *Config) TrustedNets() []net.IPNet {
	return c.trustedNets
}

func parseTrustedProxies(proxies []string) ([]net.IPNet, error) {
	var nets []net.IPNet
	for _, p := range proxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP: %s", p)
			}
			if ip.To4() != nil {
				p += "/32"
			} else {
				p += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR: %s", p)
		}
		nets = append(nets, *ipNet)
	}
	return nets, nil
}
