/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults (SetDefault below)
  2. Optional YAML file passed with -config
  3. Environment, prefixed POINTS_ with dots as underscores
     (POINTS_SERVER_PORT, POINTS_AUTH_JWT_SECRET, ...)
  4. Command-line flags, applied by cmd/server after Load

DURATIONS:
  Timeouts accept Go duration strings ("15s", "1m").

SEE ALSO:
  - cmd/server/main.go: flag overrides
  - config.example.yaml: every key with its default
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Points   PointsConfig   `mapstructure:"points"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type PointsConfig struct {
	DefaultQRPoints int64 `mapstructure:"default_qr_points"`
}

type LimitsConfig struct {
	// Enforcement is "soft" (ledger count only) or "hard" (counter slots in the commit).
	Enforcement string `mapstructure:"enforcement"`
	// DayBoundaryTimezone is an IANA name; "" or "Local" means server local time.
	DayBoundaryTimezone string `mapstructure:"day_boundary_timezone"`
	ScanPageSize        int    `mapstructure:"scan_page_size"`
}

type AuthConfig struct {
	// Mode is "jwt" (bearer tokens) or "header" (trusted X-User-ID, dev only).
	Mode      string `mapstructure:"mode"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type AuditConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	v.SetDefault("database.path", "points.db")

	v.SetDefault("points.default_qr_points", 10)

	v.SetDefault("limits.enforcement", "soft")
	v.SetDefault("limits.day_boundary_timezone", "Local")
	v.SetDefault("limits.scan_page_size", 100)

	v.SetDefault("auth.mode", "jwt")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.schedule", "@every 1h")
}

// Load reads configuration. configPath may be empty.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POINTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Limits.Enforcement {
	case "soft", "hard":
	default:
		return fmt.Errorf("limits.enforcement must be soft or hard, got %q", c.Limits.Enforcement)
	}
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode is jwt")
		}
	case "header":
	default:
		return fmt.Errorf("auth.mode must be jwt or header, got %q", c.Auth.Mode)
	}
	if c.Points.DefaultQRPoints <= 0 {
		return fmt.Errorf("points.default_qr_points must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the day-boundary timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Limits.DayBoundaryTimezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Limits.DayBoundaryTimezone)
	if err != nil {
		return nil, fmt.Errorf("limits.day_boundary_timezone: %w", err)
	}
	return loc, nil
}
