// Package config loads server configuration from YAML, .env and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/and161185/basejwt/internal/cache"
	"github.com/and161185/basejwt/internal/logger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BASEJWT_"

// Config is the full server configuration.
type Config struct {
	Server struct {
		Addr        string `yaml:"addr"`
		MetricsAddr string `yaml:"metrics_addr"`
		TLSCert     string `yaml:"tls_cert"`
		TLSKey      string `yaml:"tls_key"`
		Dev         bool   `yaml:"dev"` // serve without TLS and enable reflection
	} `yaml:"server"`

	Storage struct {
		Driver string `yaml:"driver"` // "postgres" | "memory"
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Cache cache.Config `yaml:"cache"`

	JWT struct {
		Issuer     string        `yaml:"issuer"`
		SigningKey string        `yaml:"signing_key"`
		Pepper     string        `yaml:"pepper"` // HMAC key for refresh secret hashes
		AccessTTL  time.Duration `yaml:"access_ttl"`
		RefreshTTL time.Duration `yaml:"refresh_ttl"`
		Leeway     time.Duration `yaml:"leeway"`
	} `yaml:"jwt"`

	Lockout struct {
		Threshold int           `yaml:"threshold"`
		Duration  time.Duration `yaml:"duration"`
	} `yaml:"lockout"`

	Reset struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"reset"`

	Log logger.Config `yaml:"log"`
}

// MinSigningKeyLen is the shortest accepted HS256 key.
const MinSigningKeyLen = 32

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// Load reads an optional .env file, then the YAML at path (skipped when empty),
// applies defaults and BASEJWT_* overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	c.applyEnvOverrides()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 5 * time.Minute
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "basejwt"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "basejwt"
	}
	if c.JWT.AccessTTL == 0 {
		c.JWT.AccessTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTTL == 0 {
		c.JWT.RefreshTTL = 720 * time.Hour
	}
	if c.Lockout.Threshold == 0 {
		c.Lockout.Threshold = 5
	}
	if c.Lockout.Duration == 0 {
		c.Lockout.Duration = 15 * time.Minute
	}
	if c.Reset.TTL == 0 {
		c.Reset.TTL = time.Hour
	}
	if c.Log.Env == "" {
		c.Log.Env = "prod"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

func (c *Config) applyEnvOverrides() {
	// SERVER
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		c.Server.MetricsAddr = v
	}
	if v, ok := getEnvStr("TLS_CERT"); ok {
		c.Server.TLSCert = v
	}
	if v, ok := getEnvStr("TLS_KEY"); ok {
		c.Server.TLSKey = v
	}
	if v, ok := getEnvBool("DEV"); ok {
		c.Server.Dev = v
	}

	// STORAGE
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}

	// CACHE
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = strings.ToLower(v)
	}
	if v, ok := getEnvDur("CACHE_TTL"); ok {
		c.Cache.TTL = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Cache.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}

	// JWT
	if v, ok := getEnvStr("JWT_ISSUER"); ok {
		c.JWT.Issuer = v
	}
	if v, ok := getEnvStr("JWT_SIGNING_KEY"); ok {
		c.JWT.SigningKey = v
	}
	if v, ok := getEnvStr("TOKEN_PEPPER"); ok {
		c.JWT.Pepper = v
	}
	if v, ok := getEnvDur("ACCESS_TTL"); ok {
		c.JWT.AccessTTL = v
	}
	if v, ok := getEnvDur("REFRESH_TTL"); ok {
		c.JWT.RefreshTTL = v
	}

	// LOCKOUT / RESET
	if v, ok := getEnvInt("LOCKOUT_THRESHOLD"); ok {
		c.Lockout.Threshold = v
	}
	if v, ok := getEnvDur("LOCKOUT_DURATION"); ok {
		c.Lockout.Duration = v
	}
	if v, ok := getEnvDur("RESET_TTL"); ok {
		c.Reset.TTL = v
	}

	// LOG
	if v, ok := getEnvStr("LOG_ENV"); ok {
		c.Log.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := getEnvStr("LOG_FILE"); ok {
		c.Log.File = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case len(c.JWT.SigningKey) < MinSigningKeyLen:
		return fmt.Errorf("config: jwt.signing_key must be at least %d bytes", MinSigningKeyLen)
	case c.JWT.AccessTTL <= 0, c.JWT.RefreshTTL <= 0, c.Reset.TTL <= 0:
		return errors.New("config: token TTLs must be positive")
	case c.Lockout.Threshold < 1:
		return errors.New("config: lockout.threshold must be at least 1")
	case c.Lockout.Duration <= 0:
		return errors.New("config: lockout.duration must be positive")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("config: storage.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			return errors.New("config: cache.redis.addr is required for redis")
		}
	default:
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	if !c.Server.Dev && (c.Server.TLSCert == "" || c.Server.TLSKey == "") {
		return errors.New("config: server.tls_cert and server.tls_key are required unless server.dev is set")
	}
	return nil
}
