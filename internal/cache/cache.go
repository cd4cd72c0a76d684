// Package cache holds short-lived derived data such as resolved role privilege sets.
//
// Two backends are available: an in-process go-cache store and Redis for
// deployments that run several server replicas.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Client is a byte-oriented key/value cache.
type Client interface {
	// Get returns the stored value or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl; zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Config selects and configures a backend.
type Config struct {
	Kind  string        `yaml:"kind"` // "memory" | "redis"
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis"`
}

// New builds a Client for cfg.Kind.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		return NewRedis(ctx, cfg.Redis, cfg.TTL)
	default:
		return nil, fmt.Errorf("cache: unknown kind %q", cfg.Kind)
	}
}
