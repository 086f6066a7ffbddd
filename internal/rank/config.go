// Package rank implements one worker process of a distributed run. Ranks
// find each other through a Redis broker; rank 0 loads the input, broadcasts
// it and writes the result.
package rank

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dyluth/diffuse/internal/config"
	"github.com/dyluth/diffuse/pkg/rendezvous"
)

// Config holds the rank's runtime configuration loaded from environment variables.
// Required fields are validated at startup so that a misconfigured rank exits
// before joining any collective.
type Config struct {
	// RunID is shared by every rank of one run (from DIFFUSE_RUN_ID)
	RunID string

	// Rank is this process's index in the group (from DIFFUSE_RANK)
	Rank int

	// WorldSize is the number of ranks in the group (from DIFFUSE_WORLD_SIZE)
	WorldSize int

	// RedisURL is the broker connection string (from REDIS_URL)
	RedisURL string

	// Threads is the number of stencil goroutines, 0 for GOMAXPROCS (from DIFFUSE_THREADS)
	Threads int

	// HealthPort enables the /healthz endpoint when positive (from DIFFUSE_HEALTH_PORT)
	HealthPort int

	// BarrierTimeout bounds each collective call (from DIFFUSE_BARRIER_TIMEOUT)
	BarrierTimeout time.Duration

	// KeyTTL is the expiry of run keys in Redis (from DIFFUSE_KEY_TTL)
	KeyTTL time.Duration
}

// LoadConfig reads and validates configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RunID:          os.Getenv("DIFFUSE_RUN_ID"),
		RedisURL:       os.Getenv("REDIS_URL"),
		BarrierTimeout: config.DefaultBarrierTimeout,
		KeyTTL:         rendezvous.DefaultKeyTTL,
	}

	var err error
	if cfg.Rank, err = envInt("DIFFUSE_RANK", -1); err != nil {
		return nil, err
	}
	if cfg.WorldSize, err = envInt("DIFFUSE_WORLD_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.Threads, err = envInt("DIFFUSE_THREADS", 0); err != nil {
		return nil, err
	}
	if cfg.HealthPort, err = envInt("DIFFUSE_HEALTH_PORT", 0); err != nil {
		return nil, err
	}
	if cfg.BarrierTimeout, err = envDuration("DIFFUSE_BARRIER_TIMEOUT", cfg.BarrierTimeout); err != nil {
		return nil, err
	}
	if cfg.KeyTTL, err = envDuration("DIFFUSE_KEY_TTL", cfg.KeyTTL); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	if c.RunID == "" {
		return fmt.Errorf("DIFFUSE_RUN_ID environment variable is required")
	}

	if c.WorldSize < 1 {
		return fmt.Errorf("DIFFUSE_WORLD_SIZE environment variable is required (must be >= 1)")
	}

	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("DIFFUSE_RANK must be in [0, %d), got %d", c.WorldSize, c.Rank)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}

	if c.Threads < 0 {
		return fmt.Errorf("DIFFUSE_THREADS must not be negative, got %d", c.Threads)
	}

	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("DIFFUSE_HEALTH_PORT must be a valid port, got %d", c.HealthPort)
	}

	if c.BarrierTimeout <= 0 {
		return fmt.Errorf("DIFFUSE_BARRIER_TIMEOUT must be positive, got %s", c.BarrierTimeout)
	}

	if c.KeyTTL <= 0 {
		return fmt.Errorf("DIFFUSE_KEY_TTL must be positive, got %s", c.KeyTTL)
	}

	// Arrival tokens expire with the key TTL; a longer wait could miss them.
	if c.BarrierTimeout >= c.KeyTTL {
		return fmt.Errorf("DIFFUSE_BARRIER_TIMEOUT (%s) must be shorter than DIFFUSE_KEY_TTL (%s)", c.BarrierTimeout, c.KeyTTL)
	}

	return nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s as integer: %w", name, err)
	}
	return n, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s as duration: %w", name, err)
	}
	return d, nil
}
