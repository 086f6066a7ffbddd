package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "diffuse.yml"

// Defaults applied by Validate when a field is omitted.
const (
	DefaultWorkers        = 1
	DefaultBrokerImage    = "redis:7-alpine"
	DefaultBarrierTimeout = 5 * time.Minute
	DefaultKeyTTL         = 10 * time.Minute
)

// DiffuseConfig represents the top-level diffuse.yml configuration
type DiffuseConfig struct {
	Version string        `yaml:"version"`
	Engine  *EngineConfig `yaml:"engine,omitempty"`
	Broker  *BrokerConfig `yaml:"broker,omitempty"`
}

// EngineConfig controls how a run is split across workers
type EngineConfig struct {
	Workers *int `yaml:"workers,omitempty"` // Worker (rank) count for `diffuse run` (default 1)
	Threads *int `yaml:"threads,omitempty"` // Stencil goroutines per worker (default GOMAXPROCS)
}

// BrokerConfig controls the Redis broker used by distributed ranks
type BrokerConfig struct {
	Image          string `yaml:"image,omitempty"`           // Container image for `diffuse up`
	BarrierTimeout string `yaml:"barrier_timeout,omitempty"` // Go duration, e.g. "5m"
	KeyTTL         string `yaml:"key_ttl,omitempty"`         // Go duration, e.g. "10m"
}

// Default returns a configuration with every default applied.
func Default() *DiffuseConfig {
	cfg := &DiffuseConfig{Version: "1.0"}
	// Defaults always validate.
	_ = cfg.Validate()
	return cfg
}

// Validate performs strict validation on the configuration and fills in
// defaults for omitted fields
func (c *DiffuseConfig) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Engine == nil {
		c.Engine = &EngineConfig{}
	}
	if c.Engine.Workers == nil {
		workers := DefaultWorkers
		c.Engine.Workers = &workers
	}
	if c.Engine.Threads == nil {
		threads := runtime.GOMAXPROCS(0)
		c.Engine.Threads = &threads
	}
	if *c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be >= 1, got %d", *c.Engine.Workers)
	}
	if *c.Engine.Threads < 1 {
		return fmt.Errorf("engine.threads must be >= 1, got %d", *c.Engine.Threads)
	}

	if c.Broker == nil {
		c.Broker = &BrokerConfig{}
	}
	if c.Broker.Image == "" {
		c.Broker.Image = DefaultBrokerImage
	}
	if c.Broker.BarrierTimeout == "" {
		c.Broker.BarrierTimeout = DefaultBarrierTimeout.String()
	}
	if c.Broker.KeyTTL == "" {
		c.Broker.KeyTTL = DefaultKeyTTL.String()
	}
	barrier, err := positiveDuration("broker.barrier_timeout", c.Broker.BarrierTimeout)
	if err != nil {
		return err
	}
	ttl, err := positiveDuration("broker.key_ttl", c.Broker.KeyTTL)
	if err != nil {
		return err
	}
	if barrier >= ttl {
		return fmt.Errorf("broker.barrier_timeout (%s) must be shorter than broker.key_ttl (%s)", barrier, ttl)
	}

	return nil
}

// Workers returns the configured worker count.
func (c *DiffuseConfig) Workers() int {
	return *c.Engine.Workers
}

// Threads returns the configured stencil goroutines per worker.
func (c *DiffuseConfig) Threads() int {
	return *c.Engine.Threads
}

// BarrierTimeout returns how long a rank waits for its peers in one collective.
func (c *DiffuseConfig) BarrierTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Broker.BarrierTimeout)
	return d
}

// KeyTTL returns the expiry applied to run keys in Redis.
func (c *DiffuseConfig) KeyTTL() time.Duration {
	d, _ := time.ParseDuration(c.Broker.KeyTTL)
	return d
}

func positiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return d, nil
}

// Load reads and validates diffuse.yml from the specified path
func Load(path string) (*DiffuseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config DiffuseConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOptional loads path if it exists and returns the defaults otherwise.
// Any other read, parse or validation error is returned.
func LoadOptional(path string) (*DiffuseConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}
