package tokenbucket

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPolicy is the policy name reported for keys that fall back to
// RegistryConfig.Defaults.
const DefaultPolicy = "default"

// Config holds the parameters of a single bucket.
type Config struct {
	// Rate is the number of tokens granted per second of sustained throughput
	Rate uint64 `yaml:"rate"`

	// Burst is the maximum number of tokens granted at once after an idle period
	Burst uint64 `yaml:"burst"`

	// Enabled allows switching a policy off without deleting it.
	// Nil means enabled.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Validate checks that the config describes a usable bucket.
func (c Config) Validate() error {
	_, _, err := derive(c.Rate, c.Burst)
	return err
}

// IsEnabled reports whether rate limiting applies under this config.
func (c Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// NewBucket creates a bucket from the config.
func (c Config) NewBucket(opts ...Option) (*Bucket, error) {
	return New(c.Rate, c.Burst, opts...)
}

// RegistryConfig holds the configuration of a Registry: a default bucket
// config plus named policy overrides.
//
// Example YAML:
//
//	defaults:
//	  rate: 10
//	  burst: 100
//	policies:
//	  login:
//	    rate: 1
//	    burst: 5
//	  health:
//	    rate: 1
//	    burst: 1
//	    enabled: false
//	cleanup_interval: 10m
type RegistryConfig struct {
	// Defaults apply to every policy not listed in Policies
	Defaults Config `yaml:"defaults"`

	// Policies maps a policy name (a route, a tenant tier, ...) to its config
	Policies map[string]Config `yaml:"policies,omitempty"`

	// CleanupInterval is how often StartBackgroundCleanup evicts rested buckets.
	// Zero disables background cleanup.
	CleanupInterval Duration `yaml:"cleanup_interval,omitempty"`
}

// NewRegistryConfig creates a RegistryConfig with sensible defaults.
func NewRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		Defaults: Config{
			Rate:  10,
			Burst: 100,
		},
		Policies:        make(map[string]Config),
		CleanupInterval: Duration(10 * time.Minute),
	}
}

// ParseConfig decodes a YAML registry configuration. Fields missing from the
// document keep the values of NewRegistryConfig; unknown fields are rejected.
func ParseConfig(data []byte) (*RegistryConfig, error) {
	config := NewRegistryConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}
	if config.Policies == nil {
		config.Policies = make(map[string]Config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFromFile loads a YAML registry configuration from path.
func LoadConfigFromFile(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(data)
}

// Validate checks the defaults and every policy.
func (c *RegistryConfig) Validate() error {
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("invalid defaults: %w", err)
	}
	for name, policy := range c.Policies {
		if err := checkPolicyName(name); err != nil {
			return err
		}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("invalid policy %q: %w", name, err)
		}
	}
	if c.CleanupInterval < 0 {
		return fmt.Errorf("%w: cleanup interval cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// PolicyFor returns the config for the named policy and the name it resolved
// to. Unknown or empty names resolve to the defaults under DefaultPolicy.
func (c *RegistryConfig) PolicyFor(name string) (Config, string) {
	if policy, ok := c.Policies[name]; ok {
		return policy, name
	}
	return c.Defaults, DefaultPolicy
}

// SetPolicy validates and stores a named policy.
func (c *RegistryConfig) SetPolicy(name string, policy Config) error {
	if err := checkPolicyName(name); err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	if c.Policies == nil {
		c.Policies = make(map[string]Config)
	}
	c.Policies[name] = policy
	return nil
}

func checkPolicyName(name string) error {
	switch name {
	case "":
		return fmt.Errorf("%w: policy name cannot be empty", ErrInvalidConfig)
	case DefaultPolicy:
		return fmt.Errorf("%w: policy name %q is reserved for the defaults", ErrInvalidConfig, DefaultPolicy)
	}
	return nil
}

// Duration is a time.Duration written in YAML as a string such as "1h" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
