// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/manager"
	"github.com/codelens-dev/codelens/internal/store"
	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

// Config is the top-level Codelens configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Strategy  string                    `mapstructure:"strategy"`
	Primary   string                    `mapstructure:"primary"`
	Fallbacks []string                  `mapstructure:"fallbacks"`
	Backends  map[string]backend.Config `mapstructure:"backends"`
	Health    HealthConfig              `mapstructure:"health"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

// ServerConfig controls how the HTTP API listens for connections.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// HealthConfig controls the probe loop and the failure threshold.
type HealthConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	Timeout                time.Duration `mapstructure:"timeout"`
	MaxConsecutiveFailures uint64        `mapstructure:"max_consecutive_failures"`
}

// MetricsConfig controls the in-memory collector and optional persistence.
type MetricsConfig struct {
	Capacity  int           `mapstructure:"capacity"`
	Retention time.Duration `mapstructure:"retention"`
	Store     store.Config  `mapstructure:"store"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix CODELENS_).
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, clerr.Wrapf(err, clerr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	return FromViper(v)
}

// SetDefaults installs the built-in defaults on a viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18920")
	v.SetDefault("strategy", string(manager.StrategyPrimaryFallback))
	v.SetDefault("health.interval", "60s")
	v.SetDefault("health.timeout", "10s")
	v.SetDefault("health.max_consecutive_failures", 3)
	v.SetDefault("metrics.capacity", 10000)
	v.SetDefault("metrics.retention", "24h")
	v.SetDefault("metrics.store.backend", "none")
}

// SetupEnv wires environment variable overrides (CODELENS_SERVER_LISTEN,
// CODELENS_STRATEGY, ...).
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("CODELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// FromViper unmarshals and validates a fully-populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, clerr.Wrap(err, clerr.CodeConfigParseInvalidFormat, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, clerr.Wrap(errors.Join(errs...), clerr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns every
// validation error found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateBackends()...)
	errs = append(errs, c.validateHealth()...)
	errs = append(errs, c.validateMetrics()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, clerr.New(clerr.CodeConfigValidateInvalidValue,
			"config: server.listen must not be empty"))
		return errs
	}

	host, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %v",
			c.Server.Listen, err))
		return errs
	}
	if host == "" {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: server.listen must include a host, got %q", c.Server.Listen))
	}
	if port, err := strconv.Atoi(portStr); err != nil || port < 1 || port > 65535 {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be 1-65535, got %q", portStr))
	}

	return errs
}

func (c *Config) validateRouting() []error {
	var errs []error

	switch manager.Strategy(c.Strategy) {
	case manager.StrategyPrimaryFallback, manager.StrategyFastestFirst, manager.StrategyRoundRobin:
	default:
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: strategy must be one of [primary-fallback, fastest-first, round-robin], got %q",
			c.Strategy))
	}

	if c.Primary == "" {
		errs = append(errs, clerr.New(clerr.CodeConfigValidateInvalidValue,
			"config: primary backend must be set"))
	} else if _, ok := c.Backends[c.Primary]; !ok {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: primary backend %q is not defined under backends", c.Primary))
	}

	seen := map[string]bool{c.Primary: true}
	for _, name := range c.Fallbacks {
		if seen[name] {
			errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
				"config: backend %q listed more than once in routing order", name))
			continue
		}
		seen[name] = true
		if _, ok := c.Backends[name]; !ok {
			errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
				"config: fallback backend %q is not defined under backends", name))
		}
	}

	return errs
}

func (c *Config) validateBackends() []error {
	var errs []error

	if len(c.Backends) == 0 {
		errs = append(errs, clerr.New(clerr.CodeConfigValidateInvalidValue,
			"config: at least one backend must be defined"))
		return errs
	}

	for name, bc := range c.Backends {
		if err := bc.Validate(); err != nil {
			errs = append(errs, clerr.Wrapf(err, clerr.CodeConfigValidateInvalidValue,
				"config: backend %q", name))
		}
	}

	return errs
}

func (c *Config) validateHealth() []error {
	var errs []error

	if c.Health.Interval <= 0 {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: health.interval must be positive, got %s", c.Health.Interval))
	}
	if c.Health.Timeout <= 0 {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: health.timeout must be positive, got %s", c.Health.Timeout))
	}
	if c.Health.MaxConsecutiveFailures == 0 {
		errs = append(errs, clerr.New(clerr.CodeConfigValidateInvalidValue,
			"config: health.max_consecutive_failures must be at least 1"))
	}

	return errs
}

func (c *Config) validateMetrics() []error {
	var errs []error

	if c.Metrics.Capacity <= 0 {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: metrics.capacity must be positive, got %d", c.Metrics.Capacity))
	}
	if c.Metrics.Retention <= 0 {
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: metrics.retention must be positive, got %s", c.Metrics.Retention))
	}

	switch c.Metrics.Store.Backend {
	case "", "none":
	case "sqlite":
		if c.Metrics.Store.Path == "" {
			errs = append(errs, clerr.New(clerr.CodeConfigValidateInvalidValue,
				"config: metrics.store.path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, clerr.Errorf(clerr.CodeConfigValidateInvalidValue,
			"config: metrics.store.backend must be one of [none, sqlite], got %q",
			c.Metrics.Store.Backend))
	}

	return errs
}

// RoutingOrder returns the backend names in routing order: primary first,
// then fallbacks.
func (c *Config) RoutingOrder() []string {
	order := make([]string, 0, 1+len(c.Fallbacks))
	order = append(order, c.Primary)
	order = append(order, c.Fallbacks...)
	return order
}
