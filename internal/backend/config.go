// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package backend

import (
	"errors"
	"time"

	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

// Variant selects the backend implementation. The set is closed: backends
// are constructed by a switch over these values, never by dynamic loading.
type Variant string

const (
	VariantLocal    Variant = "local"
	VariantExternal Variant = "external"
)

// External sub-variants (which API the external backend speaks).
const (
	ExternalProviderOpenAI    = "openai"
	ExternalProviderAnthropic = "anthropic"
)

// Config holds one backend's configuration. Exactly the section matching
// Variant must be populated.
type Config struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Variant    Variant       `mapstructure:"variant"`

	Local    *LocalConfig    `mapstructure:"local"`
	External *ExternalConfig `mapstructure:"external"`
}

// LocalConfig configures the out-of-process model runner.
type LocalConfig struct {
	ModelName  string   `mapstructure:"model_name"`
	MaxResults int      `mapstructure:"max_results"`
	Command    []string `mapstructure:"command"`
}

// ExternalConfig configures an HTTP API backend.
type ExternalConfig struct {
	Provider    string  `mapstructure:"provider"` // openai (default) or anthropic
	APIURL      string  `mapstructure:"api_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// Validate checks the configuration shape. It collects all violations
// rather than stopping at the first one.
func (c *Config) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, Errf(KindConfiguration, "timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, Errf(KindConfiguration, "max_retries must be non-negative, got %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, Errf(KindConfiguration, "retry_delay must be non-negative, got %s", c.RetryDelay))
	}

	switch c.Variant {
	case VariantLocal:
		if c.Local == nil {
			errs = append(errs, NewError(KindConfiguration, "variant is local but local section is missing"))
		} else {
			if c.Local.ModelName == "" {
				errs = append(errs, NewError(KindConfiguration, "local.model_name must not be empty"))
			}
			if len(c.Local.Command) == 0 {
				errs = append(errs, NewError(KindConfiguration, "local.command must not be empty"))
			}
		}
		if c.External != nil {
			errs = append(errs, NewError(KindConfiguration, "variant is local but external section is populated"))
		}
	case VariantExternal:
		if c.External == nil {
			errs = append(errs, NewError(KindConfiguration, "variant is external but external section is missing"))
		} else {
			if c.External.APIKey == "" {
				errs = append(errs, NewError(KindConfiguration, "external.api_key must not be empty"))
			}
			if c.External.Model == "" {
				errs = append(errs, NewError(KindConfiguration, "external.model must not be empty"))
			}
			switch c.External.Provider {
			case "", ExternalProviderOpenAI, ExternalProviderAnthropic:
			default:
				errs = append(errs, Errf(KindConfiguration,
					"external.provider must be one of [openai, anthropic], got %q", c.External.Provider))
			}
		}
		if c.Local != nil {
			errs = append(errs, NewError(KindConfiguration, "variant is external but local section is populated"))
		}
	default:
		errs = append(errs, Errf(KindConfiguration, "variant must be one of [local, external], got %q", c.Variant))
	}

	if len(errs) > 0 {
		return clerr.Wrap(errors.Join(errs...), clerr.CodeBackendConfigInvalid, "invalid backend config")
	}
	return nil
}

// Policy derives the per-call retry policy from this config.
func (c *Config) Policy() Policy {
	return DefaultPolicy(c.MaxRetries, c.RetryDelay)
}
