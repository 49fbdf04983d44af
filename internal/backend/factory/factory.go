// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

// Package factory constructs backends from validated configuration.
// Variants form a closed sum type dispatched by a switch; there is no
// reflection or dynamic loading.
package factory

import (
	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/backend/anthropic"
	"github.com/codelens-dev/codelens/internal/backend/local"
	"github.com/codelens-dev/codelens/internal/backend/openai"
)

// New validates the configuration shape and constructs the matching
// backend variant.
func New(name string, cfg backend.Config) (backend.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Variant {
	case backend.VariantLocal:
		return local.New(name, cfg)
	case backend.VariantExternal:
		switch cfg.External.Provider {
		case backend.ExternalProviderAnthropic:
			return anthropic.New(name, cfg)
		default:
			return openai.New(name, cfg)
		}
	default:
		return nil, backend.Errf(backend.KindConfiguration, "unknown backend variant %q", cfg.Variant)
	}
}
