// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package config

import (
	"log/slog"

	"github.com/codelens-dev/codelens/internal/secrets"
)

// ResolveSecrets replaces keyring:// references in the loaded config with
// their secret values. The only fields that may reference the keyring are
// the external backends' API keys; everything else is left untouched.
//
// Resolution failures are logged as warnings and the URI is kept in
// place, so the failure surfaces when the backend first authenticates.
func (c *Config) ResolveSecrets(store secrets.Store) {
	for name, bc := range c.Backends {
		if bc.External == nil || !secrets.IsKeyringURI(bc.External.APIKey) {
			continue
		}

		resolved, err := secrets.ResolveKeyringURI(store, bc.External.APIKey)
		if err != nil {
			slog.Warn("failed to resolve backend API key from keyring, keeping reference",
				"backend", name, "error", err)
			continue
		}
		bc.External.APIKey = resolved
	}
}
