// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

// Package secrets keeps API keys out of config files. Values written as
// keyring://service/key URIs are resolved from the OS keyring after the
// config is loaded.
package secrets

// Store abstracts secret storage so tests can substitute an in-memory
// implementation.
type Store interface {
	Store(service, key, value string) error
	Retrieve(service, key string) (string, error)
	Delete(service, key string) error
}
