// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"

	clerr "github.com/codelens-dev/codelens/pkg/errors"
)

// KeyringStore implements Store using the OS keyring via zalando/go-keyring.
// On macOS it uses Keychain, on Linux secret-service (D-Bus), and on Windows
// the Credential Manager.
type KeyringStore struct{}

// Compile-time interface check.
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := validateRef(service, key); err != nil {
		return err
	}

	if err := keyring.Set(service, key, value); err != nil {
		return clerr.Wrapf(err, clerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := validateRef(service, key); err != nil {
		return "", err
	}

	val, err := keyring.Get(service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", clerr.Errorf(clerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return "", clerr.Wrapf(err, clerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := validateRef(service, key); err != nil {
		return err
	}

	if err := keyring.Delete(service, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return clerr.Errorf(clerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
		}
		return clerr.Wrapf(err, clerr.CodeSecretStoreFailure, "deleting secret %s/%s", service, key)
	}
	return nil
}

func validateRef(service, key string) error {
	if service == "" {
		return clerr.New(clerr.CodeSecretInvalidInput, "secret: service must not be empty")
	}
	if key == "" {
		return clerr.New(clerr.CodeSecretInvalidInput, "secret: key must not be empty")
	}
	return nil
}
